// Package main provides a CI-friendly smoke test for a running voir server.
//
// It validates:
//   - registration (an existing principal is fine) and login
//   - the session event feed handshake + hello/ack
//   - refresh rotation, observed as session.rotated on the feed
//   - refresh token reuse: 401 over HTTP, session.reuse_detected on the feed,
//     then the feed closing with 4001
//   - logout clearing the session
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const (
	subprotocol        = "voir.session.v1"
	statusSessionEnd   = websocket.StatusCode(4001)
	maxReadBytes       = 1 << 20
	typeHello          = "hello"
	typeHelloAck       = "hello.ack"
	typeSessionEvent   = "session.event"
	typeError          = "error"
	eventRotated       = "session.rotated"
	eventReuseDetect   = "session.reuse_detected"
	protocolVersion    = 1
	defaultSmokeHandle = "smoke"
)

type envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type sessionEvent struct {
	Type        string `json:"type"`
	PrincipalID string `json:"principalId"`
}

type sessionBody struct {
	Principal struct {
		ID     string `json:"id"`
		Handle string `json:"handle"`
	} `json:"principal"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type smoke struct {
	base    *url.URL
	origin  string
	timeout time.Duration
	verbose bool
	client  *http.Client
}

func main() {
	var (
		baseURL  = flag.String("url", "http://127.0.0.1:8080", "Server base URL")
		origin   = flag.String("origin", "", "Origin header for the feed handshake (default: the -url origin)")
		handle   = flag.String("handle", defaultSmokeHandle, "Principal handle to register/login")
		password = flag.String("password", "smoke-password-1", "Principal password")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	base, err := url.Parse(strings.TrimRight(*baseURL, "/"))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		fatalf("invalid -url %q", *baseURL)
	}

	feedOrigin := strings.TrimSpace(*origin)
	if feedOrigin == "" {
		feedOrigin = base.Scheme + "://" + base.Host
	}

	s := &smoke{
		base:    base,
		origin:  feedOrigin,
		timeout: *timeout,
		verbose: *verbose,
		client:  &http.Client{Timeout: *timeout},
	}
	root := context.Background()

	s.mustRegister(root, *handle, *password)
	first := s.mustLogin(root, *handle, *password)
	s.logf("login: principal=%s", first.Principal.ID)

	feed := s.mustConnect(root, first.AccessToken)
	defer func() { _ = feed.Close(websocket.StatusNormalClosure, "bye") }()

	status, second := s.refresh(root, first.RefreshToken)
	if status != http.StatusOK {
		fatalf("refresh: status=%d", status)
	}
	if second.RefreshToken == first.RefreshToken {
		fatalf("refresh: token was not rotated")
	}
	s.mustReadEvent(root, feed, eventRotated)
	s.logf("refresh: rotated")

	if status, _ := s.refresh(root, first.RefreshToken); status != http.StatusUnauthorized {
		fatalf("reuse: status=%d want 401", status)
	}
	s.mustReadEvent(root, feed, eventReuseDetect)
	s.mustReadClose(root, feed, statusSessionEnd)
	s.logf("reuse: detected, feed closed")

	third := s.mustLogin(root, *handle, *password)
	if code := s.do(root, http.MethodDelete, "/session", nil, third.AccessToken, nil); code != http.StatusOK {
		fatalf("logout: status=%d", code)
	}
	if status, _ := s.refresh(root, third.RefreshToken); status != http.StatusUnauthorized {
		fatalf("refresh after logout: status=%d want 401", status)
	}

	fmt.Printf("OK: principal=%s handle=%s\n", first.Principal.ID, first.Principal.Handle)
}

func (s *smoke) mustRegister(ctx context.Context, handle, password string) {
	body := map[string]string{
		"handle":   handle,
		"email":    handle + "@smoke.invalid",
		"password": password,
	}
	switch code := s.do(ctx, http.MethodPost, "/principals", body, "", nil); code {
	case http.StatusCreated:
		s.logf("register: created %s", handle)
	case http.StatusConflict:
		s.logf("register: %s exists", handle)
	case http.StatusForbidden:
		s.logf("register: disabled, assuming %s exists", handle)
	default:
		fatalf("register: status=%d", code)
	}
}

func (s *smoke) mustLogin(ctx context.Context, identifier, password string) sessionBody {
	var out sessionBody
	body := map[string]string{"identifier": identifier, "password": password}
	if code := s.do(ctx, http.MethodPost, "/session", body, "", &out); code != http.StatusOK {
		fatalf("login: status=%d", code)
	}
	if out.AccessToken == "" || out.RefreshToken == "" {
		fatalf("login: empty tokens")
	}
	return out
}

func (s *smoke) refresh(ctx context.Context, tok string) (int, sessionBody) {
	var out sessionBody
	code := s.do(ctx, http.MethodPost, "/session/refresh", map[string]string{"refreshToken": tok}, "", &out)
	return code, out
}

// do sends a JSON request and decodes a 2xx body into out (when non-nil).
func (s *smoke) do(parent context.Context, method, path string, body any, bearer string, out any) int {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.base.String()+path, rd)
	if err != nil {
		fatalf("request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if err != nil {
		fatalf("%s %s: read body: %v", method, path, err)
	}
	s.logf("%s %s -> %d %s", method, path, resp.StatusCode, bytes.TrimSpace(raw))

	if out != nil && resp.StatusCode/100 == 2 {
		if err := json.Unmarshal(raw, out); err != nil {
			fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (s *smoke) mustConnect(parent context.Context, accessToken string) *websocket.Conn {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	u := *s.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = "/session/events"

	h := http.Header{}
	h.Set("Authorization", "Bearer "+accessToken)
	if s.origin != "" {
		h.Set("Origin", s.origin)
	}

	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("feed connect: %v", err)
	}
	if got := conn.Subprotocol(); got != subprotocol {
		fatalf("subprotocol mismatch: got=%q want=%q", got, subprotocol)
	}
	conn.SetReadLimit(maxReadBytes)

	hello, err := json.Marshal(envelope{V: protocolVersion, Type: typeHello, ID: "smoke-hello", TS: time.Now().UTC()})
	if err != nil {
		fatalf("marshal hello: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, hello); err != nil {
		fatalf("write hello: %v", err)
	}
	if env := s.mustRead(parent, conn); env.Type != typeHelloAck {
		fatalf("feed: got %q want %q", env.Type, typeHelloAck)
	}
	return conn
}

func (s *smoke) mustRead(parent context.Context, conn *websocket.Conn) envelope {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		fatalf("feed read: %v", err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		fatalf("feed: bad json: %v", err)
	}
	if env.Type == typeError {
		fatalf("feed: server error: %s", env.Payload)
	}
	return env
}

func (s *smoke) mustReadEvent(ctx context.Context, conn *websocket.Conn, want string) {
	env := s.mustRead(ctx, conn)
	if env.Type != typeSessionEvent {
		fatalf("feed: got %q want %q", env.Type, typeSessionEvent)
	}
	var ev sessionEvent
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		fatalf("feed: bad event payload: %v", err)
	}
	if ev.Type != want {
		fatalf("feed: event %q want %q", ev.Type, want)
	}
}

func (s *smoke) mustReadClose(parent context.Context, conn *websocket.Conn, want websocket.StatusCode) {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	_, _, err := conn.Read(ctx)
	if err == nil {
		fatalf("feed: expected close, got a frame")
	}
	if got := websocket.CloseStatus(err); got != want {
		if errors.Is(err, context.DeadlineExceeded) {
			fatalf("feed: timeout waiting for close %d", want)
		}
		fatalf("feed: close status=%d want %d (%v)", got, want, err)
	}
}

func (s *smoke) logf(format string, args ...any) {
	if s.verbose {
		fmt.Printf(format+"\n", args...)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
