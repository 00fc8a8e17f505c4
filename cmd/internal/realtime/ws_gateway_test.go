package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"voir/cmd/identity"
	authapi "voir/cmd/internal/auth/api"
	"voir/cmd/internal/auth/session"
)

const principalHeader = "X-Test-Principal"

// withTestPrincipal stands in for authapi.Gate.
func withTestPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get(principalHeader); id != "" {
			r = r.WithContext(authapi.WithPrincipal(r.Context(), identity.Profile{ID: id, Handle: id}))
		}
		next.ServeHTTP(w, r)
	})
}

func testFeedConfig() Config {
	cfg := DefaultConfig()
	cfg.OriginRequired = false
	return cfg
}

func startFeedServer(t *testing.T, cfg Config) (*WSGateway, *httptest.Server) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw := NewWSGateway(log, NewHub(log), cfg)
	mux := http.NewServeMux()
	mux.Handle("/session/events", withTestPrincipal(gw))
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return gw, ts
}

type dialOpts struct {
	principal    string
	origin       string
	subprotocols []string
}

func dialFeed(t *testing.T, base string, o dialOpts) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	u, err := url.Parse(base)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/session/events"

	h := http.Header{}
	if o.principal != "" {
		h.Set(principalHeader, o.principal)
	}
	if o.origin != "" {
		h.Set("Origin", o.origin)
	}
	if o.subprotocols == nil {
		o.subprotocols = []string{Subprotocol}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		Subprotocols: o.subprotocols,
		HTTPHeader:   h,
	})
}

func mustDialFeed(t *testing.T, base, principal string) *websocket.Conn {
	t.Helper()

	conn, resp, err := dialFeed(t, base, dialOpts{principal: principal})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, typ string) {
	t.Helper()

	env := Envelope{V: ProtocolVersion, Type: typ, ID: "c-" + typ, TS: time.Now().UTC()}
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readFeed(conn *websocket.Conn) (Envelope, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	err = json.Unmarshal(data, &env)
	return env, err
}

func mustReadFeed(t *testing.T, conn *websocket.Conn, wantType string) Envelope {
	t.Helper()

	env, err := readFeed(conn)
	if err != nil {
		t.Fatalf("read %s: %v", wantType, err)
	}
	if env.Type != wantType {
		t.Fatalf("got %q (%s), want %q", env.Type, env.Payload, wantType)
	}
	return env
}

// hello waits for the ack, which also proves the feed is attached.
func hello(t *testing.T, conn *websocket.Conn) HelloAckPayload {
	t.Helper()

	sendEnvelope(t, conn, TypeHello)
	env := mustReadFeed(t, conn, TypeHelloAck)
	var ack HelloAckPayload
	if err := json.Unmarshal(env.Payload, &ack); err != nil {
		t.Fatalf("ack payload: %v", err)
	}
	return ack
}

func waitForCount(t *testing.T, hub *Hub, want int) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Count() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("hub count=%d want %d", hub.Count(), want)
}

func TestWSGateway_RejectsAnonymous(t *testing.T) {
	_, ts := startFeedServer(t, testFeedConfig())

	_, resp, err := dialFeed(t, ts.URL, dialOpts{})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got resp=%v err=%v", resp, err)
	}
}

func TestWSGateway_OriginPolicy(t *testing.T) {
	_, ts := startFeedServer(t, DefaultConfig())

	for _, origin := range []string{"", "https://evil.example"} {
		_, resp, err := dialFeed(t, ts.URL, dialOpts{principal: "alice", origin: origin})
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
			t.Fatalf("origin %q: expected 403, got resp=%v err=%v", origin, resp, err)
		}
	}

	conn, resp, err := dialFeed(t, ts.URL, dialOpts{principal: "alice", origin: "http://localhost"})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("allowed origin rejected: %v", err)
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func TestWSGateway_RequiresSubprotocol(t *testing.T) {
	_, ts := startFeedServer(t, testFeedConfig())

	conn, resp, err := dialFeed(t, ts.URL, dialOpts{principal: "alice", subprotocols: []string{}})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	_, err = readFeed(conn)
	if got := websocket.CloseStatus(err); got != websocket.StatusProtocolError {
		t.Fatalf("close status=%v err=%v", got, err)
	}
}

func TestWSGateway_HelloAndPing(t *testing.T) {
	_, ts := startFeedServer(t, testFeedConfig())
	conn := mustDialFeed(t, ts.URL, "alice")

	ack := hello(t, conn)
	if ack.PrincipalID != "alice" || ack.ConnectionID == "" {
		t.Fatalf("ack=%+v", ack)
	}

	sendEnvelope(t, conn, TypePing)
	mustReadFeed(t, conn, TypePong)

	sendEnvelope(t, conn, "conversation.join")
	env := mustReadFeed(t, conn, TypeError)
	var p ErrorPayload
	_ = json.Unmarshal(env.Payload, &p)
	if p.Code != "unsupported" {
		t.Fatalf("error code=%q", p.Code)
	}
}

func TestWSGateway_BadFrame(t *testing.T) {
	_, ts := startFeedServer(t, testFeedConfig())
	conn := mustDialFeed(t, ts.URL, "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	env := mustReadFeed(t, conn, TypeError)
	var p ErrorPayload
	_ = json.Unmarshal(env.Payload, &p)
	if p.Code != "bad_json" {
		t.Fatalf("error code=%q", p.Code)
	}

	// The connection survives.
	sendEnvelope(t, conn, TypePing)
	mustReadFeed(t, conn, TypePong)
}

func TestWSGateway_DeliversToPrincipalOnly(t *testing.T) {
	gw, ts := startFeedServer(t, testFeedConfig())
	alice := mustDialFeed(t, ts.URL, "alice")
	bob := mustDialFeed(t, ts.URL, "bob")
	hello(t, alice)
	hello(t, bob)

	at := time.Unix(1_700_000_000, 0).UTC()
	gw.Hub().Publish(session.Event{Type: session.EventRotated, PrincipalID: "alice", At: at})

	env := mustReadFeed(t, alice, TypeSessionEvent)
	var ev session.Event
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if ev.Type != session.EventRotated || ev.PrincipalID != "alice" || !ev.At.Equal(at) {
		t.Fatalf("event=%+v", ev)
	}

	// Bob's next frame is his own pong, not alice's event.
	sendEnvelope(t, bob, TypePing)
	mustReadFeed(t, bob, TypePong)

	// A non-terminal event keeps the feed open.
	sendEnvelope(t, alice, TypePing)
	mustReadFeed(t, alice, TypePong)
}

func TestWSGateway_TerminalEventClosesFeed(t *testing.T) {
	for _, typ := range []session.EventType{session.EventRevoked, session.EventSuperseded, session.EventReuseDetected} {
		t.Run(string(typ), func(t *testing.T) {
			gw, ts := startFeedServer(t, testFeedConfig())
			conn := mustDialFeed(t, ts.URL, "alice")
			hello(t, conn)
			waitForCount(t, gw.Hub(), 1)

			gw.Hub().Publish(session.Event{Type: typ, PrincipalID: "alice", At: time.Now()})

			env := mustReadFeed(t, conn, TypeSessionEvent)
			if !strings.Contains(string(env.Payload), string(typ)) {
				t.Fatalf("payload=%s", env.Payload)
			}
			_, err := readFeed(conn)
			if got := websocket.CloseStatus(err); got != StatusSessionEnded {
				t.Fatalf("close status=%v err=%v", got, err)
			}
			waitForCount(t, gw.Hub(), 0)
		})
	}
}

func TestWSGateway_RateLimitCloses(t *testing.T) {
	cfg := testFeedConfig()
	cfg.RateEvents = 3
	cfg.RateWindow = time.Minute
	_, ts := startFeedServer(t, cfg)
	conn := mustDialFeed(t, ts.URL, "alice")

	for i := 0; i < 4; i++ {
		sendEnvelope(t, conn, TypePing)
	}

	pongs := 0
	for {
		env, err := readFeed(conn)
		if err != nil {
			if got := websocket.CloseStatus(err); got != websocket.StatusPolicyViolation {
				t.Fatalf("close status=%v err=%v", got, err)
			}
			break
		}
		switch env.Type {
		case TypePong:
			pongs++
		case TypeError:
			var p ErrorPayload
			_ = json.Unmarshal(env.Payload, &p)
			if p.Code != "rate_limited" {
				t.Fatalf("error code=%q", p.Code)
			}
		default:
			t.Fatalf("unexpected %q", env.Type)
		}
	}
	if pongs > 3 {
		t.Fatalf("rate limit let %d frames through", pongs)
	}
}

func TestOriginHelpers(t *testing.T) {
	cases := map[string]string{
		"http://localhost":         "localhost",
		"https://App.Example:8443": "app.example",
		"127.0.0.1:3000":           "127.0.0.1",
		"example.com":              "example.com",
		"":                         "",
	}
	for in, want := range cases {
		if got := originHostOnly(in); got != want {
			t.Fatalf("originHostOnly(%q)=%q want %q", in, got, want)
		}
	}

	got := deriveOriginPatterns([]string{"https://b.example", "http://a.example:3000", "https://b.example:443", "*"})
	if strings.Join(got, ",") != "a.example,b.example" {
		t.Fatalf("patterns=%v", got)
	}
}
