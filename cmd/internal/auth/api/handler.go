package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"voir/cmd/identity"
	"voir/cmd/internal/auth/session"
)

// Sessions is the session lifecycle the handler drives.
// *session.Service satisfies it.
type Sessions interface {
	Authenticator
	Login(ctx context.Context, identifier, password string) (session.Issued, error)
	Refresh(ctx context.Context, refreshToken string) (session.Issued, error)
	Logout(ctx context.Context, principalID string) error
	Register(ctx context.Context, in session.RegisterInput) (identity.Profile, error)
}

// AuditExecer is the subset of *pgxpool.Pool the audit sink uses.
type AuditExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Handler serves the session HTTP API.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	sessions Sessions
	pool     AuditExecer
	loginIPs *failureWindow
	now      func() time.Time
}

// HandlerOption customizes a Handler.
type HandlerOption func(*Handler)

// WithAuditPool persists audit events into voir.audit_log.
func WithAuditPool(pool AuditExecer) HandlerOption {
	return func(h *Handler) { h.pool = pool }
}

// WithHandlerClock overrides time.Now for throttling (tests).
func WithHandlerClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler builds the API handler.
func NewHandler(log *slog.Logger, sessions Sessions, cfg Config, opts ...HandlerOption) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	h := &Handler{
		log:      log,
		cfg:      cfg,
		sessions: sessions,
		loginIPs: newFailureWindow(cfg.LoginIPMax, cfg.LoginIPWindow),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Register mounts the session routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/session", h.handleSession)
	mux.HandleFunc("/session/refresh", h.handleRefresh)
	mux.HandleFunc("/principals", h.handleRegister)
}

// Gate wraps next with the access-token gate using this handler's cookie name.
func (h *Handler) Gate(next http.Handler) http.Handler {
	return Gate(h.sessions, h.cfg.AccessCookieName, next)
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleLogin(w, r)
	case http.MethodDelete:
		h.Gate(http.HandlerFunc(h.handleLogout)).ServeHTTP(w, r)
	case http.MethodGet:
		h.Gate(http.HandlerFunc(h.handleMe)).ServeHTTP(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	ctx := r.Context()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())
	identifier := strings.TrimSpace(req.Identifier)

	if blocked, retryAfter := h.loginIPs.blocked(ipKey(ip), h.now()); blocked {
		h.log.Warn("auth.login.throttled", "ip", ipKey(ip), "retry_after", retryAfter)
		writeRateLimited(w, retryAfter)
		return
	}

	issued, err := h.sessions.Login(ctx, identifier, req.Password)
	if err != nil {
		switch session.KindOf(err) {
		case session.ErrInvalidCredentials:
			h.loginIPs.record(ipKey(ip), h.now())
			h.auditLoginFailed(ctx, ip, ua, identifier, "bad_password")
		case session.ErrNotFound:
			h.loginIPs.record(ipKey(ip), h.now())
			h.auditLoginFailed(ctx, ip, ua, identifier, "not_found")
		case session.ErrValidation:
			h.auditLoginFailed(ctx, ip, ua, identifier, "invalid_request")
		}
		h.writeServiceError(w, err)
		return
	}

	h.auditLoginSuccess(ctx, issued.Principal.ID, ip, ua)
	h.setSessionCookies(w, issued)
	writeJSON(w, http.StatusOK, toSessionResponse(issued))
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req refreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
	}
	refreshToken := strings.TrimSpace(req.RefreshToken)
	if refreshToken == "" {
		refreshToken, _ = h.refreshTokenFromCookie(r)
	}
	if refreshToken == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refreshToken is required")
		return
	}

	ctx := r.Context()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	issued, err := h.sessions.Refresh(ctx, refreshToken)
	if err != nil {
		switch kind := session.KindOf(err); kind {
		case session.ErrTokenReuse:
			h.auditRefreshReuse(ctx, session.PrincipalOf(err), ip, ua)
		case session.ErrUnauthorized, session.ErrValidation:
			h.auditRefreshFailed(ctx, ip, ua, kind.Error())
		}
		h.writeServiceError(w, err)
		return
	}

	h.auditRefreshSuccess(ctx, issued.Principal.ID, ip, ua)
	h.setSessionCookies(w, issued)
	writeJSON(w, http.StatusOK, toSessionResponse(issued))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	ctx := r.Context()
	if err := h.sessions.Logout(ctx, p.ID); err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.auditLogout(ctx, p.ID, clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()))
	h.clearSessionCookies(w)
	writeJSON(w, http.StatusOK, struct{}{})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}
	writeJSON(w, http.StatusOK, principalResponse{Principal: p})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.cfg.RegistrationEnabled {
		writeError(w, http.StatusForbidden, "registration_disabled", "registration is disabled")
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	ctx := r.Context()
	p, err := h.sessions.Register(ctx, session.RegisterInput{
		Handle:   req.Handle,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.auditRegister(ctx, p.ID, clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()))
	writeJSON(w, http.StatusCreated, principalResponse{Principal: p})
}

func clientMessage(err error) string {
	var se *session.Error
	if errors.As(err, &se) {
		return se.Msg
	}
	return ""
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
