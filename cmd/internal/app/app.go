// Package app wires the voir server runtime: config, logging, the credential
// store, the session API, the event feed and operational endpoints.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	authapi "voir/cmd/internal/auth/api"
	"voir/cmd/internal/auth/codec"
	"voir/cmd/internal/auth/session"
	"voir/cmd/internal/realtime"
	"voir/cmd/security/password"
)

// App is the voir server runtime.
type App struct {
	cfg Config
	log Logger

	backend  *backend
	metrics  *Metrics
	sessions *session.Service
	auth     *authapi.Handler
	ws       *realtime.WSGateway
}

// New constructs a fully wired App from cfg. The caller owns Close, which Run
// also performs on exit.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg)
	}
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.EphemeralSecrets {
		log.Warn("config.token_secrets.ephemeral", "env", cfg.Env)
	}

	b, err := openBackend(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	tokens, err := codec.New(cfg.Tokens)
	if err != nil {
		b.Close()
		return nil, err
	}

	hub := realtime.NewHub(log)
	metrics := NewMetrics(hub)

	svc, err := session.NewService(cfg.Session, b.store, password.NewHasher(cfg.Password), tokens,
		session.WithLogger(log),
		session.WithPublisher(hub),
		session.WithMetrics(metrics.Session()),
	)
	if err != nil {
		b.Close()
		return nil, err
	}

	var opts []authapi.HandlerOption
	if b.pool != nil {
		opts = append(opts, authapi.WithAuditPool(b.pool))
	}

	return &App{
		cfg:      cfg,
		log:      log,
		backend:  b,
		metrics:  metrics,
		sessions: svc,
		auth:     authapi.NewHandler(log, svc, cfg.API, opts...),
		ws:       realtime.NewWSGateway(log, hub, cfg.Realtime),
	}, nil
}

// Handler returns the fully wrapped root handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a)

	var h http.Handler = mux
	h = WithCORS(h, a.cfg, a.log)
	h = WithSecurityHeaders(h)
	h = WithRequestLogging(h, a.log, a.metrics)
	return WithRequestID(h)
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	// Feed connections are hijacked and outlive Shutdown; canceling the base
	// context after Shutdown ends them.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"env", a.cfg.Env,
		"store", a.backend.kind,
		"token_backend", a.cfg.Tokens.Backend,
		"audit_db", a.backend.pool != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	cancelBase()
	if err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.log.Info("server.stopped")
	return nil
}

// Close releases store connections.
func (a *App) Close() {
	if a.backend != nil {
		a.backend.Close()
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
