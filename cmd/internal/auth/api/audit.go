package authapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"strings"
)

func (h *Handler) auditLoginSuccess(ctx context.Context, principalID string, ip net.IP, ua string) {
	h.audit(ctx, "auth.login.success", principalID, ip, ua, nil)
}

func (h *Handler) auditLoginFailed(ctx context.Context, ip net.IP, ua, identifier, reason string) {
	h.audit(ctx, "auth.login.failed", "", ip, ua, map[string]any{
		"identifier": identifier,
		"reason":     reason,
	})
}

func (h *Handler) auditRefreshSuccess(ctx context.Context, principalID string, ip net.IP, ua string) {
	h.audit(ctx, "auth.refresh.success", principalID, ip, ua, nil)
}

func (h *Handler) auditRefreshFailed(ctx context.Context, ip net.IP, ua, reason string) {
	h.audit(ctx, "auth.refresh.failed", "", ip, ua, map[string]any{"reason": reason})
}

// auditRefreshReuse records the targeted account; the client never learns it.
func (h *Handler) auditRefreshReuse(ctx context.Context, principalID string, ip net.IP, ua string) {
	h.audit(ctx, "auth.refresh.reuse_detected", principalID, ip, ua, nil)
}

func (h *Handler) auditLogout(ctx context.Context, principalID string, ip net.IP, ua string) {
	h.audit(ctx, "auth.logout", principalID, ip, ua, nil)
}

func (h *Handler) auditRegister(ctx context.Context, principalID string, ip net.IP, ua string) {
	h.audit(ctx, "auth.register", principalID, ip, ua, nil)
}

// audit logs the event and, when a pool is configured, persists it.
// Persistence failures are logged and never fail the request.
func (h *Handler) audit(ctx context.Context, action, principalID string, ip net.IP, ua string, meta map[string]any) {
	if h == nil {
		return
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return
	}

	level := slog.LevelInfo
	if strings.HasSuffix(action, ".failed") || strings.HasSuffix(action, ".reuse_detected") {
		level = slog.LevelWarn
	}
	attrs := []any{"action", action}
	if principalID != "" {
		attrs = append(attrs, "principal_id", principalID)
	}
	if ip != nil {
		attrs = append(attrs, "ip", ip.String())
	}
	for k, v := range meta {
		attrs = append(attrs, k, v)
	}
	h.log.Log(ctx, level, "auth.audit", attrs...)

	if h.pool == nil {
		return
	}

	var ipVal any
	if ip != nil {
		ipVal = ip.String()
	}
	metaVal := "{}"
	if len(meta) > 0 {
		if b, err := json.Marshal(meta); err == nil {
			metaVal = string(b)
		}
	}

	// The request may already be done; the row should still land.
	_, err := h.pool.Exec(context.WithoutCancel(ctx), `
		INSERT INTO voir.audit_log (
			principal_id, action, created_at, ip, user_agent, meta
		) VALUES ($1, $2, now(), $3, $4, $5::jsonb)
	`, trimOrNil(principalID), action, ipVal, trimOrNil(ua), metaVal)
	if err != nil {
		h.log.Error("auth.audit.insert.fail", "err", err, "action", action)
	}
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
