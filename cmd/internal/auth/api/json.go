package authapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"voir/cmd/internal/auth/session"
)

// Every error body is {"error":{"code":..,"message":..}}.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

var (
	errEmptyBody    = errors.New("empty body")
	errTrailingData = errors.New("trailing data after JSON object")
)

// serviceErrorCodes maps session error kinds to wire codes. Message says
// whether the service's own client message may be shown; otherwise fallback
// is sent as is.
var serviceErrorCodes = map[error]struct {
	code     string
	fallback string
	message  bool
}{
	session.ErrValidation:         {code: "invalid_request", fallback: "invalid request", message: true},
	session.ErrNotFound:           {code: "not_found", fallback: "not found", message: true},
	session.ErrInvalidCredentials: {code: "invalid_credentials", fallback: "invalid credentials"},
	session.ErrConflict:           {code: "conflict", fallback: "conflict", message: true},
}

// writeServiceError is the single mapping from service errors to responses.
// Reuse is indistinguishable from any other unauthorized refresh, and
// internal causes are only logged.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	kind := session.KindOf(err)
	switch kind {
	case session.ErrUnauthorized, session.ErrTokenReuse:
		writeUnauthorized(w)
		return
	}

	entry, ok := serviceErrorCodes[kind]
	if !ok {
		h.log.Error("auth.request.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	msg := entry.fallback
	if entry.message {
		msg = orDefault(clientMessage(err), entry.fallback)
	}
	writeError(w, session.StatusOf(kind), entry.code, msg)
}

func writeUnauthorized(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
}

// writeRateLimited rounds retryAfter up to whole seconds for Retry-After.
func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

// writeJSON never lets a session response be cached.
func writeJSON(w http.ResponseWriter, status int, v any) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads exactly one JSON object of at most maxBytes into dst.
// Unknown fields are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return errEmptyBody
	}
	defer func() { _ = r.Body.Close() }()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errTrailingData
	}
	return nil
}
