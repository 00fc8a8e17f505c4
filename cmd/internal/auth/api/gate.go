package authapi

import (
	"context"
	"net/http"
	"strings"

	"voir/cmd/identity"
)

// Authenticator resolves an access token to a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (identity.Profile, error)
}

type principalCtxKey struct{}

// PrincipalFromContext returns the principal stored by Gate.
func PrincipalFromContext(ctx context.Context) (identity.Profile, bool) {
	p, ok := ctx.Value(principalCtxKey{}).(identity.Profile)
	return p, ok && p.ID != ""
}

// WithPrincipal stores p in ctx the way Gate does.
func WithPrincipal(ctx context.Context, p identity.Profile) context.Context {
	return context.WithValue(ctx, principalCtxKey{}, p)
}

// Gate admits requests carrying a valid access token, read from the
// Authorization header first and the access cookie second.
// Every rejection gets the same 401 body.
func Gate(auth Authenticator, accessCookie string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := bearerToken(r)
		if tok == "" {
			tok, _ = cookieValue(r, accessCookie)
		}
		if tok == "" || auth == nil {
			writeUnauthorized(w)
			return
		}
		p, err := auth.Authenticate(r.Context(), tok)
		if err != nil {
			writeUnauthorized(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
