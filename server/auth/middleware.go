package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

// principalContextKey is the context key for the authenticated principal.
const principalContextKey contextKey = "principal"

// PrincipalFromContext retrieves the authenticated principal from the
// context, or nil if the request was not authenticated.
func PrincipalFromContext(ctx context.Context) *Principal {
	if p, ok := ctx.Value(principalContextKey).(*Principal); ok {
		return p
	}
	return nil
}

// WithPrincipal returns a copy of ctx carrying the principal. Exposed for
// handler tests.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// Middleware creates HTTP middleware that enforces bearer-token
// authentication and stores the resulting Principal in the request context.
func Middleware(issuer *TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				requestAuth(w)
				return
			}

			claims, err := issuer.Verify(token, TokenAccess)
			if err != nil {
				requestAuth(w)
				return
			}

			ctx := WithPrincipal(r.Context(), &Principal{UserID: claims.Subject})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the token from the Authorization header, falling
// back to the "token" query parameter used by websocket upgrade requests.
func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, prefix) {
		return h[len(prefix):]
	}
	return r.URL.Query().Get("token")
}

// requestAuth sends a WWW-Authenticate challenge.
func requestAuth(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="entrycal"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}
