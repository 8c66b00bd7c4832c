package auth

import (
	"net/http"
	"strings"

	"github.com/herald-labs/herald/internal/platform/httpx"
	"github.com/herald-labs/herald/internal/shared"
	"github.com/herald-labs/herald/internal/token"
)

// Middleware authenticates user session JWTs and stores the principal in the
// request context. System-token bearers are rejected here; they belong to the
// token guard, not user routes.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		const scheme = "Bearer "
		if len(header) <= len(scheme) || !strings.EqualFold(header[:len(scheme)], scheme) {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		credential := strings.TrimSpace(header[len(scheme):])
		if strings.HasPrefix(credential, token.BearerPrefix) {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}

		principal, err := v.ParseAndValidate(credential)
		if err != nil {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), principal)))
	})
}
