package token

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/herald-labs/herald/internal/platform/httpx"
	"github.com/herald-labs/herald/internal/shared"
)

// ValidationObserver counts validation outcomes.
type ValidationObserver interface {
	TokenValidation(outcome string)
}

// Guard authenticates system-token bearer credentials on HTTP routes.
type Guard struct {
	authority *Authority
	logger    *slog.Logger
	observer  ValidationObserver
}

// NewGuard constructs a Guard.
func NewGuard(authority *Authority, logger *slog.Logger, observer ValidationObserver) *Guard {
	return &Guard{authority: authority, logger: logger, observer: observer}
}

type tokenContextKey struct{}

// ContextWithToken stores the validated token in context.
func ContextWithToken(ctx context.Context, tok *Token) context.Context {
	return context.WithValue(ctx, tokenContextKey{}, tok)
}

// FromContext extracts the validated token from context.
func FromContext(ctx context.Context) *Token {
	tok, _ := ctx.Value(tokenContextKey{}).(*Token)
	return tok
}

// Require validates the bearer credential and the given scopes. On success
// the token lands in the request context and usage-transparency headers are
// set; rejected requests carry no usage headers at all.
func (g *Guard) Require(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bearer, ok := bearerCredential(r)
			if !ok {
				g.observe("unauthorized")
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}

			tok, err := g.authority.Validate(r.Context(), bearer)
			if err != nil {
				if errors.Is(err, shared.ErrInvalidCredentials) {
					g.observe("unauthorized")
					httpx.RespondError(w, httpx.ErrUnauthorized)
					return
				}
				g.logger.Error("token validation failed", slog.Any("error", err))
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				return
			}

			if err := g.authority.CheckScopes(tok, scopes...); err != nil {
				g.observe("forbidden")
				httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
				return
			}

			g.observe("ok")
			setUsageHeaders(w, tok)
			next.ServeHTTP(w, r.WithContext(ContextWithToken(r.Context(), tok)))
		})
	}
}

func (g *Guard) observe(outcome string) {
	if g.observer != nil {
		g.observer.TokenValidation(outcome)
	}
}

func bearerCredential(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const scheme = "Bearer "
	if len(header) <= len(scheme) || !strings.EqualFold(header[:len(scheme)], scheme) {
		return "", false
	}
	return strings.TrimSpace(header[len(scheme):]), true
}

func setUsageHeaders(w http.ResponseWriter, tok *Token) {
	h := w.Header()
	h.Set("X-Token-Id", tok.ID)
	h.Set("X-Token-MaxCalls", strconv.FormatInt(tok.MaxCalls, 10))
	h.Set("X-Token-Calls", strconv.FormatInt(tok.Calls, 10))
	h.Set("X-Token-TotalCalls", strconv.FormatInt(tok.TotalCalls, 10))
	// Remaining is omitted entirely for unlimited tokens; reporting a number
	// there would be meaningless.
	if !tok.Unlimited() {
		h.Set("X-Token-Remaining", strconv.FormatInt(tok.Remaining(), 10))
	}
}
