package token

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/herald-labs/herald/internal/shared"
)

func newTestGuard(t *testing.T) (*Guard, *memoryTokenRepo, *Authority) {
	t.Helper()
	repo := newMemoryTokenRepo()
	authority := newTestAuthority(repo)
	return NewGuard(authority, slog.Default(), nil), repo, authority
}

func issueGuardToken(t *testing.T, authority *Authority, params IssueParams) (*Token, string) {
	t.Helper()
	if params.RequesterID == nil {
		params.RequesterID = &requester.ID
	}
	tok, plaintext, err := authority.Issue(context.Background(), params)
	require.NoError(t, err)
	return tok, plaintext
}

func guardedEcho(guard *Guard, scopes ...string) http.Handler {
	return guard.Require(scopes...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func doGuarded(handler http.Handler, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/relay", nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestGuardSetsUsageHeadersOnSuccess(t *testing.T) {
	guard, repo, authority := newTestGuard(t)
	tok, plaintext := issueGuardToken(t, authority, IssueParams{MaxCalls: 3})

	stored := repo.tokens[tok.ID]
	stored.Calls = 1
	stored.TotalCalls = 5
	repo.tokens[tok.ID] = stored

	rec := doGuarded(guardedEcho(guard), plaintext)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, tok.ID, rec.Header().Get("X-Token-Id"))
	require.Equal(t, "3", rec.Header().Get("X-Token-MaxCalls"))
	require.Equal(t, "1", rec.Header().Get("X-Token-Calls"))
	require.Equal(t, "5", rec.Header().Get("X-Token-TotalCalls"))
	require.Equal(t, "2", rec.Header().Get("X-Token-Remaining"))
}

func TestGuardOmitsRemainingForUnlimitedTokens(t *testing.T) {
	guard, repo, authority := newTestGuard(t)
	tok, plaintext := issueGuardToken(t, authority, IssueParams{MaxCalls: 0})

	stored := repo.tokens[tok.ID]
	stored.Calls = 100
	stored.TotalCalls = 100
	repo.tokens[tok.ID] = stored

	rec := doGuarded(guardedEcho(guard), plaintext)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "0", rec.Header().Get("X-Token-MaxCalls"))
	require.Equal(t, "100", rec.Header().Get("X-Token-Calls"))
	_, present := rec.Header()["X-Token-Remaining"]
	require.False(t, present, "unlimited tokens must not report a remaining count")
}

func TestGuardRejectsExhaustedQuota(t *testing.T) {
	guard, repo, authority := newTestGuard(t)
	tok, plaintext := issueGuardToken(t, authority, IssueParams{MaxCalls: 3})

	stored := repo.tokens[tok.ID]
	stored.Calls = 3
	repo.tokens[tok.ID] = stored

	rec := doGuarded(guardedEcho(guard), plaintext)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	requireNoUsageHeaders(t, rec)
}

func TestGuardRejectsMissingAndMalformedCredentials(t *testing.T) {
	guard, _, _ := newTestGuard(t)
	handler := guardedEcho(guard)

	for _, bearer := range []string{"", "not-a-token", "sat_unknown0.wrongsecretwrongsecretwrng"} {
		rec := doGuarded(handler, bearer)
		require.Equal(t, http.StatusUnauthorized, rec.Code, "bearer %q", bearer)
		requireNoUsageHeaders(t, rec)
	}
}

func TestGuardWrongSecretForKnownKeyID(t *testing.T) {
	guard, _, authority := newTestGuard(t)
	tok, _ := issueGuardToken(t, authority, IssueParams{MaxCalls: 3})

	rec := doGuarded(guardedEcho(guard), FormatBearer(tok.KeyID, "wrongsecretwrongsecretwr"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	requireNoUsageHeaders(t, rec)
}

func TestGuardEnforcesScopes(t *testing.T) {
	guard, _, authority := newTestGuard(t)
	_, plaintext := issueGuardToken(t, authority, IssueParams{Scopes: []string{shared.ScopeNotifyPublish}})

	rec := doGuarded(guardedEcho(guard, shared.ScopeRelayForward), plaintext)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Contains(t, rec.Body.String(), shared.ScopeRelayForward)
	requireNoUsageHeaders(t, rec)

	rec = doGuarded(guardedEcho(guard, shared.ScopeNotifyPublish), plaintext)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGuardUnrestrictedTokenPassesAnyScope(t *testing.T) {
	guard, _, authority := newTestGuard(t)
	_, plaintext := issueGuardToken(t, authority, IssueParams{})

	rec := doGuarded(guardedEcho(guard, shared.ScopeRelayForward, shared.ScopeTopicsManage), plaintext)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGuardDoesNotIncrementUsage(t *testing.T) {
	guard, repo, authority := newTestGuard(t)
	tok, plaintext := issueGuardToken(t, authority, IssueParams{MaxCalls: 3})

	rec := doGuarded(guardedEcho(guard), plaintext)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(0), repo.tokens[tok.ID].Calls, "usage is charged by the gated operation, not the guard")
}

func requireNoUsageHeaders(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	for _, name := range []string{"X-Token-Id", "X-Token-MaxCalls", "X-Token-Calls", "X-Token-TotalCalls", "X-Token-Remaining"} {
		require.Empty(t, rec.Header().Get(name), "header %s must not be set on rejection", name)
	}
}
