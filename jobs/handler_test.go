package jobs

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/herald-labs/herald/internal/shared"
)

type fakeEnqueuer struct {
	calls int
	err   error
}

func (f *fakeEnqueuer) EnqueueQuotaReset(ctx context.Context) (*asynq.TaskInfo, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &asynq.TaskInfo{ID: "task-1"}, nil
}

func doEnqueue(t *testing.T, enqueuer QuotaResetEnqueuer, principal *shared.Principal) *httptest.ResponseRecorder {
	t.Helper()
	h := NewHandler(nil, enqueuer, slog.Default())
	r := chi.NewRouter()
	h.MountAdminRoutes(r)

	req := httptest.NewRequest(http.MethodPost, "/jobs/quota-reset", nil)
	if principal != nil {
		req = req.WithContext(shared.ContextWithPrincipal(req.Context(), principal))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestEnqueueQuotaResetRequiresOperator(t *testing.T) {
	enqueuer := &fakeEnqueuer{}

	rec := doEnqueue(t, enqueuer, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doEnqueue(t, enqueuer, &shared.Principal{ID: 2})
	require.Equal(t, http.StatusForbidden, rec.Code)

	require.Zero(t, enqueuer.calls, "rejected callers must not enqueue anything")
}

func TestEnqueueQuotaResetAcceptsOperator(t *testing.T) {
	enqueuer := &fakeEnqueuer{}

	rec := doEnqueue(t, enqueuer, &shared.Principal{ID: 1, Operator: true})
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), "task-1")
	require.Equal(t, 1, enqueuer.calls)
}

func TestEnqueueQuotaResetFailureIsUnavailable(t *testing.T) {
	enqueuer := &fakeEnqueuer{err: errors.New("redis down")}

	rec := doEnqueue(t, enqueuer, &shared.Principal{ID: 1, Operator: true})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NotContains(t, rec.Body.String(), "redis down")
}
