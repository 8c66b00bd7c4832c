package jobs

import (
	"context"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/herald-labs/herald/internal/platform/cache"
	"github.com/herald-labs/herald/internal/shared"
)

type countingResetter struct {
	runs int
	err  error
}

func (r *countingResetter) Run(ctx context.Context) error {
	r.runs++
	return r.err
}

func newTestLocker(t *testing.T) (*cache.Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewLocker(client), mr
}

func TestQuotaResetJobRunsUnderLock(t *testing.T) {
	locker, mr := newTestLocker(t)
	resetter := &countingResetter{}
	job := NewQuotaResetJob(resetter, locker, slog.Default(), nil)

	require.NoError(t, job.Handle(context.Background(), NewQuotaResetTask()))
	require.Equal(t, 1, resetter.runs)
	require.False(t, mr.Exists(shared.QuotaResetLockKey()), "lock must be released after the run")
}

func TestQuotaResetJobSkipsTickWhenLockHeld(t *testing.T) {
	locker, mr := newTestLocker(t)
	require.NoError(t, mr.Set(shared.QuotaResetLockKey(), "1"))

	resetter := &countingResetter{}
	job := NewQuotaResetJob(resetter, locker, slog.Default(), nil)

	require.NoError(t, job.Handle(context.Background(), NewQuotaResetTask()))
	require.Zero(t, resetter.runs, "overlapping tick must be skipped, not queued")
}

func TestQuotaResetJobRunsWithoutLocker(t *testing.T) {
	resetter := &countingResetter{}
	job := NewQuotaResetJob(resetter, nil, slog.Default(), nil)

	require.NoError(t, job.Handle(context.Background(), NewQuotaResetTask()))
	require.Equal(t, 1, resetter.runs)
}
