package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPeriodStart(t *testing.T) {
	created := time.Date(2026, time.January, 15, 10, 30, 0, 0, time.UTC)

	// Inside the first period the start is the creation instant itself.
	now := time.Date(2026, time.January, 20, 0, 0, 0, 0, time.UTC)
	require.Equal(t, created, PeriodStart(created, now))

	// Just before the first anniversary, still the first period.
	now = time.Date(2026, time.February, 15, 10, 29, 0, 0, time.UTC)
	require.Equal(t, created, PeriodStart(created, now))

	// After one month the period is anchored to the birthday, not a
	// calendar boundary.
	now = time.Date(2026, time.February, 20, 0, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, time.February, 15, 10, 30, 0, 0, time.UTC), PeriodStart(created, now))

	now = time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, time.May, 15, 10, 30, 0, 0, time.UTC), PeriodStart(created, now))
}

func TestPeriodStartDifferentBirthdaysResetOnDifferentDays(t *testing.T) {
	now := time.Date(2026, time.March, 20, 0, 0, 0, 0, time.UTC)
	a := time.Date(2026, time.January, 5, 0, 0, 0, 0, time.UTC)
	b := time.Date(2026, time.January, 25, 0, 0, 0, 0, time.UTC)

	require.Equal(t, time.Date(2026, time.March, 5, 0, 0, 0, 0, time.UTC), PeriodStart(a, now))
	require.Equal(t, time.Date(2026, time.February, 25, 0, 0, 0, 0, time.UTC), PeriodStart(b, now))
}

func seedToken(repo *memoryTokenRepo, id string, createdAt time.Time, calls int64) {
	repo.tokens[id] = Token{
		ID:          id,
		KeyID:       "key" + id,
		MaxCalls:    100,
		Calls:       calls,
		TotalCalls:  calls,
		LastResetAt: createdAt,
		CreatedAt:   createdAt,
	}
}

func TestResetterZeroesStaleCounters(t *testing.T) {
	repo := newMemoryTokenRepo()
	now := time.Date(2026, time.August, 30, 12, 0, 0, 0, time.UTC)
	created := now.AddDate(0, -2, -3)
	seedToken(repo, "tok-1", created, 42)

	resetter := NewResetter(repo, slog.Default(), nil, 10)
	resetter.now = func() time.Time { return now }

	require.NoError(t, resetter.Run(context.Background()))

	got := repo.tokens["tok-1"]
	require.Equal(t, int64(0), got.Calls)
	require.Equal(t, int64(42), got.TotalCalls, "lifetime counter is never reset")
	require.Equal(t, PeriodStart(created, now), got.LastResetAt)
}

func TestResetterIdempotentWithinPeriod(t *testing.T) {
	repo := newMemoryTokenRepo()
	now := time.Date(2026, time.August, 30, 12, 0, 0, 0, time.UTC)
	seedToken(repo, "tok-1", now.AddDate(0, -1, -1), 7)

	resetter := NewResetter(repo, slog.Default(), nil, 10)
	resetter.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, resetter.Run(ctx))
	first := repo.tokens["tok-1"]

	// A token that racked up calls after the reset keeps them on re-run.
	tok := repo.tokens["tok-1"]
	tok.Calls = 3
	repo.tokens["tok-1"] = tok

	require.NoError(t, resetter.Run(ctx))
	second := repo.tokens["tok-1"]
	require.Equal(t, int64(3), second.Calls, "re-run within the same period must be a no-op")
	require.Equal(t, first.LastResetAt, second.LastResetAt)
}

func TestResetterSkipsFreshTokens(t *testing.T) {
	repo := newMemoryTokenRepo()
	now := time.Date(2026, time.August, 30, 12, 0, 0, 0, time.UTC)
	seedToken(repo, "tok-1", now.AddDate(0, 0, -10), 5)

	resetter := NewResetter(repo, slog.Default(), nil, 10)
	resetter.now = func() time.Time { return now }

	require.NoError(t, resetter.Run(context.Background()))
	require.Equal(t, int64(5), repo.tokens["tok-1"].Calls)
}

func TestResetterWalksAllBatches(t *testing.T) {
	repo := newMemoryTokenRepo()
	now := time.Date(2026, time.August, 30, 12, 0, 0, 0, time.UTC)
	created := now.AddDate(0, -1, -5)
	for i := 0; i < 5; i++ {
		seedToken(repo, fmt.Sprintf("tok-%d", i), created, 9)
	}

	resetter := NewResetter(repo, slog.Default(), nil, 2)
	resetter.now = func() time.Time { return now }

	require.NoError(t, resetter.Run(context.Background()))
	for i := 0; i < 5; i++ {
		require.Equal(t, int64(0), repo.tokens[fmt.Sprintf("tok-%d", i)].Calls, "tok-%d", i)
	}
}

func TestResetterContinuesPastFailingToken(t *testing.T) {
	repo := newMemoryTokenRepo()
	now := time.Date(2026, time.August, 30, 12, 0, 0, 0, time.UTC)
	created := now.AddDate(0, -1, -5)
	seedToken(repo, "tok-a", created, 4)
	seedToken(repo, "tok-b", created, 4)
	seedToken(repo, "tok-c", created, 4)
	repo.resetErrFor["tok-b"] = errors.New("row lock timeout")

	resetter := NewResetter(repo, slog.Default(), nil, 10)
	resetter.now = func() time.Time { return now }

	require.NoError(t, resetter.Run(context.Background()))
	require.Equal(t, int64(0), repo.tokens["tok-a"].Calls)
	require.Equal(t, int64(4), repo.tokens["tok-b"].Calls)
	require.Equal(t, int64(0), repo.tokens["tok-c"].Calls)
}
