package token

import (
	"context"
	"log/slog"
	"time"
)

// PeriodStart computes the start of the quota period containing now by
// walking forward from the token's creation instant in one-month steps.
// Periods are anchored to the token's birthday, not a calendar boundary, so
// two tokens created on different days reset on different days.
func PeriodStart(createdAt, now time.Time) time.Time {
	start := createdAt
	for {
		next := start.AddDate(0, 1, 0)
		if next.After(now) {
			return start
		}
		start = next
	}
}

// ResetObserver is notified for each counter the resetter zeroes.
type ResetObserver interface {
	QuotaReset()
}

// Resetter zeroes per-period usage counters once per quota period. Safe to
// run repeatedly: the conditional update in the store makes re-runs within
// the same period no-ops.
type Resetter struct {
	repo      Repository
	logger    *slog.Logger
	observer  ResetObserver
	batchSize int
	now       func() time.Time
}

// NewResetter constructs a Resetter. batchSize bounds how many tokens are
// held in memory per page; zero or negative falls back to the default.
func NewResetter(repo Repository, logger *slog.Logger, observer ResetObserver, batchSize int) *Resetter {
	if batchSize <= 0 {
		batchSize = 200
	}
	return &Resetter{repo: repo, logger: logger, observer: observer, batchSize: batchSize, now: time.Now}
}

// Run walks all tokens in id-ordered batches and resets stale counters.
// A failing batch is logged and does not abort the remaining batches.
func (r *Resetter) Run(ctx context.Context) error {
	now := r.now().UTC()
	afterID := ""
	var resets int

	for {
		batch, err := r.repo.ListBatch(ctx, afterID, r.batchSize)
		if err != nil {
			r.logger.Error("quota reset: list batch", slog.String("after_id", afterID), slog.Any("error", err))
			return err
		}
		if len(batch) == 0 {
			break
		}

		for i := range batch {
			tok := &batch[i]
			periodStart := PeriodStart(tok.CreatedAt, now)
			if !tok.LastResetAt.Before(periodStart) {
				continue
			}
			changed, err := r.repo.ResetCalls(ctx, tok.ID, periodStart)
			if err != nil {
				r.logger.Error("quota reset: token", slog.String("token_id", tok.ID), slog.Any("error", err))
				continue
			}
			if changed {
				resets++
				if r.observer != nil {
					r.observer.QuotaReset()
				}
			}
		}

		afterID = batch[len(batch)-1].ID
		if len(batch) < r.batchSize {
			break
		}
	}

	if resets > 0 {
		r.logger.Info("quota reset complete", slog.Int("tokens_reset", resets))
	}
	return nil
}
