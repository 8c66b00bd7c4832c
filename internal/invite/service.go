package invite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/herald-labs/herald/internal/access"
	"github.com/herald-labs/herald/internal/resource"
	"github.com/herald-labs/herald/internal/secrets"
	"github.com/herald-labs/herald/internal/shared"
)

// Grants is the slice of the sharing service invites rely on.
type Grants interface {
	Authorize(ctx context.Context, ref resource.Ref, principalID int64, required access.Level) error
	HeldLevel(ctx context.Context, ref resource.Ref, principalID int64) (access.Level, error)
	MergeGrant(ctx context.Context, ref resource.Ref, granteeID, createdBy int64, level access.Level) (access.Level, error)
}

// Service creates and redeems invite codes.
type Service struct {
	repo   Repository
	grants Grants
	audit  *shared.AuditLogger
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository, grants Grants, audit *shared.AuditLogger, logger *slog.Logger) *Service {
	return &Service{repo: repo, grants: grants, audit: audit, logger: logger, now: time.Now}
}

// CreateParams describes an invite to mint.
type CreateParams struct {
	Resource  resource.Ref
	Levels    []access.Level
	MaxUses   *int
	ExpiresAt *time.Time
}

// Create mints an invite code for the resource. The creator must hold Admin
// on the resource; owners and delegated admins both qualify.
func (s *Service) Create(ctx context.Context, creator *shared.Principal, params CreateParams) (*Invite, error) {
	if !params.Resource.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown resource kind %q", shared.ErrConflict, params.Resource.Kind)
	}
	if len(params.Levels) == 0 {
		return nil, fmt.Errorf("%w: invite must carry at least one permission level", shared.ErrConflict)
	}
	for _, level := range params.Levels {
		if !level.Valid() {
			return nil, fmt.Errorf("%w: invalid permission level", shared.ErrConflict)
		}
	}
	if params.MaxUses != nil && *params.MaxUses <= 0 {
		return nil, fmt.Errorf("%w: max_uses must be positive", shared.ErrConflict)
	}

	if err := s.grants.Authorize(ctx, params.Resource, creator.ID, access.LevelAdmin); err != nil {
		return nil, err
	}

	code, err := secrets.GenerateInviteCode(CodeLength)
	if err != nil {
		return nil, err
	}
	inv := Invite{
		Code:      code,
		Resource:  params.Resource,
		Levels:    params.Levels,
		MaxUses:   params.MaxUses,
		ExpiresAt: params.ExpiresAt,
		CreatedBy: creator.ID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.Create(ctx, inv); err != nil {
		return nil, err
	}

	s.recordAudit(ctx, creator.ID, "invite.create", inv.Resource, map[string]any{
		"levels":   inv.Levels,
		"max_uses": inv.MaxUses,
	})
	return &inv, nil
}

// Get returns the invite for a code. Possession of the code is the
// authorization; there is nothing else to check.
func (s *Service) Get(ctx context.Context, code string) (*Invite, error) {
	inv, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCode
		}
		return nil, err
	}
	return inv, nil
}

// Redeem applies the invite's permission set to the redeemer. Checks run in a
// fixed order so every failure mode maps to one stable error: unknown code,
// then expiry, then exhaustion, then already-satisfied. Only a redemption
// that will actually grant something consumes a use.
func (s *Service) Redeem(ctx context.Context, code string, redeemer *shared.Principal) (*Redemption, error) {
	inv, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCode
		}
		return nil, err
	}

	if inv.ExpiresAt != nil && inv.ExpiresAt.Before(s.now()) {
		return nil, ErrExpired
	}
	if inv.MaxUses != nil && inv.UsageCount >= *inv.MaxUses {
		return nil, ErrExhausted
	}

	held, err := s.grants.HeldLevel(ctx, inv.Resource, redeemer.ID)
	if err != nil {
		return nil, err
	}
	target := inv.EffectiveLevel()
	if held.Covers(target) {
		return nil, ErrAlreadySatisfied
	}

	consumed, err := s.repo.ConsumeUse(ctx, code)
	if err != nil {
		return nil, err
	}
	if !consumed {
		// Lost the race for the last use.
		return nil, ErrExhausted
	}

	merged, err := s.grants.MergeGrant(ctx, inv.Resource, redeemer.ID, inv.CreatedBy, target)
	if err != nil {
		// The use is already burned; surface the error rather than trying to
		// hand it back and risk exceeding the cap.
		return nil, fmt.Errorf("invite: apply grant: %w", err)
	}

	s.recordAudit(ctx, redeemer.ID, "invite.redeem", inv.Resource, map[string]any{
		"granted": inv.Levels,
		"level":   merged.String(),
	})
	return &Redemption{Resource: inv.Resource, Granted: inv.Levels, Level: merged}, nil
}

// ListByResource returns the invites on a resource for admins of it.
func (s *Service) ListByResource(ctx context.Context, ref resource.Ref, actor *shared.Principal) ([]Invite, error) {
	if err := s.grants.Authorize(ctx, ref, actor.ID, access.LevelAdmin); err != nil {
		return nil, err
	}
	return s.repo.ListByResource(ctx, ref)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, ref resource.Ref, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   string(ref.Kind),
		EntityID: fmt.Sprintf("%d", ref.ID),
		Meta:     meta,
	}); err != nil && s.logger != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
