package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/herald-labs/herald/internal/resource"
	"github.com/herald-labs/herald/internal/shared"
	"github.com/herald-labs/herald/internal/users"
)

// OwnerResolver resolves the owning principal of a resource.
type OwnerResolver interface {
	Owner(ctx context.Context, ref resource.Ref) (int64, error)
}

// Service orchestrates direct sharing between principals.
type Service struct {
	repo      Repository
	owners    OwnerResolver
	directory users.Directory
	audit     *shared.AuditLogger
	logger    *slog.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, owners OwnerResolver, directory users.Directory, audit *shared.AuditLogger, logger *slog.Logger) *Service {
	return &Service{repo: repo, owners: owners, directory: directory, audit: audit, logger: logger}
}

// Grant shares the resource with the principal identified by email. The
// granter must hold Admin on the resource; owners hold implicit Admin. If a
// grant already exists the resulting level is the maximum of the existing and
// the requested level.
func (s *Service) Grant(ctx context.Context, ref resource.Ref, granter *shared.Principal, granteeEmail string, level Level) (*Grant, error) {
	if !level.Valid() {
		return nil, fmt.Errorf("%w: invalid permission level", shared.ErrConflict)
	}
	if err := s.Authorize(ctx, ref, granter.ID, LevelAdmin); err != nil {
		return nil, err
	}

	grantee, err := s.directory.FindByEmail(ctx, granteeEmail)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return nil, fmt.Errorf("%w: no user with email %s", shared.ErrNotFound, granteeEmail)
		}
		return nil, fmt.Errorf("resolve grantee: %w", err)
	}

	merged, err := s.repo.Merge(ctx, Grant{
		Resource:  ref,
		GranteeID: grantee.ID,
		Level:     level,
		CreatedBy: granter.ID,
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, granter.ID, "share", ref, map[string]any{
		"grantee_id": grantee.ID,
		"requested":  level.String(),
		"resulting":  merged.String(),
	})

	return s.repo.Get(ctx, ref, grantee.ID)
}

// Revoke removes the grantee's grant on the resource. Revoking a grant that
// does not exist is a no-op success.
func (s *Service) Revoke(ctx context.Context, ref resource.Ref, granter *shared.Principal, granteeEmail string) error {
	if err := s.Authorize(ctx, ref, granter.ID, LevelAdmin); err != nil {
		return err
	}

	grantee, err := s.directory.FindByEmail(ctx, granteeEmail)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return fmt.Errorf("%w: no user with email %s", shared.ErrNotFound, granteeEmail)
		}
		return fmt.Errorf("resolve grantee: %w", err)
	}

	deleted, err := s.repo.Delete(ctx, ref, grantee.ID)
	if err != nil {
		return err
	}
	if deleted {
		s.recordAudit(ctx, granter.ID, "unshare", ref, map[string]any{"grantee_id": grantee.ID})
	}
	return nil
}

// Authorize checks that the principal holds at least the required level on
// the resource. The owner always passes.
func (s *Service) Authorize(ctx context.Context, ref resource.Ref, principalID int64, required Level) error {
	ownerID, err := s.owners.Owner(ctx, ref)
	if err != nil {
		return err
	}
	if ownerID == principalID {
		return nil
	}

	grant, err := s.repo.Get(ctx, ref, principalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: no %s permission on %s", shared.ErrForbidden, required, ref)
		}
		return err
	}
	if !grant.Level.Covers(required) {
		return fmt.Errorf("%w: %s permission required on %s", shared.ErrForbidden, required, ref)
	}
	return nil
}

// HeldLevel returns the effective level the principal holds on the resource:
// Admin for the owner, the grant level otherwise, zero when nothing is held.
func (s *Service) HeldLevel(ctx context.Context, ref resource.Ref, principalID int64) (Level, error) {
	ownerID, err := s.owners.Owner(ctx, ref)
	if err != nil {
		return 0, err
	}
	if ownerID == principalID {
		return LevelAdmin, nil
	}
	grant, err := s.repo.Get(ctx, ref, principalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return grant.Level, nil
}

// ListGrants returns every grant on the resource. Listing requires Admin.
func (s *Service) ListGrants(ctx context.Context, ref resource.Ref, actor *shared.Principal) ([]Grant, error) {
	if err := s.Authorize(ctx, ref, actor.ID, LevelAdmin); err != nil {
		return nil, err
	}
	return s.repo.ListByResource(ctx, ref)
}

// MergeGrant applies the invite-derived permission set to the grantee using
// the same upgrade-only merge as direct grants.
func (s *Service) MergeGrant(ctx context.Context, ref resource.Ref, granteeID, createdBy int64, level Level) (Level, error) {
	return s.repo.Merge(ctx, Grant{
		Resource:  ref,
		GranteeID: granteeID,
		Level:     level,
		CreatedBy: createdBy,
	})
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
