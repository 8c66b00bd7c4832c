package invite

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/herald-labs/herald/internal/access"
	"github.com/herald-labs/herald/internal/resource"
	"github.com/herald-labs/herald/internal/shared"
)

type memoryInviteRepo struct {
	invites map[string]Invite

	// consumeDenied simulates losing the conditional update race.
	consumeDenied bool
}

func newMemoryInviteRepo() *memoryInviteRepo {
	return &memoryInviteRepo{invites: make(map[string]Invite)}
}

func (r *memoryInviteRepo) Create(ctx context.Context, inv Invite) error {
	r.invites[inv.Code] = inv
	return nil
}

func (r *memoryInviteRepo) GetByCode(ctx context.Context, code string) (*Invite, error) {
	inv, ok := r.invites[code]
	if !ok {
		return nil, ErrNotFound
	}
	return &inv, nil
}

func (r *memoryInviteRepo) ConsumeUse(ctx context.Context, code string) (bool, error) {
	if r.consumeDenied {
		return false, nil
	}
	inv, ok := r.invites[code]
	if !ok {
		return false, nil
	}
	if inv.MaxUses != nil && inv.UsageCount >= *inv.MaxUses {
		return false, nil
	}
	inv.UsageCount++
	r.invites[code] = inv
	return true, nil
}

func (r *memoryInviteRepo) ListByResource(ctx context.Context, ref resource.Ref) ([]Invite, error) {
	var out []Invite
	for _, inv := range r.invites {
		if inv.Resource == ref {
			out = append(out, inv)
		}
	}
	return out, nil
}

type grantKey struct {
	ref       resource.Ref
	principal int64
}

type memoryGrants struct {
	owners map[resource.Ref]int64
	held   map[grantKey]access.Level
}

func newMemoryGrants() *memoryGrants {
	return &memoryGrants{
		owners: make(map[resource.Ref]int64),
		held:   make(map[grantKey]access.Level),
	}
}

func (g *memoryGrants) Authorize(ctx context.Context, ref resource.Ref, principalID int64, required access.Level) error {
	level, err := g.HeldLevel(ctx, ref, principalID)
	if err != nil {
		return err
	}
	if !level.Covers(required) {
		return fmt.Errorf("%w: %s permission required on %s", shared.ErrForbidden, required, ref)
	}
	return nil
}

func (g *memoryGrants) HeldLevel(ctx context.Context, ref resource.Ref, principalID int64) (access.Level, error) {
	if g.owners[ref] == principalID {
		return access.LevelAdmin, nil
	}
	return g.held[grantKey{ref, principalID}], nil
}

func (g *memoryGrants) MergeGrant(ctx context.Context, ref resource.Ref, granteeID, createdBy int64, level access.Level) (access.Level, error) {
	key := grantKey{ref, granteeID}
	merged := access.Max(g.held[key], level)
	g.held[key] = merged
	return merged, nil
}

var testTopic = resource.Ref{Kind: resource.KindTopic, ID: 7}

func newTestService() (*Service, *memoryInviteRepo, *memoryGrants) {
	repo := newMemoryInviteRepo()
	grants := newMemoryGrants()
	grants.owners[testTopic] = 1
	return NewService(repo, grants, nil, slog.Default()), repo, grants
}

func principal(id int64) *shared.Principal {
	return &shared.Principal{ID: id}
}

func intPtr(n int) *int { return &n }

func TestCreateRequiresAdmin(t *testing.T) {
	svc, _, grants := newTestService()
	ctx := context.Background()
	params := CreateParams{Resource: testTopic, Levels: []access.Level{access.LevelRead}}

	_, err := svc.Create(ctx, principal(2), params)
	require.ErrorIs(t, err, shared.ErrForbidden)

	// A delegated admin qualifies just like the owner.
	grants.held[grantKey{testTopic, 2}] = access.LevelAdmin
	inv, err := svc.Create(ctx, principal(2), params)
	require.NoError(t, err)
	require.Len(t, inv.Code, CodeLength)
	require.Equal(t, testTopic, inv.Resource)
}

func TestCreateValidatesParams(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	owner := principal(1)

	_, err := svc.Create(ctx, owner, CreateParams{Resource: testTopic})
	require.ErrorIs(t, err, shared.ErrConflict, "empty permission set")

	_, err = svc.Create(ctx, owner, CreateParams{Resource: testTopic, Levels: []access.Level{access.Level(9)}})
	require.ErrorIs(t, err, shared.ErrConflict, "invalid level")

	_, err = svc.Create(ctx, owner, CreateParams{Resource: testTopic, Levels: []access.Level{access.LevelRead}, MaxUses: intPtr(0)})
	require.ErrorIs(t, err, shared.ErrConflict, "non-positive max_uses")

	_, err = svc.Create(ctx, owner, CreateParams{Resource: resource.Ref{Kind: "folder", ID: 1}, Levels: []access.Level{access.LevelRead}})
	require.ErrorIs(t, err, shared.ErrConflict, "unknown resource kind")
}

func TestRedeemUnknownCode(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.Redeem(context.Background(), "NOSUCHCODE", principal(2))
	require.ErrorIs(t, err, ErrInvalidCode)
}

func TestRedeemExpiredBeatsRemainingUses(t *testing.T) {
	svc, repo, _ := newTestService()
	past := time.Now().Add(-time.Hour)
	repo.invites["CODE"] = Invite{
		Code:      "CODE",
		Resource:  testTopic,
		Levels:    []access.Level{access.LevelWrite},
		MaxUses:   intPtr(5),
		ExpiresAt: &past,
		CreatedBy: 1,
	}

	_, err := svc.Redeem(context.Background(), "CODE", principal(2))
	require.ErrorIs(t, err, ErrExpired)
	require.Equal(t, 0, repo.invites["CODE"].UsageCount, "rejection must not consume a use")
}

func TestRedeemUsageCap(t *testing.T) {
	svc, repo, grants := newTestService()
	ctx := context.Background()
	inv, err := svc.Create(ctx, principal(1), CreateParams{
		Resource: testTopic,
		Levels:   []access.Level{access.LevelRead, access.LevelWrite},
		MaxUses:  intPtr(2),
	})
	require.NoError(t, err)

	first, err := svc.Redeem(ctx, inv.Code, principal(2))
	require.NoError(t, err)
	second, err := svc.Redeem(ctx, inv.Code, principal(3))
	require.NoError(t, err)
	require.Equal(t, first.Granted, second.Granted)
	require.Equal(t, access.LevelWrite, first.Level)
	require.Equal(t, access.LevelWrite, second.Level)

	_, err = svc.Redeem(ctx, inv.Code, principal(4))
	require.ErrorIs(t, err, ErrExhausted)

	require.Equal(t, 2, repo.invites[inv.Code].UsageCount)
	require.Equal(t, access.LevelWrite, grants.held[grantKey{testTopic, 2}])
	require.Equal(t, access.LevelWrite, grants.held[grantKey{testTopic, 3}])
	require.Zero(t, grants.held[grantKey{testTopic, 4}])
}

func TestRedeemUpgradesExistingGrant(t *testing.T) {
	svc, _, grants := newTestService()
	ctx := context.Background()
	grants.held[grantKey{testTopic, 2}] = access.LevelRead

	inv, err := svc.Create(ctx, principal(1), CreateParams{Resource: testTopic, Levels: []access.Level{access.LevelWrite}})
	require.NoError(t, err)

	redemption, err := svc.Redeem(ctx, inv.Code, principal(2))
	require.NoError(t, err)
	require.Equal(t, access.LevelWrite, redemption.Level)
	require.Equal(t, access.LevelWrite, grants.held[grantKey{testTopic, 2}])
}

func TestRedeemAlreadySatisfiedNeverDowngrades(t *testing.T) {
	svc, repo, grants := newTestService()
	ctx := context.Background()
	grants.held[grantKey{testTopic, 2}] = access.LevelWrite

	inv, err := svc.Create(ctx, principal(1), CreateParams{Resource: testTopic, Levels: []access.Level{access.LevelRead}, MaxUses: intPtr(3)})
	require.NoError(t, err)

	_, err = svc.Redeem(ctx, inv.Code, principal(2))
	require.ErrorIs(t, err, ErrAlreadySatisfied)
	require.Equal(t, access.LevelWrite, grants.held[grantKey{testTopic, 2}], "held grant stays untouched")
	require.Equal(t, 0, repo.invites[inv.Code].UsageCount, "no-op redemption must not consume a use")
}

func TestRedeemOwnerAlreadySatisfied(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	inv, err := svc.Create(ctx, principal(1), CreateParams{Resource: testTopic, Levels: []access.Level{access.LevelAdmin}})
	require.NoError(t, err)

	_, err = svc.Redeem(ctx, inv.Code, principal(1))
	require.ErrorIs(t, err, ErrAlreadySatisfied)
}

func TestRedeemLostConsumeRaceIsExhausted(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	inv, err := svc.Create(ctx, principal(1), CreateParams{Resource: testTopic, Levels: []access.Level{access.LevelRead}, MaxUses: intPtr(1)})
	require.NoError(t, err)

	repo.consumeDenied = true
	_, err = svc.Redeem(ctx, inv.Code, principal(2))
	require.ErrorIs(t, err, ErrExhausted)
}

func TestListByResourceRequiresAdmin(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	_, err := svc.Create(ctx, principal(1), CreateParams{Resource: testTopic, Levels: []access.Level{access.LevelRead}})
	require.NoError(t, err)

	_, err = svc.ListByResource(ctx, testTopic, principal(2))
	require.ErrorIs(t, err, shared.ErrForbidden)

	invites, err := svc.ListByResource(ctx, testTopic, principal(1))
	require.NoError(t, err)
	require.Len(t, invites, 1)
}
