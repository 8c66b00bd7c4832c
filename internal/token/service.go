package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/herald-labs/herald/internal/secrets"
	"github.com/herald-labs/herald/internal/shared"
)

// Authority issues and validates system access tokens.
type Authority struct {
	repo   Repository
	audit  *shared.AuditLogger
	logger *slog.Logger
	now    func() time.Time
}

// NewAuthority constructs an Authority.
func NewAuthority(repo Repository, audit *shared.AuditLogger, logger *slog.Logger) *Authority {
	return &Authority{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// IssueParams describes a token to mint.
type IssueParams struct {
	MaxCalls    int64
	ExpiresAt   *time.Time
	RequesterID *int64
	Description string
	Scopes      []string
	// StorePlaintext keeps an operator-visible copy of the credential on the
	// record. Only the request-approval flow sets it.
	StorePlaintext bool
}

// Issue mints a new token and returns the record together with the one-time
// plaintext credential. The store never exposes the plaintext again unless
// StorePlaintext was requested.
func (a *Authority) Issue(ctx context.Context, params IssueParams) (*Token, string, error) {
	tok, plaintext, err := a.mint(ctx, params)
	if err != nil {
		return nil, "", err
	}

	if err := a.repo.Create(ctx, tok); err != nil {
		return nil, "", err
	}

	a.recordAudit(ctx, params.RequesterID, "token.issue", "system_token", tok.ID, map[string]any{
		"max_calls": params.MaxCalls,
		"scopes":    params.Scopes,
	})
	return &tok, plaintext, nil
}

// mint validates the params and builds the token record without persisting it.
func (a *Authority) mint(ctx context.Context, params IssueParams) (Token, string, error) {
	if params.MaxCalls < 0 {
		return Token{}, "", fmt.Errorf("%w: max_calls must be >= 0", shared.ErrConflict)
	}
	for _, scope := range params.Scopes {
		if !shared.KnownScope(scope) {
			return Token{}, "", fmt.Errorf("%w: unknown scope %s", shared.ErrConflict, scope)
		}
	}
	if params.RequesterID != nil {
		exists, err := a.repo.RequesterExists(ctx, *params.RequesterID)
		if err != nil {
			return Token{}, "", err
		}
		if !exists {
			return Token{}, "", fmt.Errorf("%w: requester %d", shared.ErrNotFound, *params.RequesterID)
		}
	}

	keyID, err := secrets.GenerateKeyID()
	if err != nil {
		return Token{}, "", err
	}
	secret, err := secrets.GenerateSecret()
	if err != nil {
		return Token{}, "", err
	}
	hash, err := secrets.Hash(secret)
	if err != nil {
		return Token{}, "", err
	}

	plaintext := FormatBearer(keyID, secret)
	now := a.now().UTC()
	tok := Token{
		ID:          uuid.NewString(),
		KeyID:       keyID,
		SecretHash:  hash,
		Description: params.Description,
		MaxCalls:    params.MaxCalls,
		Scopes:      params.Scopes,
		ExpiresAt:   params.ExpiresAt,
		LastResetAt: now,
		RequesterID: params.RequesterID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if params.StorePlaintext {
		tok.PlaintextEcho = &plaintext
	}

	return tok, plaintext, nil
}

// Validate checks a bearer credential and returns the matching token record.
// It never mutates state; usage is incremented separately once the gated
// operation has succeeded. Every rejection maps to the same wire error so
// callers cannot probe which check failed.
func (a *Authority) Validate(ctx context.Context, bearer string) (*Token, error) {
	keyID, secret, err := SplitBearer(bearer)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}

	tok, err := a.repo.GetByKeyID(ctx, keyID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, shared.ErrInvalidCredentials
		}
		return nil, err
	}
	if !secrets.Verify(secret, tok.SecretHash) {
		return nil, shared.ErrInvalidCredentials
	}
	if tok.ExpiresAt != nil && tok.ExpiresAt.Before(a.now()) {
		return nil, shared.ErrInvalidCredentials
	}
	if tok.MaxCalls > 0 && tok.Calls >= tok.MaxCalls {
		return nil, shared.ErrInvalidCredentials
	}
	return tok, nil
}

// CheckScopes verifies the token may use every required scope. The first
// missing scope is named in the error.
func (a *Authority) CheckScopes(tok *Token, required ...string) error {
	for _, scope := range required {
		if !tok.HasScope(scope) {
			return fmt.Errorf("%w: token missing scope %s", shared.ErrForbidden, scope)
		}
	}
	return nil
}

// IncrementUsage records one successful use of the token.
func (a *Authority) IncrementUsage(ctx context.Context, id string) error {
	return a.repo.IncrementUsage(ctx, id)
}

// Get returns a token visible to the actor.
func (a *Authority) Get(ctx context.Context, id string, actor *shared.Principal) (*Token, error) {
	tok, err := a.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := a.canManage(tok, actor); err != nil {
		return nil, err
	}
	return tok, nil
}

// List returns all tokens for operators, or the actor's own tokens otherwise.
func (a *Authority) List(ctx context.Context, actor *shared.Principal) ([]Token, error) {
	if actor.Operator {
		return a.repo.List(ctx, nil)
	}
	return a.repo.List(ctx, &actor.ID)
}

// UpdateParams describes a token mutation. Nil fields are left unchanged.
type UpdateParams struct {
	Description *string
	MaxCalls    *int64
	Scopes      []string
	ExpiresAt   *time.Time
	RequesterID *int64
}

// Update mutates token metadata. Scope mutation on a token the actor does not
// own requires an operator; the rejection leaves the record untouched.
func (a *Authority) Update(ctx context.Context, id string, actor *shared.Principal, params UpdateParams) (*Token, error) {
	tok, err := a.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := a.canManage(tok, actor); err != nil {
		return nil, err
	}

	updates := make(map[string]any)
	if params.Description != nil {
		updates["description"] = *params.Description
	}
	if params.MaxCalls != nil {
		if *params.MaxCalls < 0 {
			return nil, fmt.Errorf("%w: max_calls must be >= 0", shared.ErrConflict)
		}
		updates["max_calls"] = *params.MaxCalls
	}
	if params.Scopes != nil {
		owned := tok.RequesterID != nil && *tok.RequesterID == actor.ID
		if !actor.Operator && !owned {
			return nil, fmt.Errorf("%w: scope changes on another principal's token require an operator", shared.ErrForbidden)
		}
		for _, scope := range params.Scopes {
			if !shared.KnownScope(scope) {
				return nil, fmt.Errorf("%w: unknown scope %s", shared.ErrConflict, scope)
			}
		}
		updates["scopes"] = params.Scopes
	}
	if params.ExpiresAt != nil {
		updates["expires_at"] = *params.ExpiresAt
	}
	if params.RequesterID != nil {
		exists, err := a.repo.RequesterExists(ctx, *params.RequesterID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("%w: requester %d", shared.ErrNotFound, *params.RequesterID)
		}
		updates["requester_id"] = *params.RequesterID
	}

	if len(updates) == 0 {
		return tok, nil
	}
	if err := a.repo.Update(ctx, id, updates); err != nil {
		return nil, err
	}

	a.recordAudit(ctx, &actor.ID, "token.update", "system_token", id, map[string]any{"fields": keysOf(updates)})
	return a.repo.Get(ctx, id)
}

// Revoke hard-deletes the token. Subsequent validations fail exactly like a
// token that never existed.
func (a *Authority) Revoke(ctx context.Context, id string, actor *shared.Principal) error {
	tok, err := a.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := a.canManage(tok, actor); err != nil {
		return err
	}

	deleted, err := a.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotFound
	}
	a.recordAudit(ctx, &actor.ID, "token.revoke", "system_token", id, nil)
	return nil
}

// CreateRequest opens a self-service token request.
func (a *Authority) CreateRequest(ctx context.Context, requester *shared.Principal, maxCalls int64, justification string) (*Request, error) {
	if maxCalls < 0 {
		return nil, fmt.Errorf("%w: max_calls must be >= 0", shared.ErrConflict)
	}
	req := Request{
		ID:            uuid.NewString(),
		RequesterID:   requester.ID,
		MaxCalls:      maxCalls,
		Justification: justification,
		Status:        StatusPending,
		CreatedAt:     a.now().UTC(),
	}
	if err := a.repo.CreateRequest(ctx, req); err != nil {
		return nil, err
	}
	return &req, nil
}

// ApproveRequest issues a token for the pending request and stores the
// one-time plaintext on the request for display.
func (a *Authority) ApproveRequest(ctx context.Context, id string, approver *shared.Principal) (*Request, error) {
	if !approver.Operator {
		return nil, fmt.Errorf("%w: approving token requests requires an operator", shared.ErrForbidden)
	}
	req, err := a.repo.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status.Terminal() {
		return nil, fmt.Errorf("%w: request already %s", shared.ErrConflict, req.Status)
	}

	tok, plaintext, err := a.mint(ctx, IssueParams{
		MaxCalls:       req.MaxCalls,
		RequesterID:    &req.RequesterID,
		Description:    req.Justification,
		StorePlaintext: true,
	})
	if err != nil {
		return nil, err
	}

	now := a.now().UTC()
	req.Status = StatusApproved
	req.TokenID = &tok.ID
	req.TokenPlaintext = &plaintext
	req.DecidedAt = &now
	req.DecidedBy = &approver.ID
	// Token insert and request decision commit as one transaction; a request
	// that raced to a terminal state rolls back without minting a credential.
	if err := a.repo.ApproveRequest(ctx, tok, *req); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: request already decided", shared.ErrConflict)
		}
		return nil, err
	}

	a.recordAudit(ctx, &req.RequesterID, "token.issue", "system_token", tok.ID, map[string]any{
		"max_calls": req.MaxCalls,
	})
	a.recordAudit(ctx, &approver.ID, "token_request.approve", "token_request", req.ID, map[string]any{"token_id": tok.ID})
	return req, nil
}

// DeclineRequest marks the pending request declined. Terminal states are final.
func (a *Authority) DeclineRequest(ctx context.Context, id string, decider *shared.Principal) (*Request, error) {
	if !decider.Operator {
		return nil, fmt.Errorf("%w: declining token requests requires an operator", shared.ErrForbidden)
	}
	req, err := a.repo.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status.Terminal() {
		return nil, fmt.Errorf("%w: request already %s", shared.ErrConflict, req.Status)
	}

	now := a.now().UTC()
	req.Status = StatusDeclined
	req.DecidedAt = &now
	req.DecidedBy = &decider.ID
	if err := a.repo.DecideRequest(ctx, *req); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: request already decided", shared.ErrConflict)
		}
		return nil, err
	}

	a.recordAudit(ctx, &decider.ID, "token_request.decline", "token_request", req.ID, nil)
	return req, nil
}

// ListRequests returns all requests for operators, the actor's own otherwise.
func (a *Authority) ListRequests(ctx context.Context, actor *shared.Principal) ([]Request, error) {
	if actor.Operator {
		return a.repo.ListRequests(ctx, nil)
	}
	return a.repo.ListRequests(ctx, &actor.ID)
}

func (a *Authority) canManage(tok *Token, actor *shared.Principal) error {
	if actor.Operator {
		return nil
	}
	if tok.RequesterID != nil && *tok.RequesterID == actor.ID {
		return nil
	}
	return fmt.Errorf("%w: token belongs to another principal", shared.ErrForbidden)
}

func (a *Authority) recordAudit(ctx context.Context, actorID *int64, action, entity, entityID string, meta map[string]any) {
	if a.audit == nil {
		return
	}
	var actor int64
	if actorID != nil {
		actor = *actorID
	}
	if err := a.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
	}); err != nil && a.logger != nil {
		a.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func keysOf(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
