package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/veyra/stronghold/internal/types"
)

// nullExpr binds an expression as a nullable TEXT parameter. json.RawMessage
// is a byte slice, which lib/pq would encode as bytea.
func nullExpr(e types.Expression) any {
	if len(e) == 0 {
		return nil
	}
	return string(e)
}

// InsertVariable persists a new variable at version 1. Rejects a second live
// variable with the same (scope, scope id, key).
func (s *Store) InsertVariable(ctx context.Context, v *types.Variable) error {
	existing, err := s.findLiveVariable(ctx, v.Scope, v.ScopeID, v.Key)
	if err != nil {
		return err
	}
	if existing != nil {
		return types.ErrDuplicateKey
	}

	now := time.Now().UTC()
	v.Version = 1
	v.CreatedAt = now
	v.UpdatedAt = now
	_, err = s.q.Exec(ctx, "insert-variable",
		v.ID, v.Scope, v.ScopeID, v.CampaignID, v.Key,
		nullExpr(v.Value), nullExpr(v.Formula), v.Type, v.IsActive, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert variable: %w", err)
	}
	return nil
}

// GetVariable loads one variable by id.
func (s *Store) GetVariable(ctx context.Context, id types.VariableID) (*types.Variable, error) {
	var v types.Variable
	err := s.q.Get(ctx, "get-variable", &v, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get variable: %w", err)
	}
	return &v, nil
}

// UpdateVariable applies value/formula/type/is_active changes under the
// optimistic lock. On success the passed record is advanced to the new
// version.
func (s *Store) UpdateVariable(ctx context.Context, v *types.Variable) error {
	now := time.Now().UTC()
	res, err := s.q.Exec(ctx, "update-variable",
		nullExpr(v.Value), nullExpr(v.Formula), v.Type, v.IsActive, now, v.ID, v.Version)
	if err != nil {
		return fmt.Errorf("failed to update variable: %w", err)
	}
	if err := s.checkVersionedWrite(ctx, res, "variable-version", "variable", string(v.ID), v.Version); err != nil {
		return err
	}
	v.Version++
	v.UpdatedAt = now
	return nil
}

// SoftDeleteVariable marks a variable deleted, freeing its key for reuse.
func (s *Store) SoftDeleteVariable(ctx context.Context, id types.VariableID) error {
	now := time.Now().UTC()
	res, err := s.q.Exec(ctx, "soft-delete-variable", now, now, id)
	if err != nil {
		return fmt.Errorf("failed to delete variable: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return types.ErrNotFound
	}
	return nil
}

// VariablesForScope returns the active variables of one scope instance,
// sorted by key.
func (s *Store) VariablesForScope(ctx context.Context, scope types.Scope, scopeID *types.EntityID) ([]types.Variable, error) {
	var out []types.Variable
	if err := s.q.Select(ctx, "variables-for-scope", &out, scope, scopeID); err != nil {
		return nil, fmt.Errorf("failed to load scope variables: %w", err)
	}
	return out, nil
}

// ActiveVariablesForCampaign returns every active variable attached to a
// campaign. Variables are branch independent; the branch parameter exists to
// satisfy the dependency graph source.
func (s *Store) ActiveVariablesForCampaign(ctx context.Context, campaign types.CampaignID, _ types.BranchID) ([]types.Variable, error) {
	var out []types.Variable
	if err := s.q.Select(ctx, "active-variables-for-campaign", &out, campaign); err != nil {
		return nil, fmt.Errorf("failed to load campaign variables: %w", err)
	}
	return out, nil
}

func (s *Store) findLiveVariable(ctx context.Context, scope types.Scope, scopeID *types.EntityID, key string) (*types.Variable, error) {
	var v types.Variable
	err := s.q.Get(ctx, "find-live-variable", &v, scope, scopeID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check variable key: %w", err)
	}
	return &v, nil
}
