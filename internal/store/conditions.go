package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/veyra/stronghold/internal/types"
)

// ConditionFilter narrows ListConditions. Zero-value fields are ignored.
type ConditionFilter struct {
	EntityType      types.EntityKind
	EntityID        *types.EntityID
	CampaignID      *types.CampaignID
	BranchID        types.BranchID
	Field           string
	IncludeInactive bool
	Limit           int
	Offset          int
}

// InsertCondition persists a new condition at version 1.
func (s *Store) InsertCondition(ctx context.Context, c *types.Condition) error {
	now := time.Now().UTC()
	c.Version = 1
	c.CreatedAt = now
	c.UpdatedAt = now
	_, err := s.q.Exec(ctx, "insert-condition",
		c.ID, c.EntityType, c.EntityID, c.CampaignID, c.BranchID,
		c.Field, string(c.Expression), c.Priority, c.IsActive, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert condition: %w", err)
	}
	return nil
}

// GetCondition loads one condition by id.
func (s *Store) GetCondition(ctx context.Context, id types.ConditionID) (*types.Condition, error) {
	var c types.Condition
	err := s.q.Get(ctx, "get-condition", &c, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get condition: %w", err)
	}
	return &c, nil
}

// ListConditions returns conditions matching the filter, winners first.
func (s *Store) ListConditions(ctx context.Context, filter ConditionFilter) ([]types.Condition, error) {
	var (
		where []string
		args  []any
	)
	where = append(where, "deleted_at IS NULL")
	if filter.EntityType != "" {
		where = append(where, "entity_type = ?")
		args = append(args, filter.EntityType)
	}
	if filter.EntityID != nil {
		where = append(where, "entity_id = ?")
		args = append(args, *filter.EntityID)
	}
	if filter.CampaignID != nil {
		where = append(where, "campaign_id = ?")
		args = append(args, *filter.CampaignID)
	}
	if filter.BranchID != "" {
		where = append(where, "branch_id = ?")
		args = append(args, filter.BranchID)
	}
	if filter.Field != "" {
		where = append(where, "field = ?")
		args = append(args, filter.Field)
	}
	if !filter.IncludeInactive {
		where = append(where, "is_active = TRUE")
	}

	query := `SELECT id, entity_type, entity_id, campaign_id, branch_id, field, expression, priority, is_active, version, created_at, updated_at, deleted_at
FROM conditions
WHERE ` + strings.Join(where, " AND ") + `
ORDER BY priority DESC, created_at ASC, id ASC`
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	var out []types.Condition
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list conditions: %w", err)
	}
	return out, nil
}

// ConditionsForEntity returns the active conditions applying to one entity
// on a branch: instance-level rows for that entity plus type-level rows,
// ordered by priority descending with creation time and id as tiebreakers.
func (s *Store) ConditionsForEntity(ctx context.Context, kind types.EntityKind, entityID types.EntityID, branch types.BranchID) ([]types.Condition, error) {
	var out []types.Condition
	if err := s.q.Select(ctx, "conditions-for-entity", &out, kind, entityID, branch); err != nil {
		return nil, fmt.Errorf("failed to load conditions for entity: %w", err)
	}
	return out, nil
}

// ActiveConditionsForCampaign returns every active condition attached to a
// campaign's entities on a branch. Feeds the dependency graph builder.
func (s *Store) ActiveConditionsForCampaign(ctx context.Context, campaign types.CampaignID, branch types.BranchID) ([]types.Condition, error) {
	var out []types.Condition
	if err := s.q.Select(ctx, "active-conditions-for-campaign", &out, campaign, branch); err != nil {
		return nil, fmt.Errorf("failed to load campaign conditions: %w", err)
	}
	return out, nil
}

// UpdateCondition applies field/expression/priority/is_active changes if
// c.Version still matches the stored row. On success the passed record is
// advanced to the new version. A stale version yields ConflictError carrying
// the actual stored version.
func (s *Store) UpdateCondition(ctx context.Context, c *types.Condition) error {
	now := time.Now().UTC()
	res, err := s.q.Exec(ctx, "update-condition",
		c.Field, string(c.Expression), c.Priority, c.IsActive, now, c.ID, c.Version)
	if err != nil {
		return fmt.Errorf("failed to update condition: %w", err)
	}
	if err := s.checkVersionedWrite(ctx, res, "condition-version", "condition", string(c.ID), c.Version); err != nil {
		return err
	}
	c.Version++
	c.UpdatedAt = now
	return nil
}

// SetConditionActive toggles a condition under the same optimistic lock as
// UpdateCondition.
func (s *Store) SetConditionActive(ctx context.Context, id types.ConditionID, active bool, expectedVersion int64) error {
	res, err := s.q.Exec(ctx, "set-condition-active", active, time.Now().UTC(), id, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to toggle condition: %w", err)
	}
	return s.checkVersionedWrite(ctx, res, "condition-version", "condition", string(id), expectedVersion)
}

// SoftDeleteCondition marks a condition deleted. Deleting an already-deleted
// condition returns ErrNotFound.
func (s *Store) SoftDeleteCondition(ctx context.Context, id types.ConditionID) error {
	now := time.Now().UTC()
	res, err := s.q.Exec(ctx, "soft-delete-condition", now, now, id)
	if err != nil {
		return fmt.Errorf("failed to delete condition: %w", err)
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

// checkVersionedWrite interprets a zero-row optimistic update: the row is
// either gone (ErrNotFound) or at a different version (ConflictError with
// the stored version).
func (s *Store) checkVersionedWrite(ctx context.Context, res sql.Result, versionQuery, entityType, id string, expected int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var actual int64
	err = s.q.Get(ctx, versionQuery, &actual, id)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to resolve version conflict: %w", err)
	}
	return &types.ConflictError{EntityType: entityType, EntityID: id, Expected: expected, Actual: actual}
}
