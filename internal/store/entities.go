package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/veyra/stronghold/internal/types"
)

/*
 * Entity tables share one generic shape (id, name, level, data, version,
 * timestamps) plus a kind-specific parent column. entityTables drives the
 * generic accessors; table and column names come from this map only, never
 * from caller input, so the fmt.Sprintf query construction is safe.
 */

type entityTable struct {
	table        string
	parentColumn string
	parentKind   types.EntityKind // empty when the parent is the campaign itself
}

var entityTables = map[types.EntityKind]entityTable{
	types.KindKingdom:    {table: "kingdoms", parentColumn: "campaign_id"},
	types.KindSettlement: {table: "settlements", parentColumn: "kingdom_id", parentKind: types.KindKingdom},
	types.KindStructure:  {table: "structures", parentColumn: "settlement_id", parentKind: types.KindSettlement},
	types.KindParty:      {table: "parties", parentColumn: "campaign_id"},
	types.KindCharacter:  {table: "characters", parentColumn: "party_id", parentKind: types.KindParty},
}

type entityRow struct {
	ID        types.EntityID  `db:"id"`
	ParentID  *types.EntityID `db:"parent_id"`
	Name      string          `db:"name"`
	Level     int             `db:"level"`
	Data      []byte          `db:"data"`
	Version   int64           `db:"version"`
	CreatedAt time.Time       `db:"created_at"`
	UpdatedAt time.Time       `db:"updated_at"`
	DeletedAt *time.Time      `db:"deleted_at"`
}

func (r *entityRow) record(kind types.EntityKind) (*types.EntityRecord, error) {
	data := map[string]any{}
	if len(r.Data) > 0 {
		if err := json.Unmarshal(r.Data, &data); err != nil {
			return nil, fmt.Errorf("corrupt data column on %s %s: %w", kind, r.ID, err)
		}
	}
	return &types.EntityRecord{
		ID:        r.ID,
		Kind:      kind,
		Name:      r.Name,
		Level:     r.Level,
		ParentID:  r.ParentID,
		Data:      data,
		Version:   r.Version,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		DeletedAt: r.DeletedAt,
	}, nil
}

// EntityUpdate is a partial entity mutation. Nil fields are left unchanged;
// Data entries merge into the stored data map, with explicit nil values
// removing keys.
type EntityUpdate struct {
	Name  *string
	Level *int
	Data  map[string]any
}

// CreateCampaign registers a campaign root.
func (s *Store) CreateCampaign(ctx context.Context, id types.CampaignID, name string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO campaigns (id, name, data, version, created_at, updated_at) VALUES (?, ?, '{}', 1, ?, ?)`),
		id, name, now, now)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

// InsertEntity persists a new entity row at version 1 and writes its first
// snapshot. rec.ParentID must reference the parent table for the kind.
func (s *Store) InsertEntity(ctx context.Context, rec *types.EntityRecord) error {
	et, ok := entityTables[rec.Kind]
	if !ok {
		return types.ErrUnknownEntityKind
	}
	if rec.ParentID == nil {
		return fmt.Errorf("%s requires a parent %s", rec.Kind, et.parentColumn)
	}

	data, err := json.Marshal(dataOrEmpty(rec.Data))
	if err != nil {
		return fmt.Errorf("failed to encode entity data: %w", err)
	}

	now := time.Now().UTC()
	rec.Version = 1
	rec.CreatedAt = now
	rec.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(
		`INSERT INTO %s (id, %s, name, level, data, version, created_at, updated_at) VALUES (?, ?, ?, ?, ?, 1, ?, ?)`,
		et.table, et.parentColumn)
	if _, err := tx.ExecContext(ctx, tx.Rebind(query),
		rec.ID, rec.ParentID, rec.Name, rec.Level, string(data), now, now); err != nil {
		return fmt.Errorf("failed to insert %s: %w", rec.Kind, err)
	}

	if err := s.appendSnapshot(ctx, tx, rec, types.DefaultBranch, now); err != nil {
		return err
	}
	return tx.Commit()
}

// GetEntity loads one entity row by kind and id.
func (s *Store) GetEntity(ctx context.Context, kind types.EntityKind, id types.EntityID) (*types.EntityRecord, error) {
	et, ok := entityTables[kind]
	if !ok {
		return nil, types.ErrUnknownEntityKind
	}

	var row entityRow
	query := fmt.Sprintf(
		`SELECT id, %s AS parent_id, name, level, data, version, created_at, updated_at, deleted_at FROM %s WHERE id = ? AND deleted_at IS NULL`,
		et.parentColumn, et.table)
	err := s.db.GetContext(ctx, &row, s.db.Rebind(query), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", kind, err)
	}
	return row.record(kind)
}

// CampaignForEntity resolves the campaign an entity belongs to by walking
// its parent chain (structure -> settlement -> kingdom -> campaign).
func (s *Store) CampaignForEntity(ctx context.Context, kind types.EntityKind, id types.EntityID) (types.CampaignID, error) {
	currentKind, currentID := kind, id
	for {
		et, ok := entityTables[currentKind]
		if !ok {
			return "", types.ErrUnknownEntityKind
		}

		var parent types.EntityID
		query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ? AND deleted_at IS NULL`, et.parentColumn, et.table)
		err := s.db.GetContext(ctx, &parent, s.db.Rebind(query), currentID)
		if errors.Is(err, sql.ErrNoRows) {
			return "", types.ErrNotFound
		}
		if err != nil {
			return "", fmt.Errorf("failed to resolve parent of %s %s: %w", currentKind, currentID, err)
		}

		if et.parentKind == "" {
			return types.CampaignID(parent), nil
		}
		currentKind, currentID = et.parentKind, parent
	}
}

// ChildStructureIDs lists the live structures of a settlement. Drives cache
// cascades when a settlement changes.
func (s *Store) ChildStructureIDs(ctx context.Context, settlementID types.EntityID) ([]types.EntityID, error) {
	var ids []types.EntityID
	err := s.db.SelectContext(ctx, &ids, s.db.Rebind(
		`SELECT id FROM structures WHERE settlement_id = ? AND deleted_at IS NULL ORDER BY id`), settlementID)
	if err != nil {
		return nil, fmt.Errorf("failed to list structures: %w", err)
	}
	return ids, nil
}

// UpdateEntityVersioned applies a partial update if expectedVersion still
// matches, in one transaction with the snapshot rotation: the current
// snapshot is closed and a new one appended. Returns the updated record.
func (s *Store) UpdateEntityVersioned(ctx context.Context, kind types.EntityKind, id types.EntityID, branch types.BranchID, expectedVersion int64, update EntityUpdate) (*types.EntityRecord, error) {
	et, ok := entityTables[kind]
	if !ok {
		return nil, types.ErrUnknownEntityKind
	}

	rec, err := s.GetEntity(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if rec.Version != expectedVersion {
		return nil, &types.ConflictError{
			EntityType: string(kind),
			EntityID:   string(id),
			Expected:   expectedVersion,
			Actual:     rec.Version,
		}
	}

	if update.Name != nil {
		rec.Name = *update.Name
	}
	if update.Level != nil {
		rec.Level = *update.Level
	}
	for k, v := range update.Data {
		if v == nil {
			delete(rec.Data, k)
			continue
		}
		rec.Data[k] = v
	}

	data, err := json.Marshal(dataOrEmpty(rec.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to encode entity data: %w", err)
	}

	now := time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(
		`UPDATE %s SET name = ?, level = ?, data = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ? AND deleted_at IS NULL`,
		et.table)
	res, err := tx.ExecContext(ctx, tx.Rebind(query),
		rec.Name, rec.Level, string(data), now, id, expectedVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to update %s: %w", kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Lost a race between the read above and this write. Re-read on the
		// open transaction: the pool may have no free connection.
		var actual int64
		versionQuery := fmt.Sprintf(`SELECT version FROM %s WHERE id = ?`, et.table)
		if gerr := tx.GetContext(ctx, &actual, tx.Rebind(versionQuery), id); gerr != nil {
			if errors.Is(gerr, sql.ErrNoRows) {
				return nil, types.ErrNotFound
			}
			return nil, gerr
		}
		return nil, &types.ConflictError{
			EntityType: string(kind),
			EntityID:   string(id),
			Expected:   expectedVersion,
			Actual:     actual,
		}
	}

	rec.Version = expectedVersion + 1
	rec.UpdatedAt = now

	if _, err := s.q.ExecTx(ctx, tx, "close-current-version", now, kind, id, branch); err != nil {
		return nil, fmt.Errorf("failed to close current snapshot: %w", err)
	}
	if err := s.appendSnapshot(ctx, tx, rec, branch, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit entity update: %w", err)
	}
	return rec, nil
}

func dataOrEmpty(data map[string]any) map[string]any {
	if data == nil {
		return map[string]any{}
	}
	return data
}
