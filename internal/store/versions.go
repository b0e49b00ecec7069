package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/veyra/stronghold/internal/types"
)

// snapshotPayload is the JSON shape stored in the versions table.
type snapshotPayload struct {
	ID    types.EntityID `json:"id"`
	Name  string         `json:"name"`
	Level int            `json:"level"`
	Data  map[string]any `json:"data"`
}

func (s *Store) appendSnapshot(ctx context.Context, tx *sqlx.Tx, rec *types.EntityRecord, branch types.BranchID, at time.Time) error {
	payload, err := json.Marshal(snapshotPayload{
		ID:    rec.ID,
		Name:  rec.Name,
		Level: rec.Level,
		Data:  dataOrEmpty(rec.Data),
	})
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if _, err := s.q.ExecTx(ctx, tx, "insert-version",
		rec.Kind, rec.ID, branch, rec.Version, at, string(payload)); err != nil {
		return fmt.Errorf("failed to append snapshot: %w", err)
	}
	return nil
}

// VersionAt returns the snapshot of an entity valid at the given instant on
// a branch, or ErrNotFound when the entity did not exist yet.
func (s *Store) VersionAt(ctx context.Context, kind types.EntityKind, id types.EntityID, branch types.BranchID, at time.Time) (*types.VersionRecord, error) {
	var v types.VersionRecord
	err := s.q.Get(ctx, "version-at", &v, kind, id, branch, at, at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return &v, nil
}

// VersionHistory returns every snapshot of an entity on a branch, oldest
// first.
func (s *Store) VersionHistory(ctx context.Context, kind types.EntityKind, id types.EntityID, branch types.BranchID) ([]types.VersionRecord, error) {
	var out []types.VersionRecord
	if err := s.q.Select(ctx, "version-history", &out, kind, id, branch); err != nil {
		return nil, fmt.Errorf("failed to load snapshot history: %w", err)
	}
	return out, nil
}
