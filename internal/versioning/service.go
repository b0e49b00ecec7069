// Package versioning is the write path for campaign entities: optimistic
// concurrency, time-travel snapshots, post-commit change notification and
// the cache cascades every mutation triggers.
package versioning

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/veyra/stronghold/internal/access"
	"github.com/veyra/stronghold/internal/audit"
	"github.com/veyra/stronghold/internal/bus"
	"github.com/veyra/stronghold/internal/cache"
	"github.com/veyra/stronghold/internal/store"
	"github.com/veyra/stronghold/internal/types"
)

// Service coordinates versioned entity updates.
type Service struct {
	store *store.Store
	cache *cache.Cache
	bus   bus.Publisher
	audit audit.Sink
	log   *slog.Logger
}

// NewService wires the versioning service.
func NewService(st *store.Store, c *cache.Cache, publisher bus.Publisher, sink audit.Sink, log *slog.Logger) *Service {
	return &Service{store: st, cache: c, bus: publisher, audit: sink, log: log}
}

// UpdateEntity applies a partial update if expectedVersion still matches the
// stored row. The write and its snapshot rotation commit in one transaction;
// a mismatch yields ConflictError carrying both versions. Only after the
// commit: the change event is published fire-and-forget, caches cascade per
// the entity's position in the hierarchy, and the mutation is audited.
func (s *Service) UpdateEntity(ctx context.Context, kind types.EntityKind, id types.EntityID, branch types.BranchID, expectedVersion int64, update store.EntityUpdate) (*types.EntityRecord, error) {
	if branch == "" {
		branch = types.DefaultBranch
	}

	campaign, err := s.store.CampaignForEntity(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if caller := access.CallerFromContext(ctx); caller != nil && !caller.CanAccess(campaign) {
		return nil, types.ErrNotFound
	}

	rec, err := s.store.UpdateEntityVersioned(ctx, kind, id, branch, expectedVersion, update)
	if err != nil {
		return nil, err
	}

	actor := access.Actor(ctx)
	s.bus.Publish(ctx, types.ChangeEvent{
		EntityType: string(kind),
		EntityID:   string(id),
		Version:    rec.Version,
		Actor:      actor,
		OccurredAt: rec.UpdatedAt,
	})
	s.cascade(ctx, campaign, rec)
	s.audit.Record(ctx, audit.Entry{
		Actor:      actor,
		Action:     "entity.update",
		EntityType: string(kind),
		EntityID:   string(id),
		Detail:     fmt.Sprintf("version=%d branch=%s", rec.Version, branch),
	})
	return rec, nil
}

// EntityAt reconstructs an entity as it was at the given instant on a
// branch, from its snapshot history.
func (s *Service) EntityAt(ctx context.Context, kind types.EntityKind, id types.EntityID, branch types.BranchID, at time.Time) (*types.EntityRecord, error) {
	if branch == "" {
		branch = types.DefaultBranch
	}
	snap, err := s.store.VersionAt(ctx, kind, id, branch, at)
	if err != nil {
		return nil, err
	}

	var payload struct {
		ID    types.EntityID `json:"id"`
		Name  string         `json:"name"`
		Level int            `json:"level"`
		Data  map[string]any `json:"data"`
	}
	if err := json.Unmarshal(snap.Payload, &payload); err != nil {
		return nil, fmt.Errorf("corrupt snapshot payload: %w", err)
	}
	return &types.EntityRecord{
		ID:      payload.ID,
		Kind:    kind,
		Name:    payload.Name,
		Level:   payload.Level,
		Data:    payload.Data,
		Version: snap.Version,
	}, nil
}

// History returns every snapshot of an entity on a branch, oldest first.
func (s *Service) History(ctx context.Context, kind types.EntityKind, id types.EntityID, branch types.BranchID) ([]types.VersionRecord, error) {
	if branch == "" {
		branch = types.DefaultBranch
	}
	return s.store.VersionHistory(ctx, kind, id, branch)
}

// cascade invalidates exactly the cache entries an update can have made
// stale: the entity's own computed fields always; for settlements also every
// child structure, the kingdom's settlement list and its spatial entries;
// for structures also the parent settlement and its structure list. Never
// sideways to siblings.
func (s *Service) cascade(ctx context.Context, campaign types.CampaignID, rec *types.EntityRecord) {
	s.cache.InvalidateEntityComputedFields(ctx, campaign, rec.Kind, rec.ID)

	switch rec.Kind {
	case types.KindSettlement:
		children, err := s.store.ChildStructureIDs(ctx, rec.ID)
		if err != nil {
			s.log.WarnContext(ctx, "failed to list child structures, cascade incomplete",
				"settlement", rec.ID,
				"error", err,
			)
		}
		for _, child := range children {
			s.cache.InvalidateEntityComputedFields(ctx, campaign, types.KindStructure, child)
		}
		if rec.ParentID != nil {
			s.cache.Del(ctx, cache.SettlementListKey(*rec.ParentID))
			s.cache.DelPattern(ctx, cache.SpatialPrefix(*rec.ParentID))
		}
	case types.KindStructure:
		if rec.ParentID != nil {
			s.cache.InvalidateEntityComputedFields(ctx, campaign, types.KindSettlement, *rec.ParentID)
			s.cache.Del(ctx, cache.StructureListKey(*rec.ParentID))
		}
	}
}
