// Package condition owns the lifecycle of computed-field rules: validation,
// persistence, evaluation traces and the campaign-wide invalidation every
// mutation triggers.
package condition

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/veyra/stronghold/internal/access"
	"github.com/veyra/stronghold/internal/audit"
	"github.com/veyra/stronghold/internal/cache"
	"github.com/veyra/stronghold/internal/expr"
	"github.com/veyra/stronghold/internal/graph"
	"github.com/veyra/stronghold/internal/store"
	"github.com/veyra/stronghold/internal/types"
)

// Service owns condition lifecycle.
type Service struct {
	store  *store.Store
	cache  *cache.Cache
	graphs *graph.Service
	audit  audit.Sink
	log    *slog.Logger
}

// NewService wires the condition service.
func NewService(st *store.Store, c *cache.Cache, graphs *graph.Service, sink audit.Sink, log *slog.Logger) *Service {
	return &Service{store: st, cache: c, graphs: graphs, audit: sink, log: log}
}

// Create validates and persists a new condition. Instance-level targets must
// exist and be reachable by the caller; the owning campaign is resolved from
// the target's parent chain and denormalized onto the record.
func (s *Service) Create(ctx context.Context, c *types.Condition) error {
	if err := validate(c); err != nil {
		return err
	}

	if c.EntityID != nil {
		campaign, err := s.store.CampaignForEntity(ctx, c.EntityType, *c.EntityID)
		if err != nil {
			return err
		}
		// A reachable entity outside the caller's campaigns reads the same
		// as a missing one.
		if err := s.checkAccess(ctx, &campaign); err != nil {
			return err
		}
		c.CampaignID = &campaign
	}

	if c.ID == "" {
		c.ID = types.NewConditionID()
	}
	if c.BranchID == "" {
		c.BranchID = types.DefaultBranch
	}
	if err := s.store.InsertCondition(ctx, c); err != nil {
		return err
	}

	s.record(ctx, "condition.create", c)
	s.invalidate(ctx, c)
	return nil
}

// FindByID loads a condition, filtered by the caller's campaign access.
func (s *Service) FindByID(ctx context.Context, id types.ConditionID) (*types.Condition, error) {
	c, err := s.store.GetCondition(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkAccess(ctx, c.CampaignID); err != nil {
		return nil, err
	}
	return c, nil
}

// FindMany lists conditions matching the filter, winners first. With a
// caller on the context, campaign-owned rows outside their campaigns are
// dropped; type-level rows are visible to everyone.
func (s *Service) FindMany(ctx context.Context, filter store.ConditionFilter) ([]types.Condition, error) {
	conditions, err := s.store.ListConditions(ctx, filter)
	if err != nil {
		return nil, err
	}

	caller := access.CallerFromContext(ctx)
	if caller == nil {
		return conditions, nil
	}
	visible := conditions[:0]
	for _, c := range conditions {
		if c.CampaignID == nil || caller.CanAccess(*c.CampaignID) {
			visible = append(visible, c)
		}
	}
	return visible, nil
}

// FindForEntity returns the active conditions applying to one entity (or,
// with a nil entity id, the type-level conditions of a kind), optionally
// narrowed to one field, ordered by priority descending with creation time
// and id as tiebreakers.
func (s *Service) FindForEntity(ctx context.Context, kind types.EntityKind, entityID *types.EntityID, field string, branch types.BranchID) ([]types.Condition, error) {
	if _, err := types.ParseEntityKind(string(kind)); err != nil {
		return nil, err
	}
	if branch == "" {
		branch = types.DefaultBranch
	}

	if entityID == nil {
		all, err := s.store.ListConditions(ctx, store.ConditionFilter{
			EntityType: kind,
			BranchID:   branch,
			Field:      field,
		})
		if err != nil {
			return nil, err
		}
		typeLevel := all[:0]
		for _, c := range all {
			if c.IsTypeLevel() {
				typeLevel = append(typeLevel, c)
			}
		}
		return typeLevel, nil
	}

	conditions, err := s.store.ConditionsForEntity(ctx, kind, *entityID, branch)
	if err != nil {
		return nil, err
	}
	if field == "" {
		return conditions, nil
	}
	matching := conditions[:0]
	for _, c := range conditions {
		if c.Field == field {
			matching = append(matching, c)
		}
	}
	return matching, nil
}

// Update applies field/expression/priority/is_active changes under the
// optimistic lock. c.Version must carry the version the caller read.
func (s *Service) Update(ctx context.Context, c *types.Condition) error {
	current, err := s.FindByID(ctx, c.ID)
	if err != nil {
		return err
	}

	check := *current
	check.Field = c.Field
	check.Expression = c.Expression
	check.Priority = c.Priority
	if err := validate(&check); err != nil {
		return err
	}

	if err := s.store.UpdateCondition(ctx, c); err != nil {
		return err
	}

	// Target and campaign are immutable; carry them back for invalidation.
	c.EntityType = current.EntityType
	c.EntityID = current.EntityID
	c.CampaignID = current.CampaignID
	c.BranchID = current.BranchID

	s.record(ctx, "condition.update", c)
	s.invalidate(ctx, c)
	return nil
}

// Delete soft-deletes a condition.
func (s *Service) Delete(ctx context.Context, id types.ConditionID) error {
	c, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.SoftDeleteCondition(ctx, id); err != nil {
		return err
	}
	s.record(ctx, "condition.delete", c)
	s.invalidate(ctx, c)
	return nil
}

// ToggleActive flips a condition's active flag under the optimistic lock.
func (s *Service) ToggleActive(ctx context.Context, id types.ConditionID, active bool, expectedVersion int64) error {
	c, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.SetConditionActive(ctx, id, active, expectedVersion); err != nil {
		return err
	}
	s.record(ctx, "condition.toggle", c)
	s.invalidate(ctx, c)
	return nil
}

// EvaluateCondition runs one condition against a caller-supplied context and
// returns the full evaluation trace for debugging.
func (s *Service) EvaluateCondition(ctx context.Context, id types.ConditionID, evalCtx map[string]any) (*expr.Trace, error) {
	c, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	trace := expr.EvaluateWithTrace(c.Expression, evalCtx)
	return &trace, nil
}

func validate(c *types.Condition) error {
	if _, err := types.ParseEntityKind(string(c.EntityType)); err != nil {
		return err
	}
	if c.Field == "" || len(c.Field) > types.MaxFieldNameLength {
		return types.ErrFieldNameTooLong
	}
	if err := expr.Validate(c.Expression); err != nil {
		return fmt.Errorf("invalid expression: %w", err)
	}
	return nil
}

func (s *Service) checkAccess(ctx context.Context, campaign *types.CampaignID) error {
	caller := access.CallerFromContext(ctx)
	if caller == nil || campaign == nil {
		return nil
	}
	if !caller.CanAccess(*campaign) {
		return types.ErrNotFound
	}
	return nil
}

// invalidate drops the owning campaign's dependency graph and every cached
// computed-field map under it. Any entity's computed fields may read the
// changed condition's output, so nothing narrower is safe. Type-level
// conditions have no campaign: their instances span campaigns and stale
// entries survive until TTL, which is logged as a known gap.
func (s *Service) invalidate(ctx context.Context, c *types.Condition) {
	if c.CampaignID == nil {
		s.log.WarnContext(ctx, "type-level condition mutation, cached computed fields stale until ttl",
			"condition", c.ID,
			"entity_type", c.EntityType,
			"field", c.Field,
		)
		return
	}
	s.graphs.InvalidateGraph(*c.CampaignID, nil)
	s.cache.InvalidateCampaignComputedFields(ctx, *c.CampaignID)
}

func (s *Service) record(ctx context.Context, action string, c *types.Condition) {
	s.audit.Record(ctx, audit.Entry{
		Actor:      access.Actor(ctx),
		Action:     action,
		EntityType: "condition",
		EntityID:   string(c.ID),
		Detail:     fmt.Sprintf("target=%s field=%s", c.EntityType, c.Field),
	})
}
