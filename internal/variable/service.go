package variable

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

// Service owns variable lifecycle: validation, persistence, audit and the
// cache/graph invalidation every mutation triggers.
type Service struct {
	store  *store.Store
	cache  *cache.Cache
	graphs *graph.Service
	audit  audit.Sink
	log    *slog.Logger
}

// NewService wires the variable service.
func NewService(st *store.Store, c *cache.Cache, graphs *graph.Service, sink audit.Sink, log *slog.Logger) *Service {
	return &Service{store: st, cache: c, graphs: graphs, audit: sink, log: log}
}

// Create validates and persists a new variable. The owning campaign is
// resolved from the scope and denormalized onto the record.
func (s *Service) Create(ctx context.Context, v *types.Variable) error {
	if err := validate(v); err != nil {
		return err
	}

	campaign, err := s.campaignForScope(ctx, v.Scope, v.ScopeID)
	if err != nil {
		return err
	}
	if err := s.checkAccess(ctx, campaign); err != nil {
		return err
	}
	v.CampaignID = campaign

	if v.ID == "" {
		v.ID = types.NewVariableID()
	}
	if err := s.store.InsertVariable(ctx, v); err != nil {
		return err
	}

	s.record(ctx, "variable.create", v)
	s.invalidate(ctx, v)
	return nil
}

// Get loads a variable, filtered by the caller's campaign access.
func (s *Service) Get(ctx context.Context, id types.VariableID) (*types.Variable, error) {
	v, err := s.store.GetVariable(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkAccess(ctx, v.CampaignID); err != nil {
		return nil, err
	}
	return v, nil
}

// ListForScope returns the active variables of one scope instance.
func (s *Service) ListForScope(ctx context.Context, scope types.Scope, scopeID *types.EntityID) ([]types.Variable, error) {
	if _, err := types.ParseScope(string(scope)); err != nil {
		return nil, err
	}
	if scope.RequiresScopeID() && scopeID == nil {
		return nil, types.ErrMissingScopeID
	}
	campaign, err := s.campaignForScope(ctx, scope, scopeID)
	if err != nil {
		return nil, err
	}
	if err := s.checkAccess(ctx, campaign); err != nil {
		return nil, err
	}
	return s.store.VariablesForScope(ctx, scope, scopeID)
}

// Update applies value/formula/type/is_active changes under the optimistic
// lock. v.Version must carry the version the caller read.
func (s *Service) Update(ctx context.Context, v *types.Variable) error {
	current, err := s.Get(ctx, v.ID)
	if err != nil {
		return err
	}

	// Scope and key are immutable; validate the record as it will be stored.
	check := *current
	check.Value = v.Value
	check.Formula = v.Formula
	check.Type = v.Type
	if err := validate(&check); err != nil {
		return err
	}

	if err := s.store.UpdateVariable(ctx, v); err != nil {
		return err
	}

	// Carry the immutable columns back so invalidation can target the scope.
	v.Scope = current.Scope
	v.ScopeID = current.ScopeID
	v.CampaignID = current.CampaignID
	v.Key = current.Key

	s.record(ctx, "variable.update", v)
	s.invalidate(ctx, v)
	return nil
}

// Delete soft-deletes a variable, freeing its key.
func (s *Service) Delete(ctx context.Context, id types.VariableID) error {
	v, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.SoftDeleteVariable(ctx, id); err != nil {
		return err
	}
	s.record(ctx, "variable.delete", v)
	s.invalidate(ctx, v)
	return nil
}

func validate(v *types.Variable) error {
	if _, err := types.ParseScope(string(v.Scope)); err != nil {
		return err
	}
	if v.Scope.RequiresScopeID() && v.ScopeID == nil {
		return types.ErrMissingScopeID
	}
	if v.Key == "" || len(v.Key) > types.MaxVariableKeyLength {
		return types.ErrKeyTooLong
	}

	hasValue := len(v.Value) > 0
	hasFormula := len(v.Formula) > 0
	if hasValue == hasFormula {
		return types.ErrValueAndFormula
	}
	if hasFormula {
		if err := expr.Validate(v.Formula); err != nil {
			return fmt.Errorf("invalid formula: %w", err)
		}
	}
	return nil
}

// campaignForScope resolves the campaign owning a scope instance. World
// scope has no campaign; campaign scope is its own; entity-backed scopes
// walk the parent chain.
func (s *Service) campaignForScope(ctx context.Context, scope types.Scope, scopeID *types.EntityID) (*types.CampaignID, error) {
	switch {
	case scope == types.ScopeWorld:
		return nil, nil
	case scope == types.ScopeCampaign:
		c := types.CampaignID(*scopeID)
		return &c, nil
	default:
		kind, ok := scope.EntityKind()
		if !ok {
			return nil, types.ErrUnknownScope
		}
		c, err := s.store.CampaignForEntity(ctx, kind, *scopeID)
		if err != nil {
			return nil, err
		}
		return &c, nil
	}
}

// checkAccess hides records outside the caller's campaigns. No caller on
// the context means an internal call, which is unrestricted.
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

// invalidate drops the single targeted scope entry and the owning campaign's
// dependency graph. World-scoped variables have no campaign to invalidate;
// the gap is logged because stale graphs can outlive such a mutation.
func (s *Service) invalidate(ctx context.Context, v *types.Variable) {
	if v.CampaignID == nil {
		s.log.WarnContext(ctx, "variable mutation without campaign, skipping invalidation",
			"variable", v.ID,
			"scope", v.Scope,
			"key", v.Key,
		)
		return
	}

	if kind, ok := v.Scope.EntityKind(); ok && v.ScopeID != nil {
		s.cache.InvalidateEntityComputedFields(ctx, *v.CampaignID, kind, *v.ScopeID)
	} else {
		s.cache.InvalidateCampaignComputedFields(ctx, *v.CampaignID)
	}
	s.graphs.InvalidateGraph(*v.CampaignID, nil)
}

func (s *Service) record(ctx context.Context, action string, v *types.Variable) {
	s.audit.Record(ctx, audit.Entry{
		Actor:      access.Actor(ctx),
		Action:     action,
		EntityType: "variable",
		EntityID:   string(v.ID),
		Detail:     fmt.Sprintf("scope=%s key=%s", v.Scope, v.Key),
	})
}
