package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/veyra/stronghold/internal/cache"
	"github.com/veyra/stronghold/internal/expr"
	"github.com/veyra/stronghold/internal/store"
	"github.com/veyra/stronghold/internal/types"
)

// DefaultComputedFieldTTL bounds staleness of cached computed-field maps
// when an invalidation is missed (type-level condition mutations).
const DefaultComputedFieldTTL = 5 * time.Minute

// Engine serves computed fields: the winning condition per field, evaluated
// against the entity's context, behind a read-through cache.
type Engine struct {
	store   *store.Store
	cache   *cache.Cache
	builder *ContextBuilder
	worker  *WorkerClient // nil means local evaluation only
	ttl     time.Duration
	log     *slog.Logger
}

// New wires the engine. worker may be nil.
func New(st *store.Store, c *cache.Cache, worker *WorkerClient, ttl time.Duration, log *slog.Logger) *Engine {
	if ttl <= 0 {
		ttl = DefaultComputedFieldTTL
	}
	return &Engine{
		store:   st,
		cache:   c,
		builder: NewContextBuilder(st, log),
		worker:  worker,
		ttl:     ttl,
		log:     log,
	}
}

// ComputedFields returns the computed-field map of one entity. Per field the
// single winning condition (highest priority, oldest first on ties) is
// evaluated; a failed evaluation omits its field while a false result is
// kept as false. The map is cached under TTL and rebuilt on miss.
func (e *Engine) ComputedFields(ctx context.Context, campaign types.CampaignID, kind types.EntityKind, id types.EntityID, branch types.BranchID) (map[string]any, error) {
	if branch == "" {
		branch = types.DefaultBranch
	}

	key := cache.ComputedFieldKey(campaign, kind, id, branch)
	cached := map[string]any{}
	if e.cache.GetJSON(ctx, key, &cached) {
		return cached, nil
	}

	rec, err := e.store.GetEntity(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	evalCtx := e.builder.BuildContextWithVariables(ctx, rec.Fields(), types.Scope(kind), &id)

	conditions, err := e.store.ConditionsForEntity(ctx, kind, id, branch)
	if err != nil {
		return nil, err
	}

	// Conditions arrive winners-first: the first occurrence of a field is
	// its winning condition.
	var winners []types.Condition
	seen := make(map[string]bool, len(conditions))
	for _, c := range conditions {
		if seen[c.Field] {
			continue
		}
		seen[c.Field] = true
		winners = append(winners, c)
	}

	items := make([]EvalRequest, len(winners))
	for i, c := range winners {
		items[i] = EvalRequest{Expression: c.Expression, Context: evalCtx}
	}
	results := e.evaluateAll(ctx, items)

	fields := make(map[string]any, len(winners))
	for i, c := range winners {
		if !results[i].OK {
			e.log.DebugContext(ctx, "condition evaluation failed, omitting field",
				"condition", c.ID,
				"field", c.Field,
				"error", results[i].Error,
			)
			continue
		}
		fields[c.Field] = results[i].Value
	}

	e.cache.SetJSONTTL(ctx, key, fields, e.ttl)
	return fields, nil
}

// evaluateAll runs the batch remotely when a live worker is configured,
// falling back to identical local evaluation otherwise.
func (e *Engine) evaluateAll(ctx context.Context, items []EvalRequest) []EvalResponse {
	if len(items) == 0 {
		return nil
	}
	if e.worker != nil && e.worker.Alive(ctx) {
		results, err := e.worker.EvaluateBatch(ctx, items)
		if err == nil {
			return results
		}
		e.log.WarnContext(ctx, "worker batch failed, evaluating locally", "error", err)
	}
	return EvaluateLocal(items)
}

// EvaluateLocal evaluates a batch in-process. The worker server runs the
// same function, which keeps remote and fallback results identical.
func EvaluateLocal(items []EvalRequest) []EvalResponse {
	out := make([]EvalResponse, len(items))
	for i, item := range items {
		res := expr.EvaluateRaw(item.Expression, item.Context)
		out[i] = EvalResponse{OK: res.OK, Value: res.Value}
		if res.Err != nil {
			out[i].Error = res.Err.Error()
		}
	}
	return out
}
