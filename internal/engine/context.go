// Package engine assembles evaluation contexts and serves computed fields
// through the read-through cache, optionally delegating expression batches
// to a remote evaluation worker.
package engine

import (
	"context"
	"log/slog"

	"github.com/veyra/stronghold/internal/store"
	"github.com/veyra/stronghold/internal/types"
	"github.com/veyra/stronghold/internal/variable"
)

// ContextBuilder assembles the map expressions evaluate against.
type ContextBuilder struct {
	store *store.Store
	log   *slog.Logger
}

// NewContextBuilder wires the builder.
func NewContextBuilder(st *store.Store, log *slog.Logger) *ContextBuilder {
	return &ContextBuilder{store: st, log: log}
}

// BuildContext merges entity fields into a fresh evaluation context.
func BuildContext(entityData map[string]any) map[string]any {
	out := make(map[string]any, len(entityData)+1)
	for k, v := range entityData {
		out[k] = v
	}
	return out
}

// BuildContextWithVariables builds the entity context and merges the scope's
// resolved variables under the reserved namespace key. A missing scope or
// scope id degrades silently to the entity-only context, as does a variable
// load failure; individual resolution failures drop only their own key.
func (b *ContextBuilder) BuildContextWithVariables(ctx context.Context, entityData map[string]any, scope types.Scope, scopeID *types.EntityID) map[string]any {
	out := BuildContext(entityData)

	if scope == "" || (scope.RequiresScopeID() && scopeID == nil) {
		return out
	}

	vars, err := b.store.VariablesForScope(ctx, scope, scopeID)
	if err != nil {
		b.log.WarnContext(ctx, "failed to load scope variables, continuing without",
			"scope", scope,
			"error", err,
		)
		return out
	}
	if len(vars) == 0 {
		return out
	}

	out[types.VarNamespace] = variable.ResolveAll(vars, out)
	return out
}
