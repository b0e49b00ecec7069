// Package variable resolves stored and formula-derived variables and owns
// their lifecycle.
package variable

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/veyra/stronghold/internal/expr"
	"github.com/veyra/stronghold/internal/types"
)

// Resolved is the outcome of resolving one variable. A failed resolution
// carries Err and OK false; it never aborts sibling resolution.
type Resolved struct {
	Key   string
	OK    bool
	Value any
	Err   error
}

// Resolve produces a variable's current value. Stored variables decode their
// literal; derived variables evaluate their formula against scopeData.
func Resolve(v *types.Variable, scopeData map[string]any) Resolved {
	if v.IsDerived() {
		res := expr.EvaluateRaw(v.Formula, scopeData)
		if !res.OK {
			return Resolved{Key: v.Key, Err: res.Err}
		}
		return Resolved{Key: v.Key, OK: true, Value: res.Value}
	}

	if len(v.Value) == 0 {
		return Resolved{Key: v.Key, Err: types.ErrValueAndFormula}
	}
	var value any
	if err := json.Unmarshal(v.Value, &value); err != nil {
		return Resolved{Key: v.Key, Err: fmt.Errorf("corrupt stored value: %w", err)}
	}
	return Resolved{Key: v.Key, OK: true, Value: value}
}

// ResolveAll resolves every variable independently and returns the
// successful values keyed by variable key. Failures are dropped. Derived
// formulas see already-resolved siblings under the reserved namespace:
// stored variables resolve first, then derived ones in dependency order — a
// formula reading `var.<key>` waits until that sibling has resolved, which
// settles chains like stored -> derived -> derived regardless of listing
// order. Cyclic formulas never become ready and are dropped; cycle
// reporting is the dependency graph's job.
func ResolveAll(vars []types.Variable, scopeData map[string]any) map[string]any {
	resolved := make(map[string]any, len(vars))

	evalCtx := make(map[string]any, len(scopeData)+1)
	for k, v := range scopeData {
		evalCtx[k] = v
	}
	evalCtx[types.VarNamespace] = resolved

	var pending []*types.Variable
	for i := range vars {
		v := &vars[i]
		if v.IsDerived() {
			pending = append(pending, v)
			continue
		}
		if r := Resolve(v, evalCtx); r.OK {
			resolved[r.Key] = r.Value
		}
	}

	for len(pending) > 0 {
		unresolved := make(map[string]bool, len(pending))
		for _, v := range pending {
			unresolved[v.Key] = true
		}

		var next []*types.Variable
		for _, v := range pending {
			if readsUnresolved(v, unresolved) {
				next = append(next, v)
				continue
			}
			if r := Resolve(v, evalCtx); r.OK {
				resolved[r.Key] = r.Value
			}
		}
		if len(next) == len(pending) {
			break
		}
		pending = next
	}
	return resolved
}

// readsUnresolved reports whether the formula reads a sibling variable that
// has not resolved yet. A variable reading its own key counts: self-cycles
// never become ready.
func readsUnresolved(v *types.Variable, unresolved map[string]bool) bool {
	for _, path := range expr.Dependencies(v.Formula) {
		if key, ok := strings.CutPrefix(path, types.VarNamespace+"."); ok && unresolved[key] {
			return true
		}
	}
	return false
}
