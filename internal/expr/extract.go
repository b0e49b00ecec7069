package expr

import (
	"encoding/json"
	"sort"

	"github.com/veyra/stronghold/internal/types"
)

/*
 * Static dependency extraction.
 *
 * Dependencies walks the raw wire tree (not the AST) collecting every value
 * passed to the "var" operator, so it works on stored expressions without a
 * validation pass and stays deterministic for malformed trees: arrays and
 * nested objects are walked, non-object leaves ignored. Used for dependency
 * graph construction and for "what does this rule read" displays.
 */

// Dependencies returns the sorted, de-duplicated set of variable paths an
// expression reads. Pure and side-effect free; unparseable input yields an
// empty set.
func Dependencies(raw types.Expression) []string {
	var wire any
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil
	}

	seen := map[string]bool{}
	collectPaths(wire, seen)

	if len(seen) == 0 {
		return nil
	}
	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// collectPaths recursively walks the wire tree.
func collectPaths(node any, seen map[string]bool) {
	switch v := node.(type) {
	case map[string]any:
		for key, val := range v {
			if key == OpVar {
				if path, ok := varPath(val); ok {
					seen[path] = true
				}
				// A var argument can itself nest expressions (default
				// values); keep walking.
			}
			collectPaths(val, seen)
		}
	case []any:
		for _, item := range v {
			collectPaths(item, seen)
		}
	}
}

// varPath extracts the path operand from "path" or ["path", default] forms.
func varPath(val any) (string, bool) {
	switch v := val.(type) {
	case string:
		return v, true
	case []any:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return s, true
			}
		}
	}
	return "", false
}
