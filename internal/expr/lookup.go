package expr

import (
	"strconv"
	"strings"

	"github.com/veyra/stronghold/internal/types"
)

/*
 * Dot-path resolution against evaluation contexts.
 *
 * Paths descend nested maps by key and slices by numeric segment, e.g.
 * "settlement.population" or "parties.0.name". Resolution is bounded by
 * MaxContextDepth and reports found=false for any unresolvable step; the
 * caller decides whether absence is neutral (VarRef default) or meaningful
 * ("missing" operator).
 */

// LookupPath resolves a dot path against ctx. An empty path returns the
// whole context map.
func LookupPath(ctx map[string]any, path string) (any, bool) {
	if path == "" {
		return ctx, true
	}

	segments := strings.Split(path, ".")
	if len(segments) > types.MaxContextDepth {
		return nil, false
	}

	var current any = ctx
	for _, seg := range segments {
		switch node := current.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			current = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			// Scalar reached but path continues.
			return nil, false
		}
	}
	return current, true
}
