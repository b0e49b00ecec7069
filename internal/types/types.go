// Package types provides domain models shared across Stronghold components.
//
// Zero-dependency design: types.go, entities.go and errors.go use only the
// standard library so downstream packages can import domain records without
// pulling in storage or transport dependencies. ID utilities in ids.go import
// uuid but are isolated for selective inclusion.
package types

import "encoding/json"

// EntityKind identifies one of the mutable campaign entity tables.
type EntityKind string

const (
	KindKingdom    EntityKind = "kingdom"
	KindSettlement EntityKind = "settlement"
	KindStructure  EntityKind = "structure"
	KindParty      EntityKind = "party"
	KindCharacter  EntityKind = "character"
)

// ParseEntityKind validates a string tag against the closed set of kinds.
func ParseEntityKind(s string) (EntityKind, error) {
	switch EntityKind(s) {
	case KindKingdom, KindSettlement, KindStructure, KindParty, KindCharacter:
		return EntityKind(s), nil
	default:
		return "", ErrUnknownEntityKind
	}
}

// Scope names the reach of a variable, from world-wide down to a single
// character. Non-world scopes require a scope id.
type Scope string

const (
	ScopeWorld      Scope = "world"
	ScopeCampaign   Scope = "campaign"
	ScopeKingdom    Scope = "kingdom"
	ScopeSettlement Scope = "settlement"
	ScopeStructure  Scope = "structure"
	ScopeParty      Scope = "party"
	ScopeCharacter  Scope = "character"
)

// ParseScope validates a string against the closed set of scopes.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeWorld, ScopeCampaign, ScopeKingdom, ScopeSettlement,
		ScopeStructure, ScopeParty, ScopeCharacter:
		return Scope(s), nil
	default:
		return "", ErrUnknownScope
	}
}

// EntityKind maps an entity-backed scope to its kind. The second return is
// false for world and campaign scopes, which are not entity tables.
func (s Scope) EntityKind() (EntityKind, bool) {
	switch s {
	case ScopeKingdom:
		return KindKingdom, true
	case ScopeSettlement:
		return KindSettlement, true
	case ScopeStructure:
		return KindStructure, true
	case ScopeParty:
		return KindParty, true
	case ScopeCharacter:
		return KindCharacter, true
	default:
		return "", false
	}
}

// RequiresScopeID reports whether the scope needs a scope id to be
// meaningful. Only world scope is global.
func (s Scope) RequiresScopeID() bool {
	return s != ScopeWorld
}

// Expression is a JSON boolean/value-logic tree as stored on the wire.
// json.RawMessage preserves original bytes; the expr package reconstructs a
// typed AST from it at the boundary.
type Expression = json.RawMessage

// VarNamespace is the reserved context key under which resolved variables are
// merged, so expressions reference them as "var.<key>".
const VarNamespace = "var"

// Resource limits enforced by the rules engine to keep evaluation bounded.
const (
	// MaxExpressionDepth caps operator nesting. Trees deeper than this are
	// rejected at validation time, never at evaluation time.
	MaxExpressionDepth = 10

	// MaxExpressionOperands caps the argument list of a single operator.
	MaxExpressionOperands = 64

	// MaxVariableKeyLength bounds variable keys; accommodates namespaced
	// keys like "economy.trade.route_count".
	MaxVariableKeyLength = 128

	// MaxFieldNameLength bounds computed field names on conditions.
	MaxFieldNameLength = 128

	// MaxContextDepth caps dot-path traversal during variable lookup.
	MaxContextDepth = 16
)
