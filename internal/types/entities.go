package types

import (
	"encoding/json"
	"time"
)

/*
 * Domain records for the computed-field rules engine.
 *
 * Condition and Variable are wire-format agnostic: the excluded API layer
 * owns DTO conversion. EntityRecord is the generic shape shared by the five
 * entity tables; kind-specific columns live in the Data map.
 *
 * Versioning: every mutable record carries a monotonic Version compared at
 * update time (optimistic lock). VersionRecord is the time-travel snapshot
 * appended transactionally with every successful entity mutation.
 */

// Condition is a declarative rule computing one named field from an
// expression. EntityID nil means the condition applies to every entity of
// EntityType (type-level). CampaignID is resolved from the target entity's
// parent chain at write time; nil for type-level conditions.
type Condition struct {
	ID         ConditionID `db:"id"`
	EntityType EntityKind  `db:"entity_type"`
	EntityID   *EntityID   `db:"entity_id"`
	CampaignID *CampaignID `db:"campaign_id"`
	BranchID   BranchID    `db:"branch_id"`
	Field      string      `db:"field"`
	Expression Expression  `db:"expression"`
	Priority   int         `db:"priority"`
	IsActive   bool        `db:"is_active"`
	Version    int64       `db:"version"`
	CreatedAt  time.Time   `db:"created_at"`
	UpdatedAt  time.Time   `db:"updated_at"`
	DeletedAt  *time.Time  `db:"deleted_at"`
}

// IsTypeLevel reports whether the condition applies to every entity of its
// type rather than a single instance.
func (c *Condition) IsTypeLevel() bool {
	return c.EntityID == nil
}

// Variable is a stored or formula-derived named value scoped to an entity or
// a wider scope. Exactly one of Value and Formula is meaningful: stored
// variables carry a literal, derived variables carry an expression that is
// re-evaluated on every read.
type Variable struct {
	ID         VariableID  `db:"id"`
	Scope      Scope       `db:"scope"`
	ScopeID    *EntityID   `db:"scope_id"`
	CampaignID *CampaignID `db:"campaign_id"`
	Key        string      `db:"key"`
	Value      Expression  `db:"value"`
	Formula    Expression  `db:"formula"`
	Type       string      `db:"type"`
	IsActive   bool        `db:"is_active"`
	Version    int64       `db:"version"`
	CreatedAt  time.Time   `db:"created_at"`
	UpdatedAt  time.Time   `db:"updated_at"`
	DeletedAt  *time.Time  `db:"deleted_at"`
}

// IsDerived reports whether the variable computes its value from a formula.
func (v *Variable) IsDerived() bool {
	return len(v.Formula) > 0
}

// EntityRecord is the generic shape of one row from an entity table.
// Data holds the kind-specific fields decoded from the JSON data column.
type EntityRecord struct {
	ID        EntityID       `db:"id"`
	Kind      EntityKind     `db:"-"`
	Name      string         `db:"name"`
	Level     int            `db:"level"`
	ParentID  *EntityID      `db:"parent_id"`
	Data      map[string]any `db:"-"`
	Version   int64          `db:"version"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
	DeletedAt *time.Time     `db:"deleted_at"`
}

// Fields flattens the record into an evaluation-context map: the Data map
// plus the named columns, without mutating the record.
func (r *EntityRecord) Fields() map[string]any {
	out := make(map[string]any, len(r.Data)+3)
	for k, v := range r.Data {
		out[k] = v
	}
	out["id"] = string(r.ID)
	out["name"] = r.Name
	out["level"] = r.Level
	return out
}

// VersionRecord is a point-in-time snapshot written alongside every
// successful mutation. ValidTo nil marks the current snapshot.
type VersionRecord struct {
	ID         int64           `db:"id"`
	EntityType string          `db:"entity_type"`
	EntityID   string          `db:"entity_id"`
	BranchID   BranchID        `db:"branch_id"`
	Version    int64           `db:"version"`
	ValidFrom  time.Time       `db:"valid_from"`
	ValidTo    *time.Time      `db:"valid_to"`
	Payload    json.RawMessage `db:"payload"`
}

// ChangeEvent announces "entity X changed to version N" on the notification
// bus after a successful commit. Fire-and-forget; no delivery guarantee.
type ChangeEvent struct {
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Version    int64     `json:"version"`
	Actor      string    `json:"actor"`
	OccurredAt time.Time `json:"occurred_at"`
}
