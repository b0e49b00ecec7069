package cache

import (
	"context"
	"fmt"

	"github.com/veyra/stronghold/internal/types"
)

/*
 * Key scheme.
 *
 * Computed-field keys nest campaign -> kind -> entity -> branch so that the
 * two bulk invalidations the engine needs are both plain prefix deletes:
 *
 *   cf:<campaign>:                      every computed field in the campaign
 *   cf:<campaign>:<kind>:<id>:          one entity across all branches
 *
 * Conditions and variables are not branch-forked independently of the
 * campaign's rule set, so campaign-wide invalidation covering all branches
 * is the correct (not merely safe) granularity. Deleting a cache entry is
 * always safe; the next read recomputes.
 *
 * List and spatial keys cover the relationship-level entries the cascade
 * rules name: a kingdom's settlement list, a settlement's structure list,
 * spatial query results per kingdom.
 */

// ComputedFieldKey addresses one entity's computed-field map on one branch.
func ComputedFieldKey(campaign types.CampaignID, kind types.EntityKind, id types.EntityID, branch types.BranchID) string {
	return fmt.Sprintf("cf:%s:%s:%s:%s", campaign, kind, id, branch)
}

// EntityPrefix covers one entity's computed fields across all branches.
func EntityPrefix(campaign types.CampaignID, kind types.EntityKind, id types.EntityID) string {
	return fmt.Sprintf("cf:%s:%s:%s:", campaign, kind, id)
}

// CampaignPrefix covers every computed-field entry under a campaign.
func CampaignPrefix(campaign types.CampaignID) string {
	return fmt.Sprintf("cf:%s:", campaign)
}

// SettlementListKey addresses a kingdom's settlement-list entry.
func SettlementListKey(kingdom types.EntityID) string {
	return fmt.Sprintf("list:settlements:%s", kingdom)
}

// StructureListKey addresses a settlement's structure-list entry.
func StructureListKey(settlement types.EntityID) string {
	return fmt.Sprintf("list:structures:%s", settlement)
}

// SpatialPrefix covers spatial-query result entries under a kingdom.
func SpatialPrefix(kingdom types.EntityID) string {
	return fmt.Sprintf("spatial:%s:", kingdom)
}

// InvalidateCampaignComputedFields bulk-deletes every computed-field entry
// under the campaign. Called by condition mutations: a type-level rule can
// affect any entity of its type anywhere in the campaign, so invalidation is
// campaign-wide, never entity-scoped.
func (c *Cache) InvalidateCampaignComputedFields(ctx context.Context, campaign types.CampaignID) {
	c.DelPattern(ctx, CampaignPrefix(campaign))
}

// InvalidateEntityComputedFields deletes one entity's computed-field entries
// on every branch. Called by variable mutations targeting that entity's
// scope and by hierarchy cascades.
func (c *Cache) InvalidateEntityComputedFields(ctx context.Context, campaign types.CampaignID, kind types.EntityKind, id types.EntityID) {
	c.DelPattern(ctx, EntityPrefix(campaign, kind, id))
}
