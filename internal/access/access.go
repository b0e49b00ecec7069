// Package access carries the acting user through context and scopes which
// campaigns they may touch.
package access

import (
	"context"

	"github.com/veyra/stronghold/internal/types"
)

// contextKey is a typed key for context values to avoid collisions.
type contextKey string

const callerKey = contextKey("caller")

// Caller identifies who is performing an operation. Campaigns is the set the
// caller may read and mutate; an empty set with AllCampaigns false denies
// everything.
type Caller struct {
	Actor        string
	Campaigns    map[types.CampaignID]struct{}
	AllCampaigns bool
}

// NewCaller builds a caller scoped to the given campaigns.
func NewCaller(actor string, campaigns ...types.CampaignID) *Caller {
	set := make(map[types.CampaignID]struct{}, len(campaigns))
	for _, c := range campaigns {
		set[c] = struct{}{}
	}
	return &Caller{Actor: actor, Campaigns: set}
}

// System returns the unrestricted caller used by background jobs and the CLI.
func System() *Caller {
	return &Caller{Actor: "system", AllCampaigns: true}
}

// CanAccess reports whether the caller may touch the campaign.
func (c *Caller) CanAccess(campaign types.CampaignID) bool {
	if c == nil {
		return false
	}
	if c.AllCampaigns {
		return true
	}
	_, ok := c.Campaigns[campaign]
	return ok
}

// WithCaller attaches the caller to the context.
func WithCaller(ctx context.Context, c *Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// CallerFromContext extracts the caller. Returns nil when none is attached.
func CallerFromContext(ctx context.Context) *Caller {
	if c, ok := ctx.Value(callerKey).(*Caller); ok {
		return c
	}
	return nil
}

// Actor returns the acting user's name, or "anonymous" when no caller is
// attached. Feeds audit records and change events.
func Actor(ctx context.Context) string {
	if c := CallerFromContext(ctx); c != nil && c.Actor != "" {
		return c.Actor
	}
	return "anonymous"
}
