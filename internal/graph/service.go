package graph

import (
	"context"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/veyra/stronghold/internal/types"
)

/*
 * Cached graph service.
 *
 * Graphs are built lazily on first request and held in a bounded LRU until
 * any condition or variable under the campaign mutates. Rebuilds are pure
 * functions of durable state, so concurrent GetGraph calls racing after an
 * invalidation may each rebuild and overwrite the cache with an equivalent
 * graph; no rebuild lock is held.
 *
 * The cache is an injected collaborator keyed (campaign, branch), never a
 * module-level singleton; invalidation is a first-class operation called
 * synchronously by every rule mutation that resolves to a campaign.
 */

// DefaultCacheSize bounds cached graphs; one entry per active
// campaign-branch pair.
const DefaultCacheSize = 256

// Service builds, caches and invalidates dependency graphs.
type Service struct {
	src    Source
	graphs *lru.Cache[Key, *Graph]
	log    *slog.Logger
}

// NewService creates a Service with a bounded graph cache.
func NewService(src Source, cacheSize int, log *slog.Logger) (*Service, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	if log == nil {
		log = slog.Default()
	}
	graphs, err := lru.New[Key, *Graph](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Service{src: src, graphs: graphs, log: log}, nil
}

// GetGraph returns the cached graph or rebuilds it. Cycle errors are not
// cached: each call re-reports until the rule set is fixed.
func (s *Service) GetGraph(ctx context.Context, campaign types.CampaignID, branch types.BranchID) (*Graph, error) {
	key := Key{Campaign: campaign, Branch: branch}
	if g, found := s.graphs.Get(key); found {
		return g, nil
	}

	g, err := Build(ctx, s.src, campaign, branch)
	if err != nil {
		return nil, err
	}
	s.graphs.Add(key, g)
	s.log.Debug("dependency graph rebuilt",
		"campaign", campaign, "branch", branch, "nodes", len(g.Nodes))
	return g, nil
}

// InvalidateGraph drops the cached graph for the campaign. A nil branch
// drops every branch of the campaign.
func (s *Service) InvalidateGraph(campaign types.CampaignID, branch *types.BranchID) {
	if branch != nil {
		s.graphs.Remove(Key{Campaign: campaign, Branch: *branch})
		return
	}
	for _, key := range s.graphs.Keys() {
		if key.Campaign == campaign {
			s.graphs.Remove(key)
		}
	}
}
