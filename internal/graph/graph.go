// Package graph builds and caches per-(campaign, branch) dependency graphs
// of conditions and variables: nodes are rules, edges are "A reads B"
// derived from statically scanning each rule's expression. The graph must be
// acyclic for a deterministic evaluation order; a cycle is a structured,
// reportable error, never a silent partial order.
package graph

import (
	"context"
	"sort"
	"strings"

	"github.com/veyra/stronghold/internal/expr"
	"github.com/veyra/stronghold/internal/types"
)

// NodeKind distinguishes condition nodes from variable nodes.
type NodeKind string

const (
	NodeCondition NodeKind = "condition"
	NodeVariable  NodeKind = "variable"
)

// NodeID is "condition:<id>" or "variable:<key>".
type NodeID string

// ConditionNode builds the node id for a condition.
func ConditionNode(id types.ConditionID) NodeID {
	return NodeID("condition:" + string(id))
}

// VariableNode builds the node id for a variable key.
func VariableNode(key string) NodeID {
	return NodeID("variable:" + key)
}

// Node is one rule in the graph with the raw paths it reads.
type Node struct {
	ID    NodeID
	Kind  NodeKind
	Reads []string
}

// Key identifies a cached graph. Cross-campaign graphs are independent and
// never share invalidation.
type Key struct {
	Campaign types.CampaignID
	Branch   types.BranchID
}

// Graph is the built dependency graph with its topological evaluation order
// (dependencies first).
type Graph struct {
	Key   Key
	Nodes map[NodeID]Node
	Edges map[NodeID][]NodeID
	Order []NodeID
}

// Source loads the rule set a graph is built from. Implemented by the
// entity store.
type Source interface {
	ActiveConditionsForCampaign(ctx context.Context, campaign types.CampaignID, branch types.BranchID) ([]types.Condition, error)
	ActiveVariablesForCampaign(ctx context.Context, campaign types.CampaignID, branch types.BranchID) ([]types.Variable, error)
}

// Build constructs the graph for one campaign branch. Returns a CycleError
// naming the participating nodes if the rule set is cyclic.
func Build(ctx context.Context, src Source, campaign types.CampaignID, branch types.BranchID) (*Graph, error) {
	conditions, err := src.ActiveConditionsForCampaign(ctx, campaign, branch)
	if err != nil {
		return nil, err
	}
	variables, err := src.ActiveVariablesForCampaign(ctx, campaign, branch)
	if err != nil {
		return nil, err
	}

	g := &Graph{
		Key:   Key{Campaign: campaign, Branch: branch},
		Nodes: make(map[NodeID]Node, len(conditions)+len(variables)),
		Edges: make(map[NodeID][]NodeID),
	}

	// Conditions computing a field, indexed so field reads bind to them.
	fieldProducers := make(map[string][]NodeID, len(conditions))
	for _, c := range conditions {
		id := ConditionNode(c.ID)
		g.Nodes[id] = Node{ID: id, Kind: NodeCondition, Reads: expr.Dependencies(c.Expression)}
		fieldProducers[c.Field] = append(fieldProducers[c.Field], id)
	}

	variableKeys := make(map[string]NodeID, len(variables))
	for _, v := range variables {
		id := VariableNode(v.Key)
		reads := []string(nil)
		if v.IsDerived() {
			reads = expr.Dependencies(v.Formula)
		}
		g.Nodes[id] = Node{ID: id, Kind: NodeVariable, Reads: reads}
		variableKeys[v.Key] = id
	}

	for id, node := range g.Nodes {
		for _, path := range node.Reads {
			// Self-edges stay in: a rule reading its own output is a
			// cycle and the sort reports it.
			g.Edges[id] = append(g.Edges[id], bindPath(path, variableKeys, fieldProducers)...)
		}
		sortNodeIDs(g.Edges[id])
	}

	order, err := topologicalOrder(g)
	if err != nil {
		return nil, err
	}
	g.Order = order
	return g, nil
}

// bindPath resolves one read path to graph nodes. "var.<key>" binds to that
// variable; any other path whose final segment names a computed field binds
// to every condition producing that field.
func bindPath(path string, variables map[string]NodeID, producers map[string][]NodeID) []NodeID {
	if key, found := strings.CutPrefix(path, types.VarNamespace+"."); found {
		if id, ok := variables[key]; ok {
			return []NodeID{id}
		}
		return nil
	}

	segs := strings.Split(path, ".")
	field := segs[len(segs)-1]
	return producers[field]
}

// topologicalOrder runs Kahn's algorithm, dependencies first. Ties break by
// node id so the order is stable across rebuilds.
func topologicalOrder(g *Graph) ([]NodeID, error) {
	// Edges point node -> dependency; in-degree counts unsatisfied deps.
	indegree := make(map[NodeID]int, len(g.Nodes))
	dependents := make(map[NodeID][]NodeID, len(g.Nodes))
	for id := range g.Nodes {
		indegree[id] = 0
	}
	for id, deps := range g.Edges {
		for _, dep := range deps {
			if _, known := g.Nodes[dep]; !known {
				continue
			}
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	ready := make([]NodeID, 0, len(g.Nodes))
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sortNodeIDs(ready)

	order := make([]NodeID, 0, len(g.Nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		released := []NodeID(nil)
		for _, dependent := range dependents[id] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				released = append(released, dependent)
			}
		}
		sortNodeIDs(released)
		ready = append(ready, released...)
	}

	if len(order) != len(g.Nodes) {
		stuck := make([]string, 0, len(g.Nodes)-len(order))
		inOrder := make(map[NodeID]bool, len(order))
		for _, id := range order {
			inOrder[id] = true
		}
		for id := range g.Nodes {
			if !inOrder[id] {
				stuck = append(stuck, string(id))
			}
		}
		sort.Strings(stuck)
		return nil, &types.CycleError{Nodes: stuck}
	}
	return order, nil
}

func sortNodeIDs(ids []NodeID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
