package graph

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/veyra/stronghold/internal/types"
)

// fakeSource serves a fixed rule set and counts loads.
type fakeSource struct {
	conditions []types.Condition
	variables  []types.Variable
	loads      int
}

func (f *fakeSource) ActiveConditionsForCampaign(context.Context, types.CampaignID, types.BranchID) ([]types.Condition, error) {
	f.loads++
	return f.conditions, nil
}

func (f *fakeSource) ActiveVariablesForCampaign(context.Context, types.CampaignID, types.BranchID) ([]types.Variable, error) {
	return f.variables, nil
}

func cond(id, field, expression string) types.Condition {
	return types.Condition{
		ID:         types.ConditionID(id),
		EntityType: types.KindSettlement,
		Field:      field,
		Expression: json.RawMessage(expression),
		IsActive:   true,
	}
}

func derivedVar(key, formula string) types.Variable {
	return types.Variable{
		ID:       types.VariableID("var-" + key),
		Scope:    types.ScopeCampaign,
		Key:      key,
		Formula:  json.RawMessage(formula),
		IsActive: true,
	}
}

func TestBuild_EvaluationOrder(t *testing.T) {
	// prosperity_level (variable) <- is_trade_hub reads nothing computed;
	// tax_bonus reads var.prosperity_level.
	src := &fakeSource{
		conditions: []types.Condition{
			cond("c1", "is_trade_hub", `{">=": [{"var": "settlement.population"}, 5000]}`),
			cond("c2", "tax_bonus", `{"==": [{"var": "var.prosperity_level"}, "thriving"]}`),
		},
		variables: []types.Variable{
			derivedVar("prosperity_level", `{"if": [{">": [{"var": "settlement.population"}, 10000]}, "thriving", "stable"]}`),
		},
	}

	g, err := Build(context.Background(), src, "camp-1", types.DefaultBranch)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if len(g.Order) != 3 {
		t.Fatalf("Order length = %d, want 3", len(g.Order))
	}

	pos := map[NodeID]int{}
	for i, id := range g.Order {
		pos[id] = i
	}
	if pos[VariableNode("prosperity_level")] > pos[ConditionNode("c2")] {
		t.Errorf("variable ordered after its dependent condition: %v", g.Order)
	}

	wantEdges := []NodeID{VariableNode("prosperity_level")}
	if !reflect.DeepEqual(g.Edges[ConditionNode("c2")], wantEdges) {
		t.Errorf("edges for c2 = %v, want %v", g.Edges[ConditionNode("c2")], wantEdges)
	}
}

func TestBuild_FieldReadsBindToProducingCondition(t *testing.T) {
	src := &fakeSource{
		conditions: []types.Condition{
			cond("c1", "is_trade_hub", `{">=": [{"var": "settlement.population"}, 5000]}`),
			cond("c2", "wealthy", `{"==": [{"var": "settlement.is_trade_hub"}, true]}`),
		},
	}

	g, err := Build(context.Background(), src, "camp-1", types.DefaultBranch)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	deps := g.Edges[ConditionNode("c2")]
	if !reflect.DeepEqual(deps, []NodeID{ConditionNode("c1")}) {
		t.Errorf("edges for c2 = %v, want [condition:c1]", deps)
	}
}

func TestBuild_CycleReported(t *testing.T) {
	// A reads B's field, B reads A's field.
	src := &fakeSource{
		conditions: []types.Condition{
			cond("a", "field_a", `{"==": [{"var": "settlement.field_b"}, true]}`),
			cond("b", "field_b", `{"==": [{"var": "settlement.field_a"}, true]}`),
		},
	}

	_, err := Build(context.Background(), src, "camp-1", types.DefaultBranch)

	var cycle *types.CycleError
	if !errors.As(err, &cycle) {
		t.Fatalf("Build() error = %v, want CycleError", err)
	}
	want := []string{"condition:a", "condition:b"}
	if !reflect.DeepEqual(cycle.Nodes, want) {
		t.Errorf("cycle nodes = %v, want %v", cycle.Nodes, want)
	}
}

func TestBuild_SelfReferenceIsCycle(t *testing.T) {
	src := &fakeSource{
		conditions: []types.Condition{
			cond("a", "field_a", `{"!": {"var": "settlement.field_a"}}`),
		},
	}

	_, err := Build(context.Background(), src, "camp-1", types.DefaultBranch)
	if !types.IsCycle(err) {
		t.Fatalf("Build() error = %v, want CycleError", err)
	}
}

func TestBuild_UnknownPathsIgnored(t *testing.T) {
	src := &fakeSource{
		conditions: []types.Condition{
			cond("c1", "f", `{"and": [{"var": "var.unknown_key"}, {"var": "settlement.population"}]}`),
		},
	}

	g, err := Build(context.Background(), src, "camp-1", types.DefaultBranch)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(g.Edges[ConditionNode("c1")]) != 0 {
		t.Errorf("edges = %v, want none for unbound paths", g.Edges[ConditionNode("c1")])
	}
}

func TestService_CachesUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{conditions: []types.Condition{
		cond("c1", "f", `{"==": [1, 1]}`),
	}}

	svc, err := NewService(src, 8, nil)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := svc.GetGraph(ctx, "camp-1", types.DefaultBranch); err != nil {
			t.Fatalf("GetGraph() error = %v", err)
		}
	}
	if src.loads != 1 {
		t.Errorf("loads = %d, want 1 (cached)", src.loads)
	}

	branch := types.DefaultBranch
	svc.InvalidateGraph("camp-1", &branch)
	if _, err := svc.GetGraph(ctx, "camp-1", types.DefaultBranch); err != nil {
		t.Fatalf("GetGraph() error = %v", err)
	}
	if src.loads != 2 {
		t.Errorf("loads = %d, want 2 (rebuilt after invalidation)", src.loads)
	}
}

func TestService_InvalidateAllBranches(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{}

	svc, err := NewService(src, 8, nil)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	for _, branch := range []types.BranchID{"main", "fork-1"} {
		if _, err := svc.GetGraph(ctx, "camp-1", branch); err != nil {
			t.Fatalf("GetGraph() error = %v", err)
		}
	}
	if _, err := svc.GetGraph(ctx, "camp-2", "main"); err != nil {
		t.Fatalf("GetGraph() error = %v", err)
	}
	loadsBefore := src.loads

	svc.InvalidateGraph("camp-1", nil)

	// Both camp-1 branches rebuild; camp-2 stays cached.
	svc.GetGraph(ctx, "camp-1", "main")
	svc.GetGraph(ctx, "camp-1", "fork-1")
	svc.GetGraph(ctx, "camp-2", "main")
	if src.loads != loadsBefore+2 {
		t.Errorf("loads = %d, want %d", src.loads, loadsBefore+2)
	}
}

func TestService_CycleNotCached(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{
		conditions: []types.Condition{
			cond("a", "field_a", `{"var": "settlement.field_b"}`),
			cond("b", "field_b", `{"var": "settlement.field_a"}`),
		},
	}

	svc, err := NewService(src, 8, nil)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := svc.GetGraph(ctx, "camp-1", types.DefaultBranch); !types.IsCycle(err) {
			t.Fatalf("GetGraph() call %d error = %v, want CycleError", i, err)
		}
	}
	if src.loads != 2 {
		t.Errorf("loads = %d, want 2 (errors are not cached)", src.loads)
	}
}
