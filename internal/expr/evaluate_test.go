package expr

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/veyra/stronghold/internal/types"
)

func evalJSON(t *testing.T, raw string, ctx map[string]any) Result {
	t.Helper()
	return EvaluateRaw(json.RawMessage(raw), ctx)
}

func TestEvaluate_Comparisons(t *testing.T) {
	ctx := map[string]any{
		"settlement": map[string]any{"population": float64(6000), "name": "Oleg's"},
	}

	tests := []struct {
		name string
		raw  string
		want any
	}{
		{"gte true", `{">=": [{"var": "settlement.population"}, 5000]}`, true},
		{"gte false", `{">=": [{"var": "settlement.population"}, 9000]}`, false},
		{"eq numeric mix", `{"==": [{"var": "settlement.population"}, 6000]}`, true},
		{"neq", `{"!=": [{"var": "settlement.name"}, "Pitax"]}`, true},
		{"lt strings", `{"<": ["abc", "abd"]}`, true},
		{"missing path eq nil", `{"==": [{"var": "settlement.ruler"}, null]}`, true},
		{"missing path gt is false", `{">": [{"var": "settlement.ruler"}, 10]}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := evalJSON(t, tt.raw, ctx)
			if !res.OK {
				t.Fatalf("Evaluate() err = %v, want success", res.Err)
			}
			if res.Value != tt.want {
				t.Errorf("Evaluate() = %v, want %v", res.Value, tt.want)
			}
		})
	}
}

func TestEvaluate_TradeHubScenario(t *testing.T) {
	raw := `{">=": [{"var": "settlement.population"}, 5000]}`

	res := evalJSON(t, raw, map[string]any{
		"settlement": map[string]any{"population": float64(6000)},
	})
	if !res.OK || res.Value != true {
		t.Errorf("population 6000: got (%v, %v), want (true, success)", res.Value, res.Err)
	}

	// Below threshold the field is present with value false, not absent.
	res = evalJSON(t, raw, map[string]any{
		"settlement": map[string]any{"population": float64(4000)},
	})
	if !res.OK {
		t.Fatalf("population 4000: err = %v, want success", res.Err)
	}
	if res.Value != false {
		t.Errorf("population 4000: value = %v, want false", res.Value)
	}
}

func TestEvaluate_BooleanOperators(t *testing.T) {
	ctx := map[string]any{"a": true, "b": false, "n": float64(0), "s": "x"}

	tests := []struct {
		name string
		raw  string
		want any
	}{
		{"and short-circuits on falsy", `{"and": [{"var": "a"}, {"var": "n"}, {"var": "s"}]}`, float64(0)},
		{"and returns last", `{"and": [{"var": "a"}, {"var": "s"}]}`, "x"},
		{"or first truthy", `{"or": [{"var": "b"}, {"var": "s"}, {"var": "n"}]}`, "x"},
		{"not", `{"!": {"var": "b"}}`, true},
		{"if then", `{"if": [{"var": "a"}, "yes", "no"]}`, "yes"},
		{"if else", `{"if": [{"var": "b"}, "yes", "no"]}`, "no"},
		{"if elif chain", `{"if": [{"var": "b"}, 1, {"var": "a"}, 2, 3]}`, float64(2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := evalJSON(t, tt.raw, ctx)
			if !res.OK {
				t.Fatalf("Evaluate() err = %v", res.Err)
			}
			if !reflect.DeepEqual(res.Value, tt.want) {
				t.Errorf("Evaluate() = %#v, want %#v", res.Value, tt.want)
			}
		})
	}
}

func TestEvaluate_IfSelectsBranchLazily(t *testing.T) {
	// The unselected branch would divide by zero; it must never run.
	raw := `{"if": [true, 1, {"/": [1, 0]}]}`
	res := evalJSON(t, raw, nil)
	if !res.OK {
		t.Fatalf("Evaluate() err = %v, want success", res.Err)
	}
	if res.Value != float64(1) {
		t.Errorf("Evaluate() = %v, want 1", res.Value)
	}
}

func TestEvaluate_Arithmetic(t *testing.T) {
	ctx := map[string]any{"n": float64(10)}

	tests := []struct {
		name    string
		raw     string
		want    any
		wantErr error
	}{
		{"add", `{"+": [1, 2, {"var": "n"}]}`, float64(13), nil},
		{"sub", `{"-": [{"var": "n"}, 4]}`, float64(6), nil},
		{"negate", `{"-": [{"var": "n"}]}`, float64(-10), nil},
		{"mul", `{"*": [3, {"var": "n"}]}`, float64(30), nil},
		{"div", `{"/": [{"var": "n"}, 4]}`, float64(2.5), nil},
		{"div by zero", `{"/": [1, 0]}`, nil, types.ErrDivisionByZero},
		{"min", `{"min": [3, 1, 2]}`, float64(1), nil},
		{"max", `{"max": [3, {"var": "n"}, 2]}`, float64(10), nil},
		{"non-numeric", `{"+": [1, "x"]}`, nil, types.ErrInvalidOperands},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := evalJSON(t, tt.raw, ctx)
			if tt.wantErr != nil {
				if res.OK || !errors.Is(res.Err, tt.wantErr) {
					t.Errorf("Evaluate() = (%v, %v), want err %v", res.Value, res.Err, tt.wantErr)
				}
				return
			}
			if !res.OK {
				t.Fatalf("Evaluate() err = %v", res.Err)
			}
			if res.Value != tt.want {
				t.Errorf("Evaluate() = %v, want %v", res.Value, tt.want)
			}
		})
	}
}

func TestEvaluate_Membership(t *testing.T) {
	ctx := map[string]any{"tag": "port", "tags": []any{"port", "capital"}}

	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"in list", `{"in": [{"var": "tag"}, ["port", "capital"]]}`, true},
		{"not in list", `{"in": ["ruin", ["port", "capital"]]}`, false},
		{"in context list", `{"in": ["capital", {"var": "tags"}]}`, true},
		{"substring", `{"in": ["ort", "port"]}`, true},
		{"non-collection haystack", `{"in": [1, 2]}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := evalJSON(t, tt.raw, ctx)
			if !res.OK {
				t.Fatalf("Evaluate() err = %v", res.Err)
			}
			if res.Value != tt.want {
				t.Errorf("Evaluate() = %v, want %v", res.Value, tt.want)
			}
		})
	}
}

func TestEvaluate_VarDefaults(t *testing.T) {
	res := evalJSON(t, `{"var": ["missing.path", "fallback"]}`, map[string]any{})
	if !res.OK || res.Value != "fallback" {
		t.Errorf("Evaluate() = (%v, %v), want fallback", res.Value, res.Err)
	}

	res = evalJSON(t, `{"var": "missing.path"}`, map[string]any{})
	if !res.OK || res.Value != nil {
		t.Errorf("Evaluate() = (%v, %v), want nil without error", res.Value, res.Err)
	}
}

func TestEvaluate_Missing(t *testing.T) {
	ctx := map[string]any{"a": 1}
	res := evalJSON(t, `{"missing": ["a", "b"]}`, ctx)
	if !res.OK {
		t.Fatalf("Evaluate() err = %v", res.Err)
	}
	if !reflect.DeepEqual(res.Value, []any{"b"}) {
		t.Errorf("Evaluate() = %#v, want [b]", res.Value)
	}
}

func TestEvaluate_DerivedVariableChain(t *testing.T) {
	// A derived variable feeds a condition through the var namespace.
	formula := `{"if": [{">": [{"var": "settlement.population"}, 10000]}, "thriving", "stable"]}`
	ctx := map[string]any{
		"settlement": map[string]any{"population": float64(12000)},
	}

	res := evalJSON(t, formula, ctx)
	if !res.OK || res.Value != "thriving" {
		t.Fatalf("formula = (%v, %v), want thriving", res.Value, res.Err)
	}

	ctx[types.VarNamespace] = map[string]any{"prosperity_level": res.Value}
	res = evalJSON(t, `{"==": [{"var": "var.prosperity_level"}, "thriving"]}`, ctx)
	if !res.OK || res.Value != true {
		t.Errorf("chained condition = (%v, %v), want true", res.Value, res.Err)
	}
}

// Property-based test: evaluation is pure.
func TestEvaluate_PropertyPure(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	raw := json.RawMessage(`{"if": [{">=": [{"var": "pop"}, {"var": "threshold"}]}, {"+": [{"var": "pop"}, 1]}, false]}`)
	node, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	properties.Property("repeated calls with identical inputs agree", prop.ForAll(
		func(pop int, threshold int) bool {
			ctx := map[string]any{"pop": pop, "threshold": threshold}
			first := Evaluate(node, ctx)
			second := Evaluate(node, ctx)
			return first.OK == second.OK && reflect.DeepEqual(first.Value, second.Value)
		},
		gen.IntRange(-100000, 100000),
		gen.IntRange(-100000, 100000),
	))

	properties.TestingRun(t)
}

// Property-based test: evaluation never panics on arbitrary contexts.
func TestEvaluate_PropertyNeverPanics(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	node, err := Parse(json.RawMessage(`{"and": [{"var": "a.b"}, {"/": [{"var": "x"}, {"var": "y"}]}]}`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	properties.Property("arbitrary context values never crash", prop.ForAll(
		func(a string, x int, y int) bool {
			ctx := map[string]any{
				"a": map[string]any{"b": a},
				"x": x,
				"y": y,
			}
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("Evaluate() panicked: %v", r)
				}
			}()
			_ = Evaluate(node, ctx)
			return true
		},
		gen.AnyString(),
		gen.Int(),
		gen.Int(),
	))

	properties.TestingRun(t)
}
