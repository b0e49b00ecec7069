package expr

import (
	"fmt"

	"github.com/veyra/stronghold/internal/types"
)

/*
 * Traced evaluation for operator debugging.
 *
 * EvaluateWithTrace runs the same pipeline as EvaluateRaw but records an
 * ordered step list: validation, context summary, variable resolution,
 * evaluation. Each step carries input, output and pass/fail. The function
 * never returns an error: internal failures become a failed step and the
 * trace stops there.
 */

// TraceStep is one named stage of a traced evaluation.
type TraceStep struct {
	Name   string `json:"name"`
	Input  any    `json:"input,omitempty"`
	Output any    `json:"output,omitempty"`
	Passed bool   `json:"passed"`
	Error  string `json:"error,omitempty"`
}

// Trace is the full outcome of a traced evaluation.
type Trace struct {
	Result Result      `json:"-"`
	Steps  []TraceStep `json:"steps"`
}

// EvaluateWithTrace evaluates raw against ctx recording each stage.
func EvaluateWithTrace(raw types.Expression, ctx map[string]any) (tr Trace) {
	defer func() {
		if r := recover(); r != nil {
			tr.Result = fail(fmt.Errorf("%w: %v", types.ErrInvalidExpression, r))
			tr.Steps = append(tr.Steps, TraceStep{
				Name:   "evaluate",
				Error:  fmt.Sprintf("internal error: %v", r),
				Passed: false,
			})
		}
	}()

	// Step 1: structural validation.
	node, err := Parse(raw)
	if err != nil {
		tr.Result = fail(err)
		tr.Steps = append(tr.Steps, TraceStep{
			Name:   "validate",
			Input:  string(raw),
			Error:  err.Error(),
			Passed: false,
		})
		return tr
	}
	tr.Steps = append(tr.Steps, TraceStep{
		Name:   "validate",
		Input:  string(raw),
		Output: "expression parsed",
		Passed: true,
	})

	// Step 2: context summary. Top-level keys only; values may be large.
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	tr.Steps = append(tr.Steps, TraceStep{
		Name:   "context",
		Output: keys,
		Passed: true,
	})

	// Step 3: resolve every referenced path against the context.
	resolved := map[string]any{}
	for _, path := range Dependencies(raw) {
		v, found := LookupPath(ctx, path)
		if found {
			resolved[path] = v
		} else {
			resolved[path] = nil
		}
	}
	tr.Steps = append(tr.Steps, TraceStep{
		Name:   "resolve",
		Output: resolved,
		Passed: true,
	})

	// Step 4: evaluation.
	res := Evaluate(node, ctx)
	step := TraceStep{Name: "evaluate", Output: res.Value, Passed: res.OK}
	if res.Err != nil {
		step.Error = res.Err.Error()
	}
	tr.Steps = append(tr.Steps, step)
	tr.Result = res
	return tr
}
