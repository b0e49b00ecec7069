package expr

import (
	"fmt"

	"github.com/veyra/stronghold/internal/types"
)

/*
 * Expression evaluation.
 *
 * Evaluate walks the typed AST against a context map. Failures are values:
 * a Result with OK=false and a wrapped error, never a panic or a Go error
 * return that aborts a batch. Callers evaluating many conditions collect
 * per-item Results and keep going.
 *
 * Variable lookup resolves dot paths through nested maps and slices with
 * ANY-missing semantics: an unresolvable path yields the VarRef default
 * (nil unless supplied), which comparisons then treat as absent.
 *
 * Boolean operators return operand values, not coerced booleans: "and"
 * yields the first falsy operand or the last one, "or" the first truthy.
 * This keeps {"if":[...]} chains and defaulting idioms working the way
 * operators expect from the wire language.
 */

// Result is the per-expression evaluation outcome. Err is set only when
// OK is false.
type Result struct {
	OK    bool
	Value any
	Err   error
}

func ok(v any) Result       { return Result{OK: true, Value: v} }
func fail(err error) Result { return Result{Err: err} }

// Evaluate computes the value of a parsed expression against ctx.
// Pure: identical inputs produce identical Results. Never panics.
func Evaluate(node Node, ctx map[string]any) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = fail(fmt.Errorf("%w: %v", types.ErrInvalidExpression, r))
		}
	}()
	return eval(node, ctx)
}

// EvaluateRaw parses and evaluates a wire expression in one step.
func EvaluateRaw(raw types.Expression, ctx map[string]any) Result {
	node, err := Parse(raw)
	if err != nil {
		return fail(err)
	}
	return Evaluate(node, ctx)
}

func eval(node Node, ctx map[string]any) Result {
	switch n := node.(type) {
	case Literal:
		return ok(n.Value)
	case VarRef:
		v, found := LookupPath(ctx, n.Path)
		if !found {
			return ok(n.Default)
		}
		return ok(v)
	case Call:
		return evalCall(n, ctx)
	default:
		return fail(types.ErrInvalidExpression)
	}
}

func evalCall(call Call, ctx map[string]any) Result {
	switch call.Op {
	case OpAnd:
		return evalAnd(call.Args, ctx)
	case OpOr:
		return evalOr(call.Args, ctx)
	case OpNot:
		return evalNot(call.Args, ctx)
	case OpIf:
		return evalIf(call.Args, ctx)
	case OpMissing:
		return evalMissing(call.Args, ctx)
	}

	// Remaining operators are strict: all operands evaluate first and any
	// operand failure fails the call.
	vals := make([]any, 0, len(call.Args))
	for _, arg := range call.Args {
		r := eval(arg, ctx)
		if !r.OK {
			return r
		}
		vals = append(vals, r.Value)
	}

	switch call.Op {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte:
		return compare(call.Op, vals)
	case OpAdd, OpSub, OpMul, OpDiv:
		return arithmetic(call.Op, vals)
	case OpMin, OpMax:
		return minMax(call.Op, vals)
	case OpIn:
		return membership(vals)
	default:
		return fail(types.ErrUnknownOperator)
	}
}

// evalAnd returns the first falsy operand value, or the last value.
func evalAnd(args []Node, ctx map[string]any) Result {
	var last any = true
	for _, arg := range args {
		r := eval(arg, ctx)
		if !r.OK {
			return r
		}
		if !truthy(r.Value) {
			return ok(r.Value)
		}
		last = r.Value
	}
	return ok(last)
}

// evalOr returns the first truthy operand value, or the last value.
func evalOr(args []Node, ctx map[string]any) Result {
	var last any = false
	for _, arg := range args {
		r := eval(arg, ctx)
		if !r.OK {
			return r
		}
		if truthy(r.Value) {
			return ok(r.Value)
		}
		last = r.Value
	}
	return ok(last)
}

func evalNot(args []Node, ctx map[string]any) Result {
	if len(args) != 1 {
		return fail(types.ErrInvalidOperands)
	}
	r := eval(args[0], ctx)
	if !r.OK {
		return r
	}
	return ok(!truthy(r.Value))
}

// evalIf handles [cond, then, elif-cond, elif-then, ..., else] chains.
// Only the selected branch evaluates.
func evalIf(args []Node, ctx map[string]any) Result {
	i := 0
	for i+1 < len(args) {
		cond := eval(args[i], ctx)
		if !cond.OK {
			return cond
		}
		if truthy(cond.Value) {
			return eval(args[i+1], ctx)
		}
		i += 2
	}
	if i < len(args) {
		return eval(args[i], ctx)
	}
	return ok(nil)
}

// evalMissing returns the list of operand paths absent from the context.
func evalMissing(args []Node, ctx map[string]any) Result {
	missing := []any{}
	for _, arg := range args {
		r := eval(arg, ctx)
		if !r.OK {
			return r
		}
		path, isStr := r.Value.(string)
		if ref, isRef := arg.(VarRef); isRef {
			path, isStr = ref.Path, true
		}
		if !isStr {
			return fail(types.ErrInvalidOperands)
		}
		if _, found := LookupPath(ctx, path); !found {
			missing = append(missing, path)
		}
	}
	return ok(missing)
}
