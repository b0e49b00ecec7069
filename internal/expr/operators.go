package expr

import (
	"strings"

	"github.com/veyra/stronghold/internal/types"
)

/*
 * Strict operator implementations.
 *
 * Function-based rather than interface polymorphism: a switch over a small
 * closed operator set is cleaner than one type per operator with minimal
 * behavior variation. Operands reach these functions already evaluated.
 *
 * Comparison against nil never errors: equality treats nil as a value,
 * ordering against nil is simply false. This keeps missing-path lookups
 * (which resolve to nil) from aborting whole-field evaluation.
 */

// compare implements ==, !=, >, >=, <, <=.
func compare(op string, vals []any) Result {
	if len(vals) != 2 {
		return fail(types.ErrInvalidOperands)
	}
	a, b := vals[0], vals[1]

	switch op {
	case OpEq:
		return ok(looseEqual(a, b))
	case OpNeq:
		return ok(!looseEqual(a, b))
	}

	// Ordering: numeric first, string fallback. Nil operands order false.
	if a == nil || b == nil {
		return ok(false)
	}
	if na, nb, okNum := asNumbers(a, b); okNum {
		return ok(orderHolds(op, compareFloats(na, nb)))
	}
	sa, oka := a.(string)
	sb, okb := b.(string)
	if oka && okb {
		return ok(orderHolds(op, strings.Compare(sa, sb)))
	}
	return fail(types.ErrInvalidOperands)
}

func compareFloats(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func orderHolds(op string, cmp int) bool {
	switch op {
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	default:
		return false
	}
}

// arithmetic implements +, -, *, /. "-" with one operand negates.
func arithmetic(op string, vals []any) Result {
	if len(vals) == 0 {
		return fail(types.ErrInvalidOperands)
	}

	nums := make([]float64, len(vals))
	for i, v := range vals {
		n, okNum := toFloat64(v)
		if !okNum {
			return fail(types.ErrInvalidOperands)
		}
		nums[i] = n
	}

	switch op {
	case OpAdd:
		sum := 0.0
		for _, n := range nums {
			sum += n
		}
		return ok(sum)
	case OpSub:
		if len(nums) == 1 {
			return ok(-nums[0])
		}
		acc := nums[0]
		for _, n := range nums[1:] {
			acc -= n
		}
		return ok(acc)
	case OpMul:
		prod := 1.0
		for _, n := range nums {
			prod *= n
		}
		return ok(prod)
	case OpDiv:
		if len(nums) < 2 {
			return fail(types.ErrInvalidOperands)
		}
		acc := nums[0]
		for _, n := range nums[1:] {
			if n == 0 {
				return fail(types.ErrDivisionByZero)
			}
			acc /= n
		}
		return ok(acc)
	default:
		return fail(types.ErrUnknownOperator)
	}
}

// minMax implements min and max over numeric operands.
func minMax(op string, vals []any) Result {
	if len(vals) == 0 {
		return fail(types.ErrInvalidOperands)
	}
	best, okNum := toFloat64(vals[0])
	if !okNum {
		return fail(types.ErrInvalidOperands)
	}
	for _, v := range vals[1:] {
		n, okN := toFloat64(v)
		if !okN {
			return fail(types.ErrInvalidOperands)
		}
		if (op == OpMin && n < best) || (op == OpMax && n > best) {
			best = n
		}
	}
	return ok(best)
}

// membership implements "in": list membership with loose equality, or
// substring containment when both operands are strings.
func membership(vals []any) Result {
	if len(vals) != 2 {
		return fail(types.ErrInvalidOperands)
	}
	needle, haystack := vals[0], vals[1]

	switch h := haystack.(type) {
	case []any:
		for _, elem := range h {
			if looseEqual(needle, elem) {
				return ok(true)
			}
		}
		return ok(false)
	case string:
		s, isStr := needle.(string)
		if !isStr {
			return ok(false)
		}
		return ok(strings.Contains(h, s))
	default:
		return ok(false)
	}
}
