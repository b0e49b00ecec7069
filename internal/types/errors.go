package types

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for Stronghold operations.
var (
	// ErrEmptyExpression indicates a null or missing expression tree.
	ErrEmptyExpression = errors.New("expression is empty")

	// ErrInvalidExpression indicates a non-object or malformed expression.
	ErrInvalidExpression = errors.New("expression is not a valid operator tree")

	// ErrExpressionTooDeep indicates nesting beyond MaxExpressionDepth.
	ErrExpressionTooDeep = errors.New("expression exceeds maximum nesting depth")

	// ErrTooManyOperands indicates an operator with an oversized argument list.
	ErrTooManyOperands = errors.New("operator has too many operands")

	// ErrUnknownOperator indicates an operator outside the supported set.
	ErrUnknownOperator = errors.New("unknown operator")

	// ErrInvalidOperands indicates operands incompatible with the operator.
	ErrInvalidOperands = errors.New("invalid operands for operator")

	// ErrDivisionByZero indicates an arithmetic division by zero.
	ErrDivisionByZero = errors.New("division by zero")

	// ErrUnknownEntityKind indicates an entity type tag outside the closed set.
	ErrUnknownEntityKind = errors.New("unknown entity kind")

	// ErrUnknownScope indicates a variable scope outside the closed set.
	ErrUnknownScope = errors.New("unknown variable scope")

	// ErrMissingScopeID indicates a non-world scope without a scope id.
	ErrMissingScopeID = errors.New("scope requires a scope id")

	// ErrValueAndFormula indicates a variable carrying both a stored value
	// and a formula, or neither.
	ErrValueAndFormula = errors.New("variable must carry exactly one of value or formula")

	// ErrKeyTooLong indicates a variable key beyond MaxVariableKeyLength.
	ErrKeyTooLong = errors.New("variable key too long")

	// ErrFieldNameTooLong indicates a condition field beyond MaxFieldNameLength.
	ErrFieldNameTooLong = errors.New("condition field name too long")

	// ErrNotFound indicates a missing, soft-deleted or inaccessible record.
	// Deliberately indistinguishable from "no access" to avoid leaking
	// existence.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey indicates a live variable already holds the
	// (scope, scope id, key) combination.
	ErrDuplicateKey = errors.New("variable key already exists in scope")
)

// ConflictError reports an optimistic-lock version mismatch. Carries both
// versions so the caller can refresh and retry.
type ConflictError struct {
	EntityType string
	EntityID   string
	Expected   int64
	Actual     int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s %s: expected %d, actual %d",
		e.EntityType, e.EntityID, e.Expected, e.Actual)
}

// IsConflict reports whether err is an optimistic-lock conflict.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// CycleError reports a dependency cycle with the participating node ids.
// Returned instead of an arbitrary partial order.
type CycleError struct {
	Nodes []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle involving: %s", strings.Join(e.Nodes, ", "))
}

// IsCycle reports whether err is a dependency cycle.
func IsCycle(err error) bool {
	var ce *CycleError
	return errors.As(err, &ce)
}
