package expr

import (
	"encoding/json"

	"github.com/veyra/stronghold/internal/types"
)

/*
 * Wire-to-AST parsing and structural validation.
 *
 * The wire form is a JSON tree: a single-key object names an operator, its
 * value is the operand list. Scalars and arrays below an operator are
 * literals, except that nested single-key objects recurse into operator
 * nodes. The root must be an operator object; bare scalars are not valid
 * expressions.
 *
 * Why parse-time validation: enforcing depth and operand limits here moves
 * error detection to rule creation time rather than evaluation time, so a
 * hostile or broken expression can never cost anything at read time.
 *
 * Depth counts operator nesting only. Literal lists do not add depth.
 */

// Parse reconstructs the typed AST from a wire expression.
// Returns ErrEmptyExpression for null/empty input, ErrInvalidExpression for
// non-object roots, ErrExpressionTooDeep beyond MaxExpressionDepth and
// ErrUnknownOperator for operators outside the closed set.
func Parse(raw types.Expression) (Node, error) {
	if len(raw) == 0 {
		return nil, types.ErrEmptyExpression
	}

	var wire any
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, types.ErrInvalidExpression
	}
	if wire == nil {
		return nil, types.ErrEmptyExpression
	}

	obj, ok := wire.(map[string]any)
	if !ok {
		return nil, types.ErrInvalidExpression
	}

	return parseOperator(obj, 1)
}

// Validate checks structure without keeping the AST.
func Validate(raw types.Expression) error {
	_, err := Parse(raw)
	return err
}

// parseOperator converts a single-key wire object into a Call or VarRef.
func parseOperator(obj map[string]any, depth int) (Node, error) {
	if depth > types.MaxExpressionDepth {
		return nil, types.ErrExpressionTooDeep
	}
	if len(obj) != 1 {
		return nil, types.ErrInvalidExpression
	}

	var op string
	var rawArgs any
	for k, v := range obj {
		op, rawArgs = k, v
	}

	if !knownOperators[op] {
		return nil, types.ErrUnknownOperator
	}

	if op == OpVar {
		return parseVarRef(rawArgs)
	}

	args, err := parseOperands(rawArgs, depth)
	if err != nil {
		return nil, err
	}
	return Call{Op: op, Args: args}, nil
}

// parseVarRef accepts "path", ["path"] and ["path", default] forms.
func parseVarRef(rawArgs any) (Node, error) {
	switch v := rawArgs.(type) {
	case string:
		return VarRef{Path: v}, nil
	case []any:
		if len(v) == 0 || len(v) > 2 {
			return nil, types.ErrInvalidOperands
		}
		path, ok := v[0].(string)
		if !ok {
			return nil, types.ErrInvalidOperands
		}
		ref := VarRef{Path: path}
		if len(v) == 2 {
			ref.Default = v[1]
		}
		return ref, nil
	default:
		return nil, types.ErrInvalidOperands
	}
}

// parseOperands normalizes the operand list: an array is the argument list,
// anything else is a single argument.
func parseOperands(rawArgs any, depth int) ([]Node, error) {
	list, ok := rawArgs.([]any)
	if !ok {
		list = []any{rawArgs}
	}
	if len(list) > types.MaxExpressionOperands {
		return nil, types.ErrTooManyOperands
	}

	args := make([]Node, 0, len(list))
	for _, item := range list {
		node, err := parseOperand(item, depth)
		if err != nil {
			return nil, err
		}
		args = append(args, node)
	}
	return args, nil
}

// parseOperand converts one operand: single-key objects recurse as
// operators, everything else is a literal. Arrays stay literal lists so
// membership sets like {"in": [x, ["a","b"]]} keep their shape.
func parseOperand(item any, depth int) (Node, error) {
	if obj, ok := item.(map[string]any); ok {
		return parseOperator(obj, depth+1)
	}
	return Literal{Value: item}, nil
}
