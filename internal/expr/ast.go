// Package expr implements the boolean/value-logic expression language used
// by conditions and derived variables.
//
// Expressions arrive as JSON trees whose non-leaf nodes are single-key
// objects naming an operator. Parse reconstructs a closed, exhaustively
// matchable AST from the wire form so evaluation works over typed nodes
// rather than untyped maps. Evaluation is pure and never panics past the
// package boundary: malformed input and runtime failures are returned as
// failed Results.
package expr

// Node is the tagged-union AST for a parsed expression.
// Implementations: Literal, VarRef, Call.
type Node interface {
	isNode()
}

// Literal is a constant leaf: scalar, list or null.
type Literal struct {
	Value any
}

func (Literal) isNode() {}

// VarRef resolves a dot path against the evaluation context. A missing path
// resolves to Default (nil unless supplied), never an error.
type VarRef struct {
	Path    string
	Default any
}

func (VarRef) isNode() {}

// Call applies an operator to an ordered operand list.
type Call struct {
	Op   string
	Args []Node
}

func (Call) isNode() {}

// Supported operator names.
const (
	OpVar     = "var"
	OpEq      = "=="
	OpNeq     = "!="
	OpGt      = ">"
	OpGte     = ">="
	OpLt      = "<"
	OpLte     = "<="
	OpAnd     = "and"
	OpOr      = "or"
	OpNot     = "!"
	OpIf      = "if"
	OpAdd     = "+"
	OpSub     = "-"
	OpMul     = "*"
	OpDiv     = "/"
	OpMin     = "min"
	OpMax     = "max"
	OpIn      = "in"
	OpMissing = "missing"
)

// knownOperators is the closed operator set accepted by Parse.
var knownOperators = map[string]bool{
	OpVar: true, OpEq: true, OpNeq: true, OpGt: true, OpGte: true,
	OpLt: true, OpLte: true, OpAnd: true, OpOr: true, OpNot: true,
	OpIf: true, OpAdd: true, OpSub: true, OpMul: true, OpDiv: true,
	OpMin: true, OpMax: true, OpIn: true, OpMissing: true,
}
