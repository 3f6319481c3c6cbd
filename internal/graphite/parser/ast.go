// Package parser implements a recursive-descent parser for the target
// expression grammar: path expressions, function calls, and templates
// (§4.C). The grammar is intentionally small and is hand-rolled rather than
// built on a parser-generator, matching how the rest of this codebase
// handles bespoke wire/text grammars.
package parser

// Node is one parsed target expression. Exactly one of the typed fields is
// populated, mirroring the tagged-token shape of the grammar it was parsed
// from.
type Node struct {
	PathExpression string // set when the node is a bare metric glob
	Call           *Call
	Template       *Template
	Number         *float64
	String         *string
	Bool           *bool
}

// Call is a function invocation: name(args..., kwarg=value...).
type Call struct {
	Name   string
	Args   []*Node
	Kwargs []KwArg
}

// KwArg is a single keyword argument of a Call or Template.
type KwArg struct {
	Name  string
	Value *Node
}

// Template is a template(expr, name=value, ...) invocation: expr is the
// path expression containing $name placeholders, substituted at evaluation
// time from positional and keyword arguments. Keyword names are written
// without the leading $.
type Template struct {
	Expr   *Node
	Args   []*Node
	Kwargs []KwArg
}

func isPathExpression(n *Node) bool {
	return n.PathExpression != "" && n.Call == nil && n.Template == nil
}
