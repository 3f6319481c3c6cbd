package eval

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/moira-alert/moira/internal/graphite/parser"
	"github.com/moira-alert/moira/internal/moira"
)

// Evaluate walks a parsed target and returns its Value: a path expression
// fetches series; a call dispatches to the registered function; a template
// substitutes $name placeholders into its inner path expression before
// fetching.
func Evaluate(rc *RequestContext, node *parser.Node) (moira.Value, error) {
	switch {
	case node.Template != nil:
		return evalTemplate(rc, node.Template)

	case node.PathExpression != "":
		series, err := rc.fetch(node.PathExpression)
		if err != nil {
			return moira.Value{}, err
		}
		return moira.SeriesValue(series), nil

	case node.Call != nil:
		return evalCall(rc, node.Call)

	case node.Number != nil:
		return moira.NumberValue(*node.Number), nil

	case node.String != nil:
		return moira.StringValue(*node.String), nil

	case node.Bool != nil:
		return moira.BoolValue(*node.Bool), nil

	default:
		return moira.Value{}, fmt.Errorf("eval: empty expression node")
	}
}

func evalCall(rc *RequestContext, call *parser.Call) (moira.Value, error) {
	fn, ok := lookup(call.Name)
	if !ok {
		return moira.Value{}, fmt.Errorf("eval: unknown function %q", call.Name)
	}

	args := make([]moira.Value, len(call.Args))
	for i, a := range call.Args {
		v, err := Evaluate(rc, a)
		if err != nil {
			return moira.Value{}, fmt.Errorf("eval: %s: argument %d: %w", call.Name, i+1, err)
		}
		args[i] = v
	}

	// movingAverage/movingMedian need their series argument re-fetched
	// extended back by the window length (§4.D bootstrap fetch). The
	// series argument above was already fetched with the plain range, so
	// re-evaluate it under a widened context and replace it.
	if windowIdx, ok := bootstrapWindowArgIndex(call.Name); ok && windowIdx < len(args) && len(call.Args) > 0 {
		delta := bootstrapDeltaSeconds(args[windowIdx], args[0])
		if delta > 0 {
			bootstrapped, err := Evaluate(rc.withBootstrap(delta), call.Args[0])
			if err != nil {
				return moira.Value{}, fmt.Errorf("eval: %s: bootstrap fetch: %w", call.Name, err)
			}
			args[0] = bootstrapped
		}
	}

	kwargs := make(map[string]moira.Value, len(call.Kwargs))
	for _, kw := range call.Kwargs {
		v, err := Evaluate(rc, kw.Value)
		if err != nil {
			return moira.Value{}, fmt.Errorf("eval: %s: kwarg %s: %w", call.Name, kw.Name, err)
		}
		kwargs[kw.Name] = v
	}

	result, err := fn(rc, args, kwargs)
	if err != nil {
		return moira.Value{}, fmt.Errorf("eval: %s: %w", call.Name, err)
	}
	return result, nil
}

// evalTemplate substitutes $name placeholders in the template's inner
// expression with the values bound by its positional (by 1-based index) and
// keyword arguments, then evaluates the substituted expression.
func evalTemplate(rc *RequestContext, tmpl *parser.Template) (moira.Value, error) {
	bindings := make(map[string]string, len(tmpl.Args)+len(tmpl.Kwargs))
	for i, a := range tmpl.Args {
		v, err := Evaluate(rc, a)
		if err != nil {
			return moira.Value{}, fmt.Errorf("eval: template arg %d: %w", i+1, err)
		}
		bindings[strconv.Itoa(i+1)] = valueToString(v)
	}
	for _, kw := range tmpl.Kwargs {
		v, err := Evaluate(rc, kw.Value)
		if err != nil {
			return moira.Value{}, fmt.Errorf("eval: template kwarg %s: %w", kw.Name, err)
		}
		bindings[kw.Name] = valueToString(v)
	}

	if !isPathExprNode(tmpl.Expr) {
		return Evaluate(rc, substituteNode(tmpl.Expr, bindings))
	}

	expr := tmpl.Expr.PathExpression
	for name, val := range bindings {
		expr = strings.ReplaceAll(expr, "$"+name, val)
	}
	series, err := rc.fetch(expr)
	if err != nil {
		return moira.Value{}, err
	}
	return moira.SeriesValue(series), nil
}

func isPathExprNode(n *parser.Node) bool {
	return n.PathExpression != ""
}

// substituteNode recursively rewrites $name path-expression fragments
// anywhere inside a call/template tree, covering template(call(...), ...).
func substituteNode(n *parser.Node, bindings map[string]string) *parser.Node {
	switch {
	case n.PathExpression != "":
		expr := n.PathExpression
		for name, val := range bindings {
			expr = strings.ReplaceAll(expr, "$"+name, val)
		}
		return &parser.Node{PathExpression: expr}
	case n.Call != nil:
		args := make([]*parser.Node, len(n.Call.Args))
		for i, a := range n.Call.Args {
			args[i] = substituteNode(a, bindings)
		}
		kwargs := make([]parser.KwArg, len(n.Call.Kwargs))
		for i, kw := range n.Call.Kwargs {
			kwargs[i] = parser.KwArg{Name: kw.Name, Value: substituteNode(kw.Value, bindings)}
		}
		return &parser.Node{Call: &parser.Call{Name: n.Call.Name, Args: args, Kwargs: kwargs}}
	default:
		return n
	}
}

func valueToString(v moira.Value) string {
	switch v.Kind {
	case moira.KindString:
		return v.Str
	case moira.KindNumber:
		return strconv.FormatFloat(v.Number, 'g', -1, 64)
	case moira.KindBool:
		return strconv.FormatBool(v.Bool)
	default:
		return ""
	}
}
