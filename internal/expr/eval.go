package expr

import (
	"fmt"
	"sync"

	"github.com/moira-alert/moira/internal/moira"
)

// Compiled is a parsed, cache-ready expression.
type Compiled struct {
	root Node
}

var (
	cacheMu sync.RWMutex
	cache   = map[string]*Compiled{}
)

// Compile parses source once and caches the result by source text, as
// §4.C requires ("Parsed expressions are cached by source text").
func Compile(source string) (*Compiled, error) {
	cacheMu.RLock()
	c, ok := cache[source]
	cacheMu.RUnlock()
	if ok {
		return c, nil
	}

	root, err := Parse(source)
	if err != nil {
		return nil, err
	}
	c = &Compiled{root: root}

	cacheMu.Lock()
	cache[source] = c
	cacheMu.Unlock()
	return c, nil
}

// Env supplies the whitelisted identifier bindings an expression may read:
// t1..tN subject values, warn_value, error_value, and PREV_STATE.
type Env struct {
	Subjects   map[string]float64 // "t1" -> value, "t2" -> value, ...
	WarnValue  *float64
	ErrorValue *float64
	PrevState  moira.State
}

func stateFor(name string) (moira.State, bool) {
	switch name {
	case "OK":
		return moira.StateOK, true
	case "WARN", "WARNING":
		return moira.StateWarn, true
	case "ERROR":
		return moira.StateError, true
	case "NODATA":
		return moira.StateNoData, true
	default:
		return "", false
	}
}

// Eval evaluates the compiled expression under env, returning its result.
// Callers that need a trigger/metric state call Value.AsState() on the
// result. Triggers without an expression use DefaultCompare instead, which
// returns a moira.State directly.
func (c *Compiled) Eval(env Env) (Value, error) {
	return evalNode(c.root, env)
}

func evalNode(n Node, env Env) (Value, error) {
	switch node := n.(type) {
	case NumberLit:
		return NumberValue(node.Value), nil

	case Ident:
		if st, ok := stateFor(node.Name); ok {
			return StateValue(st), nil
		}
		switch node.Name {
		case "warn_value":
			if env.WarnValue == nil {
				return Value{}, fmt.Errorf("expr: warn_value is not set")
			}
			return NumberValue(*env.WarnValue), nil
		case "error_value":
			if env.ErrorValue == nil {
				return Value{}, fmt.Errorf("expr: error_value is not set")
			}
			return NumberValue(*env.ErrorValue), nil
		case "PREV_STATE":
			return StateValue(env.PrevState), nil
		}
		if v, ok := env.Subjects[node.Name]; ok {
			return NumberValue(v), nil
		}
		return Value{}, fmt.Errorf("expr: %q has no bound value", node.Name)

	case Neg:
		x, err := evalNode(node.X, env)
		if err != nil {
			return Value{}, err
		}
		n, err := x.AsNumber()
		if err != nil {
			return Value{}, err
		}
		return NumberValue(-n), nil

	case NotOp:
		x, err := evalNode(node.X, env)
		if err != nil {
			return Value{}, err
		}
		b, err := x.AsBool()
		if err != nil {
			return Value{}, err
		}
		return BoolValue(!b), nil

	case BoolOp:
		l, err := evalNode(node.Left, env)
		if err != nil {
			return Value{}, err
		}
		lb, err := l.AsBool()
		if err != nil {
			return Value{}, err
		}
		if node.Op == "and" && !lb {
			return BoolValue(false), nil
		}
		if node.Op == "or" && lb {
			return BoolValue(true), nil
		}
		r, err := evalNode(node.Right, env)
		if err != nil {
			return Value{}, err
		}
		rb, err := r.AsBool()
		if err != nil {
			return Value{}, err
		}
		return BoolValue(rb), nil

	case BinOp:
		return evalBinOp(node, env)

	case Ternary:
		cond, err := evalNode(node.Cond, env)
		if err != nil {
			return Value{}, err
		}
		b, err := cond.AsBool()
		if err != nil {
			return Value{}, err
		}
		if b {
			return evalNode(node.Then, env)
		}
		return evalNode(node.Else, env)

	default:
		return Value{}, fmt.Errorf("expr: unhandled node type %T", n)
	}
}

func evalBinOp(node BinOp, env Env) (Value, error) {
	l, err := evalNode(node.Left, env)
	if err != nil {
		return Value{}, err
	}
	r, err := evalNode(node.Right, env)
	if err != nil {
		return Value{}, err
	}

	if node.Op == "==" || node.Op == "!=" {
		return evalEquality(node.Op, l, r)
	}

	ln, err := l.AsNumber()
	if err != nil {
		return Value{}, err
	}
	rn, err := r.AsNumber()
	if err != nil {
		return Value{}, err
	}

	switch node.Op {
	case "+":
		return NumberValue(ln + rn), nil
	case "-":
		return NumberValue(ln - rn), nil
	case "*":
		return NumberValue(ln * rn), nil
	case "/":
		if rn == 0 {
			return Value{}, fmt.Errorf("expr: division by zero")
		}
		return NumberValue(ln / rn), nil
	case "<":
		return BoolValue(ln < rn), nil
	case "<=":
		return BoolValue(ln <= rn), nil
	case ">":
		return BoolValue(ln > rn), nil
	case ">=":
		return BoolValue(ln >= rn), nil
	default:
		return Value{}, fmt.Errorf("expr: unknown operator %q", node.Op)
	}
}

func evalEquality(op string, l, r Value) (Value, error) {
	var eq bool
	switch {
	case l.Kind == KindState || r.Kind == KindState:
		eq = l.Kind == KindState && r.Kind == KindState && l.State == r.State
	default:
		ln, err := l.AsNumber()
		if err != nil {
			return Value{}, err
		}
		rn, err := r.AsNumber()
		if err != nil {
			return Value{}, err
		}
		eq = ln == rn
	}
	if op == "!=" {
		eq = !eq
	}
	return BoolValue(eq), nil
}

// DefaultCompare evaluates the default (no user expression) function: ERROR
// if cmp(t1, error_value) else WARN if cmp(t1, warn_value) else OK, where
// cmp is >= when warn_value <= error_value, else <= (§4.C).
func DefaultCompare(t1, warnValue, errorValue float64) moira.State {
	var cmp func(a, b float64) bool
	if warnValue <= errorValue {
		cmp = func(a, b float64) bool { return a >= b }
	} else {
		cmp = func(a, b float64) bool { return a <= b }
	}
	switch {
	case cmp(t1, errorValue):
		return moira.StateError
	case cmp(t1, warnValue):
		return moira.StateWarn
	default:
		return moira.StateOK
	}
}
