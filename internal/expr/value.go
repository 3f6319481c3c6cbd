// Package expr implements the restricted user-expression sandbox described
// in §4.C/§4.E: a small hand-rolled recursive-descent parser and evaluator
// over whitelisted identifiers only. The grammar has no call or lambda
// production at all, so "no function calls, no anonymous functions" is
// enforced structurally rather than by an AST walk rejecting node kinds.
package expr

import (
	"fmt"

	"github.com/moira-alert/moira/internal/moira"
)

// Kind discriminates which field of Value is live.
type Kind int

const (
	KindNumber Kind = iota
	KindBool
	KindState
)

// Value is the small tagged union expressions evaluate to: a number for
// arithmetic, a bool for comparisons/boolean ops, or a moira.State for
// identifiers like OK/WARN/ERROR/NODATA and the final ternary result.
type Value struct {
	Kind   Kind
	Number float64
	Bool   bool
	State  moira.State
}

func NumberValue(n float64) Value    { return Value{Kind: KindNumber, Number: n} }
func BoolValue(b bool) Value         { return Value{Kind: KindBool, Bool: b} }
func StateValue(s moira.State) Value { return Value{Kind: KindState, State: s} }

// AsNumber coerces a Value to float64 for arithmetic/comparison; states have
// no numeric meaning and produce an error.
func (v Value) AsNumber() (float64, error) {
	switch v.Kind {
	case KindNumber:
		return v.Number, nil
	case KindBool:
		if v.Bool {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("expr: state value has no numeric meaning")
	}
}

// AsBool coerces a Value for use as a boolean condition.
func (v Value) AsBool() (bool, error) {
	switch v.Kind {
	case KindBool:
		return v.Bool, nil
	case KindNumber:
		return v.Number != 0, nil
	default:
		return false, fmt.Errorf("expr: state value has no boolean meaning")
	}
}

// AsState coerces a Value to the final trigger/metric state the expression
// produced — the expected type of a whole expression's result.
func (v Value) AsState() (moira.State, error) {
	if v.Kind != KindState {
		return "", fmt.Errorf("expr: expression did not evaluate to a state")
	}
	return v.State, nil
}
