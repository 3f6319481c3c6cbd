package parser

import "fmt"

// Parse parses a single target expression into a Node tree.
func Parse(target string) (*Node, error) {
	l := newLexer(target)
	node, err := parseNode(l)
	if err != nil {
		return nil, err
	}
	l.skipSpace()
	if !l.eof() {
		return nil, fmt.Errorf("parser: unexpected trailing input at offset %d in %q", l.pos, target)
	}
	return node, nil
}

func parseNode(l *lexer) (*Node, error) {
	l.skipSpace()
	if l.eof() {
		return nil, fmt.Errorf("parser: unexpected end of expression")
	}

	switch {
	case l.peek() == '\'' || l.peek() == '"':
		s, err := l.scanQuotedString()
		if err != nil {
			return nil, err
		}
		return &Node{String: &s}, nil

	case isDigit(l.peek()) || (l.peek() == '-' && l.pos+1 < len(l.src) && isDigit(l.src[l.pos+1])):
		return parseNumber(l), nil

	case isIdentStart(l.peek()):
		return parseWordLike(l)

	default:
		return nil, fmt.Errorf("parser: unexpected character %q at offset %d", l.peek(), l.pos)
	}
}

func parseNumber(l *lexer) *Node {
	raw := l.scanNumber()
	var v float64
	fmt.Sscanf(raw, "%g", &v)
	return &Node{Number: &v}
}

// parseWordLike handles identifiers, booleans, bare path expressions, and
// calls (an identifier immediately followed by '(').
func parseWordLike(l *lexer) (*Node, error) {
	word := l.scanBareWord()
	if word == "" {
		return nil, fmt.Errorf("parser: expected identifier at offset %d", l.pos)
	}

	if !l.eof() && l.peek() == '(' {
		return parseCall(l, word)
	}

	switch word {
	case "true":
		b := true
		return &Node{Bool: &b}, nil
	case "false":
		b := false
		return &Node{Bool: &b}, nil
	}

	return &Node{PathExpression: word}, nil
}

func parseCall(l *lexer, name string) (*Node, error) {
	l.next() // consume '('
	args, kwargs, err := parseArgList(l)
	if err != nil {
		return nil, err
	}

	if name == "template" {
		if len(args) == 0 {
			return nil, fmt.Errorf("parser: template() requires at least one argument")
		}
		return &Node{Template: &Template{
			Expr:   args[0],
			Args:   args[1:],
			Kwargs: kwargs,
		}}, nil
	}

	return &Node{Call: &Call{Name: name, Args: args, Kwargs: kwargs}}, nil
}

// parseArgList parses a comma-separated argument list up to and including
// the closing ')'. Each argument is either a bare Node or a name=value
// keyword argument.
func parseArgList(l *lexer) ([]*Node, []KwArg, error) {
	var args []*Node
	var kwargs []KwArg

	l.skipSpace()
	if !l.eof() && l.peek() == ')' {
		l.next()
		return args, kwargs, nil
	}

	for {
		l.skipSpace()
		name, isKwarg, err := tryParseKwargName(l)
		if err != nil {
			return nil, nil, err
		}
		if isKwarg {
			val, err := parseNode(l)
			if err != nil {
				return nil, nil, err
			}
			kwargs = append(kwargs, KwArg{Name: name, Value: val})
		} else {
			val, err := parseNode(l)
			if err != nil {
				return nil, nil, err
			}
			args = append(args, val)
		}

		l.skipSpace()
		if l.eof() {
			return nil, nil, fmt.Errorf("parser: unterminated argument list")
		}
		switch l.peek() {
		case ',':
			l.next()
			continue
		case ')':
			l.next()
			return args, kwargs, nil
		default:
			return nil, nil, fmt.Errorf("parser: expected ',' or ')' at offset %d", l.pos)
		}
	}
}

// tryParseKwargName looks ahead for "identifier =" (not "==", not part of a
// path expression) and, if found, consumes it and returns (name, true).
// Otherwise the lexer position is left untouched and (_, false) is returned.
func tryParseKwargName(l *lexer) (string, bool, error) {
	save := l.pos
	if l.eof() || !isSimpleIdentStart(l.peek()) {
		return "", false, nil
	}
	start := l.pos
	for !l.eof() && isSimpleIdentRune(l.peek()) {
		l.pos++
	}
	name := string(l.src[start:l.pos])

	l.skipSpace()
	if !l.eof() && l.peek() == '=' {
		l.next()
		return name, true, nil
	}

	l.pos = save
	return "", false, nil
}

func isSimpleIdentStart(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isSimpleIdentRune(r rune) bool {
	return isSimpleIdentStart(r) || isDigit(r)
}
