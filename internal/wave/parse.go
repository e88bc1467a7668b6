package wave

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"unicode"

	"github.com/cockroachdb/apd/v3"
)

// Call is a parsed call expression: a function name plus its argument
// values, e.g. `transfer("B", 42)` -> Call{Name: "transfer", Args: [...]}.
type Call struct {
	Name string
	Args []Value
}

// ParseCall parses a call expression of the form `name(arg, arg, ...)`.
// Functions with zero arguments are written `name()`.
func ParseCall(expr string) (Call, error) {
	expr = strings.TrimSpace(expr)
	open := strings.IndexByte(expr, '(')
	if open < 0 || !strings.HasSuffix(expr, ")") {
		return Call{}, fmt.Errorf("wave: %q is not a call expression", expr)
	}
	name := strings.TrimSpace(expr[:open])
	if name == "" {
		return Call{}, fmt.Errorf("wave: %q has an empty function name", expr)
	}
	body := expr[open+1 : len(expr)-1]

	args, err := parseArgList(body)
	if err != nil {
		return Call{}, fmt.Errorf("wave: parsing args of %q: %w", expr, err)
	}
	return Call{Name: name, Args: args}, nil
}

func parseArgList(body string) ([]Value, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, nil
	}
	parts, err := splitTopLevel(body, ',')
	if err != nil {
		return nil, err
	}
	args := make([]Value, 0, len(parts))
	for _, p := range parts {
		v, err := ParseValue(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return args, nil
}

// splitTopLevel splits s on sep, ignoring occurrences inside quotes or
// brackets.
func splitTopLevel(s string, sep byte) ([]string, error) {
	var parts []string
	depth := 0
	inQuote := false
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' && (i == 0 || s[i-1] != '\\'):
			inQuote = !inQuote
		case inQuote:
			// skip
		case c == '[' || c == '(':
			depth++
		case c == ']' || c == ')':
			depth--
		case c == sep && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated quote in %q", s)
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced brackets in %q", s)
	}
	parts = append(parts, s[start:])
	return parts, nil
}

// ParseValue parses a single wave-formatted literal.
func ParseValue(s string) (Value, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return Value{}, fmt.Errorf("wave: empty value literal")
	case s == "true":
		return Bool(true), nil
	case s == "false":
		return Bool(false), nil
	case strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) && len(s) >= 2:
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return Value{}, fmt.Errorf("wave: invalid string literal %q: %w", s, err)
		}
		return String(unquoted), nil
	case strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"):
		inner := s[1 : len(s)-1]
		parts, err := parseArgList(inner)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindList, List: parts}, nil
	case isNumeric(s):
		if strings.ContainsRune(s, '.') {
			d, _, err := apd.NewFromString(s)
			if err != nil {
				return Value{}, fmt.Errorf("wave: invalid decimal literal %q: %w", s, err)
			}
			return Decimal(d), nil
		}
		i, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return Value{}, fmt.Errorf("wave: invalid integer literal %q", s)
		}
		return BigInt(i), nil
	default:
		return Value{}, fmt.Errorf("wave: cannot parse literal %q", s)
	}
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	start := 0
	if s[0] == '-' || s[0] == '+' {
		start = 1
	}
	if start >= len(s) {
		return false
	}
	seenDigit := false
	for _, r := range s[start:] {
		if unicode.IsDigit(r) {
			seenDigit = true
			continue
		}
		if r == '.' {
			continue
		}
		return false
	}
	return seenDigit
}
