// Package runif parses and evaluates a stage's "runIf" predicate.
package runif

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/flowsmith/flowctl/internal/execctx"
	"github.com/flowsmith/flowctl/internal/flowerrors"
	"github.com/flowsmith/flowctl/internal/templating"
)

// exprPattern captures the token content, the operator, and the raw RHS.
// "not in" must be tried before "in" since both can match a prefix of the
// operator position.
var exprPattern = regexp.MustCompile(`(?is)^\{\{\s*(.+?)\s*\}\}\s*(not in|in|==|!=)\s*(.+)$`)

type rhsKind int

const (
	rhsNull rhsKind = iota
	rhsString
	rhsNumber
	rhsNumList
)

type rhsValue struct {
	kind rhsKind
	str  string
	list []string
}

// Expr is one parsed runIf predicate, ready to be evaluated repeatedly
// against different TemplateContext snapshots.
type Expr struct {
	tokenContent string
	op           string
	rhs          rhsValue
}

// Parse parses a runIf string. A grammar mismatch surfaces InvalidRunIf.
func Parse(raw string) (*Expr, error) {
	m := exprPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return nil, flowerrors.ErrInvalidRunIf(raw, nil)
	}
	op := strings.ToLower(strings.Join(strings.Fields(m[2]), " "))

	rhs, err := parseRHS(strings.TrimSpace(m[3]))
	if err != nil {
		return nil, flowerrors.ErrInvalidRunIf(raw, err)
	}
	if (op == "in" || op == "not in") && rhs.kind != rhsNumList {
		return nil, flowerrors.ErrInvalidRunIf(raw, nil)
	}

	return &Expr{tokenContent: m[1], op: op, rhs: rhs}, nil
}

func parseRHS(s string) (rhsValue, error) {
	switch {
	case s == "null":
		return rhsValue{kind: rhsNull}, nil
	case len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"':
		return rhsValue{kind: rhsString, str: s[1 : len(s)-1]}, nil
	case len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'':
		return rhsValue{kind: rhsString, str: s[1 : len(s)-1]}, nil
	case len(s) >= 2 && s[0] == '[' && s[len(s)-1] == ']':
		inner := strings.TrimSpace(s[1 : len(s)-1])
		var elems []string
		if inner != "" {
			for _, p := range strings.Split(inner, ",") {
				p = strings.TrimSpace(p)
				if !isSignedDecimal(p) {
					return rhsValue{}, errInvalidRHS
				}
				elems = append(elems, p)
			}
		}
		return rhsValue{kind: rhsNumList, list: elems}, nil
	case isSignedDecimal(s):
		return rhsValue{kind: rhsNumber, str: s}, nil
	default:
		return rhsValue{}, errInvalidRHS
	}
}

var errInvalidRHS = &rhsParseError{}

type rhsParseError struct{}

func (*rhsParseError) Error() string { return "invalid runIf rhs" }

var decimalPattern = regexp.MustCompile(`^[+-]?\d+(\.\d+)?$`)

func isSignedDecimal(s string) bool {
	return decimalPattern.MatchString(s)
}

// Evaluate resolves the expression's token leniently (absent data yields
// null) and evaluates it against rhs.
func (e *Expr) Evaluate(tc execctx.TemplateContext) bool {
	value, isNull := templating.ResolveToken(e.tokenContent, tc)

	switch e.op {
	case "==", "!=":
		var equal bool
		if e.rhs.kind == rhsNull {
			equal = isNull || value == ""
		} else if isNull {
			equal = false
		} else {
			equal = compareScalar(value, e.rhs)
		}
		if e.op == "!=" {
			return !equal
		}
		return equal
	case "in", "not in":
		member := false
		if !isNull {
			trimmed := strings.TrimSpace(value)
			for _, elem := range e.rhs.list {
				if trimmed == elem {
					member = true
					break
				}
			}
		}
		if e.op == "not in" {
			return !member
		}
		return member
	default:
		return false
	}
}

func compareScalar(value string, rhs rhsValue) bool {
	switch rhs.kind {
	case rhsString:
		return value == rhs.str
	case rhsNumber:
		if fv, err := strconv.ParseFloat(value, 64); err == nil {
			if nv, err2 := strconv.ParseFloat(rhs.str, 64); err2 == nil {
				return fv == nv
			}
		}
		return value == rhs.str
	default:
		return false
	}
}
