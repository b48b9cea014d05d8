// Package template expands shell-style variable references in config files.
package template

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

var varPattern = regexp.MustCompile(`\$\$|\$\{([^}]+)}`)

// LookupFunc resolves a variable name. The boolean reports whether it is set.
type LookupFunc func(name string) (string, bool)

// Substitute expands references in input. Supported forms:
//
//	${VAR}          value, empty when unset
//	${VAR:-default} default when unset or empty
//	${VAR-default}  default when unset
//	${VAR:?message} error when unset or empty
//	${VAR?message}  error when unset
//	$$              a literal dollar sign
//
// Values from vars take precedence over the process environment.
func Substitute(input string, vars map[string]string) (string, error) {
	return Expand(input, func(name string) (string, bool) {
		if v, ok := vars[name]; ok {
			return v, true
		}
		return os.LookupEnv(name)
	})
}

// Expand is Substitute with a caller supplied lookup.
func Expand(input string, lookup LookupFunc) (string, error) {
	if !strings.Contains(input, "$") {
		return input, nil
	}

	var firstErr error
	out := varPattern.ReplaceAllStringFunc(input, func(match string) string {
		if firstErr != nil {
			return match
		}
		if match == "$$" {
			return "$"
		}
		value, err := evaluate(match[2:len(match)-1], lookup)
		if err != nil {
			firstErr = err
			return match
		}
		return value
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

func evaluate(expr string, lookup LookupFunc) (string, error) {
	idx := strings.IndexAny(expr, ":-?")
	if idx < 0 {
		value, _ := lookup(strings.TrimSpace(expr))
		return value, nil
	}

	name := strings.TrimSpace(expr[:idx])
	if name == "" {
		return "", fmt.Errorf("invalid variable reference ${%s}", expr)
	}
	op := expr[idx:]
	emptyIsUnset := false
	if strings.HasPrefix(op, ":") {
		emptyIsUnset = true
		op = op[1:]
	}
	if op == "" {
		return "", fmt.Errorf("invalid variable reference ${%s}", expr)
	}

	value, set := lookup(name)
	missing := !set || (emptyIsUnset && value == "")
	arg := op[1:]

	switch op[0] {
	case '-':
		if missing {
			return arg, nil
		}
		return value, nil
	case '?':
		if missing {
			if arg == "" {
				arg = "required variable is not set"
			}
			return "", fmt.Errorf("%s: %s", name, arg)
		}
		return value, nil
	default:
		return "", fmt.Errorf("unsupported operator in ${%s}", expr)
	}
}
