package engine

import (
	"fmt"
	"strconv"
	"strings"
)

// Condition operators recognized inside an object spec.
var conditionOperators = map[string]bool{
	"=": true, "!=": true, ">": true, ">=": true, "<": true, "<=": true,
	"in": true, "not_in": true, "contains": true, "starts_with": true,
	"ends_with": true, "changed_to": true, "changed_from": true,
}

// EvaluateConditions applies every condition (implicit AND) against the
// evaluation context. An empty condition map always matches. The evaluator
// never errors: malformed specs and unresolvable paths degrade to false.
func EvaluateConditions(conditions map[string]any, root map[string]any) bool {
	for path, spec := range conditions {
		if !evaluateCondition(path, spec, root) {
			return false
		}
	}
	return true
}

func evaluateCondition(path string, spec any, root map[string]any) bool {
	actual, ok := Resolve(path, root)
	prev, prevOK := Resolve(previousPath(path), root)
	switch s := spec.(type) {
	case map[string]any:
		if len(s) == 0 {
			return false
		}
		for op, expected := range s {
			if !conditionOperators[op] {
				return false
			}
			if !applyOperator(op, actual, ok, expected, prev, prevOK) {
				return false
			}
		}
		return true
	case []any:
		return ok && memberOf(actual, s)
	default:
		return ok && looseEqual(actual, spec)
	}
}

// previousPath maps a task field path to its previous-snapshot counterpart
// for changed_to / changed_from.
func previousPath(path string) string {
	if rest, found := strings.CutPrefix(path, "task."); found {
		return "previous." + rest
	}
	return ""
}

func applyOperator(op string, actual any, ok bool, expected any, prev any, prevOK bool) bool {
	switch op {
	case "=":
		return ok && looseEqual(actual, expected)
	case "!=":
		return ok && !looseEqual(actual, expected)
	case ">", ">=", "<", "<=":
		a, aok := toFloat(actual)
		b, bok := toFloat(expected)
		if !ok || !aok || !bok {
			return false
		}
		switch op {
		case ">":
			return a > b
		case ">=":
			return a >= b
		case "<":
			return a < b
		default:
			return a <= b
		}
	case "in":
		list, isList := expected.([]any)
		return ok && isList && memberOf(actual, list)
	case "not_in":
		list, isList := expected.([]any)
		return ok && isList && !memberOf(actual, list)
	case "contains":
		return ok && strings.Contains(lowerString(actual), lowerString(expected))
	case "starts_with":
		return ok && strings.HasPrefix(lowerString(actual), lowerString(expected))
	case "ends_with":
		return ok && strings.HasSuffix(lowerString(actual), lowerString(expected))
	case "changed_to":
		return ok && looseEqual(actual, expected) && prevOK && !looseEqual(prev, expected)
	case "changed_from":
		return prevOK && looseEqual(prev, expected) && (!ok || !looseEqual(actual, expected))
	default:
		return false
	}
}

func memberOf(actual any, list []any) bool {
	for _, v := range list {
		if looseEqual(actual, v) {
			return true
		}
	}
	return false
}

// looseEqual compares numerically when both sides parse as numbers, otherwise
// by string form. JSON decoding hands the evaluator float64s where rule
// authors wrote integers.
func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func lowerString(v any) string {
	return strings.ToLower(fmt.Sprint(v))
}
