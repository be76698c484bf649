package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/strandhq/strand/pkg/schema"
)

// EvaluateCondition evaluates a field/operator/value predicate against the
// given data. It never errors: a missing field resolves to nil, non-numeric
// operands make the ordering operators false, and an operator we do not
// recognize evaluates to true so one misconfigured node does not stall the
// branches around it.
func EvaluateCondition(spec schema.ConditionSpec, data map[string]any) bool {
	actual := ResolvePath(data, spec.Field)

	switch spec.Operator {
	case schema.OpEquals:
		return stringify(actual) == stringify(spec.Value)
	case schema.OpNotEquals:
		return stringify(actual) != stringify(spec.Value)
	case schema.OpContains:
		return strings.Contains(stringify(actual), stringify(spec.Value))
	case schema.OpIsEmpty:
		return isEmpty(actual)
	case schema.OpIsNotEmpty:
		return !isEmpty(actual)
	case schema.OpGreaterThan:
		a, b, ok := numericPair(actual, spec.Value)
		return ok && a > b
	case schema.OpLessThan:
		a, b, ok := numericPair(actual, spec.Value)
		return ok && a < b
	default:
		// Fail open on unknown operators.
		return true
	}
}

// ResolvePath resolves a dotted path ("user.address.city") against nested
// maps. Any missing segment or non-map intermediate yields nil.
func ResolvePath(data map[string]any, path string) any {
	if path == "" {
		return nil
	}
	var current any = data
	for _, seg := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[seg]
		if !ok {
			return nil
		}
	}
	return current
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func numericPair(a, b any) (float64, float64, bool) {
	fa, errA := strconv.ParseFloat(stringify(a), 64)
	fb, errB := strconv.ParseFloat(stringify(b), 64)
	if errA != nil || errB != nil {
		return 0, 0, false
	}
	return fa, fb, true
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	case float64:
		return t == 0
	case int:
		return t == 0
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}
