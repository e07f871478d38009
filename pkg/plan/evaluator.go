// Package plan implements graph execution planning: condition evaluation,
// breadth-first traversal with day-offset accumulation, and the business-day
// calendar used by delay nodes.
package plan

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cadencehq/cadence/pkg/models"
)

// Comparison operators understood by the evaluator, after alias
// normalization.
const (
	OpEqual          = "=="
	OpNotEqual       = "!="
	OpGreater        = ">"
	OpLess           = "<"
	OpGreaterOrEqual = ">="
	OpLessOrEqual    = "<="
	OpContains       = "contains"
)

// operatorAliases maps editor-friendly operator names onto their canonical
// symbols.
var operatorAliases = map[string]string{
	"equals":       OpEqual,
	"not_equals":   OpNotEqual,
	"greater_than": OpGreater,
	"less_than":    OpLess,
}

// NormalizeOperator resolves operator aliases to canonical form.
func NormalizeOperator(op string) string {
	if canonical, ok := operatorAliases[op]; ok {
		return canonical
	}

	return op
}

// Evaluate applies a single comparison between a named runtime variable and
// a literal. A variable absent from vars evaluates to false (fail-closed).
//
// Comparison is numeric-first: for ordering operators, and for equality when
// both operands parse as numbers, values compare numerically. This resolves
// the common case of comparing a stringified day count against a threshold
// ("7" >= "10" must be false, not true).
func Evaluate(condition models.ConditionPayload, vars map[string]string) (bool, error) {
	actual, ok := vars[condition.Variable]
	if !ok {
		return false, nil
	}

	expected := condition.Value

	switch NormalizeOperator(condition.Operator) {
	case OpEqual:
		return compareEqual(actual, expected), nil
	case OpNotEqual:
		return !compareEqual(actual, expected), nil
	case OpGreater:
		return compareOrdering(actual, expected) > 0, nil
	case OpLess:
		return compareOrdering(actual, expected) < 0, nil
	case OpGreaterOrEqual:
		return compareOrdering(actual, expected) >= 0, nil
	case OpLessOrEqual:
		return compareOrdering(actual, expected) <= 0, nil
	case OpContains:
		return strings.Contains(actual, expected), nil
	default:
		return false, fmt.Errorf("unknown condition operator %q", condition.Operator)
	}
}

// compareEqual compares numerically when both operands parse as numbers,
// falling back to string equality.
func compareEqual(a, b string) bool {
	na, errA := strconv.ParseFloat(a, 64)
	nb, errB := strconv.ParseFloat(b, 64)

	if errA == nil && errB == nil {
		return na == nb
	}

	return a == b
}

// compareOrdering returns -1, 0, or 1. Numeric when both operands parse,
// lexicographic otherwise.
func compareOrdering(a, b string) int {
	na, errA := strconv.ParseFloat(a, 64)
	nb, errB := strconv.ParseFloat(b, 64)

	if errA == nil && errB == nil {
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		default:
			return 0
		}
	}

	return strings.Compare(a, b)
}
