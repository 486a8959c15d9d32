package alert

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
)

// Compare applies op to left and right. When both sides are numeric, or strings that
// parse as numbers, they are compared as numbers; otherwise as strings.
// A nil operand only satisfies "!=" against a non-nil operand, and "=" against nil.
func Compare(left, right interface{}, op model.Operator) bool {
	if left == nil || right == nil {
		both := left == nil && right == nil
		switch op {
		case model.OpEqual:
			return both
		case model.OpNotEqual:
			return !both
		default:
			return false
		}
	}

	if l, ok := toNumber(left); ok {
		if r, ok := toNumber(right); ok {
			return compareOrdered(l, r, op)
		}
	}
	return compareOrdered(toString(left), toString(right), op)
}

func compareOrdered[T float64 | string](l, r T, op model.Operator) bool {
	switch op {
	case model.OpEqual:
		return l == r
	case model.OpNotEqual:
		return l != r
	case model.OpGreater:
		return l > r
	case model.OpLess:
		return l < r
	case model.OpGreaterEqual:
		return l >= r
	case model.OpLessEqual:
		return l <= r
	default:
		return false
	}
}

func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		return parseNumber(n)
	case []byte:
		return parseNumber(string(n))
	default:
		return 0, false
	}
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

func toString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprintf("%v", v)
	}
}
