package model

import (
	"strings"

	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/exception"
)

// ConditionType selects when an alert condition fires.
type ConditionType string

const (
	ConditionAlways    ConditionType = "ALWAYS"
	ConditionNoResults ConditionType = "NO_RESULTS"
	ConditionError     ConditionType = "ERROR"
	ConditionRowsCount ConditionType = "ROWS_COUNT"
	ConditionCustom    ConditionType = "CUSTOM_CONDITION"
)

// Operator is a comparison operator used by ROWS_COUNT and CUSTOM_CONDITION.
type Operator string

const (
	OpEqual        Operator = "="
	OpNotEqual     Operator = "!="
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
)

// Valid reports whether op is one of the six supported operators.
func (op Operator) Valid() bool {
	switch op {
	case OpEqual, OpNotEqual, OpGreater, OpLess, OpGreaterEqual, OpLessEqual:
		return true
	}
	return false
}

// AlertCondition is one rule of a schedule's ordered alert list.
// Operator and Value are used by ROWS_COUNT and CUSTOM_CONDITION; ColumnName only by CUSTOM_CONDITION.
type AlertCondition struct {
	Type       ConditionType `json:"type"`
	Operator   Operator      `json:"operator,omitempty"`
	Value      interface{}   `json:"value,omitempty"`
	ColumnName string        `json:"columnName,omitempty"`
}

// Validate checks the per-type field requirements.
func (c AlertCondition) Validate() error {
	switch c.Type {
	case ConditionAlways, ConditionNoResults, ConditionError:
		return nil
	case ConditionRowsCount, ConditionCustom:
		if !c.Operator.Valid() {
			return exception.NewValidationError(moduleName, "%s condition requires a valid operator, got %q", c.Type, c.Operator)
		}
		if c.Value == nil {
			return exception.NewValidationError(moduleName, "%s condition requires a value", c.Type)
		}
		if c.Type == ConditionCustom && strings.TrimSpace(c.ColumnName) == "" {
			return exception.NewValidationError(moduleName, "%s condition requires a column name", c.Type)
		}
		return nil
	default:
		return exception.NewValidationError(moduleName, "unknown alert condition type %q", c.Type)
	}
}
