// Package alert decides whether the outcome of a scheduled query should notify its owner.
package alert

import (
	"fmt"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/logger"
)

// Reasons attached to fixed verdicts.
const (
	ReasonExecuted  = "executed successfully"
	ReasonNoResults = "no results"
)

// Outcome is the result of one execution: either rows or a failure message.
type Outcome struct {
	Rows    []model.Row
	Failure string
	failed  bool
}

// Rows builds a successful outcome.
func Rows(rows []model.Row) Outcome {
	return Outcome{Rows: rows}
}

// Failure builds a failed outcome carrying the error message.
func Failure(message string) Outcome {
	return Outcome{Failure: message, failed: true}
}

// Failed reports whether the outcome is a failure.
func (o Outcome) Failed() bool { return o.failed }

// Verdict is a triggered alert: the condition that fired and a human readable reason.
type Verdict struct {
	Condition model.ConditionType
	Reason    string
	// Index is the position of the matching condition, or -1 for the implicit verdicts.
	Index int
}

// NotificationType maps the verdict onto the notification class used for opt-outs.
func (v *Verdict) NotificationType() model.NotificationType {
	switch v.Condition {
	case model.ConditionError:
		return model.NotificationError
	case model.ConditionAlways:
		return model.NotificationSchedule
	default:
		return model.NotificationAlert
	}
}

// Priority returns the notification priority for the verdict.
func (v *Verdict) Priority() model.Priority {
	switch v.Condition {
	case model.ConditionError:
		return model.PriorityHigh
	case model.ConditionAlways:
		return model.PriorityLow
	default:
		return model.PriorityNormal
	}
}

// Evaluate returns the first verdict produced by conditions against outcome, or nil when none fires.
//
// A failed outcome always yields an ERROR verdict. An empty condition list yields ALWAYS.
// CUSTOM_CONDITION fires when any row satisfies the comparison.
func Evaluate(conditions []model.AlertCondition, outcome Outcome) *Verdict {
	if outcome.Failed() {
		return &Verdict{Condition: model.ConditionError, Reason: "execution failed: " + outcome.Failure, Index: -1}
	}
	if len(conditions) == 0 {
		return &Verdict{Condition: model.ConditionAlways, Reason: ReasonExecuted, Index: -1}
	}

	count := len(outcome.Rows)
	for i, c := range conditions {
		switch c.Type {
		case model.ConditionAlways:
			return &Verdict{Condition: c.Type, Reason: ReasonExecuted, Index: i}
		case model.ConditionNoResults:
			if count == 0 {
				return &Verdict{Condition: c.Type, Reason: ReasonNoResults, Index: i}
			}
		case model.ConditionRowsCount:
			if Compare(count, c.Value, c.Operator) {
				return &Verdict{
					Condition: c.Type,
					Reason:    fmt.Sprintf("row count %d %s %v", count, c.Operator, c.Value),
					Index:     i,
				}
			}
		case model.ConditionCustom:
			for _, row := range outcome.Rows {
				v, ok := row[c.ColumnName]
				if !ok {
					continue
				}
				if Compare(v, c.Value, c.Operator) {
					return &Verdict{
						Condition: c.Type,
						Reason:    fmt.Sprintf("column %s value %v %s %v", c.ColumnName, display(v), c.Operator, c.Value),
						Index:     i,
					}
				}
			}
		case model.ConditionError:
			// only fires for failed outcomes
		default:
			logger.Warnf("alert: ignoring unknown condition type %q", c.Type)
		}
	}
	return nil
}

func display(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
