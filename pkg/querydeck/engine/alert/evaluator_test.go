package alert_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
	"github.com/tigerroll/querydeck/pkg/querydeck/engine/alert"
)

func rows(n int) []model.Row {
	out := make([]model.Row, n)
	for i := range out {
		out[i] = model.Row{"id": i, "total": i * 10}
	}
	return out
}

func TestEvaluate_FailureShortCircuits(t *testing.T) {
	v := alert.Evaluate([]model.AlertCondition{{Type: model.ConditionAlways}}, alert.Failure("x"))
	require.NotNil(t, v)
	assert.Equal(t, model.ConditionError, v.Condition)
	assert.Equal(t, "execution failed: x", v.Reason)
	assert.Equal(t, model.NotificationError, v.NotificationType())
	assert.Equal(t, model.PriorityHigh, v.Priority())

	v = alert.Evaluate(nil, alert.Failure("timeout"))
	require.NotNil(t, v)
	assert.Equal(t, model.ConditionError, v.Condition)
}

func TestEvaluate_EmptyConditionsDefault(t *testing.T) {
	v := alert.Evaluate(nil, alert.Rows(rows(3)))
	require.NotNil(t, v)
	assert.Equal(t, model.ConditionAlways, v.Condition)
	assert.Equal(t, alert.ReasonExecuted, v.Reason)
	assert.Equal(t, -1, v.Index)
	assert.Equal(t, model.NotificationSchedule, v.NotificationType())
}

func TestEvaluate_NoMatchYieldsNil(t *testing.T) {
	conds := []model.AlertCondition{{Type: model.ConditionRowsCount, Operator: model.OpGreater, Value: 100}}
	assert.Nil(t, alert.Evaluate(conds, alert.Rows(rows(10))))
}

func TestEvaluate_NoResults(t *testing.T) {
	conds := []model.AlertCondition{{Type: model.ConditionNoResults}}

	v := alert.Evaluate(conds, alert.Rows(nil))
	require.NotNil(t, v)
	assert.Equal(t, model.ConditionNoResults, v.Condition)
	assert.Equal(t, "no results", v.Reason)
	assert.Equal(t, model.NotificationAlert, v.NotificationType())

	assert.Nil(t, alert.Evaluate(conds, alert.Rows(rows(1))))
}

func TestEvaluate_FirstMatchWins(t *testing.T) {
	conds := []model.AlertCondition{
		{Type: model.ConditionNoResults},
		{Type: model.ConditionRowsCount, Operator: model.OpGreaterEqual, Value: "5"},
		{Type: model.ConditionAlways},
	}
	v := alert.Evaluate(conds, alert.Rows(rows(5)))
	require.NotNil(t, v)
	assert.Equal(t, model.ConditionRowsCount, v.Condition)
	assert.Equal(t, 1, v.Index)
	assert.Equal(t, "row count 5 >= 5", v.Reason)

	v = alert.Evaluate(conds, alert.Rows(rows(2)))
	require.NotNil(t, v)
	assert.Equal(t, model.ConditionAlways, v.Condition)
	assert.Equal(t, 2, v.Index)
}

func TestEvaluate_ErrorConditionIgnoredOnSuccess(t *testing.T) {
	conds := []model.AlertCondition{{Type: model.ConditionError}}
	assert.Nil(t, alert.Evaluate(conds, alert.Rows(rows(1))))
}

func TestEvaluate_CustomConditionIsExistential(t *testing.T) {
	data := []model.Row{
		{"status": "ok", "latency": []byte("12.5")},
		{"status": "failed", "latency": "950"},
		{"status": "ok"},
	}

	v := alert.Evaluate([]model.AlertCondition{
		{Type: model.ConditionCustom, ColumnName: "latency", Operator: model.OpGreater, Value: 500},
	}, alert.Rows(data))
	require.NotNil(t, v)
	assert.Equal(t, model.ConditionCustom, v.Condition)
	assert.Contains(t, v.Reason, "latency")

	v = alert.Evaluate([]model.AlertCondition{
		{Type: model.ConditionCustom, ColumnName: "status", Operator: model.OpEqual, Value: "failed"},
	}, alert.Rows(data))
	require.NotNil(t, v)

	assert.Nil(t, alert.Evaluate([]model.AlertCondition{
		{Type: model.ConditionCustom, ColumnName: "latency", Operator: model.OpGreater, Value: 1000},
	}, alert.Rows(data)))
	assert.Nil(t, alert.Evaluate([]model.AlertCondition{
		{Type: model.ConditionCustom, ColumnName: "missing", Operator: model.OpNotEqual, Value: 0},
	}, alert.Rows(data)))
}

func TestCompare(t *testing.T) {
	cases := []struct {
		name        string
		left, right interface{}
		op          model.Operator
		want        bool
	}{
		{"int equal", 10, 10, model.OpEqual, true},
		{"numeric string coerced", "10", 9, model.OpGreater, true},
		{"numeric strings not lexicographic", "9", "10", model.OpLess, true},
		{"float vs int", 2.5, 2, model.OpGreaterEqual, true},
		{"bytes", []byte("7"), 7, model.OpEqual, true},
		{"json number", json.Number("3"), 4, model.OpLessEqual, true},
		{"not equal", 1, 2, model.OpNotEqual, true},
		{"string equality", "abc", "abc", model.OpEqual, true},
		{"string ordering", "abc", "abd", model.OpLess, true},
		{"mixed falls back to string", "abc", 1, model.OpEqual, false},
		{"bool as string", true, "true", model.OpEqual, true},
		{"nil equal nil", nil, nil, model.OpEqual, true},
		{"nil not equal value", nil, 1, model.OpNotEqual, true},
		{"nil never ordered", nil, 1, model.OpLess, false},
		{"unknown operator", 1, 1, model.Operator("~"), false},
		{"whitespace trimmed", " 42 ", 42, model.OpEqual, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, alert.Compare(tc.left, tc.right, tc.op))
		})
	}
}
