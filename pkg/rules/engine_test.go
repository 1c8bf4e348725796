package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRules(t *testing.T) {
	e, err := NewEngine(nil)
	require.NoError(t, err)

	cases := []struct {
		rule   string
		record map[string]any
		want   bool
	}{
		{"loan_status_eligible", map[string]any{"loan_status": "pre-approved"}, true},
		{"loan_status_eligible", map[string]any{"loan_status": "clear_to_close"}, true},
		{"loan_status_eligible", map[string]any{"loan_status": "withdrawn"}, false},
		{"trid_applicable", map[string]any{"loan_amount": 400000.0}, true},
		{"trid_applicable", map[string]any{"loan_amount": 50000.0}, false},
		{"fee_reasonable", map[string]any{"max_lock_fee": 250.0}, true},
		{"fee_reasonable", map[string]any{"max_lock_fee": 1500.0}, false},
		{"dti_acceptable", map[string]any{"debt_to_income": 38.5}, true},
		{"dti_acceptable", map[string]any{"debt_to_income": 47.0}, false},
	}
	for _, tc := range cases {
		got, err := e.Eval(tc.rule, tc.record)
		require.NoError(t, err, tc.rule)
		assert.Equal(t, tc.want, got, "%s on %v", tc.rule, tc.record)
	}
}

func TestEvalUnknownRule(t *testing.T) {
	e, err := NewEngine(nil)
	require.NoError(t, err)

	_, err = e.Eval("no_such_rule", map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown rule")
}

func TestHas(t *testing.T) {
	e, err := NewEngine(nil)
	require.NoError(t, err)
	assert.True(t, e.Has("dti_acceptable"))
	assert.False(t, e.Has("made_up"))
}

func TestCustomRuleSetOverridesDefaults(t *testing.T) {
	e, err := NewEngine(map[string]string{
		"dti_acceptable": `record.debt_to_income <= 50.0`,
	})
	require.NoError(t, err)

	got, err := e.Eval("dti_acceptable", map[string]any{"debt_to_income": 47.0})
	require.NoError(t, err)
	assert.True(t, got)

	assert.False(t, e.Has("trid_applicable"), "custom sets replace, not extend")
}

func TestEvalBadExpression(t *testing.T) {
	e, err := NewEngine(map[string]string{"broken": `record.loan_amount ><= 1`})
	require.NoError(t, err)

	_, err = e.Eval("broken", map[string]any{"loan_amount": 1.0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile rule")
}

func TestEvalNonBooleanResult(t *testing.T) {
	e, err := NewEngine(map[string]string{"numeric": `record.loan_amount + 1.0`})
	require.NoError(t, err)

	_, err = e.Eval("numeric", map[string]any{"loan_amount": 1.0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not yield a boolean")
}

func TestEvalMissingField(t *testing.T) {
	e, err := NewEngine(nil)
	require.NoError(t, err)

	// CEL errors on missing keys rather than defaulting; callers supply the
	// full record map.
	_, err = e.Eval("dti_acceptable", map[string]any{})
	assert.Error(t, err)
}
