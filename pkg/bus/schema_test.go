package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatorEmailRequest(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	err = v.ValidatePayload(MsgNewEmailRequest, map[string]any{
		"loan_application_id": "LA100",
		"email_body":          "please lock my rate",
		"from_address":        "jordan.blake@example.com",
	})
	assert.NoError(t, err)

	err = v.ValidatePayload(MsgNewEmailRequest, map[string]any{
		"email_body": "no sender",
	})
	assert.Error(t, err)
}

func TestValidatorExceptionOccurred(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	err = v.ValidatePayload(MsgExceptionOccurred, map[string]any{
		"exception_type":      "PRICING_ANOMALY",
		"priority":            "HIGH",
		"loan_application_id": "LA100",
		"exception_data":      map[string]any{"spread": 1.25},
	})
	assert.NoError(t, err)

	err = v.ValidatePayload(MsgExceptionOccurred, map[string]any{
		"exception_type":      "PRICING_ANOMALY",
		"priority":            "URGENT",
		"loan_application_id": "LA100",
	})
	assert.Error(t, err, "priority outside the enum")

	err = v.ValidatePayload(MsgExceptionOccurred, map[string]any{
		"exception_type": "PRICING_ANOMALY",
	})
	assert.Error(t, err, "loan_application_id is required")
}

func TestValidatorUnknownTypePassesThrough(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)
	assert.NoError(t, v.ValidatePayload(MsgContextRetrieved, map[string]any{"anything": true}))
	assert.NoError(t, v.ValidatePayload(MsgContextRetrieved, nil))
}

func TestValidatorNormalizesIntegers(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	// Payloads built in-process carry Go ints; the schema sees JSON numbers.
	err = v.ValidatePayload(MsgExceptionOccurred, map[string]any{
		"exception_type":      "CRITICAL_DEADLINE",
		"loan_application_id": "LA100",
		"exception_data":      map[string]any{"days": int(12), "nested": []any{int64(3)}},
	})
	assert.NoError(t, err)
}
