// Package bus abstracts the durable publish/subscribe messaging the workflow
// stages coordinate through. Delivery is at-least-once: consumers ack a
// delivery only after successful handling, and un-acked deliveries are
// redelivered. Ordering is best-effort within one topic/subscription and
// absent across topics.
package bus

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Topic names mirror the production Service Bus layout.
const (
	TopicInboundEmail           = "inbound_email_requests"
	TopicRateLockRequests       = "rate_lock_requests"
	TopicOutboundEmail          = "outbound_email"
	TopicExceptionAlerts        = "exception_alerts"
	TopicHighPriorityExceptions = "high_priority_exceptions"
	TopicOutboundConfirmations  = "outbound_confirmations"
)

// Message types carried on the workflow topics.
const (
	MsgNewEmailRequest        = "new_email_request"
	MsgContextRetrievalNeeded = "context_retrieval_needed"
	MsgContextRetrieved       = "context_retrieved"
	MsgRatesPresented         = "rates_presented"
	MsgCompliancePassed       = "compliance_passed"
	MsgComplianceFailed       = "compliance_failed"
	MsgLockConfirmed          = "lock_confirmed"
	MsgExceptionOccurred      = "exception_occurred"
	MsgSendEmail              = "send_email"
)

var ErrBusClosed = errors.New("bus closed")

// Message is the unit of inter-stage communication. It is not persisted
// beyond the bus; handlers must be idempotent keyed on
// (loan_application_id, message_type, correlation_id).
type Message struct {
	ID                string         `json:"id"`
	Type              string         `json:"message_type"`
	LoanApplicationID string         `json:"loan_application_id,omitempty"`
	CorrelationID     string         `json:"correlation_id,omitempty"`
	Payload           map[string]any `json:"message_data,omitempty"`
	Timestamp         time.Time      `json:"timestamp"`
}

// NewMessage builds a message with a fresh ID and correlation ID if unset.
func NewMessage(msgType, loanApplicationID string, payload map[string]any) Message {
	return Message{
		ID:                uuid.NewString(),
		Type:              msgType,
		LoanApplicationID: loanApplicationID,
		CorrelationID:     uuid.NewString(),
		Payload:           payload,
		Timestamp:         time.Now().UTC(),
	}
}

// DedupKey is the idempotency key handlers and the dedup store share.
func (m Message) DedupKey() string {
	return m.LoanApplicationID + "|" + m.Type + "|" + m.CorrelationID
}

// Delivery is one received message plus its completion handle. Ack only
// after successful handling; Nack requeues the message for redelivery.
type Delivery struct {
	Message Message
	Ack     func() error
	Nack    func() error
}

// Bus is the messaging contract the orchestrator and agents depend on.
// Publish failures are reported to the caller, never silently dropped.
type Bus interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Poll(ctx context.Context, topic, subscription string, maxWait time.Duration) ([]Delivery, error)
	Close() error
}
