package authcore

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// AuditEvent is a structured security event emitted by the engine. Events
// carry identifiers and outcomes only; never credentials, secrets, codes,
// or token plaintext.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	AccountID string            `json:"account_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives events from the engine's audit dispatcher.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

// NoOpSink discards all events.
type NoOpSink struct{}

// Emit implements AuditSink.
func (NoOpSink) Emit(context.Context, AuditEvent) {}

// ChannelSink buffers events on a channel for the caller to drain.
type ChannelSink struct {
	events chan AuditEvent
}

// NewChannelSink creates a ChannelSink with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan AuditEvent, buffer)}
}

// Emit implements AuditSink. It blocks until the event is queued or ctx is
// done.
func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

// Events returns the receive side of the sink.
func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink writes one JSON-encoded event per line to an io.Writer.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

// NewJSONWriterSink creates a JSONWriterSink writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

// Emit implements AuditSink.
func (s *JSONWriterSink) Emit(_ context.Context, event AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

const (
	auditEventLoginSuccess      = "login.success"
	auditEventLoginFailure      = "login.failure"
	auditEventLoginLockedOut    = "login.locked_out"
	auditEventTwoFactorSuccess  = "two_factor.success"
	auditEventTwoFactorFailure  = "two_factor.failure"
	auditEventSetupStarted      = "two_factor.setup_started"
	auditEventTwoFactorEnabled  = "two_factor.enabled"
	auditEventTwoFactorDisabled = "two_factor.disabled"
	auditEventRecoveryUsed      = "recovery_code.used"
	auditEventRecoveryFailed    = "recovery_code.failed"
	auditEventRecoveryReplaced  = "recovery_code.replaced"
	auditEventResetIssued       = "password_reset.issued"
	auditEventResetRejected     = "password_reset.rejected"
	auditEventResetRedeemed     = "password_reset.redeemed"
	auditEventResetCompleted    = "password_reset.completed"
	auditEventResetSwept        = "password_reset.swept"
	auditEventSessionRevoked    = "session.revoked"
)
