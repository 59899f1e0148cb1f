package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// Audit actions
const (
	ActionLogin    = "auth.login"
	ActionCallback = "auth.callback"
	ActionFailure  = "auth.failure"
	ActionLogout   = "auth.logout"
)

// Audit statuses
const (
	StatusSuccess = "success"
	StatusPending = "pending"
	StatusDenied  = "denied"
	StatusFailure = "failure"
)

// AuditEvent is the security record of one authentication attempt
type AuditEvent struct {
	Action    string
	Provider  string
	Status    string
	Reason    string
	AccountID *int64
	Tenant    string
	IPAddress string
	UserAgent string
	RequestID string
	CreatedAt time.Time
}

// AuditSink persists audit events
type AuditSink interface {
	RecordAuditEvent(ctx context.Context, event *AuditEvent) error
}

// AuditLogger writes authentication audit events to the log and, when
// configured, to a durable sink
type AuditLogger struct {
	logger *observability.Logger
	sink   AuditSink
}

// NewAuditLogger creates an audit logger. sink may be nil.
func NewAuditLogger(logger *observability.Logger, sink AuditSink) *AuditLogger {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &AuditLogger{logger: logger, sink: sink}
}

// LogOutcome records a decided attempt from an HTTP request
func (al *AuditLogger) LogOutcome(r *http.Request, action, provider string, outcome Outcome) *AuditEvent {
	event := &AuditEvent{
		Action:    action,
		Provider:  provider,
		Status:    statusOf(outcome),
		Reason:    outcome.Reason,
		IPAddress: httputil.ClientIP(r),
		UserAgent: r.UserAgent(),
		RequestID: observability.GetRequestID(r.Context()),
		CreatedAt: time.Now().UTC(),
	}
	if outcome.Account != nil {
		id := outcome.Account.ID
		event.AccountID = &id
		event.Tenant = outcome.Account.Tenant
	}

	al.record(r.Context(), event)
	return event
}

// LogLogout records a session termination
func (al *AuditLogger) LogLogout(r *http.Request, accountID *int64) *AuditEvent {
	event := &AuditEvent{
		Action:    ActionLogout,
		Status:    StatusSuccess,
		AccountID: accountID,
		IPAddress: httputil.ClientIP(r),
		UserAgent: r.UserAgent(),
		RequestID: observability.GetRequestID(r.Context()),
		CreatedAt: time.Now().UTC(),
	}
	al.record(r.Context(), event)
	return event
}

func (al *AuditLogger) record(ctx context.Context, event *AuditEvent) {
	fields := map[string]interface{}{
		"audit_action": event.Action,
		"status":       event.Status,
		"ip_address":   event.IPAddress,
	}
	if event.Provider != "" {
		fields["provider"] = event.Provider
	}
	if event.Reason != "" {
		fields["reason"] = event.Reason
	}
	if event.AccountID != nil {
		fields["account_id"] = *event.AccountID
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	al.logger.WithFields(fields).Info("Audit event")

	if al.sink == nil {
		return
	}
	// The attempt is already decided; a slow sink must not be cut short by
	// the client going away.
	if err := al.sink.RecordAuditEvent(context.WithoutCancel(ctx), event); err != nil {
		al.logger.WithError(err).WithField("audit_action", event.Action).Error("Failed to persist audit event")
	}
}

func statusOf(outcome Outcome) string {
	switch outcome.Kind {
	case KindLogin:
		return StatusSuccess
	case KindPendingApproval:
		return StatusPending
	case KindDenied, KindRedirectToActivation:
		return StatusDenied
	default:
		return StatusFailure
	}
}
