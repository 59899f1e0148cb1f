package auth

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/registration"
)

var tracer = otel.Tracer("gatehouse/auth")

// DefaultCallTimeout bounds each identity store, ledger or provider call
const DefaultCallTimeout = 5 * time.Second

// Options carries the process-wide settings the decision engine reads.
// It is built once from config at startup and never mutated.
type Options struct {
	MultiTenant          bool
	Policy               registration.Policy
	NotificationsEnabled bool
	CallTimeout          time.Duration
	Logger               *observability.Logger
	Metrics              *observability.Metrics
}

func (o Options) withDefaults() Options {
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	if o.Policy == "" {
		o.Policy = registration.PolicyOpen
	}
	if o.Logger == nil {
		o.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return o
}

// bounded derives a context limited to the configured call timeout
func (o Options) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.CallTimeout)
}

// logger returns the request-scoped logger, falling back to the configured one
func (o Options) logger(ctx context.Context) *observability.Logger {
	l := o.Logger
	if requestID := observability.GetRequestID(ctx); requestID != "" {
		l = l.WithField("request_id", requestID)
	}
	return observability.UpdateLoggerWithTraceContext(ctx, l)
}

// record logs and counts a decided outcome
func (o Options) record(ctx context.Context, flow string, outcome Outcome, start time.Time) {
	o.Metrics.RecordAuthOutcome(flow, string(outcome.Kind), outcome.Reason, time.Since(start))

	fields := map[string]interface{}{
		"flow":    flow,
		"outcome": string(outcome.Kind),
	}
	if outcome.Reason != "" {
		fields["reason"] = outcome.Reason
	}
	if outcome.Account != nil {
		fields["account_id"] = outcome.Account.ID
		fields["tenant"] = outcome.Account.Tenant
	}

	entry := o.logger(ctx).WithFields(fields)
	switch outcome.Kind {
	case KindError:
		entry.WithError(outcome.Cause).Error("Authentication failed")
	case KindDenied:
		entry.Info("Authentication denied")
	default:
		entry.Info("Authentication decided")
	}
}
