package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics mirrors the authentication counters as OpenTelemetry
// instruments so they reach the OTLP collector alongside traces.
type OTelMetrics struct {
	authOutcomes    metric.Int64Counter
	authDuration    metric.Float64Histogram
	provisioned     metric.Int64Counter
	providerErrors  metric.Int64Counter
	sessionOps      metric.Int64Counter
	notifications   metric.Int64Counter
	storeOperations metric.Int64Counter
}

// NewOTelMetrics creates instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	return NewOTelMetricsWithMeter(otel.Meter("github.com/platinummonkey/gatehouse"))
}

// NewOTelMetricsWithMeter creates instruments on meter
func NewOTelMetricsWithMeter(meter metric.Meter) (*OTelMetrics, error) {
	m := &OTelMetrics{}
	var err error

	m.authOutcomes, err = meter.Int64Counter(
		"gatehouse.auth.outcomes",
		metric.WithDescription("Authentication attempts by flow, outcome and reason"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth outcomes counter: %w", err)
	}

	m.authDuration, err = meter.Float64Histogram(
		"gatehouse.auth.duration",
		metric.WithDescription("Time spent deciding an authentication attempt"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth duration histogram: %w", err)
	}

	m.provisioned, err = meter.Int64Counter(
		"gatehouse.accounts.provisioned",
		metric.WithDescription("Federated accounts created on first sign-in"),
		metric.WithUnit("{account}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provisioned counter: %w", err)
	}

	m.providerErrors, err = meter.Int64Counter(
		"gatehouse.provider.errors",
		metric.WithDescription("Identity provider failures"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider errors counter: %w", err)
	}

	m.sessionOps, err = meter.Int64Counter(
		"gatehouse.session.operations",
		metric.WithDescription("Session store operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session operations counter: %w", err)
	}

	m.notifications, err = meter.Int64Counter(
		"gatehouse.notifications",
		metric.WithDescription("Notifications dispatched after account creation"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create notifications counter: %w", err)
	}

	m.storeOperations, err = meter.Int64Counter(
		"gatehouse.store.operations",
		metric.WithDescription("Identity store operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store operations counter: %w", err)
	}

	return m, nil
}

// RecordAuthOutcome records a decided authentication attempt
func (m *OTelMetrics) RecordAuthOutcome(ctx context.Context, flow, outcome, reason string, duration time.Duration) {
	if m == nil {
		return
	}
	m.authOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("flow", flow),
		attribute.String("outcome", outcome),
		attribute.String("reason", reason),
	))
	m.authDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("flow", flow)))
}

// RecordProvisioned records a newly created federated account
func (m *OTelMetrics) RecordProvisioned(ctx context.Context, provider, policy string) {
	if m == nil {
		return
	}
	m.provisioned.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("policy", policy),
	))
}

// RecordProviderError records an identity provider failure
func (m *OTelMetrics) RecordProviderError(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	m.providerErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}

// RecordSessionOperation records a session store call
func (m *OTelMetrics) RecordSessionOperation(ctx context.Context, operation string, err error) {
	if m == nil {
		return
	}
	m.sessionOps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", statusLabel(err)),
	))
}

// RecordNotification records a dispatched notification
func (m *OTelMetrics) RecordNotification(ctx context.Context, event string, err error) {
	if m == nil {
		return
	}
	m.notifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", event),
		attribute.String("status", statusLabel(err)),
	))
}

// RecordStoreOperation records an identity store call
func (m *OTelMetrics) RecordStoreOperation(ctx context.Context, operation string, err error) {
	if m == nil {
		return
	}
	m.storeOperations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", statusLabel(err)),
	))
}
