// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and graceful shutdown.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("provider", "google").Info("Callback received")
//
// Request scoped logging:
//
//	ctx = observability.WithRequestID(ctx, id)
//	observability.FromContext(ctx).Warn("Login denied")
//
// # Prometheus Metrics
//
// The Record helpers are nil-safe, so components accept a *Metrics that may
// be absent in tests:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.RecordAuthOutcome("federated", "login", "", elapsed)
//
// Counters can be mirrored to OTLP with ForwardTo(NewOTelMetrics()).
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	checker.AddCheck("providers", registry.Ready)
//	observability.RegisterHealthRoutes(router, checker)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/api: Request logging and routing
package observability
