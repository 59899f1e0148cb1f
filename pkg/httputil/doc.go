// Package httputil provides HTTP helpers shared by the gatehouse handlers:
// JSON responses, form and path parsing, client address extraction, and the
// request ID and logging middleware.
//
// Error responses:
//
//	httputil.WriteBadRequest(w, "unknown provider")
//
// Middleware:
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//	)(router)
package httputil
