package observability

import (
	"fmt"
	"net/http"
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with structured logging
//
// Usage in defer statements:
//
//	func purge() {
//	    defer observability.RecoverPanic(logger, "session purge")
//	    // ... code that might panic
//	}
//
// After logging, the panic is NOT re-raised and the function returns normally.
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
	}
}

// MustRecover recovers from a panic and converts it to an error
//
// Usage when you want to convert panics to errors:
//
//	func decide() (err error) {
//	    defer func() {
//	        if rerr := observability.MustRecover(recover()); rerr != nil {
//	            err = rerr
//	        }
//	    }()
//	    // ... code that might panic
//	    return nil
//	}
//
// The stack trace is NOT included in the error.
func MustRecover(r interface{}) error {
	if r != nil {
		return fmt.Errorf("panic: %v", r)
	}
	return nil
}

// RecoveryMiddleware turns a handler panic into a 500 response
func RecoveryMiddleware(logger *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.WithField("panic", rec).
						WithField("stack", string(debug.Stack())).
						WithField("path", r.URL.Path).
						WithField("request_id", GetRequestID(r.Context())).
						Error("PANIC recovered in handler")
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
