package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// PanicError is the error reported for a recovered handler panic.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// StatusCode reports panics as internal errors.
func (e *PanicError) StatusCode() int {
	return http.StatusInternalServerError
}

// RecoveryMiddleware recovers from panics in HTTP handlers and returns a 500
// response with a JSON error body. The panic is logged with its stack trace
// and reported through ReportError so InstrumentMiddleware captures it.
//
// Example usage:
//
//	handler = RecoveryMiddleware(handler)
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}

			ctx := r.Context()
			perr := &PanicError{Value: v, Stack: debug.Stack()}
			ReportError(ctx, perr)

			slog.ErrorContext(ctx, "panic in handler",
				"error", perr.Error(),
				"request_id", GetRequestID(ctx),
				"method", r.Method,
				"path", r.URL.Path,
				"stack", string(perr.Stack),
			)

			writeError(w, http.StatusInternalServerError, ErrorDetail{
				Message:   "An internal error occurred. Please try again later.",
				Type:      ErrorTypeServer,
				RequestID: GetRequestID(ctx),
			})
		}()

		next.ServeHTTP(w, r)
	})
}
