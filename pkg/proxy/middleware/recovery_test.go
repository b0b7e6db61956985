package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRecoveryMiddleware(t *testing.T) {
	t.Run("recovers from panic", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		})

		wrapped := RecoveryMiddleware(handler)

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		w := httptest.NewRecorder()

		// Should not panic
		wrapped.ServeHTTP(w, req)

		if w.Code != http.StatusInternalServerError {
			t.Errorf("Status code = %v, want %v", w.Code, http.StatusInternalServerError)
		}

		var body ErrorBody
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("Failed to decode body: %v", err)
		}
		if body.Error.Type != ErrorTypeServer {
			t.Errorf("Error type = %v, want %v", body.Error.Type, ErrorTypeServer)
		}
	})

	t.Run("passes through normal requests", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		})

		wrapped := RecoveryMiddleware(handler)

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		w := httptest.NewRecorder()

		wrapped.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Status code = %v, want %v", w.Code, http.StatusOK)
		}

		if w.Body.String() != "OK" {
			t.Errorf("Body = %v, want OK", w.Body.String())
		}
	})

	t.Run("reports panic to the request", func(t *testing.T) {
		panicErr := errors.New("nil map write")
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic(panicErr)
		})

		slot := &errorSlot{}
		ctx := context.WithValue(context.Background(), errorSlotKey, slot)
		req := httptest.NewRequest(http.MethodGet, "/test", nil).WithContext(ctx)

		RecoveryMiddleware(handler).ServeHTTP(httptest.NewRecorder(), req)

		var perr *PanicError
		if !errors.As(slot.get(), &perr) {
			t.Fatalf("Expected PanicError to be reported, got %v", slot.get())
		}
		if perr.Value != panicErr {
			t.Errorf("Panic value = %v, want %v", perr.Value, panicErr)
		}
		if len(perr.Stack) == 0 {
			t.Error("Expected stack trace to be captured")
		}
	})

	t.Run("re-panics on abort handler", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic(http.ErrAbortHandler)
		})

		defer func() {
			if v := recover(); v != http.ErrAbortHandler {
				t.Errorf("Expected ErrAbortHandler to propagate, got %v", v)
			}
		}()

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		RecoveryMiddleware(handler).ServeHTTP(httptest.NewRecorder(), req)
	})
}

func TestReportError_FirstWins(t *testing.T) {
	slot := &errorSlot{}
	ctx := context.WithValue(context.Background(), errorSlotKey, slot)

	first := errors.New("first")
	ReportError(ctx, first)
	ReportError(ctx, errors.New("second"))
	ReportError(ctx, nil)

	if slot.get() != first {
		t.Errorf("Expected first error to win, got %v", slot.get())
	}

	// Outside the instrumented chain this is a no-op.
	ReportError(context.Background(), first)
}
