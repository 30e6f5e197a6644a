package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"solana-token-vesting/internal/observability"
	"solana-token-vesting/internal/token"
	"solana-token-vesting/internal/vesting"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

const requestIDKey contextKey = "request_id"

// unmatchedRoute labels requests no route matched.
const unmatchedRoute = "unmatched"

// RequestID assigns every request a UUID, reusing a valid incoming one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFromContext returns the id assigned by RequestID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Instrument logs each request and records it under its route pattern.
// Websocket upgrades bypass the recorder since they need http.Hijacker.
func Instrument(logger *log.Logger, metrics *observability.Metrics) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") != "" {
				next.ServeHTTP(w, r)
				return
			}

			started := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			// Raw paths would give every unknown URL its own series.
			route := unmatchedRoute
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			d := time.Since(started)
			metrics.RecordHTTPRequest(route, rec.status, d)
			if rec.status >= http.StatusInternalServerError {
				logger.Printf("%s %s -> %d (%s) request_id=%s",
					r.Method, r.URL.Path, rec.status, d, RequestIDFromContext(r.Context()))
			}
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, r *http.Request, status int, msg, class string) {
	writeJSON(w, status, Error{
		Error:     msg,
		Class:     class,
		RequestID: RequestIDFromContext(r.Context()),
	})
}

// statusFor maps an engine error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, vesting.ErrScheduleNotFound),
		errors.Is(err, token.ErrMintNotFound):
		return http.StatusNotFound
	case errors.Is(err, vesting.ErrDuplicateSchedule),
		errors.Is(err, token.ErrMintExists):
		return http.StatusConflict
	case errors.Is(err, token.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, vesting.ErrEventsDisabled):
		return http.StatusNotImplemented
	}

	switch vesting.Classify(err) {
	case vesting.ClassValidation:
		return http.StatusBadRequest
	case vesting.ClassTiming:
		return http.StatusTooEarly
	case vesting.ClassExhausted:
		return http.StatusConflict
	case vesting.ClassTransfer:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeError reports err to the client. Internal details are logged, not sent.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Printf("%s %s: %v request_id=%s", r.Method, r.URL.Path, err, RequestIDFromContext(r.Context()))
		msg = "internal error"
	}
	writeJSONError(w, r, status, msg, vesting.Classify(err).String())
}
