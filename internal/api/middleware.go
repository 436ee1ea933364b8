package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"flowtrack/internal/apperr"
	"flowtrack/internal/model"

	"go.uber.org/zap"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// WriteError writes a standardized error response
func WriteError(w http.ResponseWriter, code int, errCode, message string, log *zap.Logger) {
	if code >= http.StatusInternalServerError {
		log.Error("API error", zap.String("code", errCode), zap.String("message", message))
	} else {
		log.Debug("API error", zap.String("code", errCode), zap.String("message", message))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	resp := ErrorResponse{
		Error:   errCode,
		Message: message,
	}
	if errCode != "" {
		resp.Code = errCode
	}

	json.NewEncoder(w).Encode(resp)
}

// writeServiceError maps an engine error to its HTTP status.
func (d Dependencies) writeServiceError(w http.ResponseWriter, op string, err error) {
	kind := apperr.KindOf(err)
	if d.Metrics != nil {
		d.Metrics.RecordOperationError(op, string(kind))
	}

	var status int
	switch kind {
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindPreconditionFailed:
		status = http.StatusPreconditionFailed
	case apperr.KindInvalidArgument:
		status = http.StatusBadRequest
	default:
		d.Log.Error("Operation failed", zap.String("op", op), zap.Error(err))
		WriteError(w, http.StatusInternalServerError, "internal", "Internal error", d.Log)
		return
	}

	message := err.Error()
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	WriteError(w, status, string(kind), message, d.Log)
}

// dispatch delivers facts after the operation committed. Delivery failures
// are logged; the operation itself already succeeded.
func (d Dependencies) dispatch(ctx context.Context, facts []model.Fact) {
	if len(facts) == 0 || d.Dispatcher == nil {
		return
	}
	if err := d.Dispatcher.Dispatch(ctx, facts); err != nil {
		d.Log.Warn("Failed to dispatch facts", zap.Int("count", len(facts)), zap.Error(err))
	}
}

func decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// RequestLogger logs HTTP requests and responses
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status code
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			log.Info("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
