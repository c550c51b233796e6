package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"ledgerbook/internal/core"
	"ledgerbook/internal/log"
	"ledgerbook/internal/middleware/trace"
)

// JSONResponseBuilder provides a fluent API for JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	body       any
	headers    map[string]string
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

// Status sets the HTTP status code for the response.
func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

// Header adds a custom header to the response.
func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value encoded as the response body. A nil body writes no
// content.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.body == nil {
		w.WriteHeader(b.statusCode)
		return
	}

	payload, err := json.Marshal(b.body)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"encode response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(b.statusCode)
	_, _ = w.Write(payload)
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorResponse creates a standard error response.
func ErrorResponse(statusCode int, message string) *JSONResponseBuilder {
	return NewJSONResponse().Status(statusCode).Body(ErrorBody{Error: message})
}

// TooManyRequestsError creates a 429 response.
func TooManyRequestsError() *JSONResponseBuilder {
	return ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded, try again later")
}

// statusFor maps a domain error onto an HTTP status.
func statusFor(err error) int {
	var fetchErr *core.FetchError
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case core.IsValidation(err), errors.Is(err, errInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrInUse):
		return http.StatusConflict
	case errors.As(err, &fetchErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs err and writes the mapped status. Internal errors are not
// echoed to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	logger := log.FromContext(r.Context())
	message := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		logger.ErrorContext(r.Context(), "Request failed", log.FieldError, err.Error(), "path", r.URL.Path)
		message = http.StatusText(status)
	} else {
		logger.WarnContext(r.Context(), "Request rejected", log.FieldError, err.Error(), "status", status, "path", r.URL.Path)
	}

	NewJSONResponse().
		Status(status).
		Body(ErrorBody{Error: message, RequestID: trace.GetRequestID(r.Context())}).
		Write(w)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	NewJSONResponse().Status(status).Body(v).Write(w)
}
