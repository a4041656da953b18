package server

import (
	"context"
	"encoding/json"
	"errors"
	log "log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/vanshikaxcx/emotibot/internal/chat"
	"github.com/vanshikaxcx/emotibot/internal/document"
	"github.com/vanshikaxcx/emotibot/internal/rag"
	"github.com/vanshikaxcx/emotibot/internal/speech"
	"github.com/vanshikaxcx/emotibot/pkg/audioconv"
)

type ErrorCode string

const (
	CodeInvalidRequest  ErrorCode = "INVALID_REQUEST"
	CodeNotFound        ErrorCode = "NOT_FOUND"
	CodeTooLarge        ErrorCode = "PAYLOAD_TOO_LARGE"
	CodeUnsupportedType ErrorCode = "UNSUPPORTED_MEDIA_TYPE"
	CodeUnprocessable   ErrorCode = "UNPROCESSABLE"
	CodeRateLimited     ErrorCode = "RATE_LIMITED"
	CodeServiceDown     ErrorCode = "SERVICE_UNAVAILABLE"
	CodeTimeout         ErrorCode = "TIMEOUT"
	CodeInternal        ErrorCode = "INTERNAL_ERROR"
)

type ErrorResponse struct {
	Status    string    `json:"status"`
	ErrorCode ErrorCode `json:"error_code"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
}

// classify maps a domain error onto an HTTP status and code.
func classify(err error) (int, ErrorCode) {
	var (
		maxBytes *http.MaxBytesError
		invalid  validator.ValidationErrors
		syntax   *json.SyntaxError
		typeErr  *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, CodeTooLarge
	case errors.As(err, &invalid), errors.As(err, &syntax), errors.As(err, &typeErr),
		errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, errBadRequest):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, document.ErrUnsupportedFormat), errors.Is(err, audioconv.ErrUnsupported):
		return http.StatusUnsupportedMediaType, CodeUnsupportedType
	case errors.Is(err, rag.ErrEmptyDocument), errors.Is(err, rag.ErrNoText),
		errors.Is(err, speech.ErrNoSpeech), errors.Is(err, speech.ErrEmptyText):
		return http.StatusUnprocessableEntity, CodeUnprocessable
	case errors.Is(err, speech.ErrUnavailable), errors.Is(err, errUnavailable):
		return http.StatusServiceUnavailable, CodeServiceDown
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, CodeTimeout
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

var (
	errBadRequest  = errors.New("bad request")
	errUnavailable = errors.New("not configured")
)

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)

	msg := err.Error()
	var invalid validator.ValidationErrors
	if errors.As(err, &invalid) {
		msg = describeValidation(invalid)
	}
	if status == http.StatusInternalServerError {
		log.Error("Request failed", "path", r.URL.Path, "request_id", requestID(r), "err", err)
		msg = "internal server error"
	} else {
		log.Debug("Request rejected", "path", r.URL.Path, "status", status, "err", err)
	}

	writeErrorResponse(w, status, code, msg, requestID(r))
}

func writeErrorResponse(w http.ResponseWriter, status int, code ErrorCode, msg, reqID string) {
	writeJSON(w, status, ErrorResponse{
		Status:    "error",
		ErrorCode: code,
		Message:   msg,
		RequestID: reqID,
	})
}

func describeValidation(errs validator.ValidationErrors) string {
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		p := strings.ToLower(fe.Field()) + " failed " + fe.Tag()
		if fe.Param() != "" {
			p += "=" + fe.Param()
		}
		parts = append(parts, p)
	}
	return "invalid request: " + strings.Join(parts, ", ")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("Write response failed", "err", err)
	}
}
