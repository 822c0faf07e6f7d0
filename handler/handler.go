package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"quote-archiver/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ErrorStatus maps an error to its HTTP status and public error code.
// Unclassified errors are internal.
func ErrorStatus(err error) (int, usecase.ErrorCode) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return http.StatusInternalServerError, usecase.ErrorInternal
	}
	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest, ucErr.Code
	case usecase.ErrorUnauthorized:
		return http.StatusUnauthorized, ucErr.Code
	case usecase.ErrorForbidden:
		return http.StatusForbidden, ucErr.Code
	case usecase.ErrorNotFound:
		return http.StatusNotFound, ucErr.Code
	case usecase.ErrorConflict:
		return http.StatusConflict, ucErr.Code
	default:
		return http.StatusInternalServerError, ucErr.Code
	}
}

// ErrorMessage returns the client-safe reason of a classified error.
func ErrorMessage(err error) string {
	var ucErr *usecase.Error
	if errors.As(err, &ucErr) {
		return ucErr.Reason
	}
	return ""
}

// correlationID returns the caller's correlation id, matching the header
// name case-insensitively, or a fresh one.
func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return uuid.NewString()
}

func jsonResponse(status int, corrID string, body any) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		raw = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(raw),
	}
}

func errorJSON(err error, corrID string) events.APIGatewayProxyResponse {
	status, code := ErrorStatus(err)
	return jsonResponse(status, corrID, errorResponse{Error: string(code), Message: ErrorMessage(err)})
}
