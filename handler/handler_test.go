package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"quote-archiver/internal/domain"
	"quote-archiver/internal/usecase"
)

type stubHistory struct {
	out        []domain.Message
	err        error
	tenant, ym string
}

func (s *stubHistory) LoadHistory(_ context.Context, tenantID, yearMonth string) ([]domain.Message, error) {
	s.tenant, s.ym = tenantID, yearMonth
	return s.out, s.err
}

type stubRunner struct {
	res   usecase.ArchiveResult
	err   error
	calls int
}

func (s *stubRunner) RunArchival(context.Context) (usecase.ArchiveResult, error) {
	s.calls++
	return s.res, s.err
}

func makeEvent(tenant, month string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod:            http.MethodGet,
		Path:                  "/history",
		Headers:               map[string]string{"Accept": "application/json"},
		QueryStringParameters: map[string]string{"tenantId": tenant, "yearMonth": month},
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func TestNewHandlers_ValidateDependency(t *testing.T) {
	_, err := NewHistoryHandler(nil, nil)
	require.Error(t, err)
	_, err = NewArchiveHandler(nil, nil)
	require.Error(t, err)
}

func TestHistoryHandle_HappyPath(t *testing.T) {
	created := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	uc := &stubHistory{out: []domain.Message{{ID: "m-1", QuoteRequestID: "qr-1", Text: "hi", CreatedAt: created}}}
	h, err := NewHistoryHandler(uc, nil)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent("qr-1", "2024-05"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "qr-1", uc.tenant)
	require.Equal(t, "2024-05", uc.ym)

	out := parseBody[historyResponse](t, resp.Body)
	require.Equal(t, "qr-1", out.TenantID)
	require.Len(t, out.Messages, 1)
	require.Equal(t, "m-1", out.Messages[0].ID)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
}

func TestHistoryHandle_EmptyIsArray(t *testing.T) {
	h, err := NewHistoryHandler(&stubHistory{}, nil)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent("qr-1", "2024-05"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Body, `"messages":[]`)
}

func TestHistoryHandle_MethodNotAllowed(t *testing.T) {
	h, err := NewHistoryHandler(&stubHistory{}, nil)
	require.NoError(t, err)

	event := makeEvent("qr-1", "2024-05")
	event.HTTPMethod = http.MethodPost
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHistoryHandle_MapsUseCaseErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "invalid input", err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_year_month"}, status: http.StatusBadRequest, code: string(usecase.ErrorInvalidInput)},
		{name: "not found", err: &usecase.Error{Code: usecase.ErrorNotFound, Reason: "message_not_found"}, status: http.StatusNotFound, code: string(usecase.ErrorNotFound)},
		{name: "conflict", err: &usecase.Error{Code: usecase.ErrorConflict, Reason: "archival_in_progress"}, status: http.StatusConflict, code: string(usecase.ErrorConflict)},
		{name: "config", err: &usecase.Error{Code: usecase.ErrorConfig, Reason: "retention_policy_invalid"}, status: http.StatusInternalServerError, code: string(usecase.ErrorConfig)},
		{name: "unexpected", err: errors.New("AccessDenied"), status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, err := NewHistoryHandler(&stubHistory{err: tc.err}, nil)
			require.NoError(t, err)

			resp, err := h.Handle(context.Background(), makeEvent("qr-1", "2024-05"))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)

			out := parseBody[errorResponse](t, resp.Body)
			require.Equal(t, tc.code, out.Error)
			require.NotContains(t, resp.Body, "AccessDenied")
		})
	}
}

func TestHistoryHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	h, err := NewHistoryHandler(&stubHistory{}, nil)
	require.NoError(t, err)

	event := makeEvent("qr-1", "2024-05")
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}

func TestArchiveHandle(t *testing.T) {
	runner := &stubRunner{res: usecase.ArchiveResult{RunID: "r1", ArchivedMessageCount: 12, DeletedNotificationCount: 3, Pages: 1}}
	h, err := NewArchiveHandler(runner, nil)
	require.NoError(t, err)

	scheduled := json.RawMessage(`{"id":"ev-1","source":"aws.events","detail-type":"Scheduled Event","detail":{}}`)
	res, err := h.Handle(context.Background(), scheduled)
	require.NoError(t, err)
	require.Equal(t, runner.res, res)

	_, err = h.Handle(context.Background(), nil)
	require.NoError(t, err)
	_, err = h.Handle(context.Background(), json.RawMessage(`"not an object"`))
	require.NoError(t, err)
	require.Equal(t, 3, runner.calls)
}

func TestArchiveHandle_PropagatesError(t *testing.T) {
	runErr := errors.New("TransactionCanceledException")
	runner := &stubRunner{res: usecase.ArchiveResult{RunID: "r1", ArchivedMessageCount: 100}, err: runErr}
	h, err := NewArchiveHandler(runner, nil)
	require.NoError(t, err)

	res, err := h.Handle(context.Background(), nil)
	require.ErrorIs(t, err, runErr)
	require.Equal(t, 100, res.ArchivedMessageCount)
}
