package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"quote-archiver/internal/domain"
	"quote-archiver/internal/usecase"
)

type HistoryLoader interface {
	LoadHistory(ctx context.Context, tenantID, yearMonth string) ([]domain.Message, error)
}

type historyResponse struct {
	TenantID  string           `json:"tenantId"`
	YearMonth string           `json:"yearMonth"`
	Messages  []domain.Message `json:"messages"`
}

// HistoryHandler serves GET /history?tenantId=...&yearMonth=... behind API
// Gateway.
type HistoryHandler struct {
	history HistoryLoader
	logger  *slog.Logger
}

func NewHistoryHandler(history HistoryLoader, logger *slog.Logger) (*HistoryHandler, error) {
	if history == nil {
		return nil, errors.New("handler: history loader must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryHandler{history: history, logger: logger}, nil
}

func (h *HistoryHandler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(req.Headers)
	log := h.logger.With("correlationId", corrID)

	if req.HTTPMethod != "" && req.HTTPMethod != http.MethodGet {
		return jsonResponse(http.StatusMethodNotAllowed, corrID, errorResponse{
			Error:   string(usecase.ErrorInvalidInput),
			Message: "method_not_allowed",
		}), nil
	}

	tenantID := req.QueryStringParameters["tenantId"]
	yearMonth := req.QueryStringParameters["yearMonth"]
	msgs, err := h.history.LoadHistory(ctx, tenantID, yearMonth)
	if err != nil {
		status, code := ErrorStatus(err)
		if status >= http.StatusInternalServerError {
			log.Error("history request failed", "code", code, "err", err)
		} else {
			log.Info("history request rejected", "code", code, "reason", ErrorMessage(err))
		}
		return errorJSON(err, corrID), nil
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}

	log.Info("history served", "tenantId", tenantID, "yearMonth", yearMonth, "messages", len(msgs))
	return jsonResponse(http.StatusOK, corrID, historyResponse{
		TenantID:  tenantID,
		YearMonth: yearMonth,
		Messages:  msgs,
	}), nil
}
