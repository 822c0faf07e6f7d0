package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"quote-archiver/internal/domain"
	"quote-archiver/internal/usecase"
)

type handlers struct {
	history  HistoryLoader
	archiver ArchiveRunner
	messages MessageOps
	logger   *slog.Logger
}

type archiveResponse struct {
	TenantID  string           `json:"tenantId"`
	YearMonth string           `json:"yearMonth"`
	Messages  []domain.Message `json:"messages"`
}

type messagesResponse struct {
	TenantID string           `json:"tenantId"`
	Messages []domain.Message `json:"messages"`
}

type createMessageRequest struct {
	Text       string              `json:"text"`
	SenderUnit string              `json:"senderUnit"`
	Files      []domain.Attachment `json:"files"`
}

func (h *handlers) healthCheck(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (h *handlers) getArchive(c *gin.Context) {
	tenantID, yearMonth := c.Param("tenantId"), c.Param("yearMonth")
	msgs, err := h.history.LoadHistory(c.Request.Context(), tenantID, yearMonth)
	if err != nil {
		h.fail(c, "load archive", err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	respondOK(c, archiveResponse{TenantID: tenantID, YearMonth: yearMonth, Messages: msgs})
}

// runArchival runs the job synchronously. A client disconnect does not
// abort the run mid-page.
func (h *handlers) runArchival(c *gin.Context) {
	id, _ := currentIdentity(c)
	h.logger.Info("archival requested", "uid", id.UID, "correlationId", c.GetString(ctxCorrelationID))

	res, err := h.archiver.RunArchival(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		h.fail(c, "archival run", err)
		return
	}
	respondOK(c, res)
}

func (h *handlers) listMessages(c *gin.Context) {
	from, ok := parseTimeQuery(c, "from")
	if !ok {
		return
	}
	to, ok := parseTimeQuery(c, "to")
	if !ok {
		return
	}
	if from.IsZero() {
		from = time.Unix(0, 0).UTC()
	}

	tenantID := c.Param("tenantId")
	msgs, err := h.messages.ListMessages(c.Request.Context(), tenantID, from, to)
	if err != nil {
		h.fail(c, "list messages", err)
		return
	}
	respondOK(c, messagesResponse{TenantID: tenantID, Messages: msgs})
}

func (h *handlers) createMessage(c *gin.Context) {
	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body", Err: err})
		return
	}
	id, _ := currentIdentity(c)
	sender := id.Email
	if sender == "" {
		sender = id.UID
	}

	msg, err := h.messages.CreateMessage(c.Request.Context(), usecase.NewMessageInput{
		QuoteRequestID: c.Param("tenantId"),
		Text:           req.Text,
		SenderIdentity: sender,
		SenderUnit:     req.SenderUnit,
		Files:          req.Files,
	})
	if err != nil {
		h.fail(c, "create message", err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *handlers) markRead(c *gin.Context) {
	id, _ := currentIdentity(c)
	reader := id.Email
	if reader == "" {
		reader = id.UID
	}
	if err := h.messages.MarkRead(c.Request.Context(), c.Param("messageId"), reader); err != nil {
		h.fail(c, "mark read", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) fail(c *gin.Context, op string, err error) {
	status, code := handlerStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", "code", code, "err", err, "correlationId", c.GetString(ctxCorrelationID))
	}
	respondError(c, err)
}

func parseTimeQuery(c *gin.Context, name string) (time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		respondError(c, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_" + name, Err: err})
		return time.Time{}, false
	}
	return t.UTC(), true
}
