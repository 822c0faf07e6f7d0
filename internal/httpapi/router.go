// Package httpapi exposes the archive read surface, the admin archival
// trigger and the live message operations over HTTP.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"quote-archiver/internal/domain"
	"quote-archiver/internal/integrations/identity"
	"quote-archiver/internal/usecase"
)

type HistoryLoader interface {
	LoadHistory(ctx context.Context, tenantID, yearMonth string) ([]domain.Message, error)
}

type ArchiveRunner interface {
	RunArchival(ctx context.Context) (usecase.ArchiveResult, error)
}

type MessageOps interface {
	CreateMessage(ctx context.Context, in usecase.NewMessageInput) (domain.Message, error)
	ListMessages(ctx context.Context, tenantID string, from, to time.Time) ([]domain.Message, error)
	MarkRead(ctx context.Context, messageID, identity string) error
}

type TokenVerifier interface {
	Verify(ctx context.Context, idToken string) (identity.Identity, error)
}

type RouterConfig struct {
	History   HistoryLoader
	Archiver  ArchiveRunner
	Messages  MessageOps
	Verifier  TokenVerifier
	AdminRole string
	Logger    *slog.Logger
}

func NewRouter(cfg RouterConfig) (*gin.Engine, error) {
	if cfg.History == nil || cfg.Archiver == nil || cfg.Messages == nil {
		return nil, errors.New("httpapi: history, archiver and messages must not be nil")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("httpapi: token verifier must not be nil")
	}
	if cfg.AdminRole == "" {
		return nil, errors.New("httpapi: admin role must not be empty")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	h := &handlers{history: cfg.History, archiver: cfg.Archiver, messages: cfg.Messages, logger: cfg.Logger}
	auth := &authMiddleware{verifier: cfg.Verifier, logger: cfg.Logger}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(attachCorrelationID())
	r.Use(requestLog(cfg.Logger))

	r.GET("/healthcheck", h.healthCheck)

	v1 := r.Group("/v1")
	v1.Use(auth.requireAuth())
	{
		v1.GET("/quote-requests/:tenantId/archive/:yearMonth", h.getArchive)
		v1.GET("/quote-requests/:tenantId/messages", h.listMessages)
		v1.POST("/quote-requests/:tenantId/messages", h.createMessage)
		v1.POST("/messages/:messageId/read", h.markRead)

		admin := v1.Group("/admin")
		admin.Use(requireRole(cfg.AdminRole))
		admin.POST("/archival-runs", h.runArchival)
	}
	return r, nil
}
