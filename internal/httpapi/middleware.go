package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"quote-archiver/internal/integrations/identity"
	"quote-archiver/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	ctxCorrelationID  = "correlationId"
	ctxIdentity       = "identity"
)

func attachCorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(correlationHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxCorrelationID, id)
		c.Header(correlationHeader, id)
		c.Next()
	}
}

func requestLog(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"correlationId", c.GetString(ctxCorrelationID),
		)
	}
}

type authMiddleware struct {
	verifier TokenVerifier
	logger   *slog.Logger
}

func (am *authMiddleware) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			abortWithError(c, &usecase.Error{Code: usecase.ErrorUnauthorized, Reason: "missing_token"})
			return
		}
		id, err := am.verifier.Verify(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, identity.ErrInvalidToken) {
				abortWithError(c, &usecase.Error{Code: usecase.ErrorUnauthorized, Reason: "invalid_token", Err: err})
				return
			}
			am.logger.Error("token verification failed", "err", err, "correlationId", c.GetString(ctxCorrelationID))
			abortWithError(c, err)
			return
		}
		c.Set(ctxIdentity, id)
		c.Next()
	}
}

func requireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := currentIdentity(c)
		if !ok || !id.HasRole(role) {
			abortWithError(c, &usecase.Error{Code: usecase.ErrorForbidden, Reason: "admin_role_required"})
			return
		}
		c.Next()
	}
}

func currentIdentity(c *gin.Context) (identity.Identity, bool) {
	v, ok := c.Get(ctxIdentity)
	if !ok {
		return identity.Identity{}, false
	}
	id, ok := v.(identity.Identity)
	return id, ok
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}
