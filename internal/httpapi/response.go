package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"quote-archiver/handler"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func respondError(c *gin.Context, err error) {
	status, code := handler.ErrorStatus(err)
	c.JSON(status, errorResponse{Error: string(code), Message: handler.ErrorMessage(err)})
}

func abortWithError(c *gin.Context, err error) {
	status, code := handler.ErrorStatus(err)
	c.AbortWithStatusJSON(status, errorResponse{Error: string(code), Message: handler.ErrorMessage(err)})
}

func respondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func handlerStatus(err error) (int, string) {
	status, code := handler.ErrorStatus(err)
	return status, string(code)
}
