package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/walkietalkie/server/apperr"
	mw "github.com/kasuganosora/walkietalkie/server/middleware"
	"go.uber.org/zap"
)

// fail writes {"error": message} with the status mapped from err.
// Server-side failures are logged; client errors are not.
func fail(c *gin.Context, logger *zap.Logger, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("user_id", mw.GetUserID(c)),
			zap.String("trace_id", mw.GetTraceID(c)),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": apperr.Message(err)})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
