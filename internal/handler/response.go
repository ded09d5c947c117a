package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"taskhub/internal/apperr"
	"taskhub/pkg/logger"
)

// 响应体统一为 {message, data}
func respond(c *gin.Context, status int, message string, data any) {
	c.JSON(status, gin.H{"message": message, "data": data})
}

func ok(c *gin.Context, data any) {
	respond(c, http.StatusOK, "OK", data)
}

func created(c *gin.Context, data any) {
	respond(c, http.StatusCreated, "Created", data)
}

// statusOf 错误类型到 HTTP 状态码的映射
func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation, apperr.KindDuplicateKey, apperr.KindInvalidQuery:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindTransient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError 写出错误响应；内部错误只记录日志，不向调用方暴露细节
func respondError(c *gin.Context, log *zap.Logger, op string, err error) {
	kind := apperr.KindOf(err)
	status := statusOf(kind)

	l := logger.WithTrace(c.Request.Context(), log)
	if status >= http.StatusInternalServerError {
		l.Error(op+" failed",
			zap.String("kind", kind.String()),
			zap.Error(err),
		)
	} else {
		l.Info(op+" rejected",
			zap.String("kind", kind.String()),
			zap.String("reason", apperr.MessageOf(err)),
		)
	}

	respond(c, status, apperr.MessageOf(err), nil)
}
