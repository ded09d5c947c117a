package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"taskhub/pkg/logger"
	"taskhub/pkg/outbox"
)

const defaultReplayLimit = 100

type AdminHandler struct {
	replayService *outbox.ReplayService
	logger        *zap.Logger
}

func NewAdminHandler(replayService *outbox.ReplayService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		replayService: replayService,
		logger:        logger,
	}
}

func limitParam(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultReplayLimit)))
	if err != nil || limit <= 0 {
		return defaultReplayLimit
	}
	return limit
}

// ListFailedEvents 列出投递失败的 Outbox 事件
// GET /api/admin/outbox/failed?limit=100
func (h *AdminHandler) ListFailedEvents(c *gin.Context) {
	events, err := h.replayService.ListFailed(c.Request.Context(), limitParam(c))
	if err != nil {
		h.outboxError(c, "ListFailedEvents", err)
		return
	}
	ok(c, events)
}

// ReplayOutboxEvent 重放指定的 Outbox 事件
// POST /api/admin/outbox/:id/replay
func (h *AdminHandler) ReplayOutboxEvent(c *gin.Context) {
	eventID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respond(c, http.StatusBadRequest, "invalid event id", nil)
		return
	}

	if err := h.replayService.ReplayEvent(c.Request.Context(), eventID); err != nil {
		h.outboxError(c, "ReplayOutboxEvent", err, zap.Int64("event_id", eventID))
		return
	}

	logger.WithTrace(c.Request.Context(), h.logger).Info("Outbox event replayed", zap.Int64("event_id", eventID))
	ok(c, gin.H{"status": "replayed", "event_id": eventID})
}

// ReplayFailedEvents 重放所有失败的事件
// POST /api/admin/outbox/replay-failed?limit=100
func (h *AdminHandler) ReplayFailedEvents(c *gin.Context) {
	limit := limitParam(c)
	successCount, err := h.replayService.ReplayFailedEvents(c.Request.Context(), limit)
	if err != nil {
		h.outboxError(c, "ReplayFailedEvents", err)
		return
	}

	ok(c, gin.H{
		"status":        "completed",
		"success_count": successCount,
		"limit":         limit,
	})
}

func (h *AdminHandler) outboxError(c *gin.Context, op string, err error, fields ...zap.Field) {
	l := logger.WithTrace(c.Request.Context(), h.logger).With(fields...)
	switch {
	case errors.Is(err, outbox.ErrEventNotFound):
		respond(c, http.StatusNotFound, "Event not found", nil)
	case errors.Is(err, outbox.ErrPublisherUnavailable):
		l.Warn(op+": publisher unavailable")
		respond(c, http.StatusServiceUnavailable, "Message queue is not enabled", nil)
	default:
		l.Error(op+" failed", zap.Error(err))
		respond(c, http.StatusInternalServerError, "Server error", nil)
	}
}
