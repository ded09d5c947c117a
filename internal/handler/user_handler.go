package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"taskhub/internal/apperr"
	"taskhub/internal/model"
	"taskhub/internal/query"
	"taskhub/internal/service"
	"taskhub/pkg/logger"
)

type UserHandler struct {
	coordinator *service.Coordinator
	logger      *zap.Logger
}

func NewUserHandler(coordinator *service.Coordinator, logger *zap.Logger) *UserHandler {
	return &UserHandler{coordinator: coordinator, logger: logger}
}

// ListUsers GET /api/users，没有默认 limit
func (h *UserHandler) ListUsers(c *gin.Context) {
	ctx := c.Request.Context()
	d := query.Parse(query.Users, c.Request.URL.Query())

	if d.IsCountRequest && !d.Invalid {
		n, err := h.coordinator.CountUsers(ctx, d)
		if err != nil {
			respondError(c, h.logger, "ListUsers", err)
			return
		}
		ok(c, n)
		return
	}

	users, err := h.coordinator.ListUsers(ctx, d)
	if err != nil {
		respondError(c, h.logger, "ListUsers", err)
		return
	}
	ok(c, users)
}

func (h *UserHandler) GetUser(c *gin.Context) {
	d := query.Parse(query.Users, c.Request.URL.Query())
	if d.Invalid {
		respondError(c, h.logger, "GetUser", apperr.InvalidQuery("Invalid JSON in query params", d.Err))
		return
	}

	user, err := h.coordinator.GetUser(c.Request.Context(), c.Param("id"), d.Projection)
	if err != nil {
		respondError(c, h.logger, "GetUser", err)
		return
	}
	ok(c, user)
}

func (h *UserHandler) CreateUser(c *gin.Context) {
	in, err := h.bindUserInput(c)
	if err != nil {
		respondError(c, h.logger, "CreateUser", err)
		return
	}

	user, err := h.coordinator.CreateUser(c.Request.Context(), in)
	if err != nil {
		respondError(c, h.logger, "CreateUser", err)
		return
	}

	logger.WithTrace(c.Request.Context(), h.logger).Info("CreateUser: success",
		zap.String("user_id", user.ID),
		zap.Int("pending_count", len(user.PendingTasks)),
	)
	created(c, user)
}

// UpdateUser PUT /api/users/:id，pendingTasks 为权威集合
func (h *UserHandler) UpdateUser(c *gin.Context) {
	in, err := h.bindUserInput(c)
	if err != nil {
		respondError(c, h.logger, "UpdateUser", err)
		return
	}

	user, err := h.coordinator.UpdateUser(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		respondError(c, h.logger, "UpdateUser", err)
		return
	}

	logger.WithTrace(c.Request.Context(), h.logger).Info("UpdateUser: success",
		zap.String("user_id", user.ID),
		zap.Int("pending_count", len(user.PendingTasks)),
	)
	ok(c, user)
}

func (h *UserHandler) DeleteUser(c *gin.Context) {
	id := c.Param("id")
	if err := h.coordinator.DeleteUser(c.Request.Context(), id); err != nil {
		respondError(c, h.logger, "DeleteUser", err)
		return
	}

	logger.WithTrace(c.Request.Context(), h.logger).Info("DeleteUser: success", zap.String("user_id", id))
	c.Status(http.StatusNoContent)
}

func (h *UserHandler) bindUserInput(c *gin.Context) (model.UserInput, error) {
	fields, err := decodeFields(c)
	if err != nil {
		return model.UserInput{}, err
	}
	return model.UserInputFromFields(fields)
}
