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

type TaskHandler struct {
	coordinator *service.Coordinator
	logger      *zap.Logger
}

func NewTaskHandler(coordinator *service.Coordinator, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{coordinator: coordinator, logger: logger}
}

// ListTasks GET /api/tasks
func (h *TaskHandler) ListTasks(c *gin.Context) {
	ctx := c.Request.Context()
	d := query.Parse(query.Tasks, c.Request.URL.Query())

	if d.IsCountRequest && !d.Invalid {
		n, err := h.coordinator.CountTasks(ctx, d)
		if err != nil {
			respondError(c, h.logger, "ListTasks", err)
			return
		}
		ok(c, n)
		return
	}

	tasks, err := h.coordinator.ListTasks(ctx, d)
	if err != nil {
		respondError(c, h.logger, "ListTasks", err)
		return
	}

	logger.WithTrace(ctx, h.logger).Debug("ListTasks: success", zap.Int("task_count", len(tasks)))
	ok(c, tasks)
}

// GetTask GET /api/tasks/:id，支持 select 投影
func (h *TaskHandler) GetTask(c *gin.Context) {
	d := query.Parse(query.Tasks, c.Request.URL.Query())
	if d.Invalid {
		respondError(c, h.logger, "GetTask", apperr.InvalidQuery("Invalid JSON in query params", d.Err))
		return
	}

	task, err := h.coordinator.GetTask(c.Request.Context(), c.Param("id"), d.Projection)
	if err != nil {
		respondError(c, h.logger, "GetTask", err)
		return
	}
	ok(c, task)
}

// CreateTask POST /api/tasks
func (h *TaskHandler) CreateTask(c *gin.Context) {
	in, err := h.bindTaskInput(c)
	if err != nil {
		respondError(c, h.logger, "CreateTask", err)
		return
	}

	task, err := h.coordinator.CreateTask(c.Request.Context(), in)
	if err != nil {
		respondError(c, h.logger, "CreateTask", err)
		return
	}

	logger.WithTrace(c.Request.Context(), h.logger).Info("CreateTask: success",
		zap.String("task_id", task.ID),
		zap.String("assigned_user", task.AssignedUser),
	)
	created(c, task)
}

// UpdateTask PUT /api/tasks/:id，整体替换
func (h *TaskHandler) UpdateTask(c *gin.Context) {
	in, err := h.bindTaskInput(c)
	if err != nil {
		respondError(c, h.logger, "UpdateTask", err)
		return
	}

	task, err := h.coordinator.UpdateTask(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		respondError(c, h.logger, "UpdateTask", err)
		return
	}

	logger.WithTrace(c.Request.Context(), h.logger).Info("UpdateTask: success",
		zap.String("task_id", task.ID),
		zap.String("assigned_user", task.AssignedUser),
	)
	ok(c, task)
}

// DeleteTask DELETE /api/tasks/:id
func (h *TaskHandler) DeleteTask(c *gin.Context) {
	id := c.Param("id")
	if err := h.coordinator.DeleteTask(c.Request.Context(), id); err != nil {
		respondError(c, h.logger, "DeleteTask", err)
		return
	}

	logger.WithTrace(c.Request.Context(), h.logger).Info("DeleteTask: success", zap.String("task_id", id))
	c.Status(http.StatusNoContent)
}

func (h *TaskHandler) bindTaskInput(c *gin.Context) (model.TaskInput, error) {
	fields, err := decodeFields(c)
	if err != nil {
		return model.TaskInput{}, err
	}
	return model.TaskInputFromFields(fields)
}
