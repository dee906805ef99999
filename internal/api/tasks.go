package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/rapidworks/expertdesk/internal/lifecycle"
	"github.com/rapidworks/expertdesk/internal/model"
)

// TaskResponse is a task as seen by the caller: price offers rendered from
// the current estimate and the caller's unread count.
type TaskResponse struct {
	*model.TaskRequest
	Unread int `json:"unread"`
}

func newTaskResponse(p model.Principal, t *model.TaskRequest) TaskResponse {
	view := t.Clone()
	for i, m := range view.Messages {
		view.Messages[i].Content = model.RenderMessage(t, m)
	}
	if view.Messages == nil {
		view.Messages = []model.Message{}
	}
	return TaskResponse{TaskRequest: view, Unread: model.UnreadCount(t, p.Role)}
}

// Task serves task requests and their lifecycle actions.
type Task struct {
	svc     *lifecycle.Service
	experts ExpertLookup
	log     *logrus.Entry
}

// NewTaskHandler returns the task handler. experts resolves the configured
// expert named in a new request.
func NewTaskHandler(svc *lifecycle.Service, experts ExpertLookup, log *logrus.Entry) *Task {
	return &Task{svc: svc, experts: experts, log: log}
}

// EnrichRoutes registers the /tasks routes.
func (h *Task) EnrichRoutes(router gin.IRouter) {
	taskRoutes := router.Group("/tasks")
	taskRoutes.POST("", h.createTaskAction)
	taskRoutes.GET("", h.listTasksAction)
	taskRoutes.GET("/:taskID", h.getTaskAction)
	taskRoutes.POST("/:taskID/messages", h.appendMessageAction)
	taskRoutes.POST("/:taskID/read", h.markReadAction)
	taskRoutes.POST("/:taskID/estimate", h.sendEstimateAction)
	taskRoutes.PUT("/:taskID/estimate", h.editEstimateAction)
	taskRoutes.POST("/:taskID/accept", h.acceptEstimateAction)
	taskRoutes.POST("/:taskID/decline", h.declineEstimateAction)
	taskRoutes.POST("/:taskID/status", h.changeStatusAction)
}

func (h *Task) createTaskAction(c *gin.Context) {
	const op = "api.Task.createTaskAction"
	log := h.log.WithField("operation", op)

	form := &CreateTaskForm{}
	if verr := form.ParseAndValidate(c, h.experts); verr != nil {
		HandleError(verr, c)
		return
	}
	defer form.Close()

	p := principal(c)
	id, err := h.svc.CreateTask(c.Request.Context(), p, form.Input)
	if err != nil {
		log.WithError(err).Warn("create task")
		HandleError(err, c)
		return
	}

	task, err := h.svc.Get(c.Request.Context(), p, id)
	if err != nil {
		HandleError(err, c)
		return
	}
	c.JSON(http.StatusCreated, newTaskResponse(p, task))
}

func (h *Task) listTasksAction(c *gin.Context) {
	limit, verr := parseLimit(c)
	if verr != nil {
		HandleError(verr, c)
		return
	}
	opts := lifecycle.ListOptions{Query: c.Query("q"), Limit: limit}
	if raw := c.Query("status"); raw != "" {
		st := model.Status(raw)
		if !st.Valid() {
			HandleError(newValidationError(map[string]string{"status": "unknown status"}), c)
			return
		}
		opts.Status = &st
	}

	p := principal(c)
	tasks, err := h.svc.List(c.Request.Context(), p, opts)
	if err != nil {
		h.log.WithField("operation", "api.Task.listTasksAction").WithError(err).Error("list tasks")
		HandleError(err, c)
		return
	}

	out := make([]TaskResponse, 0, len(tasks))
	for i := range tasks {
		out = append(out, newTaskResponse(p, &tasks[i]))
	}
	c.JSON(http.StatusOK, gin.H{"tasks": out})
}

func (h *Task) getTaskAction(c *gin.Context) {
	p := principal(c)
	task, err := h.svc.Get(c.Request.Context(), p, c.Param("taskID"))
	if err != nil {
		HandleError(err, c)
		return
	}
	c.JSON(http.StatusOK, newTaskResponse(p, task))
}

func (h *Task) appendMessageAction(c *gin.Context) {
	in, verr := ParseMessage(c)
	if verr != nil {
		HandleError(verr, c)
		return
	}
	msg, err := h.svc.AppendMessage(c.Request.Context(), principal(c), c.Param("taskID"), in)
	if err != nil {
		HandleError(err, c)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *Task) markReadAction(c *gin.Context) {
	n, err := h.svc.MarkRead(c.Request.Context(), principal(c), c.Param("taskID"))
	if err != nil {
		HandleError(err, c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": n})
}

func (h *Task) sendEstimateAction(c *gin.Context) {
	h.estimate(c, h.svc.SendEstimate)
}

func (h *Task) editEstimateAction(c *gin.Context) {
	h.estimate(c, h.svc.EditEstimate)
}

type estimateFunc func(context.Context, model.Principal, string, lifecycle.EstimateInput) (*model.TaskRequest, error)

func (h *Task) estimate(c *gin.Context, fn estimateFunc) {
	in, verr := ParseEstimate(c)
	if verr != nil {
		HandleError(verr, c)
		return
	}
	p := principal(c)
	task, err := fn(c.Request.Context(), p, c.Param("taskID"), in)
	if err != nil {
		HandleError(err, c)
		return
	}
	c.JSON(http.StatusOK, newTaskResponse(p, task))
}

func (h *Task) acceptEstimateAction(c *gin.Context) {
	p := principal(c)
	task, err := h.svc.AcceptEstimate(c.Request.Context(), p, c.Param("taskID"))
	if err != nil {
		HandleError(err, c)
		return
	}
	c.JSON(http.StatusOK, newTaskResponse(p, task))
}

func (h *Task) declineEstimateAction(c *gin.Context) {
	var req DeclineRequest
	if verr := decodeJSON(c, &req); verr != nil {
		HandleError(verr, c)
		return
	}
	p := principal(c)
	task, err := h.svc.DeclineEstimate(c.Request.Context(), p, c.Param("taskID"), req.Feedback)
	if err != nil {
		HandleError(err, c)
		return
	}
	c.JSON(http.StatusOK, newTaskResponse(p, task))
}

func (h *Task) changeStatusAction(c *gin.Context) {
	req, verr := ParseStatus(c)
	if verr != nil {
		HandleError(verr, c)
		return
	}

	ctx := c.Request.Context()
	p := principal(c)
	id := c.Param("taskID")

	var (
		task *model.TaskRequest
		err  error
	)
	switch {
	case req.Force:
		task, err = h.svc.ForceStatus(ctx, p, id, req.Status, lifecycle.StatusPatch{})
	case req.Status == model.StatusInProgress:
		task, err = h.svc.StartWork(ctx, p, id)
	case req.Status == model.StatusCompleted:
		task, err = h.svc.Complete(ctx, p, id)
	default:
		task, err = h.svc.UpdateStatus(ctx, p, id, req.Status, lifecycle.StatusPatch{})
	}
	if err != nil {
		HandleError(err, c)
		return
	}
	c.JSON(http.StatusOK, newTaskResponse(p, task))
}
