package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"taskmanager/internal/api/httperr"
	"taskmanager/internal/api/middleware"
	"taskmanager/internal/model"
	"taskmanager/internal/pkg/metrics"
	"taskmanager/internal/store"

	"github.com/gin-gonic/gin"
)

const dateOnlyLayout = "2006-01-02"

var errTaskNotFound = httperr.New(httperr.NotFound, "Task not found")

// createTaskRequest 创建任务的请求参数。没有所有者字段，所有者总是当前用户。
type createTaskRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Priority    string  `json:"priority" binding:"omitempty,oneof=low medium high"`
	Status      string  `json:"status" binding:"omitempty,oneof=pending in-progress completed"`
	DueDate     *string `json:"dueDate"`
}

// updateTaskRequest 部分更新任务。ownerId 等字段不在此结构中，提交时会被忽略。
type updateTaskRequest struct {
	Title       *string         `json:"title"`
	Description *string         `json:"description"`
	Priority    *string         `json:"priority" binding:"omitempty,oneof=low medium high"`
	Status      *string         `json:"status" binding:"omitempty,oneof=pending in-progress completed"`
	DueDate     json.RawMessage `json:"dueDate"`
}

type taskResponse struct {
	Success bool        `json:"success"`
	Task    *model.Task `json:"task"`
}

type taskListResponse struct {
	Success bool         `json:"success"`
	Tasks   []model.Task `json:"tasks"`
}

// handleListTasks 返回当前用户的任务，最新创建的在前。
//
// GET /tasks
func (s *Server) handleListTasks(c *gin.Context) {
	user, ok := s.principal(c)
	if !ok {
		return
	}
	tasks, err := s.tasks.ListTasks(c.Request.Context(), user.ID)
	if err != nil {
		s.logger.Error("list tasks failed", slog.String("user_id", user.ID), slog.String("error", err.Error()))
		httperr.Abort(c, httperr.Wrap(httperr.Internal, "Server error", err))
		return
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	metrics.TaskOperationsTotal.WithLabelValues("list").Inc()
	c.JSON(http.StatusOK, taskListResponse{Success: true, Tasks: tasks})
}

// handleCreateTask 为当前用户创建任务。
//
// POST /tasks
func (s *Server) handleCreateTask(c *gin.Context) {
	user, ok := s.principal(c)
	if !ok {
		return
	}
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.Abort(c, httperr.FromBinding(err))
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		httperr.Abort(c, httperr.New(httperr.Validation, "Task title is required"))
		return
	}

	task := model.Task{
		Title:       title,
		Description: req.Description,
		Priority:    model.Priority(req.Priority),
		Status:      model.Status(req.Status),
		OwnerID:     user.ID,
	}
	if req.DueDate != nil && strings.TrimSpace(*req.DueDate) != "" {
		due, err := parseDueDate(*req.DueDate)
		if err != nil {
			httperr.Abort(c, err)
			return
		}
		task.DueDate = &due
	}

	if err := s.tasks.CreateTask(c.Request.Context(), &task); err != nil {
		if errors.Is(err, store.ErrInvalidTask) {
			httperr.Abort(c, httperr.Wrap(httperr.Validation, "Invalid task", err))
			return
		}
		s.logger.Error("create task failed", slog.String("user_id", user.ID), slog.String("error", err.Error()))
		httperr.Abort(c, httperr.Wrap(httperr.Internal, "Server error", err))
		return
	}

	metrics.TaskOperationsTotal.WithLabelValues("create").Inc()
	s.logger.Info("task created", slog.String("task_id", task.ID), slog.String("user_id", user.ID))
	c.JSON(http.StatusCreated, taskResponse{Success: true, Task: &task})
}

// handleGetTask 返回当前用户的单个任务。
//
// GET /tasks/:id
func (s *Server) handleGetTask(c *gin.Context) {
	user, ok := s.principal(c)
	if !ok {
		return
	}
	task, err := s.tasks.FindTask(c.Request.Context(), c.Param("id"), user.ID)
	if err != nil {
		s.abortTaskError(c, "get task failed", err)
		return
	}
	metrics.TaskOperationsTotal.WithLabelValues("get").Inc()
	c.JSON(http.StatusOK, taskResponse{Success: true, Task: task})
}

// handleUpdateTask 部分更新当前用户的任务。
//
// PUT /tasks/:id
func (s *Server) handleUpdateTask(c *gin.Context) {
	user, ok := s.principal(c)
	if !ok {
		return
	}
	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		httperr.Abort(c, httperr.FromBinding(err))
		return
	}
	update, err := req.toUpdate()
	if err != nil {
		httperr.Abort(c, err)
		return
	}

	task, err := s.tasks.UpdateTask(c.Request.Context(), c.Param("id"), user.ID, update)
	if err != nil {
		s.abortTaskError(c, "update task failed", err)
		return
	}
	metrics.TaskOperationsTotal.WithLabelValues("update").Inc()
	c.JSON(http.StatusOK, taskResponse{Success: true, Task: task})
}

// handleDeleteTask 删除当前用户的任务。
//
// DELETE /tasks/:id
func (s *Server) handleDeleteTask(c *gin.Context) {
	user, ok := s.principal(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if err := s.tasks.DeleteTask(c.Request.Context(), id, user.ID); err != nil {
		s.abortTaskError(c, "delete task failed", err)
		return
	}
	metrics.TaskOperationsTotal.WithLabelValues("delete").Inc()
	s.logger.Info("task deleted", slog.String("task_id", id), slog.String("user_id", user.ID))
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Task deleted successfully"})
}

func (r updateTaskRequest) toUpdate() (store.TaskUpdate, error) {
	var update store.TaskUpdate
	if r.Title != nil {
		title := strings.TrimSpace(*r.Title)
		if title == "" {
			return update, httperr.New(httperr.Validation, "Task title is required")
		}
		update.Title = &title
	}
	update.Description = r.Description
	if r.Priority != nil {
		p := model.Priority(*r.Priority)
		update.Priority = &p
	}
	if r.Status != nil {
		st := model.Status(*r.Status)
		update.Status = &st
	}

	raw := bytes.TrimSpace(r.DueDate)
	switch {
	case len(raw) == 0:
	case bytes.Equal(raw, []byte("null")):
		update.ClearDueDate = true
	default:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return update, httperr.Wrap(httperr.Validation, "dueDate must be a date string or null", err)
		}
		if strings.TrimSpace(s) == "" {
			update.ClearDueDate = true
			break
		}
		due, err := parseDueDate(s)
		if err != nil {
			return update, err
		}
		update.DueDate = &due
	}
	return update, nil
}

// parseDueDate 接受 RFC 3339 时间或 YYYY-MM-DD 日期。
func parseDueDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(dateOnlyLayout, value)
	if err != nil {
		return time.Time{}, httperr.Wrap(httperr.Validation, "dueDate must be an RFC 3339 timestamp or YYYY-MM-DD", err)
	}
	return t, nil
}

func (s *Server) abortTaskError(c *gin.Context, msg string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		httperr.Abort(c, errTaskNotFound)
		return
	}
	if errors.Is(err, store.ErrInvalidTask) {
		httperr.Abort(c, httperr.Wrap(httperr.Validation, "Invalid task", err))
		return
	}
	s.logger.Error(msg, slog.String("task_id", c.Param("id")), slog.String("error", err.Error()))
	httperr.Abort(c, httperr.Wrap(httperr.Internal, "Server error", err))
}

// principal 取出认证中间件写入的用户。
func (s *Server) principal(c *gin.Context) (*model.User, bool) {
	user, ok := middleware.Principal(c)
	if !ok {
		httperr.Abort(c, httperr.New(httperr.Unauthenticated, "Authentication required"))
		return nil, false
	}
	return user, true
}
