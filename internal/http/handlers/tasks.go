package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/geocoder89/taskhub/internal/config"
	"github.com/geocoder89/taskhub/internal/domain/project"
	"github.com/geocoder89/taskhub/internal/domain/task"
	"github.com/gin-gonic/gin"
)

type TaskStore interface {
	Create(ctx context.Context, t task.Task, ownerID string) (task.Task, error)
	GetByID(ctx context.Context, id string) (task.Task, error)
	UpdateOwned(ctx context.Context, taskID, projectID, ownerID string, req task.UpdateTaskRequest) (task.Task, error)
	DeleteOwned(ctx context.Context, taskID, projectID, ownerID string) error
	Assign(ctx context.Context, taskID, projectID, ownerID, assigneeEmail string) (task.Task, error)
	ChangeStatusAssigned(ctx context.Context, taskID, userID string, status task.Status) (task.Task, error)
	ListByProject(ctx context.Context, projectID string) ([]task.Task, error)
	ListAssigned(ctx context.Context, projectID, userID string) ([]task.Task, error)
	CountAssigned(ctx context.Context, projectID, userID string) (int, error)
}

type ProjectGetter interface {
	GetByID(ctx context.Context, id string) (project.Project, error)
}

type TasksHandler struct {
	tasks    TaskStore
	projects ProjectGetter
}

func NewTasksHandler(tasks TaskStore, projects ProjectGetter) *TasksHandler {
	return &TasksHandler{tasks: tasks, projects: projects}
}

func (h *TasksHandler) Create(ctx *gin.Context) {
	projectID := ctx.Param("projectId")

	ownerID, _ := userIDFrom(ctx)

	var req task.CreateTaskRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	t, err := h.tasks.Create(cctx, task.NewFromCreateRequest(projectID, req), ownerID)

	if err != nil {
		switch {
		case errors.Is(err, project.ErrNotFound):
			RespondNotFound(ctx, "Project not found")
		case errors.Is(err, task.ErrNotOwner):
			RespondForbidden(ctx, "Project belongs to another manager.")
		default:
			RespondInternal(ctx, "Could not create task")
		}
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{"task": t})
}

func (h *TasksHandler) Update(ctx *gin.Context) {
	projectID := ctx.Param("projectId")
	taskID := ctx.Param("taskId")

	ownerID, _ := userIDFrom(ctx)

	var req task.UpdateTaskRequest

	if !BindJSON(ctx, &req) {
		return
	}

	if req.Name == nil && req.Description == nil && req.Status == nil {
		RespondBadRequest(ctx, "Nothing to update", nil)
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	t, err := h.tasks.UpdateOwned(cctx, taskID, projectID, ownerID, req)

	if err != nil {
		h.respondTaskError(ctx, err, "Could not update task")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"task": t})
}

func (h *TasksHandler) Delete(ctx *gin.Context) {
	projectID := ctx.Param("projectId")
	taskID := ctx.Param("taskId")

	ownerID, _ := userIDFrom(ctx)

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	err := h.tasks.DeleteOwned(cctx, taskID, projectID, ownerID)

	if err != nil {
		h.respondTaskError(ctx, err, "Could not delete task")
		return
	}

	ctx.Status(http.StatusNoContent)
}

// Assign hands the task to the account holding the project's invite slot.
func (h *TasksHandler) Assign(ctx *gin.Context) {
	projectID := ctx.Param("projectId")
	taskID := ctx.Param("taskId")

	ownerID, _ := userIDFrom(ctx)

	var req task.AssignTaskRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	t, err := h.tasks.Assign(cctx, taskID, projectID, ownerID, req.Email)

	if err != nil {
		if errors.Is(err, task.ErrNoInvite) {
			RespondNotFound(ctx, task.ErrNoInvite.Error())
			return
		}

		h.respondTaskError(ctx, err, "Could not assign task")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"task": t})
}

// ChangeStatus moves a task through its lifecycle. Only the assignee may do
// this, and the route is restricted to the employee role.
func (h *TasksHandler) ChangeStatus(ctx *gin.Context) {
	taskID := ctx.Param("taskId")

	callerID, _ := userIDFrom(ctx)

	var req task.ChangeStatusRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	t, err := h.tasks.ChangeStatusAssigned(cctx, taskID, callerID, req.Status)

	if err != nil {
		switch {
		case errors.Is(err, task.ErrNotFound):
			RespondNotFound(ctx, "Task not found")
		case errors.Is(err, task.ErrNotAssignee):
			RespondForbidden(ctx, "Task is assigned to another user.")
		default:
			RespondInternal(ctx, "Could not change task status")
		}
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"task": t})
}

// ListByProject returns the tasks of a project the caller owns.
func (h *TasksHandler) ListByProject(ctx *gin.Context) {
	projectID := ctx.Param("projectId")

	ownerID, _ := userIDFrom(ctx)

	cctx, cancel := config.WithTimeout(5 * time.Second)

	defer cancel()

	p, err := h.projects.GetByID(cctx, projectID)

	if err != nil {
		if errors.Is(err, project.ErrNotFound) {
			RespondNotFound(ctx, "Project not found")
			return
		}

		RespondInternal(ctx, "Could not list tasks")
		return
	}

	if p.OwnerID != ownerID {
		RespondForbidden(ctx, "Project belongs to another manager.")
		return
	}

	tasks, err := h.tasks.ListByProject(cctx, projectID)

	if err != nil {
		RespondInternal(ctx, "Could not list tasks")
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, gin.H{
		"items": tasks,
		"total": len(tasks),
	})
}

// GetByID returns one task. Visible to the owning manager and to the
// current assignee, nobody else.
func (h *TasksHandler) GetByID(ctx *gin.Context) {
	taskID := ctx.Param("taskId")

	callerID, _ := userIDFrom(ctx)

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	t, err := h.tasks.GetByID(cctx, taskID)

	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			RespondNotFound(ctx, "Task not found")
			return
		}

		RespondInternal(ctx, "Could not load task")
		return
	}

	if t.AssignedUserID == nil || *t.AssignedUserID != callerID {
		p, err := h.projects.GetByID(cctx, t.ProjectID)

		if err != nil {
			RespondInternal(ctx, "Could not load task")
			return
		}

		if p.OwnerID != callerID {
			RespondForbidden(ctx, "Task belongs to another project.")
			return
		}
	}

	ctx.JSON(http.StatusOK, gin.H{"task": t})
}

// ListAssigned returns the caller's tasks, optionally narrowed to one
// project when the route carries a projectId.
func (h *TasksHandler) ListAssigned(ctx *gin.Context) {
	projectID := ctx.Param("projectId")

	callerID, _ := userIDFrom(ctx)

	cctx, cancel := config.WithTimeout(5 * time.Second)

	defer cancel()

	tasks, err := h.tasks.ListAssigned(cctx, projectID, callerID)

	if err != nil {
		RespondInternal(ctx, "Could not list tasks")
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, gin.H{
		"items": tasks,
		"total": len(tasks),
	})
}

func (h *TasksHandler) CountAssigned(ctx *gin.Context) {
	projectID := ctx.Param("projectId")

	callerID, _ := userIDFrom(ctx)

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	total, err := h.tasks.CountAssigned(cctx, projectID, callerID)

	if err != nil {
		RespondInternal(ctx, "Could not count tasks")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"taskCount": total})
}

func (h *TasksHandler) respondTaskError(ctx *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, task.ErrNotFound):
		RespondNotFound(ctx, "Task not found")
	case errors.Is(err, project.ErrNotFound):
		RespondNotFound(ctx, "Project not found")
	case errors.Is(err, task.ErrNotOwner):
		RespondForbidden(ctx, "Project belongs to another manager.")
	default:
		RespondInternal(ctx, fallback)
	}
}
