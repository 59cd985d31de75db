package task

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusToDo       Status = "TO_DO"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusToDo, StatusInProgress, StatusDone:
		return true
	default:
		return false
	}
}

type Task struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	Status         Status    `json:"status"`
	ProjectID      string    `json:"projectId"`
	AssignedUserID *string   `json:"assignedUserId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

var ErrNotFound = errors.New("task not found")

// the caller is not the owner of the task's project
var ErrNotOwner = errors.New("task owned by another user")

// status changes are reserved for the current assignee
var ErrNotAssignee = errors.New("task assigned to another user")

// assignment requires the assignee to hold the project's invite slot
var ErrNoInvite = errors.New("project not found or no invite for this email")

type CreateTaskRequest struct {
	Name        string `json:"name" binding:"required,min=2,max=120"`
	Description string `json:"description" binding:"required,max=2000"`
}

// partial update: only supplied fields replace stored values
type UpdateTaskRequest struct {
	Name        *string `json:"name" binding:"omitempty,min=2,max=120"`
	Description *string `json:"description" binding:"omitempty,max=2000"`
	Status      *Status `json:"status" binding:"omitempty,oneof=TO_DO IN_PROGRESS DONE"`
}

type AssignTaskRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type ChangeStatusRequest struct {
	Status Status `json:"status" binding:"required,oneof=TO_DO IN_PROGRESS DONE"`
}

func NewFromCreateRequest(projectID string, req CreateTaskRequest) Task {
	now := time.Now().UTC()

	return Task{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		Status:      StatusToDo,
		ProjectID:   projectID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
