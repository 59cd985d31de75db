package project

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type Project struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	OwnerID     string  `json:"ownerId"`
	// single-slot invite: at most one invited member per project
	InvitedUserID *string   `json:"invitedUserId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

var ErrNotFound = errors.New("project not found")

// returned when the caller is not the owning manager
var ErrNotOwner = errors.New("project owned by another user")

// description is unique across all projects
var ErrDescriptionTaken = errors.New("project description already in use")

type CreateProjectRequest struct {
	Name        string `json:"name" binding:"required,min=2,max=120"`
	Description string `json:"description" binding:"required,min=2,max=255"`
}

// partial update: omitted fields keep their stored values
type UpdateProjectRequest struct {
	Name        *string `json:"name" binding:"omitempty,min=2,max=120"`
	Description *string `json:"description" binding:"omitempty,min=2,max=255"`
}

type InviteUserRequest struct {
	Email string `json:"email" binding:"required,email"`
}

func NewFromCreateRequest(ownerID string, req CreateProjectRequest) Project {
	now := time.Now().UTC()

	return Project{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		OwnerID:     ownerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
