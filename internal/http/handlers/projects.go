package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/geocoder89/taskhub/internal/cache"
	"github.com/geocoder89/taskhub/internal/config"
	"github.com/geocoder89/taskhub/internal/domain/job"
	"github.com/geocoder89/taskhub/internal/domain/project"
	"github.com/geocoder89/taskhub/internal/domain/user"
	"github.com/geocoder89/taskhub/internal/jobs"
	"github.com/geocoder89/taskhub/internal/notifications"
	"github.com/gin-gonic/gin"
)

type ProjectStore interface {
	Create(ctx context.Context, p project.Project) (project.Project, error)
	GetByID(ctx context.Context, id string) (project.Project, error)
	UpdateOwned(ctx context.Context, id, ownerID string, req project.UpdateProjectRequest) (project.Project, error)
	DeleteOwned(ctx context.Context, id, ownerID string) error
	SetInvite(ctx context.Context, id, ownerID, invitedUserID string) (project.Project, error)
	ListByOwner(ctx context.Context, ownerID string) ([]project.Project, error)
	ListByInvitedUser(ctx context.Context, userID string) ([]project.Project, error)
	CountByOwner(ctx context.Context, ownerID string) (int, error)
	InviteHolder(ctx context.Context, projectID, userID string) (bool, error)
	ResolveInviteeByEmail(ctx context.Context, email string) (string, error)
}

type ProjectsHandler struct {
	projects  ProjectStore
	mailer    notifications.Mailer
	jobQueue  JobEnqueuer
	listCache *cache.Cache
	cfg       config.Config
}

func NewProjectsHandler(projects ProjectStore, mailer notifications.Mailer, jobQueue JobEnqueuer, cfg config.Config) *ProjectsHandler {
	return &ProjectsHandler{
		projects:  projects,
		mailer:    mailer,
		jobQueue:  jobQueue,
		listCache: cache.New(5 * time.Second),
		cfg:       cfg,
	}
}

func (h *ProjectsHandler) Create(ctx *gin.Context) {
	ownerID, ok := userIDFrom(ctx)

	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity context")
		return
	}

	var req project.CreateProjectRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	p, err := h.projects.Create(cctx, project.NewFromCreateRequest(ownerID, req))

	if err != nil {
		if errors.Is(err, project.ErrDescriptionTaken) {
			RespondConflict(ctx, "description_taken", "A project with this description already exists.")
			return
		}

		RespondInternal(ctx, "Could not create project")
		return
	}

	h.listCache.Delete(ownerID)

	ctx.JSON(http.StatusCreated, gin.H{"project": p})
}

func (h *ProjectsHandler) GetByID(ctx *gin.Context) {
	id := ctx.Param("id")

	ownerID, _ := userIDFrom(ctx)

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	p, err := h.projects.GetByID(cctx, id)

	if err != nil {
		if errors.Is(err, project.ErrNotFound) {
			RespondNotFound(ctx, "Project not found")
			return
		}

		RespondInternal(ctx, "Could not fetch project")
		return
	}

	if p.OwnerID != ownerID {
		RespondForbidden(ctx, "Project belongs to another manager.")
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, gin.H{"project": p})
}

func (h *ProjectsHandler) Update(ctx *gin.Context) {
	id := ctx.Param("id")

	ownerID, _ := userIDFrom(ctx)

	var req project.UpdateProjectRequest

	if !BindJSON(ctx, &req) {
		return
	}

	if req.Name == nil && req.Description == nil {
		RespondBadRequest(ctx, "Nothing to update", nil)
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	p, err := h.projects.UpdateOwned(cctx, id, ownerID, req)

	if err != nil {
		switch {
		case errors.Is(err, project.ErrNotFound):
			RespondNotFound(ctx, "Project not found")
		case errors.Is(err, project.ErrNotOwner):
			RespondForbidden(ctx, "Project belongs to another manager.")
		case errors.Is(err, project.ErrDescriptionTaken):
			RespondConflict(ctx, "description_taken", "A project with this description already exists.")
		default:
			RespondInternal(ctx, "Could not update project")
		}
		return
	}

	h.listCache.Delete(ownerID)

	ctx.JSON(http.StatusOK, gin.H{"project": p})
}

func (h *ProjectsHandler) Delete(ctx *gin.Context) {
	id := ctx.Param("id")

	ownerID, _ := userIDFrom(ctx)

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	err := h.projects.DeleteOwned(cctx, id, ownerID)

	if err != nil {
		switch {
		case errors.Is(err, project.ErrNotFound):
			RespondNotFound(ctx, "Project not found")
		case errors.Is(err, project.ErrNotOwner):
			RespondForbidden(ctx, "Project belongs to another manager.")
		default:
			RespondInternal(ctx, "Could not delete project")
		}
		return
	}

	h.listCache.Delete(ownerID)

	ctx.Status(http.StatusNoContent)
}

// Invite places a user into the project's single invite slot and mails them
// a link to the acceptance endpoint. A repeat invite replaces the previous
// holder.
func (h *ProjectsHandler) Invite(ctx *gin.Context) {
	id := ctx.Param("id")

	ownerID, _ := userIDFrom(ctx)

	var req project.InviteUserRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(5 * time.Second)

	defer cancel()

	inviteeID, err := h.projects.ResolveInviteeByEmail(cctx, req.Email)

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "No account exists for that email")
			return
		}

		RespondInternal(ctx, "Could not invite user")
		return
	}

	p, err := h.projects.SetInvite(cctx, id, ownerID, inviteeID)

	if err != nil {
		switch {
		case errors.Is(err, project.ErrNotFound):
			RespondNotFound(ctx, "Project not found")
		case errors.Is(err, project.ErrNotOwner):
			RespondForbidden(ctx, "Project belongs to another manager.")
		default:
			RespondInternal(ctx, "Could not invite user")
		}
		return
	}

	msg := inviteMessage(req.Email, p, h.cfg.PublicBaseURL)

	if sendErr := h.mailer.Send(cctx, msg); sendErr != nil {
		slog.Default().ErrorContext(ctx.Request.Context(), "mail_send_failed",
			"purpose", "project_invite",
			"err", sendErr,
		)
		h.enqueueInviteRetry(cctx, msg)
		RespondInternal(ctx, "Could not send invitation email")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"project": p})
}

func inviteMessage(email string, p project.Project, baseURL string) notifications.Message {
	link := fmt.Sprintf("%s/api/projects/accept-invite/%s", baseURL, p.ID)

	return notifications.Message{
		To:      email,
		Subject: fmt.Sprintf("You have been invited to %s", p.Name),
		Body:    fmt.Sprintf("You have been invited to the project %q.\n\nAccept the invitation here: %s\n", p.Name, link),
	}
}

func (h *ProjectsHandler) enqueueInviteRetry(cctx context.Context, msg notifications.Message) {
	if h.jobQueue == nil {
		return
	}

	payload, err := jobs.MailSendPayload{
		To:          msg.To,
		Subject:     msg.Subject,
		Body:        msg.Body,
		Purpose:     "project_invite",
		RequestedAt: time.Now().UTC(),
	}.JSON()

	if err != nil {
		return
	}

	if _, err := h.jobQueue.Create(cctx, job.CreateRequest{
		Type:    jobs.TypeMailSend,
		Payload: payload,
	}); err != nil {
		slog.Default().Error("mail_outbox_enqueue_failed", "err", err)
	}
}

// AcceptInvite acknowledges the emailed invitation link. The invite slot is
// already bound to the invited account when the invite is sent, so this
// endpoint reports whether the caller holds it rather than gating on it.
func (h *ProjectsHandler) AcceptInvite(ctx *gin.Context) {
	projectID := ctx.Param("projectId")

	callerID, _ := userIDFrom(ctx)

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	p, err := h.projects.GetByID(cctx, projectID)

	if err != nil {
		if errors.Is(err, project.ErrNotFound) {
			RespondNotFound(ctx, "Project not found")
			return
		}

		RespondInternal(ctx, "Could not accept invitation")
		return
	}

	held, err := h.projects.InviteHolder(cctx, projectID, callerID)

	if err != nil {
		RespondInternal(ctx, "Could not accept invitation")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("Invitation to %q accepted.", p.Name),
		"invited": held,
	})
}

// ListOwned returns the caller's projects, served from a short-lived cache.
func (h *ProjectsHandler) ListOwned(ctx *gin.Context) {
	ownerID, _ := userIDFrom(ctx)

	if cached, ok := h.listCache.Get(ownerID); ok {
		if projects, ok := cached.([]project.Project); ok {
			RespondJSONWithETag(ctx, http.StatusOK, gin.H{
				"items": projects,
				"total": len(projects),
			})
			return
		}
	}

	cctx, cancel := config.WithTimeout(5 * time.Second)

	defer cancel()

	projects, err := h.projects.ListByOwner(cctx, ownerID)

	if err != nil {
		RespondInternal(ctx, "Could not list projects")
		return
	}

	h.listCache.Set(ownerID, projects)

	RespondJSONWithETag(ctx, http.StatusOK, gin.H{
		"items": projects,
		"total": len(projects),
	})
}

// ListOwnedBy returns the projects owned by the manager named in the
// route, invite slot included. Manager-only overview endpoint.
func (h *ProjectsHandler) ListOwnedBy(ctx *gin.Context) {
	managerID := ctx.Param("managerId")

	cctx, cancel := config.WithTimeout(5 * time.Second)

	defer cancel()

	projects, err := h.projects.ListByOwner(cctx, managerID)

	if err != nil {
		RespondInternal(ctx, "Could not list projects")
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, gin.H{
		"items": projects,
		"total": len(projects),
	})
}

// ListInvited returns the projects where the caller holds the invite slot.
func (h *ProjectsHandler) ListInvited(ctx *gin.Context) {
	callerID, _ := userIDFrom(ctx)

	cctx, cancel := config.WithTimeout(5 * time.Second)

	defer cancel()

	projects, err := h.projects.ListByInvitedUser(cctx, callerID)

	if err != nil {
		RespondInternal(ctx, "Could not list projects")
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, gin.H{
		"items": projects,
		"total": len(projects),
	})
}

func (h *ProjectsHandler) Count(ctx *gin.Context) {
	ownerID, _ := userIDFrom(ctx)

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	total, err := h.projects.CountByOwner(cctx, ownerID)

	if err != nil {
		RespondInternal(ctx, "Could not count projects")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"projectCount": total})
}
