package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/geocoder89/taskhub/internal/config"
	"github.com/geocoder89/taskhub/internal/domain/user"
	"github.com/gin-gonic/gin"
)

type UserDirectory interface {
	GetByID(ctx context.Context, id string) (user.User, error)
	UpdateProfile(ctx context.Context, id string, req user.UpdateProfileRequest) (user.User, error)
	SetBlocked(ctx context.Context, id string, blocked bool) (user.User, error)
	Count(ctx context.Context) (int, error)
	ListByRole(ctx context.Context, role string) ([]user.User, error)
}

type UsersHandler struct {
	users UserDirectory
}

func NewUsersHandler(users UserDirectory) *UsersHandler {
	return &UsersHandler{users: users}
}

// GetByID returns a single account. Employees can only look at their own;
// managers can look at anyone.
func (h *UsersHandler) GetByID(ctx *gin.Context) {
	id := ctx.Param("id")

	callerID, _ := userIDFrom(ctx)
	role, _ := roleFrom(ctx)

	if role != string(user.RoleManager) && callerID != id {
		RespondForbidden(ctx, "You can only view your own account.")
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	u, err := h.users.GetByID(cctx, id)

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "User not found")
			return
		}

		RespondInternal(ctx, "Could not fetch user")
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, gin.H{"user": u})
}

// UpdateProfile lets a user edit their own name fields.
func (h *UsersHandler) UpdateProfile(ctx *gin.Context) {
	id := ctx.Param("id")

	callerID, _ := userIDFrom(ctx)

	if callerID != id {
		RespondForbidden(ctx, "You can only update your own account.")
		return
	}

	var req user.UpdateProfileRequest

	if !BindJSON(ctx, &req) {
		return
	}

	if req.FirstName == nil && req.LastName == nil {
		RespondBadRequest(ctx, "Nothing to update", nil)
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	u, err := h.users.UpdateProfile(cctx, id, req)

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "User not found")
			return
		}

		RespondInternal(ctx, "Could not update user")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"user": u})
}

// ToggleBlocked flips the blocked flag on an employee account.
func (h *UsersHandler) ToggleBlocked(ctx *gin.Context) {
	id := ctx.Param("id")

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	u, err := h.users.GetByID(cctx, id)

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "User not found")
			return
		}

		RespondInternal(ctx, "Could not update user")
		return
	}

	// managers cannot block each other
	if u.Role == user.RoleManager {
		RespondForbidden(ctx, "Manager accounts cannot be blocked.")
		return
	}

	u, err = h.users.SetBlocked(cctx, id, !u.IsBlocked)

	if err != nil {
		RespondInternal(ctx, "Could not update user")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"user": u})
}

// Count reports how many employee accounts exist.
func (h *UsersHandler) Count(ctx *gin.Context) {
	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	total, err := h.users.Count(cctx)

	if err != nil {
		RespondInternal(ctx, "Could not count users")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"employeeCount": total})
}

// ListEmployees returns every employee account for the manager overview.
func (h *UsersHandler) ListEmployees(ctx *gin.Context) {
	cctx, cancel := config.WithTimeout(5 * time.Second)

	defer cancel()

	users, err := h.users.ListByRole(cctx, string(user.RoleUser))

	if err != nil {
		RespondInternal(ctx, "Could not list users")
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, gin.H{
		"items": users,
		"total": len(users),
	})
}
