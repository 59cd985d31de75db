package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/geocoder89/taskhub/internal/auth"
	"github.com/geocoder89/taskhub/internal/domain/user"
	"github.com/geocoder89/taskhub/internal/http/handlers"
)

type fakeUserDirectory struct {
	getByIDFn    func(ctx context.Context, id string) (user.User, error)
	updateFn     func(ctx context.Context, id string, req user.UpdateProfileRequest) (user.User, error)
	setBlockedFn func(ctx context.Context, id string, blocked bool) (user.User, error)
	countFn      func(ctx context.Context) (int, error)
	listByRoleFn func(ctx context.Context, role string) ([]user.User, error)
}

func (f *fakeUserDirectory) GetByID(ctx context.Context, id string) (user.User, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}

	return user.User{}, user.ErrNotFound
}

func (f *fakeUserDirectory) UpdateProfile(ctx context.Context, id string, req user.UpdateProfileRequest) (user.User, error) {
	if f.updateFn != nil {
		return f.updateFn(ctx, id, req)
	}

	return user.User{}, user.ErrNotFound
}

func (f *fakeUserDirectory) SetBlocked(ctx context.Context, id string, blocked bool) (user.User, error) {
	if f.setBlockedFn != nil {
		return f.setBlockedFn(ctx, id, blocked)
	}

	return user.User{}, user.ErrNotFound
}

func (f *fakeUserDirectory) Count(ctx context.Context) (int, error) {
	if f.countFn != nil {
		return f.countFn(ctx)
	}

	return 0, nil
}

func (f *fakeUserDirectory) ListByRole(ctx context.Context, role string) ([]user.User, error) {
	if f.listByRoleFn != nil {
		return f.listByRoleFn(ctx, role)
	}

	return nil, nil
}

func TestGetUserByIDHandler(t *testing.T) {
	selfID := newUUID()
	otherID := newUUID()

	directory := func() *fakeUserDirectory {
		return &fakeUserDirectory{
			getByIDFn: func(ctx context.Context, id string) (user.User, error) {
				return user.User{ID: id, FirstName: "Ada", Role: user.RoleUser}, nil
			},
		}
	}

	tests := []struct {
		name           string
		claims         *auth.Claims
		targetID       string
		wantStatusCode int
	}{
		{
			name:           "employee_reads_self",
			claims:         &auth.Claims{UserID: selfID, Role: "user"},
			targetID:       selfID,
			wantStatusCode: http.StatusOK,
		},
		{
			name:           "employee_reads_someone_else",
			claims:         &auth.Claims{UserID: selfID, Role: "user"},
			targetID:       otherID,
			wantStatusCode: http.StatusForbidden,
		},
		{
			name:           "manager_reads_anyone",
			claims:         &auth.Claims{UserID: selfID, Role: "manager"},
			targetID:       otherID,
			wantStatusCode: http.StatusOK,
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			h := handlers.NewUsersHandler(directory())

			r := authedRouter(http.MethodGet, "/users/:id", tt.claims, h.GetByID)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, authedRequest(http.MethodGet, "/users/"+tt.targetID, ""))

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}
		})
	}
}

func TestUpdateProfileHandler(t *testing.T) {
	selfID := newUUID()
	otherID := newUUID()

	claims := &auth.Claims{UserID: selfID, Role: "user"}

	tests := []struct {
		name           string
		targetID       string
		body           string
		wantStatusCode int
	}{
		{
			name:           "success",
			targetID:       selfID,
			body:           `{"firstName": "Grace"}`,
			wantStatusCode: http.StatusOK,
		},
		{
			name:           "cannot_edit_someone_else",
			targetID:       otherID,
			body:           `{"firstName": "Grace"}`,
			wantStatusCode: http.StatusForbidden,
		},
		{
			name:           "empty_update_rejected",
			targetID:       selfID,
			body:           `{}`,
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name:           "name_too_short",
			targetID:       selfID,
			body:           `{"firstName": "G"}`,
			wantStatusCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			directory := &fakeUserDirectory{
				updateFn: func(ctx context.Context, id string, req user.UpdateProfileRequest) (user.User, error) {
					return user.User{ID: id, FirstName: *req.FirstName}, nil
				},
			}

			h := handlers.NewUsersHandler(directory)

			r := authedRouter(http.MethodPatch, "/users/:id", claims, h.UpdateProfile)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, authedRequest(http.MethodPatch, "/users/"+tt.targetID, tt.body))

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}
		})
	}
}

func TestToggleBlockedHandler(t *testing.T) {
	managerID := newUUID()
	employeeID := newUUID()

	t.Run("flips_the_flag", func(t *testing.T) {
		directory := &fakeUserDirectory{
			getByIDFn: func(ctx context.Context, id string) (user.User, error) {
				return user.User{ID: id, Role: user.RoleUser, IsBlocked: false}, nil
			},
			setBlockedFn: func(ctx context.Context, id string, blocked bool) (user.User, error) {
				if !blocked {
					t.Fatalf("expected the unblocked user to be blocked")
				}
				return user.User{ID: id, Role: user.RoleUser, IsBlocked: blocked}, nil
			},
		}

		h := handlers.NewUsersHandler(directory)

		r := authedRouter(http.MethodPatch, "/users/blocked/:id", managerClaims(managerID), h.ToggleBlocked)

		w := httptest.NewRecorder()
		r.ServeHTTP(w, authedRequest(http.MethodPatch, "/users/blocked/"+employeeID, ""))

		if w.Code != http.StatusOK {
			t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
		}

		var resp struct {
			User user.User `json:"user"`
		}

		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal response: %v", err)
		}

		if !resp.User.IsBlocked {
			t.Fatalf("expected isBlocked=true in the response")
		}
	})

	t.Run("managers_cannot_be_blocked", func(t *testing.T) {
		directory := &fakeUserDirectory{
			getByIDFn: func(ctx context.Context, id string) (user.User, error) {
				return user.User{ID: id, Role: user.RoleManager}, nil
			},
		}

		h := handlers.NewUsersHandler(directory)

		r := authedRouter(http.MethodPatch, "/users/blocked/:id", managerClaims(managerID), h.ToggleBlocked)

		w := httptest.NewRecorder()
		r.ServeHTTP(w, authedRequest(http.MethodPatch, "/users/blocked/"+newUUID(), ""))

		if w.Code != http.StatusForbidden {
			t.Fatalf("got status %d, want %d, body=%s", w.Code, http.StatusForbidden, w.Body.String())
		}
	})

	t.Run("unknown_user", func(t *testing.T) {
		h := handlers.NewUsersHandler(&fakeUserDirectory{})

		r := authedRouter(http.MethodPatch, "/users/blocked/:id", managerClaims(managerID), h.ToggleBlocked)

		w := httptest.NewRecorder()
		r.ServeHTTP(w, authedRequest(http.MethodPatch, "/users/blocked/"+newUUID(), ""))

		if w.Code != http.StatusNotFound {
			t.Fatalf("got status %d, want %d, body=%s", w.Code, http.StatusNotFound, w.Body.String())
		}
	})
}

func TestEmployeeCountHandler(t *testing.T) {
	directory := &fakeUserDirectory{
		countFn: func(ctx context.Context) (int, error) {
			return 12, nil
		},
	}

	h := handlers.NewUsersHandler(directory)

	r := authedRouter(http.MethodGet, "/users/count", managerClaims(newUUID()), h.Count)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, authedRequest(http.MethodGet, "/users/count", ""))

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
	}

	var resp struct {
		EmployeeCount int `json:"employeeCount"`
	}

	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if resp.EmployeeCount != 12 {
		t.Fatalf("got employeeCount=%d, want 12", resp.EmployeeCount)
	}
}

func TestListEmployeesHandler(t *testing.T) {
	directory := &fakeUserDirectory{
		listByRoleFn: func(ctx context.Context, role string) ([]user.User, error) {
			if role != string(user.RoleUser) {
				t.Fatalf("expected role filter %q, got %q", user.RoleUser, role)
			}
			return []user.User{
				{ID: newUUID(), FirstName: "Ada", Role: user.RoleUser},
				{ID: newUUID(), FirstName: "Grace", Role: user.RoleUser},
			}, nil
		},
	}

	h := handlers.NewUsersHandler(directory)

	r := authedRouter(http.MethodGet, "/users", managerClaims(newUUID()), h.ListEmployees)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, authedRequest(http.MethodGet, "/users", ""))

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
	}

	var resp struct {
		Total int `json:"total"`
	}

	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if resp.Total != 2 {
		t.Fatalf("got total=%d, want 2", resp.Total)
	}
}
