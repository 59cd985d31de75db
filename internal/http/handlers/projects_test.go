package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/geocoder89/taskhub/internal/auth"
	"github.com/geocoder89/taskhub/internal/config"
	"github.com/geocoder89/taskhub/internal/domain/project"
	"github.com/geocoder89/taskhub/internal/domain/user"
	"github.com/geocoder89/taskhub/internal/http/handlers"
	"github.com/geocoder89/taskhub/internal/notifications"
)

type fakeProjectsRepo struct {
	createFn       func(ctx context.Context, p project.Project) (project.Project, error)
	getFn          func(ctx context.Context, id string) (project.Project, error)
	updateFn       func(ctx context.Context, id, ownerID string, req project.UpdateProjectRequest) (project.Project, error)
	deleteFn       func(ctx context.Context, id, ownerID string) error
	setInviteFn    func(ctx context.Context, id, ownerID, invitedUserID string) (project.Project, error)
	listByOwnerFn  func(ctx context.Context, ownerID string) ([]project.Project, error)
	listInvitedFn  func(ctx context.Context, userID string) ([]project.Project, error)
	countFn        func(ctx context.Context, ownerID string) (int, error)
	inviteHolderFn func(ctx context.Context, projectID, userID string) (bool, error)
	resolveFn      func(ctx context.Context, email string) (string, error)
}

func (f *fakeProjectsRepo) Create(ctx context.Context, p project.Project) (project.Project, error) {
	if f.createFn != nil {
		return f.createFn(ctx, p)
	}

	return p, nil
}

func (f *fakeProjectsRepo) GetByID(ctx context.Context, id string) (project.Project, error) {
	if f.getFn != nil {
		return f.getFn(ctx, id)
	}

	return project.Project{}, project.ErrNotFound
}

func (f *fakeProjectsRepo) UpdateOwned(ctx context.Context, id, ownerID string, req project.UpdateProjectRequest) (project.Project, error) {
	if f.updateFn != nil {
		return f.updateFn(ctx, id, ownerID, req)
	}

	return project.Project{}, project.ErrNotFound
}

func (f *fakeProjectsRepo) DeleteOwned(ctx context.Context, id, ownerID string) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, id, ownerID)
	}

	return nil
}

func (f *fakeProjectsRepo) SetInvite(ctx context.Context, id, ownerID, invitedUserID string) (project.Project, error) {
	if f.setInviteFn != nil {
		return f.setInviteFn(ctx, id, ownerID, invitedUserID)
	}

	return project.Project{}, project.ErrNotFound
}

func (f *fakeProjectsRepo) ListByOwner(ctx context.Context, ownerID string) ([]project.Project, error) {
	if f.listByOwnerFn != nil {
		return f.listByOwnerFn(ctx, ownerID)
	}

	return nil, nil
}

func (f *fakeProjectsRepo) ListByInvitedUser(ctx context.Context, userID string) ([]project.Project, error) {
	if f.listInvitedFn != nil {
		return f.listInvitedFn(ctx, userID)
	}

	return nil, nil
}

func (f *fakeProjectsRepo) CountByOwner(ctx context.Context, ownerID string) (int, error) {
	if f.countFn != nil {
		return f.countFn(ctx, ownerID)
	}

	return 0, nil
}

func (f *fakeProjectsRepo) InviteHolder(ctx context.Context, projectID, userID string) (bool, error) {
	if f.inviteHolderFn != nil {
		return f.inviteHolderFn(ctx, projectID, userID)
	}

	return false, nil
}

func (f *fakeProjectsRepo) ResolveInviteeByEmail(ctx context.Context, email string) (string, error) {
	if f.resolveFn != nil {
		return f.resolveFn(ctx, email)
	}

	return "", user.ErrNotFound
}

func managerClaims(ownerID string) *auth.Claims {
	return &auth.Claims{UserID: ownerID, Email: "manager@example.com", Role: "manager"}
}

func newProjectsHandler(repo *fakeProjectsRepo, mailer *fakeSender, jobQueue *fakeJobQueue) *handlers.ProjectsHandler {
	return handlers.NewProjectsHandler(repo, mailer, jobQueue, config.Config{
		Env:           "test",
		PublicBaseURL: "http://localhost:8080",
	})
}

func TestCreateProjectHandler(t *testing.T) {
	ownerID := newUUID()

	tests := []struct {
		name           string
		body           string
		repoSetup      func(*fakeProjectsRepo)
		wantStatusCode int
	}{
		{
			name:           "success",
			body:           `{"name": "Website Redesign", "description": "Q4 marketing site overhaul"}`,
			wantStatusCode: http.StatusCreated,
		},
		{
			name: "duplicate_description",
			body: `{"name": "Website Redesign", "description": "Q4 marketing site overhaul"}`,
			repoSetup: func(f *fakeProjectsRepo) {
				f.createFn = func(ctx context.Context, p project.Project) (project.Project, error) {
					return project.Project{}, project.ErrDescriptionTaken
				}
			},
			wantStatusCode: http.StatusConflict,
		},
		{
			name:           "validation_error",
			body:           `{"name": "X"}`,
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name: "repo_error",
			body: `{"name": "Website Redesign", "description": "Q4 marketing site overhaul"}`,
			repoSetup: func(f *fakeProjectsRepo) {
				f.createFn = func(ctx context.Context, p project.Project) (project.Project, error) {
					return project.Project{}, errors.New("db error")
				}
			},
			wantStatusCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeProjectsRepo{}

			if tt.repoSetup != nil {
				tt.repoSetup(repo)
			}

			h := newProjectsHandler(repo, &fakeSender{}, &fakeJobQueue{})

			r := authedRouter(http.MethodPost, "/projects/create", managerClaims(ownerID), h.Create)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, authedRequest(http.MethodPost, "/projects/create", tt.body))

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}
		})
	}
}

func TestGetProjectByIDHandler(t *testing.T) {
	ownerID := newUUID()
	projectID := newUUID()

	tests := []struct {
		name           string
		repoSetup      func(*fakeProjectsRepo)
		wantStatusCode int
	}{
		{
			name: "success",
			repoSetup: func(f *fakeProjectsRepo) {
				f.getFn = func(ctx context.Context, id string) (project.Project, error) {
					return project.Project{ID: id, Name: "Website Redesign", OwnerID: ownerID}, nil
				}
			},
			wantStatusCode: http.StatusOK,
		},
		{
			name: "owned_by_someone_else",
			repoSetup: func(f *fakeProjectsRepo) {
				f.getFn = func(ctx context.Context, id string) (project.Project, error) {
					return project.Project{ID: id, Name: "Website Redesign", OwnerID: newUUID()}, nil
				}
			},
			wantStatusCode: http.StatusForbidden,
		},
		{
			name:           "not_found",
			wantStatusCode: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeProjectsRepo{}

			if tt.repoSetup != nil {
				tt.repoSetup(repo)
			}

			h := newProjectsHandler(repo, &fakeSender{}, &fakeJobQueue{})

			r := authedRouter(http.MethodGet, "/projects/:id", managerClaims(ownerID), h.GetByID)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, authedRequest(http.MethodGet, "/projects/"+projectID, ""))

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}
		})
	}
}

func TestUpdateProjectHandler_EmptyUpdateRejected(t *testing.T) {
	h := newProjectsHandler(&fakeProjectsRepo{}, &fakeSender{}, &fakeJobQueue{})

	r := authedRouter(http.MethodPatch, "/projects/update/:id", managerClaims(newUUID()), h.Update)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, authedRequest(http.MethodPatch, "/projects/update/"+newUUID(), `{}`))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want %d, body=%s", w.Code, http.StatusBadRequest, w.Body.String())
	}
}

func TestInviteHandler(t *testing.T) {
	ownerID := newUUID()
	projectID := newUUID()
	inviteeID := newUUID()

	tests := []struct {
		name           string
		repoSetup      func(*fakeProjectsRepo)
		mailErr        error
		wantStatusCode int
		wantMail       int
		wantOutbox     int
	}{
		{
			name: "success",
			repoSetup: func(f *fakeProjectsRepo) {
				f.resolveFn = func(ctx context.Context, email string) (string, error) {
					return inviteeID, nil
				}
				f.setInviteFn = func(ctx context.Context, id, owner, invited string) (project.Project, error) {
					return project.Project{ID: id, Name: "Website Redesign", OwnerID: owner, InvitedUserID: &invited}, nil
				}
			},
			wantStatusCode: http.StatusOK,
			wantMail:       1,
		},
		{
			name:           "unknown_invitee",
			wantStatusCode: http.StatusNotFound,
		},
		{
			name: "not_the_owner",
			repoSetup: func(f *fakeProjectsRepo) {
				f.resolveFn = func(ctx context.Context, email string) (string, error) {
					return inviteeID, nil
				}
				f.setInviteFn = func(ctx context.Context, id, owner, invited string) (project.Project, error) {
					return project.Project{}, project.ErrNotOwner
				}
			},
			wantStatusCode: http.StatusForbidden,
		},
		{
			name: "mail_failure_parks_retry_job",
			repoSetup: func(f *fakeProjectsRepo) {
				f.resolveFn = func(ctx context.Context, email string) (string, error) {
					return inviteeID, nil
				}
				f.setInviteFn = func(ctx context.Context, id, owner, invited string) (project.Project, error) {
					return project.Project{ID: id, Name: "Website Redesign", OwnerID: owner, InvitedUserID: &invited}, nil
				}
			},
			mailErr:        errors.New("smtp down"),
			wantStatusCode: http.StatusInternalServerError,
			wantMail:       1,
			wantOutbox:     1,
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeProjectsRepo{}

			if tt.repoSetup != nil {
				tt.repoSetup(repo)
			}

			mailer := &fakeSender{}

			if tt.mailErr != nil {
				mailer.sendFn = func(ctx context.Context, msg notifications.Message) error {
					return tt.mailErr
				}
			}

			jobQueue := &fakeJobQueue{}

			h := newProjectsHandler(repo, mailer, jobQueue)

			r := authedRouter(http.MethodPost, "/projects/invite/:id", managerClaims(ownerID), h.Invite)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, authedRequest(http.MethodPost, "/projects/invite/"+projectID, `{"email": "invitee@example.com"}`))

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}

			if len(mailer.sent) != tt.wantMail {
				t.Fatalf("expected %d mails, got %d", tt.wantMail, len(mailer.sent))
			}

			if len(jobQueue.created) != tt.wantOutbox {
				t.Fatalf("expected %d outbox jobs, got %d", tt.wantOutbox, len(jobQueue.created))
			}
		})
	}
}

func TestAcceptInviteHandler(t *testing.T) {
	callerID := newUUID()
	projectID := newUUID()

	tests := []struct {
		name           string
		repoSetup      func(*fakeProjectsRepo)
		wantStatusCode int
		wantInvited    bool
	}{
		{
			name: "invite_holder",
			repoSetup: func(f *fakeProjectsRepo) {
				f.getFn = func(ctx context.Context, id string) (project.Project, error) {
					return project.Project{ID: id, Name: "Website Redesign"}, nil
				}
				f.inviteHolderFn = func(ctx context.Context, pid, uid string) (bool, error) {
					return pid == projectID && uid == callerID, nil
				}
			},
			wantStatusCode: http.StatusOK,
			wantInvited:    true,
		},
		{
			name: "not_the_invitee",
			repoSetup: func(f *fakeProjectsRepo) {
				f.getFn = func(ctx context.Context, id string) (project.Project, error) {
					return project.Project{ID: id, Name: "Website Redesign"}, nil
				}
			},
			wantStatusCode: http.StatusOK,
			wantInvited:    false,
		},
		{
			name:           "project_missing",
			wantStatusCode: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeProjectsRepo{}

			if tt.repoSetup != nil {
				tt.repoSetup(repo)
			}

			h := newProjectsHandler(repo, &fakeSender{}, &fakeJobQueue{})

			claims := &auth.Claims{UserID: callerID, Email: "worker@example.com", Role: "user"}
			r := authedRouter(http.MethodGet, "/projects/accept-invite/:projectId", claims, h.AcceptInvite)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, authedRequest(http.MethodGet, "/projects/accept-invite/"+projectID, ""))

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}

			if tt.wantStatusCode != http.StatusOK {
				return
			}

			var resp struct {
				Invited bool `json:"invited"`
			}

			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}

			if resp.Invited != tt.wantInvited {
				t.Fatalf("got invited=%v, want %v", resp.Invited, tt.wantInvited)
			}
		})
	}
}

func TestListOwnedProjects_CacheHit(t *testing.T) {
	ownerID := newUUID()

	calls := 0

	repo := &fakeProjectsRepo{
		listByOwnerFn: func(ctx context.Context, owner string) ([]project.Project, error) {
			calls++
			return []project.Project{
				{ID: newUUID(), Name: "Website Redesign", OwnerID: owner, CreatedAt: time.Now().UTC()},
			}, nil
		},
	}

	h := newProjectsHandler(repo, &fakeSender{}, &fakeJobQueue{})

	r := authedRouter(http.MethodGet, "/projects", managerClaims(ownerID), h.ListOwned)

	// First request: cache miss -> repo called
	w1 := httptest.NewRecorder()
	r.ServeHTTP(w1, authedRequest(http.MethodGet, "/projects", ""))

	if w1.Code != http.StatusOK {
		t.Fatalf("first call got %d body=%s", w1.Code, w1.Body.String())
	}

	// Second request: cache hit -> repo should NOT be called again
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, authedRequest(http.MethodGet, "/projects", ""))

	if w2.Code != http.StatusOK {
		t.Fatalf("second call got %d body=%s", w2.Code, w2.Body.String())
	}

	if calls != 1 {
		t.Fatalf("expected repo calls=1, got %d", calls)
	}
}

func TestListOwnedByHandler(t *testing.T) {
	managerID := newUUID()
	targetID := newUUID()

	repo := &fakeProjectsRepo{
		listByOwnerFn: func(ctx context.Context, ownerID string) ([]project.Project, error) {
			if ownerID != targetID {
				t.Fatalf("expected owner %q from the route, got %q", targetID, ownerID)
			}
			return []project.Project{
				{ID: newUUID(), Name: "Launch", OwnerID: ownerID},
			}, nil
		},
	}

	h := newProjectsHandler(repo, &fakeSender{}, &fakeJobQueue{})

	r := authedRouter(http.MethodGet, "/projects/manager/:managerId", managerClaims(managerID), h.ListOwnedBy)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, authedRequest(http.MethodGet, "/projects/manager/"+targetID, ""))

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
	}

	var resp struct {
		Total int `json:"total"`
	}

	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if resp.Total != 1 {
		t.Fatalf("got total=%d, want 1", resp.Total)
	}
}

func TestProjectCountHandler(t *testing.T) {
	ownerID := newUUID()

	repo := &fakeProjectsRepo{
		countFn: func(ctx context.Context, owner string) (int, error) {
			return 7, nil
		},
	}

	h := newProjectsHandler(repo, &fakeSender{}, &fakeJobQueue{})

	r := authedRouter(http.MethodGet, "/projects/count", managerClaims(ownerID), h.Count)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, authedRequest(http.MethodGet, "/projects/count", ""))

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
	}

	var resp struct {
		ProjectCount int `json:"projectCount"`
	}

	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if resp.ProjectCount != 7 {
		t.Fatalf("got projectCount=%d, want 7", resp.ProjectCount)
	}
}
