package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/geocoder89/taskhub/internal/auth"
	"github.com/geocoder89/taskhub/internal/domain/project"
	"github.com/geocoder89/taskhub/internal/domain/task"
	"github.com/geocoder89/taskhub/internal/http/handlers"
)

type fakeTasksRepo struct {
	createFn        func(ctx context.Context, t task.Task, ownerID string) (task.Task, error)
	getFn           func(ctx context.Context, id string) (task.Task, error)
	updateFn        func(ctx context.Context, taskID, projectID, ownerID string, req task.UpdateTaskRequest) (task.Task, error)
	deleteFn        func(ctx context.Context, taskID, projectID, ownerID string) error
	assignFn        func(ctx context.Context, taskID, projectID, ownerID, assigneeEmail string) (task.Task, error)
	changeStatusFn  func(ctx context.Context, taskID, userID string, status task.Status) (task.Task, error)
	listByProjectFn func(ctx context.Context, projectID string) ([]task.Task, error)
	listAssignedFn  func(ctx context.Context, projectID, userID string) ([]task.Task, error)
	countAssignedFn func(ctx context.Context, projectID, userID string) (int, error)
}

func (f *fakeTasksRepo) Create(ctx context.Context, t task.Task, ownerID string) (task.Task, error) {
	if f.createFn != nil {
		return f.createFn(ctx, t, ownerID)
	}

	return t, nil
}

func (f *fakeTasksRepo) GetByID(ctx context.Context, id string) (task.Task, error) {
	if f.getFn != nil {
		return f.getFn(ctx, id)
	}

	return task.Task{}, task.ErrNotFound
}

func (f *fakeTasksRepo) UpdateOwned(ctx context.Context, taskID, projectID, ownerID string, req task.UpdateTaskRequest) (task.Task, error) {
	if f.updateFn != nil {
		return f.updateFn(ctx, taskID, projectID, ownerID, req)
	}

	return task.Task{}, task.ErrNotFound
}

func (f *fakeTasksRepo) DeleteOwned(ctx context.Context, taskID, projectID, ownerID string) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, taskID, projectID, ownerID)
	}

	return nil
}

func (f *fakeTasksRepo) Assign(ctx context.Context, taskID, projectID, ownerID, assigneeEmail string) (task.Task, error) {
	if f.assignFn != nil {
		return f.assignFn(ctx, taskID, projectID, ownerID, assigneeEmail)
	}

	return task.Task{}, task.ErrNotFound
}

func (f *fakeTasksRepo) ChangeStatusAssigned(ctx context.Context, taskID, userID string, status task.Status) (task.Task, error) {
	if f.changeStatusFn != nil {
		return f.changeStatusFn(ctx, taskID, userID, status)
	}

	return task.Task{}, task.ErrNotFound
}

func (f *fakeTasksRepo) ListByProject(ctx context.Context, projectID string) ([]task.Task, error) {
	if f.listByProjectFn != nil {
		return f.listByProjectFn(ctx, projectID)
	}

	return nil, nil
}

func (f *fakeTasksRepo) ListAssigned(ctx context.Context, projectID, userID string) ([]task.Task, error) {
	if f.listAssignedFn != nil {
		return f.listAssignedFn(ctx, projectID, userID)
	}

	return nil, nil
}

func (f *fakeTasksRepo) CountAssigned(ctx context.Context, projectID, userID string) (int, error) {
	if f.countAssignedFn != nil {
		return f.countAssignedFn(ctx, projectID, userID)
	}

	return 0, nil
}

func TestCreateTaskHandler(t *testing.T) {
	ownerID := newUUID()
	projectID := newUUID()

	tests := []struct {
		name           string
		body           string
		repoSetup      func(*fakeTasksRepo)
		wantStatusCode int
	}{
		{
			name: "success",
			body: `{"name": "Design mockups", "description": "Homepage and pricing page"}`,
			repoSetup: func(f *fakeTasksRepo) {
				f.createFn = func(ctx context.Context, tk task.Task, owner string) (task.Task, error) {
					if tk.Status != task.StatusToDo {
						t.Fatalf("new task should start as TO_DO, got %s", tk.Status)
					}
					return tk, nil
				}
			},
			wantStatusCode: http.StatusCreated,
		},
		{
			name: "project_not_found",
			body: `{"name": "Design mockups", "description": "Homepage and pricing page"}`,
			repoSetup: func(f *fakeTasksRepo) {
				f.createFn = func(ctx context.Context, tk task.Task, owner string) (task.Task, error) {
					return task.Task{}, project.ErrNotFound
				}
			},
			wantStatusCode: http.StatusNotFound,
		},
		{
			name: "project_owned_by_someone_else",
			body: `{"name": "Design mockups", "description": "Homepage and pricing page"}`,
			repoSetup: func(f *fakeTasksRepo) {
				f.createFn = func(ctx context.Context, tk task.Task, owner string) (task.Task, error) {
					return task.Task{}, task.ErrNotOwner
				}
			},
			wantStatusCode: http.StatusForbidden,
		},
		{
			name:           "validation_error",
			body:           `{"description": "no name"}`,
			wantStatusCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeTasksRepo{}

			if tt.repoSetup != nil {
				tt.repoSetup(repo)
			}

			h := handlers.NewTasksHandler(repo, &fakeProjectsRepo{})

			r := authedRouter(http.MethodPost, "/tasks/create-task/:projectId", managerClaims(ownerID), h.Create)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, authedRequest(http.MethodPost, "/tasks/create-task/"+projectID, tt.body))

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}
		})
	}
}

func TestAssignTaskHandler(t *testing.T) {
	ownerID := newUUID()
	projectID := newUUID()
	taskID := newUUID()

	tests := []struct {
		name           string
		repoSetup      func(*fakeTasksRepo)
		wantStatusCode int
	}{
		{
			name: "success",
			repoSetup: func(f *fakeTasksRepo) {
				f.assignFn = func(ctx context.Context, tid, pid, owner, email string) (task.Task, error) {
					assignee := newUUID()
					return task.Task{ID: tid, ProjectID: pid, AssignedUserID: &assignee}, nil
				}
			},
			wantStatusCode: http.StatusOK,
		},
		{
			name: "email_without_invite",
			repoSetup: func(f *fakeTasksRepo) {
				f.assignFn = func(ctx context.Context, tid, pid, owner, email string) (task.Task, error) {
					return task.Task{}, task.ErrNoInvite
				}
			},
			wantStatusCode: http.StatusNotFound,
		},
		{
			name: "not_the_owner",
			repoSetup: func(f *fakeTasksRepo) {
				f.assignFn = func(ctx context.Context, tid, pid, owner, email string) (task.Task, error) {
					return task.Task{}, task.ErrNotOwner
				}
			},
			wantStatusCode: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeTasksRepo{}

			if tt.repoSetup != nil {
				tt.repoSetup(repo)
			}

			h := handlers.NewTasksHandler(repo, &fakeProjectsRepo{})

			r := authedRouter(http.MethodPatch, "/tasks/assign-task/:projectId/:taskId", managerClaims(ownerID), h.Assign)

			url := "/tasks/assign-task/" + projectID + "/" + taskID

			w := httptest.NewRecorder()
			r.ServeHTTP(w, authedRequest(http.MethodPatch, url, `{"email": "worker@example.com"}`))

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}
		})
	}
}

func TestChangeStatusHandler(t *testing.T) {
	callerID := newUUID()
	taskID := newUUID()

	claims := &auth.Claims{UserID: callerID, Email: "worker@example.com", Role: "user"}

	tests := []struct {
		name           string
		body           string
		repoSetup      func(*fakeTasksRepo)
		wantStatusCode int
	}{
		{
			name: "success",
			body: `{"status": "IN_PROGRESS"}`,
			repoSetup: func(f *fakeTasksRepo) {
				f.changeStatusFn = func(ctx context.Context, tid, uid string, status task.Status) (task.Task, error) {
					if status != task.StatusInProgress {
						t.Fatalf("got status %s, want IN_PROGRESS", status)
					}
					return task.Task{ID: tid, Status: status, AssignedUserID: &uid}, nil
				}
			},
			wantStatusCode: http.StatusOK,
		},
		{
			name: "assigned_to_someone_else",
			body: `{"status": "DONE"}`,
			repoSetup: func(f *fakeTasksRepo) {
				f.changeStatusFn = func(ctx context.Context, tid, uid string, status task.Status) (task.Task, error) {
					return task.Task{}, task.ErrNotAssignee
				}
			},
			wantStatusCode: http.StatusForbidden,
		},
		{
			name:           "unknown_status_value",
			body:           `{"status": "SHIPPED"}`,
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name:           "task_missing",
			body:           `{"status": "DONE"}`,
			wantStatusCode: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeTasksRepo{}

			if tt.repoSetup != nil {
				tt.repoSetup(repo)
			}

			h := handlers.NewTasksHandler(repo, &fakeProjectsRepo{})

			r := authedRouter(http.MethodPatch, "/tasks/change-status/:taskId", claims, h.ChangeStatus)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, authedRequest(http.MethodPatch, "/tasks/change-status/"+taskID, tt.body))

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}
		})
	}
}

func TestListProjectTasksHandler(t *testing.T) {
	ownerID := newUUID()
	projectID := newUUID()

	tests := []struct {
		name           string
		projects       func(*fakeProjectsRepo)
		wantStatusCode int
		wantTotal      int
	}{
		{
			name: "success",
			projects: func(f *fakeProjectsRepo) {
				f.getFn = func(ctx context.Context, id string) (project.Project, error) {
					return project.Project{ID: id, OwnerID: ownerID}, nil
				}
			},
			wantStatusCode: http.StatusOK,
			wantTotal:      2,
		},
		{
			name: "project_owned_by_someone_else",
			projects: func(f *fakeProjectsRepo) {
				f.getFn = func(ctx context.Context, id string) (project.Project, error) {
					return project.Project{ID: id, OwnerID: newUUID()}, nil
				}
			},
			wantStatusCode: http.StatusForbidden,
		},
		{
			name:           "project_missing",
			wantStatusCode: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			projectsRepo := &fakeProjectsRepo{}

			if tt.projects != nil {
				tt.projects(projectsRepo)
			}

			tasksRepo := &fakeTasksRepo{
				listByProjectFn: func(ctx context.Context, pid string) ([]task.Task, error) {
					return []task.Task{
						{ID: newUUID(), Name: "Design mockups", ProjectID: pid, Status: task.StatusToDo},
						{ID: newUUID(), Name: "Build homepage", ProjectID: pid, Status: task.StatusInProgress},
					}, nil
				},
			}

			h := handlers.NewTasksHandler(tasksRepo, projectsRepo)

			r := authedRouter(http.MethodGet, "/tasks/project-tasks/:projectId", managerClaims(ownerID), h.ListByProject)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, authedRequest(http.MethodGet, "/tasks/project-tasks/"+projectID, ""))

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}

			if tt.wantStatusCode != http.StatusOK {
				return
			}

			var resp struct {
				Total int `json:"total"`
			}

			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}

			if resp.Total != tt.wantTotal {
				t.Fatalf("got total=%d, want %d", resp.Total, tt.wantTotal)
			}
		})
	}
}

func TestGetTaskByIDHandler(t *testing.T) {
	ownerID := newUUID()
	assigneeID := newUUID()
	taskID := newUUID()
	projectID := newUUID()

	taskRecord := func() (task.Task, error) {
		assigned := assigneeID
		return task.Task{ID: taskID, Name: "Design mockups", ProjectID: projectID, AssignedUserID: &assigned}, nil
	}

	tests := []struct {
		name           string
		claims         *auth.Claims
		wantStatusCode int
	}{
		{
			name:           "assignee_reads_own_task",
			claims:         &auth.Claims{UserID: assigneeID, Role: "user"},
			wantStatusCode: http.StatusOK,
		},
		{
			name:           "owner_reads_project_task",
			claims:         managerClaims(ownerID),
			wantStatusCode: http.StatusOK,
		},
		{
			name:           "stranger_rejected",
			claims:         &auth.Claims{UserID: newUUID(), Role: "user"},
			wantStatusCode: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			tasksRepo := &fakeTasksRepo{
				getFn: func(ctx context.Context, id string) (task.Task, error) {
					return taskRecord()
				},
			}

			projectsRepo := &fakeProjectsRepo{
				getFn: func(ctx context.Context, id string) (project.Project, error) {
					return project.Project{ID: id, OwnerID: ownerID}, nil
				},
			}

			h := handlers.NewTasksHandler(tasksRepo, projectsRepo)

			r := authedRouter(http.MethodGet, "/tasks/:taskId", tt.claims, h.GetByID)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, authedRequest(http.MethodGet, "/tasks/"+taskID, ""))

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}
		})
	}

	t.Run("task_missing", func(t *testing.T) {
		h := handlers.NewTasksHandler(&fakeTasksRepo{}, &fakeProjectsRepo{})

		r := authedRouter(http.MethodGet, "/tasks/:taskId", managerClaims(ownerID), h.GetByID)

		w := httptest.NewRecorder()
		r.ServeHTTP(w, authedRequest(http.MethodGet, "/tasks/"+newUUID(), ""))

		if w.Code != http.StatusNotFound {
			t.Fatalf("got status %d, want %d, body=%s", w.Code, http.StatusNotFound, w.Body.String())
		}
	})
}

func TestListAssignedScopedToProject(t *testing.T) {
	callerID := newUUID()
	projectID := newUUID()

	repo := &fakeTasksRepo{
		listAssignedFn: func(ctx context.Context, pid, uid string) ([]task.Task, error) {
			if pid != projectID {
				t.Fatalf("project filter not passed through, got %q", pid)
			}
			if uid != callerID {
				t.Fatalf("caller id not passed through, got %q", uid)
			}
			return []task.Task{{ID: newUUID(), ProjectID: pid, Status: task.StatusToDo}}, nil
		},
	}

	h := handlers.NewTasksHandler(repo, &fakeProjectsRepo{})

	claims := &auth.Claims{UserID: callerID, Email: "worker@example.com", Role: "user"}
	r := authedRouter(http.MethodGet, "/tasks/get-assigned-tasks/:projectId", claims, h.ListAssigned)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, authedRequest(http.MethodGet, "/tasks/get-assigned-tasks/"+projectID, ""))

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

func TestCountAssignedHandler(t *testing.T) {
	callerID := newUUID()

	repo := &fakeTasksRepo{
		countAssignedFn: func(ctx context.Context, pid, uid string) (int, error) {
			if pid != "" {
				t.Fatalf("expected no project filter on the global count, got %q", pid)
			}
			return 3, nil
		},
	}

	h := handlers.NewTasksHandler(repo, &fakeProjectsRepo{})

	claims := &auth.Claims{UserID: callerID, Email: "worker@example.com", Role: "user"}
	r := authedRouter(http.MethodGet, "/tasks/assigned/count", claims, h.CountAssigned)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, authedRequest(http.MethodGet, "/tasks/assigned/count", ""))

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
	}

	var resp struct {
		TaskCount int `json:"taskCount"`
	}

	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if resp.TaskCount != 3 {
		t.Fatalf("got taskCount=%d, want 3", resp.TaskCount)
	}
}
