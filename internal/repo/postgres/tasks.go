package postgres

import (
	"context"
	"errors"

	"github.com/geocoder89/taskhub/internal/domain/project"
	"github.com/geocoder89/taskhub/internal/domain/task"
	"github.com/geocoder89/taskhub/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const taskColumns = `id, name, description, status, project_id, assigned_user_id, created_at, updated_at`

type TasksRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewTasksRepo(pool *pgxpool.Pool, prom *observability.Prom) *TasksRepo {
	return &TasksRepo{pool: pool, prom: prom}
}

func (repo *TasksRepo) observe(op string, fn func() error) error {
	if repo.prom != nil {
		return repo.prom.ObserveDB(op, fn)
	}
	return fn()
}

func scanTask(row pgx.Row) (task.Task, error) {
	var t task.Task
	var status string

	err := row.Scan(
		&t.ID,
		&t.Name,
		&t.Description,
		&status,
		&t.ProjectID,
		&t.AssignedUserID,
		&t.CreatedAt,
		&t.UpdatedAt,
	)

	t.Status = task.Status(status)

	return t, err
}

// Create inserts a task after verifying, under a row lock, that the target
// project exists and belongs to the caller.
func (repo *TasksRepo) Create(ctx context.Context, t task.Task, ownerID string) (created task.Task, err error) {
	tx, err := repo.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var dbOwner string

	err = repo.observe("tasks.create.project_lock", func() error {
		return tx.QueryRow(ctx,
			`SELECT owner_id FROM projects WHERE id = $1 FOR UPDATE`, t.ProjectID).Scan(&dbOwner)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = project.ErrNotFound
		}
		return
	}

	if dbOwner != ownerID {
		err = task.ErrNotOwner
		return
	}

	err = repo.observe("tasks.create.insert", func() error {
		_, e := tx.Exec(ctx, `
			INSERT INTO tasks (id, name, description, status, project_id, assigned_user_id, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, t.ID, t.Name, t.Description, string(t.Status), t.ProjectID, t.AssignedUserID, t.CreatedAt, t.UpdatedAt)
		return e
	})

	if err != nil {
		return
	}

	err = tx.Commit(ctx)

	if err != nil {
		return
	}

	created = t
	return
}

func (repo *TasksRepo) GetByID(ctx context.Context, id string) (task.Task, error) {
	var t task.Task
	var err error

	op := "tasks.get_by_id"

	err = repo.observe(op, func() error {
		var e error
		t, e = scanTask(repo.pool.QueryRow(ctx,
			`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
		return e
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return task.Task{}, task.ErrNotFound
		}
		return task.Task{}, err
	}

	return t, nil
}

// lockOwnedTx locks a task row (and the owning project row via the join) and
// checks the caller owns the project, inside the given transaction.
func (repo *TasksRepo) lockOwnedTx(ctx context.Context, tx pgx.Tx, taskID, projectID, ownerID string) error {
	var dbOwner string

	err := repo.observe("tasks.lock_owned", func() error {
		return tx.QueryRow(ctx, `
			SELECT p.owner_id
			FROM tasks t
			JOIN projects p ON p.id = t.project_id
			WHERE t.id = $1 AND t.project_id = $2
			FOR UPDATE OF t, p
		`, taskID, projectID).Scan(&dbOwner)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return task.ErrNotFound
		}
		return err
	}

	if dbOwner != ownerID {
		return task.ErrNotOwner
	}

	return nil
}

func (repo *TasksRepo) UpdateOwned(ctx context.Context, taskID, projectID, ownerID string, req task.UpdateTaskRequest) (t task.Task, err error) {
	tx, err := repo.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	err = repo.lockOwnedTx(ctx, tx, taskID, projectID, ownerID)

	if err != nil {
		return
	}

	err = repo.observe("tasks.update_owned", func() error {
		var e error
		t, e = scanTask(tx.QueryRow(ctx, `
			UPDATE tasks
			SET name        = COALESCE($2, name),
			    description = COALESCE($3, description),
			    status      = COALESCE($4, status),
			    updated_at  = NOW()
			WHERE id = $1
			RETURNING `+taskColumns,
			taskID, req.Name, req.Description, (*string)(req.Status)))
		return e
	})

	if err != nil {
		return
	}

	err = tx.Commit(ctx)

	return
}

func (repo *TasksRepo) DeleteOwned(ctx context.Context, taskID, projectID, ownerID string) (err error) {
	tx, err := repo.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	err = repo.lockOwnedTx(ctx, tx, taskID, projectID, ownerID)

	if err != nil {
		return
	}

	err = repo.observe("tasks.delete_owned", func() error {
		_, e := tx.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, taskID)
		return e
	})

	if err != nil {
		return
	}

	err = tx.Commit(ctx)

	return
}

// Assign puts the task in the hands of the user holding the project's invite
// slot. The assignee email must match the invited account; anything else is
// reported as task.ErrNoInvite without leaking which check failed.
func (repo *TasksRepo) Assign(ctx context.Context, taskID, projectID, ownerID, assigneeEmail string) (t task.Task, err error) {
	tx, err := repo.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	err = repo.lockOwnedTx(ctx, tx, taskID, projectID, ownerID)

	if err != nil {
		return
	}

	var assigneeID string

	err = repo.observe("tasks.assign.invite_check", func() error {
		return tx.QueryRow(ctx, `
			SELECT u.id
			FROM projects p
			JOIN users u ON u.id = p.invited_user_id
			WHERE p.id = $1 AND u.email = $2
		`, projectID, assigneeEmail).Scan(&assigneeID)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = task.ErrNoInvite
		}
		return
	}

	err = repo.observe("tasks.assign.update", func() error {
		var e error
		t, e = scanTask(tx.QueryRow(ctx, `
			UPDATE tasks
			SET assigned_user_id = $2,
			    updated_at = NOW()
			WHERE id = $1
			RETURNING `+taskColumns,
			taskID, assigneeID))
		return e
	})

	if err != nil {
		return
	}

	err = tx.Commit(ctx)

	return
}

// ChangeStatusAssigned flips the status of a task, but only for the user it
// is currently assigned to. The row lock keeps a concurrent reassignment
// from slipping between the check and the update.
func (repo *TasksRepo) ChangeStatusAssigned(ctx context.Context, taskID, userID string, status task.Status) (t task.Task, err error) {
	tx, err := repo.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var assigned *string

	err = repo.observe("tasks.change_status.lock", func() error {
		return tx.QueryRow(ctx,
			`SELECT assigned_user_id FROM tasks WHERE id = $1 FOR UPDATE`, taskID).Scan(&assigned)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = task.ErrNotFound
		}
		return
	}

	if assigned == nil || *assigned != userID {
		err = task.ErrNotAssignee
		return
	}

	err = repo.observe("tasks.change_status.update", func() error {
		var e error
		t, e = scanTask(tx.QueryRow(ctx, `
			UPDATE tasks
			SET status = $2,
			    updated_at = NOW()
			WHERE id = $1
			RETURNING `+taskColumns,
			taskID, string(status)))
		return e
	})

	if err != nil {
		return
	}

	err = tx.Commit(ctx)

	return
}

func (repo *TasksRepo) listQuery(ctx context.Context, op, where string, args ...any) (tasks []task.Task, err error) {
	var rows pgx.Rows

	err = repo.observe(op, func() error {
		rows, err = repo.pool.Query(ctx,
			`SELECT `+taskColumns+`
			 FROM tasks
			 WHERE `+where+`
			 ORDER BY created_at ASC, id ASC`, args...)
		return err
	})

	if err != nil {
		return
	}

	defer rows.Close()

	tasks = make([]task.Task, 0)

	for rows.Next() {
		var t task.Task
		var status string

		e := rows.Scan(&t.ID, &t.Name, &t.Description, &status, &t.ProjectID, &t.AssignedUserID, &t.CreatedAt, &t.UpdatedAt)

		if e != nil {
			err = e
			return
		}

		t.Status = task.Status(status)
		tasks = append(tasks, t)
	}

	e := rows.Err()

	if e != nil {
		if repo.prom != nil {
			repo.prom.DbErrorsTotal.WithLabelValues(op, "rows_err").Inc()
		}
		err = e
		return
	}

	return
}

func (repo *TasksRepo) ListByProject(ctx context.Context, projectID string) ([]task.Task, error) {
	return repo.listQuery(ctx, "tasks.list_by_project", "project_id = $1", projectID)
}

// ListAssigned returns a user's tasks; an empty projectID means across all
// projects.
func (repo *TasksRepo) ListAssigned(ctx context.Context, projectID, userID string) ([]task.Task, error) {
	if projectID == "" {
		return repo.listQuery(ctx, "tasks.list_assigned", "assigned_user_id = $1", userID)
	}

	return repo.listQuery(ctx, "tasks.list_assigned_in_project",
		"project_id = $1 AND assigned_user_id = $2", projectID, userID)
}

func (repo *TasksRepo) CountAssigned(ctx context.Context, projectID, userID string) (int, error) {
	op := "tasks.count_assigned"
	var total int

	err := repo.observe(op, func() error {
		if projectID == "" {
			return repo.pool.QueryRow(ctx,
				`SELECT COUNT(*) FROM tasks WHERE assigned_user_id = $1`, userID).Scan(&total)
		}

		return repo.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM tasks WHERE project_id = $1 AND assigned_user_id = $2`,
			projectID, userID).Scan(&total)
	})

	return total, err
}
