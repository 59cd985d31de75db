package postgres

import (
	"context"
	"errors"

	"github.com/geocoder89/taskhub/internal/domain/project"
	"github.com/geocoder89/taskhub/internal/domain/user"
	"github.com/geocoder89/taskhub/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const projectColumns = `id, name, description, owner_id, invited_user_id, created_at, updated_at`

type ProjectsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewProjectsRepo(pool *pgxpool.Pool, prom *observability.Prom) *ProjectsRepo {
	return &ProjectsRepo{pool: pool, prom: prom}
}

func (repo *ProjectsRepo) observe(op string, fn func() error) error {
	if repo.prom != nil {
		return repo.prom.ObserveDB(op, fn)
	}
	return fn()
}

func scanProject(row pgx.Row) (project.Project, error) {
	var p project.Project

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.OwnerID,
		&p.InvitedUserID,
		&p.CreatedAt,
		&p.UpdatedAt,
	)

	return p, err
}

func (repo *ProjectsRepo) Create(ctx context.Context, p project.Project) (project.Project, error) {
	op := "projects.create"

	err := repo.observe(op, func() error {
		_, e := repo.pool.Exec(ctx, `
			INSERT INTO projects (id, name, description, owner_id, invited_user_id, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, p.ID, p.Name, p.Description, p.OwnerID, p.InvitedUserID, p.CreatedAt, p.UpdatedAt)
		return e
	})

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return project.Project{}, project.ErrDescriptionTaken
		}
		return project.Project{}, err
	}

	return p, nil
}

func (repo *ProjectsRepo) GetByID(ctx context.Context, id string) (project.Project, error) {
	var p project.Project
	var err error

	op := "projects.get_by_id"

	err = repo.observe(op, func() error {
		var e error
		p, e = scanProject(repo.pool.QueryRow(ctx,
			`SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
		return e
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return project.Project{}, project.ErrNotFound
		}
		return project.Project{}, err
	}

	return p, nil
}

// lockOwnedTx locks the project row and verifies ownership inside the
// caller's transaction, so the ownership check and the mutation cannot be
// split by a concurrent writer.
func (repo *ProjectsRepo) lockOwnedTx(ctx context.Context, tx pgx.Tx, id, ownerID string) error {
	var dbOwner string

	err := repo.observe("projects.lock_owned", func() error {
		return tx.QueryRow(ctx,
			`SELECT owner_id FROM projects WHERE id = $1 FOR UPDATE`, id).Scan(&dbOwner)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return project.ErrNotFound
		}
		return err
	}

	if dbOwner != ownerID {
		return project.ErrNotOwner
	}

	return nil
}

func (repo *ProjectsRepo) UpdateOwned(ctx context.Context, id, ownerID string, req project.UpdateProjectRequest) (p project.Project, err error) {
	tx, err := repo.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	err = repo.lockOwnedTx(ctx, tx, id, ownerID)

	if err != nil {
		return
	}

	err = repo.observe("projects.update_owned", func() error {
		var e error
		p, e = scanProject(tx.QueryRow(ctx, `
			UPDATE projects
			SET name        = COALESCE($2, name),
			    description = COALESCE($3, description),
			    updated_at  = NOW()
			WHERE id = $1
			RETURNING `+projectColumns,
			id, req.Name, req.Description))
		return e
	})

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			err = project.ErrDescriptionTaken
		}
		return
	}

	err = tx.Commit(ctx)

	return
}

func (repo *ProjectsRepo) DeleteOwned(ctx context.Context, id, ownerID string) (err error) {
	tx, err := repo.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	err = repo.lockOwnedTx(ctx, tx, id, ownerID)

	if err != nil {
		return
	}

	err = repo.observe("projects.delete_owned", func() error {
		_, e := tx.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
		return e
	})

	if err != nil {
		return
	}

	err = tx.Commit(ctx)

	return
}

// SetInvite places the invited user into the project's single invite slot.
// A later invite simply overwrites an earlier one.
func (repo *ProjectsRepo) SetInvite(ctx context.Context, id, ownerID, invitedUserID string) (p project.Project, err error) {
	tx, err := repo.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	err = repo.lockOwnedTx(ctx, tx, id, ownerID)

	if err != nil {
		return
	}

	err = repo.observe("projects.set_invite", func() error {
		var e error
		p, e = scanProject(tx.QueryRow(ctx, `
			UPDATE projects
			SET invited_user_id = $2,
			    updated_at = NOW()
			WHERE id = $1
			RETURNING `+projectColumns,
			id, invitedUserID))
		return e
	})

	if err != nil {
		return
	}

	err = tx.Commit(ctx)

	return
}

func (repo *ProjectsRepo) listQuery(ctx context.Context, op, where string, arg any) (projects []project.Project, err error) {
	var rows pgx.Rows

	err = repo.observe(op, func() error {
		rows, err = repo.pool.Query(ctx,
			`SELECT `+projectColumns+`
			 FROM projects
			 WHERE `+where+`
			 ORDER BY created_at ASC, id ASC`, arg)
		return err
	})

	if err != nil {
		return
	}

	defer rows.Close()

	projects = make([]project.Project, 0)

	for rows.Next() {
		var p project.Project

		e := rows.Scan(&p.ID, &p.Name, &p.Description, &p.OwnerID, &p.InvitedUserID, &p.CreatedAt, &p.UpdatedAt)

		if e != nil {
			err = e
			return
		}
		projects = append(projects, p)
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

func (repo *ProjectsRepo) ListByOwner(ctx context.Context, ownerID string) ([]project.Project, error) {
	return repo.listQuery(ctx, "projects.list_by_owner", "owner_id = $1", ownerID)
}

func (repo *ProjectsRepo) ListByInvitedUser(ctx context.Context, userID string) ([]project.Project, error) {
	return repo.listQuery(ctx, "projects.list_by_invited_user", "invited_user_id = $1", userID)
}

func (repo *ProjectsRepo) CountByOwner(ctx context.Context, ownerID string) (int, error) {
	op := "projects.count_by_owner"
	var total int

	err := repo.observe(op, func() error {
		return repo.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM projects WHERE owner_id = $1`, ownerID).Scan(&total)
	})

	return total, err
}

// InviteHolder reports whether the given user currently holds the invite
// slot of the given project. Used by the invite acceptance flow.
func (repo *ProjectsRepo) InviteHolder(ctx context.Context, projectID, userID string) (bool, error) {
	op := "projects.invite_holder"
	var held bool

	err := repo.observe(op, func() error {
		return repo.pool.QueryRow(ctx, `
			SELECT EXISTS(
				SELECT 1 FROM projects
				WHERE id = $1 AND invited_user_id = $2
			)
		`, projectID, userID).Scan(&held)
	})

	return held, err
}

// ResolveInviteeByEmail maps an invitee email to a verified user account.
func (repo *ProjectsRepo) ResolveInviteeByEmail(ctx context.Context, email string) (string, error) {
	op := "projects.resolve_invitee"
	var userID string

	err := repo.observe(op, func() error {
		return repo.pool.QueryRow(ctx,
			`SELECT id FROM users WHERE email = $1`, email).Scan(&userID)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", user.ErrNotFound
		}
		return "", err
	}

	return userID, nil
}
