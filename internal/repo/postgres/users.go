package postgres

import (
	"context"
	"errors"

	"github.com/geocoder89/taskhub/internal/domain/user"
	"github.com/geocoder89/taskhub/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `id, first_name, last_name, email, password_hash, role, is_verified, is_blocked, created_at, updated_at`

type UsersRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewUsersRepo(pool *pgxpool.Pool, prom *observability.Prom) *UsersRepo {
	return &UsersRepo{pool: pool, prom: prom}
}

func (repo *UsersRepo) observe(op string, fn func() error) error {
	if repo.prom != nil {
		return repo.prom.ObserveDB(op, fn)
	}
	return fn()
}

func scanUser(row pgx.Row) (user.User, error) {
	var u user.User

	err := row.Scan(
		&u.ID,
		&u.FirstName,
		&u.LastName,
		&u.Email,
		&u.PasswordHash,
		&u.Role,
		&u.IsVerified,
		&u.IsBlocked,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, err
}

func (repo *UsersRepo) Create(ctx context.Context, u user.User) (user.User, error) {
	op := "users.create"

	err := repo.observe(op, func() error {
		_, e := repo.pool.Exec(ctx, `
			INSERT INTO users (id, first_name, last_name, email, password_hash, role, is_verified, is_blocked, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, u.ID, u.FirstName, u.LastName, u.Email, u.PasswordHash, string(u.Role), u.IsVerified, u.IsBlocked, u.CreatedAt, u.UpdatedAt)
		return e
	})

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return user.User{}, user.ErrEmailTaken
		}
		return user.User{}, err
	}

	return u, nil
}

func (repo *UsersRepo) GetByEmail(ctx context.Context, email string) (user.User, error) {
	var u user.User
	var err error

	op := "users.get_by_email"

	err = repo.observe(op, func() error {
		var e error
		u, e = scanUser(repo.pool.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE email = $1`, email))
		return e
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, err
	}

	return u, nil
}

func (repo *UsersRepo) GetByID(ctx context.Context, id string) (user.User, error) {
	var u user.User
	var err error

	op := "users.get_by_id"

	err = repo.observe(op, func() error {
		var e error
		u, e = scanUser(repo.pool.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
		return e
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, err
	}

	return u, nil
}

func (repo *UsersRepo) EmailExists(ctx context.Context, email string) (bool, error) {
	op := "users.email_exists"
	var exists bool

	err := repo.observe(op, func() error {
		return repo.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`, email).Scan(&exists)
	})

	return exists, err
}

// UpdateProfile only touches the fields that were provided; absent fields keep
// their stored value.
func (repo *UsersRepo) UpdateProfile(ctx context.Context, id string, req user.UpdateProfileRequest) (user.User, error) {
	var u user.User
	var err error

	op := "users.update_profile"

	err = repo.observe(op, func() error {
		var e error
		u, e = scanUser(repo.pool.QueryRow(ctx, `
			UPDATE users
			SET first_name = COALESCE($2, first_name),
			    last_name  = COALESCE($3, last_name),
			    updated_at = NOW()
			WHERE id = $1
			RETURNING `+userColumns,
			id, req.FirstName, req.LastName))
		return e
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, err
	}

	return u, nil
}

func (repo *UsersRepo) SetBlocked(ctx context.Context, id string, blocked bool) (user.User, error) {
	var u user.User
	var err error

	op := "users.set_blocked"

	err = repo.observe(op, func() error {
		var e error
		u, e = scanUser(repo.pool.QueryRow(ctx, `
			UPDATE users
			SET is_blocked = $2,
			    updated_at = NOW()
			WHERE id = $1
			RETURNING `+userColumns,
			id, blocked))
		return e
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, err
	}

	return u, nil
}

func (repo *UsersRepo) SetVerified(ctx context.Context, id string) error {
	var tag pgconn.CommandTag
	var err error

	op := "users.set_verified"

	err = repo.observe(op, func() error {
		tag, err = repo.pool.Exec(ctx, `
			UPDATE users
			SET is_verified = TRUE,
			    updated_at = NOW()
			WHERE id = $1
		`, id)
		return err
	})

	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return user.ErrNotFound
	}

	return nil
}

func (repo *UsersRepo) SetPassword(ctx context.Context, id string, passwordHash string) error {
	var tag pgconn.CommandTag
	var err error

	op := "users.set_password"

	err = repo.observe(op, func() error {
		tag, err = repo.pool.Exec(ctx, `
			UPDATE users
			SET password_hash = $2,
			    updated_at = NOW()
			WHERE id = $1
		`, id, passwordHash)
		return err
	})

	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return user.ErrNotFound
	}

	return nil
}

func (repo *UsersRepo) Count(ctx context.Context) (int, error) {
	op := "users.count"
	var total int

	err := repo.observe(op, func() error {
		return repo.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE role = 'user'`).Scan(&total)
	})

	return total, err
}

// ListByRole powers the manager overview of employee accounts.
func (repo *UsersRepo) ListByRole(ctx context.Context, role string) (users []user.User, err error) {
	var rows pgx.Rows

	op := "users.list_by_role"

	err = repo.observe(op, func() error {
		rows, err = repo.pool.Query(ctx,
			`SELECT `+userColumns+`
			 FROM users
			 WHERE role = $1
			 ORDER BY created_at ASC, id ASC`, role)
		return err
	})

	if err != nil {
		return
	}

	defer rows.Close()

	users = make([]user.User, 0)

	for rows.Next() {
		var u user.User

		e := rows.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.PasswordHash, &u.Role, &u.IsVerified, &u.IsBlocked, &u.CreatedAt, &u.UpdatedAt)

		if e != nil {
			err = e
			return
		}
		users = append(users, u)
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
