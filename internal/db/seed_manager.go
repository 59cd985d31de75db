package db

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/taskhub/internal/config"
	"github.com/geocoder89/taskhub/internal/domain/user"
	"github.com/geocoder89/taskhub/internal/security"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureManagerUser seeds the initial manager account from the environment
// so a fresh deployment has someone who can create projects. No-op when the
// account already exists or no seed credentials are configured.
func EnsureManagerUser(ctx context.Context, pool *pgxpool.Pool, cfg config.Config) error {
	if cfg.ManagerEmail == "" || cfg.ManagerPassword == "" {
		return nil
	}

	// check if the user exists

	var dummy string

	err := pool.QueryRow(ctx, `SELECT id FROM users WHERE email = $1`, cfg.ManagerEmail).Scan(&dummy)

	if err == nil {
		return nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	hash, err := security.HashPassword(cfg.ManagerPassword)

	if err != nil {
		return err
	}

	now := time.Now().UTC()

	u := user.User{
		ID:           uuid.NewString(),
		FirstName:    cfg.ManagerFirstName,
		LastName:     cfg.ManagerLastName,
		Email:        cfg.ManagerEmail,
		PasswordHash: &hash,
		Role:         user.RoleManager,
		IsVerified:   true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err = pool.Exec(ctx,
		`INSERT INTO users (id, first_name, last_name, email, password_hash, role, is_verified, is_blocked, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`,
		u.ID, u.FirstName, u.LastName, u.Email, u.PasswordHash, string(u.Role), u.IsVerified, u.IsBlocked, u.CreatedAt, u.UpdatedAt,
	)

	return err
}
