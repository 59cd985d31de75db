package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/taskhub/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrRefreshTokenNotFound = errors.New("refresh not found")
var ErrInvalidRefresh = errors.New("refresh token revoked or mismatched")
var ErrExpiredRefresh = errors.New("refresh token expired")

type RefreshTokenRow struct {
	ID         string
	UserID     string
	TokenHash  string
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	ReplacedBy *string
	CreatedAt  time.Time
}

type RefreshTokensRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewRefreshTokensRepo(pool *pgxpool.Pool, prom *observability.Prom) *RefreshTokensRepo {
	return &RefreshTokensRepo{pool: pool, prom: prom}
}

func (r *RefreshTokensRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func (r *RefreshTokensRepo) createTx(ctx context.Context, tx pgx.Tx, row RefreshTokenRow) error {
	return r.observe("refresh_tokens.create", func() error {
		_, err := tx.Exec(ctx,
			`INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, revoked_at, replaced_by, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			`,
			row.ID, row.UserID, row.TokenHash, row.ExpiresAt, row.RevokedAt, row.ReplacedBy, row.CreatedAt,
		)
		return err
	})
}

// Locks the row to prevent concurrent refresh races

func (r *RefreshTokensRepo) getForUpdate(ctx context.Context, tx pgx.Tx, id string) (RefreshTokenRow, error) {
	var row RefreshTokenRow

	err := r.observe("refresh_tokens.get_for_update", func() error {
		return tx.QueryRow(ctx, `
			SELECT id, user_id, token_hash, expires_at, revoked_at, replaced_by, created_at
			FROM refresh_tokens
			WHERE id = $1
			FOR UPDATE
		`, id).Scan(
			&row.ID,
			&row.UserID,
			&row.TokenHash,
			&row.ExpiresAt,
			&row.RevokedAt,
			&row.ReplacedBy,
			&row.CreatedAt,
		)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RefreshTokenRow{}, ErrRefreshTokenNotFound
		}

		return RefreshTokenRow{}, err
	}

	return row, nil
}

func (r *RefreshTokensRepo) revokeTx(ctx context.Context, tx pgx.Tx, id string, replacedBy *string) error {
	return r.observe("refresh_tokens.revoke", func() error {
		_, err := tx.Exec(ctx, `
			UPDATE refresh_tokens
			SET revoked_at = NOW(), replaced_by = $2
			WHERE id = $1
		`, id, replacedBy)

		return err
	})
}

// StoreNew persists the session row for a freshly issued refresh token.
func (r *RefreshTokensRepo) StoreNew(ctx context.Context, row RefreshTokenRow) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	err = r.createTx(ctx, tx, row)

	if err != nil {
		return
	}

	err = tx.Commit(ctx)

	return
}

// Rotate atomically retires the presented token and installs its successor.
// The row lock serializes concurrent refreshes of the same session; the hash
// check prevents token substitution.
func (r *RefreshTokensRepo) Rotate(ctx context.Context, presentedJTI, presentedHash string, newRow RefreshTokenRow) (userID string, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	row, err := r.getForUpdate(ctx, tx, presentedJTI)

	if err != nil {
		return
	}

	if row.RevokedAt != nil {
		err = ErrInvalidRefresh
		return
	}

	if time.Now().UTC().After(row.ExpiresAt) {
		err = ErrExpiredRefresh
		return
	}

	if row.TokenHash != presentedHash {
		err = ErrInvalidRefresh
		return
	}

	err = r.revokeTx(ctx, tx, row.ID, &newRow.ID)

	if err != nil {
		return
	}

	newRow.UserID = row.UserID

	err = r.createTx(ctx, tx, newRow)

	if err != nil {
		return
	}

	err = tx.Commit(ctx)

	if err != nil {
		return
	}

	userID = row.UserID
	return
}

// RevokeByJTI retires a single session, e.g. on logout. Idempotent.
func (r *RefreshTokensRepo) RevokeByJTI(ctx context.Context, jti string) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	err = r.revokeTx(ctx, tx, jti, nil)

	if err != nil {
		return
	}

	err = tx.Commit(ctx)

	return
}

// RevokeAll kills every live session for a user. Called after password
// resets and password changes.
func (r *RefreshTokensRepo) RevokeAll(ctx context.Context, userID string) error {
	return r.observe("refresh_tokens.revoke_all_for_user", func() error {
		_, err := r.pool.Exec(ctx, `
			UPDATE refresh_tokens
			SET revoked_at = NOW()
			WHERE user_id = $1 AND revoked_at IS NULL
		`, userID)

		return err
	})
}
