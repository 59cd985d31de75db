package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/taskhub/internal/domain/user"
	"github.com/geocoder89/taskhub/internal/observability"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const codeTTL = 15 * time.Minute

type VerificationCodesRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewVerificationCodesRepo(pool *pgxpool.Pool, prom *observability.Prom) *VerificationCodesRepo {
	return &VerificationCodesRepo{pool: pool, prom: prom}
}

func (repo *VerificationCodesRepo) observe(op string, fn func() error) error {
	if repo.prom != nil {
		return repo.prom.ObserveDB(op, fn)
	}
	return fn()
}

// Issue stores a fresh code for (user, purpose) and invalidates any earlier
// unconsumed code with the same purpose, so only the newest one works.
func (repo *VerificationCodesRepo) Issue(ctx context.Context, userID string, purpose string, code int) (err error) {
	tx, err := repo.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	err = repo.observe("verification_codes.issue.invalidate_prior", func() error {
		_, e := tx.Exec(ctx, `
			UPDATE verification_codes
			SET consumed_at = NOW()
			WHERE user_id = $1 AND purpose = $2 AND consumed_at IS NULL
		`, userID, purpose)
		return e
	})

	if err != nil {
		return
	}

	now := time.Now().UTC()

	err = repo.observe("verification_codes.issue.insert", func() error {
		_, e := tx.Exec(ctx, `
			INSERT INTO verification_codes (id, user_id, purpose, code, expires_at, consumed_at, created_at)
			VALUES ($1,$2,$3,$4,$5,NULL,$6)
		`, uuid.NewString(), userID, purpose, code, now.Add(codeTTL), now)
		return e
	})

	if err != nil {
		return
	}

	err = tx.Commit(ctx)

	return
}

// consumeTx locks and consumes a live code for (email, purpose) and returns
// the owning user id. Expired, consumed or mismatched codes all surface as
// user.ErrInvalidCode so callers cannot distinguish which check failed.
func (repo *VerificationCodesRepo) consumeTx(ctx context.Context, tx pgx.Tx, email, purpose string, code int) (userID string, err error) {
	var codeID string

	err = repo.observe("verification_codes.consume.lock", func() error {
		return tx.QueryRow(ctx, `
			SELECT vc.id, vc.user_id
			FROM verification_codes vc
			JOIN users u ON u.id = vc.user_id
			WHERE u.email = $1
			  AND vc.purpose = $2
			  AND vc.code = $3
			  AND vc.consumed_at IS NULL
			  AND vc.expires_at > NOW()
			FOR UPDATE OF vc
		`, email, purpose, code).Scan(&codeID, &userID)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = user.ErrInvalidCode
		}
		return
	}

	err = repo.observe("verification_codes.consume.mark", func() error {
		_, e := tx.Exec(ctx, `
			UPDATE verification_codes
			SET consumed_at = NOW()
			WHERE id = $1
		`, codeID)
		return e
	})

	return
}

// VerifyEmail consumes an email_verify code and flips the account to
// verified in the same transaction.
func (repo *VerificationCodesRepo) VerifyEmail(ctx context.Context, email string, code int) (err error) {
	tx, err := repo.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	userID, err := repo.consumeTx(ctx, tx, email, user.CodePurposeEmailVerify, code)

	if err != nil {
		return
	}

	err = repo.observe("verification_codes.verify_email.set_verified", func() error {
		_, e := tx.Exec(ctx, `
			UPDATE users
			SET is_verified = TRUE,
			    updated_at = NOW()
			WHERE id = $1
		`, userID)
		return e
	})

	if err != nil {
		return
	}

	err = tx.Commit(ctx)

	return
}

// ResetPassword consumes a password_reset code and installs the new hash in
// the same transaction.
func (repo *VerificationCodesRepo) ResetPassword(ctx context.Context, email string, code int, newHash string) (err error) {
	tx, err := repo.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	userID, err := repo.consumeTx(ctx, tx, email, user.CodePurposePasswordReset, code)

	if err != nil {
		return
	}

	err = repo.observe("verification_codes.reset_password.set_password", func() error {
		_, e := tx.Exec(ctx, `
			UPDATE users
			SET password_hash = $2,
			    updated_at = NOW()
			WHERE id = $1
		`, userID, newHash)
		return e
	})

	if err != nil {
		return
	}

	err = tx.Commit(ctx)

	return
}
