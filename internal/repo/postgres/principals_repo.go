package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/geocoder89/trajethub/internal/domain/principal"
	"github.com/geocoder89/trajethub/internal/observability"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PrincipalsRepo stores one principal kind. Riders and drivers share the
// schema but live in separate tables.
type PrincipalsRepo struct {
	pool  *pgxpool.Pool
	prom  *observability.Prom
	table string
}

func NewPrincipalsRepo(pool *pgxpool.Pool, prom *observability.Prom, kind principal.Kind) *PrincipalsRepo {
	table := "riders"
	if kind == principal.KindDriver {
		table = "drivers"
	}
	return &PrincipalsRepo{
		pool:  pool,
		prom:  prom,
		table: table,
	}
}

func (repo *PrincipalsRepo) observe(ctx context.Context, op string, fn func(context.Context) error) error {
	return observability.ObserveStore(ctx, repo.prom, observability.StorePostgres, repo.table+"."+op, fn)
}

const principalColumns = `id, username, email, password_hash, phone_number, roles, is_verified,
	verification_code, verification_code_expires, reset_password_token, reset_password_expires,
	push_token, created_at, updated_at`

func scanPrincipal(row pgx.Row, kind principal.Kind) (principal.Principal, error) {
	p := principal.Principal{Kind: kind}
	err := row.Scan(
		&p.ID,
		&p.Username,
		&p.Email,
		&p.PasswordHash,
		&p.PhoneNumber,
		&p.Roles,
		&p.IsVerified,
		&p.VerificationCode,
		&p.VerificationCodeExpires,
		&p.ResetPasswordToken,
		&p.ResetPasswordExpires,
		&p.PushToken,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}

func (repo *PrincipalsRepo) kind() principal.Kind {
	if repo.table == "drivers" {
		return principal.KindDriver
	}
	return principal.KindRider
}

func (repo *PrincipalsRepo) Create(ctx context.Context, p principal.Principal) (principal.Principal, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	err := repo.observe(ctx, "create", func(ctx context.Context) error {
		_, err := repo.pool.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (%s)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`, repo.table, principalColumns),
			p.ID, p.Username, p.Email, p.PasswordHash, p.PhoneNumber, p.Roles, p.IsVerified,
			p.VerificationCode, p.VerificationCodeExpires, p.ResetPasswordToken, p.ResetPasswordExpires,
			p.PushToken, p.CreatedAt, p.UpdatedAt,
		)
		return err
	})

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return principal.Principal{}, principal.ErrDuplicate
		}
		return principal.Principal{}, err
	}

	return p, nil
}

func (repo *PrincipalsRepo) getOne(ctx context.Context, op, where string, args ...any) (p principal.Principal, err error) {
	err = repo.observe(ctx, op, func(ctx context.Context) error {
		row := repo.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE %s`, principalColumns, repo.table, where), args...)
		var scanErr error
		p, scanErr = scanPrincipal(row, repo.kind())
		return scanErr
	})
	return p, err
}

func (repo *PrincipalsRepo) GetByID(ctx context.Context, id string) (principal.Principal, error) {
	p, err := repo.getOne(ctx, "get_by_id", "id = $1", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return principal.Principal{}, principal.ErrNotFound
		}
		return principal.Principal{}, err
	}
	return p, nil
}

func (repo *PrincipalsRepo) GetByEmail(ctx context.Context, email string) (principal.Principal, error) {
	p, err := repo.getOne(ctx, "get_by_email", "email = $1", email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return principal.Principal{}, principal.ErrNotFound
		}
		return principal.Principal{}, err
	}
	return p, nil
}

func (repo *PrincipalsRepo) GetByResetTokenHash(ctx context.Context, tokenHash string, now time.Time) (principal.Principal, error) {
	p, err := repo.getOne(ctx, "get_by_reset_token",
		"reset_password_token = $1 AND reset_password_expires > $2", tokenHash, now)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return principal.Principal{}, principal.ErrResetNotFound
		}
		return principal.Principal{}, err
	}
	return p, nil
}

// exec runs a conditional update. When nothing matched it tells a missing row
// apart from a row that failed the condition.
func (repo *PrincipalsRepo) exec(ctx context.Context, op, id string, conflict error, query string, args ...any) error {
	var affected int64
	err := repo.observe(ctx, op, func(ctx context.Context) error {
		tag, err := repo.pool.Exec(ctx, query, args...)
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	err = repo.observe(ctx, op+".exists", func(ctx context.Context) error {
		return repo.pool.QueryRow(ctx, fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE id = $1)`, repo.table), id).Scan(&exists)
	})
	if err != nil {
		return err
	}
	if !exists || conflict == nil {
		return principal.ErrNotFound
	}
	return conflict
}

func (repo *PrincipalsRepo) UpdateVerification(ctx context.Context, id, code string, expires, now time.Time) error {
	return repo.exec(ctx, "update_verification", id, principal.ErrAlreadyVerified,
		fmt.Sprintf(`UPDATE %s
			SET verification_code = $2,
				verification_code_expires = $3,
				updated_at = $4
			WHERE id = $1 AND is_verified = FALSE`, repo.table),
		id, code, expires, now,
	)
}

func (repo *PrincipalsRepo) MarkVerified(ctx context.Context, id string, now time.Time) error {
	return repo.exec(ctx, "mark_verified", id, principal.ErrAlreadyVerified,
		fmt.Sprintf(`UPDATE %s
			SET is_verified = TRUE,
				verification_code = NULL,
				verification_code_expires = NULL,
				updated_at = $2
			WHERE id = $1 AND is_verified = FALSE`, repo.table),
		id, now,
	)
}

func (repo *PrincipalsRepo) UpdatePushToken(ctx context.Context, id, token string, now time.Time) error {
	return repo.exec(ctx, "update_push_token", id, nil,
		fmt.Sprintf(`UPDATE %s SET push_token = $2, updated_at = $3 WHERE id = $1`, repo.table),
		id, token, now,
	)
}

func (repo *PrincipalsRepo) SetResetToken(ctx context.Context, id, tokenHash string, expires time.Time) error {
	return repo.exec(ctx, "set_reset_token", id, nil,
		fmt.Sprintf(`UPDATE %s
			SET reset_password_token = $2,
				reset_password_expires = $3
			WHERE id = $1`, repo.table),
		id, tokenHash, expires,
	)
}

func (repo *PrincipalsRepo) ClearResetToken(ctx context.Context, id, tokenHash string) error {
	return repo.observe(ctx, "clear_reset_token", func(ctx context.Context) error {
		_, err := repo.pool.Exec(ctx, fmt.Sprintf(`UPDATE %s
			SET reset_password_token = NULL,
				reset_password_expires = NULL
			WHERE id = $1 AND reset_password_token = $2`, repo.table), id, tokenHash)
		return err
	})
}

func (repo *PrincipalsRepo) ResetPassword(ctx context.Context, tokenHash string, now time.Time, passwordHash string) error {
	var affected int64
	err := repo.observe(ctx, "reset_password", func(ctx context.Context) error {
		tag, err := repo.pool.Exec(ctx, fmt.Sprintf(`UPDATE %s
			SET password_hash = $3,
				reset_password_token = NULL,
				reset_password_expires = NULL,
				updated_at = $2
			WHERE reset_password_token = $1 AND reset_password_expires > $2`, repo.table),
			tokenHash, now, passwordHash)
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return principal.ErrResetNotFound
	}
	return nil
}
