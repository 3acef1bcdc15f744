package account

import (
	"context"
	"time"

	"github.com/geocoder89/trajethub/internal/domain/principal"
)

// Store persists the principals of a single kind. Implementations enforce
// username and email uniqueness and report violations as principal.ErrDuplicate.
type Store interface {
	Create(ctx context.Context, p principal.Principal) (principal.Principal, error)
	GetByID(ctx context.Context, id string) (principal.Principal, error)
	GetByEmail(ctx context.Context, email string) (principal.Principal, error)
	// GetByResetTokenHash returns the principal holding tokenHash with an
	// expiry after now, or principal.ErrResetNotFound.
	GetByResetTokenHash(ctx context.Context, tokenHash string, now time.Time) (principal.Principal, error)

	UpdateVerification(ctx context.Context, id, code string, expires, now time.Time) error
	// MarkVerified flips an unverified principal to verified and clears the
	// code fields. A second call returns principal.ErrAlreadyVerified.
	MarkVerified(ctx context.Context, id string, now time.Time) error
	UpdatePushToken(ctx context.Context, id, token string, now time.Time) error

	SetResetToken(ctx context.Context, id, tokenHash string, expires time.Time) error
	// ClearResetToken removes the reset fields only if they still hold tokenHash.
	ClearResetToken(ctx context.Context, id, tokenHash string) error
	// ResetPassword replaces the password of the principal holding an
	// unexpired tokenHash and clears the reset fields in the same write.
	ResetPassword(ctx context.Context, tokenHash string, now time.Time, passwordHash string) error
}

type PasswordHasher interface {
	Hash(plain string) (string, error)
	Matches(hash, plain string) (bool, error)
}

type TokenIssuer interface {
	Issue(principalID string, kind principal.Kind, roles []string) (string, time.Time, error)
	HashToken(raw string) string
}
