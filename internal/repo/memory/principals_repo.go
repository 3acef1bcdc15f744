package memory

import (
	"context"
	"sync"
	"time"

	"github.com/geocoder89/trajethub/internal/domain/principal"
	"github.com/google/uuid"
)

// PrincipalsRepo keeps the principals of one kind. Username and email are
// unique, checked under the same lock as the insert.
type PrincipalsRepo struct {
	mu    sync.RWMutex
	items map[string]principal.Principal
}

func NewPrincipalsRepo() *PrincipalsRepo {
	return &PrincipalsRepo{
		items: make(map[string]principal.Principal),
	}
}

func (r *PrincipalsRepo) Ping(ctx context.Context) error {
	return nil
}

func (r *PrincipalsRepo) Create(ctx context.Context, p principal.Principal) (principal.Principal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.items {
		if existing.Username == p.Username || existing.Email == p.Email {
			return principal.Principal{}, principal.ErrDuplicate
		}
	}

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	r.items[p.ID] = clonePrincipal(p)

	return clonePrincipal(p), nil
}

func (r *PrincipalsRepo) GetByID(ctx context.Context, id string) (principal.Principal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.items[id]
	if !ok {
		return principal.Principal{}, principal.ErrNotFound
	}
	return clonePrincipal(p), nil
}

func (r *PrincipalsRepo) GetByEmail(ctx context.Context, email string) (principal.Principal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.items {
		if p.Email == email {
			return clonePrincipal(p), nil
		}
	}
	return principal.Principal{}, principal.ErrNotFound
}

func (r *PrincipalsRepo) GetByResetTokenHash(ctx context.Context, tokenHash string, now time.Time) (principal.Principal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.findReset(tokenHash, now); ok {
		return clonePrincipal(p), nil
	}
	return principal.Principal{}, principal.ErrResetNotFound
}

func (r *PrincipalsRepo) UpdateVerification(ctx context.Context, id, code string, expires, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.items[id]
	if !ok {
		return principal.ErrNotFound
	}
	if p.IsVerified {
		return principal.ErrAlreadyVerified
	}

	p.VerificationCode = &code
	p.VerificationCodeExpires = &expires
	p.UpdatedAt = now
	r.items[id] = p
	return nil
}

func (r *PrincipalsRepo) MarkVerified(ctx context.Context, id string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.items[id]
	if !ok {
		return principal.ErrNotFound
	}
	if p.IsVerified {
		return principal.ErrAlreadyVerified
	}

	p.IsVerified = true
	p.VerificationCode = nil
	p.VerificationCodeExpires = nil
	p.UpdatedAt = now
	r.items[id] = p
	return nil
}

func (r *PrincipalsRepo) UpdatePushToken(ctx context.Context, id, token string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.items[id]
	if !ok {
		return principal.ErrNotFound
	}

	p.PushToken = &token
	p.UpdatedAt = now
	r.items[id] = p
	return nil
}

func (r *PrincipalsRepo) SetResetToken(ctx context.Context, id, tokenHash string, expires time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.items[id]
	if !ok {
		return principal.ErrNotFound
	}

	p.ResetPasswordToken = &tokenHash
	p.ResetPasswordExpires = &expires
	r.items[id] = p
	return nil
}

func (r *PrincipalsRepo) ClearResetToken(ctx context.Context, id, tokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.items[id]
	if !ok {
		return principal.ErrNotFound
	}
	if p.ResetPasswordToken == nil || *p.ResetPasswordToken != tokenHash {
		return nil
	}

	p.ResetPasswordToken = nil
	p.ResetPasswordExpires = nil
	r.items[id] = p
	return nil
}

func (r *PrincipalsRepo) ResetPassword(ctx context.Context, tokenHash string, now time.Time, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.findReset(tokenHash, now)
	if !ok {
		return principal.ErrResetNotFound
	}

	p.PasswordHash = passwordHash
	p.ResetPasswordToken = nil
	p.ResetPasswordExpires = nil
	p.UpdatedAt = now
	r.items[p.ID] = p
	return nil
}

// caller holds the lock
func (r *PrincipalsRepo) findReset(tokenHash string, now time.Time) (principal.Principal, bool) {
	for _, p := range r.items {
		if p.ResetPasswordToken == nil || p.ResetPasswordExpires == nil {
			continue
		}
		if *p.ResetPasswordToken == tokenHash && p.ResetPasswordExpires.After(now) {
			return p, true
		}
	}
	return principal.Principal{}, false
}

func clonePrincipal(p principal.Principal) principal.Principal {
	if p.Roles != nil {
		p.Roles = append([]string(nil), p.Roles...)
	}
	return p
}
