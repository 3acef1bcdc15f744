package principal

import (
	"errors"
	"time"
)

// Kind separates the two account populations. Riders and drivers live in
// different tables/collections, so username and email are unique per kind.
type Kind string

const (
	KindRider  Kind = "rider"
	KindDriver Kind = "driver"
)

func (k Kind) IsValid() bool {
	switch k {
	case KindRider, KindDriver:
		return true
	default:
		return false
	}
}

// SupportsPushToken reports whether sign-in may refresh a push token for this kind.
func (k Kind) SupportsPushToken() bool {
	return k == KindRider
}

const DefaultRole = "user"

type Principal struct {
	ID           string   `json:"id"`
	Kind         Kind     `json:"kind"`
	Username     string   `json:"username"`
	Email        string   `json:"email"`
	PasswordHash string   `json:"-"` // never expose hash in JSON
	PhoneNumber  string   `json:"phoneNumber,omitempty"`
	Roles        []string `json:"roles"`

	IsVerified              bool       `json:"isVerified"`
	VerificationCode        *string    `json:"-"`
	VerificationCodeExpires *time.Time `json:"-"`

	ResetPasswordToken   *string    `json:"-"`
	ResetPasswordExpires *time.Time `json:"-"`

	PushToken *string `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Summary is what sign-in hands back next to the access token.
type Summary struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
}

func (p Principal) Summary() Summary {
	return Summary{
		ID:       p.ID,
		Username: p.Username,
		Email:    p.Email,
		Roles:    p.Roles,
	}
}

// VerificationPending is true while a code is outstanding.
func (p Principal) VerificationPending() bool {
	return !p.IsVerified && p.VerificationCode != nil
}

var (
	ErrNotFound        = errors.New("principal not found")
	ErrDuplicate       = errors.New("username or email already in use")
	ErrAlreadyVerified = errors.New("principal already verified")
	ErrResetNotFound   = errors.New("reset token not found or expired")
)
