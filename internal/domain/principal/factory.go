package principal

import (
	"strings"
	"time"
)

type NewInput struct {
	Kind         Kind
	Username     string
	Email        string
	PasswordHash string
	PhoneNumber  string
	Roles        []string
	Code         string
	CodeExpires  time.Time
}

// New builds an unverified principal. The store assigns the ID.
func New(in NewInput, now time.Time) Principal {
	roles := in.Roles
	if len(roles) == 0 {
		roles = []string{DefaultRole}
	}

	code := in.Code
	expires := in.CodeExpires

	return Principal{
		Kind:                    in.Kind,
		Username:                strings.TrimSpace(in.Username),
		Email:                   NormalizeEmail(in.Email),
		PasswordHash:            in.PasswordHash,
		PhoneNumber:             strings.TrimSpace(in.PhoneNumber),
		Roles:                   roles,
		IsVerified:              false,
		VerificationCode:        &code,
		VerificationCodeExpires: &expires,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
