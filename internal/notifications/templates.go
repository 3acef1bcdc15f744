package notifications

import (
	"fmt"
	"html"
	"time"
)

const (
	TemplateVerification  = "verification"
	TemplatePasswordReset = "password_reset"
)

func VerificationEmail(to, code string, ttl time.Duration, resent bool) Message {
	subject := "Email Verification"
	if resent {
		subject = "Email Verification Code (Resent)"
	}

	validity := humanizeTTL(ttl)

	return Message{
		Template: TemplateVerification,
		To:       to,
		Subject:  subject,
		Text:     fmt.Sprintf("Your verification code is: %s. It will expire in %s.", code, validity),
		HTML: fmt.Sprintf(
			"<h1>Email Verification</h1><p>Your verification code is: <strong>%s</strong></p><p>It will expire in %s.</p>",
			html.EscapeString(code), validity,
		),
	}
}

func PasswordResetEmail(to, resetURL string) Message {
	return Message{
		Template: TemplatePasswordReset,
		To:       to,
		Subject:  "Password Reset Request",
		Text: "You requested a password reset. Please click on the following link to reset your password: \n\n " +
			resetURL + " \n\n If you didn't request this, please ignore this email.",
		HTML: fmt.Sprintf(
			`<p>You requested a password reset.</p><p><a href="%s">Reset your password</a></p><p>If you didn't request this, please ignore this email.</p>`,
			html.EscapeString(resetURL),
		),
	}
}

func humanizeTTL(d time.Duration) string {
	switch {
	case d%time.Hour == 0 && d >= time.Hour:
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	case d >= time.Minute:
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	default:
		return d.String()
	}
}
