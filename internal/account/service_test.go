package account

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/geocoder89/trajethub/internal/apperr"
	"github.com/geocoder89/trajethub/internal/auth"
	"github.com/geocoder89/trajethub/internal/domain/principal"
	"github.com/geocoder89/trajethub/internal/notifications"
	"github.com/geocoder89/trajethub/internal/repo/memory"
	"github.com/geocoder89/trajethub/internal/security"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type recordingNotifier struct {
	mu   sync.Mutex
	err  error
	sent []notifications.Message
}

func (n *recordingNotifier) Send(ctx context.Context, msg notifications.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) last(t *testing.T) notifications.Message {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.sent, "no message sent")
	return n.sent[len(n.sent)-1]
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc      *Service
	store    *memory.PrincipalsRepo
	notifier *recordingNotifier
	clock    *clock
	tokens   *auth.Manager
	outcomes []string
}

func newFixture(t *testing.T, kind principal.Kind) *fixture {
	t.Helper()

	store := memory.NewPrincipalsRepo()
	notifier := &recordingNotifier{}
	clk := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	tokens := auth.NewManager("test-secret", 24*time.Hour)

	f := &fixture{store: store, notifier: notifier, clock: clk, tokens: tokens}
	f.svc = NewService(Deps{
		Store:    store,
		Hasher:   security.NewBcryptHasher(bcrypt.MinCost),
		Tokens:   tokens,
		Notifier: notifier,
		Log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:      clk.Now,
		OnOutcome: func(k principal.Kind, op string, err error) {
			f.outcomes = append(f.outcomes, string(k)+"/"+op+"/"+string(apperr.CodeOf(err)))
		},
	}, Config{Kind: kind})

	return f
}

func (f *fixture) signup(t *testing.T, username, email string) string {
	t.Helper()
	res, err := f.svc.Signup(context.Background(), SignupInput{
		Username: username,
		Email:    email,
		Password: "s3cret-pass",
	})
	require.NoError(t, err)
	require.True(t, res.VerificationSent)
	return res.PrincipalID
}

func (f *fixture) codeFor(t *testing.T, id string) string {
	t.Helper()
	p, err := f.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, p.VerificationCode)
	return *p.VerificationCode
}

func requireCode(t *testing.T, err error, code apperr.Code) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, apperr.CodeOf(err), "error: %v", err)
}

func TestSignupCreatesUnverifiedPrincipal(t *testing.T) {
	f := newFixture(t, principal.KindRider)
	ctx := context.Background()

	id := f.signup(t, "amine", "Amine@Example.com ")

	p, err := f.store.GetByID(ctx, id)
	require.NoError(t, err)
	require.False(t, p.IsVerified)
	require.Equal(t, "amine@example.com", p.Email)
	require.Equal(t, []string{principal.DefaultRole}, p.Roles)
	require.NotEqual(t, "s3cret-pass", p.PasswordHash)

	require.NotNil(t, p.VerificationCode)
	require.Len(t, *p.VerificationCode, 6)
	for _, r := range *p.VerificationCode {
		require.True(t, r >= '0' && r <= '9', "non-digit in code %q", *p.VerificationCode)
	}
	require.Equal(t, f.clock.Now().Add(time.Hour), *p.VerificationCodeExpires)

	msg := f.notifier.last(t)
	require.Equal(t, "Email Verification", msg.Subject)
	require.Equal(t, "amine@example.com", msg.To)
	require.Contains(t, msg.Text, *p.VerificationCode)
}

func TestSignupValidation(t *testing.T) {
	f := newFixture(t, principal.KindRider)

	tests := []struct {
		name string
		in   SignupInput
	}{
		{name: "missing_username", in: SignupInput{Email: "a@example.com", Password: "x"}},
		{name: "missing_email", in: SignupInput{Username: "a", Password: "x"}},
		{name: "bad_email", in: SignupInput{Username: "a", Email: "nope", Password: "x"}},
		{name: "missing_password", in: SignupInput{Username: "a", Email: "a@example.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Signup(context.Background(), tt.in)
			requireCode(t, err, apperr.CodeValidation)
		})
	}
}

func TestSignupConflict(t *testing.T) {
	f := newFixture(t, principal.KindRider)
	f.signup(t, "amine", "a@example.com")

	_, err := f.svc.Signup(context.Background(), SignupInput{Username: "other", Email: "a@example.com", Password: "x"})
	requireCode(t, err, apperr.CodeConflict)

	_, err = f.svc.Signup(context.Background(), SignupInput{Username: "amine", Email: "b@example.com", Password: "x"})
	requireCode(t, err, apperr.CodeConflict)
}

func TestConcurrentSignupOneWinner(t *testing.T) {
	f := newFixture(t, principal.KindDriver)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Signup(context.Background(), SignupInput{
				Username: "same",
				Email:    "same@example.com",
				Password: "x",
			})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		requireCode(t, err, apperr.CodeConflict)
	}
	require.Equal(t, 1, ok)
}

func TestSignupNotificationFailureKeepsAccount(t *testing.T) {
	f := newFixture(t, principal.KindRider)
	f.notifier.err = errors.New("smtp down")

	res, err := f.svc.Signup(context.Background(), SignupInput{Username: "amine", Email: "a@example.com", Password: "x"})
	require.NoError(t, err)
	require.False(t, res.VerificationSent)

	p, err := f.store.GetByID(context.Background(), res.PrincipalID)
	require.NoError(t, err)
	require.True(t, p.VerificationPending())
}

func TestVerifyEmail(t *testing.T) {
	f := newFixture(t, principal.KindRider)
	ctx := context.Background()
	id := f.signup(t, "amine", "a@example.com")
	code := f.codeFor(t, id)

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	requireCode(t, f.svc.VerifyEmail(ctx, id, wrong), apperr.CodeInvalidCode)
	requireCode(t, f.svc.VerifyEmail(ctx, "missing", code), apperr.CodeNotFound)
	requireCode(t, f.svc.VerifyEmail(ctx, "", code), apperr.CodeValidation)

	require.NoError(t, f.svc.VerifyEmail(ctx, id, code))

	p, _ := f.store.GetByID(ctx, id)
	require.True(t, p.IsVerified)
	require.Nil(t, p.VerificationCode)
	require.Nil(t, p.VerificationCodeExpires)

	requireCode(t, f.svc.VerifyEmail(ctx, id, code), apperr.CodeAlreadyVerified)
}

func TestVerifyEmailExpiredCode(t *testing.T) {
	f := newFixture(t, principal.KindRider)
	id := f.signup(t, "amine", "a@example.com")
	code := f.codeFor(t, id)

	f.clock.Advance(time.Hour + time.Second)
	requireCode(t, f.svc.VerifyEmail(context.Background(), id, code), apperr.CodeInvalidCode)
}

func TestConcurrentVerifyOnlyOneSucceeds(t *testing.T) {
	f := newFixture(t, principal.KindRider)
	id := f.signup(t, "amine", "a@example.com")
	code := f.codeFor(t, id)

	const n = 6
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.svc.VerifyEmail(context.Background(), id, code)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		requireCode(t, err, apperr.CodeAlreadyVerified)
	}
	require.Equal(t, 1, ok)
}

func TestResendVerification(t *testing.T) {
	f := newFixture(t, principal.KindRider)
	ctx := context.Background()
	id := f.signup(t, "amine", "a@example.com")

	f.clock.Advance(30 * time.Minute)
	require.NoError(t, f.svc.ResendVerification(ctx, "A@example.com"))

	p, _ := f.store.GetByID(ctx, id)
	require.Equal(t, f.clock.Now().Add(time.Hour), *p.VerificationCodeExpires)

	msg := f.notifier.last(t)
	require.Equal(t, "Email Verification Code (Resent)", msg.Subject)
	require.Contains(t, msg.Text, *p.VerificationCode)

	requireCode(t, f.svc.ResendVerification(ctx, "ghost@example.com"), apperr.CodeNotFound)
	requireCode(t, f.svc.ResendVerification(ctx, ""), apperr.CodeValidation)

	require.NoError(t, f.svc.VerifyEmail(ctx, id, *p.VerificationCode))
	requireCode(t, f.svc.ResendVerification(ctx, "a@example.com"), apperr.CodeAlreadyVerified)
}

func TestResendVerificationNotificationFailure(t *testing.T) {
	f := newFixture(t, principal.KindRider)
	f.signup(t, "amine", "a@example.com")

	f.notifier.err = errors.New("smtp down")
	requireCode(t, f.svc.ResendVerification(context.Background(), "a@example.com"), apperr.CodeNotification)
}

func TestSignInOrdering(t *testing.T) {
	f := newFixture(t, principal.KindRider)
	ctx := context.Background()
	id := f.signup(t, "amine", "a@example.com")

	_, err := f.svc.SignIn(ctx, SignInInput{Email: "ghost@example.com", Password: "x"})
	requireCode(t, err, apperr.CodeNotFound)

	for _, password := range []string{"wrong", "s3cret-pass"} {
		_, err = f.svc.SignIn(ctx, SignInInput{Email: "a@example.com", Password: password})
		requireCode(t, err, apperr.CodeUnverified)
		var appErr *apperr.Error
		require.True(t, errors.As(err, &appErr))
		require.Equal(t, id, appErr.PrincipalID)
	}

	require.NoError(t, f.svc.VerifyEmail(ctx, id, f.codeFor(t, id)))
	_, err = f.svc.SignIn(ctx, SignInInput{Email: "a@example.com", Password: "wrong"})
	requireCode(t, err, apperr.CodeInvalidCredentials)

	_, err = f.svc.SignIn(ctx, SignInInput{Email: "", Password: "x"})
	requireCode(t, err, apperr.CodeValidation)
}

func TestSignInIssuesTokenAndUpdatesPushToken(t *testing.T) {
	f := newFixture(t, principal.KindRider)
	ctx := context.Background()
	id := f.signup(t, "amine", "a@example.com")
	require.NoError(t, f.svc.VerifyEmail(ctx, id, f.codeFor(t, id)))

	res, err := f.svc.SignIn(ctx, SignInInput{Email: "a@example.com", Password: "s3cret-pass", PushToken: "fcm-1"})
	require.NoError(t, err)
	require.Equal(t, id, res.Principal.ID)
	require.Equal(t, "amine", res.Principal.Username)
	require.NotEmpty(t, res.AccessToken)

	claims, err := f.tokens.VerifyAccessToken(res.AccessToken)
	require.NoError(t, err)
	require.Equal(t, id, claims.PrincipalID)
	require.Equal(t, principal.KindRider, claims.Kind)

	p, _ := f.store.GetByID(ctx, id)
	require.NotNil(t, p.PushToken)
	require.Equal(t, "fcm-1", *p.PushToken)
}

func TestSignInDriverIgnoresPushToken(t *testing.T) {
	f := newFixture(t, principal.KindDriver)
	ctx := context.Background()
	id := f.signup(t, "karim", "k@example.com")
	require.NoError(t, f.svc.VerifyEmail(ctx, id, f.codeFor(t, id)))

	_, err := f.svc.SignIn(ctx, SignInInput{Email: "k@example.com", Password: "s3cret-pass", PushToken: "fcm-1"})
	require.NoError(t, err)

	p, _ := f.store.GetByID(ctx, id)
	require.Nil(t, p.PushToken)
}

func resetTokenFrom(t *testing.T, msg notifications.Message) string {
	t.Helper()
	idx := strings.Index(msg.Text, "/reset-password/")
	require.GreaterOrEqual(t, idx, 0, "no reset link in %q", msg.Text)
	rest := msg.Text[idx+len("/reset-password/"):]
	return strings.Fields(rest)[0]
}

func TestForgotAndResetPassword(t *testing.T) {
	f := newFixture(t, principal.KindDriver)
	ctx := context.Background()
	id := f.signup(t, "karim", "k@example.com")
	require.NoError(t, f.svc.VerifyEmail(ctx, id, f.codeFor(t, id)))

	require.NoError(t, f.svc.ForgotPassword(ctx, "k@example.com", "https://api.example.com/"))

	msg := f.notifier.last(t)
	require.Equal(t, "Password Reset Request", msg.Subject)
	require.Contains(t, msg.Text, "https://api.example.com/api/auth/driver/reset-password/")

	raw := resetTokenFrom(t, msg)
	require.Len(t, raw, 64)

	p, _ := f.store.GetByID(ctx, id)
	require.NotNil(t, p.ResetPasswordToken)
	require.NotEqual(t, raw, *p.ResetPasswordToken)
	require.Equal(t, f.tokens.HashToken(raw), *p.ResetPasswordToken)

	require.NoError(t, f.svc.ValidateResetToken(ctx, raw))
	requireCode(t, f.svc.ValidateResetToken(ctx, "bogus"), apperr.CodeInvalidOrExpiredToken)

	require.NoError(t, f.svc.ResetPassword(ctx, raw, "brand-new"))
	requireCode(t, f.svc.ResetPassword(ctx, raw, "again"), apperr.CodeInvalidOrExpiredToken)

	_, err := f.svc.SignIn(ctx, SignInInput{Email: "k@example.com", Password: "s3cret-pass"})
	requireCode(t, err, apperr.CodeInvalidCredentials)

	_, err = f.svc.SignIn(ctx, SignInInput{Email: "k@example.com", Password: "brand-new"})
	require.NoError(t, err)
}

func TestResetTokenExpires(t *testing.T) {
	f := newFixture(t, principal.KindRider)
	ctx := context.Background()
	f.signup(t, "amine", "a@example.com")

	require.NoError(t, f.svc.ForgotPassword(ctx, "a@example.com", "http://localhost:8080"))
	raw := resetTokenFrom(t, f.notifier.last(t))

	f.clock.Advance(time.Hour + time.Second)
	requireCode(t, f.svc.ValidateResetToken(ctx, raw), apperr.CodeInvalidOrExpiredToken)
	requireCode(t, f.svc.ResetPassword(ctx, raw, "brand-new"), apperr.CodeInvalidOrExpiredToken)
}

func TestForgotPasswordReplacesPreviousToken(t *testing.T) {
	f := newFixture(t, principal.KindRider)
	ctx := context.Background()
	f.signup(t, "amine", "a@example.com")

	require.NoError(t, f.svc.ForgotPassword(ctx, "a@example.com", "http://localhost"))
	first := resetTokenFrom(t, f.notifier.last(t))
	require.NoError(t, f.svc.ForgotPassword(ctx, "a@example.com", "http://localhost"))
	second := resetTokenFrom(t, f.notifier.last(t))

	requireCode(t, f.svc.ValidateResetToken(ctx, first), apperr.CodeInvalidOrExpiredToken)
	require.NoError(t, f.svc.ValidateResetToken(ctx, second))
}

func TestForgotPasswordNotificationFailureClearsToken(t *testing.T) {
	f := newFixture(t, principal.KindRider)
	ctx := context.Background()
	id := f.signup(t, "amine", "a@example.com")

	f.notifier.err = errors.New("smtp down")
	requireCode(t, f.svc.ForgotPassword(ctx, "a@example.com", "http://localhost"), apperr.CodeNotification)

	p, _ := f.store.GetByID(ctx, id)
	require.Nil(t, p.ResetPasswordToken)
	require.Nil(t, p.ResetPasswordExpires)

	requireCode(t, f.svc.ForgotPassword(ctx, "ghost@example.com", "http://localhost"), apperr.CodeNotFound)
}

func TestResetPasswordValidation(t *testing.T) {
	f := newFixture(t, principal.KindRider)
	requireCode(t, f.svc.ResetPassword(context.Background(), "tok", ""), apperr.CodeValidation)
}

func TestResetLink(t *testing.T) {
	rider := newFixture(t, principal.KindRider)
	driver := newFixture(t, principal.KindDriver)

	require.Equal(t, "http://h/api/auth/reset-password/abc", rider.svc.ResetLink("http://h/", "abc"))
	require.Equal(t, "http://h/api/auth/driver/reset-password/abc", driver.svc.ResetLink("http://h", "abc"))
}

func TestGenerateCodeLength(t *testing.T) {
	for _, n := range []int{4, 6, 8} {
		code, err := generateCode(n)
		require.NoError(t, err)
		require.Len(t, code, n)
	}
}

func TestEveryOperationReportsOutcome(t *testing.T) {
	f := newFixture(t, principal.KindDriver)
	ctx := context.Background()

	id := f.signup(t, "karim", "k@example.com")
	_ = f.svc.VerifyEmail(ctx, id, "000000x")
	_ = f.svc.ResendVerification(ctx, "k@example.com")
	_, _ = f.svc.SignIn(ctx, SignInInput{Email: "k@example.com", Password: "s3cret-pass"})
	_ = f.svc.ForgotPassword(ctx, "k@example.com", "https://api.example.com")
	_ = f.svc.ValidateResetToken(ctx, "bogus")
	_ = f.svc.ResetPassword(ctx, "bogus", "brand-new")

	ops := make([]string, 0, len(f.outcomes))
	for _, o := range f.outcomes {
		ops = append(ops, strings.SplitN(o, "/", 3)[1])
	}
	require.Equal(t, []string{
		"signup", "verify", "resend_verification", "signin",
		"forgot_password", "validate_reset_token", "reset_password",
	}, ops)
	require.Contains(t, f.outcomes, "driver/validate_reset_token/"+string(apperr.CodeInvalidOrExpiredToken))
}
