package account

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/geocoder89/trajethub/internal/apperr"
	"github.com/geocoder89/trajethub/internal/domain/principal"
	"github.com/geocoder89/trajethub/internal/notifications"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type Config struct {
	Kind       principal.Kind
	CodeLength int
	CodeTTL    time.Duration
	ResetTTL   time.Duration
}

type Deps struct {
	Store    Store
	Hasher   PasswordHasher
	Tokens   TokenIssuer
	Notifier notifications.Notifier
	Log      *slog.Logger
	Now      func() time.Time
	// OnOutcome, when set, is told the result of every account operation.
	OnOutcome func(kind principal.Kind, op string, err error)
}

// Service runs the account lifecycle for one principal kind. Riders and
// drivers get their own instance over their own store.
type Service struct {
	store    Store
	hasher   PasswordHasher
	tokens   TokenIssuer
	notifier notifications.Notifier
	log      *slog.Logger
	now      func() time.Time
	cfg      Config

	onOutcome func(kind principal.Kind, op string, err error)
}

func NewService(deps Deps, cfg Config) *Service {
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = 6
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = time.Hour
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = time.Hour
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &Service{
		store:    deps.Store,
		hasher:   deps.Hasher,
		tokens:   deps.Tokens,
		notifier: deps.Notifier,
		log:      deps.Log.With("kind", string(cfg.Kind)),
		now:      deps.Now,
		cfg:      cfg,

		onOutcome: deps.OnOutcome,
	}
}

func (s *Service) Kind() principal.Kind {
	return s.cfg.Kind
}

func (s *Service) record(op string, errp *error) {
	if s.onOutcome != nil {
		s.onOutcome(s.cfg.Kind, op, *errp)
	}
}

type SignupInput struct {
	Username    string `validate:"required"`
	Email       string `validate:"required,email"`
	Password    string `validate:"required"`
	PhoneNumber string
	Roles       []string `validate:"omitempty,dive,required"`
}

type SignupResult struct {
	PrincipalID      string
	VerificationSent bool
}

func (s *Service) Signup(ctx context.Context, in SignupInput) (_ SignupResult, err error) {
	defer s.record("signup", &err)

	in.Username = strings.TrimSpace(in.Username)
	in.Email = principal.NormalizeEmail(in.Email)

	if err := validate.Struct(in); err != nil {
		return SignupResult{}, validationError(err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return SignupResult{}, apperr.Wrap(err, apperr.CodePersistence, "could not hash password")
	}

	code, err := generateCode(s.cfg.CodeLength)
	if err != nil {
		return SignupResult{}, apperr.Wrap(err, apperr.CodePersistence, "could not generate verification code")
	}

	now := s.now().UTC()
	expires := now.Add(s.cfg.CodeTTL)

	p := principal.New(principal.NewInput{
		Kind:         s.cfg.Kind,
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		PhoneNumber:  in.PhoneNumber,
		Roles:        in.Roles,
		Code:         code,
		CodeExpires:  expires,
	}, now)

	created, err := s.store.Create(ctx, p)
	if err != nil {
		if errors.Is(err, principal.ErrDuplicate) {
			s.log.InfoContext(ctx, "account.signup_conflict", "email", in.Email)
			return SignupResult{}, apperr.New(apperr.CodeConflict, "username or email already in use")
		}
		return SignupResult{}, apperr.Persistence(err)
	}

	res := SignupResult{PrincipalID: created.ID, VerificationSent: true}

	msg := notifications.VerificationEmail(created.Email, code, s.cfg.CodeTTL, false)
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.log.WarnContext(ctx, "account.signup_verification_not_sent",
			"principal_id", created.ID,
			"err", err,
		)
		res.VerificationSent = false
	}

	return res, nil
}

func (s *Service) VerifyEmail(ctx context.Context, principalID, code string) (err error) {
	defer s.record("verify", &err)

	principalID = strings.TrimSpace(principalID)
	code = strings.TrimSpace(code)
	if principalID == "" || code == "" {
		return apperr.Validation("userId and verificationCode are required")
	}

	p, err := s.store.GetByID(ctx, principalID)
	if err != nil {
		return s.lookupError(err)
	}

	if p.IsVerified {
		return apperr.New(apperr.CodeAlreadyVerified, "email already verified")
	}

	now := s.now().UTC()
	if p.VerificationCode == nil || p.VerificationCodeExpires == nil ||
		!codesEqual(*p.VerificationCode, code) ||
		now.After(*p.VerificationCodeExpires) {
		return apperr.New(apperr.CodeInvalidCode, "invalid or expired verification code")
	}

	if err := s.store.MarkVerified(ctx, p.ID, now); err != nil {
		switch {
		case errors.Is(err, principal.ErrAlreadyVerified):
			return apperr.New(apperr.CodeAlreadyVerified, "email already verified")
		case errors.Is(err, principal.ErrNotFound):
			return apperr.NotFound("account not found")
		default:
			return apperr.Persistence(err)
		}
	}

	s.log.InfoContext(ctx, "account.verified", "principal_id", p.ID)
	return nil
}

func (s *Service) ResendVerification(ctx context.Context, email string) (err error) {
	defer s.record("resend_verification", &err)

	email = principal.NormalizeEmail(email)
	if err := validate.Var(email, "required,email"); err != nil {
		return apperr.Validation("a valid email is required")
	}

	p, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		return s.lookupError(err)
	}

	if p.IsVerified {
		return apperr.New(apperr.CodeAlreadyVerified, "email already verified")
	}

	code, err := generateCode(s.cfg.CodeLength)
	if err != nil {
		return apperr.Wrap(err, apperr.CodePersistence, "could not generate verification code")
	}
	now := s.now().UTC()
	expires := now.Add(s.cfg.CodeTTL)

	if err := s.store.UpdateVerification(ctx, p.ID, code, expires, now); err != nil {
		if errors.Is(err, principal.ErrNotFound) {
			return apperr.NotFound("account not found")
		}
		if errors.Is(err, principal.ErrAlreadyVerified) {
			return apperr.New(apperr.CodeAlreadyVerified, "email already verified")
		}
		return apperr.Persistence(err)
	}

	msg := notifications.VerificationEmail(p.Email, code, s.cfg.CodeTTL, true)
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.log.WarnContext(ctx, "account.resend_failed", "principal_id", p.ID, "err", err)
		return apperr.Notification(err)
	}

	return nil
}

type SignInInput struct {
	Email     string `validate:"required,email"`
	Password  string `validate:"required"`
	PushToken string
}

type SignInResult struct {
	Principal   principal.Summary
	AccessToken string
	ExpiresAt   time.Time
}

func (s *Service) SignIn(ctx context.Context, in SignInInput) (_ SignInResult, err error) {
	defer s.record("signin", &err)

	in.Email = principal.NormalizeEmail(in.Email)
	if err := validate.Struct(in); err != nil {
		return SignInResult{}, validationError(err)
	}

	p, err := s.store.GetByEmail(ctx, in.Email)
	if err != nil {
		return SignInResult{}, s.lookupError(err)
	}

	// unverified accounts are refused before the password is looked at
	if !p.IsVerified {
		return SignInResult{}, apperr.Unverified(p.ID)
	}

	ok, err := s.hasher.Matches(p.PasswordHash, in.Password)
	if err != nil {
		s.log.ErrorContext(ctx, "account.password_hash_unusable", "principal_id", p.ID, "err", err)
		return SignInResult{}, apperr.New(apperr.CodeInvalidCredentials, "invalid password")
	}
	if !ok {
		return SignInResult{}, apperr.New(apperr.CodeInvalidCredentials, "invalid password")
	}

	if token := strings.TrimSpace(in.PushToken); token != "" && s.cfg.Kind.SupportsPushToken() {
		if err := s.store.UpdatePushToken(ctx, p.ID, token, s.now().UTC()); err != nil {
			return SignInResult{}, apperr.Persistence(err)
		}
	}

	access, expiresAt, err := s.tokens.Issue(p.ID, s.cfg.Kind, p.Roles)
	if err != nil {
		return SignInResult{}, apperr.Wrap(err, apperr.CodePersistence, "could not issue token")
	}

	return SignInResult{
		Principal:   p.Summary(),
		AccessToken: access,
		ExpiresAt:   expiresAt,
	}, nil
}

// ForgotPassword stores the hash of a fresh reset token and mails the raw
// token inside a link built from linkBase. If the mail cannot be sent the
// stored token is cleared again.
func (s *Service) ForgotPassword(ctx context.Context, email, linkBase string) (err error) {
	defer s.record("forgot_password", &err)

	email = principal.NormalizeEmail(email)
	if err := validate.Var(email, "required,email"); err != nil {
		return apperr.Validation("a valid email is required")
	}

	p, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		return s.lookupError(err)
	}

	raw, err := generateResetToken()
	if err != nil {
		return apperr.Wrap(err, apperr.CodePersistence, "could not generate reset token")
	}
	tokenHash := s.tokens.HashToken(raw)
	expires := s.now().UTC().Add(s.cfg.ResetTTL)

	if err := s.store.SetResetToken(ctx, p.ID, tokenHash, expires); err != nil {
		if errors.Is(err, principal.ErrNotFound) {
			return apperr.NotFound("account not found")
		}
		return apperr.Persistence(err)
	}

	msg := notifications.PasswordResetEmail(p.Email, s.ResetLink(linkBase, raw))
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.log.WarnContext(ctx, "account.reset_mail_failed", "principal_id", p.ID, "err", err)

		// the request context may already be done; the rollback must still land
		clearCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		defer cancel()
		if cerr := s.store.ClearResetToken(clearCtx, p.ID, tokenHash); cerr != nil {
			s.log.ErrorContext(ctx, "account.reset_token_clear_failed", "principal_id", p.ID, "err", cerr)
		}
		return apperr.Notification(err)
	}

	return nil
}

// ResetLink renders <base>/api/auth[/driver]/reset-password/<token>.
func (s *Service) ResetLink(base, raw string) string {
	base = strings.TrimRight(base, "/")
	path := "/api/auth"
	if s.cfg.Kind == principal.KindDriver {
		path += "/driver"
	}
	return base + path + "/reset-password/" + raw
}

func (s *Service) ValidateResetToken(ctx context.Context, raw string) (err error) {
	defer s.record("validate_reset_token", &err)

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return invalidToken()
	}

	_, err = s.store.GetByResetTokenHash(ctx, s.tokens.HashToken(raw), s.now().UTC())
	if err != nil {
		if errors.Is(err, principal.ErrResetNotFound) || errors.Is(err, principal.ErrNotFound) {
			return invalidToken()
		}
		return apperr.Persistence(err)
	}
	return nil
}

func (s *Service) ResetPassword(ctx context.Context, raw, newPassword string) (err error) {
	defer s.record("reset_password", &err)

	raw = strings.TrimSpace(raw)
	if newPassword == "" {
		return apperr.Validation("password is required")
	}
	if raw == "" {
		return invalidToken()
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return apperr.Wrap(err, apperr.CodePersistence, "could not hash password")
	}

	err = s.store.ResetPassword(ctx, s.tokens.HashToken(raw), s.now().UTC(), hash)
	if err != nil {
		if errors.Is(err, principal.ErrResetNotFound) || errors.Is(err, principal.ErrNotFound) {
			return invalidToken()
		}
		return apperr.Persistence(err)
	}

	s.log.InfoContext(ctx, "account.password_reset")
	return nil
}

func (s *Service) lookupError(err error) error {
	if errors.Is(err, principal.ErrNotFound) {
		return apperr.NotFound("account not found")
	}
	return apperr.Persistence(err)
}

func invalidToken() error {
	return apperr.New(apperr.CodeInvalidOrExpiredToken, "password reset token is invalid or has expired")
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, strings.ToLower(fe.Field()[:1])+fe.Field()[1:]+" "+fe.Tag())
		}
		return apperr.Validation("invalid input: " + strings.Join(fields, ", "))
	}
	return apperr.Validation(err.Error())
}
