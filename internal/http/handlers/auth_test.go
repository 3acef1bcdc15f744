package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/geocoder89/trajethub/internal/account"
	"github.com/geocoder89/trajethub/internal/apperr"
	"github.com/geocoder89/trajethub/internal/domain/principal"
	"github.com/geocoder89/trajethub/internal/http/handlers"
	"github.com/gin-gonic/gin"
)

// Make sure Gin does not spam the console during the test

func init() {
	gin.SetMode(gin.TestMode)
}

// Fake implementation of handlers.AccountService

type fakeAccounts struct {
	kind          principal.Kind
	signupFn      func(ctx context.Context, in account.SignupInput) (account.SignupResult, error)
	verifyFn      func(ctx context.Context, id, code string) error
	resendFn      func(ctx context.Context, email string) error
	signInFn      func(ctx context.Context, in account.SignInInput) (account.SignInResult, error)
	forgotFn      func(ctx context.Context, email, linkBase string) error
	validateFn    func(ctx context.Context, raw string) error
	resetFn       func(ctx context.Context, raw, password string) error
	lastLinkBase  string
	lastResetWith string
	forgotCalls   int
}

func (f *fakeAccounts) Kind() principal.Kind { return f.kind }

func (f *fakeAccounts) Signup(ctx context.Context, in account.SignupInput) (account.SignupResult, error) {
	if f.signupFn != nil {
		return f.signupFn(ctx, in)
	}
	return account.SignupResult{}, nil
}

func (f *fakeAccounts) VerifyEmail(ctx context.Context, id, code string) error {
	if f.verifyFn != nil {
		return f.verifyFn(ctx, id, code)
	}
	return nil
}

func (f *fakeAccounts) ResendVerification(ctx context.Context, email string) error {
	if f.resendFn != nil {
		return f.resendFn(ctx, email)
	}
	return nil
}

func (f *fakeAccounts) SignIn(ctx context.Context, in account.SignInInput) (account.SignInResult, error) {
	if f.signInFn != nil {
		return f.signInFn(ctx, in)
	}
	return account.SignInResult{}, nil
}

func (f *fakeAccounts) ForgotPassword(ctx context.Context, email, linkBase string) error {
	f.forgotCalls++
	f.lastLinkBase = linkBase
	if f.forgotFn != nil {
		return f.forgotFn(ctx, email, linkBase)
	}
	return nil
}

func (f *fakeAccounts) ValidateResetToken(ctx context.Context, raw string) error {
	if f.validateFn != nil {
		return f.validateFn(ctx, raw)
	}
	return nil
}

func (f *fakeAccounts) ResetPassword(ctx context.Context, raw, password string) error {
	f.lastResetWith = raw
	if f.resetFn != nil {
		return f.resetFn(ctx, raw, password)
	}
	return nil
}

// small helper function which returns the gin engine to mount one handler per test

func setupRouter(method, path string, h gin.HandlerFunc) *gin.Engine {
	r := gin.New()

	r.Handle(method, path, h)

	return r
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func doJSON(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to unmarshal error body: %v body=%s", err, w.Body.String())
	}
	return env
}

func TestSignUpHandler(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		setup          func(*fakeAccounts)
		wantStatusCode int
		wantCode       string
	}{
		{
			name: "success",
			body: `{"username":"amine","email":"a@example.com","password":"s3cret-pass"}`,
			setup: func(f *fakeAccounts) {
				f.signupFn = func(ctx context.Context, in account.SignupInput) (account.SignupResult, error) {
					return account.SignupResult{PrincipalID: "p-1", VerificationSent: true}, nil
				}
			},
			wantStatusCode: http.StatusCreated,
		},
		{
			name:           "missing_fields",
			body:           `{"email":"a@example.com"}`,
			wantStatusCode: http.StatusBadRequest,
			wantCode:       "VALIDATION_ERROR",
		},
		{
			name: "conflict",
			body: `{"username":"amine","email":"a@example.com","password":"s3cret-pass"}`,
			setup: func(f *fakeAccounts) {
				f.signupFn = func(ctx context.Context, in account.SignupInput) (account.SignupResult, error) {
					return account.SignupResult{}, apperr.New(apperr.CodeConflict, "username or email already in use")
				}
			},
			wantStatusCode: http.StatusConflict,
			wantCode:       "CONFLICT",
		},
		{
			name: "persistence_is_opaque",
			body: `{"username":"amine","email":"a@example.com","password":"s3cret-pass"}`,
			setup: func(f *fakeAccounts) {
				f.signupFn = func(ctx context.Context, in account.SignupInput) (account.SignupResult, error) {
					return account.SignupResult{}, apperr.Persistence(errors.New("dial tcp 10.0.0.5:5432: refused"))
				}
			},
			wantStatusCode: http.StatusInternalServerError,
			wantCode:       "INTERNAL_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeAccounts{kind: principal.KindRider}
			if tt.setup != nil {
				tt.setup(fake)
			}
			h := handlers.NewAuthHandler(fake, "")
			r := setupRouter(http.MethodPost, "/signup", h.SignUp)

			w := doJSON(r, http.MethodPost, "/signup", tt.body)

			if w.Code != tt.wantStatusCode {
				t.Fatalf("expected status %d, got %d, body=%s", tt.wantStatusCode, w.Code, w.Body.String())
			}

			if tt.wantCode != "" {
				env := decodeError(t, w)
				if env.Error.Code != tt.wantCode {
					t.Fatalf("expected code %s, got %s", tt.wantCode, env.Error.Code)
				}
				if bytes.Contains(w.Body.Bytes(), []byte("10.0.0.5")) {
					t.Fatalf("internal cause leaked: %s", w.Body.String())
				}
			}
		})
	}
}

func TestSignInHandler(t *testing.T) {
	expires := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name           string
		err            error
		wantStatusCode int
		wantCode       string
		wantUserID     string
	}{
		{name: "success", wantStatusCode: http.StatusOK},
		{name: "not_found", err: apperr.NotFound("account not found"), wantStatusCode: http.StatusNotFound, wantCode: "NOT_FOUND"},
		{name: "bad_password", err: apperr.New(apperr.CodeInvalidCredentials, "invalid password"), wantStatusCode: http.StatusUnauthorized, wantCode: "INVALID_CREDENTIALS"},
		{name: "unverified", err: apperr.Unverified("p-9"), wantStatusCode: http.StatusForbidden, wantCode: "UNVERIFIED", wantUserID: "p-9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPush string
			fake := &fakeAccounts{
				kind: principal.KindRider,
				signInFn: func(ctx context.Context, in account.SignInInput) (account.SignInResult, error) {
					gotPush = in.PushToken
					if tt.err != nil {
						return account.SignInResult{}, tt.err
					}
					return account.SignInResult{
						Principal:   principal.Summary{ID: "p-1", Username: "amine", Email: in.Email, Roles: []string{"user"}},
						AccessToken: "tok",
						ExpiresAt:   expires,
					}, nil
				},
			}
			h := handlers.NewAuthHandler(fake, "")
			r := setupRouter(http.MethodPost, "/signin", h.SignIn)

			w := doJSON(r, http.MethodPost, "/signin", `{"email":"a@example.com","password":"x","fcmToken":"fcm-1"}`)

			if w.Code != tt.wantStatusCode {
				t.Fatalf("expected status %d, got %d, body=%s", tt.wantStatusCode, w.Code, w.Body.String())
			}
			if gotPush != "fcm-1" {
				t.Fatalf("push token not forwarded, got %q", gotPush)
			}

			if tt.wantCode == "" {
				var resp handlers.SignInResponse
				if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
					t.Fatalf("unmarshal: %v", err)
				}
				if resp.ID != "p-1" || resp.AccessToken != "tok" || !resp.ExpiresAt.Equal(expires) {
					t.Fatalf("unexpected response %+v", resp)
				}
				return
			}

			env := decodeError(t, w)
			if env.Error.Code != tt.wantCode {
				t.Fatalf("expected code %s, got %s", tt.wantCode, env.Error.Code)
			}
			if tt.wantUserID != "" && env.Error.Details["userId"] != tt.wantUserID {
				t.Fatalf("expected details.userId=%s, got %v", tt.wantUserID, env.Error.Details)
			}
		})
	}
}

func TestVerifyAndResendStatusMapping(t *testing.T) {
	tests := []struct {
		name           string
		path           string
		body           string
		setup          func(*fakeAccounts)
		handler        func(*handlers.AuthHandler) gin.HandlerFunc
		wantStatusCode int
	}{
		{
			name: "verify_invalid_code",
			path: "/verify-email",
			body: `{"userId":"p-1","verificationCode":"000000"}`,
			setup: func(f *fakeAccounts) {
				f.verifyFn = func(ctx context.Context, id, code string) error {
					return apperr.New(apperr.CodeInvalidCode, "invalid or expired verification code")
				}
			},
			handler:        func(h *handlers.AuthHandler) gin.HandlerFunc { return h.VerifyEmail },
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name: "verify_already_verified",
			path: "/verify-email",
			body: `{"userId":"p-1","verificationCode":"123456"}`,
			setup: func(f *fakeAccounts) {
				f.verifyFn = func(ctx context.Context, id, code string) error {
					return apperr.New(apperr.CodeAlreadyVerified, "email already verified")
				}
			},
			handler:        func(h *handlers.AuthHandler) gin.HandlerFunc { return h.VerifyEmail },
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name:           "verify_ok",
			path:           "/verify-email",
			body:           `{"userId":"p-1","verificationCode":"123456"}`,
			handler:        func(h *handlers.AuthHandler) gin.HandlerFunc { return h.VerifyEmail },
			wantStatusCode: http.StatusOK,
		},
		{
			name: "resend_mail_down",
			path: "/resend-verification",
			body: `{"email":"a@example.com"}`,
			setup: func(f *fakeAccounts) {
				f.resendFn = func(ctx context.Context, email string) error {
					return apperr.Notification(errors.New("smtp down"))
				}
			},
			handler:        func(h *handlers.AuthHandler) gin.HandlerFunc { return h.ResendVerification },
			wantStatusCode: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeAccounts{kind: principal.KindRider}
			if tt.setup != nil {
				tt.setup(fake)
			}
			h := handlers.NewAuthHandler(fake, "")
			r := setupRouter(http.MethodPost, tt.path, tt.handler(h))

			w := doJSON(r, http.MethodPost, tt.path, tt.body)
			if w.Code != tt.wantStatusCode {
				t.Fatalf("expected status %d, got %d, body=%s", tt.wantStatusCode, w.Code, w.Body.String())
			}
		})
	}
}

func TestForgotPasswordLinkBase(t *testing.T) {
	t.Run("configured", func(t *testing.T) {
		fake := &fakeAccounts{kind: principal.KindDriver}
		h := handlers.NewAuthHandler(fake, "https://api.example.com")
		r := setupRouter(http.MethodPost, "/forgot-password", h.ForgotPassword)

		w := doJSON(r, http.MethodPost, "/forgot-password", `{"email":"k@example.com"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
		}
		if fake.lastLinkBase != "https://api.example.com" {
			t.Fatalf("unexpected link base %q", fake.lastLinkBase)
		}
	})

	t.Run("request_host_in_dev", func(t *testing.T) {
		fake := &fakeAccounts{kind: principal.KindDriver}
		h := handlers.NewAuthHandler(fake, "").WithRequestHostLinks()
		r := setupRouter(http.MethodPost, "/forgot-password", h.ForgotPassword)

		req := httptest.NewRequest(http.MethodPost, "/forgot-password", bytes.NewBufferString(`{"email":"k@example.com"}`))
		req.Host = "trajets.local:8080"
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if fake.lastLinkBase != "http://trajets.local:8080" {
			t.Fatalf("unexpected link base %q", fake.lastLinkBase)
		}
	})

	t.Run("request_host_ignored_without_fallback", func(t *testing.T) {
		fake := &fakeAccounts{kind: principal.KindDriver}
		h := handlers.NewAuthHandler(fake, "")
		r := setupRouter(http.MethodPost, "/forgot-password", h.ForgotPassword)

		req := httptest.NewRequest(http.MethodPost, "/forgot-password", bytes.NewBufferString(`{"email":"k@example.com"}`))
		req.Host = "attacker.example"
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d body=%s", w.Code, w.Body.String())
		}
		if fake.forgotCalls != 0 || fake.lastLinkBase != "" {
			t.Fatalf("no reset mail may be sent with a host-derived link, got %q", fake.lastLinkBase)
		}
	})
}

func TestResetPasswordUsesPathToken(t *testing.T) {
	fake := &fakeAccounts{
		kind: principal.KindRider,
		resetFn: func(ctx context.Context, raw, password string) error {
			if raw == "expired" {
				return apperr.New(apperr.CodeInvalidOrExpiredToken, "password reset token is invalid or has expired")
			}
			return nil
		},
	}
	h := handlers.NewAuthHandler(fake, "")
	r := setupRouter(http.MethodPost, "/reset-password/:token", h.ResetPassword)

	w := doJSON(r, http.MethodPost, "/reset-password/abc123", `{"password":"brand-new"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	if fake.lastResetWith != "abc123" {
		t.Fatalf("expected token from path, got %q", fake.lastResetWith)
	}

	w = doJSON(r, http.MethodPost, "/reset-password/expired", `{"password":"brand-new"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if env := decodeError(t, w); env.Error.Code != "INVALID_OR_EXPIRED_TOKEN" {
		t.Fatalf("unexpected code %s", env.Error.Code)
	}
}
