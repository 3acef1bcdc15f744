package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/geocoder89/trajethub/internal/account"
	"github.com/geocoder89/trajethub/internal/config"
	"github.com/geocoder89/trajethub/internal/domain/principal"
	"github.com/gin-gonic/gin"
)

type AccountService interface {
	Kind() principal.Kind
	Signup(ctx context.Context, in account.SignupInput) (account.SignupResult, error)
	VerifyEmail(ctx context.Context, principalID, code string) error
	ResendVerification(ctx context.Context, email string) error
	SignIn(ctx context.Context, in account.SignInInput) (account.SignInResult, error)
	ForgotPassword(ctx context.Context, email, linkBase string) error
	ValidateResetToken(ctx context.Context, raw string) error
	ResetPassword(ctx context.Context, raw, newPassword string) error
}

// AuthHandler serves the auth routes of one principal kind. The router mounts
// one instance for riders and one for drivers.
type AuthHandler struct {
	accounts      AccountService
	publicBaseURL string
	hostFallback  bool
}

func NewAuthHandler(accounts AccountService, publicBaseURL string) *AuthHandler {
	return &AuthHandler{
		accounts:      accounts,
		publicBaseURL: publicBaseURL,
	}
}

// WithRequestHostLinks lets reset links fall back to the request host when no
// public URL is configured. The Host header is client controlled, so the
// router only enables this in dev.
func (h *AuthHandler) WithRequestHostLinks() *AuthHandler {
	h.hostFallback = true
	return h
}

type SignUpRequest struct {
	Username    string   `json:"username" binding:"required"`
	Email       string   `json:"email" binding:"required,email"`
	Password    string   `json:"password" binding:"required,min=6"`
	PhoneNumber string   `json:"phoneNumber"`
	Roles       []string `json:"roles" binding:"omitempty,dive,required"`
}

type SignInRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	FCMToken string `json:"fcmToken"`
}

type VerifyEmailRequest struct {
	UserID           string `json:"userId" binding:"required"`
	VerificationCode string `json:"verificationCode" binding:"required"`
}

type EmailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type ResetPasswordRequest struct {
	Password string `json:"password" binding:"required,min=6"`
}

type SignInResponse struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	Roles       []string  `json:"roles"`
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

func (h *AuthHandler) SignUp(ctx *gin.Context) {
	var req SignUpRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(ctx.Request.Context(), 10*time.Second)
	defer cancel()

	res, err := h.accounts.Signup(cctx, account.SignupInput{
		Username:    req.Username,
		Email:       req.Email,
		Password:    req.Password,
		PhoneNumber: req.PhoneNumber,
		Roles:       req.Roles,
	})
	if err != nil {
		RespondAppError(ctx, err)
		return
	}

	message := "Registered successfully! Please check your email for the verification code."
	if !res.VerificationSent {
		message = "Registered successfully, but the verification email could not be sent. Please request a new code."
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"message":          message,
		"userId":           res.PrincipalID,
		"verificationSent": res.VerificationSent,
	})
}

func (h *AuthHandler) SignIn(ctx *gin.Context) {
	var req SignInRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(ctx.Request.Context(), 5*time.Second)
	defer cancel()

	res, err := h.accounts.SignIn(cctx, account.SignInInput{
		Email:     req.Email,
		Password:  req.Password,
		PushToken: req.FCMToken,
	})
	if err != nil {
		RespondAppError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, SignInResponse{
		ID:          res.Principal.ID,
		Username:    res.Principal.Username,
		Email:       res.Principal.Email,
		Roles:       res.Principal.Roles,
		AccessToken: res.AccessToken,
		ExpiresAt:   res.ExpiresAt,
	})
}

func (h *AuthHandler) VerifyEmail(ctx *gin.Context) {
	var req VerifyEmailRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(ctx.Request.Context(), 5*time.Second)
	defer cancel()

	if err := h.accounts.VerifyEmail(cctx, req.UserID, req.VerificationCode); err != nil {
		RespondAppError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "Email verified successfully. You can now log in."})
}

func (h *AuthHandler) ResendVerification(ctx *gin.Context) {
	var req EmailRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(ctx.Request.Context(), 10*time.Second)
	defer cancel()

	if err := h.accounts.ResendVerification(cctx, req.Email); err != nil {
		RespondAppError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "Verification code resent successfully."})
}

func (h *AuthHandler) ForgotPassword(ctx *gin.Context) {
	var req EmailRequest

	if !BindJSON(ctx, &req) {
		return
	}

	base, ok := h.linkBase(ctx)
	if !ok {
		_ = ctx.Error(errors.New("reset link base is not configured"))
		RespondInternal(ctx, "Password reset is not available")
		return
	}

	cctx, cancel := config.WithTimeout(ctx.Request.Context(), 10*time.Second)
	defer cancel()

	if err := h.accounts.ForgotPassword(cctx, req.Email, base); err != nil {
		RespondAppError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "Password reset link sent to your email."})
}

func (h *AuthHandler) ValidateResetToken(ctx *gin.Context) {
	cctx, cancel := config.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	if err := h.accounts.ValidateResetToken(cctx, ctx.Param("token")); err != nil {
		RespondAppError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "Token is valid."})
}

func (h *AuthHandler) ResetPassword(ctx *gin.Context) {
	var req ResetPasswordRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(ctx.Request.Context(), 5*time.Second)
	defer cancel()

	if err := h.accounts.ResetPassword(cctx, ctx.Param("token"), req.Password); err != nil {
		RespondAppError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "Password has been reset successfully."})
}

// linkBase prefers the configured public URL. The request host is only used
// when the handler was built WithRequestHostLinks.
func (h *AuthHandler) linkBase(ctx *gin.Context) (string, bool) {
	if h.publicBaseURL != "" {
		return h.publicBaseURL, true
	}
	if !h.hostFallback {
		return "", false
	}

	scheme := "http"
	if ctx.Request.TLS != nil || ctx.GetHeader("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + ctx.Request.Host, true
}
