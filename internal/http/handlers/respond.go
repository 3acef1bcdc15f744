package handlers

import (
	"errors"
	"net/http"

	"github.com/geocoder89/trajethub/internal/apperr"
	"github.com/geocoder89/trajethub/internal/http/middlewares"
	"github.com/geocoder89/trajethub/internal/observability"
	"github.com/gin-gonic/gin"
)

// APIError is the body of every error response, wrapped as {"error": ...}.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
	Details   any    `json:"details,omitempty"`
}

func requestIDFrom(ctx *gin.Context) string {
	if id, ok := observability.RequestIDFrom(ctx.Request.Context()); ok {
		return id
	}
	return ctx.GetString(middlewares.CtxRequestID)
}

func RespondError(ctx *gin.Context, status int, code, message string, details any) {
	ctx.JSON(status, gin.H{"error": APIError{
		Code:      code,
		Message:   message,
		RequestID: requestIDFrom(ctx),
		Details:   details,
	}})
}

func RespondBadRequest(ctx *gin.Context, message string, details any) {
	RespondError(ctx, http.StatusBadRequest, string(apperr.CodeValidation), message, details)
}

func RespondInternal(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusInternalServerError, "INTERNAL_ERROR", message, nil)
}

var statusByCode = map[apperr.Code]int{
	apperr.CodeValidation:            http.StatusBadRequest,
	apperr.CodeAlreadyVerified:       http.StatusBadRequest,
	apperr.CodeInvalidCode:           http.StatusBadRequest,
	apperr.CodeInvalidOrExpiredToken: http.StatusBadRequest,
	apperr.CodeInvalidCredentials:    http.StatusUnauthorized,
	apperr.CodeUnverified:            http.StatusForbidden,
	apperr.CodeNotFound:              http.StatusNotFound,
	apperr.CodeConflict:              http.StatusConflict,
	apperr.CodeNotification:          http.StatusBadGateway,
}

// RespondAppError renders a service error. Persistence failures and anything
// unrecognised become a generic 500 so causes never leak to clients.
func RespondAppError(ctx *gin.Context, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		_ = ctx.Error(err)
		RespondInternal(ctx, "Internal server error")
		return
	}

	status, ok := statusByCode[appErr.Code]
	if !ok {
		_ = ctx.Error(err)
		RespondInternal(ctx, "Internal server error")
		return
	}

	var details any
	if appErr.Code == apperr.CodeUnverified && appErr.PrincipalID != "" {
		details = gin.H{"userId": appErr.PrincipalID}
	}

	RespondError(ctx, status, string(appErr.Code), appErr.Message, details)
}
