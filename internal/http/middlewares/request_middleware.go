package middlewares

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/geocoder89/trajethub/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// CtxRequestID is the gin context key holding the request id.
	CtxRequestID = "request_id"

	requestIDHeader = "X-Request-Id"
	maxRequestIDLen = 128
)

// usableRequestID accepts short printable ASCII ids so a client value can be
// echoed into headers and logs as is.
func usableRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

func RequestID() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id := ctx.GetHeader(requestIDHeader)
		if !usableRequestID(id) {
			id = uuid.NewString()
		}

		ctx.Writer.Header().Set(requestIDHeader, id)
		ctx.Set(CtxRequestID, id)
		ctx.Request = ctx.Request.WithContext(observability.WithRequestID(ctx.Request.Context(), id))

		ctx.Next()
	}
}

// RequestLogger writes one record per request. 5xx responses log at error
// level and 4xx at warn.
func RequestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()

		ctx.Next()

		route := ctx.FullPath()
		if route == "" {
			route = ctx.Request.URL.Path
		}
		status := ctx.Writer.Status()

		attrs := []slog.Attr{
			slog.String("method", ctx.Request.Method),
			slog.String("route", route),
			slog.Int("status", status),
			slog.Int64("latency_ms", time.Since(start).Milliseconds()),
			slog.Int("bytes", ctx.Writer.Size()),
			slog.String("client_ip", ctx.ClientIP()),
		}
		if claims, ok := IdentityFromContext(ctx); ok {
			attrs = append(attrs,
				slog.String("principal_id", claims.PrincipalID),
				slog.String("principal_kind", string(claims.Kind)),
			)
		}

		level := slog.LevelInfo
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}

		log.LogAttrs(ctx.Request.Context(), level, "http_request", attrs...)
	}
}
