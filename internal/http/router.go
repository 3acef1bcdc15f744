package http

import (
	"context"
	"log/slog"
	"time"

	"github.com/geocoder89/trajethub/internal/domain/principal"
	"github.com/geocoder89/trajethub/internal/http/handlers"
	"github.com/geocoder89/trajethub/internal/http/middlewares"
	"github.com/geocoder89/trajethub/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const maxBodyBytes = 1 << 20

type RouterDeps struct {
	Env         string
	ServiceName string
	Log         *slog.Logger

	Prom     *observability.Prom
	Registry prometheus.Gatherer

	// Ping reports store reachability for /readyz. Nil means always ready.
	Ping func(ctx context.Context) error
	// ShuttingDown flips /readyz to 503 while the server drains.
	ShuttingDown func() bool

	Riders  handlers.AccountService
	Drivers handlers.AccountService
	Trajets handlers.TrajetService

	Tokens        middlewares.TokenVerifier
	PublicBaseURL string
	CORSOrigins   []string

	// AuthRateLimit is the per-IP budget for the public auth endpoints.
	AuthRateLimit  int
	AuthRateWindow time.Duration
}

func NewRouter(d RouterDeps) *gin.Engine {
	if d.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	// middleware
	r.Use(gin.Recovery())
	r.Use(middlewares.RequestID())
	if d.ServiceName != "" {
		r.Use(otelgin.Middleware(d.ServiceName))
	}
	r.Use(middlewares.RequestLogger(d.Log))
	if d.Prom != nil {
		r.Use(d.Prom.GinHandleMiddleware())
	}
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddleware(d.CORSOrigins))
	r.Use(middlewares.MaxBodyBytes(maxBodyBytes))

	// health
	ping := d.Ping
	if ping != nil {
		ping = func(ctx context.Context) error {
			cctx, cancel := context.WithTimeout(ctx, 1*time.Second)
			defer cancel()
			return d.Ping(cctx)
		}
	}
	health := handlers.NewHealthHandler(ping, d.ShuttingDown)
	r.GET("/healthz", health.Healthz)
	r.GET("/readyz", health.Readyz)

	if d.Registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{})))
	}

	limit := d.AuthRateLimit
	if limit <= 0 {
		limit = 20
	}
	window := d.AuthRateWindow
	if window <= 0 {
		window = time.Minute
	}
	authLimiter := middlewares.NewRateLimiter(limit, window)

	api := r.Group("/api")

	riders := handlers.NewAuthHandler(d.Riders, d.PublicBaseURL)
	drivers := handlers.NewAuthHandler(d.Drivers, d.PublicBaseURL)
	if d.Env == "dev" {
		riders.WithRequestHostLinks()
		drivers.WithRequestHostLinks()
	}
	registerAuthRoutes(api.Group("/auth"), riders, authLimiter)
	registerAuthRoutes(api.Group("/auth/driver"), drivers, authLimiter)

	authMw := middlewares.NewAuthMiddleware(d.Tokens)
	trajets := handlers.NewTrajetsHandler(d.Trajets)

	tg := api.Group("/trajets")
	tg.GET("/search", trajets.Search)
	tg.GET("/recent", trajets.ListRecent)
	tg.GET("/mine", authMw.RequireAuth(), authMw.RequireKind(principal.KindDriver), trajets.ListMine)
	tg.GET("", trajets.List)
	tg.GET("/:id", trajets.GetByID)

	writes := tg.Group("", middlewares.RequireJSON())
	writes.POST("", trajets.Create)
	writes.PUT("/:id", trajets.Update)
	tg.DELETE("/:id", trajets.Delete)

	return r
}

// registerAuthRoutes mounts the account lifecycle endpoints. Rider and driver
// groups share the same shape.
func registerAuthRoutes(g *gin.RouterGroup, h *handlers.AuthHandler, limiter *middlewares.RateLimiter) {
	g.Use(limiter.RateLimiterMiddleware(middlewares.KeyByIP))

	g.POST("/signup", middlewares.RequireJSON(), h.SignUp)
	g.POST("/signin", middlewares.RequireJSON(), h.SignIn)
	g.POST("/verify-email", middlewares.RequireJSON(), h.VerifyEmail)
	g.POST("/resend-verification", middlewares.RequireJSON(), h.ResendVerification)
	g.POST("/forgot-password", middlewares.RequireJSON(), h.ForgotPassword)
	g.GET("/validate-reset-token/:token", h.ValidateResetToken)
	// the emailed link lands here
	g.GET("/reset-password/:token", h.ValidateResetToken)
	g.POST("/reset-password/:token", middlewares.RequireJSON(), h.ResetPassword)
}
