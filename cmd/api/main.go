package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/geocoder89/trajethub/internal/account"
	"github.com/geocoder89/trajethub/internal/auth"
	"github.com/geocoder89/trajethub/internal/cache"
	"github.com/geocoder89/trajethub/internal/config"
	"github.com/geocoder89/trajethub/internal/db"
	"github.com/geocoder89/trajethub/internal/domain/principal"
	httpx "github.com/geocoder89/trajethub/internal/http"
	"github.com/geocoder89/trajethub/internal/notifications"
	"github.com/geocoder89/trajethub/internal/observability"
	"github.com/geocoder89/trajethub/internal/redisclient"
	"github.com/geocoder89/trajethub/internal/repo/memory"
	"github.com/geocoder89/trajethub/internal/repo/mongodb"
	"github.com/geocoder89/trajethub/internal/repo/postgres"
	"github.com/geocoder89/trajethub/internal/retry"
	"github.com/geocoder89/trajethub/internal/security"
	"github.com/geocoder89/trajethub/internal/trajets"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/crypto/bcrypt"
)

const (
	serviceName = "trajethub-api"

	// store connections are retried so the api can start alongside its database
	connectAttempts = 6
)

type stores struct {
	riders  account.Store
	drivers account.Store
	trajets trajets.Store
	ping    func(ctx context.Context) error
	close   func()
}

func main() {
	// .env is optional; real environment wins
	_ = godotenv.Load()

	cfg := config.Load()

	log := observability.NewLogger(cfg.Env, serviceName)
	slog.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx := context.Background()

	shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName: serviceName,
		Environment: cfg.Env,
		Endpoint:    cfg.OTLPEndpoint,
		SampleRatio: cfg.OTELSampleRatio,
	})
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := observability.NewProm(reg)

	st, err := openStores(ctx, cfg, prom, log)
	if err != nil {
		log.Error("store init failed", "driver", cfg.StoreDriver, "err", err)
		os.Exit(1)
	}
	defer st.close()

	searchCache, closeCache := buildSearchCache(ctx, cfg, log)
	defer closeCache()

	notifier := buildNotifier(cfg, prom, log)

	tokens := auth.NewManager(cfg.JWTSecret, cfg.AccessTTL())
	hasher := security.NewBcryptHasher(bcrypt.DefaultCost)

	newAccounts := func(kind principal.Kind, store account.Store) *account.Service {
		return account.NewService(account.Deps{
			Store:     store,
			Hasher:    hasher,
			Tokens:    tokens,
			Notifier:  notifier,
			Log:       log,
			OnOutcome: prom.ObserveAccountOp,
		}, account.Config{
			Kind:       kind,
			CodeLength: cfg.VerificationCodeLength,
			CodeTTL:    cfg.VerificationCodeTTL(),
			ResetTTL:   cfg.ResetPasswordTTL(),
		})
	}

	trajetSvc := trajets.NewService(trajets.Deps{
		Store:         st.trajets,
		Cache:         searchCache,
		Log:           log,
		OnCacheLookup: prom.ObserveCacheLookup,
	})

	var shuttingDown atomic.Bool

	router := httpx.NewRouter(httpx.RouterDeps{
		Env:           cfg.Env,
		ServiceName:   serviceName,
		Log:           log,
		Prom:          prom,
		Registry:      reg,
		Ping:          st.ping,
		ShuttingDown:  shuttingDown.Load,
		Riders:        newAccounts(principal.KindRider, st.riders),
		Drivers:       newAccounts(principal.KindDriver, st.drivers),
		Trajets:       trajetSvc,
		Tokens:        tokens,
		PublicBaseURL: cfg.PublicBaseURL,
		CORSOrigins:   cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Port, "env", cfg.Env, "store", cfg.StoreDriver)
		err := srv.ListenAndServe()

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("server shutting down")
	shuttingDown.Store(true)

	shutdownCh := make(chan struct{})

	go func() {
		defer close(shutdownCh)

		ctx, cancel := config.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error("graceful shutdown failed", "err", err)
		}
		if err := shutdownTracer(ctx); err != nil {
			log.Error("tracer shutdown failed", "err", err)
		}
	}()

	select {
	case <-shutdownCh:
		log.Info("shutdown complete")

	case <-time.After(12 * time.Second):
		log.Error("shutdown timed out")
	}
}

func openStores(ctx context.Context, cfg config.Config, prom *observability.Prom, log *slog.Logger) (stores, error) {
	switch cfg.StoreDriver {
	case "postgres":
		var pool *pgxpool.Pool
		err := retry.Do(ctx, connectAttempts, time.Second, 10*time.Second, func(ctx context.Context) error {
			var err error
			pool, err = db.NewPool(ctx, cfg.DBURL)
			return err
		}, logRetry(log, "postgres"))
		if err != nil {
			return stores{}, err
		}
		if err := db.Migrate(ctx, cfg.DBURL); err != nil {
			pool.Close()
			return stores{}, fmt.Errorf("migrate: %w", err)
		}
		trajetsRepo := postgres.NewTrajetsRepo(pool, prom)
		return stores{
			riders:  postgres.NewPrincipalsRepo(pool, prom, principal.KindRider),
			drivers: postgres.NewPrincipalsRepo(pool, prom, principal.KindDriver),
			trajets: trajetsRepo,
			ping:    trajetsRepo.Ping,
			close:   pool.Close,
		}, nil

	case "mongo", "mongodb":
		var client *mongo.Client
		err := retry.Do(ctx, connectAttempts, time.Second, 10*time.Second, func(ctx context.Context) error {
			var err error
			client, err = mongodb.Connect(ctx, cfg.MongoURI)
			return err
		}, logRetry(log, "mongo"))
		if err != nil {
			return stores{}, err
		}
		database := client.Database(cfg.MongoDB)
		if err := mongodb.EnsureIndexes(ctx, database); err != nil {
			_ = client.Disconnect(context.Background())
			return stores{}, err
		}
		trajetsRepo := mongodb.NewTrajetsRepo(database, prom)
		return stores{
			riders:  mongodb.NewPrincipalsRepo(database, prom, principal.KindRider),
			drivers: mongodb.NewPrincipalsRepo(database, prom, principal.KindDriver),
			trajets: trajetsRepo,
			ping:    trajetsRepo.Ping,
			close: func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = client.Disconnect(ctx)
			},
		}, nil

	case "memory":
		log.Warn("using in-memory store; data is lost on restart")
		return stores{
			riders:  memory.NewPrincipalsRepo(),
			drivers: memory.NewPrincipalsRepo(),
			trajets: memory.NewTrajetsRepo(),
			close:   func() {},
		}, nil
	}

	return stores{}, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
}

func logRetry(log *slog.Logger, store string) func(int, error, time.Duration) {
	return func(attempt int, err error, wait time.Duration) {
		log.Warn("store not reachable yet", "store", store, "attempt", attempt+1, "retry_in", wait.String(), "err", err)
	}
}

// buildSearchCache prefers redis so every replica shares one cache; without
// REDIS_ADDR it falls back to a per-process cache.
func buildSearchCache(ctx context.Context, cfg config.Config, log *slog.Logger) (cache.Store, func()) {
	ttl := cfg.SearchCacheTTL()
	if ttl <= 0 {
		return cache.Noop{}, func() {}
	}
	if cfg.RedisAddr == "" {
		return cache.New(ttl), func() {}
	}

	rc := redisclient.New(redisclient.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx); err != nil {
		log.Warn("redis unreachable, using in-process search cache", "addr", cfg.RedisAddr, "err", err)
		_ = rc.Close()
		return cache.New(ttl), func() {}
	}

	return cache.NewRedis(rc.Raw(), "trajethub:search", ttl, log), func() { _ = rc.Close() }
}

func buildNotifier(cfg config.Config, prom *observability.Prom, log *slog.Logger) notifications.Notifier {
	var inner notifications.Notifier = notifications.NewLogNotifier(log)

	if cfg.SMTP.Host != "" {
		smtp, err := notifications.NewSMTPNotifier(cfg.SMTP)
		if err != nil {
			log.Error("smtp notifier init failed, falling back to log notifier", "err", err)
		} else {
			inner = smtp
		}
	}

	return notifications.NewProtectedNotifier(inner, notifications.ProtectedNotifierConfig{
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMaxCalls: 1,
	}, prom.NotificationObserver(func(err error) bool {
		return errors.Is(err, notifications.ErrCircuitOpen)
	}))
}
