// Command api runs the billing HTTP server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/ulule/limiter/v3"
	limitermw "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/inkwell-labs/billing-api/internal/auth"
	"github.com/inkwell-labs/billing-api/internal/checkout"
	"github.com/inkwell-labs/billing-api/internal/common"
	"github.com/inkwell-labs/billing-api/internal/config"
	"github.com/inkwell-labs/billing-api/internal/db"
	"github.com/inkwell-labs/billing-api/internal/events"
	"github.com/inkwell-labs/billing-api/internal/health"
	"github.com/inkwell-labs/billing-api/internal/obs"
	"github.com/inkwell-labs/billing-api/internal/order"
	"github.com/inkwell-labs/billing-api/internal/payment"
	"github.com/inkwell-labs/billing-api/internal/plan"
	"github.com/inkwell-labs/billing-api/internal/queue"
	"github.com/inkwell-labs/billing-api/internal/redemption"
	"github.com/inkwell-labs/billing-api/internal/subscription"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("config load failed")
	}

	logger := obs.NewLogger(os.Getenv("LOG_FORMAT"), os.Getenv("LOG_LEVEL"))
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if os.Getenv("TRACING_ENABLED") == "true" {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName: "billing-api",
			Endpoint:    os.Getenv("TRACING_ENDPOINT"),
			Environment: cfg.AppEnv,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("tracer init failed")
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
	}

	obs.MustRegisterDomainMetrics("billing", nil)
	httpMetrics := obs.NewHTTPMetrics("billing", obs.ParseBucketsCSV(os.Getenv("HTTP_METRIC_BUCKETS")), nil)

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid DATABASE_URL")
	}
	poolCfg.ConnConfig.Tracer = obs.PGXTracer{}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connect failed")
	}
	defer pool.Close()

	redisOpt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid REDIS_URL")
	}
	rdb := redis.NewClient(redisOpt)
	defer rdb.Close()
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		logger.Warn().Err(err).Msg("redis tracing instrumentation failed")
	}

	asynqOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid REDIS_URL for queue")
	}
	enqueuer := queue.NewClient(asynqOpt, cfg.EventQueueName)
	defer enqueuer.Close()

	store := db.New(pool)
	bus := events.NewBus(store, enqueuer, logger)
	manager := subscription.NewManager(logger)

	providerClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   cfg.ProviderTimeout,
	}
	registry := payment.NewRegistry(
		&payment.Midtrans{
			ServerKey: cfg.MidtransServerKey,
			BaseURL:   cfg.MidtransBaseURL,
			Client:    providerClient,
			Logger:    logger,
		},
		&payment.Xendit{
			SecretKey: cfg.XenditSecretKey,
			BaseURL:   cfg.XenditBaseURL,
			Client:    providerClient,
			Logger:    logger,
		},
	)

	settler := &payment.Settler{
		DB:      pool,
		Store:   payment.StoreQuerier{Store: store},
		Manager: manager,
		Bus:     bus,
		Logger:  logger,
	}
	webhookHandler := &payment.WebhookHandler{
		Registry:  registry,
		Settler:   settler,
		Redis:     rdb,
		ReplayTTL: cfg.WebhookReplayTTL,
		Logger:    logger,
	}

	validate := validator.New()
	checkoutHandlers := checkout.Handlers{
		Service: &checkout.Service{
			Store:           store,
			Registry:        registry,
			BaseCurrency:    cfg.BaseCurrency,
			FXRates:         cfg.FXRates,
			ProviderTimeout: cfg.ProviderTimeout,
			Bus:             bus,
			Logger:          logger,
			Now:             time.Now,
		},
		Validate: validate,
		Logger:   logger,
	}
	redeemHandlers := redemption.Handlers{
		Service: &redemption.Service{
			DB:           pool,
			Store:        redemption.StoreQuerier{Store: store},
			Manager:      manager,
			BaseCurrency: cfg.BaseCurrency,
			Bus:          bus,
			Logger:       logger,
			Now:          time.Now,
		},
		Validate: validate,
		Logger:   logger,
	}
	subscriptionHandlers := subscription.Handlers{
		Service: subscription.NewService(store, logger),
		Logger:  logger,
	}
	orderHandlers := order.Handlers{Store: store, Bus: bus, Logger: logger}
	planHandlers := plan.Handlers{Store: store, Logger: logger}
	healthHandlers := health.Handlers{Pool: pool, Redis: rdb}

	authn := auth.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, logger)
	idem := common.Idem{R: rdb, TTL: cfg.IdempotencyTTL}
	checkoutLimit := rateLimit(rdb, cfg.CheckoutRate, "limiter:checkout", logger)
	redeemLimit := rateLimit(rdb, cfg.RedeemRate, "limiter:redeem", logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(obs.RoutePatternMiddleware)
	r.Use(obs.TracingMiddleware)
	r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)

	r.Get("/health/live", healthHandlers.Live)
	r.Get("/health/ready", healthHandlers.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/plans", planHandlers.List)
		r.Post("/webhooks/payment/{provider}", webhookHandler.Handle)

		r.Group(func(r chi.Router) {
			r.Use(authn.RequireAuth)
			r.With(checkoutLimit, idem.Middleware).Post("/checkout", checkoutHandlers.Create)
			r.With(redeemLimit, idem.Middleware).Post("/redeem", redeemHandlers.Redeem)
			r.Get("/orders", orderHandlers.List)
			r.Get("/orders/{orderNo}", orderHandlers.Get)
			r.Post("/orders/{orderNo}/cancel", orderHandlers.Cancel)
			r.Get("/subscription", subscriptionHandlers.Current)
		})
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("billing api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}
}

func rateLimit(rdb *redis.Client, format, prefix string, logger zerolog.Logger) func(http.Handler) http.Handler {
	rate, err := limiter.NewRateFromFormatted(format)
	if err != nil {
		logger.Fatal().Err(err).Str("rate", format).Msg("invalid rate limit")
	}
	store, err := limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: prefix})
	if err != nil {
		logger.Fatal().Err(err).Msg("rate limit store init failed")
	}
	return limitermw.NewMiddleware(limiter.New(store, rate)).Handler
}
