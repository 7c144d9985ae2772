package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/ruralpay/tourwallet/docs"
	"github.com/ruralpay/tourwallet/internal/config"
	"github.com/ruralpay/tourwallet/internal/conflict"
	"github.com/ruralpay/tourwallet/internal/database"
	"github.com/ruralpay/tourwallet/internal/events"
	"github.com/ruralpay/tourwallet/internal/fraud"
	"github.com/ruralpay/tourwallet/internal/handlers"
	"github.com/ruralpay/tourwallet/internal/hsm"
	"github.com/ruralpay/tourwallet/internal/ledger"
	mW "github.com/ruralpay/tourwallet/internal/middleware"
	"github.com/ruralpay/tourwallet/internal/providers"
	"github.com/ruralpay/tourwallet/internal/queue"
	"github.com/ruralpay/tourwallet/internal/services"
	"github.com/ruralpay/tourwallet/internal/settlement"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// @title Tour Wallet API
// @version 1.0
// @description Wristband wallet top-ups, spends and offline settlement
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	_ = godotenv.Load()

	viper.AutomaticEnv()

	viper.BindEnv("log.level", "LOG_LEVEL")

	viper.BindEnv("database.url", "DATABASE_URL")
	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("signer.master_key", "SIGNER_MASTER_KEY")
	viper.BindEnv("signer.salt", "SIGNER_SALT")
	viper.BindEnv("signer.key_id", "SIGNER_KEY_ID")
	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")

	viper.BindEnv("wallet.currency", "WALLET_CURRENCY")
	viper.BindEnv("wallet.single_transaction_ceiling", "WALLET_SINGLE_TRANSACTION_CEILING")
	viper.BindEnv("wallet.velocity_max", "WALLET_VELOCITY_MAX")
	viper.BindEnv("wallet.velocity_window", "WALLET_VELOCITY_WINDOW")
	viper.BindEnv("wallet.day_boundary_tz", "WALLET_DAY_BOUNDARY_TZ")
	viper.BindEnv("wallet.offline_counts_toward_daily", "WALLET_OFFLINE_COUNTS_TOWARD_DAILY")
	viper.BindEnv("wallet.offline_limit_mode", "WALLET_OFFLINE_LIMIT_MODE")
	viper.BindEnv("wallet.ledger_backend", "WALLET_LEDGER_BACKEND")
	viper.BindEnv("wallet.queue_backend", "WALLET_QUEUE_BACKEND")
	viper.BindEnv("wallet.velocity_backend", "WALLET_VELOCITY_BACKEND")
	viper.BindEnv("reconcile.schedule", "RECONCILE_SCHEDULE")
	viper.BindEnv("reconcile.workers", "RECONCILE_WORKERS")
	viper.BindEnv("providers.file", "PROVIDERS_FILE")
	viper.BindEnv("events.amqp_url", "AMQP_URL")
	viper.BindEnv("events.exchange", "EVENTS_EXCHANGE")
	viper.BindEnv("swagger.host", "SWAGGER_HOST")

	logger := newLogger(viper.GetString("log.level"))
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	walletCfg, err := config.LoadWalletConfig()
	if err != nil {
		logger.Fatal("invalid wallet configuration", zap.Error(err))
	}
	mode, err := conflict.ParseOfflineLimitMode(walletCfg.OfflineLimitMode)
	if err != nil {
		logger.Fatal("invalid wallet configuration", zap.Error(err))
	}

	providerCfgs, err := config.LoadProviders(walletCfg.ProvidersFile)
	if err != nil {
		logger.Fatal("failed to load providers", zap.Error(err))
	}
	registry, err := providers.FromConfig(providerCfgs, &http.Client{})
	if err != nil {
		logger.Fatal("failed to build provider registry", zap.Error(err))
	}
	logger.Info("payment providers registered", zap.Any("providers", registry.Keys()))

	docs.SwaggerInfo.Host = viper.GetString("swagger.host")
	if docs.SwaggerInfo.Host == "" {
		docs.SwaggerInfo.Host = "localhost:8080"
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()

	var db *sql.DB
	if walletCfg.LedgerBackend == "postgres" {
		db, err = database.InitDB(startCtx)
		if err != nil {
			logger.Fatal("failed to initialize database", zap.Error(err))
		}
		defer db.Close()
	}

	var redisClient *redis.Client
	if walletCfg.QueueBackend == "redis" || walletCfg.VelocityBackend == "redis" {
		redisClient = database.InitRedis(startCtx)
		if redisClient != nil {
			defer redisClient.Close()
		}
	}

	audit := hsm.NewAuditLogger(logger)
	signer, err := hsm.InitSigner(hsm.Config{
		MasterKey:   walletCfg.SignerMasterKey,
		Salt:        []byte(walletCfg.SignerSalt),
		KeyID:       walletCfg.SignerKeyID,
		AuditLogger: audit,
	})
	if err != nil {
		logger.Fatal("failed to initialize signer", zap.Error(err))
	}

	var store ledger.Store
	if db != nil {
		store = ledger.NewPostgresStore(db)
	} else {
		logger.Warn("using in-memory ledger, balances will not survive a restart")
		store = ledger.NewMemoryStore()
	}
	walletLedger := ledger.New(store,
		ledger.WithDayBoundary(walletCfg.DayBoundary),
		ledger.WithAuditLogger(audit),
		ledger.WithVerifier(signer),
	)

	var offlineQueue queue.Queue
	if walletCfg.QueueBackend == "redis" && redisClient != nil {
		offlineQueue = queue.NewRedisQueue(redisClient)
	} else {
		offlineQueue = queue.NewMemoryQueue(0)
	}

	var velocity fraud.VelocityCounter
	if walletCfg.VelocityBackend == "redis" && redisClient != nil {
		velocity = fraud.NewRedisVelocity(redisClient, walletCfg.VelocityWindow)
	} else {
		velocity = fraud.NewMemoryVelocity(walletCfg.VelocityWindow)
	}

	gate := fraud.NewGate(fraud.Config{
		SingleTransactionCeiling: walletCfg.SingleTransactionCeiling,
		VelocityMax:              walletCfg.VelocityMax,
		VelocityWindow:           walletCfg.VelocityWindow,
	})

	eventsCfg := config.LoadEventsConfig()
	publisher := events.Connect(eventsCfg.AMQPURL, eventsCfg.Exchange)
	defer publisher.Close()
	review := events.NewReviewSink(publisher)

	resolver := conflict.NewResolver(conflict.Policy{
		OfflineLimitMode: mode,
		CountTowardDaily: walletCfg.OfflineCountsTowardDaily,
	})
	reconciler := settlement.NewReconciler(walletLedger, offlineQueue, resolver, gate, signer, publisher,
		settlement.WithWorkers(walletCfg.ReconcileWorkers),
		settlement.WithReviewSink(review),
		settlement.WithAuditLogger(audit),
	)

	scheduler := settlement.NewScheduler(reconciler, walletCfg.ReconcileSchedule, time.Minute)
	if err := scheduler.Start(); err != nil {
		logger.Fatal("failed to start reconciliation scheduler", zap.Error(err))
	}

	walletService := services.NewWalletService(services.Dependencies{
		Ledger:     walletLedger,
		Registry:   registry,
		Signer:     signer,
		Gate:       gate,
		Velocity:   velocity,
		Queue:      offlineQueue,
		Reconciler: reconciler,
		Publisher:  publisher,
		Review:     review,
		Audit:      audit,
	})

	jwtSecret := viper.GetString("jwt.secret_key")
	if jwtSecret == "" {
		logger.Fatal("jwt.secret_key is required")
	}
	auth := mW.NewAuth(jwtSecret)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Signature"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	r.Route("/api/v1", func(r chi.Router) {
		handlers.Mount(r,
			handlers.NewWalletHandler(walletService),
			handlers.NewProviderHandler(walletService),
			auth,
		)
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 65 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	select {
	case <-scheduler.Stop().Done():
	case <-ctx.Done():
		logger.Warn("reconciliation sweep still running at shutdown")
	}

	logger.Info("server stopped")
}

func newLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if level != "" {
		if lvl, err := zapcore.ParseLevel(level); err == nil {
			cfg.Level = zap.NewAtomicLevelAt(lvl)
		}
	}

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewExample()
	}
	return logger
}
