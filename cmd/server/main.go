package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"qfs/internal/admin"
	"qfs/internal/auth"
	"qfs/internal/docstore"
	"qfs/internal/funding"
	"qfs/internal/handler"
	"qfs/internal/kyc"
	"qfs/internal/ledger"
	"qfs/internal/middleware"
	"qfs/internal/notification"
	"qfs/internal/rates"
	"qfs/internal/withdrawal"
	"qfs/pkg/cache"
	"qfs/pkg/config"
	"qfs/pkg/logger"
	"qfs/pkg/mailer"
	"qfs/pkg/validator"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New("qfs-api")

	if err := cfg.ValidateCore(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	// Connect to database
	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatal("Failed to connect to database", map[string]interface{}{"error": err.Error()})
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.URL,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatal("Failed to connect to Redis", map[string]interface{}{"error": err.Error()})
	}

	// Document store with a Redis-backed change feed
	feed := docstore.NewRedisFeed(redisClient, log)
	store := docstore.NewPostgresStore(db, feed, log)
	redisCache := cache.NewRedisCache(redisClient)

	// Price feed
	fallback, err := decimal.NewFromString(cfg.PriceFeed.FallbackRate)
	if err != nil {
		log.Fatal("Invalid fallback rate", map[string]interface{}{"error": err.Error()})
	}
	rateSvc := rates.NewService(
		rates.NewCoinGeckoProvider(cfg.PriceFeed.Endpoint),
		redisCache,
		fallback,
		cfg.PriceFeed.PollInterval,
		log,
	)
	pollCtx, stopPolling := context.WithCancel(context.Background())
	defer stopPolling()
	go rateSvc.Start(pollCtx)

	// Email
	m := mailer.New(mailer.Config{
		Host:     cfg.Email.SMTPHost,
		Port:     cfg.Email.SMTPPort,
		Username: cfg.Email.SMTPUsername,
		Password: cfg.Email.SMTPPassword,
		From:     cfg.Email.SMTPFrom,
		UseTLS:   cfg.Email.SMTPUseTLS,
	})
	notifySvc := notification.NewService(m, log)

	// Services
	verifyURL := os.Getenv("VERIFY_BASE_URL")
	if verifyURL == "" {
		verifyURL = "http://localhost:3000/verify"
	}
	val := validator.New()
	authSvc := auth.NewService(store, auth.NewRedisTokenStore(redisCache), notifySvc, cfg.JWT.Secret, cfg.JWT.Expiration, verifyURL)
	withdrawalSvc := withdrawal.NewService(store, notifySvc)
	ledgerSvc := ledger.NewService(store, rateSvc, withdrawalSvc)
	kycSvc := kyc.NewService(store, val)
	fundingSvc := funding.NewService(store, val)
	adminSvc := admin.NewService(store, ledgerSvc, fundingSvc, log)

	// Handlers
	authHandler := handler.NewAuthHandler(authSvc, val, log)
	ledgerHandler := handler.NewLedgerHandler(ledgerSvc, val, log)
	withdrawalHandler := handler.NewWithdrawalHandler(withdrawalSvc, val, log)
	kycHandler := handler.NewKYCHandler(kycSvc, val, log)
	fundingHandler := handler.NewFundingHandler(fundingSvc, val, log)
	adminHandler := handler.NewAdminHandler(adminSvc, withdrawalSvc, val, log)
	ratesHandler := handler.NewRatesHandler(rateSvc)
	streamHandler := handler.NewStreamHandler(authSvc, ledgerSvc, withdrawalSvc, log)

	// Router and middleware
	r := mux.NewRouter()
	r.Use(middleware.CORS)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.NewLoggingMiddleware(log).Log)
	r.Use(middleware.NewRateLimiter(redisClient, 120, time.Minute).Limit)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recovery)
	r.Use(middleware.BodyLimit(8 << 20))

	r.HandleFunc("/health", healthCheck).Methods("GET")

	// Public routes
	r.HandleFunc("/api/v1/auth/signup", authHandler.SignUp).Methods("POST")
	r.HandleFunc("/api/v1/auth/signin", authHandler.SignIn).Methods("POST")
	r.HandleFunc("/api/v1/auth/verify", authHandler.VerifyEmail).Methods("GET")
	r.HandleFunc("/api/v1/rates/current", ratesHandler.Current).Methods("GET")

	// Websocket authenticates via query token inside the handler.
	r.HandleFunc("/api/v1/stream", streamHandler.Serve)

	// Authenticated routes
	authMW := middleware.NewAuthMiddleware(authSvc)
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(authMW.Authenticate)
	api.HandleFunc("/auth/signout", authHandler.SignOut).Methods("POST")
	api.HandleFunc("/auth/me", authHandler.Me).Methods("GET")
	api.HandleFunc("/auth/profile", authHandler.UpdateProfile).Methods("PUT")
	api.HandleFunc("/auth/password", authHandler.ChangePassword).Methods("PUT")
	api.HandleFunc("/auth/totp/enroll", authHandler.EnrollTOTP).Methods("POST")
	api.HandleFunc("/auth/totp/activate", authHandler.ActivateTOTP).Methods("POST")

	api.HandleFunc("/balance", ledgerHandler.Balance).Methods("GET")
	api.HandleFunc("/transactions", ledgerHandler.Transactions).Methods("GET")
	api.HandleFunc("/withdrawals", ledgerHandler.Withdraw).Methods("POST")

	api.HandleFunc("/withdrawal/case", withdrawalHandler.Case).Methods("GET")
	api.HandleFunc("/withdrawal/proof", withdrawalHandler.UploadProof).Methods("POST")
	api.HandleFunc("/withdrawal/proceed", withdrawalHandler.Proceed).Methods("POST")

	api.HandleFunc("/kyc", kycHandler.Submit).Methods("POST")
	api.HandleFunc("/kyc", kycHandler.Record).Methods("GET")

	api.HandleFunc("/funding/applications", fundingHandler.Apply).Methods("POST")
	api.HandleFunc("/funding/applications", fundingHandler.Mine).Methods("GET")

	// Admin routes: authenticated, role-gated, idempotent mutations.
	idempotency := middleware.NewIdempotencyMiddleware(redisClient, 24*time.Hour)
	adminAPI := r.PathPrefix("/api/v1/admin").Subrouter()
	adminAPI.Use(authMW.Authenticate)
	adminAPI.Use(authMW.RequireAdmin)
	adminAPI.Use(idempotency.Require)
	adminAPI.HandleFunc("/users", adminHandler.ListUsers).Methods("GET")
	adminAPI.HandleFunc("/users/{userId}/deposits", adminHandler.ConfirmDeposit).Methods("POST")
	adminAPI.HandleFunc("/users/{userId}/withdrawal/approve", adminHandler.ApproveStep).Methods("POST")
	adminAPI.HandleFunc("/withdrawal/cases", adminHandler.ListCases).Methods("GET")
	adminAPI.HandleFunc("/funding/applications/{id}/review", adminHandler.ReviewApplication).Methods("POST")
	adminAPI.HandleFunc("/settings/withdrawal-policy", adminHandler.Policy).Methods("GET")
	adminAPI.HandleFunc("/settings/withdrawal-policy", adminHandler.SetPolicy).Methods("PUT")

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	go func() {
		log.Info("API server starting", map[string]interface{}{"port": cfg.Server.Port})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", map[string]interface{}{"error": err.Error()})
	}

	log.Info("Server stopped", nil)
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	_ = r
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"qfs-api"}`))
}
