package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	_ "github.com/joho/godotenv/autoload"

	"github.com/sjperalta/rcm-ledger/internal/app"
	"github.com/sjperalta/rcm-ledger/internal/config"
	"github.com/sjperalta/rcm-ledger/internal/handlers"
	"github.com/sjperalta/rcm-ledger/internal/jobs"
	"github.com/sjperalta/rcm-ledger/internal/middleware"
	"github.com/sjperalta/rcm-ledger/internal/services"
	"github.com/sjperalta/rcm-ledger/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Setup(cfg.Environment, cfg.LogLevel)

	// Initialize Sentry when DSN is configured
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			TracesSampleRate: 0.2,
			Environment:      cfg.Environment,
		}); err != nil {
			logger.Error("Sentry initialization failed", "error", err)
		} else {
			logger.Info("Sentry initialized")
		}
	}

	// Set Gin mode
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Connect, migrate and wire services
	ledger, err := app.New(cfg, true)
	if err != nil {
		logger.Error("Failed to initialize ledger", "error", err)
		os.Exit(1)
	}
	logger.Info("Connected to database")

	// Schedule recurring jobs
	scheduleJobs(ledger.Worker, ledger.Services)

	// Initialize handlers
	h := handlers.NewHandlers(ledger.Services, ledger.DB, ledger.Worker)

	// Setup router
	router := setupRouter(h, cfg)

	// Batch requests may run up to the batch transaction timeout
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.BatchTxTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	// Drain hooks, close the publisher and the database
	if err := ledger.Close(); err != nil {
		logger.Error("Ledger shutdown failed", "error", err)
	}
	logger.Info("Background worker stopped")

	// Flush Sentry events before exit
	if cfg.SentryDSN != "" {
		sentry.Flush(5 * time.Second)
	}

	logger.Info("Server exited gracefully")
}

func setupRouter(h *handlers.Handlers, cfg *config.Config) *gin.Engine {
	router := gin.New()

	// Global middleware
	if cfg.SentryDSN != "" {
		router.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORS(cfg.AllowedOrigins))
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	// API v1 routes; writes must name the acting user
	v1 := router.Group("/api/v1")
	v1.Use(middleware.Actor())
	h.Register(v1)

	return router
}

func scheduleJobs(worker *jobs.Worker, svcs *services.Services) {
	// Recompute balances hourly and report drift
	worker.ScheduleEvery(1*time.Hour, func(ctx context.Context) error {
		logger.Info("[Job] Reconciling patient accounts...")
		report, err := svcs.Reconciliation.ReconcileAll(ctx)
		if err != nil {
			return err
		}
		if report.DriftedAccounts > 0 || len(report.UnbalancedClaims) > 0 {
			sentry.CaptureMessage("ledger reconciliation found drift")
		}
		return nil
	})

	logger.Info("Scheduled recurring jobs")
}
