// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/shopspring/decimal"

	"github.com/meridianbank/transferauth/internal/authz"
	"github.com/meridianbank/transferauth/internal/config"
	"github.com/meridianbank/transferauth/internal/events"
	"github.com/meridianbank/transferauth/internal/health"
	"github.com/meridianbank/transferauth/internal/history"
	"github.com/meridianbank/transferauth/internal/idempotency"
	"github.com/meridianbank/transferauth/internal/idgen"
	"github.com/meridianbank/transferauth/internal/ledger"
	"github.com/meridianbank/transferauth/internal/logging"
	"github.com/meridianbank/transferauth/internal/metrics"
	"github.com/meridianbank/transferauth/internal/notify"
	"github.com/meridianbank/transferauth/internal/risk"
	"github.com/meridianbank/transferauth/internal/stp"
	"github.com/meridianbank/transferauth/internal/transfer"
	"github.com/meridianbank/transferauth/internal/validation"
)

// DevLedgerBalance is the per-account balance of the in-memory ledger used
// when no real posting backend is attached.
var DevLedgerBalance = decimal.NewFromInt(1_000_000)

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg       *config.Config
	db        *sql.DB // nil if using in-memory
	service   *transfer.Service
	scheduler *transfer.Timer
	guard     *idempotency.Guard
	stpStore  stp.Store
	evaluator *stp.Evaluator
	publisher events.Publisher
	checks    *health.Registry
	router    *gin.Engine
	httpSrv   *http.Server
	logger    *slog.Logger

	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
		checks: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	var (
		transferStore transfer.Store
		idemStore     idempotency.Store
		riskStore     risk.Store
		profileStore  history.Store
	)

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		transferStore = transfer.NewPostgresStore(db)
		idemStore = idempotency.NewPostgresStore(db)
		riskStore = risk.NewPostgresStore(db)
		profileStore = history.NewPostgresStore(db)
		s.stpStore = stp.NewPostgresStore(db)
		s.checks.Register("database", health.DatabaseChecker(db))
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		transferStore = transfer.NewMemoryStore()
		idemStore = idempotency.NewMemoryStore()
		riskStore = risk.NewMemoryStore()
		profileStore = history.NewMemoryStore()
		s.stpStore = stp.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Lifecycle event stream
	if len(cfg.KafkaBrokers) > 0 {
		s.publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, s.logger)
		s.logger.Info("lifecycle events enabled", "topic", cfg.KafkaTopic)
	} else {
		s.publisher = events.Noop{}
	}

	// Notifications
	var notifier notify.Notifier = notify.Noop{}
	if cfg.CodeWebhookURL != "" || cfg.ApproverWebhookURL != "" {
		notifier = notify.NewWebhookNotifier(
			cfg.CodeWebhookURL, cfg.ApproverWebhookURL, cfg.WebhookSecret, s.logger)
		s.logger.Info("webhook notifications enabled")
	}

	scorer := risk.NewScorer(riskStore)
	s.evaluator = stp.NewEvaluator(s.stpStore)
	gate := authz.NewGate(authz.Thresholds{
		Suspicious:      cfg.HighRiskThreshold,
		TwoFactorScore:  cfg.TwoFactorScore,
		TwoFactorAmount: cfg.TwoFactorAmount,
		ApprovalCeiling: cfg.ApprovalCeiling,
	})
	s.guard = idempotency.NewGuard(idemStore, cfg.IdempotencyTTL)
	machine := transfer.NewMachine(transferStore, s.publisher, s.logger)

	// Account postings go through the dev ledger until a real backend is
	// wired. Approved transfers stay retryable when it reports an outage.
	led := ledger.NewMemoryLedger(DevLedgerBalance)

	s.service = transfer.NewService(transferStore, machine, s.guard, scorer, s.evaluator, gate, s.logger).
		WithProfiles(profileStore).
		WithRiskStore(riskStore).
		WithLedger(led).
		WithNotifier(notifier).
		WithWindows(cfg.ChallengeTTL, cfg.ApprovalSLA, 0)

	s.scheduler = transfer.NewTimer(s.service, transferStore, s.logger).
		WithInterval(cfg.SweepInterval)
	s.checks.Register("scheduler", health.SchedulerChecker(s.scheduler.Running))

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Honor an existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.WithPrefix("req_")
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")

	transferHandler := transfer.NewHandler(s.service)
	transferHandler.RegisterRoutes(v1)

	// Rule administration. In production this sits behind the internal
	// gateway; the service itself does not authenticate operators.
	admin := v1.Group("/admin")
	stp.NewHandler(s.stpStore, s.evaluator).RegisterRoutes(admin)
}

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.checks.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Escalation/expiry/retry scheduler
	go s.scheduler.Start(runCtx)

	// Idempotency record retention
	go s.sweepIdempotency(runCtx)

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

func (s *Server) sweepIdempotency(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.guard.SweepExpired(ctx)
			if err != nil {
				s.logger.Warn("idempotency sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				s.logger.Info("expired idempotency records removed", "count", removed)
			}
		}
	}
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if s.scheduler != nil {
		s.scheduler.Stop()
		s.logger.Info("scheduler stopped")
	}

	if err := s.publisher.Close(); err != nil {
		s.logger.Error("event publisher close error", "error", err)
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
