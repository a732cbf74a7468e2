// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
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

	"github.com/ivooa3/mybidly/internal/bid"
	"github.com/ivooa3/mybidly/internal/config"
	"github.com/ivooa3/mybidly/internal/health"
	"github.com/ivooa3/mybidly/internal/logging"
	"github.com/ivooa3/mybidly/internal/merchant"
	"github.com/ivooa3/mybidly/internal/metrics"
	"github.com/ivooa3/mybidly/internal/notify"
	"github.com/ivooa3/mybidly/internal/offer"
	"github.com/ivooa3/mybidly/internal/payment"
	"github.com/ivooa3/mybidly/internal/ratelimit"
	"github.com/ivooa3/mybidly/internal/realtime"
	"github.com/ivooa3/mybidly/internal/reconcile"
	"github.com/ivooa3/mybidly/internal/security"
	"github.com/ivooa3/mybidly/internal/validation"
	"github.com/ivooa3/mybidly/internal/widget"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	gateway      payment.Gateway
	merchants    *merchant.Service
	offers       *offer.Service
	bids         *bid.Service
	sweeper      *bid.Sweeper
	reconciler   *reconcile.Reconciler
	dispatcher   *notify.Dispatcher
	realtimeHub  *realtime.Hub
	checks       *health.Registry
	rateLimiter  *ratelimit.Limiter
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
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

// WithGateway sets a custom payment gateway (for testing)
func WithGateway(g payment.Gateway) Option {
	return func(s *Server) {
		s.gateway = g
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set gateway/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Payment gateway: Stripe when a key is configured, fake otherwise.
	// Either way the gateway sits behind a circuit breaker so a processor
	// outage fails fast instead of stalling bid submissions.
	if s.gateway == nil {
		var inner payment.Gateway
		if cfg.StripeAPIKey != "" {
			inner = payment.NewStripeGateway(cfg.StripeAPIKey, "usd")
			s.logger.Info("stripe gateway enabled")
		} else {
			inner = payment.NewFakeGateway()
			s.logger.Info("using fake payment gateway (no STRIPE_API_KEY set)")
		}
		s.gateway = payment.Guard(inner, 5, 30*time.Second)
	}

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		merchantStore merchant.Store
		offerStore    offer.Store
		bidStore      bid.Store
		notifyStore   notify.Store
		viewStore     widget.ViewStore
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		merchantStore = merchant.NewPostgresStore(db)
		offerStore = offer.NewPostgresStore(db)
		bidStore = bid.NewPostgresStore(db)
		notifyStore = notify.NewPostgresStore(db)
		viewStore = widget.NewPostgresViewStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		merchantStore = merchant.NewMemoryStore()
		memBids := bid.NewMemoryStore()
		// Deleting an offer drops its bids; Postgres does this with a
		// cascading foreign key, the memory store needs the hookup.
		offerStore = offer.NewMemoryStore().WithBidCascader(memBids)
		bidStore = memBids
		notifyStore = notify.NewMemoryStore()
		viewStore = widget.NewMemoryViewStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Services
	s.merchants = merchant.NewService(merchantStore)
	s.offers = offer.NewService(offerStore)

	// Webhook dispatcher and realtime hub both observe bid lifecycle events
	s.dispatcher = notify.NewDispatcher(notifyStore).WithSigningSecret(cfg.WebhookSecret)
	s.realtimeHub = realtime.NewHub(s.logger)

	s.bids = bid.NewService(bidStore, offerStore, merchantStore, s.gateway).
		WithNotifier(fanout{
			notify.NewEmitter(s.dispatcher, s.logger),
			realtime.NewBidEvents(s.realtimeHub),
		})

	s.sweeper = bid.NewSweeper(s.bids, bidStore, s.logger).
		WithWindow(cfg.ReviewWindow).
		WithInterval(cfg.SweepInterval)

	s.reconciler = reconcile.NewReconciler(bidStore, s.gateway, s.logger).
		WithInterval(cfg.ReconcileInterval)

	// Subsystem health checks
	s.checks = health.NewRegistry()
	if s.db != nil {
		db := s.db
		s.checks.Register("database", health.WithTimeout(5*time.Second, func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		}))
	}

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes(notifyStore, viewStore)

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

// fanout delivers bid events to every registered notifier.
type fanout []bid.Notifier

func (f fanout) BidSubmitted(b *bid.Bid) {
	for _, n := range f {
		n.BidSubmitted(b)
	}
}

func (f fanout) BidAccepted(b *bid.Bid) {
	for _, n := range f {
		n.BidAccepted(b)
	}
}

func (f fanout) BidDeclined(b *bid.Bid) {
	for _, n := range f {
		n.BidDeclined(b)
	}
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

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

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS: the widget is embedded on merchant storefronts, so the browser
	// origin is the merchant's site, not ours
	origins := []string{"*"}
	if s.cfg.WidgetOrigin != "" {
		origins = []string{s.cfg.WidgetOrigin}
	}
	s.router.Use(security.CORSMiddleware(origins))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rlCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		rlCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
		rlCfg.BurstSize = s.cfg.RateLimitRPS
	}
	s.rateLimiter = ratelimit.New(rlCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
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

		// Log level based on status code
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

// requireAdmin guards operator endpoints with the X-Admin-Secret header.
// With no secret configured (local development) the check is skipped.
func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminSecret == "" {
			c.Next()
			return
		}
		got := c.GetHeader("X-Admin-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.AdminSecret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Valid X-Admin-Secret header required",
			})
			return
		}
		c.Next()
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes(notifyStore notify.Store, viewStore widget.ViewStore) {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time bid streaming (merchant dashboards)
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")

	// SHOPPER ROUTES (public, no auth)
	// The embedded widget and the post-submit shopper pages use these.
	bidHandler := bid.NewHandler(s.bids, s.sweeper)
	bidHandler.RegisterRoutes(v1)

	widgetHandler := widget.NewHandler(s.offers, viewStore, s.logger)
	widgetHandler.RegisterRoutes(v1)

	// MERCHANT ROUTES
	// Merchant onboarding, offer management, bid decisions, webhooks,
	// widget stats. Guarded by the admin secret when one is configured.
	merchants := v1.Group("")
	merchants.Use(s.requireAdmin())
	{
		merchant.NewHandler(s.merchants).RegisterRoutes(merchants)
		offer.NewHandler(s.offers).RegisterRoutes(merchants)
		bidHandler.RegisterMerchantRoutes(merchants)
		notify.NewHandler(notifyStore).RegisterRoutes(merchants)
		widgetHandler.RegisterMerchantRoutes(merchants)
	}

	// OPERATOR ROUTES
	admin := v1.Group("/admin")
	admin.Use(s.requireAdmin())
	{
		bidHandler.RegisterAdminRoutes(admin)
		admin.POST("/reconcile", s.runReconcile)
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.checks.CheckAll(c.Request.Context())

	checks := make(map[string]string, len(statuses))
	for _, st := range statuses {
		if st.Healthy {
			checks[st.Name] = "healthy"
		} else {
			checks[st.Name] = "unhealthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
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

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "MyBidly",
		"description": "Post-purchase bid lifecycle and settlement engine",
		"version":     "0.1.0",
	})
}

// runReconcile handles POST /v1/admin/reconcile
func (s *Server) runReconcile(c *gin.Context) {
	report, err := s.reconciler.Run(c.Request.Context())
	if err != nil {
		logging.L(c.Request.Context()).Error("reconcile run failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Reconcile run failed",
		})
		return
	}
	c.JSON(http.StatusOK, report)
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
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

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start the review-window sweeper
	go s.sweeper.Start(runCtx)

	// Start the payment-hold reconciler
	go s.reconciler.Start(runCtx)

	// Collect database pool stats
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
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

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, sweeper, reconciler)
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

	// Stop background loops
	s.sweeper.Stop()
	s.logger.Info("sweeper stopped")

	s.reconciler.Stop()
	s.logger.Info("reconciler stopped")

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Close database connection pool
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

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
