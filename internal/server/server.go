// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
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

	"github.com/mbd888/haven/internal/auth"
	"github.com/mbd888/haven/internal/chat"
	"github.com/mbd888/haven/internal/config"
	"github.com/mbd888/haven/internal/datacloud"
	"github.com/mbd888/haven/internal/encryption"
	"github.com/mbd888/haven/internal/health"
	"github.com/mbd888/haven/internal/journal"
	"github.com/mbd888/haven/internal/logging"
	"github.com/mbd888/haven/internal/metrics"
	"github.com/mbd888/haven/internal/profile"
	"github.com/mbd888/haven/internal/ratelimit"
	"github.com/mbd888/haven/internal/realtime"
	"github.com/mbd888/haven/internal/risk"
	"github.com/mbd888/haven/internal/security"
	"github.com/mbd888/haven/internal/traces"
	"github.com/mbd888/haven/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	version     string
	hasher      *security.Hasher
	journals    *journal.Service
	profiles    *profile.Service
	chat        *chat.Service
	riskEngine  *risk.Engine
	rules       *risk.RuleSet
	rulesErr    error
	streamer    *datacloud.Streamer
	realtimeHub *realtime.Hub
	rateLimiter *ratelimit.Limiter
	health      *health.Registry
	db          *sql.DB // nil if using in-memory
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger
	httpClient  *http.Client
	drainDelay  time.Duration

	cancelRunCtx   context.CancelFunc // cancels background goroutines started in Run
	shutdownTraces func(context.Context) error

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

// WithVersion sets the build version reported by /health
func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

// WithRules overrides the rule set instead of loading RISK_RULES_PATH (for testing)
func WithRules(rules *risk.RuleSet) Option {
	return func(s *Server) {
		s.rules = rules
	}
}

// WithHTTPClient sets the client used for the CRM side channel (for testing)
func WithHTTPClient(c *http.Client) Option {
	return func(s *Server) {
		s.httpClient = c
	}
}

// WithDrainDelay sets how long Shutdown waits for load balancers to stop
// sending traffic before closing the listener.
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

type migrator interface {
	Migrate(ctx context.Context) error
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		version:    "dev",
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		drainDelay: 5 * time.Second,
	}

	// Apply options first (may set logger/rules)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	cipher, err := encryption.NewCipher(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	decrypter := encryption.NewCachingDecrypter(cipher, cfg.DecryptCacheSize)
	s.hasher = security.NewHasher(cfg.UserHashSecret)

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		journalStore  journal.Store
		profileStore  profile.Store
		chatStore     chat.Store
		snapshotStore risk.SnapshotStore
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
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		journalPG := journal.NewPostgresStore(db)
		profilePG := profile.NewPostgresStore(db)
		chatPG := chat.NewPostgresStore(db)
		riskPG := risk.NewPostgresStore(db)
		for name, m := range map[string]migrator{
			"journal": journalPG, "profile": profilePG, "chat": chatPG, "risk": riskPG,
		} {
			if err := m.Migrate(ctx); err != nil {
				s.logger.Warn("failed to migrate store", "store", name, "error", err)
			}
		}
		journalStore, profileStore, chatStore, snapshotStore = journalPG, profilePG, chatPG, riskPG
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")
		journalStore = journal.NewMemoryStore()
		profileStore = profile.NewMemoryStore()
		chatStore = chat.NewMemoryStore()
		snapshotStore = risk.NewMemoryStore()
	}

	// Risk rules. A bad rule file keeps the server up; assessments answer
	// "unknown" and /health reports the failure.
	if s.rules == nil {
		s.rules, s.rulesErr = loadRules(cfg.RiskRulesPath)
		if s.rulesErr != nil {
			s.logger.Error("failed to load risk rules", "path", cfg.RiskRulesPath, "error", s.rulesErr)
		} else {
			s.logger.Info("risk rules loaded",
				"version", s.rules.Version,
				"features", len(s.rules.Features),
			)
		}
	}

	// CRM side channel
	var dcClient *datacloud.Client
	if cfg.DataCloudStreaming {
		if err := security.ValidateEndpointURL(cfg.DataCloudEndpoint, security.EndpointPolicy{
			RequireHTTPS: cfg.IsProduction(),
			AllowPrivate: !cfg.IsProduction(),
		}); err != nil {
			return nil, fmt.Errorf("invalid DATACLOUD_ENDPOINT: %w", err)
		}
		dcClient = datacloud.NewClient(cfg.DataCloudEndpoint, datacloud.StaticToken(cfg.DataCloudToken))
		if s.httpClient != nil {
			dcClient.WithHTTPClient(s.httpClient)
		}
		s.logger.Info("CRM streaming enabled", "endpoint", cfg.DataCloudEndpoint, "workers", cfg.StreamWorkers)
	}
	streamOpts := datacloud.DefaultOptions()
	streamOpts.Enabled = cfg.DataCloudStreaming
	streamOpts.Workers = cfg.StreamWorkers
	streamOpts.QueueSize = cfg.StreamQueueSize
	s.streamer = datacloud.NewStreamer(dcClient, s.hasher, streamOpts, s.logger)

	// Advocate alert stream
	s.realtimeHub = realtime.NewHub(s.hasher, s.logger)
	if cfg.AdvocateSecret == "" {
		s.logger.Info("advocate alerts disabled (no ADVOCATE_SECRET set)")
	}

	// Services
	s.journals = journal.NewService(journalStore, cipher)
	s.profiles = profile.NewService(profileStore)
	s.chat = chat.NewService(chatStore, cipher).
		WithProfiles(s.profiles).
		WithEventSink(s.streamer).
		WithAlertSink(s.realtimeHub)
	s.riskEngine = risk.NewEngine(s.rules, risk.NewStoreSource(journalStore, chatStore), decrypter, snapshotStore).
		WithPublisher(s.streamer).
		WithPublisher(s.realtimeHub)

	// Health checks
	s.health = health.NewRegistry()
	if s.db != nil {
		s.health.Register("database", health.DBChecker(s.db))
	}
	s.health.Register("rules", s.rulesChecker())

	// Setup router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

func loadRules(path string) (*risk.RuleSet, error) {
	if path == "" {
		return risk.DefaultRules(), nil
	}
	return risk.LoadRules(path)
}

func (s *Server) rulesChecker() health.Checker {
	return func(context.Context) health.Status {
		if s.rulesErr != nil {
			return health.Status{Name: "rules", Healthy: false, Detail: s.rulesErr.Error()}
		}
		if s.rules == nil {
			return health.Status{Name: "rules", Healthy: false, Detail: "no rule set loaded"}
		}
		return health.Status{Name: "rules", Healthy: true, Detail: fmt.Sprintf("version %d", s.rules.Version)}
	}
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

	// CORS; the identity header must be allowed for browser clients
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins, s.cfg.UserIDHeader))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())

	// Identity from the trusted proxy header
	s.router.Use(auth.Middleware(s.cfg.UserIDHeader, s.hasher))

	// Rate limiting, keyed by identity
	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPM,
		BurstSize:         s.cfg.RateLimitBurst,
		CleanupInterval:   time.Minute,
	})
	s.router.Use(s.rateLimiter.Middleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 64 {
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
		// Route template, not the raw path: query strings may carry the advocate token.
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

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

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health checks
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)

	// Prometheus metrics
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")
	protected := v1.Group("", auth.RequireUser())

	journal.NewHandler(s.journals).RegisterRoutes(protected)

	profileHandler := profile.NewHandler(s.profiles)
	profileHandler.RegisterRoutes(v1)
	profileHandler.RegisterProtectedRoutes(protected)

	chatHandler := chat.NewHandler(s.chat)
	chatHandler.RegisterRoutes(v1)
	chatHandler.RegisterProtectedRoutes(protected)

	// Demo callers get sample data from these
	risk.NewHandler(s.riskEngine).RegisterRoutes(v1)
	datacloud.NewHandler(s.streamer, s.chat, s.riskEngine).RegisterRoutes(v1)

	s.realtimeHub.RegisterRoutes(v1, s.cfg.AdvocateSecret)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, checks := s.health.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   s.version,
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

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	shutdownTraces, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.version, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.shutdownTraces = shutdownTraces
	}

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
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start advocate alert hub
	go s.realtimeHub.Run(runCtx)

	// Start CRM side-channel workers
	s.streamer.Start(runCtx)

	// Sample DB pool stats
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
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		_ = s.Shutdown()
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

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var shutdownErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	// Flush queued CRM records before the hub and workers lose their context
	if err := s.streamer.Stop(ctx); err != nil {
		s.logger.Warn("stream queue not fully drained", "error", err)
	} else {
		s.logger.Info("stream workers stopped")
	}

	// Cancel the context for all background goroutines (hub, collectors)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.shutdownTraces != nil {
		if err := s.shutdownTraces(ctx); err != nil {
			s.logger.Warn("trace exporter shutdown error", "error", err)
		}
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
	return shutdownErr
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
