package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	handlers "github.com/GriffinCanCode/scripthost/internal/api/http"
	"github.com/GriffinCanCode/scripthost/internal/api/middleware"
	"github.com/GriffinCanCode/scripthost/internal/infrastructure/config"
	"github.com/GriffinCanCode/scripthost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/scripthost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/scripthost/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/scripthost/internal/scripthost"
	"github.com/GriffinCanCode/scripthost/internal/scripthost/sandbox"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router  *gin.Engine
	http    *http.Server
	host    *scripthost.Host
	tracer  *tracing.Tracer
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
}

// Option customizes server construction
type Option func(*options)

type options struct {
	logger   *logging.Logger
	registry *prometheus.Registry
}

// WithLogger replaces the logger built from the logging settings
func WithLogger(logger *logging.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRegistry registers metrics on reg instead of a fresh registry
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, opts ...Option) (*Server, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = logging.FromSettings(cfg.Logging.Level, cfg.Logging.Development)
	}

	logger.Info("Initializing script host server",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("script", cfg.Script.ScriptFile()),
		zap.Duration("sandbox_timeout", cfg.Sandbox.Timeout),
		zap.Int("max_concurrent", cfg.Sandbox.MaxConcurrent),
	)

	reg := o.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	metrics := monitoring.NewMetrics(reg)
	tracer := tracing.New("scripthost", logger.Logger)

	host, err := NewHost(cfg, logger, metrics)
	if err != nil {
		tracer.Close()
		return nil, err
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
			zap.Int("global_rps", cfg.RateLimit.GlobalRPS),
		)
		if cfg.RateLimit.GlobalRPS > 0 {
			router.Use(middleware.GlobalRateLimit(middleware.RateLimitConfig{
				RequestsPerSecond: cfg.RateLimit.GlobalRPS,
				Burst:             cfg.RateLimit.GlobalBurst,
			}))
		}
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	h := handlers.NewHandlers(host, metrics)

	router.GET("/", h.Root)
	router.GET("/health", h.Health)

	// promhttp negotiates its own compression, so only script output is gzipped here
	graph := router.Group("/")
	if cfg.Compression.Gzip {
		graph.Use(middleware.Gzip(middleware.DefaultCompression))
	}
	graph.GET("/graph", h.Graph)

	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	logger.Info("Server initialized successfully")

	return &Server{
		router: router,
		http: &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		host:    host,
		tracer:  tracer,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}, nil
}

// NewHost builds the script host from configuration
func NewHost(cfg *config.Config, logger *logging.Logger, metrics *monitoring.Metrics) (*scripthost.Host, error) {
	host, err := scripthost.New(scripthost.Options{
		ScriptPath: cfg.Script.ScriptFile(),
		Sandbox: sandbox.Config{
			Timeout:       cfg.Sandbox.Timeout,
			MaxCallStack:  cfg.Sandbox.MaxCallStack,
			EnableConsole: cfg.Sandbox.EnableConsole,
			EnableDOM:     true,
			EnableRequire: cfg.Sandbox.EnableRequire,
			RequireAllow:  cfg.Sandbox.RequireAllow,
		},
		MaxConcurrent: cfg.Sandbox.MaxConcurrent,
		AcquireWait:   cfg.Sandbox.AcquireWait,
		Sanitize:      cfg.Script.Sanitize,
		Logger:        logger.Named("scripthost").Logger,
		Metrics:       metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create script host: %w", err)
	}
	return host, nil
}

// Handler returns the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the HTTP server and blocks until it stops
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests, then stops the script host and tracer
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	err := s.http.Shutdown(ctx)
	if err != nil {
		s.logger.Error("Failed to drain HTTP server", zap.Error(err))
	}

	if cerr := s.host.Close(); cerr != nil {
		s.logger.Error("Failed to close script host", zap.Error(cerr))
		err = errors.Join(err, cerr)
	}
	s.tracer.Close()

	s.logger.Sync()
	return err
}
