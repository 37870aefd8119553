package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"runtime/debug"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/llm-bench/llm-bench/internal/logging"
	"github.com/llm-bench/llm-bench/internal/metrics"
	"github.com/llm-bench/llm-bench/internal/service/orchestrator"
	"github.com/llm-bench/llm-bench/pkg/models"
)

// DefaultAddr is the status API listen address
const DefaultAddr = "127.0.0.1:9464"

// StatusSource exposes live matrix progress
type StatusSource interface {
	MatrixID() string
	Runs() []orchestrator.RunState
	Run(name string) (orchestrator.RunState, bool)
	Scoreboard() models.Scoreboard
}

// HistoryReader queries stored run outcomes
type HistoryReader interface {
	GetRunResult(ctx context.Context, id string) (*models.RunResult, error)
	ListRunResults(ctx context.Context, q models.HistoryQuery) ([]*models.RunResult, error)
	ListMatrices(ctx context.Context, limit int) ([]*models.MatrixRecord, error)
}

// Server is the read-only status API served while a matrix runs
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	logger     *slog.Logger

	status  StatusSource
	history HistoryReader

	addr string

	// Readiness state (atomic for thread-safe access)
	ready atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithAddr sets the listen address
func WithAddr(addr string) Option {
	return func(s *Server) {
		if addr != "" {
			s.addr = addr
		}
	}
}

// WithHistory enables the history endpoints
func WithHistory(h HistoryReader) Option {
	return func(s *Server) {
		s.history = h
	}
}

// New creates a new status API server
func New(status StatusSource, opts ...Option) *Server {
	s := &Server{
		logger: slog.Default(),
		status: status,
		addr:   DefaultAddr,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.setupRouter()
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// SetReady sets the server readiness state
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
	s.logger.Debug("status api readiness changed", slog.Bool("ready", ready))
}

// IsReady returns whether the server is ready to accept traffic
func (s *Server) IsReady() bool {
	return s.ready.Load()
}

// setupRouter configures the Gin router
func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(s.requestIDMiddleware())
	router.Use(s.metricsMiddleware())
	router.Use(s.loggingMiddleware())
	router.Use(s.recoveryMiddleware())

	router.GET("/health", s.handleHealth)
	router.GET("/ready", s.handleReady)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/runs", s.handleListRuns)
		v1.GET("/runs/:name", s.handleGetRun)
		v1.GET("/scoreboard", s.handleScoreboard)

		v1.GET("/history", s.handleListHistory)
		v1.GET("/history/:id", s.handleGetHistory)
		v1.GET("/matrices", s.handleListMatrices)
	}

	s.router = router
}

// Start serves until Shutdown is called. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting status API", slog.String("addr", s.addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down status API")
	return s.httpServer.Shutdown(ctx)
}

// Router returns the Gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Middleware

// validRequestIDRegex allows alphanumeric, dots, underscores, and hyphens up to 128 chars.
var validRequestIDRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,128}$`)

func isValidRequestID(id string) bool {
	return id != "" && validRequestIDRegex.MatchString(id)
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if !isValidRequestID(requestID) {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Request = c.Request.WithContext(logging.WithRequestID(c.Request.Context(), requestID))
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		// Route pattern keeps /runs/:name to one label value
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		metrics.RecordHTTPRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		s.logger.DebugContext(c.Request.Context(), "request completed",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
			slog.String("client_ip", c.ClientIP()))
	}
}

func (s *Server) recoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered",
					slog.Any("error", err),
					slog.String("stack", string(debug.Stack())),
					slog.String("request_id", c.GetString("request_id")))

				c.JSON(http.StatusInternalServerError, ErrorResponse{
					Error:     "internal server error",
					RequestID: c.GetString("request_id"),
				})
				c.Abort()
			}
		}()
		c.Next()
	}
}
