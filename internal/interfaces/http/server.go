// Package http provides the REST adapter for the approval services.
// Handlers only translate HTTP requests to service calls and errors back to status codes.
package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/garyjia/expense-approval/internal/application/workflow"
	"github.com/garyjia/expense-approval/internal/infrastructure/export"
)

// Logger is the key/value logger the adapter writes to
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// RequestIDHeader is echoed back on every response. A caller supplied value
// is kept so traces can be joined across services.
const RequestIDHeader = "X-Request-ID"

type ServerConfig struct {
	Host            string
	Port            int
	Mode            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		Mode:            gin.ReleaseMode,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// HealthFunc reports overall health plus component details
type HealthFunc func(ctx context.Context) (bool, interface{})

// Services are the application services exposed over HTTP
type Services struct {
	Engine       workflow.ApprovalEngine
	Tiers        TierService
	PreApprovals PreApprovalService
	Delegations  DelegationService
	Exporter     *export.HistoryExporter
	Health       HealthFunc
}

// Server serves the approval API until its context is cancelled
type Server struct {
	config ServerConfig
	router *gin.Engine
	logger Logger

	mu         sync.Mutex
	httpServer *http.Server
}

func NewServer(config ServerConfig, services Services, logger Logger) *Server {
	if config.Mode == "" {
		config.Mode = gin.ReleaseMode
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultServerConfig().ShutdownTimeout
	}
	gin.SetMode(config.Mode)

	router := gin.New()
	router.Use(gin.Recovery(), withRequestID(), accessLog(logger))

	h := NewHandlers(services, logger)
	router.GET("/health", h.HealthCheck)

	api := router.Group("/api/v1", requireActor())
	registerRequestRoutes(api, h)
	registerPolicyRoutes(api, h)

	return &Server{config: config, router: router, logger: logger}
}

func registerRequestRoutes(api *gin.RouterGroup, h *Handlers) {
	requests := api.Group("/requests")
	requests.POST("", h.CreateDraft)
	requests.GET("/:id", h.GetRequest)
	requests.GET("/:id/history", h.GetHistory)
	requests.GET("/:id/history/export", h.ExportHistory)

	actions := map[string]gin.HandlerFunc{
		"submit":   h.Submit,
		"approve":  h.Approve,
		"reject":   h.Reject,
		"clarify":  h.RequestClarification,
		"resubmit": h.Resubmit,
		"withdraw": h.Withdraw,
		"pay":      h.MarkPaid,
	}
	for action, handler := range actions {
		requests.POST("/:id/"+action, handler)
	}

	api.GET("/approvals/pending", h.ListPending)
}

func registerPolicyRoutes(api *gin.RouterGroup, h *Handlers) {
	api.GET("/tiers", h.ListTiers)
	api.PUT("/tiers", h.ConfigureTiers)

	pre := api.Group("/pre-approvals")
	pre.POST("", h.RequestPreApproval)
	pre.GET("/:id", h.GetPreApproval)
	pre.POST("/:id/decision", h.DecidePreApproval)

	api.POST("/delegations", h.CreateDelegation)
	api.DELETE("/delegations/:id", h.RevokeDelegation)
}

func withRequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)
		c.Set(RequestIDHeader, id)
		c.Next()
	}
}

func accessLog(logger Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		kv := []interface{}{
			"method", c.Request.Method,
			"route", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"request_id", c.GetString(RequestIDHeader),
		}
		if actor := actorOf(c); actor != "" {
			kv = append(kv, "actor", actor)
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Error("HTTP request", kv...)
			return
		}
		logger.Info("HTTP request", kv...)
	}
}

// Start listens on the configured address and blocks until ctx is
// cancelled or the listener fails. Cancellation triggers a graceful
// shutdown bounded by ShutdownTimeout.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.Address(),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	s.logger.Info("Starting HTTP server", "address", srv.Addr)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		s.logger.Error("HTTP server error", "error", err)
		return err
	case <-ctx.Done():
		return s.Stop()
	}
}

// Stop drains in-flight requests. Safe to call when not started.
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

// Router exposes the handler tree, mainly for httptest
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) Address() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}
