// Package healthserver exposes liveness and readiness probes over HTTP.
// It only reads orchestrator state.
package healthserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/core-tools/hsu-satellite/pkg/domain"
	"github.com/core-tools/hsu-satellite/pkg/errors"
	"github.com/core-tools/hsu-satellite/pkg/logging"

	"github.com/gin-gonic/gin"
)

const Name = "health_endpoint"

type Options struct {
	Host         string
	Port         int
	ServiceName  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Liveness is the fixed /health payload
type Liveness struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
}

type Server struct {
	options  Options
	provider domain.StatusProvider
	logger   logging.Logger
	engine   *gin.Engine
	now      func() time.Time

	mutex    sync.Mutex
	server   *http.Server
	listener net.Listener
	serveErr chan error
}

func New(options Options, provider domain.StatusProvider, logger logging.Logger) *Server {
	s := &Server{
		options:  options,
		provider: provider,
		logger:   logger,
		now:      time.Now,
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/health", s.handleHealth)
	engine.GET("/ready", s.handleReady)
	engine.NoRoute(func(c *gin.Context) {
		c.AbortWithStatus(http.StatusNotFound)
	})
	s.engine = engine

	return s
}

func (s *Server) Name() string {
	return Name
}

// Handler exposes the router without a listener
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start binds the listener synchronously and serves in the background
func (s *Server) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.server != nil {
		return nil
	}

	addr := net.JoinHostPort(s.options.Host, strconv.Itoa(s.options.Port))
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return errors.NewNetworkError("failed to bind health endpoint", err).WithContext("address", addr)
	}

	server := &http.Server{
		Handler:      s.engine,
		ReadTimeout:  s.options.ReadTimeout,
		WriteTimeout: s.options.WriteTimeout,
	}
	serveErr := make(chan error, 1)

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("Health endpoint serve error: %v", err)
			serveErr <- err
		}
		close(serveErr)
	}()

	s.server = server
	s.listener = listener
	s.serveErr = serveErr

	s.logger.Infof("Health endpoint listening, address: %s", listener.Addr().String())
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mutex.Lock()
	server := s.server
	serveErr := s.serveErr
	s.server = nil
	s.listener = nil
	s.mutex.Unlock()

	if server == nil {
		return nil
	}

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("health endpoint shutdown: %w", err)
	}
	if err, ok := <-serveErr; ok && err != nil {
		return fmt.Errorf("health endpoint serve: %w", err)
	}

	s.logger.Infof("Health endpoint stopped")
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, Liveness{
		Status:    "healthy",
		Timestamp: s.now().UTC(),
		Service:   s.options.ServiceName,
	})
}

func (s *Server) handleReady(c *gin.Context) {
	status := s.provider.AggregateStatus(c.Request.Context())

	code := http.StatusOK
	if status.Health.Status != domain.HealthStatusRunning {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
