// Package http serves the prediction API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const limiterIdle = 10 * time.Minute

type Server struct {
	server  *http.Server
	config  ServerConfig
	logger  *zap.Logger
	limiter *RateLimiter
	ctx     context.Context
	stop    context.CancelFunc
}

type ServerConfig struct {
	Port           int
	Timeout        time.Duration
	AllowedOrigins []string
	// RateLimit is requests per second per client; 0 disables limiting.
	RateLimit float64
	RateBurst int
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:      8080,
		Timeout:   30 * time.Second,
		RateLimit: 20,
		RateBurst: 40,
	}
}

// NewServer routes api, the metrics endpoint and, when ws is non-nil, the
// live prediction feed.
func NewServer(config ServerConfig, api *API, ws http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	api.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	if ws != nil {
		mux.Handle("GET /api/ws/predictions", ws)
	}

	var limiter *RateLimiter
	if config.RateLimit > 0 {
		limiter = NewRateLimiter(config.RateLimit, config.RateBurst)
	}

	chain := Chain(
		RecoveryMiddleware(logger),
		LoggerMiddleware(logger),
		SecurityHeadersMiddleware,
		CORSMiddleware(config.AllowedOrigins),
		RateLimitMiddleware(limiter),
		TimeoutMiddleware(config.Timeout),
		MetricsMiddleware,
	)

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", config.Port),
			Handler:           chain(mux),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		config:  config,
		logger:  logger,
		limiter: limiter,
		ctx:     ctx,
		stop:    cancel,
	}
}

// Start blocks serving until Stop is called.
func (s *Server) Start() error {
	if s.limiter != nil {
		go s.pruneLimiter(s.ctx)
	}

	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	s.stop()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Addr() string {
	return s.server.Addr
}

func (s *Server) pruneLimiter(ctx context.Context) {
	ticker := time.NewTicker(limiterIdle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.limiter.Prune(limiterIdle)
		}
	}
}
