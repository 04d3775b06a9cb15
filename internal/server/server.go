// Package server wires the gateway together: HTTP routes, the WebSocket
// upgrade path, per-connection pumps, and the admin surface.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/ironstream-io/ironstream/internal/auth"
	"github.com/ironstream-io/ironstream/internal/config"
	"github.com/ironstream-io/ironstream/internal/hub"
	"github.com/ironstream-io/ironstream/internal/limits"
	"github.com/ironstream-io/ironstream/internal/monitoring"
	"github.com/ironstream-io/ironstream/internal/registry"
)

const (
	// Time allowed to write a frame to the peer before the connection is
	// considered dead.
	writeWait = 5 * time.Second

	// heartbeatFrame is sent verbatim as a text frame, not a WebSocket ping
	// opcode, so plain clients can observe it.
	heartbeatFrame = "ping"
)

// Heartbeat cadence. The literal text frame "ping" is the only liveness
// check; a broken peer is detected when the heartbeat write fails. Variable
// so tests can shorten it.
var heartbeatInterval = 80 * time.Second

// Server owns the shared state and the HTTP listener.
type Server struct {
	config *config.Config
	logger zerolog.Logger

	channels *hub.Registry
	clients  *registry.Registry
	limiter  *limits.FixedWindowLimiter
	guard    *limits.GlobalGuard
	gateway  *auth.Gateway
	probe    *monitoring.HealthProbe

	listener   net.Listener
	httpServer *http.Server

	// Live connections, for forced close during shutdown.
	conns        sync.Map // map[*connection]struct{}
	connsCurrent int64

	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shuttingDown int32
}

func New(cfg *config.Config, logger zerolog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:   cfg,
		logger:   logger,
		channels: hub.NewRegistry(logger),
		clients:  registry.New(logger),
		limiter:  limits.NewFixedWindowLimiter(cfg.RateLimitCount, cfg.RateWindow(), logger),
		guard:    limits.NewGlobalGuard(cfg.GlobalConnRate, cfg.GlobalConnBurst),
		gateway:  auth.NewGateway(cfg.APIEndpoint, logger),
		probe:    monitoring.NewHealthProbe(),
		ctx:      ctx,
		cancel:   cancel,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	r.HandleFunc("/broadcast/{channel}", s.handleBroadcast).Methods(http.MethodPost)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/disconnect", s.handleDisconnect).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", monitoring.MetricsHandler()).Methods(http.MethodGet)

	notFound := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound)
	})
	r.NotFoundHandler = notFound
	r.MethodNotAllowedHandler = notFound
	return r
}

// Start binds the listener and begins serving. Non-blocking; errors from the
// accept loop after a clean shutdown are swallowed.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Addr(), err)
	}
	s.listener = listener

	s.httpServer = &http.Server{
		Handler:        s.routes(),
		ReadTimeout:    s.config.HTTPReadTimeout,
		WriteTimeout:   s.config.HTTPWriteTimeout,
		IdleTimeout:    s.config.HTTPIdleTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	s.logger.Info().Str("addr", s.config.Addr()).Msg("Server listening")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("HTTP serve loop error")
		}
	}()

	if s.config.ChannelSweepInterval > 0 {
		s.wg.Add(1)
		go s.sweepChannels()
	}

	return nil
}

// sweepChannels periodically evicts idle, receiver-less channels.
func (s *Server) sweepChannels() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.ChannelSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.channels.SweepIdle(s.config.ChannelIdleTTL)
			monitoring.ChannelsCurrent.Set(float64(s.channels.Len()))
		case <-s.ctx.Done():
			return
		}
	}
}

// Shutdown stops accepting upgrades, drains live connections for the grace
// period, then force-closes whatever remains.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("Initiating graceful shutdown")
	atomic.StoreInt32(&s.shuttingDown, 1)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil && err != context.DeadlineExceeded {
		s.logger.Warn().Err(err).Msg("HTTP server shutdown error")
	}

	remaining := atomic.LoadInt64(&s.connsCurrent)
	s.logger.Info().
		Int64("active_connections", remaining).
		Dur("grace_period", s.config.DrainGracePeriod).
		Msg("Draining active connections")

	drainTimer := time.NewTimer(s.config.DrainGracePeriod)
	checkTicker := time.NewTicker(time.Second)
	defer drainTimer.Stop()
	defer checkTicker.Stop()

drain:
	for {
		select {
		case <-drainTimer.C:
			remaining = atomic.LoadInt64(&s.connsCurrent)
			if remaining > 0 {
				s.logger.Warn().
					Int64("remaining_connections", remaining).
					Msg("Grace period expired, force closing remaining connections")
			}
			break drain
		case <-checkTicker.C:
			if atomic.LoadInt64(&s.connsCurrent) == 0 {
				s.logger.Info().Msg("All connections drained gracefully")
				break drain
			}
		}
	}

	s.conns.Range(func(key, _ any) bool {
		if c, ok := key.(*connection); ok {
			c.teardown()
		}
		return true
	})

	s.cancel()
	s.limiter.Stop()

	s.logger.Info().Msg("Waiting for all goroutines to finish")
	s.wg.Wait()
	s.logger.Info().Msg("Graceful shutdown completed")
	return nil
}

// Addr returns the bound listener address, for tests that listen on port 0.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
