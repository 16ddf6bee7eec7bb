// Package server provides the salesdb TCP server.
//
// The server accepts connections, runs one session per connection and hands
// every inbound frame to its own goroutine so that a blocking wait never
// holds up the other requests of the same client. It also drives the day
// rollover ticker and, when enabled, serves Prometheus metrics.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/salesdb/config"
	"github.com/xtxerr/salesdb/internal/errors"
	"github.com/xtxerr/salesdb/internal/handler"
	"github.com/xtxerr/salesdb/internal/logging"
	"github.com/xtxerr/salesdb/internal/wire"
)

var log = logging.Component("server")

// =============================================================================
// Server Configuration
// =============================================================================

// Config holds server configuration.
type Config struct {
	// Listen is the address to listen on (e.g., "0.0.0.0:12345").
	Listen string

	// MaxFrameSize rejects inbound frames above this size.
	MaxFrameSize int

	// ShutdownTimeout bounds how long Run waits for in-flight requests.
	ShutdownTimeout time.Duration

	// RateLimitPerMinute is the number of failed logins per IP per minute
	// before further logins are refused. Zero disables the limit.
	RateLimitPerMinute int

	// MetricsListen serves /metrics when set.
	MetricsListen string
}

// Engine is the storage engine the server fronts.
type Engine interface {
	handler.Engine

	// Run closes days on a schedule until ctx is done.
	Run(ctx context.Context) error
}

// =============================================================================
// Server
// =============================================================================

// Server is the salesdb server.
type Server struct {
	cfg      Config
	engine   Engine
	handler  *handler.Handler
	sessions *handler.SessionManager
	limiter  *RateLimiter

	mu       sync.Mutex
	listener net.Listener
	conns    sync.WaitGroup
}

// New creates a new server.
func New(cfg *Config, engine Engine) *Server {
	c := *cfg
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = config.DefaultMaxFrameSize
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = config.DefaultShutdownTimeout
	}

	s := &Server{
		cfg:      c,
		engine:   engine,
		sessions: handler.NewSessionManager(),
	}

	var limiter handler.LoginLimiter
	if c.RateLimitPerMinute > 0 {
		s.limiter = NewRateLimiter(c.RateLimitPerMinute, time.Minute)
		limiter = s.limiter
	}
	s.handler = handler.NewHandler(engine, limiter)
	return s
}

// Run listens on cfg.Listen and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then closes every
// session and waits up to ShutdownTimeout for them to finish. The rollover
// ticker, the login limiter and the metrics endpoint run alongside and stop
// with it.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	log.Info("listening", "address", ln.Addr().String())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.acceptLoop(gctx, ln) })
	g.Go(func() error { return s.engine.Run(gctx) })
	if s.limiter != nil {
		g.Go(func() error { return s.limiter.Run(gctx) })
	}
	if s.cfg.MetricsListen != "" {
		g.Go(func() error { return s.serveMetrics(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		ln.Close()
		s.sessions.CloseAll()
		return nil
	})

	err := g.Wait()
	s.drain()
	return err
}

// Addr returns the listener address once Serve has started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Sessions returns the number of open sessions.
func (s *Server) Sessions() int {
	return s.sessions.Count()
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Error("accept error", "error", err)
			continue
		}

		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) drain() {
	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("shutdown complete")
	case <-time.After(s.cfg.ShutdownTimeout):
		log.Warn("shutdown timed out with requests in flight", "timeout", s.cfg.ShutdownTimeout)
	}
}

func (s *Server) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              s.cfg.MetricsListen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("serving metrics", "address", s.cfg.MetricsListen)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// =============================================================================
// Connection Handling
// =============================================================================

// handleConn runs the read loop of one connection. Each frame is stamped
// with the current epoch and then handled on its own goroutine; responses
// go out in completion order.
func (s *Server) handleConn(ctx context.Context, nc net.Conn) {
	remote := nc.RemoteAddr().String()
	sess := s.sessions.CreateSession(ctx, remote, wire.NewConnSize(nc, s.cfg.MaxFrameSize))

	connectionsTotal.Inc()
	connectionsActive.Inc()
	defer connectionsActive.Dec()

	if ctx.Err() != nil {
		// Accepted after CloseAll ran.
		sess.Close()
		return
	}
	log.Info("new session", "session_id", sess.ID, "remote", remote)

	for {
		f, err := sess.Receive()
		if err != nil {
			if !sess.IsClosed() {
				log.Debug("read ended", "session_id", sess.ID, "error", err)
			}
			break
		}

		req := s.handler.NewRequest(sess, f)
		sess.Go(func() {
			resp := s.handler.Handle(req)
			if err := sess.Send(resp); err != nil {
				log.Debug("write failed, closing session", "session_id", sess.ID, "error", err)
				sess.Close()
			}
		})
	}

	// Cancels the session context, releasing blocked waits, then waits for
	// every handler to return.
	sess.Close()
	sess.Wait()
	log.Info("session disconnected", "session_id", sess.ID, "requests", sess.Requests())
}
