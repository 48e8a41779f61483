// Package server serves lookups for the devices in a registry over the
// wire protocol, and provides the dispatcher-side client.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/libfs/internal/logger"
	"github.com/marmos91/libfs/internal/ratelimiter"
	"github.com/marmos91/libfs/pkg/lookup"
	"github.com/marmos91/libfs/pkg/metrics"
	"github.com/marmos91/libfs/pkg/plb"
	"github.com/marmos91/libfs/pkg/registry"
)

// Config configures a Server.
type Config struct {
	// PLBSize is the capacity of each connection's PLB mirror.
	PLBSize int

	// NameMax bounds component length; components hold at most NameMax-1
	// bytes.
	NameMax int

	// MaxRecordSize bounds an incoming record.
	MaxRecordSize int

	// ShutdownTimeout is how long Serve waits for connections to finish
	// after its context is cancelled before closing them.
	ShutdownTimeout time.Duration

	// RateLimit throttles lookups across all connections; PerClientRateLimit
	// throttles each remote host. Zero rates disable them.
	RateLimit          ratelimiter.Config
	PerClientRateLimit ratelimiter.Config
}

func (c *Config) applyDefaults() {
	if c.PLBSize <= 0 {
		c.PLBSize = plb.DefaultSize
	}
	if c.NameMax <= 1 {
		c.NameMax = lookup.DefaultNameMax
	}
	if c.MaxRecordSize <= 0 {
		c.MaxRecordSize = 64 << 10
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Server answers lookup callbacks for the devices mounted in a registry.
//
// Each connection is one dispatcher with its own PLB mirror, filled by
// ProcPLBWrite calls and read by ProcLookup calls on the same connection.
// Calls on a connection are handled in order, and every call gets exactly
// one reply.
//
// Lifecycle:
//  1. Creation: New() with a registry
//  2. Startup: Serve() accepts connections until its context is cancelled
//  3. Shutdown: the listener is closed, in-flight calls finish, and
//     connections still open after ShutdownTimeout are force-closed
type Server struct {
	config   Config
	registry *registry.Registry
	limiter  *ratelimiter.RateLimiter

	metrics       metrics.ServerMetrics
	lookupMetrics metrics.LookupMetrics

	mu       sync.Mutex
	listener net.Listener

	activeConns sync.WaitGroup
	connCount   atomic.Int32
	connections sync.Map // connection id -> net.Conn

	shutdownOnce sync.Once
	shutdown     chan struct{}
}

// New creates a server. Nil metrics record nothing.
func New(config Config, reg *registry.Registry, serverMetrics metrics.ServerMetrics, lookupMetrics metrics.LookupMetrics) *Server {
	config.applyDefaults()
	if serverMetrics == nil {
		serverMetrics = metrics.NewNoopServerMetrics()
	}
	if lookupMetrics == nil {
		lookupMetrics = metrics.NewNoopLookupMetrics()
	}

	return &Server{
		config:        config,
		registry:      reg,
		limiter:       ratelimiter.New(config.RateLimit, config.PerClientRateLimit),
		metrics:       serverMetrics,
		lookupMetrics: lookupMetrics,
		shutdown:      make(chan struct{}),
	}
}

// Addr returns the listener address once Serve has started, nil before.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenAndServe listens on the TCP address addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
//
// Returns:
//   - nil on graceful shutdown
//   - error if connections had to be force-closed
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	logger.Info("libfs server listening on %s (devices: %v)", ln.Addr(), s.registry.Devices())

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("libfs shutdown signal received: %v", ctx.Err())
		case <-s.shutdown:
		}
		s.initiateShutdown()
	}()

	for {
		tcpConn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return s.gracefulShutdown()
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return s.gracefulShutdown()
			}
			logger.Debug("Error accepting connection: %v", err)
			continue
		}

		c := newConn(s, tcpConn)

		s.activeConns.Add(1)
		active := s.connCount.Add(1)
		s.connections.Store(c.id, tcpConn)
		s.metrics.RecordConnectionAccepted()
		s.metrics.SetActiveConnections(active)

		go func() {
			defer func() {
				s.connections.Delete(c.id)
				active := s.connCount.Add(-1)
				s.metrics.RecordConnectionClosed()
				s.metrics.SetActiveConnections(active)
				s.activeConns.Done()
			}()
			c.serve(ctx)
		}()
	}
}

// Stop initiates shutdown without cancelling Serve's context.
func (s *Server) Stop() {
	s.initiateShutdown()
}

func (s *Server) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.listener != nil {
			if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				logger.Debug("Error closing listener: %v", err)
			}
		}
	})
}

// gracefulShutdown waits for connections to finish, force-closing them
// after ShutdownTimeout.
func (s *Server) gracefulShutdown() error {
	logger.Info("libfs graceful shutdown: waiting for %d connection(s) (timeout: %v)",
		s.connCount.Load(), s.config.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("libfs graceful shutdown complete")
		return nil
	case <-time.After(s.config.ShutdownTimeout):
	}

	remaining := s.connCount.Load()
	logger.Warn("libfs shutdown timeout exceeded: force-closing %d connection(s)", remaining)
	s.connections.Range(func(key, value any) bool {
		if err := value.(net.Conn).Close(); err != nil {
			logger.Debug("Error force-closing connection %v: %v", key, err)
		}
		return true
	})
	<-done
	return fmt.Errorf("shutdown timeout: %d connections force-closed", remaining)
}
