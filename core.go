package main

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// drainTimeout bounds shutdown: remaining tasks are abandoned after this
// much time (spec.md §5).
const drainTimeout = 5 * time.Second

// Core wires together every component behind the four entry points
// spec.md §6 promises the process supervisor: run_local, run_remote,
// stats_snapshot, shutdown.
type Core struct {
	Config *Config
	Log    *zap.SugaredLogger

	registry *ConnRegistry
	egress   *EgressPool
	stats    *StatsServer

	listeners []net.Listener
	mu        sync.Mutex
	closed    bool
}

// NewCore constructs a Core from a validated Config. logger may be nil, in
// which case a zap logger is built from Config.LogLevel: the development
// config for "debug", the production config for any other value.
func NewCore(cfg *Config, logger *zap.SugaredLogger) (*Core, error) {
	if logger == nil {
		var err error
		logger, err = newLogger(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
	}

	egress, err := NewEgressPool(cfg.Egress)
	if err != nil {
		return nil, err
	}
	if cfg.Egress != nil {
		if err := egress.EnsureAssigned(cfg.Egress.Interface, logger); err != nil {
			return nil, err
		}
	}

	return &Core{
		Config:   cfg,
		Log:      logger,
		registry: NewConnRegistry(),
		egress:   egress,
	}, nil
}

func newLogger(level string) (*zap.SugaredLogger, error) {
	var zcfg zap.Config
	switch level {
	case "debug":
		zcfg = zap.NewDevelopmentConfig()
	default:
		zcfg = zap.NewProductionConfig()
	}
	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// RunLocal starts the SOCKS5 listener (and, if configured, an HTTP
// listener) and blocks until Shutdown is called or a listener fails.
func (c *Core) RunLocal() error {
	local := NewLocalProxy(c.Config, c.registry, c.Log)

	socksAddr := net.JoinHostPort(c.Config.LocalHost, strconv.Itoa(c.Config.LocalPort))
	socksLn, err := net.Listen("tcp", socksAddr)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBindFailed, socksAddr, err)
	}
	c.trackListener(socksLn)
	c.Log.Infow("socks5 listening", "addr", socksAddr)

	errCh := make(chan error, 2)
	go func() { errCh <- local.ServeSocks5(socksLn) }()

	if c.Config.HTTPPort != 0 {
		httpAddr := net.JoinHostPort(c.Config.LocalHost, strconv.Itoa(c.Config.HTTPPort))
		httpLn, err := net.Listen("tcp", httpAddr)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrBindFailed, httpAddr, err)
		}
		c.trackListener(httpLn)
		c.Log.Infow("http-connect listening", "addr", httpAddr)
		go func() { errCh <- local.ServeHTTP(httpLn) }()
	}

	if err := c.startStatsServer(); err != nil {
		return err
	}

	return <-errCh
}

// RunRemote starts the framed-tunnel listener and blocks until Shutdown is
// called or the listener fails.
func (c *Core) RunRemote() error {
	remote := NewRemoteProxy(c.Config, c.registry, c.egress, c.Log)

	addr := net.JoinHostPort(c.Config.ServerHost, strconv.Itoa(c.Config.ServerPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBindFailed, addr, err)
	}
	c.trackListener(ln)
	c.Log.Infow("remote tunnel listening", "addr", addr)

	if err := c.startStatsServer(); err != nil {
		return err
	}

	return remote.Serve(ln)
}

func (c *Core) startStatsServer() error {
	if c.Config.StatsAddr == "" {
		return nil
	}
	c.stats = NewStatsServer(c.Config.StatsAddr, c.registry, c.Log)
	if err := c.stats.Start(); err != nil {
		return err
	}
	c.Log.Infow("stats api listening", "addr", c.Config.StatsAddr)
	return nil
}

func (c *Core) trackListener(ln net.Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// A listener bound after Shutdown has run is closed at once, so the
	// Run* call that bound it still returns.
	if c.closed {
		ln.Close()
		return
	}
	c.listeners = append(c.listeners, ln)
}

// StatsSnapshot returns the current stats_snapshot() (spec.md §6).
func (c *Core) StatsSnapshot() StatsSnapshot {
	return c.registry.Snapshot()
}

// Shutdown closes all listening sockets, then closes each registered
// connection's sockets, bounded by drainTimeout throughout (spec.md §5).
// Idempotent: a second call is a no-op (spec.md §8).
func (c *Core) Shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	listeners := c.listeners
	c.mu.Unlock()

	for _, ln := range listeners {
		ln.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	c.registry.CloseAll(ctx)

	if c.stats != nil {
		c.stats.Shutdown(ctx)
	}
}
