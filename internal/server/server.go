// Package server wires settings, audit sinks, metrics and the gateway
// together and runs the MCP transports.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/artisan-mcp/artisan-mcp/internal/config"
	"github.com/artisan-mcp/artisan-mcp/internal/gateway"
	"github.com/artisan-mcp/artisan-mcp/internal/mcp"
	"github.com/artisan-mcp/artisan-mcp/internal/metrics"
	storepkg "github.com/artisan-mcp/artisan-mcp/internal/store"
)

const shutdownTimeout = 10 * time.Second

type Options struct {
	Settings *config.Settings
	Gateway  *config.GatewayConfig
	Version  string

	Stdin  io.Reader
	Stdout io.Writer

	// GatewayOptions are appended after the ones derived from Settings.
	GatewayOptions []gateway.Option
}

type Server struct {
	gw      *gateway.Gateway
	mcp     *mcp.Server
	store   storepkg.EventStore
	metrics *metrics.Collector

	stdio  bool
	stdin  io.Reader
	stdout io.Writer

	httpServer *http.Server
	httpLn     net.Listener
}

// NewGateway builds a gateway honoring the execution settings. sink and
// collector may be nil.
func NewGateway(settings *config.Settings, cfg *config.GatewayConfig, sink gateway.EventSink, collector *metrics.Collector, extra ...gateway.Option) (*gateway.Gateway, error) {
	timeout, err := settings.ExecutionTimeout()
	if err != nil {
		return nil, err
	}
	maxOut, err := settings.MaxOutputBytes()
	if err != nil {
		return nil, err
	}
	opts := []gateway.Option{
		gateway.WithInterpreter(settings.Execution.Interpreter),
		gateway.WithTimeout(timeout),
		gateway.WithMaxOutput(maxOut),
		gateway.WithMetrics(collector),
	}
	if sink != nil {
		opts = append(opts, gateway.WithEventSink(sink))
	}
	return gateway.New(cfg, append(opts, extra...)...)
}

// New prepares every component and binds the HTTP listener, but serves
// nothing until Run. A missing interpreter is a startup error.
func New(ctx context.Context, opts Options) (*Server, error) {
	if opts.Settings == nil || opts.Gateway == nil {
		return nil, fmt.Errorf("server: settings and gateway config are required")
	}
	settings := opts.Settings
	collector := metrics.New()

	st, err := OpenAuditStore(ctx, settings.Audit, collector, opts.Version)
	if err != nil {
		return nil, err
	}
	var sink gateway.EventSink
	if st != nil {
		sink = st
	}

	gw, err := NewGateway(settings, opts.Gateway, sink, collector, opts.GatewayOptions...)
	if err != nil {
		closeStore(st)
		return nil, err
	}
	php, err := gw.Ready()
	if err != nil {
		closeStore(st)
		return nil, err
	}
	slog.Info("PHP executable", "path", php)

	s := &Server{
		gw:      gw,
		mcp:     mcp.NewServer(gw, opts.Version),
		store:   st,
		metrics: collector,
		stdio:   settings.StdioEnabled(),
		stdin:   opts.Stdin,
		stdout:  opts.Stdout,
	}
	if s.stdin == nil {
		s.stdin = os.Stdin
	}
	if s.stdout == nil {
		s.stdout = os.Stdout
	}

	if settings.Server.HTTP.Enabled {
		if err := s.setupHTTP(settings); err != nil {
			closeStore(st)
			return nil, err
		}
	}
	return s, nil
}

func (s *Server) setupHTTP(settings *config.Settings) error {
	httpCfg := settings.Server.HTTP
	maxReq, err := config.ParseByteSize(httpCfg.MaxRequestSize)
	if err != nil {
		return fmt.Errorf("parse server.http.max_request_size: %w", err)
	}

	hopts := mcp.HTTPOptions{
		MaxRequestSize: maxReq,
		HealthPath:     settings.Health.Path,
		ReadinessPath:  settings.Health.ReadinessPath,
		Ready: func() error {
			_, err := s.gw.Ready()
			return err
		},
	}
	if settings.Metrics.Enabled {
		hopts.MetricsPath = settings.Metrics.Path
		hopts.MetricsHandler = s.metrics.Handler(metrics.HandlerOptions{WhitelistSize: s.gw.WhitelistSize})
	}

	if !isLoopbackListenAddr(httpCfg.Addr) {
		slog.Warn("HTTP transport listens beyond loopback and has no authentication", "addr", httpCfg.Addr)
	}
	ln, err := net.Listen("tcp", httpCfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", httpCfg.Addr, err)
	}
	s.httpLn = ln
	s.httpServer = &http.Server{
		Handler:           s.mcp.HTTPHandler(hopts),
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       httpCfg.ReadTimeoutDuration(),
		WriteTimeout:      httpCfg.WriteTimeoutDuration(),
	}
	return nil
}

func (s *Server) Gateway() *gateway.Gateway { return s.gw }

// HTTPAddr returns the bound HTTP address, or "" when HTTP is disabled.
func (s *Server) HTTPAddr() string {
	if s == nil || s.httpLn == nil {
		return ""
	}
	return s.httpLn.Addr().String()
}

// Run serves until ctx is canceled, a signal arrives, stdin reaches EOF, or
// a transport fails.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	if s.stdio {
		slog.Info("serving MCP on stdio")
		g.Go(func() error {
			defer cancel()
			return s.mcp.ServeStdio(gctx, s.stdin, s.stdout)
		})
	}
	if s.httpServer != nil {
		slog.Info("serving MCP over HTTP", "addr", s.HTTPAddr())
		g.Go(func() error {
			if err := s.httpServer.Serve(s.httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return s.httpServer.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	slog.Info("server stopped")
	return err
}

// Close releases the listener and flushes audit sinks.
func (s *Server) Close() error {
	if s.httpLn != nil {
		_ = s.httpLn.Close()
		s.httpLn = nil
	}
	if s.store != nil {
		err := s.store.Close()
		s.store = nil
		return err
	}
	return nil
}

func closeStore(st storepkg.EventStore) {
	if st != nil {
		_ = st.Close()
	}
}

func isLoopbackListenAddr(addr string) bool {
	a := strings.TrimSpace(addr)
	if a == "" {
		return false
	}
	// ":8080" binds on all interfaces.
	if strings.HasPrefix(a, ":") {
		return false
	}
	host, _, err := net.SplitHostPort(a)
	if err != nil {
		host = a
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
