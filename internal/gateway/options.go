package gateway

import (
	"time"

	"github.com/artisan-mcp/artisan-mcp/internal/metrics"
)

type Option func(*Gateway)

// WithLocator replaces the PATH-based interpreter lookup.
func WithLocator(l Locator) Option {
	return func(g *Gateway) { g.locator = l }
}

// WithExecutor replaces the subprocess runner. Timeout and output limits
// are then the executor's concern.
func WithExecutor(e Executor) Option {
	return func(g *Gateway) { g.exec = e }
}

func WithEventSink(s EventSink) Option {
	return func(g *Gateway) { g.sink = s }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(g *Gateway) { g.metrics = c }
}

// WithInterpreter sets the executable name looked up on PATH. Defaults to "php".
func WithInterpreter(name string) Option {
	return func(g *Gateway) {
		if name != "" {
			g.interpreter = name
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.runnerOpts.Timeout = d }
}

func WithMaxOutput(n int64) Option {
	return func(g *Gateway) { g.runnerOpts.MaxOutputBytes = n }
}

// WithIDGenerator overrides how execution IDs are minted.
func WithIDGenerator(fn func() string) Option {
	return func(g *Gateway) {
		if fn != nil {
			g.newID = fn
		}
	}
}
