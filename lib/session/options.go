package session

import (
	"time"

	"github.com/go-i2p/meshlink/lib/metrics"
	"github.com/go-i2p/meshlink/lib/resilience"
	"github.com/go-i2p/meshlink/lib/resolve"
	"github.com/go-i2p/meshlink/lib/tunnel"
)

// DefaultShutdownTimeout bounds how long Stop waits for the engine to return
// from Run before releasing it anyway.
const DefaultShutdownTimeout = 5 * time.Second

type options struct {
	platform        tunnel.Platform
	provider        tunnel.Provider
	backoff         resilience.Backoff
	metrics         *metrics.Collector
	resolver        *resolve.Resolver
	decisionTimeout time.Duration
	shutdownTimeout time.Duration
}

// Option is a functional option for configuring a Session.
type Option func(*options)

// WithPlatform overrides the detected platform.
func WithPlatform(p tunnel.Platform) Option {
	return func(o *options) {
		o.platform = p
	}
}

// WithDeviceProvider sets how the virtual device is obtained.
// Default: tunnel.KernelProvider
func WithDeviceProvider(p tunnel.Provider) Option {
	return func(o *options) {
		o.provider = p
	}
}

// WithBackoff sets the connect retry schedule.
func WithBackoff(b resilience.Backoff) Option {
	return func(o *options) {
		o.backoff = b
	}
}

// WithMetrics records session metrics in c.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) {
		o.metrics = c
	}
}

// WithResolver sets the candidate resolver.
// Default: a resolver using the configured name servers
func WithResolver(r *resolve.Resolver) Option {
	return func(o *options) {
		o.resolver = r
	}
}

// WithDecisionTimeout rejects a decision the host has not answered within d.
// Default: 0, wait as long as the session runs
func WithDecisionTimeout(d time.Duration) Option {
	return func(o *options) {
		o.decisionTimeout = d
	}
}

// WithShutdownTimeout bounds how long a stop waits for the engine.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.shutdownTimeout = d
		}
	}
}

func defaultOptions() options {
	return options{
		platform:        tunnel.DetectPlatform(),
		provider:        tunnel.KernelProvider{},
		backoff:         resilience.DefaultBackoff(),
		shutdownTimeout: DefaultShutdownTimeout,
	}
}
