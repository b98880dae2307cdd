// Package testutil provides in-memory fakes for testing meshlink sessions
// without a coordination server or a kernel device.
package testutil

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"github.com/go-i2p/meshlink/lib/config"
	"github.com/go-i2p/meshlink/lib/engine"
	"github.com/go-i2p/meshlink/version"
	"golang.zx2c4.com/wireguard/tun"
)

// Default registration handed out by MockEngine.
var (
	DefaultVirtualIP = netip.MustParseAddr("10.26.0.2")
	DefaultNetmask   = netip.MustParseAddr("255.255.255.0")
	DefaultGateway   = netip.MustParseAddr("10.26.0.1")
)

// MockEngine is a scriptable engine. Unset hooks succeed: Connect answers
// with the current protocol version, Register assigns DefaultVirtualIP and
// Run blocks until its context is done.
type MockEngine struct {
	ConnectFunc  func(ctx context.Context, server netip.AddrPort) (*engine.HandshakeInfo, error)
	RegisterFunc func(ctx context.Context, req engine.RegisterRequest) (*engine.Registration, error)
	RunFunc      func(ctx context.Context, dev tun.Device, sink engine.Sink) error

	mu       sync.Mutex
	cfg      *config.Config
	connects []netip.AddrPort
	requests []engine.RegisterRequest
	sink     engine.Sink
	device   tun.Device
	closes   int
	running  chan struct{}
	runOnce  sync.Once
}

// NewMockEngine creates an engine whose calls all succeed.
func NewMockEngine() *MockEngine {
	return &MockEngine{running: make(chan struct{})}
}

// Factory returns a factory that always hands out m.
func (m *MockEngine) Factory() engine.Factory {
	return func(cfg *config.Config) (engine.Engine, error) {
		m.mu.Lock()
		m.cfg = cfg
		m.mu.Unlock()
		return m, nil
	}
}

// Connect records the attempt.
func (m *MockEngine) Connect(ctx context.Context, server netip.AddrPort) (*engine.HandshakeInfo, error) {
	m.mu.Lock()
	m.connects = append(m.connects, server)
	m.mu.Unlock()

	if m.ConnectFunc != nil {
		return m.ConnectFunc(ctx, server)
	}
	return &engine.HandshakeInfo{Version: version.Protocol}, nil
}

// Register records the request.
func (m *MockEngine) Register(ctx context.Context, req engine.RegisterRequest) (*engine.Registration, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.RegisterFunc != nil {
		return m.RegisterFunc(ctx, req)
	}
	return &engine.Registration{
		VirtualIP: DefaultVirtualIP,
		Netmask:   DefaultNetmask,
		Gateway:   DefaultGateway,
	}, nil
}

// Run records the device and sink, then runs RunFunc or blocks until ctx is
// done.
func (m *MockEngine) Run(ctx context.Context, dev tun.Device, sink engine.Sink) error {
	m.mu.Lock()
	m.sink = sink
	m.device = dev
	m.mu.Unlock()
	m.runOnce.Do(func() { close(m.running) })

	if m.RunFunc != nil {
		return m.RunFunc(ctx, dev, sink)
	}
	<-ctx.Done()
	return nil
}

// Close counts calls.
func (m *MockEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

// WaitRunning waits up to timeout for Run to be called and returns the sink
// it was given, or nil.
func (m *MockEngine) WaitRunning(timeout time.Duration) engine.Sink {
	select {
	case <-m.running:
		return m.Sink()
	case <-time.After(timeout):
		return nil
	}
}

// Sink returns the sink passed to Run, or nil.
func (m *MockEngine) Sink() engine.Sink {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sink
}

// Device returns the device passed to Run, or nil.
func (m *MockEngine) Device() tun.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.device
}

// Config returns the configuration the factory was called with.
func (m *MockEngine) Config() *config.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Connects returns the addresses Connect was called with.
func (m *MockEngine) Connects() []netip.AddrPort {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]netip.AddrPort(nil), m.connects...)
}

// Requests returns the registration requests received.
func (m *MockEngine) Requests() []engine.RegisterRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]engine.RegisterRequest(nil), m.requests...)
}

// Closes returns how many times Close was called.
func (m *MockEngine) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}
