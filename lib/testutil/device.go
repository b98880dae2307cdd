package testutil

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/go-i2p/meshlink/lib/tunnel"
	"golang.zx2c4.com/wireguard/tun"
)

// FakeDevice is a tun.Device that discards writes and never produces reads.
type FakeDevice struct {
	name    string
	mtu     int
	written atomic.Uint64
	closed  atomic.Bool
	events  chan tun.Event
}

// NewFakeDevice creates a device with the given name and MTU.
func NewFakeDevice(name string, mtu int) *FakeDevice {
	return &FakeDevice{name: name, mtu: mtu, events: make(chan tun.Event)}
}

func (d *FakeDevice) File() *os.File { return nil }

func (d *FakeDevice) Read(bufs [][]byte, sizes []int, offset int) (int, error) {
	return 0, os.ErrClosed
}

func (d *FakeDevice) Write(bufs [][]byte, offset int) (int, error) {
	if d.closed.Load() {
		return 0, os.ErrClosed
	}
	d.written.Add(uint64(len(bufs)))
	return len(bufs), nil
}

func (d *FakeDevice) MTU() (int, error)        { return d.mtu, nil }
func (d *FakeDevice) Name() (string, error)    { return d.name, nil }
func (d *FakeDevice) Events() <-chan tun.Event { return d.events }
func (d *FakeDevice) BatchSize() int           { return 1 }

func (d *FakeDevice) Close() error {
	d.closed.Store(true)
	return nil
}

// Closed reports whether Close was called.
func (d *FakeDevice) Closed() bool {
	return d.closed.Load()
}

// Written returns how many packets were written.
func (d *FakeDevice) Written() uint64 {
	return d.written.Load()
}

// FakeProvider hands out FakeDevices and records what it was asked for.
type FakeProvider struct {
	// CreateErr, when set, fails Create.
	CreateErr error
	// AdoptErr, when set, fails Adopt.
	AdoptErr error

	mu      sync.Mutex
	specs   []tunnel.Spec
	fds     []int
	devices []*FakeDevice
}

// Create returns a new FakeDevice named after spec.
func (p *FakeProvider) Create(spec tunnel.Spec) (tun.Device, tunnel.Info, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.specs = append(p.specs, spec)
	if p.CreateErr != nil {
		return nil, tunnel.Info{}, p.CreateErr
	}
	dev := NewFakeDevice(spec.Name, spec.MTU)
	p.devices = append(p.devices, dev)
	return dev, tunnel.Info{Name: spec.Name, Version: "fake"}, nil
}

// Adopt records fd and returns a new FakeDevice.
func (p *FakeProvider) Adopt(fd int, spec tunnel.Spec) (tun.Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.specs = append(p.specs, spec)
	p.fds = append(p.fds, fd)
	if p.AdoptErr != nil {
		return nil, p.AdoptErr
	}
	dev := NewFakeDevice(spec.Name, spec.MTU)
	p.devices = append(p.devices, dev)
	return dev, nil
}

// Specs returns the specs passed to Create or Adopt.
func (p *FakeProvider) Specs() []tunnel.Spec {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]tunnel.Spec(nil), p.specs...)
}

// Descriptors returns the descriptors passed to Adopt.
func (p *FakeProvider) Descriptors() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.fds...)
}

// Devices returns every device handed out.
func (p *FakeProvider) Devices() []*FakeDevice {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*FakeDevice(nil), p.devices...)
}
