package session

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-i2p/meshlink/lib/config"
	"github.com/go-i2p/meshlink/lib/engine"
	"github.com/go-i2p/meshlink/lib/errors"
	"github.com/go-i2p/meshlink/lib/metrics"
	"github.com/go-i2p/meshlink/lib/peers"
	"github.com/go-i2p/meshlink/lib/resolve"
	"github.com/go-i2p/meshlink/version"
	"golang.zx2c4.com/wireguard/tun"
)

// Status contains current session status information.
type Status struct {
	// State is the current lifecycle state.
	State State
	// VirtualIP is the assigned overlay address, once registered.
	VirtualIP netip.Addr
	// Gateway is the overlay gateway, once registered.
	Gateway netip.Addr
	// Network is the overlay network, once registered.
	Network netip.Prefix
	// Server is the coordination server that answered.
	Server netip.AddrPort
	// ServerVersion is the protocol version the server reported.
	ServerVersion string
	// PeerCount is the number of peers in the latest snapshot.
	PeerCount int
	// StartedAt is when the session became active.
	StartedAt time.Time
	// Uptime is how long the session has been active.
	Uptime time.Duration
	// Version is the client version.
	Version string
}

// Session is one running overlay client. It owns the engine and the virtual
// device for its lifetime.
type Session struct {
	mu sync.RWMutex

	cfg     *config.Config
	opts    options
	engine  engine.Engine
	events  *dispatcher
	table   *peers.Table
	metrics *metrics.Collector

	state         State
	server        netip.AddrPort
	serverVersion string
	registration  engine.Registration
	network       netip.Prefix
	startedAt     time.Time
	endedAt       time.Time
	device        tun.Device

	ctx           context.Context
	cancel        context.CancelFunc
	stopRequested atomic.Bool

	finished    chan struct{}
	releaseOnce sync.Once
	releaseErr  error
	closeOnce   sync.Once
}

// New validates its arguments, opens the engine and starts the session in
// the background. It returns an error only when the session cannot be
// created at all; everything that goes wrong later is reported to handler.
func New(cfg *config.Config, handler Handler, factory engine.Factory, opts ...Option) (*Session, error) {
	if cfg == nil {
		return nil, errors.ErrSessionConfigRequired
	}
	if handler == nil {
		return nil, errors.ErrSessionHandlerRequired
	}
	if factory == nil {
		return nil, errors.ErrSessionEngineRequired
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrConfiguration, err)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	cfg = cfg.Clone()
	if o.resolver == nil {
		o.resolver = resolve.New(cfg.NameServers)
	}
	if o.provider == nil {
		return nil, fmt.Errorf("session: device provider %w", errors.ErrInvalidInput)
	}

	log.WithField("name", cfg.Name).WithField("platform", o.platform.String()).Debug("creating session")

	eng, err := factory(cfg)
	if err != nil {
		log.WithError(err).Warn("failed to open engine")
		return nil, fmt.Errorf("%w: opening engine: %w", errors.ErrResourceExhausted, err)
	}
	if eng == nil {
		return nil, errors.ErrSessionEngineRequired
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:      cfg,
		opts:     o,
		engine:   eng,
		events:   newDispatcher(handler),
		table:    peers.NewTable(),
		metrics:  o.metrics,
		state:    StateCreated,
		ctx:      ctx,
		cancel:   cancel,
		finished: make(chan struct{}),
	}

	go s.events.run()
	go s.run()

	log.WithField("name", cfg.Name).Info("session created")
	return s, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Status returns current session status.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := Status{
		State:         s.state,
		VirtualIP:     s.registration.VirtualIP,
		Gateway:       s.registration.Gateway,
		Network:       s.network,
		Server:        s.server,
		ServerVersion: s.serverVersion,
		PeerCount:     s.table.Len(),
		Version:       version.Client(),
	}

	if !s.startedAt.IsZero() {
		status.StartedAt = s.startedAt
		end := s.endedAt
		if end.IsZero() {
			end = time.Now()
		}
		status.Uptime = end.Sub(s.startedAt)
	}
	return status
}

// Config returns a copy of the session configuration.
func (s *Session) Config() *config.Config {
	return s.cfg.Clone()
}

// List returns the latest peer table snapshot ordered by virtual IP. It never
// blocks and works in every state; before the first refresh it is empty.
func (s *Session) List() []peers.Entry {
	return s.table.List()
}

// Stop asks the session to stop. It returns immediately; use Wait to block
// until the session has ended. Stop on an ended session does nothing.
func (s *Session) Stop() {
	if s.State().Terminal() {
		return
	}
	if s.stopRequested.CompareAndSwap(false, true) {
		log.WithField("state", s.State()).Info("stopping session")
		s.cancel()
	}
}

// Done returns a channel that is closed once the session has ended and the
// Stopped event has been delivered.
func (s *Session) Done() <-chan struct{} {
	return s.events.done
}

// Wait blocks until the session has ended.
func (s *Session) Wait() {
	<-s.Done()
}

// WaitTimeout waits up to d for the session to end and reports whether it
// did. It leaves the session running on timeout.
func (s *Session) WaitTimeout(d time.Duration) bool {
	if d <= 0 {
		select {
		case <-s.Done():
			return true
		default:
			return false
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.Done():
		return true
	case <-timer.C:
		return false
	}
}

// Close stops the session, waits for the lifecycle to end and releases the
// engine. It is safe to call more than once and from any goroutine,
// including while another goroutine is in Wait. Only the first call reports
// a release error.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		log.Debug("closing session")
		s.Stop()
		<-s.finished
		err = s.release()
	})
	return err
}

// release closes the device and the engine exactly once.
func (s *Session) release() error {
	s.releaseOnce.Do(func() {
		s.mu.Lock()
		dev := s.device
		s.device = nil
		s.mu.Unlock()

		var errs []error
		if dev != nil {
			if err := dev.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing device: %w", err))
			}
		}
		if err := s.engine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing engine: %w", err))
		}
		s.releaseErr = errors.Join(errs...)
		if s.releaseErr != nil {
			log.WithError(s.releaseErr).Warn("error releasing session resources")
		}
	})
	return s.releaseErr
}

// transition moves to state to if the lifecycle allows it.
func (s *Session) transition(to State) bool {
	s.mu.Lock()
	from := s.state
	if !canTransition(from, to) {
		s.mu.Unlock()
		if from != to {
			log.WithField("from", from).WithField("to", to).Warn("rejected session state transition")
		}
		return false
	}
	s.state = to
	if to.Terminal() && !s.startedAt.IsZero() {
		s.endedAt = time.Now()
	}
	s.mu.Unlock()

	log.WithField("from", from).WithField("to", to).Debug("session state transition")
	s.metrics.Transition(string(from), string(to))
	return true
}

// emit queues a notification for the handler.
func (s *Session) emit(ev Event) bool {
	return s.events.push(request{event: ev})
}

// notify queues an error notification.
func (s *Session) notify(n errors.Notification) {
	s.metrics.Fault(n.Kind.String())
	s.emit(ErrorEvent{Fault: n.Kind, Detail: n.Detail})
}
