package session

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/go-i2p/meshlink/lib/engine"
	"github.com/go-i2p/meshlink/lib/errors"
	"github.com/go-i2p/meshlink/lib/tunnel"
	"github.com/go-i2p/meshlink/version"
	"golang.zx2c4.com/wireguard/tun"
)

// reportedError marks a fault the handler has already been told about.
type reportedError struct{ err error }

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

// run drives the session from Created to a terminal state.
func (s *Session) run() {
	defer close(s.finished)
	s.finish(s.drive())
}

func (s *Session) drive() error {
	if !s.transition(StateConnecting) {
		return s.ctx.Err()
	}

	info, server, err := s.connect()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.server = server
	s.serverVersion = info.Version
	s.mu.Unlock()

	s.transition(StateHandshakeOffered)
	ok, err := s.decideBool(HandshakeEvent{
		PublicKey:   info.PEM(),
		Fingerprint: info.Fingerprint,
		Version:     info.Version,
		Server:      server,
	})
	if err != nil {
		return err
	}
	s.metrics.Decision("handshake", ok)
	if !ok {
		return fmt.Errorf("%w: handshake with %s", errors.ErrPolicyRejected, server)
	}

	s.transition(StateRegistering)
	reg, err := s.register()
	if err != nil {
		return err
	}
	ok, err = s.decideBool(RegisterEvent{
		VirtualIP: reg.VirtualIP,
		Netmask:   reg.Netmask,
		Gateway:   reg.Gateway,
		Relay:     reg.Relay,
	})
	if err != nil {
		return err
	}
	s.metrics.Decision("register", ok)
	if !ok {
		return fmt.Errorf("%w: registration as %s", errors.ErrPolicyRejected, reg.VirtualIP)
	}

	dev, err := s.acquireDevice(reg)
	if err != nil {
		return err
	}
	return s.active(server, dev)
}

// connect tries every candidate in turn until one answers or the retry
// budget is spent.
func (s *Session) connect() (*engine.HandshakeInfo, netip.AddrPort, error) {
	if len(s.cfg.Servers) == 0 {
		return nil, netip.AddrPort{}, errors.WrapFault(errors.Disconnected, "no coordination server configured", errors.ErrNoCandidates)
	}

	attempts := 0
	failed := func(candidate string, err error) error {
		log.WithError(err).WithField("server", candidate).WithField("attempt", attempts).Warn("connect attempt failed")
		if s.opts.backoff.Exhausted(attempts) {
			return errors.WrapFault(errors.Disconnected,
				fmt.Sprintf("no coordination server reachable after %d attempts", attempts),
				errors.ErrNoCandidates)
		}
		return s.opts.backoff.Wait(s.ctx, attempts-1)
	}

	for {
		for _, candidate := range s.cfg.Servers {
			addrs, err := s.opts.resolver.Resolve(s.ctx, candidate)
			if err != nil {
				if s.ctx.Err() != nil {
					return nil, netip.AddrPort{}, s.ctx.Err()
				}
				attempts++
				if err := failed(candidate, err); err != nil {
					return nil, netip.AddrPort{}, err
				}
				continue
			}

			for _, addr := range addrs {
				attempts++
				s.metrics.ConnectAttempt()
				s.emit(ConnectEvent{Server: candidate, Address: addr, Count: attempts})

				info, err := s.engine.Connect(s.ctx, addr)
				if err == nil && info == nil {
					err = fmt.Errorf("%w: engine returned no handshake", errors.ErrConnection)
				}
				if err == nil && s.cfg.Finger {
					err = info.Verify()
				}
				if err == nil {
					log.WithField("server", addr).WithField("version", info.Version).Info("coordination server answered")
					return info, addr, nil
				}
				if s.ctx.Err() != nil {
					return nil, netip.AddrPort{}, s.ctx.Err()
				}
				if err := failed(candidate, err); err != nil {
					return nil, netip.AddrPort{}, err
				}
			}
		}
	}
}

// register obtains the virtual address. Every failure here is fatal.
func (s *Session) register() (*engine.Registration, error) {
	reg, err := s.engine.Register(s.ctx, engine.RequestFor(s.cfg, version.Client()))
	if err != nil {
		if s.ctx.Err() != nil {
			return nil, s.ctx.Err()
		}
		log.WithError(err).Warn("registration failed")
		return nil, err
	}
	if reg == nil || !reg.VirtualIP.Is4() || !reg.Netmask.Is4() {
		return nil, errors.NewFault(errors.InvalidIP, "coordinator assigned an unusable address")
	}

	s.mu.Lock()
	s.registration = *reg
	s.mu.Unlock()

	log.WithField("virtual_ip", reg.VirtualIP).WithField("gateway", reg.Gateway).Info("registered")
	return reg, nil
}

// acquireDevice creates the device on desktop platforms or asks the host
// for one on mobile platforms.
func (s *Session) acquireDevice(reg *engine.Registration) (tun.Device, error) {
	spec, err := tunnel.SpecFor(reg.VirtualIP, reg.Netmask, reg.Gateway, s.cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrDeviceUnavailable, err)
	}

	s.mu.Lock()
	s.network = spec.Network
	s.mu.Unlock()

	var dev tun.Device
	switch s.opts.platform {
	case tunnel.Mobile:
		fd, err := s.decideDevice(DeviceRequestEvent{Spec: spec})
		if err != nil {
			return nil, err
		}
		dev, err = s.opts.provider.Adopt(fd, spec)
		if err != nil {
			return nil, err
		}
	default:
		var info tunnel.Info
		dev, info, err = s.opts.provider.Create(spec)
		if err != nil {
			return nil, err
		}
		s.emit(DeviceCreatedEvent{Name: info.Name, Version: info.Version})
	}

	dev = tunnel.Impair(dev, s.cfg.PacketLoss, s.cfg.PacketDelay)
	s.mu.Lock()
	s.device = dev
	s.mu.Unlock()
	return dev, nil
}

// active runs the engine until the session is stopped or a fatal fault
// occurs.
func (s *Session) active(server netip.AddrPort, dev tun.Device) error {
	now := time.Now()
	s.mu.Lock()
	s.startedAt = now
	vip := s.registration.VirtualIP
	s.mu.Unlock()

	if !s.transition(StateActive) {
		return s.ctx.Err()
	}
	s.metrics.Started(now)
	s.emit(ConnectedEvent{VirtualIP: vip, Server: server})
	log.WithField("virtual_ip", vip).Info("session active")

	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	sink := newSink(s, cancel)
	defer sink.detach()

	result := make(chan error, 1)
	go func() {
		result <- s.engine.Run(runCtx, dev, sink)
	}()

	select {
	case err := <-result:
		if fatal := sink.fatal(); fatal != nil {
			return &reportedError{fatal}
		}
		if s.ctx.Err() != nil {
			return s.ctx.Err()
		}
		if err != nil {
			log.WithError(err).Warn("engine stopped with error")
		}
		return err
	case <-s.ctx.Done():
		s.transition(StateStopping)
		cancel()
		timer := time.NewTimer(s.opts.shutdownTimeout)
		defer timer.Stop()
		select {
		case <-result:
		case <-timer.C:
			log.WithField("timeout", s.opts.shutdownTimeout).Warn("engine did not stop in time, releasing it anyway")
		}
		return s.ctx.Err()
	}
}

// finish moves the session to its terminal state. A requested stop or a
// clean engine exit ends in Stopped; anything else ends in Failed. Host
// rejections and faults already reported are not notified again.
func (s *Session) finish(cause error) {
	final := StateFailed
	switch {
	case cause == nil || s.stopRequested.Load():
		final = StateStopped
		cause = nil
		s.transition(StateStopping)
	case errors.IsPolicyRejection(cause):
		log.WithError(cause).Info("session rejected by host")
	default:
		var reported *reportedError
		if !errors.As(cause, &reported) {
			s.notify(errors.NotificationOf(cause))
		}
		log.WithError(cause).Warn("session failed")
	}

	s.release()
	s.transition(final)
	s.emit(StoppedEvent{State: final, Err: cause})
	s.events.close()
	log.WithField("state", final).Info("session ended")
}

// decideBool asks the handler a yes/no question.
func (s *Session) decideBool(ev Event) (bool, error) {
	out, err := s.decide(ev)
	return out.ok && out.err == nil, err
}

// decideDevice asks the handler for a device descriptor.
func (s *Session) decideDevice(ev DeviceRequestEvent) (int, error) {
	out, err := s.decide(ev)
	if err != nil {
		return -1, err
	}
	if out.err != nil {
		return -1, fmt.Errorf("%w: host: %w", errors.ErrDeviceUnavailable, out.err)
	}
	return out.fd, nil
}

// decide queues a decision and blocks until the handler answers, the session
// is stopped or the decision timeout passes. A timeout counts as a rejection.
func (s *Session) decide(ev Event) (outcome, error) {
	reply := make(chan outcome, 1)
	if !s.events.push(request{event: ev, reply: reply}) {
		return outcome{}, errors.ErrClosed
	}

	var timeout <-chan time.Time
	if s.opts.decisionTimeout > 0 {
		timer := time.NewTimer(s.opts.decisionTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case out := <-reply:
		return out, nil
	case <-s.ctx.Done():
		return outcome{}, s.ctx.Err()
	case <-timeout:
		log.WithField("event", ev.Kind().String()).WithField("timeout", s.opts.decisionTimeout).Warn("host decision timed out")
		return outcome{fd: -1, err: errors.ErrTimeout}, nil
	}
}
