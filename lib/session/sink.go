package session

import (
	"context"
	"sync"

	"github.com/go-i2p/meshlink/lib/errors"
	"github.com/go-i2p/meshlink/lib/peers"
)

// sink is handed to the engine while the session is active. Reports that
// arrive after the engine has stopped are dropped.
type sink struct {
	s      *Session
	cancel context.CancelFunc

	mu       sync.Mutex
	detached bool
	fatalErr error
}

func newSink(s *Session, cancel context.CancelFunc) *sink {
	return &sink{s: s, cancel: cancel}
}

// PublishPeers applies the configured channel policy to each peer's
// candidate routes, replaces the peer table and notifies the handler.
func (k *sink) PublishPeers(entries []peers.Entry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.detached {
		log.WithField("peers", len(entries)).Debug("dropping peer list from stopped engine")
		return
	}

	entries = peers.Select(entries, peers.Selection{
		Direct:       k.s.cfg.Channel.AllowsDirect(),
		Relay:        k.s.cfg.Channel.AllowsRelay(),
		LatencyFirst: k.s.cfg.FirstLatency,
	})
	if err := k.s.table.Replace(entries); err != nil {
		log.WithError(err).WithField("peers", len(entries)).Warn("rejected peer list")
		return
	}
	k.s.metrics.Peers(k.s.table.Counts())
	k.s.emit(PeerListEvent{Peers: k.s.table.List()})
}

// ReportFault classifies the fault and notifies the handler. A fatal fault
// ends the session.
func (k *sink) ReportFault(code int, detail string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.detached {
		log.WithField("code", code).Debug("dropping fault from stopped engine")
		return
	}

	n := errors.Notify(code, detail)
	k.s.notify(n)
	if !n.Kind.Fatal() {
		log.WithField("kind", n.Kind.String()).WithField("detail", detail).Warn("engine reported fault")
		return
	}

	log.WithField("kind", n.Kind.String()).WithField("detail", detail).Error("engine reported fatal fault")
	if k.fatalErr == nil {
		k.fatalErr = errors.NewFault(n.Kind, detail)
		k.cancel()
	}
}

// fatal returns the first fatal fault reported, if any.
func (k *sink) fatal() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.fatalErr
}

func (k *sink) detach() {
	k.mu.Lock()
	k.detached = true
	k.mu.Unlock()
}
