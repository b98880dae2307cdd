package testutil

import (
	"sync"
	"time"

	"github.com/go-i2p/meshlink/lib/session"
)

// Recorder is a session.Handler that records every event it receives.
// Decisions are answered from its fields.
type Recorder struct {
	// AcceptHandshake answers Handshake.
	AcceptHandshake bool
	// AcceptRegister answers Register.
	AcceptRegister bool
	// DeviceFD and DeviceErr answer DeviceRequest.
	DeviceFD  int
	DeviceErr error
	// OnEvent, when set, is called after each event is recorded.
	OnEvent func(ev session.Event)

	mu      sync.Mutex
	events  []session.Event
	changed chan struct{}
}

// NewRecorder creates a recorder that accepts every decision.
func NewRecorder() *Recorder {
	return &Recorder{
		AcceptHandshake: true,
		AcceptRegister:  true,
		DeviceFD:        -1,
		changed:         make(chan struct{}),
	}
}

func (r *Recorder) Connect(ev session.ConnectEvent)             { r.record(ev) }
func (r *Recorder) DeviceCreated(ev session.DeviceCreatedEvent) { r.record(ev) }
func (r *Recorder) Connected(ev session.ConnectedEvent)         { r.record(ev) }
func (r *Recorder) PeerList(ev session.PeerListEvent)           { r.record(ev) }
func (r *Recorder) Error(ev session.ErrorEvent)                 { r.record(ev) }
func (r *Recorder) Stopped(ev session.StoppedEvent)             { r.record(ev) }

func (r *Recorder) Handshake(ev session.HandshakeEvent) bool {
	r.record(ev)
	return r.AcceptHandshake
}

func (r *Recorder) Register(ev session.RegisterEvent) bool {
	r.record(ev)
	return r.AcceptRegister
}

func (r *Recorder) DeviceRequest(ev session.DeviceRequestEvent) (int, error) {
	r.record(ev)
	return r.DeviceFD, r.DeviceErr
}

func (r *Recorder) record(ev session.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	if r.changed != nil {
		close(r.changed)
	}
	r.changed = make(chan struct{})
	r.mu.Unlock()

	if r.OnEvent != nil {
		r.OnEvent(ev)
	}
}

// Events returns the recorded events in delivery order.
func (r *Recorder) Events() []session.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.Event(nil), r.events...)
}

// Kinds returns the kinds of the recorded events in delivery order.
func (r *Recorder) Kinds() []session.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]session.EventKind, len(r.events))
	for i, ev := range r.events {
		kinds[i] = ev.Kind()
	}
	return kinds
}

// Count returns how many events of kind were recorded.
func (r *Recorder) Count(kind session.EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind() == kind {
			n++
		}
	}
	return n
}

// WaitFor waits up to timeout for the n-th event of kind, counting from 1.
func (r *Recorder) WaitFor(kind session.EventKind, n int, timeout time.Duration) (session.Event, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		r.mu.Lock()
		seen := 0
		for _, ev := range r.events {
			if ev.Kind() == kind {
				seen++
				if seen == n {
					r.mu.Unlock()
					return ev, true
				}
			}
		}
		if r.changed == nil {
			r.changed = make(chan struct{})
		}
		changed := r.changed
		r.mu.Unlock()

		select {
		case <-changed:
		case <-deadline.C:
			return nil, false
		}
	}
}
