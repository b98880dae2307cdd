package session

import (
	"sync/atomic"
	"time"

	"github.com/go-i2p/meshlink/lib/errors"
	"github.com/go-i2p/meshlink/lib/metrics"
)

// DefaultDecisionTimeout is how long a ChannelHandler waits for the consumer
// to answer a decision before rejecting it.
const DefaultDecisionTimeout = 30 * time.Second

// ChannelHandler turns a session's callbacks into a channel of events, for
// hosts that prefer a select loop to implementing Handler.
//
// Notifications are dropped when the buffer is full; use Dropped to detect a
// consumer that is not keeping up. Decisions are never dropped: the consumer
// must answer HandshakeEvent and RegisterEvent with Accept or Reject, and
// DeviceRequestEvent with Provide or Fail. The channel is closed after the
// StoppedEvent. A ChannelHandler serves one session.
type ChannelHandler struct {
	// DecisionTimeout bounds how long a decision waits for an answer.
	// Unanswered decisions are rejected.
	DecisionTimeout time.Duration

	events  chan Event
	metrics *metrics.Collector
	closed  bool
	dropped atomic.Uint64
}

// NewChannelHandler creates a handler with the given buffer size. m may be
// nil.
func NewChannelHandler(bufferSize int, m *metrics.Collector) *ChannelHandler {
	if bufferSize < 1 {
		bufferSize = 100
	}
	return &ChannelHandler{
		DecisionTimeout: DefaultDecisionTimeout,
		events:          make(chan Event, bufferSize),
		metrics:         m,
	}
}

// Events returns the event channel.
func (h *ChannelHandler) Events() <-chan Event {
	return h.events
}

// Dropped returns how many notifications were dropped because the buffer was
// full.
func (h *ChannelHandler) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *ChannelHandler) Connect(ev ConnectEvent)             { h.emit(ev) }
func (h *ChannelHandler) DeviceCreated(ev DeviceCreatedEvent) { h.emit(ev) }
func (h *ChannelHandler) Connected(ev ConnectedEvent)         { h.emit(ev) }
func (h *ChannelHandler) PeerList(ev PeerListEvent)           { h.emit(ev) }
func (h *ChannelHandler) Error(ev ErrorEvent)                 { h.emit(ev) }

// Handshake waits for the consumer to accept or reject the server.
func (h *ChannelHandler) Handshake(ev HandshakeEvent) bool {
	ev.reply = make(chan bool, 1)
	ok, answered := await(h, ev, ev.reply)
	return answered && ok
}

// Register waits for the consumer to accept or reject the address.
func (h *ChannelHandler) Register(ev RegisterEvent) bool {
	ev.reply = make(chan bool, 1)
	ok, answered := await(h, ev, ev.reply)
	return answered && ok
}

// DeviceRequest waits for the consumer to provide a descriptor.
func (h *ChannelHandler) DeviceRequest(ev DeviceRequestEvent) (int, error) {
	ev.reply = make(chan deviceReply, 1)
	r, answered := await(h, ev, ev.reply)
	if !answered {
		return -1, errors.ErrTimeout
	}
	return r.fd, r.err
}

// Stopped delivers the final event and closes the channel.
func (h *ChannelHandler) Stopped(ev StoppedEvent) {
	if h.closed {
		return
	}
	if !h.send(ev) {
		log.Warn("consumer did not take the stopped event, closing event channel")
	}
	h.closed = true
	close(h.events)
}

// emit sends a notification without blocking.
func (h *ChannelHandler) emit(ev Event) {
	if h.closed {
		return
	}
	select {
	case h.events <- ev:
	default:
		h.dropped.Add(1)
		h.metrics.Dropped()
		log.WithField("event", ev.Kind().String()).Debug("event buffer full, dropping notification")
	}
}

// send blocks until ev is buffered or the decision timeout passes.
func (h *ChannelHandler) send(ev Event) bool {
	if h.closed {
		return false
	}
	timer := time.NewTimer(h.timeout())
	defer timer.Stop()
	select {
	case h.events <- ev:
		return true
	case <-timer.C:
		return false
	}
}

func (h *ChannelHandler) timeout() time.Duration {
	if h.DecisionTimeout <= 0 {
		return DefaultDecisionTimeout
	}
	return h.DecisionTimeout
}

// await sends a decision and waits for its answer within one timeout.
func await[T any](h *ChannelHandler, ev Event, reply chan T) (T, bool) {
	var zero T
	if h.closed {
		return zero, false
	}

	timer := time.NewTimer(h.timeout())
	defer timer.Stop()
	select {
	case h.events <- ev:
	case <-timer.C:
		log.WithField("event", ev.Kind().String()).Warn("consumer did not take decision")
		return zero, false
	}

	select {
	case v := <-reply:
		return v, true
	case <-timer.C:
		log.WithField("event", ev.Kind().String()).Warn("decision not answered in time")
		return zero, false
	}
}
