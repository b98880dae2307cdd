package session

import (
	"fmt"
	"sync"
)

// request is a queued event. Decisions carry a reply channel with room for
// exactly one answer, so delivering it never blocks.
type request struct {
	event Event
	reply chan outcome
}

type outcome struct {
	ok  bool
	fd  int
	err error
}

// dispatcher delivers events to the handler from a single goroutine, in the
// order they were queued. The queue is unbounded so the lifecycle never
// blocks on a slow handler.
type dispatcher struct {
	handler Handler

	mu     sync.Mutex
	queue  []request
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newDispatcher(h Handler) *dispatcher {
	return &dispatcher{
		handler: h,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// push queues r. It reports false once the dispatcher is closed.
func (d *dispatcher) push(r request) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.queue = append(d.queue, r)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return true
}

// close stops accepting events. Events already queued are still delivered.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			closed := d.closed
			d.mu.Unlock()
			if closed {
				return
			}
			<-d.wake
			continue
		}
		r := d.queue[0]
		d.queue[0] = request{}
		d.queue = d.queue[1:]
		d.mu.Unlock()

		d.deliver(r)
	}
}

func (d *dispatcher) deliver(r request) {
	out := outcome{fd: -1}
	defer func() {
		if p := recover(); p != nil {
			log.WithField("event", r.event.Kind().String()).WithField("panic", p).Error("session handler panicked")
			out = outcome{fd: -1, err: fmt.Errorf("handler panicked: %v", p)}
		}
		if r.reply != nil {
			r.reply <- out
		}
	}()

	switch ev := r.event.(type) {
	case ConnectEvent:
		d.handler.Connect(ev)
	case HandshakeEvent:
		out.ok = d.handler.Handshake(ev)
	case RegisterEvent:
		out.ok = d.handler.Register(ev)
	case DeviceCreatedEvent:
		d.handler.DeviceCreated(ev)
	case DeviceRequestEvent:
		out.fd, out.err = d.handler.DeviceRequest(ev)
		out.ok = out.err == nil
	case ConnectedEvent:
		d.handler.Connected(ev)
	case PeerListEvent:
		d.handler.PeerList(ev)
	case ErrorEvent:
		d.handler.Error(ev)
	case StoppedEvent:
		d.handler.Stopped(ev)
	}
}
