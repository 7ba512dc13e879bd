package ticker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"kite_clickhouse/models"
)

// EventType tags the variants of Event.
type EventType int

const (
	// EventConnect is emitted on every successful (re)connect.
	EventConnect EventType = iota + 1
	// EventTick carries one decoded market snapshot.
	EventTick
	// EventOrderUpdate carries an order postback from the text channel.
	EventOrderUpdate
	// EventError reports a recoverable problem; the engine keeps running.
	EventError
	// EventClose is the single terminal event. After it, no more events
	// follow and handle commands fail with ErrNotConnected.
	EventClose
	// EventReconnect announces an upcoming reconnect attempt and its delay.
	EventReconnect
)

func (t EventType) String() string {
	switch t {
	case EventConnect:
		return "connect"
	case EventTick:
		return "tick"
	case EventOrderUpdate:
		return "order_update"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	case EventReconnect:
		return "reconnect"
	}
	return "unknown"
}

// Event is one item on the ticker's broadcast stream. Only the fields for
// the tagged type are set.
type Event struct {
	Type EventType

	Tick  *Tick         // EventTick
	Order *models.Order // EventOrderUpdate

	Message string // EventError

	Code   int    // EventClose
	Reason string // EventClose

	Attempt int           // EventReconnect
	Delay   time.Duration // EventReconnect
}

// dispatcher fans events out to any number of independently paced
// consumers. Publishing never blocks: a full subscriber buffer sheds its
// oldest event instead, and the subscriber learns about the loss on its
// next Recv.
type dispatcher struct {
	mu      sync.Mutex
	subs    map[*EventStream]struct{}
	bufSize int
	closed  bool
}

func newDispatcher(bufSize int) *dispatcher {
	if bufSize < 1 {
		bufSize = 1
	}
	return &dispatcher{
		subs:    make(map[*EventStream]struct{}),
		bufSize: bufSize,
	}
}

// subscribe creates a new cursor. Events broadcast before the cursor
// existed are never replayed into it.
func (d *dispatcher) subscribe() *EventStream {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := &EventStream{
		d:  d,
		ch: make(chan Event, d.bufSize),
	}
	if d.closed {
		close(s.ch)
		return s
	}
	d.subs[s] = struct{}{}
	return s
}

func (d *dispatcher) publish(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	for s := range d.subs {
		s.push(ev)
	}
}

func (d *dispatcher) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for s := range d.subs {
		close(s.ch)
	}
	d.subs = make(map[*EventStream]struct{})
}

// EventStream is one consumer's receive cursor over the broadcast stream.
// Each subscriber sees every event emitted after it subscribed, exactly
// once, in emission order, unless it falls behind its buffer.
type EventStream struct {
	d       *dispatcher
	ch      chan Event
	dropped atomic.Uint64
}

// push is called with the dispatcher lock held, serializing producers.
func (s *EventStream) push(ev Event) {
	for {
		select {
		case s.ch <- ev:
			return
		default:
		}
		// Buffer full: shed the oldest event and retry.
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
}

// Recv returns the next event. If the consumer lagged and events were
// dropped, the loss is reported once as a SlowConsumerError before
// delivery resumes. ErrStreamClosed is returned after the engine shuts
// down and the buffer is drained.
func (s *EventStream) Recv(ctx context.Context) (Event, error) {
	if n := s.dropped.Swap(0); n > 0 {
		return Event{}, &SlowConsumerError{Dropped: n}
	}

	select {
	case ev, ok := <-s.ch:
		if !ok {
			return Event{}, ErrStreamClosed
		}
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Close detaches the cursor from the broadcast stream.
func (s *EventStream) Close() {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if _, ok := s.d.subs[s]; ok {
		delete(s.d.subs, s)
		close(s.ch)
	}
}
