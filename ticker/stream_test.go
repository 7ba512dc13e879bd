package ticker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvOne(t *testing.T, s *EventStream) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := s.Recv(ctx)
	require.NoError(t, err)
	return ev
}

func reconnectEvent(attempt int) Event {
	return Event{Type: EventReconnect, Attempt: attempt}
}

func TestDispatcherBroadcastsToAllSubscribers(t *testing.T) {
	d := newDispatcher(16)
	a := d.subscribe()
	b := d.subscribe()

	d.publish(Event{Type: EventConnect})
	d.publish(reconnectEvent(1))

	for _, s := range []*EventStream{a, b} {
		assert.Equal(t, EventConnect, recvOne(t, s).Type)
		assert.Equal(t, 1, recvOne(t, s).Attempt)
	}
}

func TestDispatcherNoReplayForLateSubscriber(t *testing.T) {
	d := newDispatcher(16)
	d.publish(Event{Type: EventConnect})

	late := d.subscribe()
	d.publish(reconnectEvent(7))

	ev := recvOne(t, late)
	assert.Equal(t, EventReconnect, ev.Type)
	assert.Equal(t, 7, ev.Attempt)
}

func TestDispatcherSlowConsumerDropsOldest(t *testing.T) {
	d := newDispatcher(2)
	s := d.subscribe()

	for i := 1; i <= 5; i++ {
		d.publish(reconnectEvent(i))
	}

	ctx := context.Background()
	_, err := s.Recv(ctx)
	var slow *SlowConsumerError
	require.ErrorAs(t, err, &slow)
	assert.Equal(t, uint64(3), slow.Dropped)

	// Delivery resumes with the newest surviving events.
	ev, err := s.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, ev.Attempt)
	ev, err = s.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, ev.Attempt)
}

func TestDispatcherProducerNeverBlocks(t *testing.T) {
	d := newDispatcher(1)
	_ = d.subscribe() // never read

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			d.publish(reconnectEvent(i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow consumer")
	}
}

func TestStreamRecvAfterClose(t *testing.T) {
	d := newDispatcher(8)
	s := d.subscribe()

	d.publish(Event{Type: EventConnect})
	d.close()

	// Buffered events drain out before the closed signal.
	ev, err := s.Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, EventConnect, ev.Type)

	_, err = s.Recv(context.Background())
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestStreamRecvRespectsContext(t *testing.T) {
	d := newDispatcher(8)
	s := d.subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Recv(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStreamCloseDetaches(t *testing.T) {
	d := newDispatcher(8)
	s := d.subscribe()
	s.Close()

	d.publish(Event{Type: EventConnect})

	_, err := s.Recv(context.Background())
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestSubscribeAfterDispatcherClosed(t *testing.T) {
	d := newDispatcher(8)
	d.close()

	s := d.subscribe()
	_, err := s.Recv(context.Background())
	assert.ErrorIs(t, err, ErrStreamClosed)
}
