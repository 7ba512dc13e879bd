package ticker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kite_clickhouse/ws"
)

type fakeConn struct {
	mu        sync.Mutex
	writes    [][]byte
	frames    chan wsFrame
	errs      chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan wsFrame, 16),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case fr := <-c.frames:
		return fr.messageType, fr.data, nil
	case err := <-c.errs:
		return 0, nil, err
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) sentCommands() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.writes))
	for i, w := range c.writes {
		out[i] = string(w)
	}
	return out
}

func (c *fakeConn) sendBinary(data []byte) {
	c.frames <- wsFrame{messageType: ws.BinaryMessage, data: data}
}

func (c *fakeConn) sendText(data string) {
	c.frames <- wsFrame{messageType: ws.TextMessage, data: []byte(data)}
}

func (c *fakeConn) failRead(err error) {
	c.errs <- err
}

// fakeDialer hands out queued connections; an exhausted queue refuses the
// dial.
type fakeDialer struct {
	mu    sync.Mutex
	queue []*fakeConn
	dials int
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (ws.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.queue) == 0 {
		return nil, fmt.Errorf("dial refused (attempt %d)", d.dials)
	}
	conn := d.queue[0]
	d.queue = d.queue[1:]
	return conn, nil
}

func newTestTicker(t *testing.T, dialer ws.Dialer, opts ...Option) (*Ticker, Handle) {
	t.Helper()
	base := []Option{
		WithDialer(dialer),
		WithConnectTimeout(time.Second),
		withReconnectBaseDelay(time.Millisecond),
	}
	return New("test_key", "test_token", append(base, opts...)...)
}

// recvUntil reads events until one matches the wanted type, returning
// every event seen along the way.
func recvUntil(t *testing.T, s *EventStream, want EventType) []Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var seen []Event
	for {
		ev, err := s.Recv(ctx)
		require.NoError(t, err, "waiting for %v, saw %+v", want, seen)
		seen = append(seen, ev)
		if ev.Type == want {
			return seen
		}
	}
}

func TestServeExhaustsReconnectBudget(t *testing.T) {
	engine, handle := newTestTicker(t, &fakeDialer{}, WithReconnectMaxRetries(2))
	stream := handle.SubscribeEvents()

	serveErr := make(chan error, 1)
	go func() { serveErr <- engine.Serve(context.Background()) }()

	seen := recvUntil(t, stream, EventClose)

	var attempts []int
	for _, ev := range seen {
		if ev.Type == EventReconnect {
			attempts = append(attempts, ev.Attempt)
		}
	}
	assert.Equal(t, []int{1, 2}, attempts)

	closeEv := seen[len(seen)-1]
	assert.Equal(t, ErrMaxRetriesExceeded.Error(), closeEv.Reason)

	select {
	case err := <-serveErr:
		assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}

	// The engine is terminal: handle commands fail fast.
	err := handle.Subscribe(context.Background(), []uint32{408065})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestServeNoAutoReconnect(t *testing.T) {
	engine, handle := newTestTicker(t, &fakeDialer{}, WithAutoReconnect(false))
	stream := handle.SubscribeEvents()

	serveErr := make(chan error, 1)
	go func() { serveErr <- engine.Serve(context.Background()) }()

	seen := recvUntil(t, stream, EventClose)
	for _, ev := range seen {
		assert.NotEqual(t, EventReconnect, ev.Type)
	}

	var cerr *ConnectionError
	assert.ErrorAs(t, <-serveErr, &cerr)
}

func TestServeStreamsAndReplaysAfterReconnect(t *testing.T) {
	conn1 := newFakeConn()
	conn2 := newFakeConn()
	dialer := &fakeDialer{queue: []*fakeConn{conn1, conn2}}

	engine, handle := newTestTicker(t, dialer, WithReconnectMaxRetries(5))
	stream := handle.SubscribeEvents()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveErr := make(chan error, 1)
	go func() { serveErr <- engine.Serve(ctx) }()

	recvUntil(t, stream, EventConnect)

	// Commands resolve once applied and sent on the wire.
	require.NoError(t, handle.Subscribe(ctx, []uint32{408065, 256265}))
	require.NoError(t, handle.SetMode(ctx, ModeFull, []uint32{408065}))

	sent := conn1.sentCommands()
	require.Len(t, sent, 2)
	assert.JSONEq(t, `{"a":"subscribe","v":[408065,256265]}`, sent[0])
	assert.JSONEq(t, `{"a":"mode","v":["full",[408065]]}`, sent[1])

	// Binary frames decode into tick events.
	conn1.sendBinary(buildMessage(ltpPacket(408065, 157315)))
	seen := recvUntil(t, stream, EventTick)
	tick := seen[len(seen)-1].Tick
	assert.Equal(t, uint32(408065), tick.InstrumentToken)
	assert.Equal(t, 1573.15, tick.LastPrice)

	// Text frames carry order updates and server errors.
	conn1.sendText(`{"type":"order","data":{"order_id":"151220000000000","status":"COMPLETE"}}`)
	seen = recvUntil(t, stream, EventOrderUpdate)
	assert.Equal(t, "151220000000000", seen[len(seen)-1].Order.OrderID)

	conn1.sendText(`{"type":"error","data":"invalid token"}`)
	seen = recvUntil(t, stream, EventError)
	assert.Equal(t, "invalid token", seen[len(seen)-1].Message)

	// A malformed binary frame is surfaced as an error event, not a
	// disconnect.
	conn1.sendBinary([]byte{0x00, 0x01, 0x00, 0xFF, 0x01})
	seen = recvUntil(t, stream, EventError)
	assert.Contains(t, seen[len(seen)-1].Message, "protocol error")

	// Drop the connection; the engine reconnects and replays the
	// tracked subscriptions: subscribe first, then the mode group.
	conn1.failRead(errors.New("connection reset by peer"))

	seen = recvUntil(t, stream, EventConnect)
	var sawReconnect bool
	for _, ev := range seen {
		if ev.Type == EventReconnect {
			sawReconnect = true
			assert.Equal(t, 1, ev.Attempt)
			assert.Greater(t, ev.Delay, time.Duration(0))
		}
	}
	assert.True(t, sawReconnect)

	require.Eventually(t, func() bool {
		return len(conn2.sentCommands()) >= 2
	}, 5*time.Second, 5*time.Millisecond)

	replayed := conn2.sentCommands()
	assert.JSONEq(t, `{"a":"subscribe","v":[256265,408065]}`, replayed[0])
	assert.JSONEq(t, `{"a":"mode","v":["full",[408065]]}`, replayed[1])

	// Shut down: terminal close event, then the stream drains out.
	cancel()
	recvUntil(t, stream, EventClose)
	assert.ErrorIs(t, <-serveErr, context.Canceled)

	rctx, rcancel := context.WithTimeout(context.Background(), time.Second)
	defer rcancel()
	_, err := stream.Recv(rctx)
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestServeTerminalServerClose(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{queue: []*fakeConn{conn}}

	engine, handle := newTestTicker(t, dialer, WithAutoReconnect(false))
	stream := handle.SubscribeEvents()

	serveErr := make(chan error, 1)
	go func() { serveErr <- engine.Serve(context.Background()) }()

	recvUntil(t, stream, EventConnect)
	conn.failRead(&websocket.CloseError{Code: websocket.CloseNormalClosure, Text: "session expired"})

	seen := recvUntil(t, stream, EventClose)
	closeEv := seen[len(seen)-1]
	assert.Equal(t, websocket.CloseNormalClosure, closeEv.Code)
	assert.Equal(t, "session expired", closeEv.Reason)

	var ce *websocket.CloseError
	assert.ErrorAs(t, <-serveErr, &ce)
}

func TestSetModeRejectsInvalidMode(t *testing.T) {
	conn := newFakeConn()
	_, handle := newTestTicker(t, &fakeDialer{queue: []*fakeConn{conn}})

	err := handle.SetMode(context.Background(), Mode("bogus"), []uint32{408065})
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
}

func TestHandleCloneFeedsSameEngine(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{queue: []*fakeConn{conn}}

	engine, handle := newTestTicker(t, dialer)
	clone := handle.Clone()
	stream := clone.SubscribeEvents()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Serve(ctx)

	recvUntil(t, stream, EventConnect)
	require.NoError(t, clone.Subscribe(ctx, []uint32{738561}))

	sent := conn.sentCommands()
	require.Len(t, sent, 1)
	assert.JSONEq(t, `{"a":"subscribe","v":[738561]}`, sent[0])
}
