// Package ticker streams real-time market data from the exchange
// WebSocket feed. A single serve goroutine owns the connection and the
// subscription state; a cloneable Handle feeds it commands and hands out
// broadcast cursors over the decoded event stream. Subscriptions survive
// reconnects: the engine replays the tracked token set after every
// successful handshake because the server keeps no state across a
// dropped socket.
package ticker

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"kite_clickhouse/models"
	"kite_clickhouse/ws"
)

const (
	// DefaultURL is the production ticker endpoint.
	DefaultURL = "wss://ws.kite.trade"

	defaultReconnectMaxRetries = 300
	defaultReconnectBaseDelay  = 2 * time.Second
	defaultReconnectMaxDelay   = 60 * time.Second
	reconnectMinMaxDelay       = 5 * time.Second
	defaultConnectTimeout      = 7 * time.Second

	defaultEventBuffer = 1000
	commandQueueSize   = 128
	readQueueSize      = 256
)

// Ticker is the streaming engine. Build one with New, then run Serve;
// all interaction afterwards goes through the Handle.
type Ticker struct {
	apiKey      string
	accessToken string
	rootURL     string

	autoReconnect      bool
	reconnectMaxRetry  int
	reconnectBaseDelay time.Duration
	reconnectMaxDelay  time.Duration
	connectTimeout     time.Duration

	dialer ws.Dialer
	log    *zap.SugaredLogger

	tracker    *subscriptionTracker
	dispatcher *dispatcher
	commands   chan command
	quit       chan struct{}

	closed  atomic.Bool
	serving atomic.Bool

	// epoch counts successful connections. Replay commands are stamped
	// with it so leftovers from a dead connection are dropped instead of
	// being applied to its successor.
	epoch atomic.Uint64
}

// Option configures a Ticker at construction time.
type Option func(*Ticker)

// WithRootURL overrides the ticker endpoint.
func WithRootURL(u string) Option {
	return func(t *Ticker) { t.rootURL = u }
}

// WithAutoReconnect enables or disables reconnection on failure. It is
// enabled by default.
func WithAutoReconnect(enable bool) Option {
	return func(t *Ticker) { t.autoReconnect = enable }
}

// WithReconnectMaxRetries bounds consecutive reconnect attempts. The
// counter resets on every successful connection.
func WithReconnectMaxRetries(n int) Option {
	return func(t *Ticker) { t.reconnectMaxRetry = n }
}

// WithReconnectMaxDelay caps the backoff between attempts. Values below
// five seconds are raised to that floor.
func WithReconnectMaxDelay(d time.Duration) Option {
	return func(t *Ticker) {
		if d < reconnectMinMaxDelay {
			d = reconnectMinMaxDelay
		}
		t.reconnectMaxDelay = d
	}
}

// WithConnectTimeout bounds the WebSocket handshake.
func WithConnectTimeout(d time.Duration) Option {
	return func(t *Ticker) { t.connectTimeout = d }
}

// WithDialer swaps the transport; tests use an in-memory dialer.
func WithDialer(d ws.Dialer) Option {
	return func(t *Ticker) { t.dialer = d }
}

// WithLogger attaches a logger. Without one the engine is silent.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(t *Ticker) { t.log = log }
}

// WithEventBuffer sets the per-subscriber event buffer size.
func WithEventBuffer(n int) Option {
	return func(t *Ticker) { t.dispatcher = newDispatcher(n) }
}

// withReconnectBaseDelay shortens the first backoff interval; tests use
// it to keep reconnect scenarios fast.
func withReconnectBaseDelay(d time.Duration) Option {
	return func(t *Ticker) { t.reconnectBaseDelay = d }
}

// New builds an engine and its command handle. The credentials are
// treated as opaque; they are only appended to the connection URL.
func New(apiKey, accessToken string, opts ...Option) (*Ticker, Handle) {
	t := &Ticker{
		apiKey:             apiKey,
		accessToken:        accessToken,
		rootURL:            DefaultURL,
		autoReconnect:      true,
		reconnectMaxRetry:  defaultReconnectMaxRetries,
		reconnectBaseDelay: defaultReconnectBaseDelay,
		reconnectMaxDelay:  defaultReconnectMaxDelay,
		connectTimeout:     defaultConnectTimeout,
		dialer:             ws.NewDialer(defaultConnectTimeout, nil),
		log:                zap.NewNop().Sugar(),
		tracker:            newSubscriptionTracker(),
		dispatcher:         newDispatcher(defaultEventBuffer),
		commands:           make(chan command, commandQueueSize),
		quit:               make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, Handle{t: t}
}

// wireRequest is the outbound JSON command envelope.
type wireRequest struct {
	Action string      `json:"a"`
	Value  interface{} `json:"v"`
}

type wsFrame struct {
	messageType int
	data        []byte
}

// Serve runs the connection loop until the reconnect budget is exhausted,
// auto-reconnect is disabled and the connection fails, or ctx is
// canceled. It must be called at most once.
func (t *Ticker) Serve(ctx context.Context) error {
	if !t.serving.CompareAndSwap(false, true) {
		return ErrNotConnected
	}
	defer t.shutdown()

	bo := t.newBackoff()
	attempt := 0

	for {
		conn, err := t.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				t.emitClose(websocket.CloseGoingAway, "shutting down")
				return ctx.Err()
			}
			cerr := &ConnectionError{Err: err}
			t.log.Errorw("connect failed", "error", err)
			t.publish(Event{Type: EventError, Message: cerr.Error()})

			if stop, serr := t.nextAttempt(ctx, &attempt, bo, cerr, websocket.CloseAbnormalClosure, cerr.Error()); stop {
				return serr
			}
			continue
		}

		attempt = 0
		bo.Reset()
		epoch := t.epoch.Add(1)
		t.log.Infow("connected", "epoch", epoch, "url", t.rootURL)
		t.publish(Event{Type: EventConnect})

		streamErr := t.stream(ctx, conn, epoch)
		conn.Close()

		if ctx.Err() != nil {
			t.emitClose(websocket.CloseGoingAway, "shutting down")
			return ctx.Err()
		}

		code, reason := closeDetails(streamErr)
		t.log.Warnw("connection lost", "code", code, "reason", reason)
		t.publish(Event{Type: EventError, Message: reason})

		if stop, serr := t.nextAttempt(ctx, &attempt, bo, streamErr, code, reason); stop {
			return serr
		}
	}
}

// nextAttempt decides between reconnecting and terminating after a
// failure. It emits the Reconnect event and sleeps out the backoff delay;
// when it reports stop the terminal Close event has already been emitted.
func (t *Ticker) nextAttempt(ctx context.Context, attempt *int, bo *backoff.ExponentialBackOff, cause error, code int, reason string) (bool, error) {
	*attempt++

	if !t.autoReconnect {
		t.emitClose(code, reason)
		return true, cause
	}
	if *attempt > t.reconnectMaxRetry {
		t.emitClose(websocket.CloseAbnormalClosure, ErrMaxRetriesExceeded.Error())
		return true, ErrMaxRetriesExceeded
	}

	delay := bo.NextBackOff()
	if delay == backoff.Stop || delay > t.reconnectMaxDelay {
		delay = t.reconnectMaxDelay
	}
	t.log.Infow("reconnecting", "attempt", *attempt, "delay", delay)
	t.publish(Event{Type: EventReconnect, Attempt: *attempt, Delay: delay})

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		t.emitClose(websocket.CloseGoingAway, "shutting down")
		return true, ctx.Err()
	}
}

func (t *Ticker) connect(ctx context.Context) (ws.Conn, error) {
	u, err := url.Parse(t.rootURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("api_key", t.apiKey)
	q.Set("access_token", t.accessToken)
	u.RawQuery = q.Encode()

	dctx, cancel := context.WithTimeout(ctx, t.connectTimeout)
	defer cancel()
	return t.dialer.Dial(dctx, u.String())
}

// stream owns one live connection: it replays subscriptions, then
// interleaves inbound frames with queued commands until the transport
// dies or ctx is canceled.
func (t *Ticker) stream(ctx context.Context, conn ws.Conn, epoch uint64) error {
	t.replay(conn, epoch)

	frames := make(chan wsFrame, readQueueSize)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				close(frames)
				return
			}
			select {
			case frames <- wsFrame{messageType: messageType, data: data}:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fr, ok := <-frames:
			if !ok {
				return <-readErr
			}
			t.handleFrame(fr)
		case cmd := <-t.commands:
			t.applyCommand(conn, cmd)
		}
	}
}

// replay restores server-side subscription state after a (re)connect: one
// subscribe for everything tracked, then one mode command per non-default
// group. Subscribe must come first; the server rejects mode changes for
// unknown tokens. A no-op on the first connect, when nothing is tracked.
func (t *Ticker) replay(conn ws.Conn, epoch uint64) {
	all, byMode := t.tracker.snapshot()
	if len(all) == 0 {
		return
	}
	t.log.Infow("replaying subscriptions", "tokens", len(all), "epoch", epoch)

	t.applyCommand(conn, command{action: actionSubscribe, tokens: all, epoch: epoch})
	for _, mode := range []Mode{ModeLTP, ModeFull} {
		if tokens := byMode[mode]; len(tokens) > 0 {
			t.applyCommand(conn, command{action: actionSetMode, mode: mode, tokens: tokens, epoch: epoch})
		}
	}
}

// applyCommand mutates the tracker and sends the wire command. It runs
// only on the serve goroutine.
func (t *Ticker) applyCommand(conn ws.Conn, cmd command) {
	if cmd.epoch != 0 && cmd.epoch != t.epoch.Load() {
		// Replay command built for a connection that no longer exists;
		// the current epoch issued its own.
		return
	}

	req := wireRequest{Action: string(cmd.action)}
	switch cmd.action {
	case actionSubscribe:
		t.tracker.applySubscribe(cmd.tokens)
		req.Value = cmd.tokens
	case actionUnsubscribe:
		t.tracker.applyUnsubscribe(cmd.tokens)
		req.Value = cmd.tokens
	case actionSetMode:
		t.tracker.applySetMode(cmd.mode, cmd.tokens)
		req.Value = []interface{}{string(cmd.mode), cmd.tokens}
	}

	data, err := json.Marshal(req)
	if err == nil {
		err = conn.WriteMessage(ws.TextMessage, data)
	}
	if err != nil {
		err = &CommandError{Action: string(cmd.action), Err: err}
	}

	if cmd.done != nil {
		cmd.done <- err
	} else if err != nil {
		t.publish(Event{Type: EventError, Message: err.Error()})
	}
}

func (t *Ticker) handleFrame(fr wsFrame) {
	switch fr.messageType {
	case ws.BinaryMessage:
		ticks, err := ParseBinary(fr.data)
		if err != nil {
			t.log.Warnw("dropping malformed frame", "error", err, "bytes", len(fr.data))
			t.publish(Event{Type: EventError, Message: err.Error()})
			return
		}
		for i := range ticks {
			tick := ticks[i]
			t.publish(Event{Type: EventTick, Tick: &tick})
		}
	case ws.TextMessage:
		t.routeTextMessage(fr.data)
	}
}

// routeTextMessage handles out-of-band JSON frames: order postbacks and
// server error notices. Anything else is ignored.
func (t *Ticker) routeTextMessage(data []byte) {
	var msg struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.log.Debugw("unparseable text frame", "error", err)
		return
	}

	switch msg.Type {
	case "error":
		var text string
		if err := json.Unmarshal(msg.Data, &text); err == nil {
			t.publish(Event{Type: EventError, Message: text})
		}
	case "order":
		var order models.Order
		if err := json.Unmarshal(msg.Data, &order); err != nil {
			t.log.Debugw("unparseable order update", "error", err)
			return
		}
		t.publish(Event{Type: EventOrderUpdate, Order: &order})
	}
}

func (t *Ticker) publish(ev Event) {
	t.dispatcher.publish(ev)
}

func (t *Ticker) emitClose(code int, reason string) {
	t.publish(Event{Type: EventClose, Code: code, Reason: reason})
}

// shutdown moves the engine to its terminal state: pending and future
// handle commands fail with ErrNotConnected and event streams drain out.
func (t *Ticker) shutdown() {
	t.closed.Store(true)
	close(t.quit)
	for {
		select {
		case cmd := <-t.commands:
			if cmd.done != nil {
				cmd.done <- ErrNotConnected
			}
		default:
			t.dispatcher.close()
			return
		}
	}
}

func (t *Ticker) newBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = t.reconnectBaseDelay
	bo.MaxInterval = t.reconnectMaxDelay
	bo.Multiplier = 2.0
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

func closeDetails(err error) (int, string) {
	if err == nil {
		return websocket.CloseNormalClosure, "connection closed"
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		reason := ce.Text
		if reason == "" {
			reason = "server closed connection"
		}
		return ce.Code, reason
	}
	return websocket.CloseAbnormalClosure, err.Error()
}
