package ticker

import "context"

type commandAction string

const (
	actionSubscribe   commandAction = "subscribe"
	actionUnsubscribe commandAction = "unsubscribe"
	actionSetMode     commandAction = "mode"
)

// command is one queued mutation request for the serve goroutine.
type command struct {
	action commandAction
	mode   Mode
	tokens []uint32

	// epoch pins internally generated (replay) commands to the connection
	// they were built for; zero means the command came from a Handle and
	// applies to whatever connection is live when it is dequeued.
	epoch uint64

	// done, when non-nil, receives the outcome after the command has been
	// applied to the tracker and sent on the wire.
	done chan error
}

// Handle is the thread-safe command facade for a running ticker engine.
// It is cheap to copy and safe to share; commands from concurrent callers
// are serialized by the single serve goroutine, so none of them race on
// the subscription state.
type Handle struct {
	t *Ticker
}

// Clone returns an independent copy of the handle. Both copies feed the
// same engine.
func (h Handle) Clone() Handle { return h }

// Subscribe registers tokens at the default quote mode and sends the
// subscribe command on the wire. It returns once the engine has applied
// the command, or ErrNotConnected if the engine has shut down.
func (h Handle) Subscribe(ctx context.Context, tokens []uint32) error {
	return h.send(ctx, command{action: actionSubscribe, tokens: tokens})
}

// Unsubscribe removes tokens from the subscription set.
func (h Handle) Unsubscribe(ctx context.Context, tokens []uint32) error {
	return h.send(ctx, command{action: actionUnsubscribe, tokens: tokens})
}

// SetMode changes the streaming mode for tokens, implicitly subscribing
// any that were not yet tracked.
func (h Handle) SetMode(ctx context.Context, mode Mode, tokens []uint32) error {
	if !mode.valid() {
		return &CommandError{Action: string(actionSetMode), Err: errInvalidMode(mode)}
	}
	return h.send(ctx, command{action: actionSetMode, mode: mode, tokens: tokens})
}

// SubscribeEvents returns a new independent cursor over the engine's
// event stream. Events broadcast before the call are not replayed.
func (h Handle) SubscribeEvents() *EventStream {
	return h.t.dispatcher.subscribe()
}

func (h Handle) send(ctx context.Context, cmd command) error {
	if h.t.closed.Load() {
		return ErrNotConnected
	}

	cmd.done = make(chan error, 1)
	select {
	case h.t.commands <- cmd:
	case <-h.t.quit:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.done:
		return err
	case <-h.t.quit:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}
