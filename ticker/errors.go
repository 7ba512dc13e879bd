package ticker

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by handle operations after the engine
	// has reached its terminal closed state.
	ErrNotConnected = errors.New("ticker: not connected")

	// ErrMaxRetriesExceeded is returned by Serve when the reconnect
	// budget is exhausted.
	ErrMaxRetriesExceeded = errors.New("ticker: maximum reconnect attempts reached")

	// ErrStreamClosed is returned by EventStream.Recv once the engine has
	// shut down and all buffered events have been drained.
	ErrStreamClosed = errors.New("ticker: event stream closed")
)

// ProtocolError reports a malformed binary frame. The whole message is
// rejected; no partial ticks are emitted.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "ticker: protocol error: " + e.Reason
}

// ConnectionError wraps a handshake, DNS, TLS or connect-timeout failure.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("ticker: connection failed: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// CommandError reports a wire command that could not be sent on the
// current connection. It is returned to the caller that issued it.
type CommandError struct {
	Action string
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("ticker: %s command failed: %v", e.Action, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

func errInvalidMode(m Mode) error {
	return fmt.Errorf("invalid mode %q", string(m))
}

// SlowConsumerError is returned by EventStream.Recv when the consumer
// fell behind and buffered events had to be dropped.
type SlowConsumerError struct {
	Dropped uint64
}

func (e *SlowConsumerError) Error() string {
	return fmt.Sprintf("ticker: slow consumer, dropped %d events", e.Dropped)
}
