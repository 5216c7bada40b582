// Package faults classifies run failures and maps them to shutdown behavior.
//
// Transport failures are tagged where they happen (the world client wraps
// them in *Error). Anything untagged is classified by inspecting the wrapped
// chain for well known network conditions; whatever is left is a logic fault.
package faults

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/gorilla/websocket"
)

// Kind identifies how a failure should end the run.
type Kind int

const (
	// KindLogic is a programming, configuration or simulator-side rejection
	// fault. It is fatal.
	KindLogic Kind = iota
	// KindDisconnect is a transport disconnect or connection reset.
	KindDisconnect
	// KindRefused means the world endpoint refused the connection.
	KindRefused
	// KindInterrupt is a user requested shutdown.
	KindInterrupt
)

func (k Kind) String() string {
	switch k {
	case KindDisconnect:
		return "disconnect"
	case KindRefused:
		return "refused"
	case KindInterrupt:
		return "interrupt"
	default:
		return "logic"
	}
}

// Transport reports whether k is one of the transport kinds.
func (k Kind) Transport() bool {
	return k == KindDisconnect || k == KindRefused
}

// Clean reports whether a failure of this kind ends the process cleanly.
func (k Kind) Clean() bool {
	return k != KindLogic
}

// ErrInterrupted is used as the cancellation cause when the user interrupts.
var ErrInterrupted = errors.New("interrupted")

// Error tags an underlying error with its Kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Disconnect tags err as a transport disconnect.
func Disconnect(op string, err error) error {
	return &Error{Kind: KindDisconnect, Op: op, Err: err}
}

// Refused tags err as a refused connection.
func Refused(op string, err error) error {
	return &Error{Kind: KindRefused, Op: op, Err: err}
}

// Classify returns the Kind of err. A nil error is reported as KindLogic and
// callers are expected to check for nil first.
func Classify(err error) Kind {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	switch {
	case errors.Is(err, ErrInterrupted):
		return KindInterrupt
	case errors.Is(err, syscall.ECONNREFUSED):
		return KindRefused
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed):
		return KindDisconnect
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return KindDisconnect
	}
	return KindLogic
}

// ClassifyTransport wraps a raw network error from op with the matching
// transport kind. Errors that are not transport failures are returned as-is.
func ClassifyTransport(op string, err error) error {
	if err == nil {
		return nil
	}
	switch Classify(err) {
	case KindRefused:
		return Refused(op, err)
	case KindDisconnect:
		return Disconnect(op, err)
	}
	return err
}

// Cause prefers the cancellation cause of ctx over err when the context was
// cancelled, so an interrupt that unwinds a blocking call is reported as such.
func Cause(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
			return fmt.Errorf("%w: %w", cause, err)
		}
	}
	return err
}
