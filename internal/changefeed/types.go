package changefeed

import (
	"context"

	"github.com/gigboard/feedwatch/internal/realtime"
)

// State is the subscriber's connection state.
type State int

const (
	StateUninitialized State = iota
	StateConnecting
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Cause says why keys were invalidated.
type Cause int

const (
	// CauseEvent is a row change received on the live channel.
	CauseEvent Cause = iota
	// CausePoll is a fallback timer tick.
	CausePoll
)

func (c Cause) String() string {
	if c == CausePoll {
		return "poll"
	}
	return "event"
}

// Channel is the slice of a realtime channel the subscriber drives.
type Channel interface {
	On(spec realtime.EventSpec, handler func(realtime.Change))
	Subscribe(ctx context.Context, onStatus func(realtime.Status, error)) error
}

// Transport opens and releases channels on the realtime service.
type Transport interface {
	Open(name string) (Channel, error)
	Close(ch Channel) error
}

// Invalidator marks a cached result set stale.
type Invalidator interface {
	Invalidate(key []string) error
}

// InvalidatorFunc adapts a function to Invalidator.
type InvalidatorFunc func(key []string) error

// Invalidate calls f(key).
func (f InvalidatorFunc) Invalidate(key []string) error { return f(key) }

// Observer receives lifecycle notifications, for status displays.
type Observer interface {
	StateChanged(state State, cause error)
	Invalidated(cause Cause, table string)
	ReconnectAttempted()
}

type nopObserver struct{}

func (nopObserver) StateChanged(State, error) {}
func (nopObserver) Invalidated(Cause, string) {}
func (nopObserver) ReconnectAttempted()       {}
