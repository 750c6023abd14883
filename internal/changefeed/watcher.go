package changefeed

import (
	"context"
	"slices"
	"sync"
)

// Watcher is the view-facing handle: Watch on mount and on every render,
// Close on unmount. It resubscribes only when the collections or keys
// change by value.
type Watcher struct {
	ctx         context.Context
	transport   Transport
	invalidator Invalidator
	opts        Options

	mu          sync.Mutex
	sub         *Subscriber
	collections []string
	keys        [][]string
}

// NewWatcher returns a Watcher whose subscribers use opts for everything
// except Collections and Keys, which come from Watch.
func NewWatcher(ctx context.Context, transport Transport, invalidator Invalidator, opts Options) *Watcher {
	return &Watcher{ctx: ctx, transport: transport, invalidator: invalidator, opts: opts}
}

// Watch starts watching collections and invalidating keys. Repeating the
// current parameters is a no-op; new parameters stop the previous
// subscriber before the next one starts.
func (w *Watcher) Watch(collections []string, keys [][]string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.sub != nil && slices.Equal(w.collections, collections) && keysEqual(w.keys, keys) {
		return
	}
	if w.sub != nil {
		w.sub.Stop()
		w.sub = nil
	}

	w.collections = slices.Clone(collections)
	w.keys = cloneKeys(keys)

	opts := w.opts
	opts.Collections = w.collections
	opts.Keys = w.keys
	w.sub = New(w.transport, w.invalidator, opts)
	w.sub.Start(w.ctx)
}

// Close stops the current subscriber. It is safe to call repeatedly.
func (w *Watcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sub != nil {
		w.sub.Stop()
		w.sub = nil
	}
	w.collections = nil
	w.keys = nil
}

// State reports the current subscriber's state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sub == nil {
		return StateUninitialized
	}
	return w.sub.State()
}

func keysEqual(a, b [][]string) bool {
	return slices.EqualFunc(a, b, func(x, y []string) bool { return slices.Equal(x, y) })
}
