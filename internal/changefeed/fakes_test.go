package changefeed

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gigboard/feedwatch/internal/clock"
	"github.com/gigboard/feedwatch/internal/realtime"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeBinding struct {
	spec    realtime.EventSpec
	handler func(realtime.Change)
}

type fakeChannel struct {
	transport *fakeTransport
	name      string

	mu       sync.Mutex
	bindings []fakeBinding
	onStatus func(realtime.Status, error)
	closed   bool
}

func (c *fakeChannel) On(spec realtime.EventSpec, handler func(realtime.Change)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindings = append(c.bindings, fakeBinding{spec: spec, handler: handler})
}

func (c *fakeChannel) Subscribe(_ context.Context, onStatus func(realtime.Status, error)) error {
	c.mu.Lock()
	c.onStatus = onStatus
	c.mu.Unlock()

	c.transport.mu.Lock()
	err := c.transport.subscribeErr
	auto := c.transport.autoStatus
	c.transport.mu.Unlock()
	if err != nil {
		return err
	}
	if auto != "" {
		onStatus(auto, nil)
	}
	return nil
}

// emit delivers a change to every binding that matches it, the way the
// realtime client routes by table and kind.
func (c *fakeChannel) emit(table string, kind realtime.EventKind) {
	c.mu.Lock()
	var handlers []func(realtime.Change)
	for _, b := range c.bindings {
		if b.spec.Table == table && (b.spec.Event == kind || b.spec.Event == realtime.EventAll) {
			handlers = append(handlers, b.handler)
		}
	}
	c.mu.Unlock()

	change := realtime.Change{Schema: "public", Table: table, Kind: kind}
	for _, h := range handlers {
		h(change)
	}
}

func (c *fakeChannel) status(s realtime.Status) {
	c.mu.Lock()
	cb := c.onStatus
	c.mu.Unlock()
	var err error
	if s != realtime.StatusSubscribed {
		err = errors.New(strings.ToLower(string(s)))
	}
	if cb != nil {
		cb(s, err)
	}
}

func (c *fakeChannel) bindingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bindings)
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeTransport struct {
	mu           sync.Mutex
	opened       []*fakeChannel
	live         int
	maxLive      int
	openErr      error
	subscribeErr error
	autoStatus   realtime.Status
}

func (t *fakeTransport) Open(name string) (Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.openErr != nil {
		return nil, t.openErr
	}
	ch := &fakeChannel{transport: t, name: name}
	t.opened = append(t.opened, ch)
	t.live++
	if t.live > t.maxLive {
		t.maxLive = t.live
	}
	return ch, nil
}

func (t *fakeTransport) Close(ch Channel) error {
	fc := ch.(*fakeChannel)
	fc.mu.Lock()
	already := fc.closed
	fc.closed = true
	fc.mu.Unlock()
	if already {
		return nil
	}
	t.mu.Lock()
	t.live--
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) last() *fakeChannel {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.opened) == 0 {
		return nil
	}
	return t.opened[len(t.opened)-1]
}

func (t *fakeTransport) openCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.opened)
}

func (t *fakeTransport) liveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

func (t *fakeTransport) maxLiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxLive
}

func (t *fakeTransport) setSubscribeErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribeErr = err
}

type recordingInvalidator struct {
	mu     sync.Mutex
	counts map[string]int
	err    error
}

func newRecordingInvalidator() *recordingInvalidator {
	return &recordingInvalidator{counts: make(map[string]int)}
}

func (r *recordingInvalidator) Invalidate(key []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[strings.Join(key, "/")]++
	return r.err
}

func (r *recordingInvalidator) count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[key]
}

func (r *recordingInvalidator) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.counts {
		n += c
	}
	return n
}

type recordingObserver struct {
	mu         sync.Mutex
	states     []State
	polls      int
	events     int
	reconnects int
}

func (o *recordingObserver) StateChanged(state State, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, state)
}

func (o *recordingObserver) Invalidated(cause Cause, _ string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cause == CausePoll {
		o.polls++
	} else {
		o.events++
	}
}

func (o *recordingObserver) ReconnectAttempted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reconnects++
}

type harness struct {
	transport   *fakeTransport
	invalidator *recordingInvalidator
	observer    *recordingObserver
	clock       *clock.FakeClock
	sub         *Subscriber
}

func newHarness(collections []string, keys [][]string) *harness {
	h := &harness{
		transport:   &fakeTransport{},
		invalidator: newRecordingInvalidator(),
		observer:    &recordingObserver{},
		clock:       clock.Fake(epoch),
	}
	h.sub = New(h.transport, h.invalidator, Options{
		ChannelName:    "marketplace",
		Collections:    collections,
		Keys:           keys,
		FallbackPeriod: 10 * time.Second,
		Clock:          h.clock,
		Observer:       h.observer,
	})
	return h
}

func (h *harness) options() Options {
	return Options{
		ChannelName:    "marketplace",
		FallbackPeriod: 10 * time.Second,
		Clock:          h.clock,
		Observer:       h.observer,
	}
}
