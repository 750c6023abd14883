package changefeed

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gigboard/feedwatch/internal/clock"
	"github.com/gigboard/feedwatch/internal/realtime"
)

const (
	// DefaultChannelName is used when Options.ChannelName is empty.
	DefaultChannelName = "changefeed"
	// DefaultFallbackPeriod is the polling period while disconnected.
	DefaultFallbackPeriod = 10 * time.Second

	defaultConnectTimeout = 10 * time.Second
	defaultSchema         = "public"
)

var watchedKinds = []realtime.EventKind{realtime.EventInsert, realtime.EventUpdate, realtime.EventDelete}

// Options configure a Subscriber.
type Options struct {
	ChannelName    string
	Schema         string
	Collections    []string
	Keys           [][]string
	FallbackPeriod time.Duration
	// ConnectTimeout bounds each subscribe attempt's dial.
	ConnectTimeout time.Duration
	Logger         *slog.Logger
	Clock          clock.Clock
	// Observer is called with the subscriber's lock held. It must not
	// call back into the Subscriber.
	Observer Observer
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.ChannelName) == "" {
		o.ChannelName = DefaultChannelName
	}
	if strings.TrimSpace(o.Schema) == "" {
		o.Schema = defaultSchema
	}
	if o.FallbackPeriod <= 0 {
		o.FallbackPeriod = DefaultFallbackPeriod
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	o.Collections = uniqueCollections(o.Collections)
	o.Keys = cloneKeys(o.Keys)
	return o
}

// Subscriber keeps cached query results fresh by invalidating a fixed
// set of keys whenever a watched collection changes. While the live
// channel is not confirmed it polls instead: every fallback period all
// keys are invalidated and one reconnect is attempted.
//
// Start and Stop may be called from any goroutine. After Stop returns
// no invalidation happens and the channel and timer are released.
type Subscriber struct {
	transport   Transport
	invalidator Invalidator
	opts        Options
	logger      *slog.Logger
	watched     map[string]bool

	lifecycle sync.Mutex

	mu           sync.Mutex
	ctx          context.Context
	cancel       context.CancelFunc
	state        State
	gen          uint64
	channel      Channel
	channelSeq   uint64
	fallback     *clock.Timer
	fallbackSeq  uint64
	reconnecting bool
	inflight     sync.WaitGroup
}

// New returns a Subscriber in StateUninitialized.
func New(transport Transport, invalidator Invalidator, opts Options) *Subscriber {
	opts = opts.withDefaults()
	watched := make(map[string]bool, len(opts.Collections))
	for _, c := range opts.Collections {
		watched[c] = true
	}
	return &Subscriber{
		transport:   transport,
		invalidator: invalidator,
		opts:        opts,
		logger:      opts.Logger.With("component", "changefeed", "channel", opts.ChannelName),
		watched:     watched,
	}
}

// State returns the current connection state.
func (s *Subscriber) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start opens the channel and begins watching. A running subscription is
// stopped first, so at most one channel is ever live. Failures are not
// returned: they switch the subscriber to fallback polling.
func (s *Subscriber) Start(ctx context.Context) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.stop()

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.ctx = runCtx
	s.cancel = cancel
	s.setStateLocked(StateConnecting, nil)
	s.mu.Unlock()

	s.logger.Info("change feed starting",
		"collections", s.opts.Collections,
		"keys", len(s.opts.Keys),
		"fallback", s.opts.FallbackPeriod)
	s.connect(runCtx, gen)
}

// Stop cancels fallback polling, releases the channel and resets the
// state to StateUninitialized. Calling Stop on a stopped subscriber is a
// no-op.
func (s *Subscriber) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.stop()
}

func (s *Subscriber) stop() {
	s.mu.Lock()
	if s.state == StateUninitialized && s.channel == nil && s.fallback == nil {
		s.mu.Unlock()
		return
	}
	s.gen++
	ch := s.channel
	s.channel = nil
	s.cancelFallbackLocked()
	s.reconnecting = false
	cancel := s.cancel
	s.cancel = nil
	s.ctx = nil
	s.setStateLocked(StateUninitialized, nil)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	// A reconnect already past its generation check finishes before the
	// channel is released.
	s.inflight.Wait()
	s.release(ch)
	s.logger.Info("change feed stopped")
}

// connect opens a channel for generation gen, binds every watched
// (collection, kind) pair and asks the transport to activate it.
func (s *Subscriber) connect(ctx context.Context, gen uint64) {
	ch, err := s.transport.Open(s.opts.ChannelName)
	if err != nil {
		s.handleStatus(gen, 0, realtime.StatusChannelError, fmt.Errorf("open channel: %w", err))
		return
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		s.release(ch)
		return
	}
	s.channelSeq++
	seq := s.channelSeq
	s.channel = ch
	s.mu.Unlock()

	for _, collection := range s.opts.Collections {
		for _, kind := range watchedKinds {
			ch.On(realtime.EventSpec{Event: kind, Schema: s.opts.Schema, Table: collection}, func(change realtime.Change) {
				s.handleChange(gen, seq, change)
			})
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()
	err = ch.Subscribe(attemptCtx, func(status realtime.Status, err error) {
		s.handleStatus(gen, seq, status, err)
	})
	if err != nil {
		s.handleStatus(gen, seq, realtime.StatusChannelError, fmt.Errorf("subscribe: %w", err))
	}
}

// handleStatus applies a channel status. seq zero means no channel was
// opened for this attempt.
func (s *Subscriber) handleStatus(gen, seq uint64, status realtime.Status, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || s.state == StateUninitialized {
		return
	}
	if seq != 0 && seq != s.channelSeq {
		return
	}

	s.reconnecting = false
	if status == realtime.StatusSubscribed {
		s.cancelFallbackLocked()
		if s.state != StateConnected {
			s.logger.Info("change feed connected")
		}
		s.setStateLocked(StateConnected, nil)
		return
	}

	if s.state != StateDisconnected {
		s.logger.Warn("change feed disconnected, polling",
			"status", string(status),
			"error", cause,
			"every", s.opts.FallbackPeriod)
	} else {
		s.logger.Debug("reconnect attempt failed", "status", string(status), "error", cause)
	}
	s.setStateLocked(StateDisconnected, cause)
	if s.fallback == nil {
		s.startFallbackLocked(gen)
	}
}

func (s *Subscriber) handleChange(gen, seq uint64, change realtime.Change) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || seq != s.channelSeq || s.state != StateConnected {
		return
	}
	if !s.watched[change.Table] {
		return
	}
	s.logger.Debug("change received", "table", change.Table, "kind", string(change.Kind))
	s.invalidateLocked(CauseEvent, change.Table)
}

func (s *Subscriber) startFallbackLocked(gen uint64) {
	s.fallbackSeq++
	seq := s.fallbackSeq
	s.fallback = s.opts.Clock.AfterFunc(s.opts.FallbackPeriod, func() { s.fallbackTick(gen, seq) })
}

func (s *Subscriber) cancelFallbackLocked() {
	if s.fallback == nil {
		return
	}
	s.fallback.Stop()
	s.fallback = nil
	s.fallbackSeq++
}

// fallbackTick invalidates every key and, when still disconnected and no
// reconnect is running, makes one reconnect attempt.
func (s *Subscriber) fallbackTick(gen, seq uint64) {
	s.mu.Lock()
	if gen != s.gen || seq != s.fallbackSeq || s.fallback == nil {
		s.mu.Unlock()
		return
	}
	s.fallback = s.opts.Clock.AfterFunc(s.opts.FallbackPeriod, func() { s.fallbackTick(gen, seq) })
	s.invalidateLocked(CausePoll, "")

	if s.state != StateDisconnected || s.reconnecting {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	old := s.channel
	s.channel = nil
	ctx := s.ctx
	s.inflight.Add(1)
	s.opts.Observer.ReconnectAttempted()
	s.mu.Unlock()

	defer s.inflight.Done()
	s.logger.Debug("attempting reconnect")
	s.release(old)
	s.connect(ctx, gen)
}

// invalidateLocked marks every key stale. Errors from the invalidator
// are logged and otherwise ignored.
func (s *Subscriber) invalidateLocked(cause Cause, table string) {
	for _, key := range s.opts.Keys {
		if err := s.invalidator.Invalidate(key); err != nil {
			s.logger.Warn("invalidate failed", "key", strings.Join(key, "/"), "cause", cause.String(), "error", err)
		}
	}
	s.opts.Observer.Invalidated(cause, table)
}

func (s *Subscriber) setStateLocked(state State, cause error) {
	s.state = state
	s.opts.Observer.StateChanged(state, cause)
}

func (s *Subscriber) release(ch Channel) {
	if ch == nil {
		return
	}
	if err := s.transport.Close(ch); err != nil {
		s.logger.Debug("release channel", "error", err)
	}
}

func uniqueCollections(in []string) []string {
	out := make([]string, 0, len(in))
	for _, c := range in {
		c = strings.TrimSpace(c)
		if c == "" || slices.Contains(out, c) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func cloneKeys(in [][]string) [][]string {
	out := make([][]string, 0, len(in))
	for _, k := range in {
		out = append(out, slices.Clone(k))
	}
	return out
}
