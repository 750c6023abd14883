package querycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gigboard/feedwatch/internal/clock"
)

var (
	// ErrEmptyKey is returned for a nil or empty query key.
	ErrEmptyKey = errors.New("query key is empty")
	// ErrClosed is returned once the cache has been closed.
	ErrClosed = errors.New("query cache closed")
)

// Fetcher loads the rows for one query key.
type Fetcher func(ctx context.Context) ([]json.RawMessage, error)

// Entry is a point-in-time view of one cached query.
type Entry struct {
	Key           []string
	Rows          []json.RawMessage
	Stale         bool
	Fetching      bool
	Invalidations int
	Fetches       int
	FetchedAt     time.Time
	InvalidatedAt time.Time
	LastError     error
}

// Label renders the key for display, e.g. "myJobs/42".
func (e Entry) Label() string { return strings.Join(e.Key, "/") }

type entry struct {
	key           []string
	fetch         Fetcher
	rows          []json.RawMessage
	stale         bool
	fetching      bool
	invalidations int
	fetches       int
	fetchedAt     time.Time
	invalidatedAt time.Time
	lastErr       error
}

// Options configure a Cache.
type Options struct {
	Logger       *slog.Logger
	Clock        clock.Clock
	FetchTimeout time.Duration
}

const defaultFetchTimeout = 15 * time.Second

// Cache holds query results keyed by query key. Invalidated entries are
// refetched by the worker started with Run.
type Cache struct {
	logger       *slog.Logger
	clock        clock.Clock
	fetchTimeout time.Duration
	wake         chan struct{}

	mu      sync.Mutex
	entries []*entry
	closed  bool
}

// New returns an empty cache.
func New(opts Options) *Cache {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	return &Cache{
		logger:       opts.Logger.With("component", "querycache"),
		clock:        opts.Clock,
		fetchTimeout: opts.FetchTimeout,
		wake:         make(chan struct{}, 1),
	}
}

// Register adds a query. New entries start stale so Run loads them.
// Registering an existing key replaces its fetcher.
func (c *Cache) Register(key []string, fetch Fetcher) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	if fetch == nil {
		return fmt.Errorf("register %s: fetcher is nil", strings.Join(key, "/"))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	for _, e := range c.entries {
		if slices.Equal(e.key, key) {
			e.fetch = fetch
			e.stale = true
			c.signal()
			return nil
		}
	}
	c.entries = append(c.entries, &entry{key: slices.Clone(key), fetch: fetch, stale: true})
	c.signal()
	return nil
}

// Invalidate marks stale every entry whose key starts with key, so
// ["jobs"] covers ["jobs"] and ["jobs", "open"]. A key that matches
// nothing is not an error.
func (c *Cache) Invalidate(key []string) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	now := c.clock.Now()
	matched := 0
	for _, e := range c.entries {
		if !hasPrefix(e.key, key) {
			continue
		}
		e.stale = true
		e.invalidations++
		e.invalidatedAt = now
		matched++
	}
	if matched == 0 {
		c.logger.Debug("invalidate matched no queries", "key", strings.Join(key, "/"))
		return nil
	}
	c.signal()
	return nil
}

// InvalidateAll marks every entry stale and returns how many there are.
func (c *Cache) InvalidateAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0
	}
	now := c.clock.Now()
	for _, e := range c.entries {
		e.stale = true
		e.invalidations++
		e.invalidatedAt = now
	}
	if len(c.entries) > 0 {
		c.signal()
	}
	return len(c.entries)
}

// Get returns the entry registered under exactly key.
func (c *Cache) Get(key []string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if slices.Equal(e.key, key) {
			return e.snapshot(), true
		}
	}
	return Entry{}, false
}

// Snapshot returns every entry in registration order.
func (c *Cache) Snapshot() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.snapshot())
	}
	return out
}

// Run refetches stale entries until ctx is done, then closes the cache.
// Fetches run one at a time; an entry invalidated while its fetch is in
// flight is fetched again afterwards.
func (c *Cache) Run(ctx context.Context) error {
	defer c.Close()
	for {
		for c.refetchOnce(ctx) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.wake:
		}
	}
}

// Close rejects further invalidations.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// refetchOnce fetches the first stale entry and reports whether it did.
func (c *Cache) refetchOnce(ctx context.Context) bool {
	c.mu.Lock()
	var target *entry
	for _, e := range c.entries {
		if e.stale && !e.fetching {
			target = e
			break
		}
	}
	if target == nil {
		c.mu.Unlock()
		return false
	}
	target.stale = false
	target.fetching = true
	fetch := target.fetch
	label := strings.Join(target.key, "/")
	c.mu.Unlock()

	fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	rows, err := fetch(fetchCtx)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	target.fetching = false
	target.fetches++
	if err != nil {
		target.lastErr = err
		c.logger.Warn("refetch failed", "key", label, "error", err)
		return true
	}
	target.rows = rows
	target.lastErr = nil
	target.fetchedAt = c.clock.Now()
	c.logger.Debug("refetched", "key", label, "rows", len(rows))
	return true
}

// signal wakes Run without blocking. Callers hold c.mu.
func (c *Cache) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (e *entry) snapshot() Entry {
	return Entry{
		Key:           slices.Clone(e.key),
		Rows:          slices.Clone(e.rows),
		Stale:         e.stale,
		Fetching:      e.fetching,
		Invalidations: e.invalidations,
		Fetches:       e.fetches,
		FetchedAt:     e.fetchedAt,
		InvalidatedAt: e.invalidatedAt,
		LastError:     e.lastErr,
	}
}

func hasPrefix(key, prefix []string) bool {
	return len(prefix) <= len(key) && slices.Equal(key[:len(prefix)], prefix)
}
