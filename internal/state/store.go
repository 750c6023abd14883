package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/gigboard/feedwatch/internal/changefeed"
	"github.com/gigboard/feedwatch/internal/querycache"
)

// maxActivity bounds the activity ring.
const maxActivity = 200

// Activity is one line in the feed's activity pane.
type Activity struct {
	At      time.Time
	Kind    string // "state", "event", "poll", "reconnect"
	Message string
}

// Feed summarizes the change feed subscriber.
type Feed struct {
	State          changefeed.State
	Since          time.Time
	Events         int
	FallbackTicks  int
	Reconnects     int
	LastEventAt    time.Time
	LastEventTable string
	LastError      error
	// ConsecutiveFailures counts disconnected statuses since the last
	// confirmed subscription.
	ConsecutiveFailures int
}

// Snapshot represents the latest data available to the UI.
type Snapshot struct {
	Feed        Feed
	Queries     []querycache.Entry
	HasQueries  bool
	Activity    []Activity
	LastUpdated time.Time
}

// IsOffline returns true when the live channel has failed repeatedly and
// the view is kept fresh by polling alone.
func (s Snapshot) IsOffline() bool {
	return s.Feed.State == changefeed.StateDisconnected && s.Feed.ConsecutiveFailures >= 2
}

// Store coordinates concurrent updates to the snapshot. The zero value is
// ready to use. Store implements changefeed.Observer.
type Store struct {
	// Now defaults to time.Now.
	Now func() time.Time

	mu       sync.RWMutex
	snapshot Snapshot
	activity []Activity
	next     int
	full     bool
}

var _ changefeed.Observer = (*Store)(nil)

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// StateChanged records a subscriber state transition.
func (s *Store) StateChanged(st changefeed.State, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	feed := &s.snapshot.Feed
	changed := feed.State != st
	feed.State = st
	if changed {
		feed.Since = now
	}
	switch st {
	case changefeed.StateConnected:
		feed.ConsecutiveFailures = 0
		feed.LastError = nil
	case changefeed.StateDisconnected:
		feed.ConsecutiveFailures++
		if cause != nil {
			feed.LastError = cause
		}
	case changefeed.StateUninitialized:
		feed.ConsecutiveFailures = 0
	}

	msg := st.String()
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	if changed || cause != nil {
		s.appendLocked(Activity{At: now, Kind: "state", Message: msg})
	}
	s.snapshot.LastUpdated = now
}

// Invalidated records one round of key invalidation.
func (s *Store) Invalidated(cause changefeed.Cause, table string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	feed := &s.snapshot.Feed
	switch cause {
	case changefeed.CausePoll:
		feed.FallbackTicks++
		s.appendLocked(Activity{At: now, Kind: "poll", Message: "fallback poll, all keys invalidated"})
	default:
		feed.Events++
		feed.LastEventAt = now
		feed.LastEventTable = table
		s.appendLocked(Activity{At: now, Kind: "event", Message: "change on " + table})
	}
	s.snapshot.LastUpdated = now
}

// ReconnectAttempted records a reconnect attempt.
func (s *Store) ReconnectAttempted() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.snapshot.Feed.Reconnects++
	s.appendLocked(Activity{At: now, Kind: "reconnect", Message: "reconnect attempt"})
	s.snapshot.LastUpdated = now
}

// UpdateQueries replaces the cached query view.
func (s *Store) UpdateQueries(entries []querycache.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot.Queries = cloneEntries(entries)
	s.snapshot.HasQueries = true
	s.snapshot.LastUpdated = s.now()
}

// Note appends a free-form activity line, e.g. a manual resync.
func (s *Store) Note(kind, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(Activity{At: s.now(), Kind: kind, Message: message})
}

func (s *Store) appendLocked(a Activity) {
	if s.activity == nil {
		s.activity = make([]Activity, maxActivity)
	}
	s.activity[s.next] = a
	s.next = (s.next + 1) % maxActivity
	if s.next == 0 {
		s.full = true
	}
}

// Snapshot returns a copy of the current snapshot. Activity is oldest
// first.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.snapshot
	snap.Queries = cloneEntries(s.snapshot.Queries)
	if s.snapshot.Feed.LastError != nil {
		snap.Feed.LastError = fmt.Errorf("%w", s.snapshot.Feed.LastError)
	}
	switch {
	case s.full:
		snap.Activity = make([]Activity, 0, maxActivity)
		snap.Activity = append(snap.Activity, s.activity[s.next:]...)
		snap.Activity = append(snap.Activity, s.activity[:s.next]...)
	case s.next > 0:
		snap.Activity = append([]Activity(nil), s.activity[:s.next]...)
	}
	return snap
}

func cloneEntries(entries []querycache.Entry) []querycache.Entry {
	if len(entries) == 0 {
		return nil
	}
	dup := make([]querycache.Entry, len(entries))
	copy(dup, entries)
	for i := range dup {
		dup[i].Key = append([]string(nil), entries[i].Key...)
		dup[i].Rows = append(dup[i].Rows[:0:0], entries[i].Rows...)
	}
	return dup
}
