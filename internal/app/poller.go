package app

import (
	"context"
	"time"

	"github.com/gigboard/feedwatch/internal/querycache"
	"github.com/gigboard/feedwatch/internal/state"
)

const defaultPollInterval = 500 * time.Millisecond

// entrySource is the part of the query cache the poller reads.
type entrySource interface {
	Snapshot() []querycache.Entry
}

// runPoller copies the cache's entries into the store at a fixed cadence
// until ctx is done.
func runPoller(ctx context.Context, store *state.Store, source entrySource, interval time.Duration) {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		refresh(store, source)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func refresh(store *state.Store, source entrySource) {
	store.UpdateQueries(source.Snapshot())
}
