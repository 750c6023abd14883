package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/gigboard/feedwatch/internal/state"
)

const defaultReportInterval = 30 * time.Second

// runHeadless logs a one-line summary of the store every interval until
// ctx is done.
func runHeadless(ctx context.Context, store *state.Store, logger *slog.Logger, interval time.Duration) {
	if interval <= 0 {
		interval = defaultReportInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			report(logger, store.Snapshot())
			return
		case <-ticker.C:
			report(logger, store.Snapshot())
		}
	}
}

func report(logger *slog.Logger, snap state.Snapshot) {
	stale, failing, rows := 0, 0, 0
	for _, e := range snap.Queries {
		if e.Stale || e.Fetching {
			stale++
		}
		if e.LastError != nil {
			failing++
		}
		rows += len(e.Rows)
	}
	attrs := []any{
		"state", snap.Feed.State.String(),
		"events", snap.Feed.Events,
		"fallback_ticks", snap.Feed.FallbackTicks,
		"reconnects", snap.Feed.Reconnects,
		"queries", len(snap.Queries),
		"rows", rows,
		"stale", stale,
		"failing", failing,
	}
	if snap.Feed.LastError != nil {
		attrs = append(attrs, "last_error", snap.Feed.LastError)
	}
	if snap.IsOffline() {
		logger.Warn("feed offline, polling", attrs...)
		return
	}
	logger.Info("feed status", attrs...)
}
