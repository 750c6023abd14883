// Package ui provides the feedwatch terminal interface, built on Bubble
// Tea with Lipgloss styling.
//
// # Layout
//
//	┌ header: feedwatch [LIVE] channel marketplace events 12 polls 0 ... ┐
//	┌──────────────────────── Queries (3) ───────────────────────────────┐
//	│ KEY            ROWS STATE     INV  FETCH UPDATED                   │
//	│ filteredJobs     25 fresh       4      5      3s                   │
//	└────────────────────────────────────────────────────────────────────┘
//	┌──────────────────────── Activity ──────────────────────────────────┐
//	│ 12:03:04 event     change on jobs                                  │
//	└────────────────────────────────────────────────────────────────────┘
//	 r Refetch every query  l Toggle activity/log pane  T Cycle theme ...
//
// The header chip shows the subscriber state: LIVE when the channel is
// confirmed, RECONNECTING after a failure, POLLING once failures repeat,
// CONNECTING and IDLE otherwise.
//
// # Data Flow
//
// The model never touches the subscriber or the cache directly except
// for the resync key. A tick every second pulls a state.Snapshot; while
// the log pane is shown the tail of the log file is reread every two
// seconds with logtail.Read.
//
// # Preferences
//
// The theme (T) and the lower pane (l) are saved to the prefs file as
// soon as they change.
package ui
