// Package state provides thread-safe state management for feedwatch.
//
// # Overview
//
// The Store is where the three moving parts of the program meet:
//
//	changefeed.Subscriber ──(Observer calls)──┐
//	                                          ▼
//	app poller ──(UpdateQueries)────────→ state.Store ──(Snapshot)──→ UI / headless log
//
// The subscriber reports state transitions, invalidations and reconnect
// attempts through the changefeed.Observer methods. The app poller copies
// the query cache's entries in on a short tick. The UI reads a Snapshot
// on its own schedule.
//
// # Concurrency Model
//
// The Store uses a readers-writer lock. Observer methods are invoked with
// the subscriber's own lock held, so every Store method only touches Store
// fields and never calls out.
//
// # Defensive Copying
//
// Snapshot copies query entries (keys and row slices), wraps the last
// error in a fresh value, and linearizes the activity ring oldest first.
// Callers may modify what they receive.
//
// # Offline Detection
//
// ConsecutiveFailures counts disconnected statuses since the last
// confirmed subscription; IsOffline reports two or more, which the header
// shows as "polling" rather than "reconnecting".
//
// The zero Store is ready to use. Tests set Now for fixed timestamps.
package state
