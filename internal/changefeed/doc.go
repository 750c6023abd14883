// Package changefeed keeps cached query results consistent with
// server-side mutations on a set of watched collections.
//
// # Overview
//
// A Subscriber opens one multiplexed realtime channel, binds a handler
// for every (collection, INSERT|UPDATE|DELETE) pair, and marks a fixed
// list of invalidation keys stale whenever any watched collection
// changes. Invalidation is idempotent, so each event invalidates every
// key immediately; nothing is batched.
//
// # States
//
//	UNINITIALIZED --Start--> CONNECTING --SUBSCRIBED--> CONNECTED
//	                              |                        |
//	                              +--error/timeout/close-->+--> DISCONNECTED
//	DISCONNECTED --reconnect SUBSCRIBED--> CONNECTED
//	any --Stop--> UNINITIALIZED
//
// Once the first attempt resolves, exactly one of "connected" and
// "fallback timer armed" holds.
//
// # Fallback polling
//
// While DISCONNECTED a timer fires every FallbackPeriod. Each tick
// invalidates every key and, if no reconnect is already running, makes
// one reconnect attempt: release the old channel, open a new one,
// subscribe. Retries never back off and never give up; staleness is
// bounded by one period. A subscribe call that fails synchronously
// counts as a failed attempt.
//
// # Errors
//
// Nothing is returned to the caller. Transport failures switch to
// polling, invalidator errors are logged.
//
// # Watcher
//
// Watcher wraps a Subscriber for callers that re-render: Watch with the
// same collections and keys (by value) is a no-op, new values stop the
// previous Subscriber before starting the next, Close tears down.
package changefeed
