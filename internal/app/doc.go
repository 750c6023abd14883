// Package app provides the orchestration layer for feedwatch.
//
// # Overview
//
// This package wires together configuration, the realtime client, the
// query cache, the change feed watcher, the state store and the UI. It is
// the composition root where all dependencies are initialized and
// connected.
//
// # Startup
//
//  1. Load config (TOML or YAML) and apply --fallback; Validate
//  2. Open the slog logger (file, plus stderr when headless)
//  3. Build the realtime client and the REST client for the same project
//  4. Register one cache entry per [[query]], fetched through REST
//  5. Start the cache worker, the store poller and the watcher
//  6. Run the TUI, or the headless reporter, until exit
//
// # Data Flow
//
//	realtime socket ─→ changefeed.Subscriber ─(Invalidate)─→ querycache.Cache ─(FetchRows)─→ PostgREST
//	                          │                                     │
//	                     (Observer)                            (Snapshot)
//	                          ▼                                     ▼
//	                     state.Store ◀──────────── runPoller ◀──────┘
//	                          │
//	                          ▼
//	                    ui.Model / runHeadless
//
// # Shutdown
//
// All goroutines share one errgroup context. Quitting the TUI cancels it;
// so does SIGINT/SIGTERM from main. After the group drains, the watcher
// is closed (releasing its channel) and only then the realtime client.
//
// # Error Handling
//
// Fatal errors (returned from Run): unreadable or invalid config, an
// unopenable log file, a malformed backend URL. Everything after startup
// is recoverable: a lost channel switches the subscriber to fallback
// polling, a failed fetch is logged and kept on the entry until the next
// invalidation.
package app
