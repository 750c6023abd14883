// Package config loads feedwatch configuration files.
//
// # Configuration Discovery
//
// The Load function follows this resolution order:
//
//  1. If a path is explicitly provided, use it
//  2. Otherwise, use ~/.config/feedwatch/config.toml (default)
//  3. If the config file doesn't exist, start from defaults
//  4. FEEDWATCH_URL and FEEDWATCH_API_KEY override whatever the file says
//
// Files ending in .yaml or .yml are decoded as YAML; everything else is
// TOML. Both formats use the same keys.
//
// # Default Values
//
//   - Config file: ~/.config/feedwatch/config.toml
//   - Channel: changefeed
//   - Fallback polling period: 10s
//   - Join timeout: 10s
//   - Heartbeat: 25s
//   - Log file: ~/.local/state/feedwatch/feedwatch.log
//
// # TOML Format
//
//	url = "https://abc.example.co"
//	api_key = "anon-key"
//	channel = "marketplace"
//	collections = ["jobs", "applications"]
//	fallback_seconds = 10
//
//	[[query]]
//	key = ["filteredJobs"]
//	table = "jobs"
//	select = "id,title,status"
//	order = "created_at.desc"
//	limit = 50
//	filters = { status = "eq.open" }
//
// A query without a key is stored under its table name.
//
// # Error Handling
//
// Load returns errors for path expansion failures, read errors (except
// os.ErrNotExist) and decode errors. A missing file is not an error, but
// the resulting Config fails Validate until a URL, at least one
// collection and at least one query are configured.
package config
