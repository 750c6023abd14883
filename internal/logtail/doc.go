// Package logtail reads the tail of feedwatch's own log file for the TUI.
//
// # Reading Log Files
//
// The Read function uses a ring buffer to extract the last maxLines from
// a file in one pass, regardless of file size:
//
//	1. Allocate ring buffer of size maxLines
//	2. For each line in file:
//	   - Store line at current index
//	   - Increment index (wrapping at maxLines)
//	   - Track total lines seen
//	3. If total < maxLines:
//	   - Return first 'count' entries from buffer
//	4. If total >= maxLines:
//	   - Return buffer starting from current index (oldest line)
//
// A maxLines of zero or less returns the whole file.
//
// Example usage:
//
//	lines, err := logtail.Read("~/.local/state/feedwatch/feedwatch.log", 400)
//	if err != nil {
//		slog.Warn("read log failed", "error", err)
//	}
//
// # Parsing
//
// Parse splits a slog TextHandler record into time, level, message and
// the remaining attributes so the UI can color the level. Lines that are
// not slog records (a panic trace, say) are returned as a bare message.
//
// # Error Handling
//
// Read returns nil, nil for non-existent files; the log file only appears
// after the first record is written. Other errors are returned wrapped.
// Parse never fails.
package logtail
