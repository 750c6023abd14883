package ui

import (
	"testing"
	"time"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		in    string
		limit int
		want  string
	}{
		{"  short ", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"a longer value", 8, "a lon..."},
		{"abcdef", 3, "abc"},
		{"unbounded", 0, "unbounded"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.limit); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.limit, got, tt.want)
		}
	}
}

func TestTruncateMiddle(t *testing.T) {
	if got := truncateMiddle("/home/user/.local/state/feedwatch/feedwatch.log", 15); got != "/home/u…tch.log" {
		t.Fatalf("truncateMiddle = %q, want %q", got, "/home/u…tch.log")
	}
	if got := truncateMiddle("short", 15); got != "short" {
		t.Fatalf("truncateMiddle(short) = %q", got)
	}
}

func TestPadding(t *testing.T) {
	if got := padRight("ab", 4); got != "ab  " {
		t.Fatalf("padRight = %q", got)
	}
	if got := padRight("abcdefgh", 5); got != "ab..." {
		t.Fatalf("padRight overflow = %q", got)
	}
	if got := padLeft("7", 3); got != "  7" {
		t.Fatalf("padLeft = %q", got)
	}
}

func TestFormatAgo(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		at   time.Time
		want string
	}{
		{time.Time{}, "-"},
		{now, "now"},
		{now.Add(-42 * time.Second), "42s"},
		{now.Add(-3 * time.Minute), "3m"},
		{now.Add(-2 * time.Hour), "2h"},
	}
	for _, tt := range tests {
		if got := formatAgo(now, tt.at); got != tt.want {
			t.Errorf("formatAgo(%v) = %q, want %q", tt.at, got, tt.want)
		}
	}
}
