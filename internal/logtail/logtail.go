package logtail

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Read returns at most maxLines from the end of the file at path. A
// maxLines of zero or less returns every line. A missing file yields no
// lines and no error.
func Read(path string, maxLines int) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if maxLines <= 0 {
		var lines []string
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read log: %w", err)
		}
		return lines, nil
	}

	ring := make([]string, maxLines)
	count := 0
	idx := 0
	for scanner.Scan() {
		ring[idx] = scanner.Text()
		idx = (idx + 1) % maxLines
		if count < maxLines {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}

	lines := make([]string, count)
	if count == maxLines {
		for i := 0; i < count; i++ {
			lines[i] = ring[(idx+i)%maxLines]
		}
	} else {
		copy(lines, ring[:count])
	}
	return lines, nil
}

// Line is one parsed slog text record.
type Line struct {
	Time    string
	Level   string
	Message string
	// Attrs is everything after msg, unparsed.
	Attrs string
	Raw   string
}

// Parse splits a line written by slog's TextHandler, e.g.
//
//	time=2026-01-02T15:04:05.000Z level=WARN msg="change feed disconnected, polling" status=TIMED_OUT
//
// Lines in any other shape come back with only Raw and Message set.
func Parse(line string) Line {
	out := Line{Raw: line}
	rest := line
	for _, key := range []string{"time", "level", "msg"} {
		value, tail, ok := cutField(rest, key)
		if !ok {
			out.Message = strings.TrimSpace(line)
			out.Time, out.Level = "", ""
			return out
		}
		switch key {
		case "time":
			out.Time = value
		case "level":
			out.Level = strings.ToUpper(value)
		case "msg":
			out.Message = value
		}
		rest = tail
	}
	out.Attrs = strings.TrimSpace(rest)
	return out
}

// cutField reads key=value from the start of s. Quoted values may contain
// spaces and escaped quotes.
func cutField(s, key string) (value, rest string, ok bool) {
	s = strings.TrimLeft(s, " ")
	prefix := key + "="
	if !strings.HasPrefix(s, prefix) {
		return "", s, false
	}
	s = s[len(prefix):]
	if strings.HasPrefix(s, `"`) {
		var b strings.Builder
		for i := 1; i < len(s); i++ {
			switch s[i] {
			case '\\':
				if i+1 < len(s) {
					i++
					b.WriteByte(s[i])
				}
			case '"':
				return b.String(), s[i+1:], true
			default:
				b.WriteByte(s[i])
			}
		}
		return "", s, false
	}
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i], s[i:], true
	}
	return s, "", true
}
