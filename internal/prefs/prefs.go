// Package prefs handles feedwatch user preferences persistence.
// Preferences are stored in ~/.config/feedwatch/prefs.toml.
package prefs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// Pane names the lower pane shown by the TUI.
const (
	PaneActivity = "activity"
	PaneLogs     = "logs"
)

// Prefs holds user preferences for feedwatch.
type Prefs struct {
	Theme string `toml:"theme"`
	Pane  string `toml:"pane"`
}

const (
	defaultPrefsPath = "~/.config/feedwatch/prefs.toml"
	defaultTheme     = "Nightfox"
)

// DefaultPath returns the default preferences file path.
func DefaultPath() string {
	return defaultPrefsPath
}

func defaults() Prefs {
	return Prefs{Theme: defaultTheme, Pane: PaneActivity}
}

// Load reads preferences from the given path, falling back to defaults if
// the file is missing or unreadable. Preferences never block startup.
func Load(path string) (Prefs, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return defaults(), nil
	}

	file, err := os.Open(resolved)
	if err != nil {
		return defaults(), nil
	}
	defer func() { _ = file.Close() }()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return defaults(), nil
	}

	p := defaults()
	if err := toml.Unmarshal(bytes, &p); err != nil {
		return defaults(), nil
	}
	return p.normalized(), nil
}

func (p Prefs) normalized() Prefs {
	p.Theme = strings.TrimSpace(p.Theme)
	if p.Theme == "" {
		p.Theme = defaultTheme
	}
	switch strings.ToLower(strings.TrimSpace(p.Pane)) {
	case PaneLogs:
		p.Pane = PaneLogs
	default:
		p.Pane = PaneActivity
	}
	return p
}

// Save writes preferences to the given path, creating directories as needed.
func Save(path string, p Prefs) error {
	resolved, err := resolvePath(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	dir := filepath.Dir(resolved)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create prefs dir: %w", err)
	}

	bytes, err := toml.Marshal(p.normalized())
	if err != nil {
		return fmt.Errorf("marshal prefs: %w", err)
	}

	if err := os.WriteFile(resolved, bytes, 0o644); err != nil {
		return fmt.Errorf("write prefs: %w", err)
	}

	return nil
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultPrefsPath)
	}
	return expandPath(path)
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
