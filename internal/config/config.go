package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config captures everything feedwatch needs to watch one backend.
type Config struct {
	URL         string
	APIKey      string
	Channel     string
	Collections []string
	Fallback    time.Duration
	JoinTimeout time.Duration
	Heartbeat   time.Duration
	LogFile     string
	Queries     []Query
}

// Query is one cached query: the rows of Table, stored under Key.
type Query struct {
	Key     []string
	Table   string
	Select  string
	Order   string
	Limit   int
	Filters map[string]string
}

const (
	defaultConfigPath  = "~/.config/feedwatch/config.toml"
	defaultLogFile     = "~/.local/state/feedwatch/feedwatch.log"
	defaultChannel     = "changefeed"
	defaultFallback    = 10 * time.Second
	defaultJoinTimeout = 10 * time.Second
	defaultHeartbeat   = 25 * time.Second

	// EnvURL and EnvAPIKey override the file values when set.
	EnvURL    = "FEEDWATCH_URL"
	EnvAPIKey = "FEEDWATCH_API_KEY"
)

type rawQuery struct {
	Key     []string          `toml:"key" yaml:"key"`
	Table   string            `toml:"table" yaml:"table"`
	Select  string            `toml:"select" yaml:"select"`
	Order   string            `toml:"order" yaml:"order"`
	Limit   int               `toml:"limit" yaml:"limit"`
	Filters map[string]string `toml:"filters" yaml:"filters"`
}

type rawConfig struct {
	URL                string     `toml:"url" yaml:"url"`
	APIKey             string     `toml:"api_key" yaml:"api_key"`
	Channel            string     `toml:"channel" yaml:"channel"`
	Collections        []string   `toml:"collections" yaml:"collections"`
	FallbackSeconds    float64    `toml:"fallback_seconds" yaml:"fallback_seconds"`
	JoinTimeoutSeconds float64    `toml:"join_timeout_seconds" yaml:"join_timeout_seconds"`
	HeartbeatSeconds   float64    `toml:"heartbeat_seconds" yaml:"heartbeat_seconds"`
	LogFile            string     `toml:"log_file" yaml:"log_file"`
	Queries            []rawQuery `toml:"query" yaml:"query"`
}

// Load locates and parses the feedwatch config, falling back to defaults
// when missing. Environment overrides are applied last.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	var raw rawConfig
	file, err := os.Open(resolved)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("open config: %w", err)
	default:
		defer file.Close()
		bytes, err := io.ReadAll(file)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decode(resolved, bytes, &raw); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg := fromRaw(raw)
	applyEnv(&cfg)
	return cfg, nil
}

func decode(path string, data []byte, raw *rawConfig) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, raw)
	default:
		return toml.Unmarshal(data, raw)
	}
}

func fromRaw(raw rawConfig) Config {
	cfg := Config{
		URL:         strings.TrimSpace(raw.URL),
		APIKey:      strings.TrimSpace(raw.APIKey),
		Channel:     strings.TrimSpace(raw.Channel),
		Fallback:    seconds(raw.FallbackSeconds, defaultFallback),
		JoinTimeout: seconds(raw.JoinTimeoutSeconds, defaultJoinTimeout),
		Heartbeat:   seconds(raw.HeartbeatSeconds, defaultHeartbeat),
		LogFile:     strings.TrimSpace(raw.LogFile),
	}
	if cfg.Channel == "" {
		cfg.Channel = defaultChannel
	}
	if cfg.LogFile == "" {
		cfg.LogFile = defaultLogFile
	}
	cfg.LogFile = mustExpand(cfg.LogFile)

	for _, c := range raw.Collections {
		c = strings.TrimSpace(c)
		if c != "" && !slices.Contains(cfg.Collections, c) {
			cfg.Collections = append(cfg.Collections, c)
		}
	}

	for _, rq := range raw.Queries {
		q := Query{
			Table:  strings.TrimSpace(rq.Table),
			Select: strings.TrimSpace(rq.Select),
			Order:  strings.TrimSpace(rq.Order),
			Limit:  rq.Limit,
		}
		for _, part := range rq.Key {
			if part = strings.TrimSpace(part); part != "" {
				q.Key = append(q.Key, part)
			}
		}
		if len(q.Key) == 0 && q.Table != "" {
			q.Key = []string{q.Table}
		}
		if len(rq.Filters) > 0 {
			q.Filters = make(map[string]string, len(rq.Filters))
			for col, expr := range rq.Filters {
				q.Filters[strings.TrimSpace(col)] = strings.TrimSpace(expr)
			}
		}
		cfg.Queries = append(cfg.Queries, q)
	}
	return cfg
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvURL)); v != "" {
		cfg.URL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAPIKey)); v != "" {
		cfg.APIKey = v
	}
}

// Validate reports the first missing required value.
func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("url is required (set it in the config file or %s)", EnvURL)
	}
	if len(c.Collections) == 0 {
		return fmt.Errorf("at least one collection is required")
	}
	if len(c.Queries) == 0 {
		return fmt.Errorf("at least one [[query]] is required")
	}
	seen := make(map[string]bool, len(c.Queries))
	for i, q := range c.Queries {
		if q.Table == "" {
			return fmt.Errorf("query %d: table is required", i+1)
		}
		label := strings.Join(q.Key, "/")
		if seen[label] {
			return fmt.Errorf("query %d: duplicate key %q", i+1, label)
		}
		seen[label] = true
	}
	return nil
}

// Keys returns every query key, in config order.
func (c Config) Keys() [][]string {
	keys := make([][]string, 0, len(c.Queries))
	for _, q := range c.Queries {
		keys = append(keys, slices.Clone(q.Key))
	}
	return keys
}

// DefaultPath returns the expanded default config location.
func DefaultPath() string {
	return mustExpand(defaultConfigPath)
}

func seconds(v float64, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return time.Duration(v * float64(time.Second))
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
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
