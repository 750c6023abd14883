package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/gigboard/feedwatch/internal/app"
	"github.com/gigboard/feedwatch/internal/config"
)

const minFallback = time.Second

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flagSet := pflag.NewFlagSet("feedwatch", pflag.ContinueOnError)
	configPath := flagSet.String("config", "", "config file path, .toml or .yaml (default "+config.DefaultPath()+")")
	envFile := flagSet.String("env-file", ".env", "dotenv file with FEEDWATCH_URL / FEEDWATCH_API_KEY (optional)")
	fallback := flagSet.Duration("fallback", 0, "fallback polling period while disconnected, at least 1s (overrides config)")
	headless := flagSet.Bool("headless", false, "log status to stderr instead of running the TUI")
	prefsPath := flagSet.String("prefs", "", "preferences file path (default ~/.config/feedwatch/prefs.toml)")
	debug := flagSet.Bool("debug", false, "log at debug level")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "feedwatch: %v\n", err)
		return 2
	}
	if *fallback != 0 && *fallback < minFallback {
		fmt.Fprintf(os.Stderr, "feedwatch: --fallback must be at least %s, got %s\n", minFallback, *fallback)
		return 2
	}

	if err := loadEnvFile(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "feedwatch: %v\n", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := app.Options{
		ConfigPath: *configPath,
		PrefsPath:  *prefsPath,
		Fallback:   *fallback,
		Headless:   *headless,
		Debug:      *debug,
	}

	if err := app.Run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "feedwatch: %v\n", err)
		return 1
	}
	return 0
}

// loadEnvFile loads path into the environment without overriding
// variables that are already set. A missing file is fine.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
