package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gigboard/feedwatch/internal/changefeed"
	"github.com/gigboard/feedwatch/internal/config"
	"github.com/gigboard/feedwatch/internal/prefs"
	"github.com/gigboard/feedwatch/internal/querycache"
	"github.com/gigboard/feedwatch/internal/realtime"
	"github.com/gigboard/feedwatch/internal/rest"
	"github.com/gigboard/feedwatch/internal/state"
	"github.com/gigboard/feedwatch/internal/ui"
)

// Options configure the feedwatch application.
type Options struct {
	ConfigPath string
	PrefsPath  string        // empty uses default ~/.config/feedwatch/prefs.toml
	Fallback   time.Duration // zero uses the config value
	Headless   bool
	Debug      bool
}

// Run boots feedwatch until the context is cancelled or the user quits.
func Run(ctx context.Context, opts Options) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.Fallback > 0 {
		cfg.Fallback = opts.Fallback
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, closeLog, err := openLogger(cfg.LogFile, opts.Headless, opts.Debug)
	if err != nil {
		return err
	}
	defer closeLog()

	rt, err := realtime.NewClient(cfg.URL, cfg.APIKey,
		realtime.WithLogger(logger),
		realtime.WithHeartbeat(cfg.Heartbeat),
		realtime.WithJoinTimeout(cfg.JoinTimeout),
	)
	if err != nil {
		return fmt.Errorf("init realtime client: %w", err)
	}
	defer func() { _ = rt.Close() }()

	rc, err := rest.NewClient(cfg.URL, cfg.APIKey)
	if err != nil {
		return fmt.Errorf("init rest client: %w", err)
	}

	cache := querycache.New(querycache.Options{Logger: logger})
	defer cache.Close()
	if err := registerQueries(cache, rc, cfg.Queries); err != nil {
		return err
	}

	store := &state.Store{}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	watcher := changefeed.NewWatcher(gctx, changefeed.RealtimeTransport{Client: rt}, cache, changefeed.Options{
		ChannelName:    cfg.Channel,
		FallbackPeriod: cfg.Fallback,
		ConnectTimeout: cfg.JoinTimeout,
		Logger:         logger,
		Observer:       store,
	})
	// The subscriber's channel is released before the realtime client
	// closes its socket.
	defer watcher.Close()

	logger.Info("feedwatch starting",
		"channel", cfg.Channel,
		"collections", cfg.Collections,
		"queries", len(cfg.Queries),
		"fallback", cfg.Fallback)

	g.Go(func() error {
		if err := cache.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		runPoller(gctx, store, cache, defaultPollInterval)
		return nil
	})
	g.Go(func() error {
		watcher.Watch(cfg.Collections, cfg.Keys())
		return nil
	})

	if opts.Headless {
		g.Go(func() error {
			runHeadless(gctx, store, logger, defaultReportInterval)
			return nil
		})
	} else {
		userPrefs, _ := prefs.Load(opts.PrefsPath)
		g.Go(func() error {
			defer cancel()
			return ui.Run(gctx, ui.Options{
				Store:     store,
				Resyncer:  cache,
				Config:    &cfg,
				ThemeName: userPrefs.Theme,
				Pane:      userPrefs.Pane,
				PrefsPath: opts.PrefsPath,
				LogPath:   cfg.LogFile,
			})
		})
	}

	err = g.Wait()
	logger.Info("feedwatch stopping")
	return err
}

func registerQueries(cache *querycache.Cache, client rest.RowFetcher, queries []config.Query) error {
	for _, q := range queries {
		if err := cache.Register(q.Key, fetcherFor(client, q)); err != nil {
			return fmt.Errorf("register query %v: %w", q.Key, err)
		}
	}
	return nil
}

func fetcherFor(client rest.RowFetcher, q config.Query) querycache.Fetcher {
	query := rest.Query{
		Table:   q.Table,
		Select:  q.Select,
		Order:   q.Order,
		Limit:   q.Limit,
		Filters: q.Filters,
	}
	return func(ctx context.Context) ([]json.RawMessage, error) {
		return client.FetchRows(ctx, query)
	}
}
