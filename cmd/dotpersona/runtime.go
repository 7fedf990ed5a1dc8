package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dotsetgreg/dotpersona/pkg/backup"
	"github.com/dotsetgreg/dotpersona/pkg/bus"
	"github.com/dotsetgreg/dotpersona/pkg/cache"
	"github.com/dotsetgreg/dotpersona/pkg/config"
	"github.com/dotsetgreg/dotpersona/pkg/host"
	"github.com/dotsetgreg/dotpersona/pkg/kvstore"
	"github.com/dotsetgreg/dotpersona/pkg/llm"
	"github.com/dotsetgreg/dotpersona/pkg/logger"
	"github.com/dotsetgreg/dotpersona/pkg/metrics"
	"github.com/dotsetgreg/dotpersona/pkg/persona"
	"github.com/dotsetgreg/dotpersona/pkg/profile"
	"github.com/dotsetgreg/dotpersona/pkg/providers"
	"github.com/dotsetgreg/dotpersona/pkg/render"
	"github.com/dotsetgreg/dotpersona/pkg/router"
)

// runtime holds everything the gateway and the console share.
type runtime struct {
	cfg      *config.Config
	bus      *bus.MessageBus
	metrics  *metrics.Registry
	store    *host.SQLiteStore
	personas *persona.Handler
	profiles *profile.Service
	sweeper  *profile.Sweeper
	router   *router.Router
}

func newRuntime(cfg *config.Config) (*runtime, error) {
	dataDir := cfg.DataDir()
	rec := metrics.New(cfg.Metrics.Enabled)

	available := providers.CreateConfiguredProviders(cfg)
	if len(available) == 0 {
		return nil, fmt.Errorf("no LLM provider is configured")
	}
	registry := llm.NewProviderRegistry(providers.ActiveProviderName(cfg), available)
	architect := llm.NewArchitect(cfg, registry, llm.WithMetrics(rec))

	store, err := host.NewSQLiteStore(filepath.Join(dataDir, "host.db"))
	if err != nil {
		return nil, fmt.Errorf("open host store: %w", err)
	}
	backups, err := backup.NewStore(filepath.Join(dataDir, "persona_backups"), cfg.Persona.BackupVersions, backup.WithMetrics(rec))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open backup store: %w", err)
	}
	renderer, err := render.NewTextRenderer(nil)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("load card templates: %w", err)
	}

	rt := &runtime{
		cfg:     cfg,
		bus:     bus.NewMessageBus(),
		metrics: rec,
		store:   store,
	}
	rt.personas = persona.NewHandler(cfg.Persona, persona.Deps{
		Backups:       backups,
		Personas:      store,
		Conversations: store,
		LLM:           architect,
		Renderer:      renderer,
		Cache:         cache.New(cfg.Cache.Enabled, cfg.Cache.SizeMB, time.Duration(cfg.Cache.IntentTTLSeconds)*time.Second),
		Metrics:       rec,
	})

	opts := []router.Option{router.WithHistory(store)}
	if cfg.Profile.Enabled {
		kv, err := kvstore.New(filepath.Join(dataDir, "profiles"))
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("open profile store: %w", err)
		}
		svc, err := profile.NewService(cfg.Profile, kv, architect,
			profile.WithHistory(store),
			profile.WithMetrics(rec),
		)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("load profiles: %w", err)
		}
		sweeper, err := profile.NewSweeper(svc, cfg.Profile.SweepCron)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		rt.profiles = svc
		rt.sweeper = sweeper
		opts = append(opts, router.WithProfiles(profile.NewCommands(svc, renderer)))
	}
	rt.router = router.New(rt.bus, rt.personas, opts...)

	logger.InfoCF("runtime", "Runtime initialized", map[string]interface{}{
		"providers":       registry.Names(),
		"profile_enabled": cfg.Profile.Enabled,
		"data_dir":        dataDir,
	})
	return rt, nil
}

// runWorkers starts the router and, when profiles are enabled, the buffer
// sweeper on g. Callers must wait on g before close.
func (rt *runtime) runWorkers(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error { return rt.router.Run(ctx) })
	if rt.sweeper != nil {
		g.Go(func() error { return rt.sweeper.Run(ctx) })
	}
}

// close waits for queued work, then persists state and releases storage.
func (rt *runtime) close() {
	rt.router.Wait()
	rt.personas.Wait()
	if rt.profiles != nil {
		rt.profiles.Close()
	}
	rt.bus.Close()
	if err := rt.store.Close(); err != nil {
		logger.WarnCF("runtime", "Closing host store failed", map[string]interface{}{"error": err.Error()})
	}
}
