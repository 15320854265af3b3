package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/felixgeelhaar/nova/internal/cache"
	"github.com/felixgeelhaar/nova/internal/chain"
	"github.com/felixgeelhaar/nova/internal/config"
	"github.com/felixgeelhaar/nova/internal/guard"
	"github.com/felixgeelhaar/nova/internal/memory"
	"github.com/felixgeelhaar/nova/internal/observe"
	"github.com/felixgeelhaar/nova/internal/prompt"
	"github.com/felixgeelhaar/nova/internal/provider"
	"github.com/felixgeelhaar/nova/internal/runtime"
	"github.com/felixgeelhaar/nova/internal/store"
	"github.com/felixgeelhaar/nova/internal/topic"
)

// Runner owns every component one CLI invocation needs.
type Runner struct {
	Config     *config.Config
	Observer   *observe.Observer
	Store      store.Storage
	Cache      *cache.Cache
	Topics     *topic.Engine
	Summarizer *memory.Summarizer
	Runtime    *runtime.Runtime
}

func NewRunner(ctx context.Context, cfg *config.Config, obs *observe.Observer, s store.Storage) (*Runner, error) {
	set := prompt.Default()
	if cfg.PromptsFile != "" {
		loaded, err := prompt.Load(cfg.PromptsFile)
		if err != nil {
			return nil, err
		}
		set = loaded
	}
	tmpl, err := set.Compile()
	if err != nil {
		return nil, fmt.Errorf("invalid prompts: %w", err)
	}

	analyzer, err := buildProvider(cfg, cfg.Analyzer, obs)
	if err != nil {
		return nil, fmt.Errorf("analyzer: %w", err)
	}
	generator, err := buildProvider(cfg, cfg.Generator, obs)
	if err != nil {
		return nil, fmt.Errorf("generator: %w", err)
	}

	c, err := cache.Open(ctx, cfg.CacheOptions(), obs)
	if err != nil {
		return nil, err
	}

	chainCfg := chain.DefaultConfig()
	chainCfg.HistoryWindow = cfg.Chain.HistoryWindow
	chainCfg.Templates = tmpl

	engine := topic.New(s, c, obs, cfg.TopicOptions())
	sum := memory.NewSummarizer(memory.NewStoreMemory(s), s, analyzer, tmpl, obs)
	rt := runtime.New(s, engine, chain.New(analyzer, generator, obs, chainCfg), sum, runtime.NewEventBus(), obs)
	rt.SetGuard(guard.New(cfg.GuardPolicy()))

	obs.Log().Info().
		Str("analyzer", analyzer.Name()).
		Str("generator", generator.Name()).
		Str("cache", cfg.Cache.Backend).
		Msg("nova initialized")

	return &Runner{
		Config:     cfg,
		Observer:   obs,
		Store:      s,
		Cache:      c,
		Topics:     engine,
		Summarizer: sum,
		Runtime:    rt,
	}, nil
}

func buildProvider(cfg *config.Config, pc config.ProviderConfig, obs *observe.Observer) (provider.Provider, error) {
	p, err := provider.New(pc.Provider())
	if err != nil {
		return nil, err
	}
	return provider.WithReliability(p, cfg.Reliability.Timeout, cfg.Reliability.Attempts,
		provider.WithMetrics(obs.Metrics())), nil
}

// Close drains background work and releases the cache.
func (r *Runner) Close(ctx context.Context) error {
	return errors.Join(r.Runtime.Close(ctx), r.Cache.Close())
}
