package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/sweetpotato0/shard/capture"
	"github.com/sweetpotato0/shard/config"
	"github.com/sweetpotato0/shard/contrib/provider/claude"
	"github.com/sweetpotato0/shard/contrib/provider/gemini"
	"github.com/sweetpotato0/shard/contrib/provider/openai"
	"github.com/sweetpotato0/shard/contrib/tokenizer/tiktoken"
	"github.com/sweetpotato0/shard/engine"
	"github.com/sweetpotato0/shard/event"
	"github.com/sweetpotato0/shard/gateway"
	"github.com/sweetpotato0/shard/llm"
	"github.com/sweetpotato0/shard/lookup"
	"github.com/sweetpotato0/shard/pkg/logging"
	"github.com/sweetpotato0/shard/planner"
	"github.com/sweetpotato0/shard/prompt"
	"github.com/sweetpotato0/shard/research"
	"github.com/sweetpotato0/shard/session"
	"github.com/sweetpotato0/shard/session/store"
)

// app is the assembled runtime shared by every subcommand.
type app struct {
	cfg        *config.Config
	engine     *engine.Engine
	bus        *event.Bus
	lookups    *lookup.Registry
	research   *research.Loop
	recognizer capture.Recognizer
	closers    []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

func build(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := logging.WithComponent("shard")
	a := &app{cfg: cfg, bus: event.NewBus()}

	gw := gateway.New(
		gateway.WithBackend(gateway.NewGemini(cfg.Keys.Gemini, geminiOpts(cfg)...)),
		gateway.WithBackend(gateway.NewOpenRouter(cfg.Keys.OpenRouter, openRouterOpts(cfg)...)),
	)

	a.lookups = lookup.NewRegistry()
	for _, adapter := range []lookup.Adapter{
		lookup.NewWikipedia(),
		lookup.NewWeather(),
		lookup.NewFinance(),
		lookup.NewArxiv(lookup.WithMaxResults(cfg.Lookup.ArxivMaxResults)),
	} {
		if cfg.Lookup.CacheSize > 0 {
			adapter = lookup.NewCached(adapter, cfg.Lookup.CacheSize, cfg.Lookup.CacheTTL)
		}
		if err := a.lookups.Register(adapter); err != nil {
			return nil, err
		}
	}

	prompts := prompt.NewDefaultManager()
	if err := prompts.Apply(cfg.Prompts); err != nil {
		return nil, err
	}
	helper, err := newHelper(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if rec, ok := helper.(capture.Recognizer); ok {
		a.recognizer = rec
	}

	var decider research.Decider = research.Heuristic{}
	if helper != nil && cfg.Helper.Decider == config.DeciderLLM {
		decider = research.NewLLMDecider(helper, prompts)
	}
	researchOpts := []research.Option{
		research.WithMaxIterations(cfg.Research.MaxIterations),
		research.WithTokenBudget(cfg.Research.TokenBudget),
	}
	if cfg.Research.Encoding != "" {
		tok, err := tiktoken.New(cfg.Research.Encoding)
		if err != nil {
			logger.Warn("tokenizer unavailable, counting runes", "encoding", cfg.Research.Encoding, "error", err)
		} else {
			researchOpts = append(researchOpts, research.WithTruncator(tok))
		}
	}
	if wiki, ok := a.lookups.Get(lookup.KindEncyclopedia); ok {
		a.research = research.New(wiki, decider, researchOpts...)
	}

	sessionOpts := []session.ManagerOption{}
	if cfg.History.Backend == config.HistoryRedis {
		rs := store.NewRedisStore(&store.RedisConfig{
			Addr:     cfg.History.Redis.Addr,
			Password: cfg.History.Redis.Password,
			DB:       cfg.History.Redis.DB,
			Prefix:   cfg.History.Redis.Prefix,
			TTL:      cfg.History.Redis.TTL,
		})
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.History.Redis.Addr, err)
		}
		a.closers = append(a.closers, rs.Close)
		sessionOpts = append(sessionOpts, session.WithStore(rs))
	} else {
		sessionOpts = append(sessionOpts, session.WithStore(store.NewInMemoryStore()))
	}

	engineOpts := []engine.Option{
		engine.WithLookups(a.lookups),
		engine.WithResearch(a.research),
		engine.WithSessions(session.NewManager(sessionOpts...)),
		engine.WithPrompts(prompts),
	}
	if helper != nil {
		engineOpts = append(engineOpts, engine.WithPlanner(planner.NewLLM(helper, planner.WithPrompts(prompts))))
	} else {
		logger.Warn("no helper model configured, web search is unavailable", "provider", cfg.Helper.Provider)
	}
	a.engine = engine.New(gw, a.bus, engineOpts...)
	a.closers = append(a.closers, func() error {
		a.engine.CancelCurrentGeneration()
		a.engine.Wait()
		return nil
	})
	return a, nil
}

// newHelper returns the completer used for planning and research decisions,
// or nil when the selected provider has no key.
func newHelper(ctx context.Context, cfg *config.Config) (llm.Completer, error) {
	switch cfg.Helper.Provider {
	case config.HelperGemini:
		if cfg.Keys.Gemini == "" {
			return nil, nil
		}
		p, err := gemini.New(ctx, &gemini.Config{
			APIKey: cfg.Keys.Gemini,
			Model:  cfg.Helper.Model,
			JSON:   true,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	case config.HelperOpenRouter:
		if cfg.Keys.OpenRouter == "" {
			return nil, nil
		}
		return openai.New(&openai.Config{
			APIKey:    cfg.Keys.OpenRouter,
			Model:     cfg.Helper.Model,
			MaxTokens: 1024,
		}), nil
	case config.HelperAnthropic:
		if cfg.Keys.Anthropic == "" {
			return nil, nil
		}
		c := claude.DefaultConfig(cfg.Keys.Anthropic)
		c.Model = cfg.Helper.Model
		return claude.New(c), nil
	default:
		return nil, fmt.Errorf("unknown helper provider %q", cfg.Helper.Provider)
	}
}

func geminiOpts(cfg *config.Config) []gateway.GeminiOption {
	opts := []gateway.GeminiOption{gateway.WithGeminiLogger(logging.WithComponent("gateway.gemini"))}
	if cfg.Model.GeminiURL != "" {
		opts = append(opts, gateway.WithGeminiBaseURL(cfg.Model.GeminiURL))
	}
	return opts
}

func openRouterOpts(cfg *config.Config) []gateway.OpenRouterOption {
	opts := []gateway.OpenRouterOption{gateway.WithOpenRouterLogger(logging.WithComponent("gateway.openrouter"))}
	if cfg.Model.OpenRouterURL != "" {
		opts = append(opts, gateway.WithOpenRouterBaseURL(cfg.Model.OpenRouterURL))
	}
	return opts
}
