// Package app assembles the bot's components from a Config.
//
// Every process role (HTTP server, queue worker, CLI one-shots, scenario
// harness) builds the same graph: store and queue on the configured backend,
// the rate-limited dispatcher over the chat client, the cached game library,
// the gate, lifecycle manager, engine and signal ingestor, and a queue runner
// with every task kind registered. Options replace the external edges (chat
// client, library source, clock) so tests run the real graph offline.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/gamesincommon/internal/clock"
	"github.com/roach88/gamesincommon/internal/command"
	"github.com/roach88/gamesincommon/internal/config"
	"github.com/roach88/gamesincommon/internal/dispatch"
	"github.com/roach88/gamesincommon/internal/engine"
	"github.com/roach88/gamesincommon/internal/gate"
	"github.com/roach88/gamesincommon/internal/library"
	"github.com/roach88/gamesincommon/internal/lifecycle"
	"github.com/roach88/gamesincommon/internal/model"
	"github.com/roach88/gamesincommon/internal/queue"
	"github.com/roach88/gamesincommon/internal/render"
	"github.com/roach88/gamesincommon/internal/signal"
	"github.com/roach88/gamesincommon/internal/store"
)

// Chat is the chat platform surface the bot needs.
type Chat interface {
	dispatch.Messenger
	dispatch.Reactor
}

// App is a fully wired set of components.
type App struct {
	Config    *config.Config
	Clock     clock.Clock
	Logger    *slog.Logger
	Store     store.Store
	Queue     queue.Queue
	Chat      Chat
	Budget    dispatch.Budget
	Publisher *dispatch.Dispatcher
	Source    library.Source
	Popular   library.Popular
	Renderer  *render.Renderer
	Gate      *gate.Gate
	Lifecycle *lifecycle.Manager
	Engine    *engine.Engine
	Signals   *signal.Ingestor
	Validator *command.Validator
	Runner    *queue.Runner

	closers []func() error
}

type settings struct {
	clock  clock.Clock
	logger *slog.Logger
	chat   Chat
	source library.Source
	ids    queue.IDGenerator
}

// Option replaces an external edge of the graph.
type Option func(*settings)

// WithClock sets the clock used by every component.
func WithClock(clk clock.Clock) Option {
	return func(s *settings) { s.clock = clk }
}

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithChat replaces the platform REST client.
func WithChat(c Chat) Option {
	return func(s *settings) { s.chat = c }
}

// WithSource replaces the game library. The source is used as is, without
// the response cache.
func WithSource(src library.Source) Option {
	return func(s *settings) { s.source = src }
}

// WithIDGenerator sets how queued task ids are made.
func WithIDGenerator(g queue.IDGenerator) Option {
	return func(s *settings) { s.ids = g }
}

// New opens the store and builds every component. Close releases the
// store.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	set := settings{
		clock:  clock.Real{},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		ids:    queue.UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(&set)
	}

	a := &App{Config: cfg, Clock: set.clock, Logger: set.logger}
	if err := a.openStore(ctx, set.ids); err != nil {
		return nil, err
	}

	a.Chat = set.chat
	if a.Chat == nil {
		a.Chat = dispatch.NewDiscordClient(cfg.Discord.AppID, cfg.Discord.BotToken,
			dispatch.WithBaseURL(cfg.Discord.APIBase))
	}
	a.Budget = dispatch.NewStoreBudget(a.Store, a.Clock)
	a.Publisher = dispatch.New(a.Chat, a.Budget, a.Clock,
		dispatch.WithLogger(a.Logger.With("component", "dispatch")),
		dispatch.WithFreshWindow(cfg.Discord.FreshWindow),
		dispatch.WithNotFoundBackoffs(cfg.Discord.NotFoundBackoffs...),
	)

	a.buildLibrary(set.source)

	a.Renderer = render.New(cfg.Discord.AuthorizeURL, cfg.Discord.PrivacyURL)
	a.Gate = gate.New(a.Store, a.Clock,
		gate.WithTimeout(cfg.Engine.Timeout),
		gate.WithPresence(cfg.Engine.Presence),
	)
	a.Lifecycle = lifecycle.New(a.Store, a.Publisher, a.Chat, a.Queue, a.Renderer, a.Clock,
		lifecycle.WithLogger(a.Logger.With("component", "lifecycle")),
		lifecycle.WithDeleteAfter(cfg.Engine.DeleteAfter),
		lifecycle.WithTick(cfg.Engine.CountdownTick),
	)
	a.Engine = engine.New(engine.Deps{
		Store:     a.Store,
		Queue:     a.Queue,
		Gate:      a.Gate,
		Publisher: a.Publisher,
		Source:    a.Source,
		Lifecycle: a.Lifecycle,
		Renderer:  a.Renderer,
		Clock:     a.Clock,
	},
		engine.WithLogger(a.Logger.With("component", "engine")),
		engine.WithPlan(engine.Plan{
			FastInterval: cfg.Engine.Plan.FastInterval,
			FastUntil:    cfg.Engine.Plan.FastUntil,
			SlowInterval: cfg.Engine.Plan.SlowInterval,
			Grace:        cfg.Engine.Plan.Grace,
		}),
		engine.WithRecencyWeight(cfg.Engine.RecencyWeight),
		engine.WithTokenValidity(cfg.Engine.TokenValidity),
		engine.WithGatherConcurrency(cfg.Steam.Concurrency),
		engine.WithLease(cfg.Worker.TaskTimeout, 0),
	)
	a.Signals = signal.New(a.Store, a.Engine, a.Lifecycle,
		signal.WithLogger(a.Logger.With("component", "signal")),
		signal.WithPresenceTTL(cfg.Engine.PresenceTTL),
		signal.WithMarkerTTL(cfg.Engine.TokenValidity),
	)

	validator, err := command.NewValidator()
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Validator = validator

	a.Runner = queue.NewRunner(a.Queue, a.Clock,
		queue.WithLogger(a.Logger.With("component", "runner")),
		queue.WithConcurrency(cfg.Worker.Concurrency),
		queue.WithBatchSize(cfg.Worker.BatchSize),
		queue.WithPollInterval(cfg.Worker.PollInterval),
		queue.WithTaskTimeout(cfg.Worker.TaskTimeout),
	)
	if err := a.Engine.Register(a.Runner); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("register task handlers: %w", err)
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context, ids queue.IDGenerator) error {
	cfg := a.Config.Store
	switch cfg.Backend {
	case config.BackendRedis:
		s, err := store.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("open redis store: %w", err)
		}
		a.Store = s
		a.Queue = queue.NewRedisQueue(s.Client, queue.WithIDGenerator(ids))
		a.closers = append(a.closers, s.Close)
	case config.BackendSQLite:
		s, err := store.OpenSQLite(cfg.Path, store.WithNow(a.Clock.Now))
		if err != nil {
			return fmt.Errorf("open sqlite store: %w", err)
		}
		a.Store = s
		a.Queue = queue.NewSQLiteQueue(s.DB(), queue.WithIDGenerator(ids))
		a.closers = append(a.closers, s.Close)
	default:
		return fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
	a.Logger.Info("store ready", "backend", cfg.Backend)
	return nil
}

func (a *App) buildLibrary(override library.Source) {
	if override != nil {
		a.Source = override
		if p, ok := override.(library.Popular); ok {
			a.Popular = p
		}
		return
	}
	cfg := a.Config.Steam
	steam := library.NewSteamClient(cfg.APIKey, library.WithBases(cfg.APIBase, cfg.StoreBase, cfg.SpyBase))
	a.Popular = steam
	a.Source = library.NewCachedSource(steam, a.Store,
		library.WithCacheLogger(a.Logger.With("component", "library")),
		library.WithTTLs(cfg.LibraryTTL, cfg.AchievementsTTL, cfg.GameTTL),
		library.WithLocalCache(cfg.LocalCacheMB<<20),
	)
}

// Admit validates an application command received now and starts its
// attempt plan. It returns the placeholder the webhook answers with.
func (a *App) Admit(ctx context.Context, in *command.Interaction) (*model.Session, *model.Message, error) {
	sess, err := a.Validator.Admit(in, a.Clock.Now())
	if err != nil {
		return nil, nil, err
	}
	if err := a.Engine.Admit(ctx, sess); err != nil {
		return nil, nil, err
	}
	return sess, a.Renderer.Placeholder(sess.Participants), nil
}

// AdmitDescriptor is Admit for a descriptor built outside a webhook.
func (a *App) AdmitDescriptor(ctx context.Context, d *command.Descriptor) (*model.Session, error) {
	if err := a.Validator.Validate(d); err != nil {
		return nil, err
	}
	sess := d.Session(a.Clock.Now())
	if err := a.Engine.Admit(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Warm prefetches metadata for popular games through the cache.
func (a *App) Warm(ctx context.Context) (int, error) {
	if a.Popular == nil {
		return 0, errors.New("library source has no popular list")
	}
	return library.Warm(ctx, a.Popular, a.Source, a.Config.Steam.Concurrency)
}

// Purge deletes expired records when the store keeps them on disk.
func (a *App) Purge(ctx context.Context) (int64, error) {
	p, ok := a.Store.(store.Purger)
	if !ok {
		return 0, nil
	}
	return p.Purge(ctx)
}

// Janitor purges expired records every worker.purge_interval until ctx is
// done.
func (a *App) Janitor(ctx context.Context) error {
	if _, ok := a.Store.(store.Purger); !ok {
		return nil
	}
	for {
		n, err := a.Purge(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil
		case err != nil:
			a.Logger.Error("purge failed", "error", err)
		case n > 0:
			a.Logger.Info("expired records purged", "rows", n)
		}
		if err := a.Clock.Sleep(ctx, a.Config.Worker.PurgeInterval); err != nil {
			return nil
		}
	}
}

// Close releases the store.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
