package internal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/starford/margin/internal/adapter"
	"github.com/starford/margin/internal/annotationservice"
	"github.com/starford/margin/internal/fetcher"
	"github.com/starford/margin/internal/index"
	"github.com/starford/margin/internal/metrics"
	"github.com/starford/margin/internal/models"
	"github.com/starford/margin/internal/profile"
	"github.com/starford/margin/internal/protocol"
	"github.com/starford/margin/internal/relay"
	"github.com/starford/margin/internal/resolver"
	"github.com/starford/margin/internal/settings"
	"github.com/starford/margin/internal/signer"
	"github.com/starford/margin/internal/sse"
)

// core holds every long-lived component shared by the HTTP and MCP modes.
type core struct {
	cfg     *Config
	logger  *slog.Logger
	version string

	db        *index.DB
	session   *settings.Store
	metrics   *metrics.Collector
	pool      *relay.Pool
	relays    *relay.Directory
	breakers  *relay.Breakers
	redis     *profile.RedisCache
	profiles  *profile.Service
	signer    *signer.Session
	broker    *sse.Broker
	loader    *fetcher.Loader
	publisher *fetcher.Publisher
	svc       *annotationservice.Service
}

func newApplication(opts []Option) (*application, *slog.Logger, error) {
	app := &application{logOutput: os.Stdout, version: "dev"}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, nil, fmt.Errorf("config is required")
	}

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOutput, &slog.HandlerOptions{
		Level: app.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return app, logger, nil
}

// buildCore opens storage and wires the relay, signing and orchestration
// layers. ctx bounds relay connections and in-flight adaptations.
func buildCore(ctx context.Context, app *application, logger *slog.Logger) (*core, error) {
	cfg := app.config
	c := &core{cfg: cfg, logger: logger, version: app.version}

	logger.Info("Configuration loaded",
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("settings_path", cfg.Settings.Path),
		slog.Any("read_relays", cfg.Relays.Read),
		slog.Any("write_relays", cfg.Relays.Write),
		slog.String("profile_cache", cfg.Profile.Cache),
		slog.String("log_level", cfg.App.LogLevel.String()))

	var err error
	c.db, err = index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}
	c.session, err = settings.Open(cfg.Settings.Path, logger)
	if err != nil {
		c.db.Close()
		return nil, fmt.Errorf("init settings: %w", err)
	}

	c.metrics = metrics.NewCollector("margin")
	c.breakers = relay.NewBreakers(cfg.Relays.Breaker.Relay(), logger)
	c.pool = relay.NewPool(ctx,
		relay.WithLogger(logger),
		relay.WithBreakers(c.breakers),
		relay.WithTimeouts(cfg.Relays.PublishTimeout, cfg.Relays.GetTimeout),
		relay.WithPublishObserver(c.metrics.ObserveRelayPublish),
	)
	c.relays = relay.NewDirectory(cfg.Relays.Read, cfg.Relays.Write)

	var cache profile.Cache = profile.NewMemoryCache()
	if cfg.Profile.Cache == ProfileCacheRedis {
		c.redis, err = profile.NewRedisCache(ctx, cfg.Profile.RedisURL)
		if err != nil {
			c.close()
			return nil, fmt.Errorf("init profile cache: %w", err)
		}
		cache = c.redis
	}
	c.profiles = profile.NewService(c.pool, c.relays.Read, cache, cfg.Profile.TTL, logger)

	policy := cfg.Resolver.Policy()
	policy.OnRetry = func(int, time.Duration) { c.metrics.ResolverRetries.Inc() }
	res := resolver.New(c.db, policy, logger)

	c.signer = signer.New(c.session,
		signer.WithDialer(signer.DialBunker(c.pool.SimplePool())),
		signer.WithLogger(logger),
	)
	set := adapter.NewSet(adapter.Deps{
		Session:  c.session,
		Profiles: c.profiles,
		Resolver: res,
		LinkBase: cfg.Links.EventURL,
		Logger:   logger,
	})

	c.broker = sse.NewBroker(cfg.App.HTTP.SSEThrottle)
	hooks := c.hooks()

	c.loader = fetcher.NewLoader(ctx, fetcher.LoaderConfig{
		Transport: c.pool,
		Relays:    c.relays,
		Coll:      c.db,
		Adapters:  set,
		Logger:    logger,
		Hooks:     hooks,
	})
	c.publisher = fetcher.NewPublisher(fetcher.PublisherConfig{
		Transport: c.pool,
		Relays:    c.relays,
		Signer:    c.signer,
		Adapters:  set,
		Coll:      c.db,
		Profiles:  c.profiles,
		Session:   c.session,
		LinkBase:  cfg.Links.EventURL,
		Logger:    logger,
		Hooks:     hooks,
	})
	c.svc = annotationservice.New(annotationservice.Config{
		Coll:      c.db,
		Loader:    c.loader,
		Publisher: c.publisher,
		Relays:    c.relays,
		Breakers:  c.breakers,
		Session:   c.session,
		Logger:    logger,
		OnLoadError: func(scope string, err error) {
			logger.Warn("load failed", slog.String("scope", scope), slog.String("error", err.Error()))
			c.broker.PublishLoadError(scope, err)
		},
	})
	return c, nil
}

// hooks routes orchestration events to metrics and SSE clients.
func (c *core) hooks() fetcher.Hooks {
	return fetcher.Hooks{
		OnEvent: func(kind int) {
			c.metrics.EventsReceived.WithLabelValues(protocol.KindString(kind)).Inc()
		},
		OnSkip: func(reason string) {
			c.metrics.EventsSkipped.WithLabelValues(reason).Inc()
		},
		OnUpsert: func(ann models.Annotation) {
			c.metrics.AnnotationsUp.Inc()
			c.broker.PublishAnnotation(ann.ID, ann.URI)
		},
		OnFetch: func(scope string, started bool) {
			if started {
				c.metrics.Fetches.Inc()
			} else {
				c.metrics.Fetches.Dec()
			}
			c.broker.PublishFetch(scope, started)
		},
		OnPublish: func(kind string, err error) {
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			c.metrics.Publishes.WithLabelValues(kind, outcome).Inc()
		},
	}
}

// discoverRelays merges the signed-in user's relay list into the
// configured relays, or resets them when nobody is signed in.
func (c *core) discoverRelays(ctx context.Context, pubkey string) {
	if !c.cfg.Relays.Discovery {
		return
	}
	if err := c.relays.Discover(ctx, c.pool, pubkey, c.logger); err != nil {
		c.logger.Warn("relay discovery failed", slog.String("error", err.Error()))
		return
	}
	c.logger.Info("relays updated",
		slog.Any("read", c.relays.Read()), slog.Any("write", c.relays.Write()))
}

// watchSession reacts to session changes: relay lists follow the signed-in
// user and cached bunker connections are dropped.
func (c *core) watchSession(ctx context.Context) {
	c.session.OnChange(func(st settings.State) {
		c.signer.Remote().Reset()
		go c.discoverRelays(ctx, st.PublicKeyHex)
	})
	if pk := c.session.PublicKey(); pk != "" {
		go c.discoverRelays(ctx, pk)
	}
}

func (c *core) close() {
	if c.loader != nil {
		c.loader.Close()
	}
	if c.broker != nil {
		c.broker.Close()
	}
	if c.pool != nil {
		c.pool.Close()
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			c.logger.Warn("redis close failed", slog.String("error", err.Error()))
		}
	}
	if c.db != nil {
		c.db.Close()
	}
}
