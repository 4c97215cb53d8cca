package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gantry-project/gantry/internal/audit"
	"github.com/gantry-project/gantry/internal/auth"
	"github.com/gantry-project/gantry/internal/cache"
	"github.com/gantry-project/gantry/internal/config"
	"github.com/gantry-project/gantry/internal/events"
	"github.com/gantry-project/gantry/internal/featurelist"
	"github.com/gantry-project/gantry/internal/health"
	"github.com/gantry-project/gantry/internal/httpapi"
	"github.com/gantry-project/gantry/internal/optimize"
	"github.com/gantry-project/gantry/internal/policy"
	"github.com/gantry-project/gantry/internal/query"
	"github.com/gantry-project/gantry/internal/registry"
	"github.com/gantry-project/gantry/internal/resources"
	"github.com/gantry-project/gantry/internal/search"
	"github.com/gantry-project/gantry/internal/session"
	"github.com/gantry-project/gantry/internal/tools"
	"github.com/gantry-project/gantry/internal/tracing"
	"github.com/gantry-project/gantry/internal/upstream"
)

// overridesPath is the optional per-type field-alias and selection override
// file consumed by the query builder.
const overridesPath = "config/resources.yaml"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// run wires the dependency graph, serves until a signal or server failure,
// and drains within the configured grace period. Cleanup happens in reverse
// construction order on return.
func run(cfg *config.Config, logger *zap.Logger) error {
	if err := tracing.Initialize(cfg.Tracing, logger); err != nil {
		logger.Warn("Tracing disabled", zap.Error(err))
	}

	// Audit pipeline. The writer owns the sink and flushes it on close; the
	// zap sink is the fallback when no database is configured.
	var (
		writer *audit.Writer
		dbSink *audit.DBSink
	)
	if cfg.Audit.Enabled {
		var sink audit.Sink
		if cfg.Audit.Driver != "" {
			db, err := audit.NewDBSink(cfg.Audit.Driver, cfg.Audit.DSN, logger)
			if err != nil {
				return fmt.Errorf("open audit database: %w", err)
			}
			dbSink = db
			sink = db
		} else {
			sink = audit.NewZapSink(logger.Named("audit"))
		}
		writer = audit.NewWriter(sink, cfg.Audit.BufferSize, logger)
		defer func() { _ = writer.Close() }()
	}

	// Credential validation. A disabled validator admits every connection
	// with an anonymous identity.
	var validator auth.Validator
	if cfg.Auth.Enabled {
		store, err := auth.OpenStore(cfg.Auth.StorePath, logger)
		if err != nil {
			return fmt.Errorf("open credential store: %w", err)
		}
		defer func() { _ = store.Close() }()

		svc, err := auth.NewService(cfg.Auth, store, logger)
		if err != nil {
			return fmt.Errorf("init credential validator: %w", err)
		}
		defer func() { _ = svc.Close() }()

		if err := svc.LoadSeed(); err != nil {
			logger.Warn("Credential seed not loaded", zap.Error(err))
		} else if err := svc.WatchSeed(); err != nil {
			logger.Warn("Credential seed watch failed", zap.Error(err))
		}
		validator = svc
	}

	var authorizer *policy.Authorizer
	if cfg.Policy.Enabled {
		engine, err := policy.NewEngine(cfg.Policy, logger)
		if err != nil {
			return fmt.Errorf("init policy engine: %w", err)
		}
		authorizer = policy.NewAuthorizer(engine)
	}

	bus := events.NewBus(logger)
	defer bus.Close()

	var upstreamOpts []upstream.Option
	if writer != nil {
		upstreamOpts = append(upstreamOpts, upstream.WithAuditor(audit.NewUpstreamAuditor(writer)))
	}
	client := upstream.NewClient(cfg.Upstream, logger, upstreamOpts...)

	svc := resources.NewService(client, logger, resources.WithPublisher(bus))

	var builderOpts []query.BuilderOption
	if _, err := os.Stat(overridesPath); err == nil {
		overrides, err := query.LoadOverrides(overridesPath)
		if err != nil {
			return fmt.Errorf("load resource overrides: %w", err)
		}
		builderOpts = append(builderOpts, query.WithOverrides(overrides))
		logger.Info("Resource overrides loaded", zap.String("path", overridesPath))
	}
	builder := query.NewBuilder(logger, builderOpts...)

	store := cache.New(cfg.Search.Cache, logger)
	engine := search.New(client, builder, store, cfg.Search, logger)
	stopInvalidator := events.SubscribeInvalidator(bus, engine)
	defer stopInvalidator()

	optimizer := optimize.New(optimize.OptionsFromConfig(cfg.Search.Optimizer), logger)

	reg := registry.New(logger)
	searchTool := tools.NewSearchTool(engine, optimizer, logger)
	convertTool := tools.NewConvertTool(featurelist.NewConverter(svc, logger), logger)
	if err := tools.RegisterAll(reg, svc, engine, searchTool, convertTool); err != nil {
		return fmt.Errorf("register capabilities: %w", err)
	}
	if err := reg.RegisterFeature(events.FeatureChangeEvents, map[string]interface{}{
		"notifications": true,
	}); err != nil {
		return fmt.Errorf("register features: %w", err)
	}
	if err := reg.RegisterFeature("textDocument", map[string]interface{}{
		"formats": []string{"plain", "markdown", "json"},
	}); err != nil {
		return fmt.Errorf("register features: %w", err)
	}

	var managerOpts []session.Option
	if authorizer != nil {
		managerOpts = append(managerOpts, session.WithAuthorizer(authorizer))
	}
	if writer != nil {
		managerOpts = append(managerOpts, session.WithRecorder(audit.NewRecorder(writer)))
	}
	manager := session.NewManager(cfg.Server, reg, logger, managerOpts...)

	notifier := events.NewNotifier(bus, manager, logger)
	defer notifier.Close()

	wsServer := session.NewServer(manager, validator, cfg.Server, logger)

	limiter := httpapi.NewRateLimiter(cfg.RateLimit, logger)
	if limiter != nil {
		defer func() { _ = limiter.Close() }()
	}

	hm := health.NewManager(logger)
	hm.Register("upstream", health.UpstreamCheck(client), health.Critical())
	if rc := limiter.Redis(); rc != nil {
		hm.Register("redis", health.RedisCheck(rc))
	}
	if dbSink != nil {
		hm.Register("audit", health.DatabaseCheck(dbSink))
	}

	started := time.Now()
	statsz := httpapi.StatszHandler(func() interface{} {
		return map[string]interface{}{
			"uptime":       time.Since(started).Round(time.Second).String(),
			"sessions":     manager.ActiveSessions(),
			"cache":        engine.CacheStats(),
			"upstream":     client.RateLimit(),
			"capabilities": len(reg.Capabilities()),
		}
	})

	servers := httpapi.New(cfg.Server, wsServer, limiter, httpapi.AdminHandlers{
		Healthz: hm.Healthz(),
		Readyz:  hm.Readyz(),
		Statsz:  statsz,
	}, logger)

	errCh := servers.Start()
	logger.Info("Gantry listening",
		zap.String("listen_addr", cfg.Server.ListenAddr),
		zap.String("admin_addr", cfg.Server.AdminAddr),
		zap.String("upstream", cfg.Upstream.Endpoint),
		zap.Bool("auth", cfg.Auth.Enabled),
		zap.String("policy_mode", cfg.Policy.Mode),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	case serveErr = <-errCh:
		logger.Error("Listener failed", zap.Error(serveErr))
	}

	grace := cfg.Server.ShutdownGrace
	if grace <= 0 {
		grace = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := servers.Shutdown(ctx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	if err := manager.Shutdown(ctx); err != nil {
		logger.Warn("Session drain incomplete", zap.Error(err))
	}
	if err := tracing.Shutdown(ctx); err != nil {
		logger.Warn("Tracing shutdown failed", zap.Error(err))
	}

	logger.Info("Shutdown complete")
	return serveErr
}
