package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	// Drivers
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	// Instrumentation
	"github.com/exaring/otelpgx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	// Interne
	"github.com/jupiterclapton/cenackle/services/campus-feed/config"
	"github.com/jupiterclapton/cenackle/services/campus-feed/internal/adapters/primary/events"
	grpc_adapter "github.com/jupiterclapton/cenackle/services/campus-feed/internal/adapters/primary/grpc"
	http_adapter "github.com/jupiterclapton/cenackle/services/campus-feed/internal/adapters/primary/http"
	"github.com/jupiterclapton/cenackle/services/campus-feed/internal/adapters/secondary/cache"
	"github.com/jupiterclapton/cenackle/services/campus-feed/internal/adapters/secondary/eventbroker"
	"github.com/jupiterclapton/cenackle/services/campus-feed/internal/adapters/secondary/metrics"
	"github.com/jupiterclapton/cenackle/services/campus-feed/internal/adapters/secondary/repository"
	"github.com/jupiterclapton/cenackle/services/campus-feed/internal/core/domain"
	"github.com/jupiterclapton/cenackle/services/campus-feed/internal/core/ports"
	"github.com/jupiterclapton/cenackle/services/campus-feed/internal/core/services"
)

const (
	healthInterval   = 15 * time.Second
	janitorInterval  = time.Minute
	shutdownTimeout  = 5 * time.Second
	natsReconnects   = 5
	natsReconnectGap = time.Second
)

func main() {
	// 1. Config & Logger
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	initLogger(cfg)
	slog.Info("🚀 Starting Campus Feed", "config", cfg.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Télémétrie (Tracing)
	tp, err := initTracer(ctx, cfg)
	if err != nil {
		slog.Error("Failed to init tracer", "error", err)
	} else {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	checks := map[string]grpc_adapter.Check{}

	// 3. Infrastructure: Cache (Redis ou mémoire)
	var store ports.CacheStore
	if cfg.UseMemoryStore() {
		mem := cache.NewMemoryStore()
		go mem.Janitor(ctx, janitorInterval)
		store = mem
		slog.Warn("⚠️ Using in-memory cache store (single instance only)")
	} else {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		// Instrumentation Redis
		if err := redisotel.InstrumentTracing(rdb); err != nil {
			slog.Error("Failed to instrument Redis", "error", err)
			os.Exit(1)
		}
		redisStore := cache.NewRedisStore(rdb)
		// Redis absent au démarrage n'est pas fatal : le cache est optionnel
		if err := redisStore.Ping(ctx); err != nil {
			slog.Warn("⚠️ Redis unreachable, serving from source until it recovers", "error", err)
		} else {
			slog.Info("✅ Connected to Redis")
		}
		checks["redis"] = redisStore.Ping
		store = redisStore
	}

	breakerCfg := cache.DefaultBreakerConfig()
	breakerCfg.Timeout = cfg.CacheBreakerTimeout
	store = cache.NewBreakerStore(store, breakerCfg)

	// 4. Infrastructure: Base de données (Postgres)
	dbConfig, err := pgxpool.ParseConfig(cfg.DBUrl)
	if err != nil {
		slog.Error("Unable to parse DB config", "error", err)
		os.Exit(1)
	}
	// Instrumentation SQL (Pour voir les requêtes dans Jaeger)
	dbConfig.ConnConfig.Tracer = otelpgx.NewTracer()

	dbPool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		slog.Error("Unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()
	slog.Info("✅ Connected to Postgres")
	checks["postgres"] = dbPool.Ping

	repo := repository.NewPostgresRepo(dbPool)

	// 5. Infrastructure: Graphe social (Postgres ou Neo4j)
	var graph ports.FollowGraph
	switch cfg.FollowBackend {
	case config.FollowBackendNeo4j:
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURI, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""))
		if err != nil {
			slog.Error("Unable to create Neo4j driver", "error", err)
			os.Exit(1)
		}
		defer driver.Close(context.Background())
		if err := driver.VerifyConnectivity(ctx); err != nil {
			slog.Error("Unable to connect to Neo4j", "error", err)
			os.Exit(1)
		}
		neoGraph := repository.NewNeo4jFollowGraph(driver)
		if err := neoGraph.EnsureSchema(ctx); err != nil {
			slog.Error("Failed to ensure Neo4j schema", "error", err)
			os.Exit(1)
		}
		slog.Info("✅ Connected to Neo4j")
		checks["neo4j"] = driver.VerifyConnectivity
		graph = neoGraph
	default:
		graph = repository.NewPostgresFollowGraph(dbPool)
	}

	// 6. Infrastructure: Event Broker (NATS)
	nc, err := nats.Connect(cfg.NatsUrl,
		nats.MaxReconnects(natsReconnects),
		nats.ReconnectWait(natsReconnectGap),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("⚠️ NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("✅ NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		slog.Error("Unable to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer nc.Close()
	slog.Info("✅ Connected to NATS")
	checks["nats"] = func(context.Context) error {
		if status := nc.Status(); status != nats.CONNECTED {
			return fmt.Errorf("nats status: %s", status)
		}
		return nil
	}

	// 7. Initialisation du Core
	collector := metrics.NewCollector("campus_feed")

	opts := services.DefaultOptions()
	opts.PageSize = cfg.FeedPageSize
	opts.FeedTTL = cfg.FeedTTL
	opts.PostTTL = cfg.PostTTL
	opts.FollowingTTL = cfg.FollowingTTL

	feedService := services.NewFeedService(store, repo, graph, collector, opts)
	publisher := eventbroker.NewNatsPublisher(nc, cfg.NatsSubjectPrefix)
	commandService := services.NewCommandService(repo, graph, publisher)

	// 8. Consumer NATS (invalidation du cache)
	handler := events.NewEventHandler(feedService)
	if _, err := handler.SubscribeAll(nc, func(t domain.Table) string {
		return eventbroker.Subject(cfg.NatsSubjectPrefix, t)
	}); err != nil {
		slog.Error("Failed to subscribe to NATS", "error", err)
		os.Exit(1)
	}
	slog.Info("👂 Listening for change events (NATS)", "prefix", cfg.NatsSubjectPrefix)

	// 9. Serveur HTTP (lecture du feed + commandes)
	router := http_adapter.NewRouter(
		http_adapter.NewHandler(feedService, commandService),
		http_adapter.NewAuthenticator(cfg.JWTSecret),
		http_adapter.Options{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			Metrics:        collector.Handler(),
			Observer:       collector,
		},
	)
	srvHTTP := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 10. Serveur gRPC (health checks)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		slog.Error("Failed to listen", "error", err)
		os.Exit(1)
	}
	reporter := grpc_adapter.NewHealthReporter(checks)
	grpcServer := grpc_adapter.NewServer(reporter)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("📡 Campus Feed HTTP listening", "port", cfg.HTTPPort)
		if err := srvHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("📡 Campus Feed gRPC listening", "port", cfg.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		reporter.Run(gctx, healthInterval)
		return nil
	})

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-gctx.Done():
		slog.Error("A server stopped unexpectedly")
	}
	slog.Info("🛑 Shutting down server...")

	reporter.Shutdown()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srvHTTP.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	grpcServer.GracefulStop()
	if err := nc.Drain(); err != nil {
		slog.Warn("⚠️ NATS drain failed", "error", err)
	}

	if err := g.Wait(); err != nil {
		slog.Error("Server error", "error", err)
	}
	slog.Info("👋 Server exited")
}

// --- Helpers ---

func initLogger(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.Env == "local" {
		opts.Level = slog.LevelDebug
	}
	var handler slog.Handler
	if cfg.Env == "local" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func initTracer(ctx context.Context, cfg *config.Config) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OtelEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, _ := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.DeploymentEnvironmentKey.String(cfg.Env),
		),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp, nil
}
