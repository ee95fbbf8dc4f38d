package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/api"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/copilot"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/copilots"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/events"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/idgen"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/paginate"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/planner"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/ranking"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/rating"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/search"
	pgstore "github.com/Adithya-Monish-Kumar-K/copilot-search/internal/store/postgres"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/views"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/resilience"
)

const rebuildTimeout = 5 * time.Minute

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting copilot search service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(prometheus.DefaultRegisterer)
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, prometheus.DefaultGatherer)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownMetrics(shutdownCtx)
		}()
	}

	startup := resilience.RetryConfig{MaxAttempts: 5, InitialDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second}

	var db *postgres.Client
	err = resilience.Retry(ctx, "postgres-connect", startup, func() error {
		db, err = postgres.New(cfg.Postgres)
		return err
	})
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := pgstore.Migrate(ctx, db); err != nil {
		slog.Error("failed to migrate schema", "error", err)
		os.Exit(1)
	}
	st := pgstore.New(db)

	var rdb *pkgredis.Client
	err = resilience.Retry(ctx, "redis-connect", startup, func() error {
		rdb, err = pkgredis.NewClient(cfg.Redis)
		return err
	})
	if err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	tok, err := tokenizer.New(cfg.Segment)
	if err != nil {
		slog.Error("failed to load segmenter dictionaries", "error", err)
		os.Exit(1)
	}

	layer := cache.New(rdb, cfg.Cache, m)
	defer layer.Wait()
	home := cache.NewHomePages(layer, cfg.Search.HomeOrderings, cfg.Search.CacheMaxPage)

	ix := index.New(tok, m)
	go func() {
		err := resilience.Retry(ctx, "index-rebuild", startup, func() error {
			_, err := resilience.Timed(ctx, rebuildTimeout, "index-rebuild", func(ctx context.Context) (int, error) {
				return ix.Rebuild(ctx, st)
			})
			return err
		})
		if err != nil && ctx.Err() == nil {
			slog.Error("segment index rebuild gave up, keyword search stays degraded", "error", err)
		}
	}()

	ids := idgen.New(layer, copilot.DefaultKindSeed)
	ids.Register(copilots.IDKind, st.MaxID)
	if err := resilience.Retry(ctx, "idgen-seed", startup, func() error { return ids.EnsureSeeded(ctx) }); err != nil {
		slog.Error("failed to seed id allocator", "error", err)
		os.Exit(1)
	}

	tracker := ranking.NewTracker(layer, cfg.Ranking)
	engine := ranking.NewEngine(st, st, st, tracker, home, cfg.Ranking, m)
	if cfg.Ranking.Enabled {
		sched, err := ranking.NewScheduler(engine, cfg.Ranking)
		if err != nil {
			slog.Error("failed to schedule hot score refresh", "error", err)
			os.Exit(1)
		}
		sched.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			sched.Stop(stopCtx)
		}()
	}

	counter := views.NewCounter(layer, st, cfg.Views, m)
	counter.Start(ctx)
	defer counter.Close()

	var notifier copilots.Notifier
	if cfg.Kafka.Enabled {
		origin := events.NewOrigin()
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.RecordEvents)
		defer producer.Close()
		notifier = events.NewPublisher(producer, origin)

		// a group per instance so every instance sees every change
		recordConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.RecordEvents,
			cfg.Kafka.ConsumerGroup+"-"+origin, events.NewApplier(ix, origin).Handle)
		levelConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.LevelSync,
			cfg.Kafka.ConsumerGroup, events.LevelSyncHandler(engine))
		for name, c := range map[string]*kafka.Consumer{"record-events": recordConsumer, "level-sync": levelConsumer} {
			go func() {
				if err := c.Start(ctx); err != nil {
					slog.Error("kafka consumer stopped", "consumer", name, "error", err)
				}
			}()
		}
		slog.Info("kafka wiring enabled", "origin", origin, "brokers", cfg.Kafka.Brokers)
	} else {
		slog.Warn("kafka disabled, index changes stay local to this instance")
	}

	assembler := paginate.NewAssembler(layer, st, st, cfg.Cache, cfg.Copilot)
	searchSvc := search.NewService(planner.New(ix, st, st, cfg.Search), st, assembler, home, m).
		WithSlowLog(cfg.Search.SlowLog)
	copilotSvc := copilots.NewService(copilots.Deps{
		Copilots:  st,
		Stages:    st,
		Ratings:   rating.NewService(st),
		Index:     ix,
		IDs:       ids,
		Cache:     layer,
		Home:      home,
		Assembler: assembler,
		Views:     counter,
		Tracker:   tracker,
		Notifier:  notifier,
		ByIDTTL:   cfg.Cache.ByIDTTL,
	})

	checker := health.NewChecker()
	checker.Register("postgres", health.Ping(db.Ping, true))
	checker.Register("redis", health.Ping(rdb.Ping, false))
	checker.Register("segment_index", func(context.Context) health.ComponentHealth {
		if !ix.Ready() {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "rebuild in progress"}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d tokens", ix.Len())}
	})

	routerCfg := api.RouterConfig{
		RequestTimeout: cfg.Server.RequestTimeout,
		AllowOrigins:   cfg.Server.AllowOrigins,
	}
	if cfg.Server.WriteRateLimit > 0 {
		limiter := ratelimit.New(cfg.Server.WriteRateLimit, time.Minute)
		limiter.Start(ctx, 5*time.Minute)
		routerCfg.WriteLimiter = limiter
	}

	h := api.New(searchSvc, copilotSvc, layer, home)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(h, checker, m, routerCfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("copilot search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("copilot search service stopped")
}
