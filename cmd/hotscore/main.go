// Command hotscore runs one hot-score refresh and exits. It is meant for
// cron hosts and backfills; the API service schedules the same jobs itself.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/ranking"
	pgstore "github.com/Adithya-Monish-Kumar-K/copilot-search/internal/store/postgres"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	job := flag.String("job", ranking.JobFull, "refresh to run: full or recent")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	st := pgstore.New(db)
	layer := cache.New(rdb, cfg.Cache, nil)
	home := cache.NewHomePages(layer, cfg.Search.HomeOrderings, cfg.Search.CacheMaxPage)
	engine := ranking.NewEngine(st, st, st, ranking.NewTracker(layer, cfg.Ranking), home, cfg.Ranking, nil)

	var rep ranking.Report
	switch *job {
	case ranking.JobFull:
		rep, err = engine.RefreshAll(ctx)
	case ranking.JobRecent:
		rep, err = engine.RefreshRecent(ctx)
	default:
		fmt.Fprintf(os.Stderr, "unknown job %q, want %s or %s\n", *job, ranking.JobFull, ranking.JobRecent)
		os.Exit(2)
	}
	if err != nil {
		os.Exit(1)
	}
	_ = json.NewEncoder(os.Stdout).Encode(rep)
}
