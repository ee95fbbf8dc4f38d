package ranking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/config"
)

// Scheduler triggers the refresh jobs on their cron specs. Specs carry a
// leading seconds field and are evaluated in the configured time zone.
type Scheduler struct {
	cron   *cron.Cron
	engine *Engine
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}

func NewScheduler(engine *Engine, cfg config.RankingConfig) (*Scheduler, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading ranking timezone %q: %w", cfg.Timezone, err)
	}
	logger := slog.Default().With("component", "ranking-scheduler")
	cl := cronLogger{l: logger}
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{cron: c, engine: engine, ctx: ctx, cancel: cancel, logger: logger}

	if _, err := c.AddFunc(cfg.FullCron, s.job(JobFull, engine.RefreshAll)); err != nil {
		cancel()
		return nil, fmt.Errorf("parsing full refresh cron %q: %w", cfg.FullCron, err)
	}
	if _, err := c.AddFunc(cfg.RecentCron, s.job(JobRecent, engine.RefreshRecent)); err != nil {
		cancel()
		return nil, fmt.Errorf("parsing recent refresh cron %q: %w", cfg.RecentCron, err)
	}
	return s, nil
}

func (s *Scheduler) job(name string, run func(context.Context) (Report, error)) func() {
	return func() {
		if _, err := run(s.ctx); errors.Is(err, ErrAlreadyRunning) {
			s.logger.Info("refresh skipped, previous run still in flight", "job", name)
		}
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		s.logger.Info("refresh scheduled", "next", e.Next)
	}
}

// Stop cancels running jobs and waits for them until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("ranking jobs did not stop in time")
	}
}
