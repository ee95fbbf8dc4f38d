package ranking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/copilot"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/metrics"
)

const (
	JobFull   = "full"
	JobRecent = "recent"

	hotOrdering = "hot"
)

// ErrAlreadyRunning is returned when a run of the same job is in flight.
var ErrAlreadyRunning = errors.New("refresh already running")

// HomeEvictor drops the cached pages of a named ordering.
type HomeEvictor interface {
	SyncInvalidateOrdering(ctx context.Context, order string) (int64, error)
}

// Report summarizes one refresh run.
type Report struct {
	Job      string        `json:"job"`
	Scored   int           `json:"scored"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Engine runs the full and incremental refreshes. The two jobs may overlap
// each other; a second run of the same job is refused while one is in flight.
type Engine struct {
	copilots store.CopilotStore
	ratings  store.RatingStore
	stages   store.StageCatalog
	tracker  *Tracker
	home     HomeEvictor
	cfg      config.RankingConfig
	now      func() time.Time
	metrics  *metrics.Metrics
	logger   *slog.Logger

	fullRunning   atomic.Bool
	recentRunning atomic.Bool
}

func NewEngine(
	copilots store.CopilotStore,
	ratings store.RatingStore,
	stages store.StageCatalog,
	tracker *Tracker,
	home HomeEvictor,
	cfg config.RankingConfig,
	m *metrics.Metrics,
) *Engine {
	return &Engine{
		copilots: copilots,
		ratings:  ratings,
		stages:   stages,
		tracker:  tracker,
		home:     home,
		cfg:      cfg,
		now:      time.Now,
		metrics:  m,
		logger:   slog.Default().With("component", "ranking"),
	}
}

// RefreshAll rescores every live record in id-ordered pages.
func (e *Engine) RefreshAll(ctx context.Context) (Report, error) {
	if !e.fullRunning.CompareAndSwap(false, true) {
		e.metrics.RankingRun(JobFull, "skipped", 0, 0)
		return Report{Job: JobFull}, ErrAlreadyRunning
	}
	defer e.fullRunning.Store(false)

	start := e.now()
	rep := Report{Job: JobFull}
	var afterID int64
	for {
		page, err := e.copilots.PageAfter(ctx, afterID, e.cfg.PageSize)
		if err != nil {
			return e.finish(rep, start, fmt.Errorf("loading records after %d: %w", afterID, err))
		}
		if len(page) == 0 {
			break
		}
		afterID = page[len(page)-1].ID
		scored, failed := e.apply(ctx, page)
		rep.Scored += scored
		rep.Failed += failed
		if len(page) < e.cfg.PageSize {
			break
		}
	}
	e.evictHot(ctx)
	return e.finish(rep, start, nil)
}

// RefreshRecent rescores only the records rated most since the last run, then
// clears the tracked set.
func (e *Engine) RefreshRecent(ctx context.Context) (Report, error) {
	if !e.recentRunning.CompareAndSwap(false, true) {
		e.metrics.RankingRun(JobRecent, "skipped", 0, 0)
		return Report{Job: JobRecent}, ErrAlreadyRunning
	}
	defer e.recentRunning.Store(false)

	start := e.now()
	rep := Report{Job: JobRecent}
	ids, err := e.tracker.Candidates(ctx)
	if err != nil {
		return e.finish(rep, start, fmt.Errorf("reading recently rated ids: %w", err))
	}
	if len(ids) == 0 {
		return e.finish(rep, start, nil)
	}
	recs, err := e.copilots.FindByIDs(ctx, ids)
	if err != nil {
		return e.finish(rep, start, fmt.Errorf("loading %d recently rated records: %w", len(ids), err))
	}
	if len(recs) > 0 {
		rep.Scored, rep.Failed = e.apply(ctx, recs)
	}
	e.tracker.Clear(ctx)
	e.evictHot(ctx)
	return e.finish(rep, start, nil)
}

func (e *Engine) finish(rep Report, start time.Time, err error) (Report, error) {
	rep.Duration = e.now().Sub(start)
	status := "ok"
	if err != nil {
		status = "failed"
		e.logger.Error("hot score refresh failed", "job", rep.Job, "scored", rep.Scored, "error", err)
	} else {
		e.logger.Info("hot score refresh finished",
			"job", rep.Job,
			"scored", rep.Scored,
			"failed", rep.Failed,
			"duration", rep.Duration.Round(time.Millisecond),
		)
	}
	e.metrics.RankingRun(rep.Job, status, rep.Duration, rep.Scored)
	return rep, err
}

func (e *Engine) evictHot(ctx context.Context) {
	if e.home == nil {
		return
	}
	if _, err := e.home.SyncInvalidateOrdering(ctx, hotOrdering); err != nil {
		e.logger.Warn("evicting hot home pages failed", "error", err)
	}
}

// apply scores recs and writes the results in one batch. Records that could
// not be scored are counted as failed and left untouched.
func (e *Engine) apply(ctx context.Context, recs []*copilot.Copilot) (scored, failed int) {
	scores, failed := e.score(ctx, recs)
	if len(scores) == 0 {
		return 0, failed
	}
	if err := e.copilots.BatchUpdateHotScore(ctx, scores); err != nil {
		e.logger.Error("writing hot scores failed", "records", len(scores), "error", err)
		return 0, failed + len(scores)
	}
	return len(scores), failed
}

func (e *Engine) score(ctx context.Context, recs []*copilot.Copilot) (map[int64]float64, int) {
	now := e.now()
	since := now.Add(-e.cfg.RatingWindow)
	keys := make([]string, len(recs))
	for i, c := range recs {
		keys[i] = strconv.FormatInt(c.ID, 10)
	}
	likes, err := e.ratings.CountRatings(ctx, copilot.KeyCopilot, keys, copilot.RatingLike, since)
	if err != nil {
		e.logger.Error("counting recent likes failed", "records", len(recs), "error", err)
		return nil, len(recs)
	}
	dislikes, err := e.ratings.CountRatings(ctx, copilot.KeyCopilot, keys, copilot.RatingDislike, since)
	if err != nil {
		e.logger.Error("counting recent dislikes failed", "records", len(recs), "error", err)
		return nil, len(recs)
	}

	stages := make(map[string]*store.Stage)
	scores := make(map[int64]float64, len(recs))
	failed := 0
	for i, c := range recs {
		stage, ok := stages[c.StageName]
		if !ok {
			stage, err = e.stages.ResolveStage(ctx, c.StageName)
			if err != nil {
				e.logger.Warn("resolving stage failed, skipping record",
					"copilot_id", c.ID, "stage", c.StageName, "error", err)
				failed++
				continue
			}
			stages[c.StageName] = stage
		}
		like, found := likes[keys[i]]
		if !found {
			like = 1
		}
		score := HotScore(now, c, like, dislikes[keys[i]])
		scores[c.ID] = Demote(score, stage, c.FirstUploadTime)
	}
	return scores, failed
}
