// Package search serves record searches: it plans the request, runs the
// storage query, labels and hydrates the page, and keeps shallow pages of
// the unfiltered listings in the home-page cache.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/copilot"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/paginate"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/planner"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/tracing"
)

const (
	outcomeCached       = "cached"
	outcomeComputed     = "computed"
	outcomeShortCircuit = "short_circuit"
	outcomeError        = "error"

	cacheHit    = "hit"
	cacheMiss   = "miss"
	cacheBypass = "bypass"
)

type Service struct {
	planner   *planner.Planner
	copilots  store.CopilotStore
	assembler *paginate.Assembler
	home      *cache.HomePages
	metrics   *metrics.Metrics
	slowLog   time.Duration
	logger    *slog.Logger
}

// NewService wires the search path. home may be nil, in which case every
// search goes to storage.
func NewService(p *planner.Planner, copilots store.CopilotStore, assembler *paginate.Assembler, home *cache.HomePages, m *metrics.Metrics) *Service {
	return &Service{
		planner:   p,
		copilots:  copilots,
		assembler: assembler,
		home:      home,
		metrics:   m,
		logger:    slog.Default().With("component", "search"),
	}
}

// WithSlowLog makes searches slower than d log their phase timings at Warn.
// Zero disables it.
func (s *Service) WithSlowLog(d time.Duration) *Service {
	s.slowLog = d
	return s
}

// Search runs req on behalf of callerID, which is empty for anonymous
// callers.
func (s *Service) Search(ctx context.Context, req planner.Request, callerID string) (*copilot.Page, error) {
	ctx, span := tracing.Start(ctx, "search", logger.RequestID(ctx))
	outcome, cacheStatus := outcomeError, cacheBypass
	defer func() {
		elapsed := span.End()
		s.metrics.SearchDone(outcome, cacheStatus, elapsed)
		if s.slowLog > 0 && elapsed > s.slowLog {
			span.SetAttr("outcome", outcome)
			span.SetAttr("cache", cacheStatus)
			span.Log(ctx, s.logger, slog.LevelWarn, "slow search")
		}
	}()

	_, planSpan := tracing.StartChild(ctx, "plan")
	plan, err := s.planner.Plan(ctx, req, callerID)
	planSpan.End()
	if err != nil {
		return nil, err
	}
	if plan.Empty {
		outcome = outcomeShortCircuit
		return copilot.EmptyPage(plan.Page), nil
	}

	order := string(plan.Query.Order)
	span.SetAttr("order", order)
	span.SetAttr("page", plan.Page)
	if s.home == nil || !plan.Home || !s.home.Cacheable(order, plan.Page) {
		page, err := s.run(ctx, plan)
		if err != nil {
			return nil, err
		}
		outcome = outcomeComputed
		return page, nil
	}

	cacheStatus = cacheMiss
	page, hit, err := s.home.GetOrCompute(ctx, order, cache.Fingerprint(plan.Fingerprint), func(ctx context.Context) (*copilot.Page, error) {
		return s.run(ctx, plan)
	})
	if err != nil {
		return nil, err
	}
	outcome = outcomeComputed
	if hit {
		outcome, cacheStatus = outcomeCached, cacheHit
	}
	s.logger.Debug("home page served", "order", order, "page", plan.Page, "cache_hit", hit)
	return page, nil
}

func (s *Service) run(ctx context.Context, plan *planner.Plan) (*copilot.Page, error) {
	_, querySpan := tracing.StartChild(ctx, "query")
	res, err := s.copilots.Query(ctx, plan.Query)
	querySpan.End()
	if err != nil {
		return nil, fmt.Errorf("querying copilots: %w", err)
	}
	_, hydrateSpan := tracing.StartChild(ctx, "hydrate")
	defer hydrateSpan.End()
	return s.assembler.Page(ctx, res, plan.Page, plan.Limit)
}
