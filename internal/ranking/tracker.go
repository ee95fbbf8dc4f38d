package ranking

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/config"
)

// Tracker keeps the bounded set of recently rated records the incremental
// refresh works from, scored by rating events.
type Tracker struct {
	layer  *cache.Layer
	cfg    config.RankingConfig
	logger *slog.Logger
}

func NewTracker(l *cache.Layer, cfg config.RankingConfig) *Tracker {
	return &Tracker{
		layer:  l,
		cfg:    cfg,
		logger: slog.Default().With("component", "rating-tracker"),
	}
}

// Record counts one rating event for id. Failures are logged only.
func (t *Tracker) Record(ctx context.Context, id int64) {
	err := t.layer.IncrCapped(ctx, t.cfg.RecentKey, strconv.FormatInt(id, 10),
		t.cfg.RecentSize, t.cfg.RecentSlack, t.cfg.RecentTTL)
	if err != nil {
		t.logger.Warn("recording rating event failed", "copilot_id", id, "error", err)
	}
}

// Candidates returns the most-rated ids, highest first.
func (t *Tracker) Candidates(ctx context.Context) ([]int64, error) {
	members, err := t.layer.TopMembers(ctx, t.cfg.RecentKey, t.cfg.RecentSize)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			t.logger.Warn("dropping malformed tracker member", "member", m)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Clear forgets every tracked id.
func (t *Tracker) Clear(ctx context.Context) {
	t.layer.Remove(ctx, t.cfg.RecentKey)
}
