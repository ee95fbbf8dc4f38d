// Package paginate labels a storage page and hydrates it for display.
//
// has-next is computed one of two ways. Exact: the query carried a count,
// which the planner only requests for listings scoped to a single named
// uploader, so has-next is total > page*limit. Approximate: every other
// filter combination, where a count would scan an unbounded join, reports
// has-next whenever the page came back full.
package paginate

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/copilot"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/config"
)

// HasNext decides whether a page after this one exists.
func HasNext(res store.Result, page, limit int) bool {
	if res.Counted {
		return res.Total > int64(page)*int64(limit)
	}
	return len(res.Rows) >= limit
}

func UserNameKey(userID string) string {
	return "user:name:" + userID
}

func CommentCountKey(id int64) string {
	return "comments:count:" + strconv.FormatInt(id, 10)
}

// Assembler resolves uploader names and comment counts through the cache,
// loading all misses of one page in a single storage call each.
type Assembler struct {
	layer      *cache.Layer
	users      store.UserDirectory
	comments   store.CommentCounter
	nameTTL    time.Duration
	countTTL   time.Duration
	minRatings int64
	logger     *slog.Logger
}

func NewAssembler(layer *cache.Layer, users store.UserDirectory, comments store.CommentCounter, cacheCfg config.CacheConfig, copilotCfg config.CopilotConfig) *Assembler {
	return &Assembler{
		layer:      layer,
		users:      users,
		comments:   comments,
		nameTTL:    cacheCfg.UserNameTTL,
		countTTL:   cacheCfg.CommentCountTTL,
		minRatings: copilotCfg.MinRatingsForDisplay,
		logger:     slog.Default().With("component", "assembler"),
	}
}

// Names returns display names for userIDs. Unknown users are absent.
func (a *Assembler) Names(ctx context.Context, userIDs []string) (map[string]string, error) {
	return cache.BatchGetOrLoad(ctx, a.layer, userIDs, UserNameKey, a.nameTTL,
		func(ctx context.Context, missing []string) (map[string]string, error) {
			return a.users.UserNames(ctx, missing)
		})
}

// CommentCounts returns live comment counts. Records with no comments get
// an explicit zero so they are cached too.
func (a *Assembler) CommentCounts(ctx context.Context, ids []int64) (map[int64]int64, error) {
	return cache.BatchGetOrLoad(ctx, a.layer, ids, CommentCountKey, a.countTTL,
		func(ctx context.Context, missing []int64) (map[int64]int64, error) {
			counts, err := a.comments.CountComments(ctx, missing)
			if err != nil {
				return nil, err
			}
			out := make(map[int64]int64, len(missing))
			for _, id := range missing {
				out[id] = counts[id]
			}
			return out, nil
		})
}

type hydration struct {
	names  map[string]string
	counts map[int64]int64
}

func (a *Assembler) hydrate(ctx context.Context, rows []*copilot.Copilot) (hydration, error) {
	var h hydration
	uploaders := make([]string, len(rows))
	ids := make([]int64, len(rows))
	for i, c := range rows {
		uploaders[i] = c.UploaderID
		ids[i] = c.ID
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		h.names, err = a.Names(gctx, uploaders)
		if err != nil {
			return fmt.Errorf("resolving uploader names: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		h.counts, err = a.CommentCounts(gctx, ids)
		if err != nil {
			return fmt.Errorf("counting comments: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return hydration{}, err
	}
	return h, nil
}

// Page assembles a list page. List content is trimmed and no per-caller
// rating is attached, so the result is safe to share through the cache.
func (a *Assembler) Page(ctx context.Context, res store.Result, page, limit int) (*copilot.Page, error) {
	out := &copilot.Page{
		HasNext: HasNext(res, page, limit),
		Page:    page,
		Data:    make([]copilot.Info, 0, len(res.Rows)),
	}
	if res.Counted {
		out.Total = res.Total
	}
	if len(res.Rows) == 0 {
		return out, nil
	}
	h, err := a.hydrate(ctx, res.Rows)
	if err != nil {
		return nil, err
	}
	for _, c := range res.Rows {
		info := c.Format(h.names[c.UploaderID], h.counts[c.ID], copilot.RatingNone, a.minRatings)
		info.Content = copilot.TrimForList(c.Content)
		out.Data = append(out.Data, info)
	}
	a.logger.Debug("page assembled", "page", page, "rows", len(out.Data), "has_next", out.HasNext)
	return out, nil
}

// Detail formats a single record with its full content.
func (a *Assembler) Detail(ctx context.Context, c *copilot.Copilot) (copilot.Info, error) {
	h, err := a.hydrate(ctx, []*copilot.Copilot{c})
	if err != nil {
		return copilot.Info{}, err
	}
	return c.Format(h.names[c.UploaderID], h.counts[c.ID], copilot.RatingNone, a.minRatings), nil
}
