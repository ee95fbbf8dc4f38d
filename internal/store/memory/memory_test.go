package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/copilot"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/filter"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/errors"
)

func seed(t *testing.T, s *Store, recs ...copilot.Copilot) {
	t.Helper()
	for i := range recs {
		require.NoError(t, s.Insert(context.Background(), &recs[i]))
	}
}

func rowIDs(rows []*copilot.Copilot) []int64 {
	out := make([]int64, len(rows))
	for i, r := range rows {
		out[i] = r.ID
	}
	return out
}

func TestQueryOrderingTieBreak(t *testing.T) {
	s := New()
	seed(t, s,
		copilot.Copilot{ID: 1, Views: 5},
		copilot.Copilot{ID: 2, Views: 9},
		copilot.Copilot{ID: 3, Views: 5},
		copilot.Copilot{ID: 4, Views: 1, Deleted: true},
	)
	live := filter.Equals{Field: filter.FieldDeleted, Value: false}
	ctx := context.Background()

	res, err := s.Query(ctx, store.Query{Filter: live, Order: copilot.OrderViews, Desc: true, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3, 1}, rowIDs(res.Rows))

	res, err = s.Query(ctx, store.Query{Filter: live, Order: copilot.OrderViews, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 2}, rowIDs(res.Rows))

	res, err = s.Query(ctx, store.Query{Filter: live, Order: copilot.OrderID, Desc: true, Offset: 1, Limit: 1, Count: true})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, rowIDs(res.Rows))
	assert.True(t, res.Counted)
	assert.EqualValues(t, 3, res.Total)

	res, err = s.Query(ctx, store.Query{Filter: live, Offset: 10, Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
	assert.False(t, res.Counted)
}

func TestUpdateKeepsCounters(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, copilot.Copilot{ID: 1, Title: "a", Views: 10, LikeCount: 3, HotScore: 2.5})
	require.NoError(t, s.Update(ctx, &copilot.Copilot{ID: 1, Title: "b"}))
	got, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "b", got.Title)
	assert.EqualValues(t, 10, got.Views)
	assert.EqualValues(t, 3, got.LikeCount)
	assert.Equal(t, 2.5, got.HotScore)
}

func TestSoftDeleteHidesRecord(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, copilot.Copilot{ID: 1}, copilot.Copilot{ID: 2})
	require.NoError(t, s.SoftDelete(ctx, 1, time.Now()))

	_, err := s.Get(ctx, 1)
	assert.True(t, errors.Is(err, apperrors.ErrCopilotNotFound))
	assert.True(t, errors.Is(s.SoftDelete(ctx, 1, time.Now()), apperrors.ErrCopilotNotFound))

	found, err := s.FindByIDs(ctx, []int64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, rowIDs(found))

	page, err := s.PageAfter(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, rowIDs(page))

	maxID, err := s.MaxID(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, maxID, "deleted ids still count toward the allocator seed")
}

func TestApplyRatingDeltaClamps(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, copilot.Copilot{ID: 1, LikeCount: 1})
	c, err := s.ApplyRatingDelta(ctx, 1, -3, -1)
	require.NoError(t, err)
	assert.Zero(t, c.LikeCount)
	assert.Zero(t, c.DislikeCount)
	assert.Zero(t, c.RatingLevel)

	c, err = s.ApplyRatingDelta(ctx, 1, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 7, c.RatingLevel)
	assert.Equal(t, 0.7, c.RatingRatio)
}

func TestCountRatingsWindow(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()
	for i, user := range []string{"a", "b", "c"} {
		require.NoError(t, s.UpsertRating(ctx, copilot.Rating{
			Type: copilot.KeyCopilot, Key: "1", UserID: user,
			Rating: copilot.RatingLike, RateTime: now.Add(-time.Duration(i*4) * 24 * time.Hour),
		}))
	}
	require.NoError(t, s.UpsertRating(ctx, copilot.Rating{
		Type: copilot.KeyComment, Key: "1", UserID: "a", Rating: copilot.RatingLike, RateTime: now,
	}))

	got, err := s.CountRatings(ctx, copilot.KeyCopilot, []string{"1", "2"}, copilot.RatingLike, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"1": 2}, got)
}

func TestStageCatalog(t *testing.T) {
	s := New()
	ctx := context.Background()
	closed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.PutStage(store.Stage{StageID: "act1_01", LevelID: "activities/act1/level_01", Name: "Crisis", CloseTime: &closed})

	ids, err := s.StageIDsByKeyword(ctx, "crisis")
	require.NoError(t, err)
	assert.Equal(t, []string{"act1_01"}, ids)

	st, err := s.ResolveStage(ctx, "activities/act1/level_01")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.True(t, st.Closed())

	st, err = s.ResolveStage(ctx, "unknown")
	require.NoError(t, err)
	assert.Nil(t, st)
}
