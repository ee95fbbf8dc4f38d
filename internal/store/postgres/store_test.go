package postgres

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/copilot"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/filter"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/postgres"
)

// skipIfNoPostgres opens CS_TEST_POSTGRES_DSN, migrates it and empties every
// table. The test is skipped when the variable is unset or the server is down.
func skipIfNoPostgres(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("CS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("skipping integration test: CS_TEST_POSTGRES_DSN not set")
	}
	db, err := postgres.Open(dsn, config.PostgresConfig{
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
		QueryTimeout:    5 * time.Second,
	})
	if err != nil {
		t.Skipf("skipping integration test: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, Migrate(ctx, db))
	_, err = db.DB.ExecContext(ctx,
		`TRUNCATE copilot_operators, copilots, ratings, users, user_follows, comments, stages`)
	require.NoError(t, err)
	return New(db)
}

func seed(t *testing.T, s *Store, id int64, uploader string, hot float64, ops ...string) *copilot.Copilot {
	t.Helper()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &copilot.Copilot{
		ID:              id,
		StageName:       "main_01-07",
		UploaderID:      uploader,
		HotScore:        hot,
		Operators:       ops,
		Title:           "title",
		FirstUploadTime: now,
		UploadTime:      now,
		Content:         "{}",
		Status:          copilot.StatusPublic,
		CommentStatus:   copilot.CommentsEnabled,
	}
	require.NoError(t, s.Insert(context.Background(), c))
	return c
}

func TestCopilotLifecycle(t *testing.T) {
	s := skipIfNoPostgres(t)
	ctx := context.Background()
	c := seed(t, s, 1, "u1", 0, "塞雷娅", "能天使")

	got, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"塞雷娅", "能天使"}, got.Operators)
	assert.Equal(t, "u1", got.UploaderID)

	c.Title = "new"
	c.Operators = []string{"银灰"}
	c.Views = 99
	require.NoError(t, s.Update(ctx, c))
	got, err = s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Title)
	assert.Equal(t, []string{"银灰"}, got.Operators)
	assert.Zero(t, got.Views, "update must not touch counters")

	require.NoError(t, s.SoftDelete(ctx, 1, time.Now()))
	_, err = s.Get(ctx, 1)
	assert.True(t, errors.Is(err, apperrors.ErrCopilotNotFound))
	assert.True(t, errors.Is(s.SoftDelete(ctx, 1, time.Now()), apperrors.ErrCopilotNotFound))

	maxID, err := s.MaxID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), maxID)
}

func TestQueryOrdersAndFilters(t *testing.T) {
	s := skipIfNoPostgres(t)
	ctx := context.Background()
	seed(t, s, 1, "u1", 5, "塞雷娅")
	seed(t, s, 2, "u2", 9, "塞雷娅", "乌尔比安")
	seed(t, s, 3, "u1", 5, "能天使")
	seed(t, s, 4, "u1", 7, "塞雷娅")

	res, err := s.Query(ctx, store.Query{
		Filter: filter.And{
			filter.Equals{Field: filter.FieldDeleted, Value: false},
			filter.HasOperator{Names: []string{"塞雷娅"}},
			filter.Not{Expr: filter.HasOperator{Names: []string{"乌尔比安"}}},
		},
		Order: copilot.OrderHot,
		Desc:  true,
		Limit: 10,
		Count: true,
	})
	require.NoError(t, err)
	ids := make([]int64, len(res.Rows))
	for i, c := range res.Rows {
		ids[i] = c.ID
	}
	assert.Equal(t, []int64{4, 1}, ids)
	assert.True(t, res.Counted)
	assert.Equal(t, int64(2), res.Total)

	res, err = s.Query(ctx, store.Query{
		Filter: filter.UploaderIn([]string{"u1"}),
		Order:  copilot.OrderHot,
		Desc:   true,
		Offset: 1,
		Limit:  1,
	})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, int64(3), res.Rows[0].ID, "ties on hot score break by id in the same direction")
}

func TestCountersAndBatches(t *testing.T) {
	s := skipIfNoPostgres(t)
	ctx := context.Background()
	seed(t, s, 1, "u1", 0)
	seed(t, s, 2, "u1", 0)

	require.NoError(t, s.IncrementViews(ctx, map[int64]int64{1: 3, 2: 1}))
	require.NoError(t, s.BatchUpdateHotScore(ctx, map[int64]float64{1: 1.5, 2: 2.5}))

	recs, err := s.FindByIDs(ctx, []int64{1, 2})
	require.NoError(t, err)
	byID := map[int64]*copilot.Copilot{}
	for _, c := range recs {
		byID[c.ID] = c
	}
	assert.Equal(t, int64(3), byID[1].Views)
	assert.Equal(t, 2.5, byID[2].HotScore)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ApplyRatingDelta(ctx, 1, 1, 0)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	c, err := s.ApplyRatingDelta(ctx, 1, -1, -5)
	require.NoError(t, err)
	assert.Equal(t, int64(19), c.LikeCount)
	assert.Equal(t, int64(0), c.DislikeCount)
	assert.Equal(t, 10, c.RatingLevel)

	var after []int64
	require.NoError(t, s.EachNotDeleted(ctx, func(c *copilot.Copilot) error {
		after = append(after, c.ID)
		return nil
	}))
	assert.Equal(t, []int64{1, 2}, after)
}

func TestRatingsAndDirectory(t *testing.T) {
	s := skipIfNoPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	r, err := s.GetRating(ctx, copilot.KeyCopilot, "1", "u1")
	require.NoError(t, err)
	assert.Nil(t, r)

	require.NoError(t, s.UpsertRating(ctx, copilot.Rating{Type: copilot.KeyCopilot, Key: "1", UserID: "u1", Rating: copilot.RatingLike, RateTime: now}))
	require.NoError(t, s.UpsertRating(ctx, copilot.Rating{Type: copilot.KeyCopilot, Key: "1", UserID: "u2", Rating: copilot.RatingLike, RateTime: now}))
	require.NoError(t, s.UpsertRating(ctx, copilot.Rating{Type: copilot.KeyCopilot, Key: "1", UserID: "u2", Rating: copilot.RatingDislike, RateTime: now}))
	require.NoError(t, s.UpsertRating(ctx, copilot.Rating{Type: copilot.KeyComment, Key: "1", UserID: "u3", Rating: copilot.RatingLike, RateTime: now}))

	r, err = s.GetRating(ctx, copilot.KeyCopilot, "1", "u2")
	require.NoError(t, err)
	assert.Equal(t, copilot.RatingDislike, r.Rating)

	likes, err := s.CountRatings(ctx, copilot.KeyCopilot, []string{"1", "2"}, copilot.RatingLike, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"1": 1}, likes)

	_, err = s.db.DB.ExecContext(ctx, `
		INSERT INTO users (user_id, user_name) VALUES ('u1', 'Alice'), ('u2', 'Bob');
		INSERT INTO user_follows (follower_id, followee_id) VALUES ('u1', 'u2');
		INSERT INTO comments (comment_id, copilot_id, "delete") VALUES (1, 7, FALSE), (2, 7, FALSE), (3, 7, TRUE);
		INSERT INTO stages (stage_id, level_id, name, open) VALUES ('main_01-07', 'obt/main/level_main_01-07', '1-7', TRUE);
	`)
	require.NoError(t, err)

	names, err := s.UserNames(ctx, []string{"u1", "u2", "ghost"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"u1": "Alice", "u2": "Bob"}, names)

	following, err := s.FollowingIDs(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, following)

	counts, err := s.CountComments(ctx, []int64{7, 8})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{7: 2}, counts)

	stages, err := s.StageIDsByKeyword(ctx, "01-07")
	require.NoError(t, err)
	assert.Equal(t, []string{"main_01-07"}, stages)

	st, err := s.ResolveStage(ctx, "obt/main/level_main_01-07")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "main_01-07", st.StageID)

	st, err = s.ResolveStage(ctx, "unknown")
	require.NoError(t, err)
	assert.Nil(t, st)
}
