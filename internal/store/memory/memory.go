// Package memory implements every storage collaborator in process. Records
// are copied on the way in and out so callers never share state with the
// store.
package memory

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/copilot"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/filter"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/errors"
)

type ratingKey struct {
	kind copilot.KeyType
	key  string
	user string
}

// Store is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	copilots  map[int64]*copilot.Copilot
	ratings   map[ratingKey]copilot.Rating
	following map[string][]string
	users     map[string]string
	comments  map[int64]int64
	stages    []store.Stage
}

var (
	_ store.CopilotStore   = (*Store)(nil)
	_ store.RatingStore    = (*Store)(nil)
	_ store.FollowGraph    = (*Store)(nil)
	_ store.UserDirectory  = (*Store)(nil)
	_ store.CommentCounter = (*Store)(nil)
	_ store.StageCatalog   = (*Store)(nil)
)

func New() *Store {
	return &Store{
		copilots:  make(map[int64]*copilot.Copilot),
		ratings:   make(map[ratingKey]copilot.Rating),
		following: make(map[string][]string),
		users:     make(map[string]string),
		comments:  make(map[int64]int64),
	}
}

func clone(c *copilot.Copilot) *copilot.Copilot {
	out := *c
	out.Operators = append([]string(nil), c.Operators...)
	if c.DeleteTime != nil {
		t := *c.DeleteTime
		out.DeleteTime = &t
	}
	return &out
}

func notFound(id int64) error {
	return apperrors.Newf(apperrors.ErrCopilotNotFound, http.StatusNotFound, "copilot %d does not exist", id)
}

// PutUser registers a display name.
func (s *Store) PutUser(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = name
}

// Follow records that follower follows followee.
func (s *Store) Follow(follower, followee string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.following[follower] = append(s.following[follower], followee)
}

func (s *Store) SetCommentCount(id, n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments[id] = n
}

func (s *Store) PutStage(st store.Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages = append(s.stages, st)
}

func (s *Store) EachNotDeleted(ctx context.Context, fn func(*copilot.Copilot) error) error {
	s.mu.RLock()
	live := make([]*copilot.Copilot, 0, len(s.copilots))
	for _, c := range s.copilots {
		if !c.Deleted {
			live = append(live, clone(c))
		}
	}
	s.mu.RUnlock()
	sort.Slice(live, func(i, j int) bool { return live[i].ID < live[j].ID })
	for _, c := range live {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) PageAfter(ctx context.Context, afterID int64, limit int) ([]*copilot.Copilot, error) {
	res, err := s.Query(ctx, store.Query{
		Filter: filter.Equals{Field: filter.FieldDeleted, Value: false},
		Order:  copilot.OrderID,
		Limit:  -1,
	})
	if err != nil {
		return nil, err
	}
	out := make([]*copilot.Copilot, 0, limit)
	for _, c := range res.Rows {
		if c.ID <= afterID {
			continue
		}
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) FindByIDs(_ context.Context, ids []int64) ([]*copilot.Copilot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*copilot.Copilot, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.copilots[id]; ok && !c.Deleted {
			out = append(out, clone(c))
		}
	}
	return out, nil
}

func (s *Store) Get(_ context.Context, id int64) (*copilot.Copilot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.copilots[id]
	if !ok || c.Deleted {
		return nil, notFound(id)
	}
	return clone(c), nil
}

// Query evaluates q.Filter in memory. A negative Limit means unlimited.
func (s *Store) Query(ctx context.Context, q store.Query) (store.Result, error) {
	if err := ctx.Err(); err != nil {
		return store.Result{}, err
	}
	s.mu.RLock()
	matched := make([]*copilot.Copilot, 0)
	for _, c := range s.copilots {
		if filter.Match(q.Filter, c) {
			matched = append(matched, clone(c))
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		var less, equal bool
		switch q.Order {
		case copilot.OrderHot:
			less, equal = a.HotScore < b.HotScore, a.HotScore == b.HotScore
		case copilot.OrderViews:
			less, equal = a.Views < b.Views, a.Views == b.Views
		}
		if equal || q.Order == copilot.OrderID || q.Order == "" {
			less = a.ID < b.ID
		}
		if q.Desc {
			return !less && (a.ID != b.ID)
		}
		return less
	})

	res := store.Result{}
	if q.Count {
		res.Total = int64(len(matched))
		res.Counted = true
	}
	q.Offset = max(q.Offset, 0)
	if q.Offset >= len(matched) {
		res.Rows = []*copilot.Copilot{}
		return res, nil
	}
	matched = matched[q.Offset:]
	if q.Limit >= 0 && q.Limit < len(matched) {
		matched = matched[:q.Limit]
	}
	res.Rows = matched
	return res, nil
}

func (s *Store) Insert(_ context.Context, c *copilot.Copilot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.copilots[c.ID]; exists {
		return fmt.Errorf("copilot %d: %w", c.ID, store.ErrDuplicateID)
	}
	s.copilots[c.ID] = clone(c)
	return nil
}

func (s *Store) Update(_ context.Context, c *copilot.Copilot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.copilots[c.ID]
	if !ok || cur.Deleted {
		return notFound(c.ID)
	}
	next := clone(c)
	// counters are owned by their dedicated write paths
	next.Views = cur.Views
	next.LikeCount, next.DislikeCount = cur.LikeCount, cur.DislikeCount
	next.RatingLevel, next.RatingRatio = cur.RatingLevel, cur.RatingRatio
	next.HotScore = cur.HotScore
	s.copilots[c.ID] = next
	return nil
}

func (s *Store) SoftDelete(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.copilots[id]
	if !ok || c.Deleted {
		return notFound(id)
	}
	c.Deleted = true
	c.DeleteTime = &at
	return nil
}

func (s *Store) BatchUpdateHotScore(_ context.Context, scores map[int64]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, score := range scores {
		if c, ok := s.copilots[id]; ok {
			c.HotScore = score
		}
	}
	return nil
}

func (s *Store) IncrementViews(_ context.Context, deltas map[int64]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, d := range deltas {
		if c, ok := s.copilots[id]; ok && !c.Deleted {
			c.Views += d
		}
	}
	return nil
}

func (s *Store) ApplyRatingDelta(_ context.Context, id int64, likeDelta, dislikeDelta int64) (*copilot.Copilot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.copilots[id]
	if !ok || c.Deleted {
		return nil, notFound(id)
	}
	c.ApplyRatingDelta(likeDelta, dislikeDelta)
	return clone(c), nil
}

func (s *Store) MaxID(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var maxID int64
	for id := range s.copilots {
		maxID = max(maxID, id)
	}
	return maxID, nil
}

func (s *Store) GetRating(_ context.Context, kind copilot.KeyType, key, userID string) (*copilot.Rating, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.ratings[ratingKey{kind: kind, key: key, user: userID}]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *Store) UpsertRating(_ context.Context, r copilot.Rating) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ratings[ratingKey{kind: r.Type, key: r.Key, user: r.UserID}] = r
	return nil
}

func (s *Store) CountRatings(_ context.Context, kind copilot.KeyType, keys []string, rating copilot.RatingType, since time.Time) (map[string]int64, error) {
	want := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		want[k] = struct{}{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64)
	for rk, r := range s.ratings {
		if rk.kind != kind || r.Rating != rating || r.RateTime.Before(since) {
			continue
		}
		if _, ok := want[rk.key]; ok {
			out[rk.key]++
		}
	}
	return out, nil
}

func (s *Store) FollowingIDs(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.following[userID]...), nil
}

func (s *Store) UserNames(_ context.Context, userIDs []string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(userIDs))
	for _, id := range userIDs {
		if name, ok := s.users[id]; ok {
			out[id] = name
		}
	}
	return out, nil
}

func (s *Store) CountComments(_ context.Context, copilotIDs []int64) (map[int64]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]int64, len(copilotIDs))
	for _, id := range copilotIDs {
		if n, ok := s.comments[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

func (s *Store) StageIDsByKeyword(_ context.Context, keyword string) ([]string, error) {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, st := range s.stages {
		if strings.Contains(strings.ToLower(st.StageID), keyword) ||
			strings.Contains(strings.ToLower(st.LevelID), keyword) ||
			strings.Contains(strings.ToLower(st.Name), keyword) {
			out = append(out, st.StageID)
		}
	}
	return out, nil
}

func (s *Store) ResolveStage(_ context.Context, ref string) (*store.Stage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.stages {
		if st.StageID == ref || st.LevelID == ref {
			found := st
			return &found, nil
		}
	}
	return nil, nil
}
