// Package rating is the one-rating-per-user state machine shared by copilot
// and comment subjects.
package rating

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/copilot"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/store"
)

// Change is the transition one Rate call produced.
type Change struct {
	Prev copilot.RatingType
	Next copilot.RatingType
}

// Unchanged reports whether the call was a no-op.
func (c Change) Unchanged() bool {
	return c.Prev == c.Next
}

// Deltas returns how the subject's like and dislike counters move.
func (c Change) Deltas() (like, dislike int64) {
	return count(c.Next, copilot.RatingLike) - count(c.Prev, copilot.RatingLike),
		count(c.Next, copilot.RatingDislike) - count(c.Prev, copilot.RatingDislike)
}

func count(have, want copilot.RatingType) int64 {
	if have == want {
		return 1
	}
	return 0
}

type Service struct {
	ratings store.RatingStore
	now     func() time.Time
	logger  *slog.Logger
}

func NewService(ratings store.RatingStore) *Service {
	return &Service{
		ratings: ratings,
		now:     time.Now,
		logger:  slog.Default().With("component", "rating"),
	}
}

// Rate sets userID's rating of (kind, key) to next. Re-submitting the
// current rating changes nothing, including its timestamp.
func (s *Service) Rate(ctx context.Context, kind copilot.KeyType, key, userID string, next copilot.RatingType) (Change, error) {
	cur, err := s.ratings.GetRating(ctx, kind, key, userID)
	if err != nil {
		return Change{}, fmt.Errorf("loading rating of %s %s by %s: %w", kind, key, userID, err)
	}
	prev := copilot.RatingNone
	if cur != nil {
		prev = cur.Rating
	}
	change := Change{Prev: prev, Next: next}
	if change.Unchanged() && cur != nil {
		return change, nil
	}
	err = s.ratings.UpsertRating(ctx, copilot.Rating{
		Type:     kind,
		Key:      key,
		UserID:   userID,
		Rating:   next,
		RateTime: s.now(),
	})
	if err != nil {
		return Change{}, fmt.Errorf("saving rating of %s %s by %s: %w", kind, key, userID, err)
	}
	s.logger.Debug("rating changed", "kind", kind, "key", key, "prev", prev, "next", next)
	return change, nil
}

// Own returns userID's rating of a copilot, RatingNone when absent.
func (s *Service) Own(ctx context.Context, copilotID int64, userID string) (copilot.RatingType, error) {
	r, err := s.ratings.GetRating(ctx, copilot.KeyCopilot, copilot.RatingKey(copilotID), userID)
	if err != nil {
		return copilot.RatingNone, err
	}
	if r == nil {
		return copilot.RatingNone, nil
	}
	return r.Rating, nil
}
