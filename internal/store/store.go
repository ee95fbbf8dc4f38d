// Package store declares the storage collaborators the search core depends
// on. The postgres subpackage implements them against PostgreSQL; the memory
// subpackage implements them in process for tests and local runs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/copilot"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/filter"
)

// ErrDuplicateID is returned by Insert when the id is already taken.
var ErrDuplicateID = errors.New("copilot id already taken")

// Query is one filtered, ordered page request. Ties on the order column are
// broken by id in the same direction.
type Query struct {
	Filter filter.Expr
	Order  copilot.Order
	Desc   bool
	Offset int
	Limit  int
	// Count asks for the exact number of matching rows as well.
	Count bool
}

// Result is the page of rows a Query produced. Total is only meaningful when
// Counted is true.
type Result struct {
	Rows    []*copilot.Copilot
	Total   int64
	Counted bool
}

// CopilotStore persists records. Every read except EachNotDeleted's callback
// contract excludes soft-deleted rows.
type CopilotStore interface {
	EachNotDeleted(ctx context.Context, fn func(*copilot.Copilot) error) error
	// PageAfter returns up to limit live records with id > afterID in id order.
	PageAfter(ctx context.Context, afterID int64, limit int) ([]*copilot.Copilot, error)
	FindByIDs(ctx context.Context, ids []int64) ([]*copilot.Copilot, error)
	// Get returns errors.ErrCopilotNotFound for missing or deleted ids.
	Get(ctx context.Context, id int64) (*copilot.Copilot, error)
	Query(ctx context.Context, q Query) (Result, error)
	Insert(ctx context.Context, c *copilot.Copilot) error
	Update(ctx context.Context, c *copilot.Copilot) error
	SoftDelete(ctx context.Context, id int64, at time.Time) error
	BatchUpdateHotScore(ctx context.Context, scores map[int64]float64) error
	IncrementViews(ctx context.Context, deltas map[int64]int64) error
	// ApplyRatingDelta moves both counters atomically, clamping at zero, and
	// returns the updated record.
	ApplyRatingDelta(ctx context.Context, id int64, likeDelta, dislikeDelta int64) (*copilot.Copilot, error)
	MaxID(ctx context.Context) (int64, error)
}

// RatingStore holds one rating per (kind, key, user).
type RatingStore interface {
	// GetRating returns nil without error when the user has not rated.
	GetRating(ctx context.Context, kind copilot.KeyType, key, userID string) (*copilot.Rating, error)
	UpsertRating(ctx context.Context, r copilot.Rating) error
	// CountRatings counts ratings of the given type per key since the given time.
	CountRatings(ctx context.Context, kind copilot.KeyType, keys []string, rating copilot.RatingType, since time.Time) (map[string]int64, error)
}

// FollowGraph answers who a user follows.
type FollowGraph interface {
	FollowingIDs(ctx context.Context, userID string) ([]string, error)
}

// UserDirectory resolves display names. Unknown ids are absent from the map.
type UserDirectory interface {
	UserNames(ctx context.Context, userIDs []string) (map[string]string, error)
}

// CommentCounter counts live comments per record. Records without comments
// may be absent from the map.
type CommentCounter interface {
	CountComments(ctx context.Context, copilotIDs []int64) (map[int64]int64, error)
}

// Stage is the game-data view of a stage a record targets.
type Stage struct {
	StageID   string
	LevelID   string
	Name      string
	CloseTime *time.Time
	Open      bool
}

// Closed reports whether the stage has a close time and is not open.
func (s *Stage) Closed() bool {
	return s != nil && s.CloseTime != nil && !s.Open
}

// StageCatalog looks stages up.
type StageCatalog interface {
	// StageIDsByKeyword returns the stage ids matching a free-text keyword.
	StageIDsByKeyword(ctx context.Context, keyword string) ([]string, error)
	// ResolveStage finds a stage by stage id or level id; nil when unknown.
	ResolveStage(ctx context.Context, ref string) (*Stage, error)
}
