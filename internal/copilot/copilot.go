// Package copilot defines the record model shared by every layer: the stored
// Copilot row, ratings, the hydrated Info returned to callers and the page
// envelope around it.
package copilot

import (
	"math"
	"time"
)

// DefaultKindSeed is the id every kind starts from when storage is empty.
const DefaultKindSeed int64 = 20000

type Status string

const (
	StatusPublic  Status = "PUBLIC"
	StatusPrivate Status = "PRIVATE"
)

// ParseStatus maps an empty or unknown value to PUBLIC.
func ParseStatus(s string) Status {
	if Status(s) == StatusPrivate {
		return StatusPrivate
	}
	return StatusPublic
}

type CommentStatus string

const (
	CommentsEnabled  CommentStatus = "ENABLED"
	CommentsDisabled CommentStatus = "DISABLED"
)

// Copilot is one stored record.
type Copilot struct {
	ID              int64
	StageName       string
	UploaderID      string
	Views           int64
	RatingLevel     int
	RatingRatio     float64
	LikeCount       int64
	DislikeCount    int64
	HotScore        float64
	Operators       []string
	Title           string
	Details         string
	FirstUploadTime time.Time
	UploadTime      time.Time
	Content         string
	Status          Status
	CommentStatus   CommentStatus
	Deleted         bool
	DeleteTime      *time.Time
	Notification    bool
}

// Texts returns the fields the segment index is built from.
func (c *Copilot) Texts() []string {
	return []string{c.Title, c.Details}
}

// RatingLevel returns the 0..10 level and its ratio for the given counters.
// Counters below zero are treated as zero.
func RatingLevel(likes, dislikes int64) (level int, ratio float64) {
	likes = max(likes, 0)
	dislikes = max(dislikes, 0)
	total := likes + dislikes
	if total == 0 {
		return 0, 0
	}
	level = int(math.Floor(float64(likes)/float64(total)*10 + 0.5))
	return level, float64(level) / 10
}

// ApplyRatingDelta moves the like and dislike counters by the given deltas,
// clamps both at zero and recomputes the derived level.
func (c *Copilot) ApplyRatingDelta(likeDelta, dislikeDelta int64) {
	c.LikeCount = max(c.LikeCount+likeDelta, 0)
	c.DislikeCount = max(c.DislikeCount+dislikeDelta, 0)
	c.RatingLevel, c.RatingRatio = RatingLevel(c.LikeCount, c.DislikeCount)
}
