package copilot

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type RatingType string

const (
	RatingNone    RatingType = "None"
	RatingLike    RatingType = "Like"
	RatingDislike RatingType = "Dislike"
)

// ParseRatingType accepts the display names case-insensitively.
func ParseRatingType(s string) (RatingType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "like":
		return RatingLike, nil
	case "dislike":
		return RatingDislike, nil
	case "none", "":
		return RatingNone, nil
	}
	return RatingNone, fmt.Errorf("unknown rating %q", s)
}

// KeyType is the kind of subject a rating belongs to.
type KeyType string

const (
	KeyCopilot KeyType = "COPILOT"
	KeyComment KeyType = "COMMENT"
)

// Rating is the single rating one user holds on one subject.
type Rating struct {
	Type     KeyType
	Key      string
	UserID   string
	Rating   RatingType
	RateTime time.Time
}

// RatingKey formats a record id as the key ratings are stored under.
func RatingKey(id int64) string {
	return strconv.FormatInt(id, 10)
}
