package copilot

import (
	"encoding/json"
	"time"
)

// Info is a record as returned to callers, with display fields resolved.
type Info struct {
	ID              int64         `json:"id"`
	UploadTime      time.Time     `json:"upload_time"`
	UploaderID      string        `json:"uploader_id"`
	Uploader        string        `json:"uploader"`
	Views           int64         `json:"views"`
	HotScore        float64       `json:"hot_score"`
	Available       bool          `json:"available"`
	RatingLevel     int           `json:"rating_level"`
	NotEnoughRating bool          `json:"not_enough_rating"`
	RatingRatio     float64       `json:"rating_ratio"`
	RatingType      RatingType    `json:"rating_type"`
	CommentsCount   int64         `json:"comments_count"`
	CommentStatus   CommentStatus `json:"comment_status"`
	Content         string        `json:"content"`
	Like            int64         `json:"like"`
	Dislike         int64         `json:"dislike"`
	Status          Status        `json:"status"`
}

// Page is one page of search results.
type Page struct {
	HasNext bool   `json:"has_next"`
	Page    int    `json:"page"`
	Total   int64  `json:"total"`
	Data    []Info `json:"data"`
}

// IDs returns the record ids on the page in order.
func (p *Page) IDs() []int64 {
	ids := make([]int64, len(p.Data))
	for i, info := range p.Data {
		ids[i] = info.ID
	}
	return ids
}

// EmptyPage is the result of a query that was short-circuited.
func EmptyPage(page int) *Page {
	return &Page{Page: page, Data: []Info{}}
}

// Format builds the caller-facing view of c. minRatings is the threshold at
// or below which the rating is flagged as not yet meaningful.
func (c *Copilot) Format(uploader string, commentsCount int64, own RatingType, minRatings int64) Info {
	if own == "" {
		own = RatingNone
	}
	return Info{
		ID:              c.ID,
		UploadTime:      c.UploadTime,
		UploaderID:      c.UploaderID,
		Uploader:        uploader,
		Views:           c.Views,
		HotScore:        c.HotScore,
		Available:       true,
		RatingLevel:     c.RatingLevel,
		NotEnoughRating: c.LikeCount+c.DislikeCount <= minRatings,
		RatingRatio:     c.RatingRatio,
		RatingType:      own,
		CommentsCount:   commentsCount,
		CommentStatus:   c.CommentStatus,
		Content:         c.Content,
		Like:            c.LikeCount,
		Dislike:         c.DislikeCount,
		Status:          c.Status,
	}
}

// listOnlyFields are dropped from content on list pages; detail views keep them.
var listOnlyFields = []string{"actions", "minimum_required", "stage_name"}

// TrimForList removes the heavy fields from a raw content payload. Content
// that is not a JSON object is returned unchanged.
func TrimForList(content string) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &obj); err != nil {
		return content
	}
	for _, f := range listOnlyFields {
		delete(obj, f)
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return content
	}
	return string(out)
}
