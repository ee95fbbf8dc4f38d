// Package ranking computes and refreshes the hot score records are ordered
// by. The score decays with weeks since the last upload, grows with views
// and recent rating volume, and is diluted for poorly received records.
package ranking

import (
	"math"
	"time"

	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/copilot"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/store"
)

const (
	week = 7 * 24 * time.Hour

	baseScore = 6.0
	// closedStageDivisor demotes records written for stages no longer open.
	closedStageDivisor = 100.0
)

// HotScore scores c at now given its like and dislike counts in the recent
// rating window.
func HotScore(now time.Time, c *copilot.Copilot, recentLikes, recentDislikes int64) float64 {
	weeks := int64(now.Sub(c.UploadTime) / week)
	if weeks < 0 {
		weeks = 0
	}
	pastedWeeks := float64(weeks + 1)
	base := baseScore / math.Log(pastedWeeks+1)

	ups := max(recentLikes, 1)
	downs := max(recentDislikes, 0)
	greatRate := float64(ups) / float64(ups+downs)
	if ups+downs >= 5 && downs >= ups {
		base *= greatRate
	}

	s := greatRate * (float64(c.Views) / 10) * math.Max(float64(ups+downs)/10, 1) / pastedWeeks
	return math.Log(math.Max(s, 1)) + s/1000 + base
}

// Demote divides score when the record's stage is closed and the record was
// first uploaded before it closed.
func Demote(score float64, stage *store.Stage, firstUpload time.Time) float64 {
	if stage.Closed() && firstUpload.Before(*stage.CloseTime) {
		return score / closedStageDivisor
	}
	return score
}
