// Package copilots owns the record lifecycle: upload, edit, delete, detail
// view and rating. Every write keeps the segment index, the caches and the
// other instances' indexes in step with storage.
package copilots

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/copilot"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/events"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/idgen"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/paginate"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/ranking"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/rating"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/views"
	apperrors "github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/errors"
)

// IDKind is the id allocator kind records are numbered under.
const IDKind = "copilot"

// InfoKey caches a record for the detail view.
func InfoKey(id int64) string {
	return "copilot:info:" + strconv.FormatInt(id, 10)
}

// Indexer is the write side of the segment index.
type Indexer interface {
	Add(id int64, texts ...string)
	Remove(id int64, texts ...string)
	Replace(id int64, oldTexts, newTexts []string)
}

// Notifier fans record changes out to other instances.
type Notifier interface {
	Notify(ctx context.Context, ch events.Change)
}

// Deps are the collaborators of a Service. Notifier may be nil.
type Deps struct {
	Copilots  store.CopilotStore
	Stages    store.StageCatalog
	Ratings   *rating.Service
	Index     Indexer
	IDs       *idgen.Allocator
	Cache     *cache.Layer
	Home      *cache.HomePages
	Assembler *paginate.Assembler
	Views     *views.Counter
	Tracker   *ranking.Tracker
	Notifier  Notifier
	ByIDTTL   time.Duration
}

type Service struct {
	Deps
	now    func() time.Time
	logger *slog.Logger
}

func NewService(d Deps) *Service {
	return &Service{
		Deps:   d,
		now:    time.Now,
		logger: slog.Default().With("component", "copilots"),
	}
}

func (s *Service) notify(ctx context.Context, ch events.Change) {
	if s.Notifier != nil {
		s.Notifier.Notify(ctx, ch)
	}
}

// parse decodes an uploaded payload and resolves its stage reference to the
// catalog's stage id when the catalog knows it.
func (s *Service) parse(ctx context.Context, raw string) (*copilot.Content, string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, "", apperrors.Invalid("content is required")
	}
	content, err := copilot.ParseContent(raw)
	if err != nil {
		return nil, "", apperrors.Invalid("%v", err)
	}
	stageName := content.StageName
	stage, err := s.Stages.ResolveStage(ctx, stageName)
	if err != nil {
		return nil, "", fmt.Errorf("resolving stage %q: %w", stageName, err)
	}
	if stage != nil {
		stageName = stage.StageID
	}
	return content, stageName, nil
}

// Upload stores a new record for uploaderID and returns its id.
func (s *Service) Upload(ctx context.Context, uploaderID, raw string, status copilot.Status) (int64, error) {
	content, stageName, err := s.parse(ctx, raw)
	if err != nil {
		return 0, err
	}
	now := s.now()
	c := &copilot.Copilot{
		StageName:       stageName,
		UploaderID:      uploaderID,
		Operators:       content.OperatorNames(),
		Title:           content.Title(),
		Details:         content.Details(),
		FirstUploadTime: now,
		UploadTime:      now,
		Content:         raw,
		Status:          status,
		CommentStatus:   copilot.CommentsEnabled,
	}
	if err := s.insert(ctx, c); err != nil {
		return 0, err
	}
	id := c.ID
	s.Index.Add(id, c.Texts()...)
	s.notify(ctx, events.Change{Op: events.OpUpsert, ID: id, NewTexts: c.Texts()})
	s.logger.Info("copilot uploaded", "copilot_id", id, "uploader_id", uploaderID, "stage", stageName)
	return id, nil
}

// insert assigns c a fresh id and stores it. A taken id means the shared
// counter restarted below the stored maximum, so the floor is reloaded and
// the insert tried once more.
func (s *Service) insert(ctx context.Context, c *copilot.Copilot) error {
	for attempt := 0; ; attempt++ {
		id, err := s.IDs.Next(ctx, IDKind)
		if err != nil {
			return fmt.Errorf("allocating copilot id: %w", err)
		}
		c.ID = id
		err = s.Copilots.Insert(ctx, c)
		if err == nil {
			return nil
		}
		if attempt > 0 || !errors.Is(err, store.ErrDuplicateID) {
			return fmt.Errorf("inserting copilot %d: %w", id, err)
		}
		s.logger.Warn("allocated copilot id already taken, reseeding", "copilot_id", id)
		if err := s.IDs.Reseed(ctx, IDKind); err != nil {
			return fmt.Errorf("reseeding copilot ids: %w", err)
		}
	}
}

// owned loads a live record and checks that userID uploaded it.
func (s *Service) owned(ctx context.Context, userID string, id int64) (*copilot.Copilot, error) {
	c, err := s.Copilots.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.UploaderID != userID {
		return nil, apperrors.Newf(apperrors.ErrForbidden, http.StatusForbidden, "copilot %d belongs to another user", id)
	}
	return c, nil
}

// Update replaces the payload of a record. A record going from public to
// private is evicted from the cached listings that show it.
func (s *Service) Update(ctx context.Context, userID string, id int64, raw string, status copilot.Status) error {
	c, err := s.owned(ctx, userID, id)
	if err != nil {
		return err
	}
	content, stageName, err := s.parse(ctx, raw)
	if err != nil {
		return err
	}
	oldTexts := c.Texts()
	hidden := c.Status == copilot.StatusPublic && status == copilot.StatusPrivate

	c.StageName = stageName
	if title := content.Title(); title != "" {
		c.Title = title
	}
	if details := content.Details(); details != "" {
		c.Details = details
	}
	c.Operators = content.OperatorNames()
	c.Content = raw
	c.Status = status
	c.UploadTime = s.now()
	if err := s.Copilots.Update(ctx, c); err != nil {
		return fmt.Errorf("updating copilot %d: %w", id, err)
	}

	s.Index.Replace(id, oldTexts, c.Texts())
	s.Cache.Remove(ctx, InfoKey(id))
	if hidden {
		s.Home.InvalidateRecord(ctx, id)
	}
	s.notify(ctx, events.Change{Op: events.OpUpsert, ID: id, OldTexts: oldTexts, NewTexts: c.Texts()})
	s.logger.Info("copilot updated", "copilot_id", id, "status", status)
	return nil
}

// Delete soft-deletes a record.
func (s *Service) Delete(ctx context.Context, userID string, id int64) error {
	c, err := s.owned(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.Copilots.SoftDelete(ctx, id, s.now()); err != nil {
		return fmt.Errorf("deleting copilot %d: %w", id, err)
	}
	s.Index.Remove(id, c.Texts()...)
	s.Cache.Remove(ctx, InfoKey(id))
	s.Home.InvalidateRecord(ctx, id)
	s.notify(ctx, events.Change{Op: events.OpDelete, ID: id, OldTexts: c.Texts()})
	s.logger.Info("copilot deleted", "copilot_id", id)
	return nil
}

// SetCommentStatus opens or closes a record's comment area.
func (s *Service) SetCommentStatus(ctx context.Context, userID string, id int64, status copilot.CommentStatus) error {
	return s.edit(ctx, userID, id, func(c *copilot.Copilot) { c.CommentStatus = status })
}

// SetNotification toggles reply notifications for a record.
func (s *Service) SetNotification(ctx context.Context, userID string, id int64, on bool) error {
	return s.edit(ctx, userID, id, func(c *copilot.Copilot) { c.Notification = on })
}

func (s *Service) edit(ctx context.Context, userID string, id int64, fn func(*copilot.Copilot)) error {
	c, err := s.owned(ctx, userID, id)
	if err != nil {
		return err
	}
	fn(c)
	if err := s.Copilots.Update(ctx, c); err != nil {
		return fmt.Errorf("updating copilot %d: %w", id, err)
	}
	s.Cache.Remove(ctx, InfoKey(id))
	return nil
}

// Get returns the detail view of a record for visitor, a user id or client
// address, and counts the visit.
func (s *Service) Get(ctx context.Context, id int64, visitor string) (copilot.Info, error) {
	c, _, err := cache.GetOrCompute(ctx, s.Cache, InfoKey(id), s.ByIDTTL, func(ctx context.Context) (*copilot.Copilot, error) {
		return s.Copilots.Get(ctx, id)
	})
	if err != nil {
		return copilot.Info{}, err
	}
	info, err := s.Assembler.Detail(ctx, c)
	if err != nil {
		return copilot.Info{}, err
	}
	own, err := s.Ratings.Own(ctx, id, visitor)
	if err != nil {
		return copilot.Info{}, fmt.Errorf("loading own rating of %d: %w", id, err)
	}
	info.RatingType = own
	if s.Views.Visit(ctx, id, visitor) {
		info.Views++
	}
	return info, nil
}

// Rate sets rater's rating of a record, moves its counters by the change and
// marks it for the next incremental hot-score refresh.
func (s *Service) Rate(ctx context.Context, raterID string, id int64, r copilot.RatingType) error {
	if _, err := s.Copilots.Get(ctx, id); err != nil {
		return err
	}
	change, err := s.Ratings.Rate(ctx, copilot.KeyCopilot, copilot.RatingKey(id), raterID, r)
	if err != nil {
		return err
	}
	if !change.Unchanged() {
		like, dislike := change.Deltas()
		if _, err := s.Copilots.ApplyRatingDelta(ctx, id, like, dislike); err != nil {
			return fmt.Errorf("applying rating to copilot %d: %w", id, err)
		}
		s.Cache.Remove(ctx, InfoKey(id))
	}
	s.Tracker.Record(ctx, id)
	return nil
}

// RecordRatingEvent rates any subject kind. Only record ratings touch
// counters and ranking; other kinds only keep the rating row.
func (s *Service) RecordRatingEvent(ctx context.Context, kind copilot.KeyType, subjectID, raterID string, r copilot.RatingType) error {
	if kind == copilot.KeyCopilot {
		id, err := strconv.ParseInt(subjectID, 10, 64)
		if err != nil {
			return apperrors.Invalid("copilot id %q is not a number", subjectID)
		}
		return s.Rate(ctx, raterID, id, r)
	}
	_, err := s.Ratings.Rate(ctx, kind, subjectID, raterID, r)
	return err
}
