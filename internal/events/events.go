// Package events keeps the segment indexes of several service instances in
// step. Every record change is published with the publishing instance's
// origin id; each instance consumes the topic under its own group and
// applies the changes it did not make itself. A second consumer turns game
// data sync completions into a full hot-score refresh.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/ranking"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/kafka"
)

type Op string

// OriginHeader carries the publishing instance id so consumers can drop
// their own changes without decoding them.
const OriginHeader = "origin"

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

// Change is one record's posting change.
type Change struct {
	Op       Op        `json:"op"`
	ID       int64     `json:"copilot_id"`
	OldTexts []string  `json:"old_texts,omitempty"`
	NewTexts []string  `json:"new_texts,omitempty"`
	Origin   string    `json:"origin"`
	At       time.Time `json:"at"`
}

// NewOrigin returns a fresh instance id.
func NewOrigin() string {
	return uuid.NewString()
}

// Indexer is the write side of the segment index.
type Indexer interface {
	Replace(id int64, oldTexts, newTexts []string)
	Remove(id int64, texts ...string)
}

// EventPublisher is the subset of *kafka.Producer the publisher needs.
type EventPublisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Publisher sends local changes to the record topic.
type Publisher struct {
	producer EventPublisher
	origin   string
	logger   *slog.Logger
}

func NewPublisher(producer EventPublisher, origin string) *Publisher {
	return &Publisher{
		producer: producer,
		origin:   origin,
		logger:   slog.Default().With("component", "record-events"),
	}
}

// Notify publishes ch. Publishing is best-effort: a failure leaves other
// instances stale until their next rebuild, so it is logged and dropped.
func (p *Publisher) Notify(ctx context.Context, ch Change) {
	ch.Origin = p.origin
	if ch.At.IsZero() {
		ch.At = time.Now().UTC()
	}
	err := p.producer.Publish(ctx, kafka.Event{
		Key:     strconv.FormatInt(ch.ID, 10),
		Value:   ch,
		Headers: map[string]string{OriginHeader: p.origin},
	})
	if err != nil {
		p.logger.Warn("publishing record change failed", "copilot_id", ch.ID, "op", ch.Op, "error", err)
	}
}

// Applier applies changes made by other instances to the local index.
type Applier struct {
	index  Indexer
	origin string
	logger *slog.Logger
}

func NewApplier(ix Indexer, origin string) *Applier {
	return &Applier{
		index:  ix,
		origin: origin,
		logger: slog.Default().With("component", "record-events"),
	}
}

// Handle is a kafka.MessageHandler.
func (a *Applier) Handle(_ context.Context, msg kafka.Message) error {
	if msg.Header(OriginHeader) == a.origin {
		return nil
	}
	ch, err := kafka.DecodeJSON[Change](msg.Value)
	if err != nil {
		return err
	}
	if ch.Origin == a.origin {
		return nil
	}
	switch ch.Op {
	case OpUpsert:
		a.index.Replace(ch.ID, ch.OldTexts, ch.NewTexts)
	case OpDelete:
		a.index.Remove(ch.ID, ch.OldTexts...)
	default:
		return fmt.Errorf("%w: unknown record change op %q", kafka.ErrMalformed, ch.Op)
	}
	a.logger.Debug("remote change applied", "copilot_id", ch.ID, "op", ch.Op, "origin", ch.Origin)
	return nil
}

// Refresher runs the full hot-score refresh.
type Refresher interface {
	RefreshAll(ctx context.Context) (ranking.Report, error)
}

// LevelSyncHandler returns a kafka.MessageHandler that refreshes every hot
// score once a game data sync finishes. A refresh already in flight makes
// the message a no-op.
func LevelSyncHandler(r Refresher) kafka.MessageHandler {
	logger := slog.Default().With("component", "level-sync")
	return func(ctx context.Context, msg kafka.Message) error {
		rep, err := r.RefreshAll(ctx)
		if errors.Is(err, ranking.ErrAlreadyRunning) {
			logger.Info("level sync refresh skipped, one is running", "key", string(msg.Key))
			return nil
		}
		if err != nil {
			return fmt.Errorf("refreshing hot scores after level sync: %w", err)
		}
		logger.Info("hot scores refreshed after level sync", "scored", rep.Scored, "failed", rep.Failed)
		return nil
	}
}
