// Package index holds the in-memory inverted index from token to record ids.
//
// Tokens are spread over a fixed number of buckets chosen by hash, each with
// its own RWMutex, so a write to one token only blocks readers of tokens in
// the same bucket. A single token's posting set is only ever mutated under
// its bucket's write lock, and readers receive a copy.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/copilot"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/metrics"
)

const bucketCount = 64

// Tokenizer splits text into index tokens.
type Tokenizer interface {
	Tokenize(texts ...string) []string
}

// Source streams every live record for a rebuild.
type Source interface {
	EachNotDeleted(ctx context.Context, fn func(*copilot.Copilot) error) error
}

type bucket struct {
	mu       sync.RWMutex
	postings map[string]map[int64]struct{}
}

// Index is the segment index. Construct with New and populate with Rebuild.
type Index struct {
	tok     Tokenizer
	buckets [bucketCount]bucket
	ready   atomic.Bool
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(tok Tokenizer, m *metrics.Metrics) *Index {
	ix := &Index{
		tok:     tok,
		metrics: m,
		logger:  slog.Default().With("component", "segment-index"),
	}
	for i := range ix.buckets {
		ix.buckets[i].postings = make(map[string]map[int64]struct{})
	}
	return ix
}

func (ix *Index) bucketFor(token string) *bucket {
	return &ix.buckets[xxhash.Sum64String(token)%bucketCount]
}

// Tokenize exposes the index's tokenizer so queries are cut the same way
// records were.
func (ix *Index) Tokenize(texts ...string) []string {
	return ix.tok.Tokenize(texts...)
}

// Add indexes id under every token of texts.
func (ix *Index) Add(id int64, texts ...string) {
	for _, token := range ix.tok.Tokenize(texts...) {
		b := ix.bucketFor(token)
		b.mu.Lock()
		set, ok := b.postings[token]
		if !ok {
			set = make(map[int64]struct{})
			b.postings[token] = set
		}
		set[id] = struct{}{}
		b.mu.Unlock()
	}
}

// Remove drops id from every token of texts. Tokens left without ids are
// deleted.
func (ix *Index) Remove(id int64, texts ...string) {
	for _, token := range ix.tok.Tokenize(texts...) {
		b := ix.bucketFor(token)
		b.mu.Lock()
		if set, ok := b.postings[token]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(b.postings, token)
			}
		}
		b.mu.Unlock()
	}
}

// Replace moves id from the tokens of oldTexts to the tokens of newTexts.
// It is a Remove followed by an Add and is not atomic as a whole: a reader
// running between the two may miss id on a token both texts share. Each
// token's posting set is still updated atomically.
func (ix *Index) Replace(id int64, oldTexts, newTexts []string) {
	ix.Remove(id, oldTexts...)
	ix.Add(id, newTexts...)
}

// Query returns a copy of the posting set for an already normalized token.
func (ix *Index) Query(token string) map[int64]struct{} {
	b := ix.bucketFor(token)
	b.mu.RLock()
	defer b.mu.RUnlock()
	set := b.postings[token]
	out := make(map[int64]struct{}, len(set))
	for id := range set {
		out[id] = struct{}{}
	}
	return out
}

// Len returns the number of distinct tokens.
func (ix *Index) Len() int {
	n := 0
	for i := range ix.buckets {
		b := &ix.buckets[i]
		b.mu.RLock()
		n += len(b.postings)
		b.mu.RUnlock()
	}
	return n
}

// Ready reports whether a rebuild has completed.
func (ix *Index) Ready() bool {
	return ix.ready.Load()
}

// Rebuild indexes every live record from src. Existing postings are kept, so
// writes racing with a startup rebuild are not lost. The converse also holds:
// a Replace or Remove that lands after src read a record can be undone by
// Rebuild re-adding that record's old postings, which then linger until the
// record changes again or the next rebuild. Only per-token atomicity is
// guaranteed.
func (ix *Index) Rebuild(ctx context.Context, src Source) (int, error) {
	start := time.Now()
	ix.logger.Info("segment index rebuild started")
	records := 0
	err := src.EachNotDeleted(ctx, func(c *copilot.Copilot) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		ix.Add(c.ID, c.Texts()...)
		records++
		return nil
	})
	if err != nil {
		return records, fmt.Errorf("rebuilding segment index after %d records: %w", records, err)
	}
	tokens := ix.Len()
	ix.ready.Store(true)
	ix.metrics.IndexSize(tokens)
	ix.metrics.IndexRebuilt(time.Since(start))
	ix.logger.Info("segment index rebuilt",
		"records", records,
		"tokens", tokens,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return records, nil
}
