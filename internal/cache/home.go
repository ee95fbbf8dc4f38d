package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/copilot"
)

// HomePages caches the first pages of the unfiltered listings for a fixed
// set of named orderings. Every cached page also records its record ids in
// a per-ordering set so a record leaving public view only evicts the
// orderings that actually show it.
type HomePages struct {
	layer   *Layer
	ttls    map[string]time.Duration
	maxPage int
	logger  *slog.Logger
}

func NewHomePages(l *Layer, orderings map[string]time.Duration, maxPage int) *HomePages {
	ttls := make(map[string]time.Duration, len(orderings))
	for name, ttl := range orderings {
		ttls[name] = ttl
	}
	return &HomePages{
		layer:   l,
		ttls:    ttls,
		maxPage: maxPage,
		logger:  slog.Default().With("component", "home-pages"),
	}
}

func PageKey(order, fingerprint string) string {
	return fmt.Sprintf("home:%s:%s", order, fingerprint)
}

func TrackedSetKey(order string) string {
	return fmt.Sprintf("home:%s:copilotIds", order)
}

func OrderingPattern(order string) string {
	return fmt.Sprintf("home:%s:*", order)
}

// Fingerprint hashes the canonical form of a request into a short key part.
func Fingerprint(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return fmt.Sprintf("%x", sum[:16])
}

// Cacheable reports whether order is a named ordering and page is shallow
// enough to be cached.
func (h *HomePages) Cacheable(order string, page int) bool {
	_, ok := h.ttls[order]
	return ok && page <= h.maxPage
}

// Orderings returns the named orderings in a stable order.
func (h *HomePages) Orderings() []string {
	out := make([]string, 0, len(h.ttls))
	for name := range h.ttls {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// GetOrCompute serves a home page from cache or computes it, tracking the
// page's record ids before storing the page.
func (h *HomePages) GetOrCompute(ctx context.Context, order, fingerprint string, compute func(ctx context.Context) (*copilot.Page, error)) (*copilot.Page, bool, error) {
	ttl, ok := h.ttls[order]
	if !ok {
		p, err := compute(ctx)
		return p, false, err
	}
	return GetOrCompute(ctx, h.layer, PageKey(order, fingerprint), ttl, func(ctx context.Context) (*copilot.Page, error) {
		p, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		members := make([]string, 0, len(p.Data))
		for _, info := range p.Data {
			members = append(members, strconv.FormatInt(info.ID, 10))
		}
		h.layer.AddToSet(ctx, TrackedSetKey(order), ttl, members...)
		return p, nil
	})
}

// InvalidateRecord evicts every ordering whose tracked set contains id and
// returns those orderings. An unreachable store is treated as membership.
func (h *HomePages) InvalidateRecord(ctx context.Context, id int64) []string {
	member := strconv.FormatInt(id, 10)
	var evicted []string
	for _, order := range h.Orderings() {
		in, err := h.layer.IsMember(ctx, TrackedSetKey(order), member)
		if err == nil && !in {
			continue
		}
		h.layer.RemoveByPattern(OrderingPattern(order))
		evicted = append(evicted, order)
	}
	if len(evicted) > 0 {
		h.logger.Info("home pages invalidated", "copilot_id", id, "orderings", evicted)
	}
	return evicted
}

// InvalidateOrdering evicts one ordering in the background.
func (h *HomePages) InvalidateOrdering(order string) error {
	if _, ok := h.ttls[order]; !ok {
		return fmt.Errorf("unknown ordering %q", order)
	}
	h.layer.RemoveByPattern(OrderingPattern(order))
	return nil
}

// SyncInvalidateOrdering evicts one ordering and waits for it.
func (h *HomePages) SyncInvalidateOrdering(ctx context.Context, order string) (int64, error) {
	return h.layer.SyncRemoveByPattern(ctx, OrderingPattern(order))
}
