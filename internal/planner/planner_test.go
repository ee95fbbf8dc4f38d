package planner

import (
	"context"
	"math"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/copilot"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/filter"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/store/memory"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/errors"
)

type wordTokenizer struct{}

func (wordTokenizer) Tokenize(texts ...string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, t := range texts {
		for _, f := range strings.Fields(strings.ToLower(t)) {
			if _, ok := seen[f]; !ok {
				seen[f] = struct{}{}
				out = append(out, f)
			}
		}
	}
	sort.Strings(out)
	return out
}

func newPlanner(t *testing.T) (*Planner, *index.Index, *memory.Store) {
	t.Helper()
	ix := index.New(wordTokenizer{}, nil)
	mem := memory.New()
	return New(ix, mem, mem, config.Default().Search), ix, mem
}

func conds(t *testing.T, p *Plan) filter.And {
	t.Helper()
	and, ok := p.Query.Filter.(filter.And)
	require.True(t, ok, "filter is %T", p.Query.Filter)
	return and
}

func find[T filter.Expr](and filter.And) (T, bool) {
	for _, e := range and {
		if v, ok := e.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

func TestNormalize(t *testing.T) {
	p, _, _ := newPlanner(t)
	req := p.Normalize(Request{Page: -1, Limit: 1000, Keyword: "  x  "})
	assert.Equal(t, 1, req.Page)
	assert.Equal(t, 100, req.Limit)
	assert.Equal(t, "x", req.Keyword)

	req = p.Normalize(Request{})
	assert.Equal(t, 10, req.Limit)
}

func TestDeepPagesAreRejected(t *testing.T) {
	p, _, mem := newPlanner(t)
	ctx := context.Background()

	_, err := p.Plan(ctx, Request{Page: math.MaxInt64/10 + 2, Limit: 10}, "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Equal(t, 400, apperrors.HTTPStatusCode(err))

	_, err = p.Plan(ctx, Request{Page: math.MaxInt64, Limit: 1}, "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	plan, err := p.Plan(ctx, Request{Page: maxOffset/10 + 1, Limit: 10}, "")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, plan.Query.Offset, 0)
	res, err := mem.Query(ctx, plan.Query)
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
}

func TestStageCodeKeyword(t *testing.T) {
	tok, err := tokenizer.New(config.SegmentConfig{Enabled: false, MinTokenLength: 2})
	require.NoError(t, err)
	ix := index.New(tok, nil)
	mem := memory.New()
	p := New(ix, mem, mem, config.Default().Search)
	ix.Add(1, "塞雷娅 1-7 solo")
	ix.Add(2, "1-8 solo")
	ix.Add(3, "h12-4 low level")
	ctx := context.Background()

	plan, err := p.Plan(ctx, Request{Keyword: "1-7"}, "")
	require.NoError(t, err)
	require.False(t, plan.Empty)
	in, ok := find[filter.In](conds(t, plan))
	require.True(t, ok)
	assert.Equal(t, filter.IDIn([]int64{1}), in)

	plan, err = p.Plan(ctx, Request{Keyword: "H12-4"}, "")
	require.NoError(t, err)
	in, ok = find[filter.In](conds(t, plan))
	require.True(t, ok)
	assert.Equal(t, filter.IDIn([]int64{3}), in)

	plan, err = p.Plan(ctx, Request{Keyword: "1-9"}, "")
	require.NoError(t, err)
	assert.True(t, plan.Empty, "an unknown stage code matches nothing")
}

func TestHomeListing(t *testing.T) {
	p, _, _ := newPlanner(t)
	ctx := context.Background()

	plan, err := p.Plan(ctx, Request{OrderBy: "hot", Desc: true, Page: 2, Limit: 10}, "")
	require.NoError(t, err)
	assert.True(t, plan.Home)
	assert.NotEmpty(t, plan.Fingerprint)
	assert.Equal(t, copilot.OrderHot, plan.Query.Order)
	assert.Equal(t, 10, plan.Query.Offset)
	assert.False(t, plan.Exact)

	plan, err = p.Plan(ctx, Request{OrderBy: "hot", Page: 4}, "")
	require.NoError(t, err)
	assert.False(t, plan.Home)

	plan, err = p.Plan(ctx, Request{OrderBy: "hot", Operator: "a"}, "")
	require.NoError(t, err)
	assert.False(t, plan.Home)

	a, _ := p.Plan(ctx, Request{OrderBy: "hot", Page: 1}, "")
	b, _ := p.Plan(ctx, Request{OrderBy: "hot", Page: 2}, "")
	assert.NotEqual(t, a.Fingerprint, b.Fingerprint)
}

func TestKeywordIntersection(t *testing.T) {
	p, ix, _ := newPlanner(t)
	ix.Add(1, "alpha beta")
	ix.Add(2, "alpha")
	ix.Add(3, "beta")
	ctx := context.Background()

	plan, err := p.Plan(ctx, Request{Keyword: "alpha beta"}, "")
	require.NoError(t, err)
	require.False(t, plan.Empty)
	in, ok := find[filter.In](conds(t, plan))
	require.True(t, ok)
	assert.Equal(t, filter.IDIn([]int64{1}), in)
	assert.False(t, plan.Home)
}

func TestKeywordWithoutIntersectionShortCircuits(t *testing.T) {
	p, ix, _ := newPlanner(t)
	ix.Add(1, "alpha")
	ix.Add(2, "beta")

	plan, err := p.Plan(context.Background(), Request{Keyword: "alpha beta"}, "")
	require.NoError(t, err)
	assert.True(t, plan.Empty)
}

func TestWholeKeywordTokenWithoutPostingsIsDropped(t *testing.T) {
	p, ix, _ := newPlanner(t)
	ix.Add(1, "alpha")
	ctx := context.Background()

	// "ALPHA gamma" splits into tokens; none equals the whole keyword, so
	// the unknown "gamma" empties the intersection.
	plan, err := p.Plan(ctx, Request{Keyword: "alpha gamma"}, "")
	require.NoError(t, err)
	assert.True(t, plan.Empty)

	// A single unknown token equal to the keyword is dropped; nothing else
	// contributes, so the page is empty too.
	plan, err = p.Plan(ctx, Request{Keyword: "Gamma"}, "")
	require.NoError(t, err)
	assert.True(t, plan.Empty)

	plan, err = p.Plan(ctx, Request{Keyword: "Alpha"}, "")
	require.NoError(t, err)
	require.False(t, plan.Empty)
	in, ok := find[filter.In](conds(t, plan))
	require.True(t, ok)
	assert.Equal(t, filter.IDIn([]int64{1}), in)
}

func TestKeywordIntersectsAllowList(t *testing.T) {
	p, ix, _ := newPlanner(t)
	ix.Add(1, "alpha")
	ix.Add(2, "alpha")
	ctx := context.Background()

	plan, err := p.Plan(ctx, Request{Keyword: "alpha", CopilotIDs: []int64{2, 9}}, "")
	require.NoError(t, err)
	in, ok := find[filter.In](conds(t, plan))
	require.True(t, ok)
	assert.Equal(t, filter.IDIn([]int64{2}), in)

	plan, err = p.Plan(ctx, Request{Keyword: "alpha", CopilotIDs: []int64{9}}, "")
	require.NoError(t, err)
	assert.True(t, plan.Empty)

	plan, err = p.Plan(ctx, Request{CopilotIDs: []int64{9, 3}}, "")
	require.NoError(t, err)
	in, ok = find[filter.In](conds(t, plan))
	require.True(t, ok)
	assert.Equal(t, filter.IDIn([]int64{3, 9}), in)
}

func TestSingleCharacterKeywordMatchesStage(t *testing.T) {
	p, ix, _ := newPlanner(t)
	ix.Add(1, "7")

	plan, err := p.Plan(context.Background(), Request{Keyword: "7"}, "")
	require.NoError(t, err)
	require.False(t, plan.Empty)
	and := conds(t, plan)
	like, ok := find[filter.Like](and)
	require.True(t, ok)
	assert.Equal(t, filter.Like{Field: filter.FieldStage, Substring: "7"}, like)
	_, hasIDs := find[filter.In](and)
	assert.False(t, hasIDs)
}

func TestOperators(t *testing.T) {
	include, exclude := SplitOperators(`"塞雷娅", ~乌尔比安,, ~ ,能天使`)
	assert.Equal(t, []string{"塞雷娅", "能天使"}, include)
	assert.Equal(t, []string{"乌尔比安"}, exclude)

	p, _, _ := newPlanner(t)
	plan, err := p.Plan(context.Background(), Request{Operator: "a,~b"}, "")
	require.NoError(t, err)
	and := conds(t, plan)
	has, ok := find[filter.HasOperator](and)
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, has.Names)
	not, ok := find[filter.Not](and)
	require.True(t, ok)
	assert.Equal(t, filter.HasOperator{Names: []string{"b"}}, not.Expr)
}

func TestUploaderScopes(t *testing.T) {
	p, _, _ := newPlanner(t)
	ctx := context.Background()

	_, err := p.Plan(ctx, Request{UploaderID: UploaderMe}, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	plan, err := p.Plan(ctx, Request{UploaderID: UploaderMe, Status: "PRIVATE"}, "u1")
	require.NoError(t, err)
	and := conds(t, plan)
	assert.Contains(t, and, filter.Expr(filter.Equals{Field: filter.FieldUploader, Value: "u1"}))
	assert.Contains(t, and, filter.Expr(filter.Equals{Field: filter.FieldStatus, Value: copilot.StatusPrivate}))
	assert.False(t, plan.Exact)

	plan, err = p.Plan(ctx, Request{UploaderID: UploaderMe}, "u1")
	require.NoError(t, err)
	for _, e := range conds(t, plan) {
		if eq, ok := e.(filter.Equals); ok {
			assert.NotEqual(t, filter.FieldStatus, eq.Field)
		}
	}

	plan, err = p.Plan(ctx, Request{UploaderID: "u2", Status: "PRIVATE"}, "u1")
	require.NoError(t, err)
	and = conds(t, plan)
	assert.Contains(t, and, filter.Expr(filter.Equals{Field: filter.FieldStatus, Value: copilot.StatusPublic}))
	assert.True(t, plan.Exact)
	assert.True(t, plan.Query.Count)
}

func TestOnlyFollowing(t *testing.T) {
	p, _, mem := newPlanner(t)
	ctx := context.Background()

	plan, err := p.Plan(ctx, Request{OnlyFollowing: true}, "u1")
	require.NoError(t, err)
	assert.True(t, plan.Empty)

	mem.Follow("u1", "u2")
	plan, err = p.Plan(ctx, Request{OnlyFollowing: true}, "u1")
	require.NoError(t, err)
	assert.False(t, plan.Empty)
	in, ok := find[filter.In](conds(t, plan))
	require.True(t, ok)
	assert.Equal(t, filter.UploaderIn([]string{"u2"}), in)

	plan, err = p.Plan(ctx, Request{OnlyFollowing: true}, "")
	require.NoError(t, err)
	assert.False(t, plan.Empty)
}

func TestLevelKeyword(t *testing.T) {
	p, _, mem := newPlanner(t)
	mem.PutStage(store.Stage{StageID: "main_01-07", LevelID: "obt/main/level_main_01-07", Name: "1-7"})
	ctx := context.Background()

	plan, err := p.Plan(ctx, Request{LevelKeyword: "1-7"}, "")
	require.NoError(t, err)
	in, ok := find[filter.In](conds(t, plan))
	require.True(t, ok)
	assert.Equal(t, filter.In{Field: filter.FieldStage, Values: []any{"main_01-07"}}, in)

	plan, err = p.Plan(ctx, Request{LevelKeyword: "unknown"}, "")
	require.NoError(t, err)
	like, ok := find[filter.Like](conds(t, plan))
	require.True(t, ok)
	assert.Equal(t, "unknown", like.Substring)
}
