package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/copilot"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/planner"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/ratelimit"
	apperrors "github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/health"
)

type fakeSearch struct {
	req    planner.Request
	caller string
}

func (f *fakeSearch) Search(_ context.Context, req planner.Request, caller string) (*copilot.Page, error) {
	f.req, f.caller = req, caller
	return &copilot.Page{Page: 1, Data: []copilot.Info{{ID: 1}}}, nil
}

type fakeCopilots struct {
	visitor string
	rater   string
	rating  copilot.RatingType
	user    string
	status  copilot.Status
	comment copilot.CommentStatus
}

func (f *fakeCopilots) Upload(_ context.Context, uploader, _ string, status copilot.Status) (int64, error) {
	f.user, f.status = uploader, status
	return 20001, nil
}

func (f *fakeCopilots) Update(_ context.Context, user string, id int64, _ string, _ copilot.Status) error {
	if user != "owner" {
		return apperrors.New(apperrors.ErrForbidden, http.StatusForbidden, "not yours")
	}
	return nil
}

func (f *fakeCopilots) Delete(_ context.Context, _ string, id int64) error {
	if id == 404 {
		return apperrors.Newf(apperrors.ErrCopilotNotFound, http.StatusNotFound, "copilot %d does not exist", id)
	}
	return nil
}

func (f *fakeCopilots) Get(_ context.Context, id int64, visitor string) (copilot.Info, error) {
	f.visitor = visitor
	return copilot.Info{ID: id}, nil
}

func (f *fakeCopilots) Rate(_ context.Context, rater string, _ int64, r copilot.RatingType) error {
	f.rater, f.rating = rater, r
	return nil
}

func (f *fakeCopilots) SetCommentStatus(_ context.Context, _ string, _ int64, s copilot.CommentStatus) error {
	f.comment = s
	return nil
}

func (f *fakeCopilots) SetNotification(context.Context, string, int64, bool) error { return nil }

type fakeCache struct{}

func (fakeCache) Stats() cache.Stats { return cache.Stats{Hits: 3, BreakerState: "closed"} }

type fakeHome struct{ evicted []string }

func (f *fakeHome) InvalidateOrdering(order string) error {
	if order == "bogus" {
		return assert.AnError
	}
	f.evicted = append(f.evicted, order)
	return nil
}

func (f *fakeHome) Orderings() []string { return []string{"hot", "id", "views"} }

type env struct {
	srv      http.Handler
	search   *fakeSearch
	copilots *fakeCopilots
	home     *fakeHome
}

func newEnv() *env {
	return newEnvWith(RouterConfig{RequestTimeout: time.Second, AllowOrigins: []string{"*"}})
}

func newEnvWith(cfg RouterConfig) *env {
	e := &env{search: &fakeSearch{}, copilots: &fakeCopilots{}, home: &fakeHome{}}
	h := New(e.search, e.copilots, fakeCache{}, e.home)
	e.srv = NewRouter(h, health.NewChecker(), nil, cfg)
	return e
}

func (e *env) do(method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func TestSearchParsesQuery(t *testing.T) {
	e := newEnv()
	rec := e.do("GET", "/api/v1/copilots?document=塞雷娅&operator=a,~b&copilot_ids=1,2&order_by=hot&desc=true&page=2&limit=5&only_following=true&uploader_id=me&status=PRIVATE", "",
		map[string]string{UserIDHeader: "u1"})
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, planner.Request{
		Keyword:       "塞雷娅",
		UploaderID:    "me",
		Operator:      "a,~b",
		CopilotIDs:    []int64{1, 2},
		OnlyFollowing: true,
		Status:        "PRIVATE",
		OrderBy:       "hot",
		Desc:          true,
		Page:          2,
		Limit:         5,
	}, e.search.req)
	assert.Equal(t, "u1", e.search.caller)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var page copilot.Page
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	assert.Equal(t, []int64{1}, page.IDs())
}

func TestSearchRejectsBadParams(t *testing.T) {
	e := newEnv()
	assert.Equal(t, http.StatusBadRequest, e.do("GET", "/api/v1/copilots?page=x", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do("GET", "/api/v1/copilots?copilot_ids=1,x", "", nil).Code)
}

func TestVisitorIdentity(t *testing.T) {
	e := newEnv()
	e.do("GET", "/api/v1/copilots/7", "", map[string]string{UserIDHeader: "u1"})
	assert.Equal(t, "u1", e.copilots.visitor)

	e.do("GET", "/api/v1/copilots/7", "", map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.2"})
	assert.Equal(t, "10.0.0.1", e.copilots.visitor)

	e.do("GET", "/api/v1/copilots/7", "", nil)
	assert.Equal(t, "192.0.2.1", e.copilots.visitor)

	assert.Equal(t, http.StatusBadRequest, e.do("GET", "/api/v1/copilots/abc", "", nil).Code)
}

func TestWritesRequireUser(t *testing.T) {
	e := newEnv()
	rec := e.do("POST", "/api/v1/copilots", `{"content":"{}"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do("POST", "/api/v1/copilots", `{"content":"{}","status":"PRIVATE"}`, map[string]string{UserIDHeader: "u1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"id":20001}`, rec.Body.String())
	assert.Equal(t, copilot.StatusPrivate, e.copilots.status)

	rec = e.do("POST", "/api/v1/copilots", `{`, map[string]string{UserIDHeader: "u1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDomainErrorsMapToStatus(t *testing.T) {
	e := newEnv()
	rec := e.do("PUT", "/api/v1/copilots/1", `{"content":"{}"}`, map[string]string{UserIDHeader: "intruder"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"not yours"}`, rec.Body.String())

	rec = e.do("DELETE", "/api/v1/copilots/404", "", map[string]string{UserIDHeader: "owner"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do("DELETE", "/api/v1/copilots/5", "", map[string]string{UserIDHeader: "owner"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRate(t *testing.T) {
	e := newEnv()
	rec := e.do("POST", "/api/v1/copilots/3/rating", `{"rating":"Like"}`, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, copilot.RatingLike, e.copilots.rating)
	assert.Equal(t, "192.0.2.1", e.copilots.rater)

	rec = e.do("POST", "/api/v1/copilots/3/rating", `{"rating":"Love"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCommentStatus(t *testing.T) {
	e := newEnv()
	user := map[string]string{UserIDHeader: "owner"}
	rec := e.do("POST", "/api/v1/copilots/3/comment-status", `{"status":"disabled"}`, user)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, copilot.CommentsDisabled, e.copilots.comment)

	rec = e.do("POST", "/api/v1/copilots/3/comment-status", `{"status":"maybe"}`, user)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCacheAdmin(t *testing.T) {
	e := newEnv()
	rec := e.do("GET", "/api/v1/cache/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"hits":3`)

	rec = e.do("POST", "/api/v1/cache/invalidate?order=hot", "", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"hot"}, e.home.evicted)

	rec = e.do("POST", "/api/v1/cache/invalidate", "", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"hot", "hot", "id", "views"}, e.home.evicted)

	rec = e.do("POST", "/api/v1/cache/invalidate?order=bogus", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	e := newEnv()
	rec := e.do("OPTIONS", "/api/v1/copilots", "", map[string]string{"Origin": "https://example.org"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://example.org", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealthLive(t *testing.T) {
	e := newEnv()
	assert.Equal(t, http.StatusOK, e.do("GET", "/health/live", "", nil).Code)
}

func TestWritesAreRateLimitedPerVisitor(t *testing.T) {
	e := newEnvWith(RouterConfig{WriteLimiter: ratelimit.New(1, time.Minute)})
	alice := map[string]string{UserIDHeader: "alice"}

	assert.Equal(t, http.StatusNoContent, e.do("POST", "/api/v1/copilots/3/rating", `{"rating":"Like"}`, alice).Code)
	rec := e.do("POST", "/api/v1/copilots/3/rating", `{"rating":"Like"}`, alice)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusNoContent, e.do("POST", "/api/v1/copilots/3/rating", `{"rating":"Like"}`,
		map[string]string{UserIDHeader: "bob"}).Code)
	assert.Equal(t, http.StatusOK, e.do("GET", "/api/v1/copilots/3", "", alice).Code, "reads are not limited")
}
