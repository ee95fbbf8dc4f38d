// Package api exposes the search core over HTTP. Caller identity arrives in
// the X-User-ID header, set by the gateway in front of the service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/copilot"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/planner"
	apperrors "github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/logger"
)

// UserIDHeader carries the authenticated caller's id.
const UserIDHeader = "X-User-ID"

type Searcher interface {
	Search(ctx context.Context, req planner.Request, callerID string) (*copilot.Page, error)
}

type Copilots interface {
	Upload(ctx context.Context, uploaderID, raw string, status copilot.Status) (int64, error)
	Update(ctx context.Context, userID string, id int64, raw string, status copilot.Status) error
	Delete(ctx context.Context, userID string, id int64) error
	Get(ctx context.Context, id int64, visitor string) (copilot.Info, error)
	Rate(ctx context.Context, raterID string, id int64, r copilot.RatingType) error
	SetCommentStatus(ctx context.Context, userID string, id int64, status copilot.CommentStatus) error
	SetNotification(ctx context.Context, userID string, id int64, on bool) error
}

// CacheAdmin is the operator view of the cache.
type CacheAdmin interface {
	Stats() cache.Stats
}

// HomeEvictor drops the cached pages of one ordering.
type HomeEvictor interface {
	InvalidateOrdering(order string) error
	Orderings() []string
}

type Handler struct {
	search   Searcher
	copilots Copilots
	cache    CacheAdmin
	home     HomeEvictor
	logger   *slog.Logger
}

func New(search Searcher, copilots Copilots, cacheAdmin CacheAdmin, home HomeEvictor) *Handler {
	return &Handler{
		search:   search,
		copilots: copilots,
		cache:    cacheAdmin,
		home:     home,
		logger:   slog.Default().With("component", "api"),
	}
}

func callerID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(UserIDHeader))
}

// visitor identifies the caller for view counting and rating: the user id
// when signed in, the client address otherwise.
func visitor(r *http.Request) string {
	if id := callerID(r); id != "" {
		return id
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.Invalid("invalid copilot id %q", r.PathValue("id"))
	}
	return id, nil
}

func parseIDs(s string) ([]int64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, apperrors.Invalid("invalid copilot id %q", part)
		}
		out = append(out, id)
	}
	return out, nil
}

func intParam(q map[string][]string, name string) (int, error) {
	vals := q[name]
	if len(vals) == 0 || vals[0] == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(vals[0])
	if err != nil {
		return 0, apperrors.Invalid("%s must be an integer", name)
	}
	return n, nil
}

// Search handles GET /api/v1/copilots.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := intParam(q, "page")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := intParam(q, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ids, err := parseIDs(q.Get("copilot_ids"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	req := planner.Request{
		Keyword:       q.Get("document"),
		LevelKeyword:  q.Get("level_keyword"),
		UploaderID:    q.Get("uploader_id"),
		Operator:      q.Get("operator"),
		CopilotIDs:    ids,
		OnlyFollowing: q.Get("only_following") == "true",
		Status:        q.Get("status"),
		OrderBy:       q.Get("order_by"),
		Desc:          q.Get("desc") == "true",
		Page:          page,
		Limit:         limit,
	}
	result, err := h.search.Search(r.Context(), req, callerID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// Get handles GET /api/v1/copilots/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	info, err := h.copilots.Get(r.Context(), id, visitor(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

type writeRequest struct {
	Content string `json:"content"`
	Status  string `json:"status"`
}

func decode[T any](w http.ResponseWriter, r *http.Request) (T, error) {
	var v T
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<20)).Decode(&v); err != nil {
		return v, apperrors.Invalid("invalid JSON body")
	}
	return v, nil
}

func requireUser(r *http.Request) (string, error) {
	id := callerID(r)
	if id == "" {
		return "", apperrors.New(apperrors.ErrUnauthorized, http.StatusUnauthorized, "sign in required")
	}
	return id, nil
}

// Upload handles POST /api/v1/copilots.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	user, err := requireUser(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	body, err := decode[writeRequest](w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	id, err := h.copilots.Upload(r.Context(), user, body.Content, copilot.ParseStatus(body.Status))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

// Update handles PUT /api/v1/copilots/{id}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	user, err := requireUser(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	body, err := decode[writeRequest](w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.copilots.Update(r.Context(), user, id, body.Content, copilot.ParseStatus(body.Status)); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /api/v1/copilots/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	user, err := requireUser(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.copilots.Delete(r.Context(), user, id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Rate handles POST /api/v1/copilots/{id}/rating. Anonymous callers rate
// under their client address.
func (h *Handler) Rate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	body, err := decode[struct {
		Rating string `json:"rating"`
	}](w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rt, err := copilot.ParseRatingType(body.Rating)
	if err != nil {
		h.fail(w, r, apperrors.Invalid("%v", err))
		return
	}
	if err := h.copilots.Rate(r.Context(), visitor(r), id, rt); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CommentStatus handles POST /api/v1/copilots/{id}/comment-status.
func (h *Handler) CommentStatus(w http.ResponseWriter, r *http.Request) {
	user, err := requireUser(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	body, err := decode[struct {
		Status string `json:"status"`
	}](w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := copilot.CommentStatus(strings.ToUpper(body.Status))
	if status != copilot.CommentsEnabled && status != copilot.CommentsDisabled {
		h.fail(w, r, apperrors.Invalid("unknown comment status %q", body.Status))
		return
	}
	if err := h.copilots.SetCommentStatus(r.Context(), user, id, status); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Notification handles POST /api/v1/copilots/{id}/notification.
func (h *Handler) Notification(w http.ResponseWriter, r *http.Request) {
	user, err := requireUser(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	body, err := decode[struct {
		Enabled bool `json:"enabled"`
	}](w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.copilots.SetNotification(r.Context(), user, id, body.Enabled); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.cache.Stats())
}

// CacheInvalidate evicts one named ordering, or all of them when no order
// is given.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	orders := h.home.Orderings()
	if order := r.URL.Query().Get("order"); order != "" {
		orders = []string{order}
	}
	for _, order := range orders {
		if err := h.home.InvalidateOrdering(order); err != nil {
			h.fail(w, r, apperrors.Invalid("%v", err))
			return
		}
	}
	h.writeJSON(w, http.StatusAccepted, map[string]any{"status": "invalidating", "orderings": orders})
}

// fail maps err to a status code. Domain errors carry their message; other
// errors are logged and reported generically.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	log := logger.FromContext(r.Context())
	if apperrors.IsDomain(err) {
		var appErr *apperrors.AppError
		msg := err.Error()
		if errors.As(err, &appErr) {
			msg = appErr.Message
		}
		log.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err)
		h.writeError(w, status, msg)
		return
	}
	log.Error("request failed", "path", r.URL.Path, "error", err)
	h.writeError(w, status, http.StatusText(status))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
