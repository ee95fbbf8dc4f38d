package api

import (
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/middleware"
)

// RouterConfig holds the cross-cutting settings of the HTTP stack.
type RouterConfig struct {
	RequestTimeout time.Duration
	AllowOrigins   []string
	// WriteLimiter throttles writes per visitor; nil disables it.
	WriteLimiter middleware.Limiter
}

// NewRouter builds the service's HTTP handler.
//
// Middleware chain (outermost first):
//
//	RequestID → CORS → Metrics → RateLimitWrites → Timeout → Recover → mux
func NewRouter(h *Handler, checker *health.Checker, m *metrics.Metrics, cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	mux.HandleFunc("GET /api/v1/copilots", h.Search)
	mux.HandleFunc("POST /api/v1/copilots", h.Upload)
	mux.HandleFunc("GET /api/v1/copilots/{id}", h.Get)
	mux.HandleFunc("PUT /api/v1/copilots/{id}", h.Update)
	mux.HandleFunc("DELETE /api/v1/copilots/{id}", h.Delete)
	mux.HandleFunc("POST /api/v1/copilots/{id}/rating", h.Rate)
	mux.HandleFunc("POST /api/v1/copilots/{id}/comment-status", h.CommentStatus)
	mux.HandleFunc("POST /api/v1/copilots/{id}/notification", h.Notification)

	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)

	return middleware.Chain(mux,
		middleware.RequestID,
		middleware.CORS(cfg.AllowOrigins),
		middleware.Metrics(m),
		middleware.RateLimitWrites(cfg.WriteLimiter, visitor),
		middleware.Timeout(cfg.RequestTimeout),
		middleware.Recover,
	)
}
