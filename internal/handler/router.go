package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/postplan/internal/metrics"
	"github.com/hitoshi/postplan/internal/middleware"
)

// HealthChecker は依存先（DB）の疎通確認。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger      *slog.Logger
	APIToken    string
	RateLimiter *middleware.RateLimiter
	Health      HealthChecker
	// Gatherer がnilの場合は /metrics を公開しない
	Gatherer prometheus.Gatherer

	Contents   ContentService
	Plans      *PlanHandler
	Assigner   AssignService
	Dispatcher DispatchService
	Slots      SlotReader
}

// NewRouter は管理APIのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → APIHeaders → (/api のみ) TokenAuth → RateLimit
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewAPIHeadersMiddleware())

	r.Get("/health", healthHandler(deps.Health))
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	contentHandler := NewContentHandler(deps.Contents, logger)
	slotHandler := NewSlotHandler(deps.Assigner, deps.Dispatcher, deps.Slots, logger)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewTokenAuthMiddleware(deps.APIToken, logger))
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}

		r.Post("/contents", contentHandler.CreateContent)
		r.Route("/contents/{id}", func(r chi.Router) {
			r.Put("/caption", contentHandler.SetCaption)
			r.Put("/variants", contentHandler.SetCaptionVariants)
			r.Delete("/variants/{no}", contentHandler.RetireVariant)
		})
		r.Post("/image-sets", contentHandler.CreateImageSet)
		r.Post("/stories", contentHandler.CreateStory)
		r.Put("/pools/hashtags/{name}", contentHandler.UpsertHashtagPool)
		r.Put("/pools/audio/{name}", contentHandler.UpsertAudioPool)

		if deps.Plans != nil {
			r.Route("/plans", func(r chi.Router) {
				r.Post("/day", deps.Plans.PlanDay)
				r.Post("/week", deps.Plans.PlanWeek)
				r.Get("/export", deps.Plans.ExportPlan)
				r.Post("/import", deps.Plans.ImportPlan)
			})
		}

		r.Post("/assignments", slotHandler.Assign)
		r.Post("/assignments/stories", slotHandler.AssignStories)
		r.Post("/dispatch", slotHandler.Dispatch)

		r.Get("/slots", slotHandler.ListSlots)
		r.Route("/slots/{id}", func(r chi.Router) {
			r.Post("/reset", slotHandler.ResetSlot)
			r.Get("/posts", slotHandler.ListPosts)
		})
	})

	return r
}

// healthHandler はDB疎通を確認するヘルスチェックを返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
