/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging (zerolog)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for a frontend

ROUTE GROUPS:
  /api/tag-types              Tag enumeration and conflict rules
  /api/profiles/{profile}/*   Days, guards, balance, counters, audit
  /api/scenarios/*            Demo scenarios
  /api/reconciliation         Scheduled integrity sweep
  /metrics                    Prometheus metrics
  /health                     Liveness

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// DefaultCORSOrigins are used when none are configured.
var DefaultCORSOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, origins []string) *chi.Mux {
	if len(origins) == 0 {
		origins = DefaultCORSOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/tag-types", h.ListTagTypes)

		r.Route("/profiles/{profile}", func(r chi.Router) {
			// Day routes
			r.Route("/days", func(r chi.Router) {
				r.Get("/", h.ListDays)
				r.Get("/{date}", h.GetDay)
				r.Delete("/{date}", h.RemoveDay)
				r.Put("/{date}/tags", h.UpsertTag)
				r.Delete("/{date}/tags/{type}", h.RemoveTag)
			})

			// Guard routes
			r.Route("/guards", func(r chi.Router) {
				r.Get("/", h.ListGuards)
				r.Post("/", h.MarkGuardWeek)
				r.Get("/available", h.AvailableGuard)
				r.Post("/{week}/complete", h.CompleteGuardWeek)
				r.Post("/{week}/reindex", h.ReindexGuard)
			})

			// Balance routes
			r.Post("/free-days", h.RequestFreeDays)
			r.Post("/other", h.AddOtherDays)
			r.Post("/adjustments", h.CreateAdjustment)
			r.Get("/ledger", h.GetLedger)
			r.Delete("/ledger/{id}", h.RemoveMovement)

			// Counter routes
			r.Get("/counters", h.GetCounters)
			r.Post("/counters/verify", h.VerifyCounters)
			r.Post("/reconcile", h.Reconcile)
			r.Get("/audit", h.GetAudit)
		})

		// Reconciliation routes
		r.Route("/reconciliation", func(r chi.Router) {
			r.Get("/", h.SchedulerStatus)
			r.Post("/run", h.RunReconciliation)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}

// requestLogger logs one line per request through zerolog.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		})
	}
}
