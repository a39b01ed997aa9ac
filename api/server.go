/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zerolog request line + latency histogram
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend
  5. Actor:      HS256 bearer token on /api (except scenarios)

ROUTE GROUPS:
  /api/users/*       Approver, subordinates, balance, ledger
  /api/requests/*    Leave request workflow
  /api/admin/*       Rollover, resets, adjustments, org reload
  /api/scenarios/*   Demo scenarios (only with --demo)
  /healthz           Liveness
  /metrics           Prometheus

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: RequireActor
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/apettas/adeies/telemetry"
)

type RouterOptions struct {
	CORSOrigins []string
	Metrics     *telemetry.Metrics // nil disables /metrics and latency observation
	Demo        bool               // mount /api/scenarios
	Log         zerolog.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(opts.Log, opts.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Healthz)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		if opts.Demo {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
			})
		}

		r.Group(func(r chi.Router) {
			r.Use(RequireActor(h.JWTSecret))

			r.Route("/users/{id}", func(r chi.Router) {
				r.Get("/approver", h.GetApprover)
				r.Get("/subordinates", h.GetSubordinates)
				r.Get("/balance", h.GetBalance)
				r.Get("/ledger", h.GetLedger)
			})

			r.Route("/requests", func(r chi.Router) {
				r.Get("/", h.ListRequests)
				r.Post("/", h.CreateRequest)
				r.Get("/{id}", h.GetRequest)
				r.Get("/{id}/actions", h.GetActions)
				r.Post("/{id}/transitions", h.Transition)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Post("/users/{id}/yearly-reset", h.YearlyReset)
				r.Post("/users/{id}/adjustments", h.CreateAdjustment)
				r.Post("/rollover", h.TriggerRollover)
				r.Get("/rollover/runs", h.ListRolloverRuns)
				r.Post("/org/reload", h.ReloadOrg)
			})
		})
	})

	return r
}

// requestLogger writes one zerolog line per request and feeds the latency
// histogram with the matched route pattern.
func requestLogger(log zerolog.Logger, metrics *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			if metrics != nil {
				metrics.ObserveHTTP(r.Method, route, status, elapsed)
			}

			ev := log.Info()
			if status >= http.StatusInternalServerError {
				ev = log.Error()
			}
			ev.Str("http_request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("route", route).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", elapsed).
				Msg("http request")
		})
	}
}
