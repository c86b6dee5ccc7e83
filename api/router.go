package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new chi router and registers the claim round routes.
// Create, open and close are guarded by adminToken; finalize reads the
// escrow balance and may be triggered by anyone. gatherer backs /metrics
// and defaults to the global prometheus registry.
func NewRouter(h *Handler, adminToken string, gatherer prometheus.Gatherer) *chi.Mux {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/rounds", func(r chi.Router) {
		r.Get("/", h.handleListRounds)
		r.Get("/{id}", h.handleGetRound)
		r.Get("/{id}/tickets/{claimer}", h.handleGetTicket)

		r.Post("/{id}/fund", h.handleRecordFunding)
		r.Post("/{id}/finalize", h.roundStep(h.service.Finalize))
		r.Post("/{id}/claim", h.handleClaim)
		r.Post("/{id}/withdraw", h.handleWithdraw)
		if h.depositor != nil {
			r.Post("/{id}/deposit", h.handleDeposit)
		}

		r.Group(func(r chi.Router) {
			r.Use(AdminAuthMiddleware(adminToken))
			r.Post("/", h.handleCreateRound)
			r.Post("/{id}/open", h.roundStep(h.service.OpenRound))
			r.Post("/{id}/close", h.roundStep(h.service.CloseRound))
		})
	})

	return r
}
