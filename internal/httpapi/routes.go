package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/DoyleJ11/livematch/internal/hub"
	"github.com/DoyleJ11/livematch/internal/ws"
)

func SetupRoutes(h *hub.Hub, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	api := &API{hub: h, logger: logger.Named("http")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", ws.Handler(h, logger))

	r.Route("/matches", func(r chi.Router) {
		r.Get("/", api.ListMatches)
		r.Route("/{matchID}", func(r chi.Router) {
			r.Get("/", api.GetMatch)
			r.Get("/status", api.GetStatus)
			r.Post("/attach", api.Attach)
			r.Delete("/attach", api.Detach)

			r.Route("/teams/{teamID}", func(r chi.Router) {
				r.Get("/players", api.TeamPlayers)
				r.Put("/points", api.SetTeamPoints)
				r.Put("/eliminated", api.SetTeamEliminated)
				r.Put("/roster", api.ReplaceRoster)
				r.Post("/players/{playerID}/kills", api.AddKills)
				r.Put("/players/{playerID}/eliminated", api.SetPlayerEliminated)
			})
		})
	})
	return r
}
