package httpapi

import (
	"net/http"

	"github.com/DoyleJ11/pugbot/internal/feed"
	"github.com/DoyleJ11/pugbot/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func SetupRoutes(a *API, f *feed.Feed) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)
	r.Get("/modes", a.Modes)
	r.Get("/sessions", a.ListSessions)
	r.Get("/channels", a.ChannelModes)
	r.Get("/ws", ws.Handler(a.Hub, f, a.Log))

	r.Route("/channels/{channel}", func(r chi.Router) {
		r.Put("/mode", a.SetMode)
		r.Get("/session", a.GetSession)
		r.Post("/session", a.StartSession)
		r.Delete("/session", a.StopSession)
		r.Post("/players", a.Join)
		r.Delete("/players/{player}", a.Leave)
		r.Post("/players/{player}/ready", a.Ready)
		r.Post("/players/{player}/vote", a.Vote)
		r.Get("/records", a.Records)
	})

	r.Post("/servers/{address}/vacate", a.Vacate)
	return r
}
