package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(app *App) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/ping", PingHandler)

	r.Route("/api/videos", func(r chi.Router) {
		r.Post("/", app.UploadHandler)
		r.Get("/", app.ListVideosHandler)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", app.GetVideoHandler)
			r.Get("/stream", app.StreamVideoHandler)
			r.Post("/process", app.StartProcessingHandler)
			r.Get("/analysis", app.GetAnalysisHandler)
			r.Post("/search", app.SearchHandler)
		})
	})

	return r
}
