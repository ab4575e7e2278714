package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Wrapper instruments a route; metrics.Metrics.WrapHandler satisfies it.
type Wrapper func(route string, next http.Handler) http.Handler

// Router mounts every endpoint of the process on one chi mux.
// wrap may be nil.
func (g *Gateway) Router(wrap Wrapper) *chi.Mux {
	if wrap == nil {
		wrap = func(_ string, next http.Handler) http.Handler { return next }
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	mount := func(method, pattern string, h http.Handler) {
		if h == nil {
			return
		}
		r.Method(method, pattern, wrap(pattern, h))
	}

	if g.routes.Ingest != nil {
		// il device fa preflight CORS: tutti i metodi vanno all'handler
		r.Handle("/sensor-data", wrap("/sensor-data", g.routes.Ingest))
	}

	r.Route("/api", func(api chi.Router) {
		api.Method(http.MethodGet, "/snapshot", wrap("/api/snapshot", http.HandlerFunc(g.HandleSnapshot)))
		api.Method(http.MethodGet, "/dashboard", wrap("/api/dashboard", http.HandlerFunc(g.HandleDashboard)))
		api.Method(http.MethodGet, "/trend", wrap("/api/trend", http.HandlerFunc(g.HandleTrend)))
		api.Method(http.MethodGet, "/alerts", wrap("/api/alerts", http.HandlerFunc(g.HandleAlerts)))
		api.Method(http.MethodDelete, "/alerts/{id}", wrap("/api/alerts/{id}", http.HandlerFunc(g.HandleDismiss)))
		api.Method(http.MethodGet, "/settings/moisture", wrap("/api/settings/moisture", http.HandlerFunc(g.HandleGetSettings)))
		api.Method(http.MethodPut, "/settings/moisture", wrap("/api/settings/moisture", http.HandlerFunc(g.HandlePutSettings)))
		if g.routes.Logsheet != nil {
			api.Method(http.MethodGet, "/logsheet", wrap("/api/logsheet", g.routes.Logsheet))
		}
	})

	if g.hub != nil {
		r.Get("/ws", g.hub.ServeWS)
	}
	mount(http.MethodGet, "/metrics", g.routes.Metrics)
	mount(http.MethodGet, "/healthz", g.routes.Health)
	mount(http.MethodGet, "/readyz", g.routes.Ready)
	return r
}
