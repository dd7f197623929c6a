// Package controlplane exposes the engine's two injection points over HTTP:
// submitting a new workflow instance and posting an event against a running
// one. It also carries the operational surface (health check, Prometheus
// metrics, a websocket feed of terminal publications) that every other
// worker in this module is otherwise silent about.
package controlplane

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arcflow/engine/pkg/engine"
)

// NewRouter builds the control plane's HTTP surface. db is used only for the
// health check's connectivity probe; all writes go through deps. The
// returned Hub's HookFor should be wired into the completed/failed instance
// observer workers so the websocket feed sees every terminal publication.
func NewRouter(db *sql.DB, deps *engine.Dependencies) (http.Handler, *Hub) {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	hub := NewHub()
	h := &Handler{deps: deps, db: db, hub: hub}

	r.Post("/instances", h.createInstance)
	r.Post("/events", h.postEvent)
	r.Get("/healthz", h.healthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", h.ws)

	return r, hub
}
