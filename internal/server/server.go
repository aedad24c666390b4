// Package server exposes the read-only query surface over stored changelog
// and snapshot data, plus the realtime-push WebSocket endpoint.
package server

import (
	"net/http"

	"github.com/apiwatch/apiwatch/internal/utils"
	"github.com/apiwatch/apiwatch/pkg/notify"
	"github.com/apiwatch/apiwatch/pkg/storage"
)

type Server struct {
	DB       *storage.DB
	Hub      *notify.Hub
	Username string
	Password string
}

func New(db *storage.DB, hub *notify.Hub, user, pass string) *Server {
	return &Server{DB: db, Hub: hub, Username: user, Password: pass}
}

func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/changes", s.basicAuth(s.handleListChanges))
	mux.HandleFunc("GET /api/changes/{id}", s.basicAuth(s.handleGetChange))
	mux.HandleFunc("GET /api/compare", s.basicAuth(s.handleCompare))
	mux.HandleFunc("GET /api/targets", s.basicAuth(s.handleListTargets))
	mux.HandleFunc("POST /api/targets", s.basicAuth(s.handleAddTarget))
	mux.HandleFunc("DELETE /api/targets/{id}", s.basicAuth(s.handleDeactivateTarget))
	mux.HandleFunc("GET /api/stats", s.basicAuth(s.handleStats))
	mux.HandleFunc("GET /api/feed", s.basicAuth(s.handleFeed))
	mux.HandleFunc("GET /ws", s.basicAuth(s.Hub.ServeWS))

	utils.Log.Infof("Starting server on %s", addr)
	return http.ListenAndServe(addr, mux)
}

func (s *Server) basicAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Username == "" && s.Password == "" {
			next(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.Username || pass != s.Password {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
