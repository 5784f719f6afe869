package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// AdminStatus is the payload served at /_status.
type AdminStatus struct {
	Uptime string `json:"uptime"`
}

// NewAdminMux builds the administrative HTTP surface: a liveness/status
// endpoint and a cache-invalidation trigger, kept on a listener
// separate from the reverse-proxy traffic so operators can firewall it
// off independently.
func (s *Server) NewAdminMux(started time.Time) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/_status", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(AdminStatus{Uptime: time.Since(started).String()})
	}).Methods(http.MethodGet)

	r.HandleFunc("/_cache/invalidate/{tag}", func(w http.ResponseWriter, req *http.Request) {
		tag := mux.Vars(req)["tag"]
		if s.cache == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if err := s.cache.Invalidate(tag); err != nil {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)

	return r
}

// ListenAdmin serves the admin mux on addr until ctx is cancelled.
func (s *Server) ListenAdmin(ctx context.Context, addr string, started time.Time) error {
	srv := &http.Server{Addr: addr, Handler: s.NewAdminMux(started)}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
