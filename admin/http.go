// Package admin exposes the proxy's read-only introspection surface over
// HTTP: health, live statistics, loaded modules, and registered commands.
// Grounded in the memex server's chi.Router + middleware stack and its
// handler-per-resource style, adapted from a graph-store API to the
// proxy's own state.
package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"proxycore/proxycore"
)

// Server holds the admin HTTP handler dependencies.
type Server struct {
	core *proxycore.Core
}

// New creates an admin HTTP server backed by core's state.
func New(core *proxycore.Core) *Server {
	return &Server{core: core}
}

// Router builds the chi.Router serving this admin surface.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	r.Get("/health", s.Health)
	r.Get("/stats", s.Stats)
	r.Get("/modules", s.Modules)
	r.Get("/commands", s.Commands)

	return r
}

// Health handles GET /health.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"state":  s.core.CurrentState().String(),
	})
}

// statsResponse is the JSON body returned by GET /stats.
type statsResponse struct {
	State              string            `json:"state"`
	Uptime             string            `json:"uptime"`
	TotalConnections   uint64            `json:"total_connections"`
	ActiveConnections  uint64            `json:"active_connections"`
	FailedConnections  uint64            `json:"failed_connections"`
	BytesSent          uint64            `json:"bytes_sent"`
	BytesReceived      uint64            `json:"bytes_received"`
	PacketsSent        uint64            `json:"packets_sent"`
	PacketsReceived    uint64            `json:"packets_received"`
	TotalErrors        uint64            `json:"total_errors"`
	ConnectionErrors   uint64            `json:"connection_errors"`
	PacketErrors       uint64            `json:"packet_errors"`
	ModulesLoaded      int64             `json:"modules_loaded"`
	HooksRegistered    int64             `json:"hooks_registered"`
	CommandsRegistered int64             `json:"commands_registered"`
	ForwardedByType    map[string]uint64 `json:"forwarded_by_type"`
	CancelledByType    map[string]uint64 `json:"cancelled_by_type"`
}

// Stats handles GET /stats. It refreshes the lifecycle gauges before
// snapshotting so module/hook/command counts never lag a reload.
func (s *Server) Stats(w http.ResponseWriter, r *http.Request) {
	s.core.RefreshGauges()

	st := s.core.Stats
	if st == nil {
		writeJSON(w, http.StatusOK, statsResponse{State: s.core.CurrentState().String()})
		return
	}

	snap := st.GetSnapshot()
	writeJSON(w, http.StatusOK, statsResponse{
		State:              s.core.CurrentState().String(),
		Uptime:             snap.Uptime.String(),
		TotalConnections:   snap.TotalConnections,
		ActiveConnections:  snap.ActiveConnections,
		FailedConnections:  snap.FailedConnections,
		BytesSent:          snap.BytesSent,
		BytesReceived:      snap.BytesReceived,
		PacketsSent:        snap.PacketsSent,
		PacketsReceived:    snap.PacketsReceived,
		TotalErrors:        snap.TotalErrors,
		ConnectionErrors:   snap.ConnectionErrors,
		PacketErrors:       snap.PacketErrors,
		ModulesLoaded:      st.ModulesLoaded(),
		HooksRegistered:    st.HooksRegistered(),
		CommandsRegistered: st.CommandsRegistered(),
		ForwardedByType:    st.ForwardedCounts(),
		CancelledByType:    st.CancelledCounts(),
	})
}

// moduleInfo describes one registered module (loaded or not) for GET /modules.
type moduleInfo struct {
	Name string `json:"name"`
}

// Modules handles GET /modules.
func (s *Server) Modules(w http.ResponseWriter, r *http.Request) {
	reg := s.core.Modules()
	if reg == nil {
		writeJSON(w, http.StatusOK, []moduleInfo{})
		return
	}

	names := reg.Names()
	out := make([]moduleInfo, 0, len(names))
	for _, n := range names {
		out = append(out, moduleInfo{Name: n})
	}
	writeJSON(w, http.StatusOK, out)
}

// Commands handles GET /commands.
func (s *Server) Commands(w http.ResponseWriter, r *http.Request) {
	reg := s.core.Commands()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"prefix":   reg.Prefix(),
		"commands": reg.Names(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// NewHTTPServer wraps Router in an *http.Server with the timeouts the
// teacher's own HTTP surfaces use.
func NewHTTPServer(addr string, core *proxycore.Core) *http.Server {
	s := New(core)
	return &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
