package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// statsSnapshotReader is the dependency StatsServer consumes — exactly the
// seam spec.md §9 describes: "treat the monitoring HTTP server as a pure
// consumer of stats_snapshot()".
type statsSnapshotReader interface {
	Snapshot() StatsSnapshot
}

// statsResponse is the JSON document served at GET /api/stats
// (spec.md §6, field names verbatim, plus instance_id — SPEC_FULL.md §11.1).
type statsResponse struct {
	InstanceID string `json:"instance_id"`
	StatsSnapshot
}

// StatsServer serves the monitoring HTTP API (SPEC_FULL.md §11.1).
type StatsServer struct {
	registry   statsSnapshotReader
	instanceID uuid.UUID
	log        *zap.SugaredLogger

	srv *http.Server
	ln  net.Listener
}

func NewStatsServer(addr string, registry statsSnapshotReader, logger *zap.SugaredLogger) *StatsServer {
	s := &StatsServer{
		registry:   registry,
		instanceID: uuid.New(),
		log:        logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/stats", s.handleStats)
	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start begins serving in a background goroutine. Returns immediately.
func (s *StatsServer) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Warnw("stats server stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the address actually bound by Start (useful when the
// configured address used an ephemeral port, i.e. ":0"). Empty before Start
// is called.
func (s *StatsServer) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Shutdown stops the stats server, bounded by ctx.
func (s *StatsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *StatsServer) handleStats(w http.ResponseWriter, r *http.Request) {
	snap := s.registry.Snapshot()
	resp := statsResponse{InstanceID: s.instanceID.String(), StatsSnapshot: snap}

	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		s.log.Warnw("encode stats response failed", "error", err)
	}
}

