// Package dashboard provides an embeddable HTTP observer for the engine.
//
// It exposes:
//   - GET /api/metrics         – point-in-time counter snapshot (JSON)
//   - GET /api/metrics/stream  – SSE stream of snapshots (250 ms ticks)
//   - GET /api/pool            – idle/per-host/waiter pool occupancy (JSON)
//
// The SSE endpoint sets the usual headers so browsers can consume it
// with EventSource directly.  The server is read-only: it observes the
// engine, it never drives it.
package dashboard

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/firasghr/GoHTTPEngine/engine"
)

// MetricsSnapshot is the JSON payload served to dashboard clients.
type MetricsSnapshot struct {
	Timestamp  int64   `json:"timestamp"`
	Total      uint64  `json:"total"`
	Success    uint64  `json:"success"`
	Failed     uint64  `json:"failed"`
	Reuses     uint64  `json:"reuses"`
	Retries    uint64  `json:"retries"`
	Redirects  uint64  `json:"redirects"`
	Active     int64   `json:"active"`
	Idle       int64   `json:"idle"`
	Waiters    int64   `json:"waiters"`
	RPS        float64 `json:"rps"`
	Goroutines int     `json:"goroutines"`
}

// PoolSnapshot is the JSON rendering of registry occupancy.
type PoolSnapshot struct {
	Idle    int            `json:"idle"`
	PerHost map[string]int `json:"per_host"`
	Waiters int            `json:"waiters"`
}

// Server observes one engine over HTTP.
type Server struct {
	eng *engine.Engine
	mux *http.ServeMux

	// tick is the SSE push interval; tests shorten it.
	tick time.Duration
}

// NewServer creates a Server observing eng.
func NewServer(eng *engine.Engine) *Server {
	s := &Server{eng: eng, tick: 250 * time.Millisecond}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/metrics", s.handleMetrics)
	mux.HandleFunc("/api/metrics/stream", s.handleMetricsStream)
	mux.HandleFunc("/api/pool", s.handlePool)
	s.mux = mux
	return s
}

// ServeHTTP implements http.Handler so the server can mount anywhere.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe runs a standalone server on addr.  It blocks.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}

func (s *Server) snapshot() MetricsSnapshot {
	m := s.eng.Metrics().Snap()
	return MetricsSnapshot{
		Timestamp:  time.Now().UnixMilli(),
		Total:      m.Total,
		Success:    m.Success,
		Failed:     m.Failed,
		Reuses:     m.Reuses,
		Retries:    m.Retries,
		Redirects:  m.Redirects,
		Active:     m.Active,
		Idle:       m.Idle,
		Waiters:    m.Waiters,
		RPS:        s.eng.Metrics().RequestsPerSecond(),
		Goroutines: runtime.NumGoroutine(),
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.snapshot())
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	p := s.eng.PoolSnapshot()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(PoolSnapshot{
		Idle:    p.Idle,
		PerHost: p.PerHost,
		Waiters: p.Waiters,
	})
}

func (s *Server) handleMetricsStream(w http.ResponseWriter, r *http.Request) {
	fl, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			payload, err := json.Marshal(s.snapshot())
			if err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			fl.Flush()
		}
	}
}
