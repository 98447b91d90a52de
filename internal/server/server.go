// Package server exposes the monitor's HTTP surface: health and readiness
// probes, Prometheus metrics, a JSON state snapshot, and a live websocket
// stream of alert events for the UI layer.
//
// No raw audio samples ever cross this surface — only derived levels and
// alert events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hearguard/hearguard/internal/alert"
	"github.com/hearguard/hearguard/internal/degrade"
	"github.com/hearguard/hearguard/internal/health"
	"github.com/hearguard/hearguard/internal/pipeline"
)

// writeTimeout bounds a single websocket write; a client that cannot keep up
// is disconnected rather than allowed to stall the broadcaster.
const writeTimeout = 5 * time.Second

// StateSnapshot is the /state response body.
type StateSnapshot struct {
	Alert       alert.State            `json:"alert"`
	Pipeline    pipeline.StatsSnapshot `json:"pipeline"`
	Degradation degrade.Snapshot       `json:"degradation"`
}

// Server serves the monitor's HTTP endpoints on one listener.
type Server struct {
	addr    string
	machine *alert.Machine
	stats   *pipeline.Stats
	ctrl    *degrade.Controller
	checks  *health.Handler

	mu   sync.Mutex
	subs map[chan alert.Event]struct{}
}

// New creates a [Server] for the given subsystems. addr is the TCP listen
// address.
func New(addr string, machine *alert.Machine, stats *pipeline.Stats, ctrl *degrade.Controller, checks *health.Handler) *Server {
	return &Server{
		addr:    addr,
		machine: machine,
		stats:   stats,
		ctrl:    ctrl,
		checks:  checks,
		subs:    make(map[chan alert.Event]struct{}),
	}
}

// Handler returns the server's route mux. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.checks.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /state", s.handleState)
	mux.HandleFunc("POST /pressure", s.handlePressure)
	mux.HandleFunc("GET /ws", s.handleWS)
	return mux
}

// Run serves HTTP until ctx is cancelled, then shuts the listener down
// gracefully. Cancellation returns nil.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Broadcast fans one alert event out to all connected websocket clients.
// Slow clients drop events rather than stalling the caller.
func (s *Server) Broadcast(ev alert.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sub := range s.subs {
		select {
		case sub <- ev:
		default:
			slog.Warn("websocket client falling behind, dropping event",
				"kind", ev.Kind.String())
		}
	}
}

// Pump forwards events from ch to all websocket subscribers until ch closes.
// Wire it to an [alert.ChannelSink].
func (s *Server) Pump(ch <-chan alert.Event) {
	for ev := range ch {
		s.Broadcast(ev)
	}
}

func (s *Server) subscribe() chan alert.Event {
	sub := make(chan alert.Event, 32)
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
	return sub
}

func (s *Server) unsubscribe(sub chan alert.Event) {
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
}

// handleState serves a point-in-time JSON snapshot of the alert machine, the
// pipeline statistics, and the degradation controller.
func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	snap := StateSnapshot{
		Alert:       s.machine.Snapshot(),
		Pipeline:    s.stats.Snapshot(),
		Degradation: s.ctrl.Snapshot(),
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}

// handlePressure forwards an externally reported resource-pressure signal
// (platform low-memory or thermal monitors) to the degradation controller.
// The body is {"kind": "low-memory"} or {"kind": "thermal"}.
func (s *Server) handlePressure(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Kind string `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"malformed body"}`, http.StatusBadRequest)
		return
	}

	var p degrade.Pressure
	switch body.Kind {
	case degrade.PressureLowMemory.String():
		p = degrade.PressureLowMemory
	case degrade.PressureThermal.String():
		p = degrade.PressureThermal
	default:
		http.Error(w, `{"error":"unknown pressure kind"}`, http.StatusBadRequest)
		return
	}

	s.ctrl.SignalPressure(p)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]string{"pressure": p.String()}); err != nil {
		slog.Debug("pressure response write failed", "err", err)
	}
}

// handleWS upgrades the connection and streams alert events as JSON text
// messages. The current state snapshot is sent first so a reconnecting
// client never misses an active alert.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Error("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	sub := s.subscribe()
	defer s.unsubscribe(sub)

	ctx := r.Context()

	snap := s.machine.Snapshot()
	if err := writeJSON(ctx, conn, map[string]any{"kind": "snapshot", "state": snap}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "server shutting down")
			return
		case ev := <-sub:
			if err := writeJSON(ctx, conn, ev); err != nil {
				slog.Debug("websocket write failed, dropping client", "err", err)
				return
			}
		}
	}
}

// writeJSON marshals v and writes it as one text message with a bounded
// deadline.
func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
