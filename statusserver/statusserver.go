// Package statusserver exposes the read-only ops surface the dashboard
// front-end polls or subscribes to: /health, /ready, /status, and a
// websocket push channel for live interval records. It never makes a
// decision or issues an inverter command — it only reads the ledger's
// latest snapshot and rebroadcasts what the controller already wrote.
package statusserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oskarsson/solkvot/ledger"
)

// Reader is the subset of *ledger.Store the status server depends on.
type Reader interface {
	Latest(ctx context.Context, systemID string) (*ledger.IntervalRecord, error)
}

// Server is the read-only ops HTTP+websocket surface.
type Server struct {
	systemID  string
	reader    Reader
	logger    *log.Logger
	startTime time.Time

	server   *http.Server
	upgrader websocket.Upgrader

	clients   sync.Map // *websocket.Conn -> true
	broadcast chan []byte
	done      chan struct{}

	mu      sync.Mutex
	running bool
}

// New returns a Server listening on port, or nil if port <= 0 (disabled).
func New(port int, systemID string, reader Reader, logger *log.Logger) *Server {
	if port <= 0 {
		return nil
	}
	if logger == nil {
		logger = log.Default()
	}

	mux := http.NewServeMux()
	s := &Server{
		systemID:  systemID,
		reader:    reader,
		logger:    logger,
		startTime: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		broadcast: make(chan []byte, 256),
		done:      make(chan struct{}),
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}

	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/ready", s.readinessHandler)
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/ws", s.wsHandler)
	mux.HandleFunc("/", s.rootHandler)

	return s
}

// Start begins serving and running the broadcast fan-out goroutine.
func (s *Server) Start() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	go s.handleBroadcasts()
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("statusserver: %v", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the server down, closing any open websockets.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	close(s.done)
	s.clients.Range(func(key, _ any) bool {
		if conn, ok := key.(*websocket.Conn); ok {
			conn.Close()
		}
		return true
	})
	return s.server.Shutdown(ctx)
}

// Publish pushes rec to every connected websocket client. The daemon
// calls this after each tick with an OK outcome, once the record is
// durable — this server
// never originates a decision, it only echoes what already happened.
func (s *Server) Publish(rec *ledger.IntervalRecord) {
	if s == nil || rec == nil {
		return
	}
	payload, err := json.Marshal(recordView(rec))
	if err != nil {
		s.logger.Printf("statusserver: marshal interval record: %v", err)
		return
	}
	select {
	case s.broadcast <- payload:
	default:
		s.logger.Printf("statusserver: broadcast channel full, dropping update")
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	resp := map[string]any{
		"status":    statusString(running),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.startTime).String(),
	}
	w.Header().Set("Content-Type", "application/json")
	if !running {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rec, err := s.reader.Latest(r.Context(), s.systemID)
	ready := err == nil && rec != nil && time.Since(rec.IntervalEnd) < 30*time.Minute

	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]any{
		"ready":     ready,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rec, err := s.reader.Latest(r.Context(), s.systemID)
	if err != nil {
		http.Error(w, fmt.Sprintf("read ledger: %v", err), http.StatusInternalServerError)
		return
	}

	resp := map[string]any{
		"system_id": s.systemID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if rec != nil {
		resp["latest_interval"] = recordView(rec)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"service": "solkvot",
		"endpoints": map[string]string{
			"health": "liveness probe",
			"ready":  "readiness probe, true once a recent interval exists",
			"status": "latest interval record snapshot",
			"ws":     "push channel for newly written interval records",
		},
	})
}

func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("statusserver: websocket upgrade: %v", err)
		return
	}
	s.clients.Store(conn, true)

	if rec, err := s.reader.Latest(r.Context(), s.systemID); err == nil && rec != nil {
		conn.WriteJSON(recordView(rec))
	}

	defer func() {
		s.clients.Delete(conn)
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Printf("statusserver: websocket error: %v", err)
			}
			return
		}
	}
}

func (s *Server) handleBroadcasts() {
	for {
		select {
		case message := <-s.broadcast:
			s.clients.Range(func(key, _ any) bool {
				conn, ok := key.(*websocket.Conn)
				if !ok {
					return true
				}
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					conn.Close()
					s.clients.Delete(conn)
				}
				return true
			})
		case <-s.done:
			return
		}
	}
}

func statusString(running bool) string {
	if running {
		return "healthy"
	}
	return "unhealthy"
}

// recordView is the JSON shape pushed to dashboard consumers; a thin
// projection of ledger.IntervalRecord with enum fields rendered as their
// fixed textual form.
func recordView(rec *ledger.IntervalRecord) map[string]any {
	return map[string]any{
		"system_id":               rec.SystemID,
		"interval_start":          rec.IntervalStart.Format(time.RFC3339),
		"interval_end":            rec.IntervalEnd.Format(time.RFC3339),
		"action":                  rec.Action.String(),
		"power_kw":                rec.PowerKW,
		"price":                   rec.Price,
		"price_tier":              rec.PriceTier.String(),
		"soc_start":               rec.SOCStart,
		"interval_cost":           rec.IntervalCost,
		"cumulative_charge_cost":  rec.CumulativeChargeCost,
		"avg_charge_price":        rec.AvgChargePrice,
		"energy_in_battery_kwh":   rec.EnergyInBatteryKWh,
		"decision_source":         rec.DecisionSource,
	}
}
