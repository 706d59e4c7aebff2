package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"log"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"holocam-go/internal/broadcast"
	"holocam-go/internal/camera"
	"holocam-go/internal/config"
	"holocam-go/internal/holography"
	"holocam-go/internal/settings"
	"holocam-go/internal/wifi"
)

//go:embed web/*
var webFS embed.FS

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingEvery       = (pongWait * 9) / 10
	snapshotTimeout = 3 * time.Second
)

type Server struct {
	cfg      config.AppConfig
	frames   *broadcast.Broadcaster
	registry *settings.Registry
	engine   *holography.Engine
	network  *wifi.Manager

	// reconSlots bounds the number of concurrent reconstructions.
	reconSlots chan struct{}

	upgrader websocket.Upgrader
	mu       sync.Mutex
	clients  map[*websocket.Conn]*sync.Mutex

	started       time.Time
	streamClients atomic.Int64
	snapshots     atomic.Uint64
	reconRuns     atomic.Uint64
	reconErrors   atomic.Uint64
}

func New(cfg config.AppConfig, frames *broadcast.Broadcaster, registry *settings.Registry, engine *holography.Engine, network *wifi.Manager) *Server {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &Server{
		cfg:        cfg,
		frames:     frames,
		registry:   registry,
		engine:     engine,
		network:    network,
		reconSlots: make(chan struct{}, workers),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]*sync.Mutex),
		started: time.Now(),
	}
}

// Run serves until the context is cancelled.
func Run(ctx context.Context, cfg config.AppConfig, frames *broadcast.Broadcaster, registry *settings.Registry, engine *holography.Engine, network *wifi.Manager) error {
	srv := New(cfg, frames, registry, engine, network)

	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	go srv.pushStatus(ctx)

	err := httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if sub, err := fs.Sub(webFS, "web"); err == nil {
		mux.Handle("/", http.FileServer(http.FS(sub)))
	}
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/snapshot", s.handleSnapshot)
	mux.HandleFunc("/settings", s.handleSettings)
	mux.HandleFunc("/reconstruction", s.handleReconstruction)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/wifi/status", s.handleWifiStatus)
	mux.HandleFunc("/wifi/scan", s.handleWifiScan)
	mux.HandleFunc("/wifi/connect", s.handleWifiConnect)
	mux.HandleFunc("/wifi/access_point", s.handleWifiAccessPoint)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/config", s.handleConfig)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"port":            s.cfg.Port,
		"sensor_endpoint": s.cfg.SensorEndpoint,
		"frame_width":     s.cfg.FrameWidth,
		"frame_height":    s.cfg.FrameHeight,
		"frame_rate":      s.cfg.FrameRate,
		"workers":         cap(s.reconSlots),
		"interface":       s.cfg.Interface,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.statusPayload(r.Context()))
}

func (s *Server) statusPayload(ctx context.Context) map[string]any {
	cam, recon := s.registry.Current()
	stats := s.frames.Stats()
	payload := map[string]any{
		"type":           "status",
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"camera":         cam,
		"reconstruction": recon,
		"wifi":           s.network.Status(ctx),
		"metrics": map[string]any{
			"frames_published_total":    stats.Published,
			"frames_sent_total":         stats.Sent,
			"frames_dropped_total":      stats.Dropped,
			"captures_total":            stats.Captures,
			"capture_errors_total":      stats.Errors,
			"snapshots_total":           s.snapshots.Load(),
			"reconstructions_total":     s.reconRuns.Load(),
			"reconstruction_errs_total": s.reconErrors.Load(),
			"stream_clients":            s.streamClients.Load(),
			"ws_clients":                s.clientCount(),
			"subscribers":               s.frames.SubscriberCount(),
		},
	}
	if latest := s.frames.Latest(); latest != nil {
		payload["last_frame_seq"] = latest.Seq
		payload["last_frame_time"] = latest.Timestamp.Format(time.RFC3339)
	}
	return payload
}

// reconstruct runs the engine inside a bounded worker slot.
func (s *Server) reconstruct(frame *camera.Frame, params holography.Parameters) (*camera.Frame, error) {
	s.reconSlots <- struct{}{}
	defer func() { <-s.reconSlots }()
	out, err := s.engine.Reconstruct(frame, params)
	if err != nil {
		s.reconErrors.Add(1)
		return nil, err
	}
	s.reconRuns.Add(1)
	return out, nil
}

func (s *Server) clientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// pushStatus feeds connected websocket clients a periodic status frame.
func (s *Server) pushStatus(ctx context.Context) {
	rate := s.cfg.StatusRate
	if rate <= 0 {
		rate = time.Second
	}
	ticker := time.NewTicker(rate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload, err := json.Marshal(s.statusPayload(ctx))
			if err != nil {
				continue
			}
			var stale []*websocket.Conn
			s.mu.Lock()
			for conn, writeMu := range s.clients {
				if err := s.writeMessage(conn, writeMu, websocket.TextMessage, payload); err != nil {
					stale = append(stale, conn)
				}
			}
			s.mu.Unlock()
			for _, conn := range stale {
				s.removeClient(conn)
			}
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	s.mu.Lock()
	writeMu := &sync.Mutex{}
	s.clients[conn] = writeMu
	s.mu.Unlock()

	if payload, err := json.Marshal(s.statusPayload(r.Context())); err == nil {
		_ = s.writeMessage(conn, writeMu, websocket.TextMessage, payload)
	}

	go func() {
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(pingEvery)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := s.writeMessage(conn, writeMu, websocket.PingMessage, nil); err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}()
		defer close(done)
		defer s.removeClient(conn)
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			var request map[string]any
			if err := json.Unmarshal(payload, &request); err != nil {
				continue
			}
			if request["type"] == "status_request" {
				if body, err := json.Marshal(s.statusPayload(context.Background())); err == nil {
					_ = s.writeMessage(conn, writeMu, websocket.TextMessage, body)
				}
			}
		}
	}()
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	conn.Close()
}

func (s *Server) writeMessage(conn *websocket.Conn, writeMu *sync.Mutex, messageType int, payload []byte) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("server: response encode failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
