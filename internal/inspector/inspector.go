package inspector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zeusync/nucleus/internal/config"
	"github.com/zeusync/nucleus/internal/core/ecs"
	"github.com/zeusync/nucleus/internal/core/events/bus"
	"github.com/zeusync/nucleus/internal/core/observability/log"
)

const (
	clientBuffer = 16
	writeTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Server exposes the statistics of the last frame over HTTP and streams each
// new frame to websocket clients.
type Server struct {
	addr   string
	logger log.Log
	events bus.EventBus
	sub    bus.Subscription

	mu      sync.RWMutex
	last    []byte
	clients map[*client]struct{}
	dropped uint64

	http     *http.Server
	listener net.Listener

	// Bus traffic seen as an observer
	trafficMu sync.Mutex
	published map[bus.Kind]uint64
	failed    uint64
}

var _ bus.Observer = (*Server)(nil)

// EventStats is the body of GET /events.
type EventStats struct {
	Published map[string]uint64 `json:"published"`
	Failed    uint64            `json:"failed"`
	Handlers  uint64            `json:"handlers"`
}

// New subscribes to frame completions on events and observes every delivery.
// Call Start to listen.
func New(cfg config.InspectorConfig, events bus.EventBus, logger log.Log) (*Server, error) {
	if logger == nil {
		logger = log.NewNop()
	}
	s := &Server{
		addr:      cfg.Addr,
		logger:    logger,
		events:    events,
		clients:   make(map[*client]struct{}),
		published: make(map[bus.Kind]uint64),
	}
	sub, err := events.Subscribe(bus.KindFrameCompleted, s.onFrame)
	if err != nil {
		return nil, fmt.Errorf("subscribe inspector: %w", err)
	}
	s.sub = sub
	events.AddObserver(s)
	return s, nil
}

// Handler serves /stats, /events and /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Start listens on the configured address in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("inspector listen: %w", err)
	}
	s.listener = listener
	s.http = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: writeTimeout}
	go func() {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("inspector stopped", log.Error(err))
		}
	}()
	s.logger.Info("inspector listening", log.String("addr", listener.Addr().String()))
	return nil
}

// Addr is the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop unsubscribes, disconnects every client and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	_ = s.sub.Cancel()
	s.events.RemoveObserver(s)

	s.mu.Lock()
	for c := range s.clients {
		delete(s.clients, c)
		close(c.send)
	}
	s.mu.Unlock()

	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Clients is the number of connected websocket clients.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Dropped counts frames not delivered to a client whose buffer was full.
func (s *Server) Dropped() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}

func (s *Server) OnPublish(event bus.Event) {
	s.trafficMu.Lock()
	s.published[event.Kind]++
	s.trafficMu.Unlock()
}

func (s *Server) OnDelivered(_ bus.Kind, _ int, err error, _ int64) {
	if err == nil {
		return
	}
	s.trafficMu.Lock()
	s.failed++
	s.trafficMu.Unlock()
}

// Events returns the bus traffic observed since New.
func (s *Server) Events() EventStats {
	s.trafficMu.Lock()
	out := EventStats{Published: make(map[string]uint64, len(s.published)), Failed: s.failed}
	for kind, n := range s.published {
		out.Published[kind.String()] = n
	}
	s.trafficMu.Unlock()
	out.Handlers = s.events.GetMetrics().DeliveredHandlers
	return out
}

func (s *Server) onFrame(event bus.Event) error {
	stats, ok := event.Data.(ecs.FrameStats)
	if !ok {
		return fmt.Errorf("inspector: unexpected frame payload %T", event.Data)
	}
	payload, err := json.Marshal(stats)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = payload
	for c := range s.clients {
		select {
		case c.send <- payload:
		default:
			// Slow client, it catches up on the next frame
			s.dropped++
		}
	}
	return nil
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.mu.RLock()
	payload := s.last
	s.mu.RUnlock()

	if payload == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Events()); err != nil {
		s.logger.Warn("encode event stats", log.Error(err))
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", log.Error(err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.logger.Debug("inspector client connected", log.String("remote", conn.RemoteAddr().String()))

	go s.writeLoop(c)
	s.readLoop(c)
}

func (s *Server) writeLoop(c *client) {
	defer c.conn.Close()
	for payload := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			s.disconnect(c)
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
}

// readLoop discards client messages until the connection closes.
func (s *Server) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			s.disconnect(c)
			return
		}
	}
}

func (s *Server) disconnect(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
		s.logger.Debug("inspector client disconnected")
	}
}
