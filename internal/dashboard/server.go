// Package dashboard serves the live sync-health feed.
//
// A small WebSocket server broadcasts sync status transitions, newly
// recorded sync errors, lock changes, and structured log entries to
// attached observers. It is observability only: entity data never flows
// through it.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/syncboard/syncboard/internal/errtrack"
	"github.com/syncboard/syncboard/internal/logging"
	"github.com/syncboard/syncboard/internal/model"
)

// MessageType tags a dashboard broadcast.
type MessageType string

const (
	// MessageTypeStatus carries a SyncStatus snapshot.
	MessageTypeStatus MessageType = "sync_status"
	// MessageTypeSyncError carries a newly recorded sync error.
	MessageTypeSyncError MessageType = "sync_error"
	// MessageTypeLock carries a lock acquisition, release, or expiry.
	MessageTypeLock MessageType = "lock_update"
	// MessageTypeLog carries a structured log entry.
	MessageTypeLog MessageType = "log_entry"
	// MessageTypeMetrics carries a SyncMetrics snapshot.
	MessageTypeMetrics MessageType = "metrics"
)

// Message is one broadcast frame.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Server manages observer connections and fans out messages.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewServer builds a dashboard server listening on addr.
func NewServer(addr string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[dashboard] ", log.LstdFlags)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      addr,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}
}

// Start begins serving. Returns once the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("server error: %v", err)
		}
	}()
	return nil
}

// Stop closes all observer connections and shuts the server down.
func (s *Server) Stop() error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("dashboard shutdown: %w", err)
	}
	s.wg.Wait()
	return nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of attached observers.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Broadcast queues a message for every observer. Dropped, with a warning,
// if the queue is full.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Printf("WARNING: broadcast queue full, dropping %s", msg.Type)
	}
}

// PublishStatus broadcasts a sync status snapshot.
func (s *Server) PublishStatus(status model.SyncStatus) {
	s.publish(MessageTypeStatus, status)
}

// PublishError broadcasts a recorded sync error.
func (s *Server) PublishError(se *errtrack.SyncError) {
	s.publish(MessageTypeSyncError, se)
}

// PublishLock broadcasts a lock change.
func (s *Server) PublishLock(lock model.ProjectLock) {
	s.publish(MessageTypeLock, lock)
}

// PublishLogEntry broadcasts a structured log entry. Suitable as a
// logging.Logger subscriber.
func (s *Server) PublishLogEntry(entry logging.Entry) {
	s.publish(MessageTypeLog, entry)
}

// PublishMetrics broadcasts a metrics snapshot.
func (s *Server) PublishMetrics(m errtrack.Metrics) {
	s.publish(MessageTypeMetrics, m)
}

func (s *Server) publish(t MessageType, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Printf("failed to encode %s: %v", t, err)
		return
	}
	s.Broadcast(Message{Type: t, Timestamp: time.Now().UTC(), Data: data})
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now().UTC()
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			conns := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				conns = append(conns, conn)
			}
			s.clientsMu.RUnlock()

			// Writes happen outside the lock so a slow observer cannot
			// stall new connections.
			for _, conn := range conns {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("websocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	total := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Printf("observer connected (total: %d)", total)

	go s.readLoop(conn)
}

// readLoop drains observer frames so pings are answered; client messages
// are otherwise ignored.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)
	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, ok := s.clients[conn]; !ok {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, conn)
	total := len(s.clients)
	s.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Printf("observer disconnected (total: %d)", total)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>syncboard dashboard</title></head>
<body>
<h1>syncboard sync-health feed</h1>
<p>WebSocket endpoint: <code>ws://%s/ws</code></p>
<p>Health check: <a href="/health">/health</a></p>
</body>
</html>`, r.Host)
}
