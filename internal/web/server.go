// Package web provides an HTTP status server for the signal controller.
package web

import (
	"context"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sweeney/signal-controller/internal/clock"
	"github.com/sweeney/signal-controller/internal/status"
)

// DefaultLiveInterval is how often /live pushes a status snapshot.
const DefaultLiveInterval = time.Second

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Any origin may watch the read-only stream
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer   *http.Server
	tracker      *status.Tracker
	clock        clock.Clock
	liveInterval time.Duration

	// mu guards closed and every live.Add, so no stream starts once
	// Shutdown is waiting on live.
	mu      sync.Mutex
	closed  bool
	closing chan struct{}
	live    sync.WaitGroup
}

// New creates a Server that reads state from the given tracker. Live
// streams tick on clk. liveInterval <= 0 uses DefaultLiveInterval.
func New(addr string, tracker *status.Tracker, clk clock.Clock, liveInterval time.Duration) *Server {
	if liveInterval <= 0 {
		liveInterval = DefaultLiveInterval
	}
	s := &Server{
		tracker:      tracker,
		clock:        clk,
		liveInterval: liveInterval,
		closing:      make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/live", s.handleLive)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server and ends all live streams.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.closing)
	}
	s.mu.Unlock()

	err := s.httpServer.Shutdown(ctx)
	s.live.Wait()
	return err
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// handleLive streams a status snapshot on connect and every liveInterval
// until the client goes away or the server shuts down.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	s.live.Add(1)
	s.mu.Unlock()
	defer s.live.Done()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		log.Printf("web: live upgrade: %v", err)
		return
	}
	defer conn.Close()

	// Reads are only needed to notice the client closing
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := s.clock.NewTicker(s.liveInterval)
	defer ticker.Stop()

	for {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, status.FormatJSON(s.tracker.Snapshot())); err != nil {
			return
		}

		select {
		case <-gone:
			return
		case <-s.closing:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
			conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		case <-ticker.C():
		}
	}
}
