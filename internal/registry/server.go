package registry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gorilla/mux"

	"github.com/archivist-project/archivist-sync/internal/manifestfmt"
)

// DiscoveryResponse is the envelope returned by GET /manifests.
type DiscoveryResponse struct {
	PeerID    string                   `json:"peerId"`
	Manifests []manifestfmt.Descriptor `json:"manifests"`
	Timestamp time.Time                `json:"timestamp"`
}

// Event is broadcast to live /ws/events subscribers whenever a descriptor
// is registered — a low-latency complement to polling /manifests.
type Event struct {
	FolderID   string                 `json:"folderId"`
	Descriptor manifestfmt.Descriptor `json:"descriptor"`
}

// Server is the HTTP discovery service: GET /health
// (unauthenticated), GET /manifests (IP allow-listed), GET /ws/events
// (allow-listed live descriptor stream).
type Server struct {
	registry   *Registry
	allowList  AllowList
	logger     *slog.Logger
	httpServer *http.Server

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan Event
}

// NewServer builds a discovery Server bound to addr (e.g. "0.0.0.0:8085").
func NewServer(addr string, reg *Registry, allowList AllowList, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		registry:  reg,
		allowList: allowList,
		logger:    logger,
		clients:   make(map[*wsClient]struct{}),
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/manifests", s.handleManifests).Methods(http.MethodGet)
	router.HandleFunc("/ws/events", s.handleEvents).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Register satisfies syncengine.DescriptorRegistrar: it records the
// descriptor in the underlying Registry and broadcasts it to any live
// /ws/events subscribers. This is the single entry point the Sync Engine
// calls after authoring a manifest.
func (s *Server) Register(folderID string, descriptor manifestfmt.Descriptor) {
	s.registry.Register(folderID, descriptor)
	s.Broadcast(Event{FolderID: folderID, Descriptor: descriptor})
}

// Handler exposes the server's HTTP handler directly, for tests that want
// to drive it via httptest without binding a real port.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Broadcast pushes ev to every currently-connected /ws/events subscriber.
// Called by the Sync Engine (via the Registrar interface) right after a
// descriptor is registered. Non-blocking: a slow or gone client is simply
// skipped, never allowed to stall the registering goroutine.
func (s *Server) Broadcast(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for c := range s.clients {
		select {
		case c.send <- ev:
		default:
			s.logger.Warn("dropping event for slow websocket client")
		}
	}
}

// Run starts serving and blocks until ctx is canceled, at which point it
// performs a graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("manifest discovery server listening", slog.String("addr", s.httpServer.Addr))

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err

			return
		}

		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleManifests(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r) {
		return
	}

	resp := DiscoveryResponse{
		PeerID:    s.registry.PeerID(),
		Manifests: s.registry.All(),
		Timestamp: time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r) {
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", slog.String("error", err.Error()))

		return
	}

	client := &wsClient{conn: conn, send: make(chan Event, 16)}

	s.mu.Lock()
	s.clients[client] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, client)
		s.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := r.Context()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-client.send:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}

			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()

			if err != nil {
				return
			}
		}
	}
}

// authorize enforces the IP allow-list. Rejected requests
// return 401 without revealing any internal state.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	ip := net.ParseIP(host)
	if ip == nil || !s.allowList.Allowed(ip) {
		s.logger.Warn("discovery request denied by allow-list", slog.String("remote_addr", r.RemoteAddr))
		w.WriteHeader(http.StatusUnauthorized)

		return false
	}

	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
