// Package nodetest provides an in-memory fake audio node — REST endpoints
// plus a WebSocket event stream — for exercising the node and player
// packages without a real Lavalink-protocol server.
package nodetest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Server is a fake audio node exposing the same REST+WebSocket surface a
// real one does, backed by an in-memory player map.
type Server struct {
	httpServer *httptest.Server
	Password   string

	mu      sync.Mutex
	players map[string]map[string]any
	loadFn  func(identifier string) map[string]any
	infoFn  func() map[string]any

	conn     *websocket.Conn
	connOnce chan *websocket.Conn
}

// New starts a [Server] listening on a local loopback port. Call
// [Server.Close] when done.
func New(password string) *Server {
	s := &Server{
		Password: password,
		players:  make(map[string]map[string]any),
		connOnce: make(chan *websocket.Conn, 1),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v4/websocket", s.handleWebSocket)
	mux.HandleFunc("/v4/loadtracks", s.handleLoadTracks)
	mux.HandleFunc("/v4/decodetracks", s.handleDecodeTracks)
	mux.HandleFunc("/v4/info", s.handleInfo)
	mux.HandleFunc("/v4/sessions/", s.handleSessions)
	s.httpServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Session routes bypass the mux: it would redirect a path with an
		// empty session segment ("/v4/sessions//players/...", sent before
		// any "ready" frame) to a cleaned path as a GET.
		if strings.HasPrefix(r.URL.Path, "/v4/sessions/") {
			s.handleSessions(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	return s
}

// URL returns the server's http:// base URL.
func (s *Server) URL() string { return s.httpServer.URL }

// WSURL returns the server's ws:// base URL.
func (s *Server) WSURL() string { return "ws" + strings.TrimPrefix(s.httpServer.URL, "http") }

// Close shuts the server down.
func (s *Server) Close() { s.httpServer.Close() }

// SetLoadTracksResponder installs fn to compute the /v4/loadtracks
// response body for a given identifier.
func (s *Server) SetLoadTracksResponder(fn func(identifier string) map[string]any) {
	s.mu.Lock()
	s.loadFn = fn
	s.mu.Unlock()
}

// SetInfoResponder installs fn to compute the /v4/info response body.
func (s *Server) SetInfoResponder(fn func() map[string]any) {
	s.mu.Lock()
	s.infoFn = fn
	s.mu.Unlock()
}

// Conn blocks until a client has connected to /v4/websocket, then returns
// the server-side connection, so the test can push frames and inspect
// writes.
func (s *Server) Conn(timeout time.Duration) *websocket.Conn {
	select {
	case c := <-s.connOnce:
		s.connOnce <- c // allow repeated calls to observe the same conn
		return c
	case <-time.After(timeout):
		return nil
	}
}

// SendFrame writes v as a JSON text frame on the active connection.
func (s *Server) SendFrame(v any) error {
	conn := s.Conn(2 * time.Second)
	if conn == nil {
		return context.DeadlineExceeded
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// SendReady pushes a "ready" frame with the given session id.
func (s *Server) SendReady(sessionID string, resumed bool) error {
	return s.SendFrame(map[string]any{"op": "ready", "sessionId": sessionID, "resumed": resumed})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	select {
	case s.connOnce <- conn:
	default:
	}

	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

func (s *Server) handleLoadTracks(w http.ResponseWriter, r *http.Request) {
	identifier := r.URL.Query().Get("identifier")
	s.mu.Lock()
	fn := s.loadFn
	s.mu.Unlock()

	var body map[string]any
	if fn != nil {
		body = fn(identifier)
	} else {
		body = map[string]any{"loadType": "empty", "data": map[string]any{}}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleDecodeTracks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, []any{})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	fn := s.infoFn
	s.mu.Unlock()
	if fn != nil {
		writeJSON(w, http.StatusOK, fn())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":        map[string]any{"semver": "4.0.0"},
		"sourceManagers": []string{"youtube", "soundcloud"},
		"filters":        []string{"volume", "equalizer"},
		"plugins":        []any{},
	})
}

// handleSessions serves every /v4/sessions/{sid}/... endpoint: the
// session-level PATCH, the players listing, and per-guild player
// PATCH/DELETE.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v4/sessions/"), "/")
	if len(parts) == 0 {
		http.NotFound(w, r)
		return
	}

	switch {
	case len(parts) == 1: // /v4/sessions/{sid}
		writeJSON(w, http.StatusOK, map[string]any{"resuming": true, "timeout": 60})
	case len(parts) == 2 && parts[1] == "players": // GET players list
		s.mu.Lock()
		out := make([]any, 0, len(s.players))
		for guildID, p := range s.players {
			entry := map[string]any{"guildId": guildID}
			for k, v := range p {
				entry[k] = v
			}
			out = append(out, entry)
		}
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, out)
	case len(parts) == 3 && parts[1] == "players": // /players/{guildId}
		guildID := parts[2]
		s.handlePlayer(w, r, guildID)
	case len(parts) >= 4 && parts[1] == "players": // plugin-scoped /players/{guildId}/{subpath}
		guildID := parts[2]
		s.mu.Lock()
		_, ok := s.players[guildID]
		s.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"message": "Guild not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{})
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handlePlayer(w http.ResponseWriter, r *http.Request, guildID string) {
	switch r.Method {
	case http.MethodPatch:
		var patch map[string]any
		_ = json.NewDecoder(r.Body).Decode(&patch)
		s.mu.Lock()
		cur, ok := s.players[guildID]
		if !ok {
			cur = make(map[string]any)
		}
		for k, v := range patch {
			cur[k] = v
		}
		s.players[guildID] = cur
		s.mu.Unlock()

		resp := map[string]any{"guildId": guildID}
		for k, v := range cur {
			resp[k] = v
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodDelete:
		s.mu.Lock()
		delete(s.players, guildID)
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	case http.MethodGet:
		s.mu.Lock()
		p, ok := s.players[guildID]
		s.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"message": "Guild not found"})
			return
		}
		resp := map[string]any{"guildId": guildID}
		for k, v := range p {
			resp[k] = v
		}
		writeJSON(w, http.StatusOK, resp)
	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
