// Package server provides the bashnotes HTTP server: the websocket delivery
// channel, a small JSON API and the client page.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jxucoder/bashnotes/internal/config"
	"github.com/jxucoder/bashnotes/internal/notebook"
	"github.com/jxucoder/bashnotes/pkg/eventbus"
	"github.com/jxucoder/bashnotes/pkg/model"
	"github.com/jxucoder/bashnotes/pkg/store"
)

// shutdownTimeout bounds a graceful shutdown: draining HTTP requests, then
// waiting for renders to tear down their containers.
const shutdownTimeout = 10 * time.Second

// Server is the bashnotes HTTP server.
type Server struct {
	config   *config.Config
	renderer *notebook.Renderer
	bus      eventbus.Bus
	store    store.RunStore // nil when history is disabled
	router   chi.Router

	mu      sync.Mutex
	conns   map[*conn]struct{}
	closing bool
	renders sync.WaitGroup
}

// New creates a Server. st may be nil.
func New(cfg *config.Config, renderer *notebook.Renderer, bus eventbus.Bus, st store.RunStore) *Server {
	s := &Server{
		config:   cfg,
		renderer: renderer,
		bus:      bus,
		store:    st,
		conns:    make(map[*conn]struct{}),
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on the configured address and serves until ctx is done. A
// failure to bind is returned immediately.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ServerAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.ServerAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done. It returns once every
// session's container has been torn down, or shutdownTimeout has passed.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler: s.router,
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		s.shutdown(srv)
	}()

	log.Printf("bashnotes server listening on %s, serving %s", ln.Addr(), s.config.Root)
	err := srv.Serve(ln)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	<-stopped
	return nil
}

// shutdown stops new work, kills every session's container so commands in
// flight end, then waits for requests and renders to finish.
func (s *Server) shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	log.Printf("Shutting down server")
	s.closeConns()
	s.renderer.Shutdown(ctx)
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Warning: HTTP shutdown: %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.renders.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Printf("Warning: %d sessions still open after %s", s.renderer.Live(), shutdownTimeout)
	}
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Minute))
		r.Get("/tree", s.handleTree)
		r.Get("/render", s.handleRender)
		r.Post("/changed", s.handleChanged)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
	})

	// Health check.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	return r
}

// --- Connections ---

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := newConn(s, ws)
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		ws.Close()
		return
	}
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	log.Printf("WebSocket connected from %s", ws.RemoteAddr())
	c.serve()
	log.Printf("WebSocket from %s closed", ws.RemoteAddr())
}

func (s *Server) forget(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

// goRender runs fn in a goroutine that shutdown waits for. Nothing starts
// once the server is closing.
func (s *Server) goRender(fn func()) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.renders.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.renders.Done()
		fn()
	}()
}

// closeConns closes every open websocket. Hijacked connections are not
// closed by http.Server.Shutdown.
func (s *Server) closeConns() {
	s.mu.Lock()
	s.closing = true
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

// --- Request/Response types ---

type changedRequest struct {
	Path string `json:"path"`
}

type changedResponse struct {
	Path string `json:"path"`
}

type runResponse struct {
	*model.Run
	Outputs []*model.Output `json:"outputs"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// --- Handlers ---

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(indexHTML))
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	tree, err := s.renderer.Tree()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	execute, _ := strconv.ParseBool(r.URL.Query().Get("exec"))

	html, err := s.renderer.Render(r.Context(), path, execute)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(html))
}

func (s *Server) handleChanged(w http.ResponseWriter, r *http.Request) {
	var req changedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := s.renderer.Resolve(req.Path)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	s.bus.Publish(abs, &model.FileEvent{Path: abs, At: time.Now().UTC()})
	writeJSON(w, http.StatusAccepted, changedResponse{Path: abs})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "history is disabled")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be a number")
			return
		}
		limit = n
	}

	runs, err := s.store.ListRuns(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []*model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "history is disabled")
		return
	}
	id := chi.URLParam(r, "id")
	run, err := s.store.GetRun(id)
	if err != nil {
		writeError(w, statusFor(err), "run not found")
		return
	}
	outs, err := s.store.GetOutputs(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if outs == nil {
		outs = []*model.Output{}
	}
	writeJSON(w, http.StatusOK, runResponse{Run: run, Outputs: outs})
}

// --- Helpers ---

func statusFor(err error) int {
	switch {
	case errors.Is(err, notebook.ErrOutsideRoot), errors.Is(err, notebook.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, os.ErrNotExist), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// truncate shortens s to at most maxLen runes, ending in "...".
func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen-3]) + "..."
}
