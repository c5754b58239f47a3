// Package monitor serves the guidance engine over HTTP: JSON status and
// plans, an operator command endpoint, the plan journal, and debug charts.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tailscale.com/tsweb"

	"github.com/fieldguide/guidance/internal/httputil"
	"github.com/fieldguide/guidance/internal/monitoring"
	"github.com/fieldguide/guidance/internal/pipeline"
	"github.com/fieldguide/guidance/internal/posefeed"
	"github.com/fieldguide/guidance/internal/storage/sqlite"
	"github.com/fieldguide/guidance/internal/version"
)

// Engine is the part of *pipeline.Engine the server uses.
type Engine interface {
	Snapshot() pipeline.Snapshot
	Enqueue(ctx context.Context, ev posefeed.Event) error
}

// Journal is the read side of the plan journal.
type Journal interface {
	List(ctx context.Context, limit int) ([]*sqlite.Entry, error)
	Get(ctx context.Context, id string) (*sqlite.Entry, error)
}

// Config configures a Server. Journal may be nil.
type Config struct {
	Address string
	Engine  Engine
	Journal Journal
}

// Server is the HTTP front end.
type Server struct {
	address string
	engine  Engine
	journal Journal
	mux     *http.ServeMux
	server  *http.Server
}

const (
	defaultListLimit = 20
	maxListLimit     = 500
	shutdownTimeout  = 2 * time.Second
)

// NewServer creates a server with every route registered.
func NewServer(cfg Config) *Server {
	s := &Server{
		address: cfg.Address,
		engine:  cfg.Engine,
		journal: cfg.Journal,
		mux:     http.NewServeMux(),
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:              s.address,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          log.New(monitoring.Writer(), "[http] ", 0),
	}
	return s
}

// ServeMux exposes the mux so other packages can attach admin routes.
func (s *Server) ServeMux() *http.ServeMux { return s.mux }

// Start serves until ctx is done, then shuts down gracefully. It returns
// early if the listener cannot be opened.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errc := make(chan error, 1)
	go func() {
		monitoring.Logf("Starting HTTP server on %s", ln.Addr())
		errc <- s.server.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	monitoring.Logf("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
		if err := s.server.Close(); err != nil {
			monitoring.Logf("HTTP server force close error: %v", err)
		}
	}
	<-errc
	monitoring.Logf("HTTP server routine stopped")
	return nil
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/plan", s.handlePlan)
	s.mux.HandleFunc("/api/plan/active", s.handleActivePlan)
	s.mux.HandleFunc("/api/plans", s.handlePlans)
	s.mux.HandleFunc("/api/plans/", s.handlePlanEntry)
	s.mux.HandleFunc("/api/command", s.handleCommand)

	debug := tsweb.Debugger(s.mux)
	debug.HandleFunc("plan-chart", "Current plan and vehicle (ECharts)", s.handlePlanChart)
	debug.HandleFunc("plan.png", "Current plan and vehicle (PNG)", s.handlePlanPNG)
	debug.HandleSilentFunc("snapshot", s.handleStatus)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{
		"status":     "ok",
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, statusView(s.engine.Snapshot()))
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, planView(s.engine.Snapshot().Plan))
}

func (s *Server) handleActivePlan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, planView(s.engine.Snapshot().Active))
}

// handlePlans lists journal entries, newest first.
// Query params:
//   - limit (optional; default 20, max 500)
func (s *Server) handlePlans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if s.journal == nil {
		httputil.NotFound(w, "plan journal disabled")
		return
	}
	limit := defaultListLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		v, err := strconv.Atoi(l)
		if err != nil || v <= 0 || v > maxListLimit {
			httputil.BadRequest(w, fmt.Sprintf("limit must be between 1 and %d", maxListLimit))
			return
		}
		limit = v
	}
	entries, err := s.journal.List(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("list plans: %v", err))
		return
	}
	if entries == nil {
		entries = []*sqlite.Entry{}
	}
	httputil.WriteJSONOK(w, entries)
}

func (s *Server) handlePlanEntry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if s.journal == nil {
		httputil.NotFound(w, "plan journal disabled")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/plans/")
	if id == "" || strings.Contains(id, "/") {
		httputil.NotFound(w, "no such plan")
		return
	}
	entry, err := s.journal.Get(r.Context(), id)
	if errors.Is(err, sqlite.ErrPlanNotFound) {
		httputil.NotFound(w, "no such plan")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("get plan: %v", err))
		return
	}
	httputil.WriteJSONOK(w, entry)
}

// commandRequest is the JSON body of POST /api/command. A text/plain body
// is read as one line per command instead.
type commandRequest struct {
	Lines []string `json:"lines"`
}

// handleCommand accepts pose-feed lines from an operator. Every line is
// parsed before any is applied, so a bad batch changes nothing.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}

	var lines []string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req commandRequest
		if err := httputil.DecodeJSON(w, r, &req); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		lines = req.Lines
	} else {
		body, err := httputil.ReadBody(w, r)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		lines = strings.Split(string(body), "\n")
	}

	events := make([]posefeed.Event, 0, len(lines))
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ev, err := posefeed.ParseLine(line)
		if err != nil {
			httputil.BadRequest(w, fmt.Sprintf("line %d: %v", i+1, err))
			return
		}
		events = append(events, ev)
	}
	if len(events) == 0 {
		httputil.BadRequest(w, "no commands")
		return
	}

	for i, ev := range events {
		if err := s.engine.Enqueue(r.Context(), ev); err != nil {
			httputil.WriteJSONError(w, http.StatusServiceUnavailable, fmt.Sprintf("enqueue %d of %d: %v", i+1, len(events), err))
			return
		}
	}
	monitoring.Logf("accepted %d operator lines from %s", len(events), r.RemoteAddr)
	httputil.WriteJSON(w, http.StatusAccepted, map[string]int{"accepted": len(events)})
}
