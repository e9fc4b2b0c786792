// Package server exposes the command center over HTTP and WebSocket.
package server

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/opentalon/commandcenter/internal/actor"
	"github.com/opentalon/commandcenter/internal/config"
	"github.com/opentalon/commandcenter/internal/dispatch"
	"github.com/opentalon/commandcenter/internal/history"
	"github.com/opentalon/commandcenter/internal/metrics"
	"github.com/opentalon/commandcenter/internal/orchestrator"
	"github.com/opentalon/commandcenter/internal/version"
)

const (
	defaultHistoryLimit = 10
	maxBodyBytes        = 1 << 20
)

// Backend is the command surface the server exposes.
type Backend interface {
	ResolveAndDispatch(ctx context.Context, text string) dispatch.Result
	RunWorkflow(ctx context.Context, name string, payload map[string]any) *orchestrator.Result
	Workflows() []orchestrator.Definition
	History(ctx context.Context, limit int) ([]history.Entry, error)
	Suggestions(query string) []string
}

type Server struct {
	backend Backend
	cfg     config.ServerConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
	handler http.Handler
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option { return func(s *Server) { s.logger = l } }

// WithMetrics serves m on /metrics.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Server) { s.metrics = m } }

func New(backend Backend, cfg config.ServerConfig, opts ...Option) *Server {
	s := &Server{
		backend: backend,
		cfg:     cfg,
		logger:  zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	s.handler = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	api := http.NewServeMux()
	api.HandleFunc("POST /execute", s.handleExecute)
	api.HandleFunc("POST /workflow", s.handleWorkflow)
	api.HandleFunc("GET /workflows", s.handleWorkflows)
	api.HandleFunc("GET /history", s.handleHistory)
	api.HandleFunc("GET /suggestions", s.handleSuggestions)
	api.HandleFunc("GET /command-suggestions", s.handleSuggestions)
	api.HandleFunc("GET /version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, version.Get())
	})
	api.HandleFunc("GET /ws", s.handleWS)
	mux.Handle("/", s.requireToken(api))

	return s.logRequests(mux)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.logger.Info("server listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if serveErr := <-errc; serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) && err == nil {
		err = serveErr
	}
	return err
}

type executeRequest struct {
	Command string `json:"command"`
	Session string `json:"session,omitempty"`
}

type workflowRequest struct {
	Workflow string         `json:"workflow"`
	Payload  map[string]any `json:"payload,omitempty"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		writeError(w, http.StatusBadRequest, "No command provided")
		return
	}
	ctx := actor.WithSession(r.Context(), req.Session)
	res := s.backend.ResolveAndDispatch(ctx, req.Command)
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "result": res})
}

func (s *Server) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	var req workflowRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Workflow == "" {
		writeError(w, http.StatusBadRequest, "Missing workflow name")
		return
	}
	res := s.backend.RunWorkflow(r.Context(), req.Workflow, req.Payload)
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "result": res})
}

type workflowInfo struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Requires    []string   `json:"requires,omitempty"`
	Steps       []stepInfo `json:"steps"`
}

type stepInfo struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
	Action   string `json:"action"`
	Policy   string `json:"policy"`
}

func (s *Server) handleWorkflows(w http.ResponseWriter, _ *http.Request) {
	defs := s.backend.Workflows()
	out := make([]workflowInfo, 0, len(defs))
	for _, d := range defs {
		info := workflowInfo{Name: d.Name, Description: d.Description, Requires: d.Requires}
		for _, st := range d.Steps {
			info.Steps = append(info.Steps, stepInfo{Name: st.Name, Provider: st.Provider, Action: st.Action, Policy: string(st.Policy)})
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "workflows": out})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	entries, err := s.backend.History(r.Context(), limit)
	if err != nil {
		s.logger.Error("read history", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "history": entries})
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	suggestions := s.backend.Suggestions(r.URL.Query().Get("query"))
	if suggestions == nil {
		suggestions = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "suggestions": suggestions})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"status": "error", "message": msg})
}

// requireToken checks the bearer token. Browsers cannot set headers on a
// WebSocket handshake, so a token query parameter is also accepted.
func (s *Server) requireToken(next http.Handler) http.Handler {
	if s.cfg.Token == "" {
		return next
	}
	want := []byte(s.cfg.Token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if got == "" {
			got = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack passes WebSocket upgrades through to the underlying connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	r.status = http.StatusSwitchingProtocols
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
