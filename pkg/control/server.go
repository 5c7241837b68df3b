// Package control exposes a rule store over HTTP so rules and the global
// flag can be managed while a relay server is running.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jingkaihe/mocklock/internal/errx"
	"github.com/jingkaihe/mocklock/pkg/api"
	"github.com/jingkaihe/mocklock/pkg/authority"
)

const maxBodyBytes = 1 << 20

// EnabledPayload is the body of the global and per-rule enable endpoints.
type EnabledPayload struct {
	Enabled bool `json:"enabled"`
}

// ResolveRequest asks the store for a decision without going through a
// relay.
type ResolveRequest struct {
	URL    string `json:"url"`
	Method string `json:"method,omitempty"`
}

// ResolveResponse is the decision returned by POST /resolve.
type ResolveResponse struct {
	ShouldMock bool              `json:"shouldMock"`
	Response   *api.MockResponse `json:"response,omitempty"`
}

// CurlImportRequest is the body of POST /rules/import/curl.
type CurlImportRequest struct {
	Command string `json:"command"`
	Name    string `json:"name,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server routes control requests to a Store.
type Server struct {
	router *chi.Mux
	store  authority.Store
	logger *slog.Logger
}

// NewServer returns a Server over store; a nil logger means slog.Default().
func NewServer(store authority.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		router: chi.NewRouter(),
		store:  store,
		logger: logger.With("component", "control"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.logRequests)

	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/rules", func(r chi.Router) {
		r.Get("/", s.handleListRules)
		r.Post("/", s.handleCreateRule)
		r.Post("/import/curl", s.handleImportCurl)
		r.Get("/{id}", s.handleGetRule)
		r.Put("/{id}", s.handlePutRule)
		r.Delete("/{id}", s.handleDeleteRule)
		r.Put("/{id}/enabled", s.handleSetRuleEnabled)
	})

	s.router.Get("/enabled", s.handleGetEnabled)
	s.router.Put("/enabled", s.handleSetEnabled)
	s.router.Post("/resolve", s.handleResolve)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	s.logger.Info("control API listening", "addr", ln.Addr().String())
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("control request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.store.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if rules == nil {
		rules = []api.Rule{}
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule api.Rule
	if err := decodeBody(w, r, &rule); err != nil {
		s.writeError(w, err)
		return
	}
	saved, err := s.store.Put(r.Context(), rule)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleImportCurl(w http.ResponseWriter, r *http.Request) {
	var req CurlImportRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	rule, err := authority.ImportCurl(req.Command)
	if err != nil {
		s.writeError(w, errx.Wrap(ErrBadRequest, err))
		return
	}
	if req.Name != "" {
		rule.Name = req.Name
	}
	saved, err := s.store.Put(r.Context(), rule)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handlePutRule(w http.ResponseWriter, r *http.Request) {
	var rule api.Rule
	if err := decodeBody(w, r, &rule); err != nil {
		s.writeError(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	if rule.ID != "" && rule.ID != id {
		s.writeError(w, errx.With(ErrBadRequest, ": body id %q does not match path id %q", rule.ID, id))
		return
	}
	rule.ID = id
	saved, err := s.store.Put(r.Context(), rule)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetRuleEnabled(w http.ResponseWriter, r *http.Request) {
	var body EnabledPayload
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	rule, err := s.store.SetRuleEnabled(r.Context(), chi.URLParam(r, "id"), body.Enabled)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleGetEnabled(w http.ResponseWriter, r *http.Request) {
	enabled, err := s.store.Enabled(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, EnabledPayload{Enabled: enabled})
}

func (s *Server) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	var body EnabledPayload
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.store.SetEnabled(r.Context(), body.Enabled); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.URL == "" {
		s.writeError(w, errx.With(ErrBadRequest, ": url is required"))
		return
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	decision, err := s.store.Resolve(r.Context(), req.URL, method)
	if err != nil {
		s.writeError(w, err)
		return
	}
	decision = decision.Normalize()
	writeJSON(w, http.StatusOK, ResolveResponse{ShouldMock: decision.ShouldMock, Response: decision.Response})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errx.Wrap(ErrBadRequest, err)
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, api.ErrRuleNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, api.ErrInvalidRule),
		errors.Is(err, api.ErrInvalidStatus),
		errors.Is(err, api.ErrInvalidHeaders):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("control request failed", "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
