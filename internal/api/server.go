package api

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"easel/internal/config"
	"easel/internal/jobs"
	"easel/internal/logging"
	"easel/internal/workflow"
)

const defaultFailureLimit = 20

//go:embed openapi.json
var openAPIDocument []byte

// Server serves the HTTP API. Construct with NewServer, then Start and Stop
// around the daemon lifecycle.
type Server struct {
	bind     string
	token    string
	store    *jobs.Store
	registry *workflow.Registry
	logger   *slog.Logger

	listener net.Listener
	server   *http.Server
}

// NewServer builds the API server and its router.
func NewServer(cfg *config.Config, store *jobs.Store, registry *workflow.Registry, logger *slog.Logger) *Server {
	s := &Server{
		bind:     strings.TrimSpace(cfg.Paths.APIBind),
		token:    strings.TrimSpace(cfg.Paths.APIToken),
		store:    store,
		registry: registry,
		logger:   logging.NewComponentLogger(logger, "api-server"),
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Route("/api", func(r chi.Router) {
		r.Get("/openapi.json", s.handleOpenAPI)
		r.Group(func(r chi.Router) {
			r.Use(s.requireToken)
			r.Post("/jobs", s.handleCreateJob)
			r.Get("/jobs", s.handleListJobs)
			r.Get("/jobs/{uuid}", s.handleGetJob)
			r.Post("/jobs/{uuid}/cancel", s.handleCancelJob)
			r.Get("/failures", s.handleFailures)
			r.Get("/health", s.handleHealth)
		})
	})

	s.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Start binds the listener and serves until the context is canceled.
func (s *Server) Start(ctx context.Context) error {
	if s.bind == "" {
		return errors.New("api bind address is not configured")
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Stop shuts the server down, draining in-flight requests briefly.
func (s *Server) Stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// Addr returns the bound address, useful when binding to port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Handler exposes the router for in-process tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// requireToken validates bearer tokens when a token is configured. An empty
// token leaves the API open, which suits loopback-only binds.
func (s *Server) requireToken(next http.Handler) http.Handler {
	if s.token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.token {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	workflowName := strings.TrimSpace(req.Workflow)
	if workflowName == "" {
		s.writeError(w, http.StatusBadRequest, "workflow is required")
		return
	}
	if !s.registry.Has(workflowName) {
		s.writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("unknown workflow %q", workflowName))
		return
	}
	request := strings.TrimSpace(string(req.Request))
	if request != "" {
		var probe map[string]any
		if err := json.Unmarshal([]byte(request), &probe); err != nil {
			s.writeError(w, http.StatusBadRequest, "request must be a JSON object")
			return
		}
	}

	job, err := s.store.Create(r.Context(), jobs.CreateParams{
		Workflow:   workflowName,
		Request:    request,
		WebhookURL: strings.TrimSpace(req.WebhookURL),
		WebhookKey: strings.TrimSpace(req.WebhookKey),
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("job accepted",
		logging.String(logging.FieldJobUUID, job.UUID),
		logging.String(logging.FieldWorkflow, job.Workflow))
	s.writeJSON(w, http.StatusCreated, FromJob(job))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var statuses []jobs.Status
	for _, value := range r.URL.Query()["status"] {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			statuses = append(statuses, jobs.Status(trimmed))
		}
	}
	list, err := s.store.List(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, JobListResponse{Jobs: FromJobs(list)})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.Get(r.Context(), chi.URLParam(r, "uuid"))
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, FromJob(job))
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "uuid")
	err := s.store.Cancel(r.Context(), id)
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	case errors.Is(err, jobs.ErrTerminalStatus):
		s.writeError(w, http.StatusConflict, "job already reached a terminal status")
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	job, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("job canceled", logging.String(logging.FieldJobUUID, id))
	s.writeJSON(w, http.StatusOK, FromJob(job))
}

func (s *Server) handleFailures(w http.ResponseWriter, r *http.Request) {
	limit := defaultFailureLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	list, err := s.store.RecentFailures(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, JobListResponse{Jobs: FromJobs(list)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	summary, err := s.store.Health(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	records, err := s.store.MigrationRecords(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	migrations := make([]MigrationStatus, 0, len(records))
	for _, record := range records {
		migrations = append(migrations, MigrationStatus{
			Name:      record.Name,
			Succeeded: record.Succeeded,
			Error:     record.Error,
			AppliedAt: record.AppliedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Total:      summary.Total,
		Ready:      summary.Ready,
		InFlight:   summary.InFlight,
		Completed:  summary.Completed,
		Errored:    summary.Errored,
		Canceled:   summary.Canceled,
		Migrations: migrations,
	})
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openAPIDocument)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}
