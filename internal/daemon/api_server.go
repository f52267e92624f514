package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"framepipe/internal/api"
	"framepipe/internal/config"
	"framepipe/internal/logging"
	"framepipe/internal/runstore"
	"framepipe/internal/services"
	"framepipe/internal/workflow"
)

// maxResultWait bounds how long GET /api/runs/{id}/result may block.
const maxResultWait = 5 * time.Minute

type apiServer struct {
	bind    string
	logger  *slog.Logger
	daemon  *Daemon
	handler http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
	}
	srv.handler = srv.routes(cfg.Paths.APIToken)
	return srv, nil
}

func (s *apiServer) routes(token string) http.Handler {
	r := mux.NewRouter()
	r.Use(authMiddleware(token))

	apiRouter := r.PathPrefix("/api").Subrouter()
	apiRouter.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	apiRouter.HandleFunc("/workers", s.handleWorkers).Methods(http.MethodGet)
	apiRouter.HandleFunc("/runs", s.handleListRuns).Methods(http.MethodGet)
	apiRouter.HandleFunc("/runs", s.handleSubmit).Methods(http.MethodPost)
	apiRouter.HandleFunc("/runs/{id}", s.handleGetRun).Methods(http.MethodGet)
	apiRouter.HandleFunc("/runs/{id}/result", s.handleResult).Methods(http.MethodGet)
	apiRouter.HandleFunc("/runs/{id}/cancel", s.handleCancel).Methods(http.MethodPost)
	apiRouter.HandleFunc("/runs/{id}/resume", s.handleResume).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      maxResultWait + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	server, listener := s.server, s.listener
	s.server, s.listener = nil, nil
	s.mu.Unlock()
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
	if listener != nil {
		_ = listener.Close()
	}
}

func (s *apiServer) address() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	s.writeJSON(w, http.StatusOK, APIStatus(status))
}

func (s *apiServer) handleWorkers(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, api.FromSnapshot(s.daemon.Workers()))
}

func (s *apiServer) handleListRuns(w http.ResponseWriter, r *http.Request) {
	var statuses []runstore.Status
	for _, value := range r.URL.Query()["status"] {
		for _, part := range strings.Split(value, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			status, ok := runstore.ParseStatus(part)
			if !ok {
				s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", part))
				return
			}
			statuses = append(statuses, status)
		}
	}
	runs, err := s.daemon.ListRuns(r.Context(), statuses)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.RunListResponse{Runs: api.FromRuns(runs)})
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req api.SubmitRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	id, err := s.daemon.Submit(r.Context(), req.Pipeline, req.Input)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.SubmitResponse{ID: id})
}

func (s *apiServer) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.daemon.Describe(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.RunResponse{Run: api.FromRun(run)})
}

func (s *apiServer) handleResult(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	timeout, err := parseTimeout(r.URL.Query().Get("timeout"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	run, err := s.daemon.Result(r.Context(), id, timeout)
	if err != nil && !errors.Is(err, workflow.ErrStillRunning) {
		s.writeFailure(w, err)
		return
	}
	resp := api.NewResultResponse(id, run, err != nil)
	code := http.StatusOK
	if resp.Pending {
		code = http.StatusAccepted
	}
	s.writeJSON(w, code, resp)
}

func (s *apiServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.daemon.Cancel(r.Context(), id); err != nil {
		s.writeFailure(w, err)
		return
	}
	run, err := s.daemon.Describe(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.RunResponse{Run: api.FromRun(run)})
}

func (s *apiServer) handleResume(w http.ResponseWriter, r *http.Request) {
	run, err := s.daemon.Resume(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.RunResponse{Run: api.FromRun(run)})
}

// parseTimeout accepts a Go duration ("90s") or whole seconds ("90").
func parseTimeout(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		secs, convErr := strconv.Atoi(value)
		if convErr != nil {
			return 0, fmt.Errorf("invalid timeout %q", value)
		}
		d = time.Duration(secs) * time.Second
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid timeout %q", value)
	}
	return min(d, maxResultWait), nil
}

// statusCode maps store and classification errors onto HTTP codes.
func statusCode(err error) int {
	switch {
	case errors.Is(err, runstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, runstore.ErrConflict), errors.Is(err, runstore.ErrLeaseHeld):
		return http.StatusConflict
	case workflow.IsNotRunning(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, services.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// APIStatus converts daemon status to its wire representation.
func APIStatus(status Status) api.DaemonStatus {
	return api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		StoreBackend: status.StoreBackend,
		StorePath:    status.StorePath,
		LockFilePath: status.LockFilePath,
		Workflow:     api.FromSummary(status.Workflow),
		Dependencies: api.FromDependencies(status.Dependencies),
	}
}

func (s *apiServer) writeFailure(w http.ResponseWriter, err error) {
	code := statusCode(err)
	if code == http.StatusInternalServerError {
		s.log().Warn("api request failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "api_request_failed"))
	}
	s.writeError(w, code, err.Error())
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return logging.NewComponentLogger(s.logger, "api-server")
	}
	return logging.NewNop()
}
