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

	"github.com/google/uuid"

	"reelforge/internal/api"
	"reelforge/internal/config"
	"reelforge/internal/logging"
	"reelforge/internal/services"
)

const maxRequestBody = 8 << 20

type apiServer struct {
	bind    string
	logger  *slog.Logger
	daemon  *Daemon
	handler http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:   strings.TrimSpace(cfg.Paths.APIBind),
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", srv.handleHealth)
	mux.Handle("GET /metrics", d.metrics.Handler())
	mux.HandleFunc("GET /api/projects", srv.handleProjects)

	mux.HandleFunc("GET /api/projects/{project}/versions", srv.handleListVersions)
	mux.HandleFunc("POST /api/projects/{project}/versions", srv.handleCreateVersion)
	mux.HandleFunc("GET /api/projects/{project}/versions/current", srv.handleCurrentVersion)
	mux.HandleFunc("GET /api/projects/{project}/versions/{version}", srv.handleGetVersion)
	mux.HandleFunc("POST /api/projects/{project}/versions/{version}/accept", srv.handleAccept)
	mux.HandleFunc("POST /api/projects/{project}/versions/{version}/revert", srv.handleRevert)
	mux.HandleFunc("DELETE /api/projects/{project}/versions/{version}", srv.handleDeleteVersion)
	mux.HandleFunc("DELETE /api/projects/{project}/candidate", srv.handleRejectCandidate)
	mux.HandleFunc("GET /api/projects/{project}/compare", srv.handleCompare)

	mux.HandleFunc("GET /api/projects/{project}/recommendations", srv.handleListRecommendations)
	mux.HandleFunc("POST /api/projects/{project}/recommendations/apply-all", srv.handleApplyAll)
	mux.HandleFunc("POST /api/projects/{project}/recommendations/{rec}/apply", srv.handleApplyOne)

	mux.HandleFunc("POST /api/projects/{project}/reanalysis", srv.handleStartReanalysis)
	mux.HandleFunc("GET /api/projects/{project}/jobs", srv.handleListJobs)
	mux.HandleFunc("GET /api/projects/{project}/jobs/{job}", srv.handleJobStatus)
	mux.HandleFunc("POST /api/projects/{project}/jobs/{job}/retry", srv.handleRetryJob)

	srv.handler = srv.instrument(requireToken(cfg.Paths.APIToken, mux), mux)
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
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
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	s.mu.Lock()
	server := s.server
	listener := s.listener
	s.server = nil
	s.listener = nil
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

// address reports the bound listener address, or the configured bind when
// the server is not listening.
func (s *apiServer) address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.bind
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument tags each request with an ID and records the matched route.
func (s *apiServer) instrument(next http.Handler, mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		r = r.WithContext(services.WithRequestID(r.Context(), requestID))
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		_, route := mux.Handler(r)
		if route == "" {
			route = "unmatched"
		}
		s.daemon.metrics.RecordRequest(route, strconv.Itoa(rec.status))
		s.logger.Debug("api request",
			logging.String(logging.FieldCorrelationID, requestID),
			logging.String("route", route),
			logging.Int("status", rec.status),
			logging.Duration("elapsed", time.Since(start)),
		)
	})
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status()
	resp := api.HealthResponse{
		Status:       "ok",
		DatabasePath: status.DatabasePath,
		InFlightJobs: status.InFlightJobs,
		Scoring:      s.daemon.cfg.Scoring.Provider,
	}
	if err := s.daemon.store.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
	} else if counts, err := s.daemon.store.JobStats(r.Context()); err == nil {
		resp.JobCounts = make(map[string]int, len(counts))
		for k, v := range counts {
			resp.JobCounts[string(k)] = v
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.daemon.service.ListProjects(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ProjectListResponse{Projects: projects})
}

func (s *apiServer) handleListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.daemon.service.ListVersions(r.Context(), r.PathValue("project"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.VersionListResponse{Versions: versions})
}

func (s *apiServer) handleCreateVersion(w http.ResponseWriter, r *http.Request) {
	var req api.CreateVersionRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.daemon.service.CreateInitialVersion(r.Context(), r.PathValue("project"), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	code := http.StatusCreated
	if resp.AlreadyExists {
		code = http.StatusOK
	}
	s.writeJSON(w, code, resp)
}

func (s *apiServer) handleCurrentVersion(w http.ResponseWriter, r *http.Request) {
	v, err := s.daemon.service.CurrentVersion(r.Context(), r.PathValue("project"))
	s.writeVersion(w, r, v, err)
}

func (s *apiServer) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "version")
	if !ok {
		return
	}
	v, err := s.daemon.service.GetVersion(r.Context(), r.PathValue("project"), id)
	s.writeVersion(w, r, v, err)
}

func (s *apiServer) handleAccept(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "version")
	if !ok {
		return
	}
	v, err := s.daemon.service.AcceptVersion(r.Context(), r.PathValue("project"), id)
	s.writeVersion(w, r, v, err)
}

func (s *apiServer) handleRevert(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "version")
	if !ok {
		return
	}
	var req api.RevertRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	v, err := s.daemon.service.RevertToVersion(r.Context(), r.PathValue("project"), id, req.Actor)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.VersionResponse{Version: *v})
}

func (s *apiServer) handleDeleteVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "version")
	if !ok {
		return
	}
	v, err := s.daemon.service.DeleteVersion(r.Context(), r.PathValue("project"), id)
	s.writeVersion(w, r, v, err)
}

func (s *apiServer) handleRejectCandidate(w http.ResponseWriter, r *http.Request) {
	v, err := s.daemon.service.RejectCandidate(r.Context(), r.PathValue("project"))
	s.writeVersion(w, r, v, err)
}

func (s *apiServer) handleCompare(w http.ResponseWriter, r *http.Request) {
	base, err := parseID(r.URL.Query().Get("base"))
	if err != nil {
		s.writeServiceError(w, r, services.Wrap(services.ErrValidation, "", "compare", "base must be a version id", err))
		return
	}
	target, err := parseID(r.URL.Query().Get("target"))
	if err != nil {
		s.writeServiceError(w, r, services.Wrap(services.ErrValidation, "", "compare", "target must be a version id", err))
		return
	}
	cmp, err := s.daemon.service.CompareVersions(r.Context(), r.PathValue("project"), base, target)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cmp)
}

func (s *apiServer) handleListRecommendations(w http.ResponseWriter, r *http.Request) {
	query := api.RecommendationQuery{}
	values := r.URL.Query()
	if raw := strings.TrimSpace(values.Get("version")); raw != "" {
		id, err := parseID(raw)
		if err != nil {
			s.writeServiceError(w, r, services.Wrap(services.ErrValidation, "", "list recommendations", "version must be a version id", err))
			return
		}
		query.VersionID = id
	}
	if raw := strings.TrimSpace(values.Get("all")); raw != "" {
		all, err := strconv.ParseBool(raw)
		if err != nil {
			s.writeServiceError(w, r, services.Wrap(services.ErrValidation, "", "list recommendations", "all must be a boolean", err))
			return
		}
		query.IncludeApplied = all
	}
	resp, err := s.daemon.service.ListRecommendations(r.Context(), r.PathValue("project"), query)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleApplyOne(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "rec")
	if !ok {
		return
	}
	resp, err := s.daemon.service.ApplyRecommendation(r.Context(), r.PathValue("project"), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleApplyAll(w http.ResponseWriter, r *http.Request) {
	var req api.ApplyAllRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	resp, err := s.daemon.service.ApplyAllRecommendations(r.Context(), r.PathValue("project"), req.RecommendationIDs)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleStartReanalysis(w http.ResponseWriter, r *http.Request) {
	var req api.StartReanalysisRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.daemon.service.StartReanalysis(r.Context(), r.PathValue("project"), req)
	s.writeStart(w, r, resp, err)
}

func (s *apiServer) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	resp, err := s.daemon.service.RetryJob(r.Context(), r.PathValue("project"), r.PathValue("job"))
	s.writeStart(w, r, resp, err)
}

func (s *apiServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.daemon.service.ListJobs(r.Context(), r.PathValue("project"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: jobs})
}

func (s *apiServer) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.daemon.service.JobStatus(r.Context(), r.PathValue("project"), r.PathValue("job"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *apiServer) writeStart(w http.ResponseWriter, r *http.Request, resp *api.StartReanalysisResponse, err error) {
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if resp.Conflict {
		s.writeJSON(w, http.StatusConflict, resp)
		return
	}
	s.writeJSON(w, http.StatusAccepted, resp)
}

func (s *apiServer) writeVersion(w http.ResponseWriter, r *http.Request, v *api.Version, err error) {
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.VersionResponse{Version: *v})
}

func (s *apiServer) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeJSON(w, http.StatusRequestEntityTooLarge, api.ErrorResponse{Error: "request body too large", Kind: "validation"})
			return false
		}
		s.writeServiceError(w, r, services.Wrap(services.ErrValidation, "", "decode request", "invalid JSON body", err))
		return false
	}
	return true
}

func (s *apiServer) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := parseID(r.PathValue(name))
	if err != nil {
		s.writeServiceError(w, r, services.Wrap(services.ErrValidation, "", "parse path", name+" must be a positive integer", err))
		return 0, false
	}
	return id, true
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, fmt.Errorf("id %d out of range", id)
	}
	return id, nil
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}
