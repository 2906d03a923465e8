package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jdziat/durable-retry-queue/pkg/core"
	"github.com/jdziat/durable-retry-queue/pkg/stats"
)

// maxBodyBytes caps request bodies; the largest legal payload_json plus
// envelope fits well within it.
const maxBodyBytes = 2 << 20

// Store is what the API needs from the repository.
type Store interface {
	core.Repository
	GetJob(ctx context.Context, id int64) (*core.Job, error)
	SearchJobs(ctx context.Context, filter core.JobFilter) ([]*core.Job, int64, error)
	QueueStats(ctx context.Context, now int64) ([]*core.TypeStats, error)
	RetryNow(ctx context.Context, id int64, now int64) (*core.Job, error)
}

// Server exposes the queue operations over HTTP.
type Server struct {
	store    Store
	logger   *slog.Logger
	now      func() time.Time
	counters *stats.Collector
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source used by the stats and retry endpoints.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// WithCollector adds the scheduler outcome counters to GET /stats.
func WithCollector(c *stats.Collector) Option {
	return func(s *Server) {
		s.counters = c
	}
}

// New creates an API server over store.
func New(store Store, opts ...Option) *Server {
	s := &Server{store: store, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the router.
//
//	POST /jobs                enqueue
//	POST /jobs/fetch          purge expired rows and list ready jobs
//	POST /jobs/{id}/success   delete a delivered job
//	POST /jobs/{id}/failure   record a failed attempt
//	POST /jobs/{id}/retry     make a job eligible now
//	GET  /jobs                search jobs
//	GET  /jobs/{id}           fetch one job
//	GET  /stats               per job type counts
//	GET  /healthz             liveness
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.healthz)
	r.Get("/stats", s.stats)

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", s.enqueue)
		r.Get("/", s.search)
		r.Post("/fetch", s.fetchReady)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getJob)
			r.Post("/success", s.reportSuccess)
			r.Post("/failure", s.reportFailure)
			r.Post("/retry", s.retryNow)
		})
	})

	return r
}

type enqueueRequest struct {
	JobType     string `json:"job_type"`
	PayloadJSON string `json:"payload_json"`
}

type enqueueResponse struct {
	ID int64 `json:"id"`
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if !s.decode(w, r, &req) {
		return
	}
	id, err := s.store.Enqueue(r.Context(), req.JobType, req.PayloadJSON)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, enqueueResponse{ID: id})
}

type fetchRequest struct {
	Limit  int   `json:"limit"`
	Now    int64 `json:"now"`
	Cutoff int64 `json:"cutoff"`
}

type jobsResponse struct {
	Jobs  []*core.Job `json:"jobs"`
	Total *int64      `json:"total,omitempty"`
}

func (s *Server) fetchReady(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if !s.decode(w, r, &req) {
		return
	}
	jobs, err := s.store.SelectReady(r.Context(), req.Limit, req.Now, req.Cutoff)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobsResponse{Jobs: nonNil(jobs)})
}

func (s *Server) reportSuccess(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.MarkSuccess(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type failureRequest struct {
	Attempts    int64   `json:"attempts"`
	NextRetryAt int64   `json:"next_retry_at"`
	LastError   *string `json:"last_error"`
}

func (s *Server) reportFailure(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req failureRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.store.MarkFailure(r.Context(), id, req.Attempts, req.NextRetryAt, req.LastError); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) retryNow(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	job, err := s.store.RetryNow(r.Context(), id, s.now().UnixMilli())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := core.JobFilter{
		JobType:    q.Get("job_type"),
		FailedOnly: q.Get("failed") == "true",
	}
	var err error
	if filter.Limit, err = queryInt(q.Get("limit")); err != nil {
		s.writeError(w, r, core.Invalid("limit", core.ErrInvalidLimit))
		return
	}
	if filter.Offset, err = queryInt(q.Get("offset")); err != nil {
		s.writeError(w, r, core.Invalid("offset", err))
		return
	}

	jobs, total, err := s.store.SearchJobs(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobsResponse{Jobs: nonNil(jobs), Total: &total})
}

type statsResponse struct {
	Now       int64             `json:"now"`
	JobTypes  []*core.TypeStats `json:"job_types"`
	Scheduler *stats.Snapshot   `json:"scheduler,omitempty"`
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	now := s.now().UnixMilli()
	types, err := s.store.QueueStats(r.Context(), now)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if types == nil {
		types = []*core.TypeStats{}
	}
	resp := statsResponse{Now: now, JobTypes: types}
	if s.counters != nil {
		snap := s.counters.Snapshot()
		resp.Scheduler = &snap
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid job id"})
		return 0, false
	}
	return id, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case core.IsValidation(err):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrClosed), errors.Is(err, core.ErrNotInitialized):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method, "path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()), "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func queryInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("must be a non-negative integer")
	}
	return n, nil
}

func nonNil(jobs []*core.Job) []*core.Job {
	if jobs == nil {
		return []*core.Job{}
	}
	return jobs
}
