// Package stubapi is an in-memory implementation of the remote mesh job
// service. It backs cmd/testserver and the end-to-end tests of the client
// packages. Jobs advance on a wall-clock schedule unless hooks override the
// responses.
package stubapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/seantiz/desolidify/internal/model"
)

const (
	maxUploadSize      = 64 << 20
	defaultJobDuration = 3 * time.Second
	unmatched          = "unmatched"
)

// Route keys reported by Calls.
const (
	RouteParams    = "GET /meta/params"
	RoutePresets   = "GET /meta/presets"
	RouteCreateJob = "POST /jobs"
	RouteStatus    = "GET /jobs/{id}"
	RouteResult    = "GET /jobs/{id}/result"
	RouteCancelAll = "DELETE /jobs"
	RoutePreview   = "POST /preview"
)

// Reply is a scripted HTTP response.
type Reply struct {
	Status      int
	ContentType string
	Body        []byte
}

// JSONReply builds a Reply with a JSON-encoded body.
func JSONReply(status int, v any) Reply {
	b, _ := json.Marshal(v)
	return Reply{Status: status, ContentType: "application/json", Body: b}
}

// Hooks override default behavior. Each field is optional.
type Hooks struct {
	// Status answers the n-th (1-based) status poll for a job.
	Status func(jobID string, n int) Reply
	// Result answers a result download.
	Result func(jobID string) Reply
	// Preview answers a preview request.
	Preview func(upload []byte, params map[string]any) Reply
	// CreateGate, when set, makes job creation wait until it is closed.
	CreateGate <-chan struct{}
	// PreviewGate, when set, makes preview requests wait until it is closed.
	PreviewGate <-chan struct{}
}

// Job is the stub's record of a submitted job.
type Job struct {
	ID        string
	FileName  string
	Upload    []byte
	Params    map[string]any
	Preset    string
	Cancelled bool
	CreatedAt time.Time
	polls     int
}

// Server is the stub job service.
type Server struct {
	router   *chi.Mux
	logger   *slog.Logger
	duration time.Duration

	mu          sync.Mutex
	spec        model.ParamSpec
	presets     model.PresetSet
	hooks       Hooks
	jobs        map[string]*Job
	calls       map[string]int
	lastPreview map[string]any
}

// New creates a stub serving spec and presets. Jobs finish after duration;
// zero selects a three second default.
func New(spec model.ParamSpec, presets model.PresetSet, duration time.Duration, logger *slog.Logger) *Server {
	if duration <= 0 {
		duration = defaultJobDuration
	}
	s := &Server{
		router:   chi.NewRouter(),
		logger:   logger,
		duration: duration,
		spec:     spec,
		presets:  presets,
		jobs:     make(map[string]*Job),
		calls:    make(map[string]int),
	}

	s.router.Use(middleware.Recoverer)
	s.router.Use(s.countingMiddleware)
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/meta/params", s.handleParams)
	s.router.Get("/meta/presets", s.handlePresets)
	s.router.Post("/jobs", s.handleCreateJob)
	s.router.Delete("/jobs", s.handleCancelAll)
	s.router.Get("/jobs/{id}", s.handleStatus)
	s.router.Get("/jobs/{id}/result", s.handleResult)
	s.router.Post("/preview", s.handlePreview)
}

// Handler returns the HTTP handler for the stub.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetHooks replaces the response hooks.
func (s *Server) SetHooks(h Hooks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = h
}

// Calls returns how many requests matched the given route key.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// Jobs returns copies of all submitted jobs ordered by creation time.
func (s *Server) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out
}

// LastPreviewParams returns the params of the most recent preview request.
func (s *Server) LastPreviewParams() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPreview
}

// countingMiddleware records one call per request under its chi route pattern.
func (s *Server) countingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)

		key := r.Method + " " + routePattern(r)
		s.mu.Lock()
		s.calls[key]++
		s.mu.Unlock()
	})
}

// routePattern returns the pattern matched by the stub's own router, so keys
// do not change when the stub is mounted under a prefix.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil || len(rctx.RoutePatterns) == 0 {
		return unmatched
	}
	if p := rctx.RoutePatterns[len(rctx.RoutePatterns)-1]; p != "" {
		return p
	}
	return unmatched
}

func (s *Server) handleParams(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	spec := s.spec
	s.mu.Unlock()
	s.writeJSON(w, http.StatusOK, spec)
}

func (s *Server) handlePresets(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	presets := s.presets
	s.mu.Unlock()
	s.writeJSON(w, http.StatusOK, presets)
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	gate := s.hooks.CreateGate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	name, data, params, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	j := &Job{
		ID:        model.NewID(),
		FileName:  name,
		Upload:    data,
		Params:    params,
		Preset:    r.FormValue("preset"),
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	s.jobs[j.ID] = j
	s.mu.Unlock()

	s.logger.Info("stub: job created", "job_id", j.ID, "file", name, "preset", j.Preset)
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id":  j.ID,
		"ws_room": "job:" + j.ID,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		s.writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	j.polls++
	n := j.polls
	hook := s.hooks.Status
	st := s.statusLocked(j)
	s.mu.Unlock()

	if hook != nil {
		s.writeReply(w, hook(id, n))
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	j, ok := s.jobs[id]
	hook := s.hooks.Result
	var st model.JobStatus
	if ok {
		st = s.statusLocked(j)
	}
	s.mu.Unlock()

	if hook != nil {
		s.writeReply(w, hook(id))
		return
	}
	if !ok || st.State != model.ServerStateFinished {
		s.writeJSON(w, http.StatusAccepted, map[string]any{
			"job_id":   id,
			"ready":    false,
			"state":    st.State,
			"progress": st.Progress,
			"message":  "Result not ready",
		})
		return
	}

	w.Header().Set("Content-Type", "model/stl")
	w.Header().Set("Content-Disposition", `attachment; filename="`+id+`_desolid.stl"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(j.Upload); err != nil {
		s.logger.Error("stub: write result", "error", err)
	}
}

func (s *Server) handleCancelAll(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	n := 0
	for _, j := range s.jobs {
		if !j.Cancelled && s.statusLocked(j).State != model.ServerStateFinished {
			j.Cancelled = true
			n++
		}
	}
	s.mu.Unlock()

	s.writeJSON(w, http.StatusOK, map[string]int{"cancelled": n})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	gate := s.hooks.PreviewGate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	_, data, params, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	s.lastPreview = params
	hook := s.hooks.Preview
	s.mu.Unlock()

	if hook != nil {
		s.writeReply(w, hook(data, params))
		return
	}

	w.Header().Set("Content-Type", "model/stl")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Error("stub: write preview", "error", err)
	}
}

// statusLocked derives a job's status from its age. Caller must hold s.mu.
func (s *Server) statusLocked(j *Job) model.JobStatus {
	if j.Cancelled {
		return model.JobStatus{JobID: j.ID, State: model.ServerStateError, Progress: 0, Message: "Cancelled."}
	}
	elapsed := time.Since(j.CreatedAt)
	progress := float64(elapsed) / float64(s.duration)
	switch {
	case progress >= 1:
		return model.JobStatus{JobID: j.ID, State: model.ServerStateFinished, Progress: 1, Message: "Done."}
	case progress < 0.1:
		return model.JobStatus{JobID: j.ID, State: "queued", Progress: 0, Message: "Job enqueued."}
	default:
		return model.JobStatus{JobID: j.ID, State: "running", Progress: progress, Message: "Perforating…"}
	}
}

// readUpload parses the multipart body shared by job creation and preview.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, map[string]any, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		s.writeError(w, http.StatusBadRequest, "Missing file field 'file'")
		return "", nil, nil, false
	}

	f, hdr, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Missing file field 'file'")
		return "", nil, nil, false
	}
	defer f.Close()

	if hdr.Filename == "" {
		s.writeError(w, http.StatusBadRequest, "Empty filename")
		return "", nil, nil, false
	}
	if !strings.EqualFold(path.Ext(hdr.Filename), ".stl") {
		s.writeError(w, http.StatusBadRequest, "Unsupported file extension")
		return "", nil, nil, false
	}

	data, err := io.ReadAll(f)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Failed to read upload")
		return "", nil, nil, false
	}

	params := map[string]any{}
	if raw := strings.TrimSpace(r.FormValue("params")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid JSON in 'params'")
			return "", nil, nil, false
		}
	}

	return hdr.Filename, data, params, true
}

func (s *Server) writeReply(w http.ResponseWriter, rep Reply) {
	if rep.ContentType != "" {
		w.Header().Set("Content-Type", rep.ContentType)
	}
	status := rep.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if _, err := w.Write(rep.Body); err != nil {
		s.logger.Error("stub: write reply", "error", err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("stub: encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
