package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"livinginsider-scraper/jobs"
	"livinginsider-scraper/models"
	"livinginsider-scraper/storage"
	"livinginsider-scraper/utils"
)

// Runner starts one scrape run for an already-created job. Satisfied by the
// scraper pipeline; tests plug in fakes.
type Runner interface {
	Run(ctx context.Context, jobID string, opts models.RunOptions)
}

// Server exposes the job store and pipeline over HTTP.
type Server struct {
	store  *jobs.Store
	runner Runner
	logger *utils.Logger

	renderers map[string]storage.Renderer
}

// NewServer wires the HTTP handlers.
func NewServer(store *jobs.Store, runner Runner, logger *utils.Logger) *Server {
	return &Server{
		store:  store,
		runner: runner,
		logger: logger.Tagged("api"),
		renderers: map[string]storage.Renderer{
			"csv":  storage.CSVRenderer{},
			"xlsx": storage.XLSXRenderer{},
		},
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/scrape", s.handleScrape).Methods(http.MethodPost)
	r.HandleFunc("/api/jobs/{id}", s.handleJob).Methods(http.MethodGet)
	r.HandleFunc("/api/jobs/{id}/events", s.handleEvents).Methods(http.MethodGet)
	r.HandleFunc("/api/jobs/{id}/stop", s.handleStop).Methods(http.MethodPost)
	r.HandleFunc("/api/jobs/{id}/export.{format:csv|xlsx}", s.handleExport).Methods(http.MethodGet)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleScrape validates the run request, creates the job and launches the
// pipeline asynchronously. Validation failures never create a job.
func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	var opts models.RunOptions
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := opts.Normalize(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, ctx := s.store.Create(opts)
	go s.runner.Run(ctx, id, opts)

	s.logger.Info("run accepted: job %s", id)
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id})
}

// handleJob returns the live snapshot. The response must never be cached:
// a stale body for a job that has since finished would show empty rows.
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.Snapshot(mux.Vars(r)["id"])
	if errors.Is(err, jobs.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, snap)
}

// handleEvents streams progress as server-sent events until the job reaches
// a terminal state, is evicted, or the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	events, unsubscribe, err := s.store.Subscribe(id)
	if errors.Is(err, jobs.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	defer unsubscribe()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case ev, open := <-events:
			if !open {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("marshal event for job %s: %v", id, err)
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.store.Cancel(id); errors.Is(err, jobs.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "stopping": "true"})
}

// handleExport renders a done job's rows in the requested format.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	renderer, ok := s.renderers[vars["format"]]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown export format")
		return
	}

	rows, err := s.store.Rows(id)
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
		return
	case errors.Is(err, jobs.ErrNotReady):
		writeError(w, http.StatusConflict, "job not done yet")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", renderer.ContentType())
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="listings-%s.%s"`, id, renderer.FileExtension()))
	if err := renderer.Render(w, rows); err != nil {
		// headers already sent; log and let the connection drop
		s.logger.Error("export job %s: %v", id, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
