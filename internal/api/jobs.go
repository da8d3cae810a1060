package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/snarg/clip-engine/internal/batch"
)

// JobService is the orchestrator as seen by the API.
type JobService interface {
	SubmitRequest(ctx context.Context, req batch.Request) (batch.Result, error)
	Status(jobID string) (batch.Job, error)
	Requeue(ctx context.Context, jobID string) (string, error)
	RunStatus(runID string) (batch.RunReport, error)
	Runs() []batch.Run
	CancelRun(ctx context.Context, runID string) error
	Resume(ctx context.Context, runID string) (batch.RunReport, error)
	Stats() batch.Stats
}

type JobsHandler struct {
	svc JobService
}

func NewJobsHandler(svc JobService) *JobsHandler {
	return &JobsHandler{svc: svc}
}

// Routes registers job and run routes on the given router.
func (h *JobsHandler) Routes(r chi.Router) {
	r.Post("/jobs", h.SubmitJob)
	r.Get("/jobs/{id}", h.GetJob)
	r.Post("/jobs/{id}/requeue", h.RequeueJob)

	r.Get("/runs", h.ListRuns)
	r.Post("/runs", h.CreateRun)
	r.Get("/runs/{id}", h.GetRun)
	r.Post("/runs/{id}/cancel", h.CancelRun)
	r.Post("/runs/{id}/resume", h.ResumeRun)

	r.Get("/stats", h.GetStats)
}

type submitJobRequest struct {
	URL   string `json:"url"`
	RunID string `json:"run_id,omitempty"`
}

// SubmitJob queues a video, playlist or channel URL.
func (h *JobsHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var body submitJobRequest
	if err := DecodeJSON(r, &body); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if body.URL == "" {
		WriteError(w, http.StatusBadRequest, "url is required")
		return
	}
	h.submit(w, r, batch.Request{URL: body.URL, RunID: body.RunID})
}

type createRunRequest struct {
	Name    string   `json:"name"`
	Sources []string `json:"sources"`
}

// CreateRun opens a named run and queues its sources.
func (h *JobsHandler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var body createRunRequest
	if err := DecodeJSON(r, &body); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if body.Name == "" {
		body.Name = "api"
	}
	h.submit(w, r, batch.Request{Name: body.Name, Sources: body.Sources})
}

// submit answers 202 when anything was queued. When every source was
// rejected the first rejection decides the status.
func (h *JobsHandler) submit(w http.ResponseWriter, r *http.Request, req batch.Request) {
	res, err := h.svc.SubmitRequest(r.Context(), req)
	if err != nil && len(res.JobIDs) == 0 {
		WriteServiceError(w, err)
		return
	}
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Int("queued", len(res.JobIDs)).Msg("submission partially queued")
		res.Errors = append(res.Errors, batch.SourceError{Error: err.Error()})
	}
	if len(res.JobIDs) == 0 && len(res.Errors) > 0 {
		WriteJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:     res.Errors[0].Error,
			ErrorKind: res.Errors[0].Kind,
		})
		return
	}
	WriteJSON(w, http.StatusAccepted, res)
}

func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.svc.Status(chi.URLParam(r, "id"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, j)
}

// RequeueJob queues a new job for a failed one.
func (h *JobsHandler) RequeueJob(w http.ResponseWriter, r *http.Request) {
	id, err := h.svc.Requeue(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "requeued_from": chi.URLParam(r, "id")})
}

type runList struct {
	Runs   []batch.Run `json:"runs"`
	Total  int         `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// ListRuns lists runs newest first.
func (h *JobsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	p, err := ParsePagination(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	runs := h.svc.Runs()
	if status, ok := QueryString(r, "status"); ok {
		filtered := runs[:0:0]
		for _, run := range runs {
			if string(run.Status) == status {
				filtered = append(filtered, run)
			}
		}
		runs = filtered
	}
	for i, j := 0, len(runs)-1; i < j; i, j = i+1, j-1 {
		runs[i], runs[j] = runs[j], runs[i]
	}
	lo, hi := p.Page(len(runs))
	WriteJSON(w, http.StatusOK, runList{Runs: runs[lo:hi], Total: len(runs), Limit: p.Limit, Offset: p.Offset})
}

func (h *JobsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.RunStatus(chi.URLParam(r, "id"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rep)
}

func (h *JobsHandler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.CancelRun(r.Context(), id); err != nil {
		WriteServiceError(w, err)
		return
	}
	rep, err := h.svc.RunStatus(id)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, rep)
}

func (h *JobsHandler) ResumeRun(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, rep)
}

func (h *JobsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.svc.Stats())
}
