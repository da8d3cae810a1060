package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/snarg/clip-engine/internal/batch"
	"github.com/snarg/clip-engine/internal/storage"
)

// JobLookup finds a job by id.
type JobLookup interface {
	Status(jobID string) (batch.Job, error)
}

// ExportsHandler serves the manifest and clips of finished jobs.
type ExportsHandler struct {
	jobs  JobLookup
	store storage.Store
}

func NewExportsHandler(jobs JobLookup, store storage.Store) *ExportsHandler {
	return &ExportsHandler{jobs: jobs, store: store}
}

func (h *ExportsHandler) Routes(r chi.Router) {
	r.Get("/jobs/{id}/manifest", h.GetManifest)
	r.Get("/jobs/{id}/clips/{file}", h.GetClip)
}

// GetManifest serves a done job's segments.json.
func (h *ExportsHandler) GetManifest(w http.ResponseWriter, r *http.Request) {
	j, ok := h.doneJob(w, r)
	if !ok {
		return
	}
	key := storage.Key(j.RunID, j.ID, storage.ManifestFile)
	if !h.store.Exists(r.Context(), key) {
		WriteError(w, http.StatusNotFound, "manifest not found")
		return
	}
	h.serve(w, r, key)
}

// GetClip serves one clip listed in the job's manifest, from local disk or
// as a redirect to a presigned URL.
func (h *ExportsHandler) GetClip(w http.ResponseWriter, r *http.Request) {
	j, ok := h.doneJob(w, r)
	if !ok {
		return
	}
	file := chi.URLParam(r, "file")
	m, err := h.manifest(r.Context(), j)
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Str("job_id", j.ID).Msg("manifest unreadable")
		WriteError(w, http.StatusNotFound, "manifest not found")
		return
	}
	for _, seg := range m.Segments {
		if seg.File == file {
			h.serve(w, r, storage.Key(j.RunID, j.ID, file))
			return
		}
	}
	WriteError(w, http.StatusNotFound, "clip not found")
}

func (h *ExportsHandler) doneJob(w http.ResponseWriter, r *http.Request) (batch.Job, bool) {
	j, err := h.jobs.Status(chi.URLParam(r, "id"))
	if err != nil {
		WriteServiceError(w, err)
		return j, false
	}
	if j.State != batch.StateDone {
		WriteErrorDetail(w, http.StatusConflict, "job has no export", fmt.Sprintf("job is %s", j.State))
		return j, false
	}
	return j, true
}

func (h *ExportsHandler) manifest(ctx context.Context, j batch.Job) (*storage.Manifest, error) {
	rc, err := h.store.Open(ctx, storage.Key(j.RunID, j.ID, storage.ManifestFile))
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var m storage.Manifest
	if err := json.NewDecoder(rc).Decode(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// serve prefers a local copy, then a presigned URL, then streams from the store.
func (h *ExportsHandler) serve(w http.ResponseWriter, r *http.Request, key string) {
	if p := h.store.LocalPath(key); p != "" {
		setFileHeaders(w, key)
		http.ServeFile(w, r, p)
		return
	}
	url, err := h.store.URL(r.Context(), key)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if url != "" {
		http.Redirect(w, r, url, http.StatusFound)
		return
	}
	rc, err := h.store.Open(r.Context(), key)
	if err != nil {
		WriteError(w, http.StatusNotFound, "file not found")
		return
	}
	defer rc.Close()
	setFileHeaders(w, key)
	if _, err := io.Copy(w, rc); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Str("key", key).Msg("export stream interrupted")
	}
}

func setFileHeaders(w http.ResponseWriter, key string) {
	name := path.Base(key)
	w.Header().Set("Content-Type", storage.ContentTypeFromExt(path.Ext(name)))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="%s"`, name))
}
