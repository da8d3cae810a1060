package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/snarg/clip-engine/internal/batch"
	"github.com/snarg/clip-engine/internal/pipeline"
)

const maxBodyBytes = 1 << 20

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
}

func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}

func WriteErrorDetail(w http.ResponseWriter, status int, msg, detail string) {
	WriteJSON(w, status, ErrorResponse{Error: msg, Detail: detail})
}

// WriteServiceError maps orchestrator errors to status codes.
func WriteServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, batch.ErrUnknownJob):
		WriteError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, batch.ErrUnknownRun):
		WriteError(w, http.StatusNotFound, "run not found")
	case errors.Is(err, batch.ErrNotFailed):
		WriteErrorDetail(w, http.StatusConflict, "job is not failed", "only failed jobs can be requeued")
	case errors.Is(err, batch.ErrRunClosed):
		WriteErrorDetail(w, http.StatusConflict, "run is not accepting jobs", "resume the run first")
	case errors.Is(err, batch.ErrQueueFull):
		w.Header().Set("Retry-After", "5")
		WriteError(w, http.StatusServiceUnavailable, "job queue full")
	case errors.Is(err, batch.ErrStopped):
		WriteError(w, http.StatusServiceUnavailable, "shutting down")
	default:
		var pe *pipeline.Error
		if errors.As(err, &pe) && pe.Class == pipeline.Permanent {
			WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), ErrorKind: string(pe.Kind)})
			return
		}
		WriteError(w, http.StatusInternalServerError, err.Error())
	}
}

// Pagination holds parsed pagination parameters.
type Pagination struct {
	Limit  int
	Offset int
}

// ParsePagination extracts limit and offset from query params with defaults.
// Returns an error if values are present but invalid.
func ParsePagination(r *http.Request) (Pagination, error) {
	p := Pagination{Limit: 50, Offset: 0}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("invalid limit %q: must be an integer", v)
		}
		if n < 1 {
			return p, fmt.Errorf("invalid limit %d: must be >= 1", n)
		}
		p.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("invalid offset %q: must be an integer", v)
		}
		if n < 0 {
			return p, fmt.Errorf("invalid offset %d: must be >= 0", n)
		}
		p.Offset = n
	}
	return p, nil
}

// Page returns the [lo, hi) bounds of p within n items.
func (p Pagination) Page(n int) (lo, hi int) {
	lo = min(p.Offset, n)
	hi = min(lo+p.Limit, n)
	return lo, hi
}

// QueryString extracts a non-empty string query parameter.
func QueryString(r *http.Request, name string) (string, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return "", false
	}
	return v, true
}

// QueryStringList extracts a comma-separated list of strings from a query param.
func QueryStringList(r *http.Request, name string) []string {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil
	}
	var result []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}

// DecodeJSON reads and decodes a JSON request body into v. Unknown fields
// are rejected.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return fmt.Errorf("missing request body")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("missing request body")
		}
		return err
	}
	return nil
}
