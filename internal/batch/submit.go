package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/snarg/clip-engine/internal/pipeline"
)

// Request is a submission arriving from any front door: the HTTP API, an
// inbox manifest, the AMQP queue or the MQTT submit topic.
type Request struct {
	Name    string   `json:"name,omitempty" yaml:"name"`
	RunID   string   `json:"run_id,omitempty" yaml:"run_id"`
	URL     string   `json:"url,omitempty" yaml:"url"`
	Sources []string `json:"sources,omitempty" yaml:"sources"`
}

// URLs returns URL followed by Sources, trimmed, with blanks dropped.
func (r Request) URLs() []string {
	var out []string
	for _, u := range append([]string{r.URL}, r.Sources...) {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

// ParseRequest decodes a message-borne submission: either a JSON Request or
// a plain list of URLs, one per line.
func ParseRequest(payload []byte) (Request, error) {
	var req Request
	payload = bytes.TrimSpace(payload)
	if len(payload) > 0 && payload[0] == '{' {
		err := json.Unmarshal(payload, &req)
		return req, err
	}
	for _, line := range bytes.Split(payload, []byte("\n")) {
		if s := string(bytes.TrimSpace(line)); s != "" {
			req.Sources = append(req.Sources, s)
		}
	}
	return req, nil
}

// SourceError records a source that could not be queued.
type SourceError struct {
	Source string `json:"source"`
	Kind   string `json:"error_kind,omitempty"`
	Error  string `json:"error"`
}

// Result reports what a Request queued.
type Result struct {
	RunID  string        `json:"run_id"`
	JobIDs []string      `json:"job_ids"`
	Errors []SourceError `json:"errors,omitempty"`
	// Pending lists the sources left unqueued when the submission aborted,
	// starting with the one that hit the error. A playlist interrupted
	// mid-expansion is listed whole.
	Pending []string `json:"pending,omitempty"`
}

// SubmitRequest queues every source of req. A Name without a RunID opens a
// new run; neither uses the default run. Sources that fail to parse or
// expand are reported in Result.Errors and do not stop the rest. Queue and
// run-level failures abort and are returned along with what was queued.
func (o *Orchestrator) SubmitRequest(ctx context.Context, req Request) (Result, error) {
	urls := req.URLs()
	if len(urls) == 0 {
		return Result{}, pipeline.Errorf(pipeline.KindMalformedURL, pipeline.Permanent, "no sources given")
	}

	res := Result{RunID: req.RunID, JobIDs: []string{}}
	if res.RunID == "" && req.Name != "" {
		r, err := o.NewRun(ctx, req.Name)
		if err != nil {
			return res, err
		}
		res.RunID = r.ID
	}
	if res.RunID == "" {
		id, err := o.resolveRun(ctx, "")
		if err != nil {
			return res, err
		}
		res.RunID = id
	}

	for i, u := range urls {
		ids, err := o.SubmitURL(ctx, res.RunID, u)
		res.JobIDs = append(res.JobIDs, ids...)
		if err == nil {
			continue
		}
		if aborts(err) {
			res.Pending = urls[i:]
			return res, err
		}
		res.Errors = append(res.Errors, SourceError{Source: u, Kind: string(pipeline.KindOf(err)), Error: err.Error()})
	}
	return res, nil
}

func aborts(err error) bool {
	return errors.Is(err, ErrQueueFull) || errors.Is(err, ErrStopped) ||
		errors.Is(err, ErrRunClosed) || errors.Is(err, ErrUnknownRun)
}
