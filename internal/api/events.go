package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/snarg/clip-engine/internal/events"
	"github.com/snarg/clip-engine/internal/metrics"
)

// EventSource is the live event feed.
type EventSource interface {
	Subscribe(filter events.Filter) (<-chan events.Event, func())
	ReplaySince(lastEventID string, filter events.Filter) []events.Event
}

type EventsHandler struct {
	src       EventSource
	keepalive time.Duration
}

func NewEventsHandler(src EventSource) *EventsHandler {
	return &EventsHandler{src: src, keepalive: 15 * time.Second}
}

// parseFilter reads ?types=job:done,run&run_id=..&job_id=.. (lists are
// comma-separated).
func parseFilter(r *http.Request) events.Filter {
	return events.Filter{
		Types:  QueryStringList(r, "types"),
		RunIDs: QueryStringList(r, "run_id"),
		JobIDs: QueryStringList(r, "job_id"),
	}
}

// StreamEvents opens an SSE connection and pushes filtered events.
func (h *EventsHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if h.src == nil {
		WriteError(w, http.StatusServiceUnavailable, "event streaming not available")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	filter := parseFilter(r)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// subscribe before replaying so nothing falls in the gap
	ch, cancel := h.src.Subscribe(filter)
	defer cancel()

	lastID := ""
	if id := r.Header.Get("Last-Event-ID"); id != "" {
		for _, e := range h.src.ReplaySince(id, filter) {
			writeSSE(w, e)
			lastID = e.ID
		}
	}
	flusher.Flush()

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	log := hlog.FromRequest(r)
	log.Info().Msg("SSE client connected")

	for {
		select {
		case <-r.Context().Done():
			log.Info().Msg("SSE client disconnected")
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if lastID != "" && !events.Newer(e.ID, lastID) {
				continue // already replayed
			}
			writeSSE(w, e)
			flusher.Flush()
			metrics.EventsPublishedTotal.WithLabelValues("sse").Inc()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// writeSSE sends the whole event as data so clients see subtype and ids.
func writeSSE(w http.ResponseWriter, e events.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, data)
}

// Routes registers event routes on the given router.
func (h *EventsHandler) Routes(r chi.Router) {
	r.Get("/events", h.StreamEvents)
	r.Get("/ws", h.StreamWebSocket)
}
