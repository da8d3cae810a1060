package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/snarg/clip-engine/internal/batch"
	"github.com/snarg/clip-engine/internal/inbox"
)

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
	Workers       int               `json:"workers"`
	Jobs          batch.Stats       `json:"jobs"`
	Inbox         *inbox.Status     `json:"inbox,omitempty"`
}

// Pinger is a persistence backend that can be pinged.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// Connector reports a broker connection.
type Connector interface {
	IsConnected() bool
}

// InboxStatus reports the manifest watcher.
type InboxStatus interface {
	Status() inbox.Status
}

// Workload reports orchestrator state.
type Workload interface {
	Stats() batch.Stats
	Workers() int
}

// HealthDeps lists what /health checks. Nil fields are reported as
// not_configured.
type HealthDeps struct {
	Database Pinger
	MQTT     Connector
	Inbox    InboxStatus
	Jobs     Workload
}

type HealthHandler struct {
	deps      HealthDeps
	version   string
	startTime time.Time
}

func NewHealthHandler(deps HealthDeps, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{deps: deps, version: version, startTime: startTime}
}

// ServeHTTP reports healthy, degraded (a broker is disconnected) or
// unhealthy (the database is unreachable).
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	if h.deps.Database != nil {
		if err := h.deps.Database.HealthCheck(r.Context()); err != nil {
			checks["database"] = "error"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not_configured"
	}

	if h.deps.MQTT != nil {
		if h.deps.MQTT.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			if status == "healthy" {
				status = "degraded"
			}
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	resp := HealthResponse{
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	}
	if h.deps.Inbox != nil {
		st := h.deps.Inbox.Status()
		checks["inbox"] = st.Status
		resp.Inbox = &st
	} else {
		checks["inbox"] = "not_configured"
	}
	if h.deps.Jobs != nil {
		resp.Workers = h.deps.Jobs.Workers()
		resp.Jobs = h.deps.Jobs.Stats()
	}
	resp.Status = status

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(resp)
}
