package handlers

import (
	"context"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/jmylchreest/vodarr/internal/models"
)

// heartbeatStaleAfter is how long after its last heartbeat a worker is
// considered gone. Three missed 30-second heartbeats.
const heartbeatStaleAfter = 90 * time.Second

// Pinger is a connectivity check against a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HeartbeatReader reads the well-known worker health record.
type HeartbeatReader interface {
	GetHeartbeat(ctx context.Context) (*models.WorkerHeartbeat, error)
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	version    string
	startTime  time.Time
	db         Pinger
	redis      Pinger
	heartbeats HeartbeatReader
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithDB sets the database connection for health checks.
func (h *HealthHandler) WithDB(db Pinger) *HealthHandler {
	h.db = db
	return h
}

// WithRedis sets the key-value store for health checks.
func (h *HealthHandler) WithRedis(redis Pinger) *HealthHandler {
	h.redis = redis
	return h
}

// WithHeartbeats sets the worker heartbeat source.
func (h *HealthHandler) WithHeartbeats(hb HeartbeatReader) *HealthHandler {
	h.heartbeats = hb
	return h
}

// ComponentHealth describes one dependency's state.
type ComponentHealth struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// MemoryInfo holds process-visible memory statistics.
type MemoryInfo struct {
	TotalMB     uint64  `json:"total_mb"`
	UsedMB      uint64  `json:"used_mb"`
	UsedPercent float64 `json:"used_percent"`
}

// HealthResponse is the health endpoint body.
type HealthResponse struct {
	Status        string                     `json:"status"`
	Timestamp     string                     `json:"timestamp"`
	Version       string                     `json:"version"`
	Uptime        string                     `json:"uptime"`
	UptimeSeconds float64                    `json:"uptime_seconds"`
	CPUCores      int                        `json:"cpu_cores"`
	Load1         float64                    `json:"load_1"`
	Memory        MemoryInfo                 `json:"memory"`
	Components    map[string]ComponentHealth `json:"components"`
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// LivezInput is the input for the liveness endpoint.
type LivezInput struct{}

// LivezOutput is the output for the liveness endpoint.
type LivezOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// ReadyzInput is the input for the readiness endpoint.
type ReadyzInput struct{}

// ReadyzOutput is the output for the readiness endpoint.
type ReadyzOutput struct {
	Body struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns service health including dependency and worker state",
		Tags:        []string{"System"},
	}, h.GetHealth)

	huma.Register(api, huma.Operation{
		OperationID: "getLivez",
		Method:      "GET",
		Path:        "/livez",
		Summary:     "Liveness probe",
		Tags:        []string{"System"},
	}, h.GetLivez)

	huma.Register(api, huma.Operation{
		OperationID: "getReadyz",
		Method:      "GET",
		Path:        "/readyz",
		Summary:     "Readiness probe",
		Tags:        []string{"System"},
	}, h.GetReadyz)
}

// GetLivez reports process liveness.
func (h *HealthHandler) GetLivez(_ context.Context, _ *LivezInput) (*LivezOutput, error) {
	out := &LivezOutput{}
	out.Body.Status = "ok"
	return out, nil
}

// GetReadyz reports whether the backing stores are reachable. The worker
// heartbeat does not gate readiness; the API can serve the library without a
// worker.
func (h *HealthHandler) GetReadyz(ctx context.Context, _ *ReadyzInput) (*ReadyzOutput, error) {
	out := &ReadyzOutput{}
	out.Body.Components = map[string]string{
		"database": h.pingComponent(ctx, h.db).Status,
		"redis":    h.pingComponent(ctx, h.redis).Status,
	}

	out.Body.Status = "ready"
	for _, s := range out.Body.Components {
		if s != "ok" {
			out.Body.Status = "not_ready"
			break
		}
	}
	return out, nil
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	components := map[string]ComponentHealth{
		"database": h.pingComponent(ctx, h.db),
		"redis":    h.pingComponent(ctx, h.redis),
		"worker":   h.workerHealth(ctx, now),
	}

	status := "healthy"
	for _, c := range components {
		if c.Status != "ok" && c.Status != "unconfigured" {
			status = "degraded"
			break
		}
	}

	resp := HealthResponse{
		Status:        status,
		Timestamp:     now.UTC().Format(time.RFC3339),
		Version:       h.version,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		CPUCores:      runtime.NumCPU(),
		Components:    components,
	}

	if avg, err := load.Avg(); err == nil {
		resp.Load1 = avg.Load1
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resp.Memory = MemoryInfo{
			TotalMB:     vm.Total / 1024 / 1024,
			UsedMB:      vm.Used / 1024 / 1024,
			UsedPercent: vm.UsedPercent,
		}
	}

	return &HealthOutput{Body: resp}, nil
}

func (h *HealthHandler) pingComponent(ctx context.Context, p Pinger) ComponentHealth {
	if p == nil {
		return ComponentHealth{Status: "unconfigured"}
	}
	if err := p.Ping(ctx); err != nil {
		return ComponentHealth{Status: "down", Detail: err.Error()}
	}
	return ComponentHealth{Status: "ok"}
}

func (h *HealthHandler) workerHealth(ctx context.Context, now time.Time) ComponentHealth {
	if h.heartbeats == nil {
		return ComponentHealth{Status: "unconfigured"}
	}
	hb, err := h.heartbeats.GetHeartbeat(ctx)
	if err != nil {
		return ComponentHealth{Status: "down", Detail: err.Error()}
	}
	if hb == nil {
		return ComponentHealth{Status: "missing", Detail: "no worker heartbeat recorded"}
	}
	age := now.Sub(time.Unix(hb.LastSeen, 0))
	if age > heartbeatStaleAfter {
		return ComponentHealth{Status: "stale", Detail: "last heartbeat " + age.Round(time.Second).String() + " ago"}
	}
	return ComponentHealth{Status: "ok", Detail: hb.WorkerID}
}
