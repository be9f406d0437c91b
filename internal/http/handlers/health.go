package handlers

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"gorm.io/gorm"

	"github.com/jmylchreest/digwatch/internal/httpclient"
)

// ClassifierTransport reports the vision client's circuit breaker state.
type ClassifierTransport interface {
	CircuitState() httpclient.CircuitState
	ConsecutiveFailures() int
}

// HealthHandler serves the /health endpoint. The database and classifier
// probes are optional; components that were never wired report "unknown"
// rather than failing the check.
type HealthHandler struct {
	version    string
	startTime  time.Time
	db         *gorm.DB
	classifier ClassifierTransport
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{version: version, startTime: time.Now()}
}

// WithDB sets the database connection for health checks.
func (h *HealthHandler) WithDB(db *gorm.DB) *HealthHandler {
	h.db = db
	return h
}

// WithClassifier sets the vision transport for circuit breaker reporting.
func (h *HealthHandler) WithClassifier(c ClassifierTransport) *HealthHandler {
	h.classifier = c
	return h
}

// HealthResponse is the body of a health check.
type HealthResponse struct {
	Status        string            `json:"status"`
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	Uptime        string            `json:"uptime"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	CPUInfo       CPUInfo           `json:"cpu"`
	Memory        MemoryInfo        `json:"memory"`
	Components    HealthComponents  `json:"components"`
	Checks        map[string]string `json:"checks,omitempty"`
}

// CPUInfo holds CPU load averages.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo holds system and process memory usage.
type MemoryInfo struct {
	TotalMemoryMB     float64           `json:"total_mb"`
	UsedMemoryMB      float64           `json:"used_mb"`
	FreeMemoryMB      float64           `json:"free_mb"`
	AvailableMemoryMB float64           `json:"available_mb"`
	SwapTotalMB       float64           `json:"swap_total_mb"`
	SwapUsedMB        float64           `json:"swap_used_mb"`
	ProcessMemory     ProcessMemoryInfo `json:"process"`
}

// ProcessMemoryInfo covers the whole process tree. Child processes matter
// because frame extraction forks ffmpeg.
type ProcessMemoryInfo struct {
	MainProcessMB      float64 `json:"main_mb"`
	ChildProcessesMB   float64 `json:"children_mb"`
	ChildProcessCount  int     `json:"child_count"`
	TotalProcessTreeMB float64 `json:"tree_mb"`
	PercentageOfSystem float64 `json:"percentage_of_system"`
}

// DatabaseHealth holds connection pool state and ping latency.
type DatabaseHealth struct {
	Status                 string  `json:"status"`
	ConnectionPoolSize     int     `json:"connection_pool_size"`
	ActiveConnections      int     `json:"active_connections"`
	IdleConnections        int     `json:"idle_connections"`
	PoolUtilizationPercent float64 `json:"pool_utilization_percent"`
	ResponseTimeMS         float64 `json:"response_time_ms"`
}

// ClassifierHealth holds the vision transport's circuit breaker state.
type ClassifierHealth struct {
	Status              string `json:"status"`
	CircuitState        string `json:"circuit_state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

// HealthComponents groups per-component health.
type HealthComponents struct {
	Database   DatabaseHealth   `json:"database"`
	Classifier ClassifierHealth `json:"classifier"`
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the service including system metrics",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	components := HealthComponents{
		Database:   h.databaseHealth(ctx),
		Classifier: h.classifierHealth(),
	}

	status := "healthy"
	if components.Database.Status == "error" {
		status = "degraded"
	}

	return &HealthOutput{Body: HealthResponse{
		Status:        status,
		Timestamp:     now.UTC().Format(time.RFC3339),
		Version:       h.version,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		CPUInfo:       collectCPU(),
		Memory:        collectMemory(),
		Components:    components,
		Checks: map[string]string{
			"database":   components.Database.Status,
			"classifier": components.Classifier.Status,
		},
	}}, nil
}

func toMB(bytes uint64) float64 {
	return float64(bytes) / 1024 / 1024
}

func collectCPU() CPUInfo {
	info := CPUInfo{Cores: runtime.NumCPU()}

	avg, err := load.Avg()
	if err != nil || avg == nil {
		return info
	}
	info.Load1Min = avg.Load1
	info.Load5Min = avg.Load5
	info.Load15Min = avg.Load15
	if info.Cores > 0 {
		info.LoadPercentage1Min = avg.Load1 / float64(info.Cores) * 100
	}
	return info
}

func collectMemory() MemoryInfo {
	var info MemoryInfo

	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		info.TotalMemoryMB = toMB(vm.Total)
		info.UsedMemoryMB = toMB(vm.Used)
		info.FreeMemoryMB = toMB(vm.Free)
		info.AvailableMemoryMB = toMB(vm.Available)
	}
	if swap, err := mem.SwapMemory(); err == nil && swap != nil {
		info.SwapTotalMB = toMB(swap.Total)
		info.SwapUsedMB = toMB(swap.Used)
	}

	info.ProcessMemory = processTreeMemory(info.TotalMemoryMB)
	return info
}

// processTreeMemory sums RSS across this process and its children.
func processTreeMemory(totalSystemMB float64) ProcessMemoryInfo {
	var info ProcessMemoryInfo

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return info
	}

	if rss, err := proc.MemoryInfo(); err == nil && rss != nil {
		info.MainProcessMB = toMB(rss.RSS)
		info.TotalProcessTreeMB = info.MainProcessMB
		if totalSystemMB > 0 {
			info.PercentageOfSystem = info.MainProcessMB / totalSystemMB * 100
		}
	}

	children, err := proc.Children()
	if err != nil {
		return info
	}
	info.ChildProcessCount = len(children)
	for _, child := range children {
		rss, err := child.MemoryInfo()
		if err != nil || rss == nil {
			continue
		}
		info.ChildProcessesMB += toMB(rss.RSS)
		info.TotalProcessTreeMB += toMB(rss.RSS)
	}
	return info
}

func (h *HealthHandler) databaseHealth(ctx context.Context) DatabaseHealth {
	if h.db == nil {
		return DatabaseHealth{Status: "unknown"}
	}

	sqlDB, err := h.db.DB()
	if err != nil {
		return DatabaseHealth{Status: "error"}
	}

	stats := sqlDB.Stats()
	health := DatabaseHealth{
		Status:             "ok",
		ConnectionPoolSize: stats.MaxOpenConnections,
		ActiveConnections:  stats.InUse,
		IdleConnections:    stats.Idle,
	}
	if stats.MaxOpenConnections > 0 {
		health.PoolUtilizationPercent = float64(stats.InUse) / float64(stats.MaxOpenConnections) * 100
	}

	start := time.Now()
	err = sqlDB.PingContext(ctx)
	health.ResponseTimeMS = float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		health.Status = "error"
	}
	return health
}

func (h *HealthHandler) classifierHealth() ClassifierHealth {
	if h.classifier == nil {
		return ClassifierHealth{Status: "unknown", CircuitState: "unknown"}
	}

	state := h.classifier.CircuitState()
	health := ClassifierHealth{
		Status:              "ok",
		CircuitState:        state.String(),
		ConsecutiveFailures: h.classifier.ConsecutiveFailures(),
	}
	if state == httpclient.CircuitOpen {
		health.Status = "degraded"
	}
	return health
}
