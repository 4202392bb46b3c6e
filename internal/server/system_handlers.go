package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/tickerbrief/internal/cache"
	"github.com/aristath/tickerbrief/internal/database"
)

// statsSource is the slice of the query service the system endpoint needs.
type statsSource interface {
	CacheStats() cache.Stats
}

// SystemHandlers reports process and storage health.
type SystemHandlers struct {
	databases []*database.DB
	stats     statsSource
	startedAt time.Time
	log       zerolog.Logger
}

// NewSystemHandlers creates the system health handlers.
func NewSystemHandlers(databases []*database.DB, stats statsSource, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		databases: databases,
		stats:     stats,
		startedAt: time.Now(),
		log:       log.With().Str("handler", "system").Logger(),
	}
}

// RegisterRoutes registers the system routes.
func (h *SystemHandlers) RegisterRoutes(r chi.Router) {
	r.Get("/system/status", h.HandleSystemStatus)
	r.Get("/health", h.HandleHealth)
}

// HandleHealth handles GET /api/health, a cheap liveness probe.
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleSystemStatus handles GET /api/system/status: process stats, database
// health, and cache hit counters.
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, memPercent := h.getSystemStats()

	dbStatus := map[string]string{}
	healthy := true
	for _, db := range h.databases {
		if err := db.HealthCheck(r.Context()); err != nil {
			dbStatus[db.Name()] = err.Error()
			healthy = false
		} else {
			dbStatus[db.Name()] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, envelope(map[string]interface{}{
		"healthy":        healthy,
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
		"cpu_percent":    cpuPercent,
		"memory_percent": memPercent,
		"databases":      dbStatus,
		"cache":          h.stats.CacheStats(),
	}, nil))
}

// getSystemStats returns CPU and memory utilization percentages.
// Failures degrade to zero rather than failing the status call.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	var cpuPercent, memPercent float64

	if percents, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(percents) > 0 {
		cpuPercent = percents[0]
	}
	if memStat, err := mem.VirtualMemory(); err == nil {
		memPercent = memStat.UsedPercent
	}

	return cpuPercent, memPercent
}
