package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	MQTT          *MQTTMetrics   `json:"mqtt,omitempty"`
	History       HistoryMetrics `json:"history"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains status stream statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`

	// DroppedFrames counts status frames not queued because a client was
	// too slow.
	DroppedFrames int64 `json:"dropped_frames"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// HistoryMetrics summarises the channels.
type HistoryMetrics struct {
	Channels int `json:"channels"`
	Running  int `json:"running"`
	Failing  int `json:"failing"`

	// SamplesLastRun sums the samples written by each channel's latest run.
	SamplesLastRun int `json:"samples_last_run"`
}

// handleMetrics returns runtime and synchronisation metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.count(),
			DroppedFrames:    s.hub.dropped.Load(),
		},
	}

	if s.mqtt != nil {
		metrics.MQTT = &MQTTMetrics{Connected: s.mqtt.IsConnected()}
	}

	for _, st := range s.history.Statuses() {
		metrics.History.Channels++
		if st.Running {
			metrics.History.Running++
		}
		if st.ConsecutiveFailures > 0 {
			metrics.History.Failing++
		}
		if st.LastResult != nil {
			metrics.History.SamplesLastRun += st.LastResult.Samples
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
