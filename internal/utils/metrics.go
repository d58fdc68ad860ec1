package utils

import (
	"sync"
	"time"
)

// Well-known operation names recorded by the messaging engine.
const (
	OpLoadHistory     = "load_history"
	OpSendMessage     = "send_message"
	OpEditMessage     = "edit_message"
	OpDeleteMessage   = "delete_message"
	OpReact           = "react"
	OpListDirectory   = "list_directory"
	OpFindOrCreate    = "find_or_create_direct"
	OpUploadAttach    = "upload_attachment"
	OpReactionRefetch = "reaction_refetch"
)

// Tracks performance metrics across the system
type MetricsCollector struct {
	mu           sync.RWMutex
	requestCount uint64
	errorCount   uint64

	// Maps operation name to list of latencies in nanoseconds
	operationTimes map[string][]int64

	systemStartTime time.Time
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		operationTimes:  make(map[string][]int64),
		systemStartTime: time.Now(),
	}
}

func (mc *MetricsCollector) IncrementRequests() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.requestCount++
}

func (mc *MetricsCollector) IncrementErrors() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.errorCount++
}

func (mc *MetricsCollector) AddOperationLatency(operationName string, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if _, exists := mc.operationTimes[operationName]; !exists {
		mc.operationTimes[operationName] = make([]int64, 0)
	}
	mc.operationTimes[operationName] = append(
		mc.operationTimes[operationName],
		duration.Nanoseconds(),
	)
}

// MetricsSnapshot is a point-in-time view served by the metrics endpoint.
type MetricsSnapshot struct {
	Uptime           time.Duration            `json:"uptime"`
	RequestCount     uint64                   `json:"requestCount"`
	ErrorCount       uint64                   `json:"errorCount"`
	AverageLatencies map[string]time.Duration `json:"averageLatencies"`
	OperationCounts  map[string]int           `json:"operationCounts"`
}

func (mc *MetricsCollector) Snapshot() MetricsSnapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	snap := MetricsSnapshot{
		Uptime:           time.Since(mc.systemStartTime),
		RequestCount:     mc.requestCount,
		ErrorCount:       mc.errorCount,
		AverageLatencies: make(map[string]time.Duration),
		OperationCounts:  make(map[string]int),
	}

	for op, latencies := range mc.operationTimes {
		snap.OperationCounts[op] = len(latencies)
		if len(latencies) == 0 {
			continue
		}
		var total int64
		for _, l := range latencies {
			total += l
		}
		snap.AverageLatencies[op] = time.Duration(total / int64(len(latencies)))
	}

	return snap
}
