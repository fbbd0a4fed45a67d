package orchestrator

import (
	"runtime"
	"time"

	"github.com/frevagpt/orchestrator/internal/streamvariant"
)

// heartbeatPayload builds the telemetry object carried by the ServerHint
// emitted while a tool task is in flight (spec.md §4.5 step B.6 "Heartbeat
// interleaving"). original_source/src/core/heartbeat.py collects psutil-based
// process/system telemetry (memory, cpu, process tree) into the hint's data;
// gopsutil never appears anywhere in the example pack, so this is
// reimplemented on runtime.MemStats/NumGoroutine -- the process-local
// telemetry the standard library actually exposes -- rather than reaching for
// an unattested third-party sysinfo dependency.
func heartbeatPayload(startedAt time.Time, seq int) streamvariant.Variant {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return streamvariant.NewServerHint(map[string]interface{}{
		"kind":          "heartbeat",
		"elapsed_s":     time.Since(startedAt).Seconds(),
		"seq":           seq,
		"memory_alloc":  mem.Alloc,
		"memory_sys":    mem.Sys,
		"num_goroutine": runtime.NumGoroutine(),
	})
}
