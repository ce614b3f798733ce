package telemetry

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Events is the structured event sink plus the rolling-latency sampler used
// by the cross-encoder circuit breaker and by the augmented-generation
// component's ag_metrics event (its rolling latency p95).
type Events struct {
	log     *zap.Logger
	mu      sync.Mutex
	samples map[string][]time.Duration
	maxLen  int
}

// NewEvents builds an event sink. maxLen bounds the ring buffer kept per
// stage name (AG_LATENCY_MAX_SAMPLES in config).
func NewEvents(log *zap.Logger, maxLen int) *Events {
	if maxLen <= 0 {
		maxLen = 200
	}
	return &Events{log: log, samples: make(map[string][]time.Duration), maxLen: maxLen}
}

// RecordEvent emits a structured log line for a named pipeline event.
func (e *Events) RecordEvent(name string, fields ...zap.Field) {
	e.log.Info(name, fields...)
}

// ObserveLatency appends a latency sample for stage, evicting the oldest
// sample once the ring buffer reaches its cap.
func (e *Events) ObserveLatency(stage string, d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	buf := e.samples[stage]
	if len(buf) >= e.maxLen {
		buf = buf[1:]
	}
	e.samples[stage] = append(buf, d)
}

// RollingP95 returns the p95 latency observed for stage over its current
// sample window, or 0 if no samples have been recorded yet.
func (e *Events) RollingP95(stage string) time.Duration {
	e.mu.Lock()
	buf := append([]time.Duration(nil), e.samples[stage]...)
	e.mu.Unlock()
	if len(buf) == 0 {
		return 0
	}
	sort.Slice(buf, func(i, j int) bool { return buf[i] < buf[j] })
	idx := int(float64(len(buf)-1) * 0.95)
	return buf[idx]
}
