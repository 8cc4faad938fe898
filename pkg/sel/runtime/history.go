package runtime

import (
	"sync"
	"time"

	"github.com/sourceful/sel/pkg/sel/ast"
)

type sample struct {
	timestampMs int64
	value       float64
}

// MetricHistory stores per-metric samples and prunes entries older than
// maxAgeSeconds on every Add, mirroring the teacher's prune-on-append ring
// buffer idiom (see pkg/descry/metrics.RuntimeCollector) rather than a
// background sweep goroutine.
type MetricHistory struct {
	mu            sync.RWMutex
	data          map[ast.Metric][]sample
	maxAgeSeconds uint64
}

// NewMetricHistory returns a MetricHistory that retains samples for at most
// maxAgeSeconds.
func NewMetricHistory(maxAgeSeconds uint64) *MetricHistory {
	return &MetricHistory{data: make(map[ast.Metric][]sample), maxAgeSeconds: maxAgeSeconds}
}

// Add records value for metric at timestampMs, pruning samples older than
// maxAgeSeconds relative to timestampMs.
func (h *MetricHistory) Add(metric ast.Metric, timestampMs int64, value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	history := append(h.data[metric], sample{timestampMs, value})

	cutoff := timestampMs - int64(h.maxAgeSeconds)*1000
	if cutoff < 0 {
		cutoff = 0
	}
	kept := history[:0]
	for _, s := range history {
		if s.timestampMs >= cutoff {
			kept = append(kept, s)
		}
	}
	h.data[metric] = kept
}

// GetRange returns the values recorded for metric within periodSeconds of
// currentTimeMs, oldest first.
func (h *MetricHistory) GetRange(metric ast.Metric, periodSeconds uint64, currentTimeMs int64) []float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	cutoff := currentTimeMs - int64(periodSeconds)*1000
	if cutoff < 0 {
		cutoff = 0
	}

	var out []float64
	for _, s := range h.data[metric] {
		if s.timestampMs >= cutoff {
			out = append(out, s.value)
		}
	}
	return out
}

// CooldownState tracks the last trigger time for each rule ID.
type CooldownState struct {
	mu            sync.RWMutex
	lastTriggered map[string]time.Time
}

// NewCooldownState returns an empty CooldownState.
func NewCooldownState() *CooldownState {
	return &CooldownState{lastTriggered: make(map[string]time.Time)}
}

// IsInCooldown reports whether rule ruleID last fired less than
// cooldownSeconds ago.
func (c *CooldownState) IsInCooldown(ruleID string, cooldownSeconds uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	last, ok := c.lastTriggered[ruleID]
	if !ok {
		return false
	}
	return time.Since(last) < time.Duration(cooldownSeconds)*time.Second
}

// Remaining returns the time left in ruleID's cooldown window, or nil if it
// is not currently in cooldown.
func (c *CooldownState) Remaining(ruleID string, cooldownSeconds uint64) *time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	last, ok := c.lastTriggered[ruleID]
	if !ok {
		return nil
	}
	elapsed := time.Since(last)
	cooldown := time.Duration(cooldownSeconds) * time.Second
	if elapsed >= cooldown {
		return nil
	}
	left := cooldown - elapsed
	return &left
}

// Trigger records now as ruleID's last trigger time.
func (c *CooldownState) Trigger(ruleID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastTriggered[ruleID] = time.Now()
}

// Reset clears ruleID's cooldown, if any.
func (c *CooldownState) Reset(ruleID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.lastTriggered, ruleID)
}
