package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

var startTime = time.Now()

type HealthChecker struct {
	mu           sync.RWMutex
	lastTick     time.Time
	feedUp       bool
	guardState   string
	openCount    int
	quarantined  []string
	staleAfter   time.Duration
}

type HealthStatus struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	LastTick    time.Time `json:"last_tick"`
	FeedUp      bool      `json:"feed_up"`
	GuardState  string    `json:"guard_state"`
	OpenCount   int       `json:"open_positions"`
	Quarantined []string  `json:"quarantined,omitempty"`
	Uptime      string    `json:"uptime"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		guardState: "NORMAL",
		staleAfter: 2 * time.Minute,
	}
}

// SetTick records a feed tick.
func (h *HealthChecker) SetTick(ts time.Time) {
	h.mu.Lock()
	h.lastTick = ts
	h.feedUp = true
	h.mu.Unlock()
}

// SetFeedDown marks the feed disconnected.
func (h *HealthChecker) SetFeedDown() {
	h.mu.Lock()
	h.feedUp = false
	h.mu.Unlock()
}

// SetGuardState records the risk guard state.
func (h *HealthChecker) SetGuardState(state string) {
	h.mu.Lock()
	h.guardState = state
	h.mu.Unlock()
}

// SetOpenCount records the number of open positions.
func (h *HealthChecker) SetOpenCount(n int) {
	h.mu.Lock()
	h.openCount = n
	h.mu.Unlock()
}

// SetQuarantined records the quarantined instrument lanes.
func (h *HealthChecker) SetQuarantined(symbols []string) {
	h.mu.Lock()
	h.quarantined = symbols
	h.mu.Unlock()
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	if !h.feedUp || (!h.lastTick.IsZero() && time.Since(h.lastTick) > h.staleAfter) {
		status = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if len(h.quarantined) > 0 {
		status = "unhealthy"
		w.WriteHeader(http.StatusInternalServerError)
	}

	health := HealthStatus{
		Status:      status,
		Timestamp:   time.Now(),
		LastTick:    h.lastTick,
		FeedUp:      h.feedUp,
		GuardState:  h.guardState,
		OpenCount:   h.openCount,
		Quarantined: h.quarantined,
		Uptime:      time.Since(startTime).String(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}
