package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

var startTime = time.Now()

// HealthChecker exposes a liveness endpoint reporting loop progress.
type HealthChecker struct {
	mu        sync.RWMutex
	lastCycle time.Time
	connected bool
	lastError string
}

type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	LastCycle time.Time `json:"last_cycle"`
	Connected bool      `json:"connected"`
	Uptime    string    `json:"uptime"`
	LastError string    `json:"last_error,omitempty"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{}
}

// CycleCompleted marks a successful decision cycle.
func (h *HealthChecker) CycleCompleted() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastCycle = time.Now()
	h.lastError = ""
}

// SetConnected records gateway connectivity.
func (h *HealthChecker) SetConnected(connected bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = connected
}

// ReportError records the most recent cycle failure.
func (h *HealthChecker) ReportError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastError = err.Error()
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status, code := "healthy", http.StatusOK
	if !h.connected {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	if h.lastError != "" {
		status, code = "unhealthy", http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(HealthStatus{
		Status:    status,
		Timestamp: time.Now(),
		LastCycle: h.lastCycle,
		Connected: h.connected,
		Uptime:    time.Since(startTime).String(),
		LastError: h.lastError,
	})
}
