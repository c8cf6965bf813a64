package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

var startTime = time.Now()

type HealthChecker struct {
	mu            sync.RWMutex
	lastOrder     time.Time
	brokerOK      bool
	breakerStatus string
	errors        []string
}

type HealthStatus struct {
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	LastOrder     time.Time `json:"last_order"`
	BrokerOK      bool      `json:"broker_ok"`
	BreakerStatus string    `json:"breaker_status"`
	Uptime        string    `json:"uptime"`
	Errors        []string  `json:"errors,omitempty"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		errors: make([]string, 0),
	}
}

// SetBrokerOK records broker gateway connectivity.
func (h *HealthChecker) SetBrokerOK(ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.brokerOK = ok
}

// SetBreakerStatus records the circuit breaker status label.
func (h *HealthChecker) SetBreakerStatus(status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.breakerStatus = status
}

// RecordOrder notes a successful order placement.
func (h *HealthChecker) RecordOrder() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastOrder = time.Now()
}

// RecordError appends an error to the health report.
func (h *HealthChecker) RecordError(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, msg)
	if len(h.errors) > 20 {
		h.errors = h.errors[len(h.errors)-20:]
	}
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	if !h.brokerOK {
		status = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if len(h.errors) > 0 {
		status = "unhealthy"
		w.WriteHeader(http.StatusInternalServerError)
	}

	health := HealthStatus{
		Status:        status,
		Timestamp:     time.Now(),
		LastOrder:     h.lastOrder,
		BrokerOK:      h.brokerOK,
		BreakerStatus: h.breakerStatus,
		Uptime:        time.Since(startTime).String(),
		Errors:        h.errors,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}
