package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/chainsift/indexer/pkg/supervisor"
)

// HealthStatus is the GET /worker/health response, reporting process uptime
// and a per-chain rollup so an operator never needs a second request to see
// whether any chain has fallen into StateFailed.
type HealthStatus struct {
	Status  string                    `json:"status"`
	Uptime  string                    `json:"uptime"`
	Version string                    `json:"version"`
	Chains  []supervisor.ChainStatus  `json:"chains"`
}

// HealthChecker computes the worker health rollup from the live Supervisor.
type HealthChecker struct {
	startTime  time.Time
	version    string
	supervisor *supervisor.Supervisor
}

// NewHealthChecker constructs a HealthChecker against sup, recording
// startTime for uptime reporting.
func NewHealthChecker(sup *supervisor.Supervisor, version string) *HealthChecker {
	return &HealthChecker{startTime: time.Now(), version: version, supervisor: sup}
}

func (hc *HealthChecker) snapshot() HealthStatus {
	chains := hc.supervisor.Status()
	status := "healthy"
	for _, c := range chains {
		if c.State == "failed" {
			status = "degraded"
			break
		}
	}
	return HealthStatus{
		Status:  status,
		Uptime:  time.Since(hc.startTime).String(),
		Version: hc.version,
		Chains:  chains,
	}
}

// ServeHTTP implements GET /worker/health.
func (hc *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	health := hc.snapshot()
	w.Header().Set("Content-Type", "application/json")
	status := http.StatusOK
	if health.Status == "degraded" {
		status = http.StatusOK // degraded chains still serve traffic
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(health)
}
