package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Pinger is anything with a connectivity check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Check represents the status of one dependency.
type Check struct {
	Status  string `json:"status"` // "pass" or "fail"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

type HealthResponse struct {
	Status    string           `json:"status"` // "healthy" or "degraded"
	Checks    map[string]Check `json:"checks"`
	Timestamp string           `json:"timestamp"`
}

// Health pings every dependency. A nil entry is reported as not configured
// without degrading the status, since Redis is optional.
func Health(deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		checks := make(map[string]Check, len(deps))
		healthy := true
		for name, dep := range deps {
			if dep == nil {
				checks[name] = Check{Status: "pass", Message: "not configured"}
				continue
			}
			start := time.Now()
			if err := dep.Ping(ctx); err != nil {
				checks[name] = Check{Status: "fail", Message: "connection failed"}
				healthy = false
				continue
			}
			checks[name] = Check{Status: "pass", Latency: time.Since(start).String()}
		}

		resp := HealthResponse{
			Status:    "healthy",
			Checks:    checks,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		status := http.StatusOK
		if !healthy {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(resp)
	}
}
