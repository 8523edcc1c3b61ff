/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

// Status represents the health status of a component
type Status string

const (
	// StatusHealthy indicates the component is healthy
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the component is unhealthy
	StatusUnhealthy Status = "unhealthy"
	// StatusUnknown indicates the component status is unknown
	StatusUnknown Status = "unknown"
)

// Check represents a health check function
type Check func(ctx context.Context) error

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// HealthChecker manages health checks for a service
type HealthChecker struct {
	mu     sync.RWMutex
	checks map[string]Check
	cache  map[string]*CheckResult
	ttl    time.Duration
}

// NewHealthChecker creates a new health checker caching results for ttl
func NewHealthChecker(ttl time.Duration) *HealthChecker {
	return &HealthChecker{
		checks: make(map[string]Check),
		cache:  make(map[string]*CheckResult),
		ttl:    ttl,
	}
}

// RegisterCheck registers a health check
func (hc *HealthChecker) RegisterCheck(name string, check Check) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = check
}

// UnregisterCheck removes a health check
func (hc *HealthChecker) UnregisterCheck(name string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	delete(hc.checks, name)
	delete(hc.cache, name)
}

// RunCheck executes a specific health check
func (hc *HealthChecker) RunCheck(ctx context.Context, name string) *CheckResult {
	hc.mu.RLock()
	check, exists := hc.checks[name]
	if !exists {
		hc.mu.RUnlock()
		return &CheckResult{
			Name:      name,
			Status:    StatusUnknown,
			Message:   "check not found",
			Timestamp: time.Now(),
		}
	}

	// Check cache first
	if cached, ok := hc.cache[name]; ok && time.Since(cached.Timestamp) < hc.ttl {
		hc.mu.RUnlock()
		return cached
	}
	hc.mu.RUnlock()

	// Run the check
	start := time.Now()
	err := check(ctx)
	duration := time.Since(start)

	result := &CheckResult{
		Name:      name,
		Duration:  duration,
		Timestamp: time.Now(),
	}

	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = err.Error()
	} else {
		result.Status = StatusHealthy
	}

	// Cache the result
	hc.mu.Lock()
	hc.cache[name] = result
	hc.mu.Unlock()

	return result
}

// RunAllChecks executes all registered health checks
func (hc *HealthChecker) RunAllChecks(ctx context.Context) map[string]*CheckResult {
	hc.mu.RLock()
	checkNames := make([]string, 0, len(hc.checks))
	for name := range hc.checks {
		checkNames = append(checkNames, name)
	}
	hc.mu.RUnlock()

	results := make(map[string]*CheckResult, len(checkNames))
	for _, name := range checkNames {
		results[name] = hc.RunCheck(ctx, name)
	}

	return results
}

// IsHealthy returns true if all checks are healthy
func (hc *HealthChecker) IsHealthy(ctx context.Context) bool {
	results := hc.RunAllChecks(ctx)
	for _, result := range results {
		if result.Status != StatusHealthy {
			return false
		}
	}
	return true
}

// OverallStatus represents the overall health status
type OverallStatus struct {
	Status  Status                  `json:"status"`
	Checks  map[string]*CheckResult `json:"checks"`
	Summary map[Status]int          `json:"summary"`
}

// GetOverallStatus returns the overall health status
func (hc *HealthChecker) GetOverallStatus(ctx context.Context) *OverallStatus {
	results := hc.RunAllChecks(ctx)

	summary := map[Status]int{
		StatusHealthy:   0,
		StatusUnhealthy: 0,
		StatusUnknown:   0,
	}

	for _, result := range results {
		summary[result.Status]++
	}

	overall := StatusHealthy
	if summary[StatusUnhealthy] > 0 {
		overall = StatusUnhealthy
	} else if summary[StatusUnknown] > 0 {
		overall = StatusUnknown
	}

	return &OverallStatus{
		Status:  overall,
		Checks:  results,
		Summary: summary,
	}
}

// HTTPHandler returns an HTTP handler for health checks
func (hc *HealthChecker) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		status := hc.GetOverallStatus(ctx)

		w.Header().Set("Content-Type", "application/json")

		if status.Status == StatusHealthy {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		if err := json.NewEncoder(w).Encode(status); err != nil {
			http.Error(w, "failed to encode health status", http.StatusInternalServerError)
		}
	}
}

// LivenessHandler returns a simple liveness probe handler
func (hc *HealthChecker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// ReadinessHandler returns a readiness probe handler
func (hc *HealthChecker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if hc.IsHealthy(ctx) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
		}
	}
}

// Register mounts the liveness, readiness and detailed health endpoints on router
func (hc *HealthChecker) Register(router *mux.Router) {
	router.Handle("/healthz", hc.LivenessHandler()).Methods(http.MethodGet)
	router.Handle("/readyz", hc.ReadinessHandler()).Methods(http.MethodGet)
	router.Handle("/health", hc.HTTPHandler()).Methods(http.MethodGet)
}

// FreshnessCheck fails when last reports a time older than maxAge. A zero
// time means nothing has completed yet and fails as well.
func FreshnessCheck(what string, maxAge time.Duration, last func() time.Time) Check {
	return func(ctx context.Context) error {
		t := last()
		if t.IsZero() {
			return fmt.Errorf("no %s completed yet", what)
		}
		if age := time.Since(t); age > maxAge {
			return fmt.Errorf("last %s finished %s ago", what, age.Round(time.Second))
		}
		return nil
	}
}
