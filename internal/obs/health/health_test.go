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
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

func TestHealthChecker(t *testing.T) {
	checker := NewHealthChecker(0)
	ctx := context.Background()

	checker.RegisterCheck("test-check", func(ctx context.Context) error { return nil })
	checker.RegisterCheck("failing-check", func(ctx context.Context) error { return assert.AnError })

	assert.Equal(t, StatusHealthy, checker.RunCheck(ctx, "test-check").Status)
	assert.Equal(t, StatusUnhealthy, checker.RunCheck(ctx, "failing-check").Status)
	assert.Equal(t, StatusUnknown, checker.RunCheck(ctx, "missing").Status)

	status := checker.GetOverallStatus(ctx)
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Equal(t, 1, status.Summary[StatusHealthy])
	assert.Equal(t, 1, status.Summary[StatusUnhealthy])

	checker.UnregisterCheck("failing-check")
	assert.Equal(t, StatusHealthy, checker.GetOverallStatus(ctx).Status)
}

func TestHealthCheckerCachesResults(t *testing.T) {
	checker := NewHealthChecker(time.Hour)
	calls := 0
	checker.RegisterCheck("counted", func(ctx context.Context) error {
		calls++
		return nil
	})

	checker.RunCheck(context.Background(), "counted")
	checker.RunCheck(context.Background(), "counted")
	assert.Equal(t, 1, calls)
}

func TestFreshnessCheck(t *testing.T) {
	var last time.Time
	check := FreshnessCheck("watch pass", time.Minute, func() time.Time { return last })

	assert.ErrorContains(t, check(context.Background()), "no watch pass completed yet")

	last = time.Now().Add(-2 * time.Minute)
	assert.ErrorContains(t, check(context.Background()), "last watch pass finished")

	last = time.Now()
	assert.NoError(t, check(context.Background()))
}

func TestRegister(t *testing.T) {
	checker := NewHealthChecker(0)
	healthy := true
	checker.RegisterCheck("toggle", func(ctx context.Context) error {
		if healthy {
			return nil
		}
		return assert.AnError
	})

	router := mux.NewRouter()
	checker.Register(router)

	get := func(path string) int {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, get("/healthz"))
	assert.Equal(t, http.StatusOK, get("/readyz"))
	assert.Equal(t, http.StatusOK, get("/health"))

	healthy = false
	assert.Equal(t, http.StatusOK, get("/healthz"))
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz"))
	assert.Equal(t, http.StatusServiceUnavailable, get("/health"))
}
