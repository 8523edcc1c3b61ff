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
package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegistered(t *testing.T) {
	SetupMetrics("test", "abc123")
	RecordReconcile("create", OutcomeSuccess, 10*time.Millisecond)
	RecordRuleOperation("create", OutcomeSuccess)
	RecordTask("create", 5*time.Millisecond)
	RecordError("PermissionDenied", "mutation")
	SetRuleConverged("c1", "web-apart", true)
	MarkWatchPass(time.Now())
	NewCircuitBreakerMetrics("vc.example.com").RecordFailure()

	families, err := GetRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, family := range families {
		names[family.GetName()] = true
	}
	for _, metric := range []string{
		"drsctl_build_info",
		"drsctl_reconcile_total",
		"drsctl_reconcile_duration_seconds",
		"drsctl_rule_operations_total",
		"drsctl_task_duration_seconds",
		"drsctl_errors_total",
		"drsctl_rule_converged",
		"drsctl_watch_last_pass_timestamp_seconds",
		"drsctl_circuit_breaker_failures_total",
	} {
		assert.True(t, names[metric], "Missing metric: %s", metric)
	}
}

func TestSetRuleConverged(t *testing.T) {
	SetRuleConverged("c2", "db", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(ruleConverged.WithLabelValues("c2", "db")))

	SetRuleConverged("c2", "db", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(ruleConverged.WithLabelValues("c2", "db")))
}

func TestCircuitBreakerState(t *testing.T) {
	m := NewCircuitBreakerMetrics("breaker-test")
	m.SetState(CircuitBreakerOpen)
	assert.Equal(t, float64(CircuitBreakerOpen), testutil.ToFloat64(circuitBreakerState.WithLabelValues("breaker-test")))
}

func TestHandler(t *testing.T) {
	RecordRuleOperation("delete", OutcomeError)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `drsctl_rule_operations_total{operation="delete",outcome="error"}`)
}
