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

package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/projectbeskar/drsctl/internal/obs/metrics"
)

// ErrCircuitOpen is returned by CircuitBreaker.Call while the circuit is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state
type State int

const (
	// StateClosed means calls flow normally
	StateClosed State = iota
	// StateHalfOpen means a single trial call is allowed
	StateHalfOpen
	// StateOpen means calls fail fast
	StateOpen
)

// String returns string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds circuit breaker configuration
type BreakerConfig struct {
	FailureThreshold int           // Consecutive failures that open the circuit
	ResetTimeout     time.Duration // Time to wait before allowing a trial call
}

// DefaultBreakerConfig returns default circuit breaker configuration
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     5 * time.Minute,
	}
}

// CircuitBreaker stops a watch loop from logging in to an endpoint that keeps
// failing. It is safe for concurrent use.
type CircuitBreaker struct {
	mu              sync.Mutex
	config          *BreakerConfig
	state           State
	failures        int
	lastFailureTime time.Time
	metrics         *metrics.CircuitBreakerMetrics
	name            string
	now             func() time.Time
}

// NewCircuitBreaker creates a circuit breaker guarding name
func NewCircuitBreaker(name string, config *BreakerConfig) *CircuitBreaker {
	if config == nil {
		config = DefaultBreakerConfig()
	}

	cb := &CircuitBreaker{
		config:  config,
		state:   StateClosed,
		metrics: metrics.NewCircuitBreakerMetrics(name),
		name:    name,
		now:     time.Now,
	}
	cb.metrics.SetState(metrics.CircuitBreakerClosed)

	return cb
}

// Call executes fn unless the circuit is open
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.allowCall() {
		return fmt.Errorf("%s: %w", cb.name, ErrCircuitOpen)
	}

	err := fn(ctx)
	cb.recordResult(err)
	return err
}

func (cb *CircuitBreaker) allowCall() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.now().Sub(cb.lastFailureTime) > cb.config.ResetTimeout {
			cb.setState(StateHalfOpen)
			return true
		}
		return false
	default:
		// half-open already has its trial call in flight
		return false
	}
}

func (cb *CircuitBreaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.failures = 0
		cb.setState(StateClosed)
		return
	}

	cb.failures++
	cb.lastFailureTime = cb.now()
	cb.metrics.RecordFailure()

	if cb.state == StateHalfOpen || cb.failures >= cb.config.FailureThreshold {
		cb.setState(StateOpen)
	}
}

func (cb *CircuitBreaker) setState(state State) {
	cb.state = state
	switch state {
	case StateClosed:
		cb.metrics.SetState(metrics.CircuitBreakerClosed)
	case StateHalfOpen:
		cb.metrics.SetState(metrics.CircuitBreakerHalfOpen)
	case StateOpen:
		cb.metrics.SetState(metrics.CircuitBreakerOpen)
	}
}

// GetState returns the current state
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetFailures returns the current consecutive failure count
func (cb *CircuitBreaker) GetFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset closes the circuit
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.setState(StateClosed)
}
