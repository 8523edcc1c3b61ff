/*
Copyright 2026.

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

package drs

import (
	"context"

	"github.com/projectbeskar/drsctl/internal/obs/logging"
	"github.com/projectbeskar/drsctl/internal/resilience"
)

// Driver runs a complete invocation: validate parameters, open a session,
// reconcile or gather facts, and release the session on every exit path.
type Driver struct {
	connector Connector
	retry     *resilience.RetryConfig
}

// DriverOption configures a Driver
type DriverOption func(*Driver)

// WithConnectRetry sets the retry policy for opening sessions
func WithConnectRetry(config *resilience.RetryConfig) DriverOption {
	return func(d *Driver) {
		d.retry = config
	}
}

// NewDriver creates a driver opening sessions through connector
func NewDriver(connector Connector, opts ...DriverOption) *Driver {
	d := &Driver{
		connector: connector,
		retry:     resilience.NoRetryConfig(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run executes one invocation and always returns a result. Failures are
// reported with Failed set rather than as errors.
func (d *Driver) Run(ctx context.Context, params Params) *Result {
	params = params.WithDefaults()
	result, err := d.run(ctx, params)
	return finish(params, result, err)
}

func (d *Driver) run(ctx context.Context, params Params) (*Result, error) {
	if err := params.Validate(); err != nil {
		return nil, inPhase(err, PhaseValidation)
	}

	session, err := Connect(ctx, d.connector, params.Connection(), d.retry)
	if err != nil {
		return nil, err
	}
	defer Disconnect(ctx, session)

	return execute(ctx, session, params)
}

// Execute runs one invocation over a session the caller owns, so several
// rules can share a login. The session is not disconnected.
func Execute(ctx context.Context, session Session, params Params) *Result {
	params = params.WithDefaults()
	if err := params.Validate(); err != nil {
		return finish(params, nil, inPhase(err, PhaseValidation))
	}
	result, err := execute(ctx, session, params)
	return finish(params, result, err)
}

func execute(ctx context.Context, session Session, params Params) (*Result, error) {
	reconciler := NewReconciler(session)
	desired := params.DesiredRuleSpec()
	if params.GatherFactsOnly {
		return reconciler.Facts(ctx, desired, params.FactsSource)
	}
	return reconciler.Reconcile(ctx, desired)
}

func finish(params Params, result *Result, err error) *Result {
	if err != nil {
		result = FailureResult(err)
	}
	result.Invocation = params.Redacted()
	return result
}

// Connect opens a session, retrying transient failures according to retry.
// Authentication and lookup failures are never retried.
func Connect(ctx context.Context, connector Connector, params ConnectionParams, retry *resilience.RetryConfig) (Session, error) {
	if connector == nil {
		return nil, &Error{Kind: ErrorKindPrecondition, Phase: PhaseConnect, Message: "no connector configured"}
	}

	if retry == nil {
		retry = resilience.NoRetryConfig()
	}
	cfg := *retry
	cfg.RetryIf = isTransient

	log := logging.FromContext(ctx).WithValues("hostname", params.Hostname, "port", params.Port)
	var session Session
	err := resilience.Retry(ctx, &cfg, func(ctx context.Context, attempt int) error {
		if attempt > 0 {
			log.Info("Retrying connection", "attempt", attempt+1)
		}
		s, err := connector.Connect(ctx, params)
		if err != nil {
			return err
		}
		session = s
		return nil
	})
	if err != nil {
		return nil, inPhase(err, PhaseConnect)
	}

	log.V(1).Info("Session established")
	return session, nil
}

// Disconnect logs session out, logging rather than returning failures
func Disconnect(ctx context.Context, session Session) {
	if session == nil {
		return
	}
	if err := session.Disconnect(ctx); err != nil {
		logging.FromContext(ctx).Error(err, "Failed to disconnect session")
	}
}

func isTransient(err error) bool {
	switch KindOf(err) {
	case ErrorKindPermission, ErrorKindNotFound, ErrorKindPrecondition:
		return false
	}
	return true
}
