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
// Package watch keeps a declared set of DRS rules converged by reconciling
// them on an interval and after every configuration reload.
package watch

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/wait"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/projectbeskar/drsctl/internal/config"
	"github.com/projectbeskar/drsctl/internal/drs"
	"github.com/projectbeskar/drsctl/internal/obs/health"
	"github.com/projectbeskar/drsctl/internal/obs/logging"
	"github.com/projectbeskar/drsctl/internal/obs/metrics"
	"github.com/projectbeskar/drsctl/internal/obs/tracing"
	"github.com/projectbeskar/drsctl/internal/resilience"
)

// jitterFactor spreads passes of several watchers against one vCenter
const jitterFactor = 0.1

// RuleStatus is the last outcome of one declared rule
type RuleStatus struct {
	Cluster  string      `json:"cluster"`
	Rule     string      `json:"rule"`
	Result   *drs.Result `json:"result"`
	Finished time.Time   `json:"finished"`
}

// Watcher reconciles the rules of the current configuration one at a time
type Watcher struct {
	connector drs.Connector
	health    *health.HealthChecker
	log       logr.Logger

	mu       sync.RWMutex
	config   *config.Config
	status   map[string]RuleStatus
	order    []string
	lastPass time.Time
	passes   int
	breakers map[string]*resilience.CircuitBreaker
}

// New creates a watcher for cfg
func New(connector drs.Connector, cfg *config.Config) *Watcher {
	w := &Watcher{
		connector: connector,
		health:    health.NewHealthChecker(5 * time.Second),
		log:       ctrllog.Log.WithName("watch"),
		config:    cfg,
		status:    make(map[string]RuleStatus),
		breakers:  make(map[string]*resilience.CircuitBreaker),
	}
	w.health.RegisterCheck("watch-pass", health.FreshnessCheck("watch pass", 3*cfg.Watch.Interval, w.LastPass))
	return w
}

// Config returns the configuration the next pass will use
func (w *Watcher) Config() *config.Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// SetConfig replaces the configuration. Statuses of rules that are no
// longer declared are dropped and every endpoint breaker is closed again.
func (w *Watcher) SetConfig(cfg *config.Config) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.config = cfg
	declared := make(map[string]bool, len(cfg.Rules))
	for _, r := range cfg.Rules {
		declared[statusKey(r.Cluster, r.Name)] = true
	}
	for key := range w.status {
		if !declared[key] {
			delete(w.status, key)
		}
	}
	for _, cb := range w.breakers {
		cb.Reset()
	}
	w.health.UnregisterCheck("watch-pass")
	w.health.RegisterCheck("watch-pass", health.FreshnessCheck("watch pass", 3*cfg.Watch.Interval, w.LastPass))
}

// BreakerStatus is the circuit breaker state of one endpoint
type BreakerStatus struct {
	Endpoint string `json:"endpoint"`
	State    string `json:"state"`
	Failures int    `json:"failures"`
}

// Breakers returns the breaker state of every endpoint seen so far, sorted
// by endpoint
func (w *Watcher) Breakers() []BreakerStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]BreakerStatus, 0, len(w.breakers))
	for endpoint, cb := range w.breakers {
		out = append(out, BreakerStatus{
			Endpoint: endpoint,
			State:    cb.GetState().String(),
			Failures: cb.GetFailures(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out
}

// LastPass returns when the last pass finished
func (w *Watcher) LastPass() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastPass
}

// Statuses returns the last result of every declared rule in declaration order
func (w *Watcher) Statuses() []RuleStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]RuleStatus, 0, len(w.order))
	for _, key := range w.order {
		if s, ok := w.status[key]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Run reconciles on every interval tick and after every update received on
// updates, until ctx is cancelled
func (w *Watcher) Run(ctx context.Context, updates <-chan *config.Config) error {
	reload := make(chan struct{}, 1)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-updates:
				if !ok {
					return
				}
				if cfg == w.Config() {
					continue
				}
				w.SetConfig(cfg)
				w.log.Info("Configuration changed, reconciling now", "rules", len(cfg.Rules))
				select {
				case reload <- struct{}{}:
				default:
				}
			}
		}
	}()

	for {
		w.Pass(ctx)

		timer := time.NewTimer(wait.Jitter(w.Config().Watch.Interval, jitterFactor))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-reload:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Pass reconciles every declared rule once. Rules sharing an endpoint share
// a session. A failing rule never stops the ones after it.
func (w *Watcher) Pass(ctx context.Context) (statuses []RuleStatus) {
	cfg := w.Config()

	w.mu.Lock()
	w.passes++
	passID := strconv.Itoa(w.passes)
	w.mu.Unlock()

	ctx = logging.WithReconcile(ctx, passID)
	ctx, span := tracing.StartSpan(ctx, tracing.SpanWatchPass)
	defer func() { tracing.EndSpan(span, nil) }()
	log := logging.FromContext(ctx)

	sessions := make(map[drs.ConnectionParams]drs.Session)
	failed := make(map[drs.ConnectionParams]*drs.Result)
	defer func() {
		for _, s := range sessions {
			drs.Disconnect(ctx, s)
		}
	}()

	rules := cfg.RuleParams()
	order := make([]string, 0, len(rules))
	for _, params := range rules {
		if ctx.Err() != nil {
			break
		}
		params = params.WithDefaults()
		key := statusKey(params.Cluster, params.Name)
		order = append(order, key)

		result := w.reconcile(ctx, cfg, params, sessions, failed)
		status := RuleStatus{Cluster: params.Cluster, Rule: params.Name, Result: result, Finished: time.Now()}
		statuses = append(statuses, status)

		w.mu.Lock()
		w.status[key] = status
		w.mu.Unlock()

		if result.Failed {
			log.Error(fmt.Errorf("%s", result.Message), "Rule reconciliation failed",
				"cluster", params.Cluster, "ruleName", params.Name, "phase", result.Phase)
		} else {
			log.V(1).Info("Rule reconciled", "cluster", params.Cluster, "ruleName", params.Name,
				"action", result.Action, "changed", result.Changed)
		}
	}

	now := time.Now()
	w.mu.Lock()
	w.order = order
	w.lastPass = now
	w.mu.Unlock()
	metrics.MarkWatchPass(now)

	log.Info("Watch pass finished", "rules", len(statuses))
	return statuses
}

func (w *Watcher) reconcile(ctx context.Context, cfg *config.Config, params drs.Params,
	sessions map[drs.ConnectionParams]drs.Session, failed map[drs.ConnectionParams]*drs.Result) *drs.Result {
	if err := params.Validate(); err != nil {
		return drs.Execute(ctx, nil, params)
	}

	conn := params.Connection()
	if res, ok := failed[conn]; ok {
		return withInvocation(res, params)
	}

	session, ok := sessions[conn]
	if !ok {
		var err error
		session, err = w.connect(ctx, cfg, conn)
		if err != nil {
			res := drs.FailureResult(err)
			failed[conn] = res
			return withInvocation(res, params)
		}
		sessions[conn] = session
	}

	return drs.Execute(ctx, session, params)
}

// connect opens a session through the circuit breaker of the endpoint
func (w *Watcher) connect(ctx context.Context, cfg *config.Config, conn drs.ConnectionParams) (drs.Session, error) {
	var session drs.Session
	err := w.breaker(cfg, conn).Call(ctx, func(ctx context.Context) error {
		s, err := drs.Connect(ctx, w.connector, conn, cfg.RetryPolicy())
		if err != nil {
			return err
		}
		session = s
		return nil
	})
	if err != nil && drs.PhaseOf(err) == "" {
		err = &drs.Error{Kind: drs.ErrorKindRemote, Phase: drs.PhaseConnect, Message: "endpoint unavailable", Cause: err}
	}
	return session, err
}

func (w *Watcher) breaker(cfg *config.Config, conn drs.ConnectionParams) *resilience.CircuitBreaker {
	endpoint := net.JoinHostPort(conn.Hostname, strconv.Itoa(conn.Port))

	w.mu.Lock()
	defer w.mu.Unlock()
	cb, ok := w.breakers[endpoint]
	if !ok {
		cb = resilience.NewCircuitBreaker(endpoint, cfg.BreakerConfig())
		w.breakers[endpoint] = cb
	}
	return cb
}

func withInvocation(res *drs.Result, params drs.Params) *drs.Result {
	out := *res
	out.Invocation = params.Redacted()
	return &out
}

func statusKey(cluster, rule string) string {
	return cluster + "/" + rule
}
