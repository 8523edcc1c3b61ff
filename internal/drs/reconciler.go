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
	"fmt"

	"github.com/projectbeskar/drsctl/internal/obs/logging"
	"github.com/projectbeskar/drsctl/internal/obs/metrics"
	"github.com/projectbeskar/drsctl/internal/obs/tracing"
)

// Decide picks the convergence action for the desired state and comparison
//
//	present, absent rule                 -> create
//	present, members differ              -> update
//	present, converged                   -> noop, or update with ForceUpdate
//	absent,  rule exists                 -> delete
//	absent,  no rule                     -> noop
func Decide(desired DesiredRuleSpec, cmp ComparisonResult) Action {
	if desired.State == StateAbsent {
		if cmp.RuleExists {
			return ActionDelete
		}
		return ActionNoop
	}

	switch {
	case !cmp.RuleExists:
		return ActionCreate
	case !cmp.MembersMatch, desired.ForceUpdate:
		return ActionUpdate
	default:
		return ActionNoop
	}
}

// Reconciler converges one rule at a time over an established session. It
// keeps no state between calls; every call starts from freshly collected facts.
type Reconciler struct {
	session    Session
	collector  *Collector
	operations *Operations
}

// NewReconciler creates a reconciler bound to session
func NewReconciler(session Session) *Reconciler {
	return &Reconciler{
		session:    session,
		collector:  NewCollector(session),
		operations: NewOperations(session),
	}
}

// Reconcile collects facts, compares them with desired and runs at most one
// convergence operation. Fatal failures are returned as errors; a completed
// operation whose effect cannot be verified is reported in the result.
func (r *Reconciler) Reconcile(ctx context.Context, desired DesiredRuleSpec) (result *Result, err error) {
	ctx = logging.WithCluster(ctx, desired.ClusterName)
	ctx = logging.WithRule(ctx, desired.Name)
	ctx, span := tracing.StartRuleSpan(ctx, tracing.SpanReconcile, desired.ClusterName, desired.Name)
	defer func() { tracing.EndSpan(span, err) }()
	log := logging.FromContext(ctx)

	timer := metrics.NewTimer()
	action := ActionNoop
	defer func() {
		outcome := metrics.OutcomeSuccess
		switch {
		case err != nil:
			outcome = metrics.OutcomeError
			metrics.RecordError(string(KindOf(err)), string(PhaseOf(err)))
		case !result.Changed:
			outcome = metrics.OutcomeNoop
		}
		metrics.RecordReconcile(string(action), outcome, timer.Duration())
	}()

	if desired.State == StatePresent && desired.Members.Len() == 0 {
		return nil, &Error{Kind: ErrorKindPrecondition, Phase: PhaseComparison,
			Message: fmt.Sprintf("rule %q: members must not be empty when state is present", desired.Name)}
	}

	cluster, err := r.session.FindCluster(ctx, desired.ClusterName)
	if err != nil {
		return nil, inPhase(err, PhaseCollection)
	}

	snapshot, err := r.collector.CollectCluster(ctx, cluster, CollectOptions{
		Members: desired.Members,
		Strict:  desired.State == StatePresent,
	})
	if err != nil {
		return nil, err
	}

	_, cmpSpan := tracing.StartSpan(ctx, tracing.SpanCompare)
	cmp := Compare(snapshot, desired)
	action = Decide(desired, cmp)
	tracing.EndSpan(cmpSpan, nil)
	tracing.SetAttributes(ctx,
		tracing.AttrCondition.String(string(cmp.Condition())),
		tracing.AttrAction.String(string(action)))
	log.Info("Compared rule state", "condition", cmp.Condition(), "action", action)

	result = &Result{Action: action, Condition: cmp.Condition(), Facts: snapshot}

	if action == ActionNoop {
		result.Message = noopMessage(desired)
		metrics.SetRuleConverged(desired.ClusterName, desired.Name, true)
		return result, nil
	}

	if desired.CheckMode {
		result.Changed = true
		result.Message = fmt.Sprintf("check mode: would %s rule %q", action, desired.Name)
		return result, nil
	}

	var op OperationResult
	switch action {
	case ActionCreate:
		op, err = r.operations.CreateRule(ctx, cluster, desired)
	case ActionDelete:
		op, err = r.operations.DeleteRule(ctx, cluster, desired, cmp.Existing.Key)
	case ActionUpdate:
		op, err = r.operations.UpdateRule(ctx, cluster, desired, cmp.Existing)
	}
	if err != nil {
		return nil, inPhase(err, PhaseMutation)
	}

	result.Changed = op.Changed || (action == ActionUpdate && desired.ForceUpdate)
	result.Facts = op.Snapshot
	if op.Diagnostic != "" {
		result.Message = op.Diagnostic
	} else {
		result.Message = fmt.Sprintf("rule %q %s", desired.Name, pastTense(action))
	}

	metrics.SetRuleConverged(desired.ClusterName, desired.Name, op.Changed)
	return result, nil
}

// Facts collects the rule inventory of a cluster without reconciling.
// Members that cannot be resolved are logged and skipped.
func (r *Reconciler) Facts(ctx context.Context, desired DesiredRuleSpec, source RuleSource) (*Result, error) {
	ctx = logging.WithCluster(ctx, desired.ClusterName)
	snapshot, err := r.collector.Collect(ctx, desired.ClusterName, CollectOptions{
		Members: desired.Members,
		Source:  source,
	})
	if err != nil {
		return nil, err
	}

	return &Result{
		Action:  ActionFacts,
		Facts:   snapshot,
		Message: fmt.Sprintf("collected %d rules from cluster %q", len(snapshot.Rules), snapshot.ClusterName),
	}, nil
}

func noopMessage(desired DesiredRuleSpec) string {
	if desired.State == StateAbsent {
		return fmt.Sprintf("rule %q is already absent", desired.Name)
	}
	return fmt.Sprintf("rule %q is already configured", desired.Name)
}

func pastTense(a Action) string {
	switch a {
	case ActionCreate:
		return "created"
	case ActionDelete:
		return "deleted"
	case ActionUpdate:
		return "updated"
	default:
		return string(a)
	}
}
