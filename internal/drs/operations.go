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

// OperationResult is the verified outcome of a convergence operation
type OperationResult struct {
	// Changed is true only when the post-operation check shows the intended state
	Changed bool
	// Diagnostic explains why a completed operation did not take effect
	Diagnostic string
	// Snapshot is the state collected for verification
	Snapshot *ClusterSnapshot
}

// Operations mutates cluster rules. Each operation issues exactly one
// reconfiguration, waits for it, and re-collects facts to verify the result.
// Remote failures are returned as-is and never retried.
type Operations struct {
	session   Session
	collector *Collector
}

// NewOperations creates convergence operations bound to session
func NewOperations(session Session) *Operations {
	return &Operations{
		session:   session,
		collector: NewCollector(session),
	}
}

// CreateRule adds a rule built from the desired members and affinity
func (o *Operations) CreateRule(ctx context.Context, cluster ClusterRef, desired DesiredRuleSpec) (result OperationResult, err error) {
	ctx, span := tracing.StartRuleSpan(ctx, tracing.SpanCreate, cluster.Name, desired.Name)
	defer func() { tracing.EndSpan(span, err) }()

	if err := checkCreatable(desired); err != nil {
		return OperationResult{}, err
	}

	add, err := o.addChange(ctx, desired)
	if err != nil {
		return OperationResult{}, err
	}

	if err := o.submit(ctx, cluster, "create", ConfigSpec{Changes: []RuleChange{add}}); err != nil {
		return OperationResult{}, err
	}

	return o.verifyPresent(ctx, cluster, desired)
}

// DeleteRule removes the rule identified by key
func (o *Operations) DeleteRule(ctx context.Context, cluster ClusterRef, desired DesiredRuleSpec, key int32) (result OperationResult, err error) {
	ctx, span := tracing.StartRuleSpan(ctx, tracing.SpanDelete, cluster.Name, desired.Name)
	defer func() { tracing.EndSpan(span, err) }()

	if key == 0 {
		return OperationResult{}, NewPreconditionError(
			fmt.Sprintf("cannot delete rule %q: rule key is unknown", desired.Name), nil)
	}

	if err := o.submit(ctx, cluster, "delete", ConfigSpec{Changes: []RuleChange{removeChange(desired.Name, key)}}); err != nil {
		return OperationResult{}, err
	}

	return o.verifyAbsent(ctx, cluster, desired, key)
}

// UpdateRule replaces existing with the desired rule. By default this is a
// delete followed by a create and is not atomic: a failure in between leaves
// the rule absent until the next reconciliation. With AtomicUpdate set and a
// session that supports it, both changes go out in one reconfiguration.
// An empty desired affinity keeps the kind of the existing rule.
func (o *Operations) UpdateRule(ctx context.Context, cluster ClusterRef, desired DesiredRuleSpec, existing RuleRecord) (result OperationResult, err error) {
	ctx, span := tracing.StartRuleSpan(ctx, tracing.SpanUpdate, cluster.Name, desired.Name)
	defer func() { tracing.EndSpan(span, err) }()
	log := logging.FromContext(ctx)

	if desired.Affinity == "" {
		desired.Affinity = existing.Kind
	}
	if err := checkCreatable(desired); err != nil {
		return OperationResult{}, err
	}
	if existing.Key == 0 {
		return OperationResult{}, NewPreconditionError(
			fmt.Sprintf("cannot update rule %q: rule key is unknown", desired.Name), nil)
	}

	if desired.AtomicUpdate && supportsAtomicReplace(o.session) {
		add, err := o.addChange(ctx, desired)
		if err != nil {
			return OperationResult{}, err
		}
		spec := ConfigSpec{Changes: []RuleChange{removeChange(desired.Name, existing.Key), add}}
		if err := o.submit(ctx, cluster, "replace", spec); err != nil {
			return OperationResult{}, err
		}
		return o.verifyPresent(ctx, cluster, desired)
	}
	if desired.AtomicUpdate {
		log.Info("Session cannot replace rules atomically, falling back to delete and create")
	}

	deleted, err := o.DeleteRule(ctx, cluster, desired, existing.Key)
	if err != nil {
		return OperationResult{}, err
	}
	if !deleted.Changed {
		return deleted, nil
	}

	return o.CreateRule(ctx, cluster, desired)
}

func checkCreatable(desired DesiredRuleSpec) error {
	if desired.Members.Len() == 0 {
		return NewPreconditionError(fmt.Sprintf("cannot create rule %q without members", desired.Name), nil)
	}
	if !desired.Affinity.Valid() {
		return NewPreconditionError(
			fmt.Sprintf("cannot create rule %q: affinity (keep together or apart) is required", desired.Name), nil)
	}
	return nil
}

func (o *Operations) addChange(ctx context.Context, desired DesiredRuleSpec) (RuleChange, error) {
	members := make([]WorkloadRef, 0, desired.Members.Len())
	for _, name := range desired.SortedMembers() {
		ref, err := o.session.FindWorkload(ctx, name)
		if err != nil {
			return RuleChange{}, inPhase(err, PhaseMutation)
		}
		members = append(members, ref)
	}

	return RuleChange{
		Operation: RuleOperationAdd,
		Rule: RuleRecord{
			Name:      desired.Name,
			Members:   desired.SortedMembers(),
			Kind:      desired.Affinity,
			Enabled:   desired.Enabled,
			Mandatory: desired.Mandatory,
		},
		Members: members,
	}, nil
}

func removeChange(name string, key int32) RuleChange {
	return RuleChange{
		Operation: RuleOperationRemove,
		Rule:      RuleRecord{Name: name, Key: key},
	}
}

// submit issues one reconfiguration and blocks until its task finishes
func (o *Operations) submit(ctx context.Context, cluster ClusterRef, operation string, spec ConfigSpec) error {
	task, err := o.session.SubmitReconfigure(ctx, cluster, spec)
	if err != nil {
		metrics.RecordRuleOperation(operation, metrics.OutcomeError)
		return inPhase(err, PhaseMutation)
	}

	ctx = logging.WithTaskRef(ctx, task.ID)
	log := logging.FromContext(ctx)
	log.Info("Waiting for cluster reconfiguration", "operation", operation)

	waitCtx, span := tracing.StartSpan(ctx, tracing.SpanTaskWait)
	tracing.SetAttributes(waitCtx, tracing.AttrTaskRef.String(task.ID), tracing.AttrOperation.String(operation))
	timer := metrics.NewTimer()
	err = o.session.AwaitTask(waitCtx, task)
	metrics.RecordTask(operation, timer.Duration())
	tracing.EndSpan(span, err)

	if err != nil {
		metrics.RecordRuleOperation(operation, metrics.OutcomeError)
		return inPhase(err, PhaseMutation)
	}

	metrics.RecordRuleOperation(operation, metrics.OutcomeSuccess)
	log.V(1).Info("Cluster reconfiguration finished", "operation", operation)
	return nil
}

func (o *Operations) verifyPresent(ctx context.Context, cluster ClusterRef, desired DesiredRuleSpec) (OperationResult, error) {
	snapshot, err := o.collector.collect(ctx, cluster, CollectOptions{Members: desired.Members})
	if err != nil {
		return OperationResult{}, inPhase(err, PhaseVerification)
	}

	cmp := Compare(snapshot, desired)
	if !cmp.Converged() {
		mismatch := NewVerificationError(fmt.Sprintf(
			"rule %q reported success but cluster shows %s", desired.Name, cmp.Condition()))
		logging.FromContext(ctx).Info("Verification mismatch", "reason", mismatch.Error())
		return OperationResult{Diagnostic: mismatch.Error(), Snapshot: snapshot}, nil
	}

	return OperationResult{Changed: true, Snapshot: snapshot}, nil
}

func (o *Operations) verifyAbsent(ctx context.Context, cluster ClusterRef, desired DesiredRuleSpec, key int32) (OperationResult, error) {
	snapshot, err := o.collector.collect(ctx, cluster, CollectOptions{Members: desired.Members})
	if err != nil {
		return OperationResult{}, inPhase(err, PhaseVerification)
	}

	for _, rule := range snapshot.Rules {
		if rule.Key == key {
			mismatch := NewVerificationError(fmt.Sprintf(
				"rule %q (key %d) reported removed but is still configured", desired.Name, key))
			logging.FromContext(ctx).Info("Verification mismatch", "reason", mismatch.Error())
			return OperationResult{Diagnostic: mismatch.Error(), Snapshot: snapshot}, nil
		}
	}

	return OperationResult{Changed: true, Snapshot: snapshot}, nil
}
