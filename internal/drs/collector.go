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
	"errors"
	"fmt"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/projectbeskar/drsctl/internal/obs/logging"
	"github.com/projectbeskar/drsctl/internal/obs/tracing"
)

// RuleSource selects how the collector enumerates rules
type RuleSource string

const (
	// SourceClusterConfig reads the rule list from the cluster configuration
	SourceClusterConfig RuleSource = "cluster"
	// SourceWorkloadProbe asks the cluster for the rules of each workload
	SourceWorkloadProbe RuleSource = "workload"
)

// CollectOptions tunes a collection
type CollectOptions struct {
	// Members are the workloads of interest. With Strict set, every member
	// must resolve or the collection fails with a NotFound error.
	Members sets.Set[string]
	Strict  bool
	Source  RuleSource
}

// Collector builds ClusterSnapshots from a Session
type Collector struct {
	session Session
}

// NewCollector creates a collector reading through session
func NewCollector(session Session) *Collector {
	return &Collector{session: session}
}

// Collect resolves the cluster by name and inventories its rules
func (c *Collector) Collect(ctx context.Context, clusterName string, opts CollectOptions) (*ClusterSnapshot, error) {
	cluster, err := c.session.FindCluster(ctx, clusterName)
	if err != nil {
		return nil, inPhase(err, PhaseCollection)
	}
	return c.CollectCluster(ctx, cluster, opts)
}

// CollectCluster inventories the rules of a resolved cluster. The cluster
// configuration is the preferred source; sessions that cannot read it fall
// back to probing each workload of interest.
func (c *Collector) CollectCluster(ctx context.Context, cluster ClusterRef, opts CollectOptions) (*ClusterSnapshot, error) {
	snapshot, err := c.collect(ctx, cluster, opts)
	if err != nil {
		return nil, inPhase(err, PhaseCollection)
	}
	return snapshot, nil
}

func (c *Collector) collect(ctx context.Context, cluster ClusterRef, opts CollectOptions) (snapshot *ClusterSnapshot, err error) {
	ctx, span := tracing.StartRuleSpan(ctx, tracing.SpanCollect, cluster.Name, "")
	defer func() { tracing.EndSpan(span, err) }()
	log := logging.FromContext(ctx)

	workloads, err := c.resolveMembers(ctx, opts)
	if err != nil {
		return nil, err
	}

	var remote []RemoteRule
	source := opts.Source
	if source == "" {
		source = SourceClusterConfig
	}
	if source == SourceClusterConfig {
		remote, err = c.session.ClusterRules(ctx, cluster)
		if errors.Is(err, ErrNotSupported) {
			log.V(1).Info("Cluster configuration not readable, probing workloads")
			source = SourceWorkloadProbe
		} else if err != nil {
			return nil, err
		}
	}
	if source == SourceWorkloadProbe {
		remote, err = c.probeWorkloads(ctx, cluster, workloads, opts.Members.Len() == 0)
		if err != nil {
			return nil, err
		}
	}

	snapshot = &ClusterSnapshot{
		ClusterName: cluster.Name,
		Rules:       make(map[string]RuleRecord, len(remote)),
	}
	for _, r := range remote {
		record, ok := normalizeRule(r)
		if !ok {
			log.V(1).Info("Skipping unsupported rule type", "ruleName", r.Name, "type", r.TypeName)
			continue
		}
		if prev, dup := snapshot.Rules[record.Name]; dup && prev.Key != record.Key {
			log.Info("Duplicate rule name on cluster, keeping first", "ruleName", record.Name,
				"keptKey", prev.Key, "ignoredKey", record.Key)
			continue
		}
		snapshot.Rules[record.Name] = record
	}

	log.V(1).Info("Collected cluster rules", "source", source, "rules", len(snapshot.Rules))
	return snapshot, nil
}

// resolveMembers looks every member up. Unresolved members fail a strict
// collection and are only logged otherwise.
func (c *Collector) resolveMembers(ctx context.Context, opts CollectOptions) ([]WorkloadRef, error) {
	if opts.Members.Len() == 0 {
		return nil, nil
	}

	log := logging.FromContext(ctx)
	refs := make([]WorkloadRef, 0, opts.Members.Len())
	var missing []string
	for _, name := range sets.List(opts.Members) {
		ref, err := c.session.FindWorkload(ctx, name)
		switch {
		case err == nil:
			refs = append(refs, ref)
		case IsNotFound(err):
			missing = append(missing, name)
		default:
			return nil, err
		}
	}

	if len(missing) > 0 {
		if opts.Strict {
			return nil, NewNotFoundError(fmt.Sprintf("virtual machines not found: %v", missing), nil)
		}
		log.Info("Members not found, treating as absent", "members", missing)
	}
	return refs, nil
}

// probeWorkloads gathers rules through per-workload lookups. When no members
// were requested every workload of the cluster is probed.
func (c *Collector) probeWorkloads(ctx context.Context, cluster ClusterRef, workloads []WorkloadRef, all bool) ([]RemoteRule, error) {
	if all {
		var err error
		workloads, err = c.session.ListWorkloads(ctx, cluster)
		if err != nil {
			return nil, err
		}
	}

	seen := sets.New[int32]()
	var rules []RemoteRule
	for _, w := range workloads {
		found, err := c.session.WorkloadRules(ctx, cluster, w)
		if err != nil {
			return nil, err
		}
		for _, r := range found {
			if seen.Has(r.Key) {
				continue
			}
			seen.Insert(r.Key)
			rules = append(rules, r)
		}
	}
	return rules, nil
}

// normalizeRule converts a controller rule into a RuleRecord, dropping
// bookkeeping fields. Rules that are not VM affinity or anti-affinity rules
// are rejected.
func normalizeRule(r RemoteRule) (RuleRecord, bool) {
	if !r.Kind.Valid() {
		return RuleRecord{}, false
	}

	members := make([]string, len(r.Members))
	copy(members, r.Members)

	return RuleRecord{
		Name:      r.Name,
		Key:       r.Key,
		Members:   members,
		Kind:      r.Kind,
		Enabled:   r.Enabled != nil && *r.Enabled,
		Mandatory: r.Mandatory != nil && *r.Mandatory,
	}, true
}
