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

package vsphere

import (
	"context"
	"fmt"
	"reflect"

	"github.com/vmware/govmomi/vim25/methods"
	"github.com/vmware/govmomi/vim25/types"

	"github.com/projectbeskar/drsctl/internal/drs"
)

// ClusterRules reads the rule list from the cluster configuration
func (s *Session) ClusterRules(ctx context.Context, cluster drs.ClusterRef) ([]drs.RemoteRule, error) {
	cfg, err := s.clusterObject(cluster).Configuration(ctx)
	if err != nil {
		return nil, classify(fmt.Sprintf("failed to read configuration of cluster %q", cluster.Name), err)
	}
	return s.convertRules(ctx, cfg.Rule)
}

// WorkloadRules returns the rules the cluster applies to one virtual machine
func (s *Session) WorkloadRules(ctx context.Context, cluster drs.ClusterRef, workload drs.WorkloadRef) ([]drs.RemoteRule, error) {
	req := types.FindRulesForVm{
		This: s.clusterObject(cluster).Reference(),
		Vm:   vmReference(workload),
	}
	res, err := methods.FindRulesForVm(ctx, s.client, &req)
	if err != nil {
		return nil, classify(fmt.Sprintf("failed to find rules for virtual machine %q", workload.Name), err)
	}
	return s.convertRules(ctx, res.Returnval)
}

// convertRules maps vSphere rule infos to RemoteRules, resolving member
// references to virtual machine names in one round trip
func (s *Session) convertRules(ctx context.Context, infos []types.BaseClusterRuleInfo) ([]drs.RemoteRule, error) {
	var refs []types.ManagedObjectReference
	for _, info := range infos {
		_, vms := ruleKind(info)
		refs = append(refs, vms...)
	}

	names, err := s.workloadNames(ctx, refs)
	if err != nil {
		return nil, err
	}

	rules := make([]drs.RemoteRule, 0, len(infos))
	for _, info := range infos {
		kind, vms := ruleKind(info)
		base := info.GetClusterRuleInfo()

		members := make([]string, 0, len(vms))
		for _, ref := range vms {
			name, ok := names[ref.Value]
			if !ok {
				name = ref.Value
			}
			members = append(members, name)
		}

		rule := drs.RemoteRule{
			Name:         base.Name,
			Key:          base.Key,
			TypeName:     reflect.TypeOf(info).Elem().Name(),
			Kind:         kind,
			Members:      members,
			Enabled:      base.Enabled,
			Mandatory:    base.Mandatory,
			Status:       string(base.Status),
			UUID:         base.RuleUuid,
			UserCreated:  base.UserCreated,
			InCompliance: base.InCompliance,
			DynamicType:  base.DynamicType,
		}
		for _, p := range base.DynamicProperty {
			rule.DynamicProperties = append(rule.DynamicProperties, p.Name)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// ruleKind returns the affinity mode and members of VM affinity and
// anti-affinity rules; other rule types yield an empty kind
func ruleKind(info types.BaseClusterRuleInfo) (drs.RuleKind, []types.ManagedObjectReference) {
	switch r := info.(type) {
	case *types.ClusterAffinityRuleSpec:
		return drs.KeepTogether, r.Vm
	case *types.ClusterAntiAffinityRuleSpec:
		return drs.KeepApart, r.Vm
	default:
		return "", nil
	}
}

// ruleInfo builds the vSphere rule for an add change
func ruleInfo(change drs.RuleChange) (types.BaseClusterRuleInfo, error) {
	info := types.ClusterRuleInfo{
		Name:      change.Rule.Name,
		Enabled:   types.NewBool(change.Rule.Enabled),
		Mandatory: types.NewBool(change.Rule.Mandatory),
	}

	vms := make([]types.ManagedObjectReference, 0, len(change.Members))
	for _, m := range change.Members {
		vms = append(vms, vmReference(m))
	}

	switch change.Rule.Kind {
	case drs.KeepTogether:
		return &types.ClusterAffinityRuleSpec{ClusterRuleInfo: info, Vm: vms}, nil
	case drs.KeepApart:
		return &types.ClusterAntiAffinityRuleSpec{ClusterRuleInfo: info, Vm: vms}, nil
	default:
		return nil, drs.NewPreconditionError(fmt.Sprintf("unsupported rule kind %q", change.Rule.Kind), nil)
	}
}
