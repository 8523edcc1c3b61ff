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

	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/vim25/types"

	"github.com/projectbeskar/drsctl/internal/drs"
)

// SubmitReconfigure starts an incremental cluster reconfiguration carrying the
// rule changes of spec
func (s *Session) SubmitReconfigure(ctx context.Context, cluster drs.ClusterRef, spec drs.ConfigSpec) (drs.Task, error) {
	cfg, err := configSpec(spec)
	if err != nil {
		return drs.Task{}, err
	}

	task, err := s.clusterObject(cluster).Reconfigure(ctx, cfg, true)
	if err != nil {
		return drs.Task{}, classify(fmt.Sprintf("failed to reconfigure cluster %q", cluster.Name), err)
	}
	return drs.Task{ID: task.Reference().Value}, nil
}

// AwaitTask waits for a task to complete and returns its fault
func (s *Session) AwaitTask(ctx context.Context, task drs.Task) error {
	if _, err := s.getTask(task.ID).WaitForResult(ctx); err != nil {
		return classify(fmt.Sprintf("task %s failed", task.ID), err)
	}
	return nil
}

// getTask retrieves a task by its reference
func (s *Session) getTask(taskRef string) *object.Task {
	ref := types.ManagedObjectReference{
		Type:  "Task",
		Value: taskRef,
	}
	return object.NewTask(s.client, ref)
}

func configSpec(spec drs.ConfigSpec) (*types.ClusterConfigSpecEx, error) {
	cfg := &types.ClusterConfigSpecEx{}
	for _, change := range spec.Changes {
		switch change.Operation {
		case drs.RuleOperationAdd:
			info, err := ruleInfo(change)
			if err != nil {
				return nil, err
			}
			cfg.RulesSpec = append(cfg.RulesSpec, types.ClusterRuleSpec{
				ArrayUpdateSpec: types.ArrayUpdateSpec{Operation: types.ArrayUpdateOperationAdd},
				Info:            info,
			})
		case drs.RuleOperationRemove:
			cfg.RulesSpec = append(cfg.RulesSpec, types.ClusterRuleSpec{
				ArrayUpdateSpec: types.ArrayUpdateSpec{
					Operation: types.ArrayUpdateOperationRemove,
					RemoveKey: change.Rule.Key,
				},
			})
		default:
			return nil, drs.NewPreconditionError(fmt.Sprintf("unsupported rule operation %q", change.Operation), nil)
		}
	}
	return cfg, nil
}
