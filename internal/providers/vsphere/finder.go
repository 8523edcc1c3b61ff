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
	"sort"

	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/property"
	"github.com/vmware/govmomi/view"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/types"

	"github.com/projectbeskar/drsctl/internal/drs"
)

const (
	clusterType = "ClusterComputeResource"
	vmType      = "VirtualMachine"
)

// FindCluster finds a cluster by name in the session datacenter
func (s *Session) FindCluster(ctx context.Context, name string) (drs.ClusterRef, error) {
	cluster, err := s.finder.ClusterComputeResource(ctx, name)
	if err != nil {
		return drs.ClusterRef{}, classify(fmt.Sprintf("cluster %q not found", name), err)
	}
	return drs.ClusterRef{Name: name, ID: cluster.Reference().Value}, nil
}

// FindWorkload finds a virtual machine by name in the session datacenter
func (s *Session) FindWorkload(ctx context.Context, name string) (drs.WorkloadRef, error) {
	vm, err := s.finder.VirtualMachine(ctx, name)
	if err != nil {
		return drs.WorkloadRef{}, classify(fmt.Sprintf("virtual machine %q not found", name), err)
	}
	return drs.WorkloadRef{Name: name, ID: vm.Reference().Value}, nil
}

// ListWorkloads returns the virtual machines of a cluster, sorted by name
func (s *Session) ListWorkloads(ctx context.Context, cluster drs.ClusterRef) ([]drs.WorkloadRef, error) {
	m := view.NewManager(s.client)
	v, err := m.CreateContainerView(ctx, s.clusterObject(cluster).Reference(), []string{vmType}, true)
	if err != nil {
		return nil, classify(fmt.Sprintf("failed to list virtual machines of cluster %q", cluster.Name), err)
	}
	defer func() {
		_ = v.Destroy(ctx)
	}()

	var vms []mo.VirtualMachine
	if err := v.Retrieve(ctx, []string{vmType}, []string{"name"}, &vms); err != nil {
		return nil, classify(fmt.Sprintf("failed to list virtual machines of cluster %q", cluster.Name), err)
	}

	refs := make([]drs.WorkloadRef, 0, len(vms))
	for _, vm := range vms {
		refs = append(refs, drs.WorkloadRef{Name: vm.Name, ID: vm.Self.Value})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs, nil
}

// workloadNames resolves virtual machine references to names. References
// that no longer resolve keep their managed object id.
func (s *Session) workloadNames(ctx context.Context, refs []types.ManagedObjectReference) (map[string]string, error) {
	names := make(map[string]string, len(refs))
	if len(refs) == 0 {
		return names, nil
	}

	var vms []mo.VirtualMachine
	pc := property.DefaultCollector(s.client)
	if err := pc.Retrieve(ctx, refs, []string{"name"}, &vms); err != nil {
		return nil, classify("failed to resolve rule members", err)
	}
	for _, vm := range vms {
		names[vm.Self.Value] = vm.Name
	}
	return names, nil
}

func (s *Session) clusterObject(cluster drs.ClusterRef) *object.ClusterComputeResource {
	return object.NewClusterComputeResource(s.client, types.ManagedObjectReference{
		Type:  clusterType,
		Value: cluster.ID,
	})
}

func vmReference(w drs.WorkloadRef) types.ManagedObjectReference {
	return types.ManagedObjectReference{Type: vmType, Value: w.ID}
}
