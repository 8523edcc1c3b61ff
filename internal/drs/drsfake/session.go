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

package drsfake

import (
	"context"
	"fmt"

	"github.com/projectbeskar/drsctl/internal/drs"
)

// Session is a fake session bound to a Server
type Session struct {
	server *Server
}

var (
	_ drs.Session        = (*Session)(nil)
	_ drs.AtomicReplacer = (*Session)(nil)
)

// FindCluster implements drs.Session
func (s *Session) FindCluster(_ context.Context, name string) (drs.ClusterRef, error) {
	s.server.mu.Lock()
	defer s.server.mu.Unlock()

	c, ok := s.server.clusters[name]
	if !ok {
		return drs.ClusterRef{}, drs.NewNotFoundError(fmt.Sprintf("cluster %q not found", name), nil)
	}
	return drs.ClusterRef{Name: name, ID: c.id}, nil
}

// FindWorkload implements drs.Session
func (s *Session) FindWorkload(_ context.Context, name string) (drs.WorkloadRef, error) {
	s.server.mu.Lock()
	defer s.server.mu.Unlock()

	id, ok := s.server.workloads[name]
	if !ok {
		return drs.WorkloadRef{}, drs.NewNotFoundError(fmt.Sprintf("virtual machine %q not found", name), nil)
	}
	return drs.WorkloadRef{Name: name, ID: id}, nil
}

// ListWorkloads implements drs.Session
func (s *Session) ListWorkloads(_ context.Context, ref drs.ClusterRef) ([]drs.WorkloadRef, error) {
	s.server.mu.Lock()
	defer s.server.mu.Unlock()

	_, c, err := s.server.clusterByID(ref.ID)
	if err != nil {
		return nil, err
	}
	return sortedWorkloads(c.workloads, s.server.workloads), nil
}

// ClusterRules implements drs.Session
func (s *Session) ClusterRules(_ context.Context, ref drs.ClusterRef) ([]drs.RemoteRule, error) {
	s.server.mu.Lock()
	defer s.server.mu.Unlock()

	s.server.calls.ClusterReads++
	if s.server.config.ClusterConfigUnsupported {
		return nil, drs.ErrNotSupported
	}
	_, c, err := s.server.clusterByID(ref.ID)
	if err != nil {
		return nil, err
	}
	return copyRules(c.rules), nil
}

// WorkloadRules implements drs.Session
func (s *Session) WorkloadRules(_ context.Context, ref drs.ClusterRef, workload drs.WorkloadRef) ([]drs.RemoteRule, error) {
	s.server.mu.Lock()
	defer s.server.mu.Unlock()

	s.server.calls.WorkloadReads++
	_, c, err := s.server.clusterByID(ref.ID)
	if err != nil {
		return nil, err
	}

	var matched []drs.RemoteRule
	for _, r := range c.rules {
		for _, m := range r.Members {
			if m == workload.Name {
				matched = append(matched, r)
				break
			}
		}
	}
	return copyRules(matched), nil
}

// SubmitReconfigure implements drs.Session
func (s *Session) SubmitReconfigure(_ context.Context, ref drs.ClusterRef, spec drs.ConfigSpec) (drs.Task, error) {
	s.server.mu.Lock()
	defer s.server.mu.Unlock()

	s.server.calls.Submits++
	if s.server.config.SubmitError != nil && s.server.calls.Submits > s.server.config.SubmitErrorAfter {
		return drs.Task{}, s.server.config.SubmitError
	}
	name, _, err := s.server.clusterByID(ref.ID)
	if err != nil {
		return drs.Task{}, err
	}

	s.server.nextTask++
	id := fmt.Sprintf("task-%d", s.server.nextTask)
	s.server.tasks[id] = task{cluster: name, spec: spec}
	return drs.Task{ID: id}, nil
}

// AwaitTask implements drs.Session. Changes are applied when the task is awaited.
func (s *Session) AwaitTask(ctx context.Context, t drs.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.server.mu.Lock()
	defer s.server.mu.Unlock()

	s.server.calls.Awaits++
	pending, ok := s.server.tasks[t.ID]
	if !ok {
		return drs.NewNotFoundError(fmt.Sprintf("task %s not found", t.ID), nil)
	}
	delete(s.server.tasks, t.ID)

	if s.server.config.AwaitError != nil {
		return s.server.config.AwaitError
	}
	if s.server.config.IgnoreChanges {
		return nil
	}
	return s.server.apply(s.server.clusters[pending.cluster], pending.spec)
}

// Disconnect implements drs.Session
func (s *Session) Disconnect(_ context.Context) error {
	s.server.mu.Lock()
	defer s.server.mu.Unlock()
	s.server.calls.Disconnects++
	return nil
}

// SupportsAtomicReplace implements drs.AtomicReplacer
func (s *Session) SupportsAtomicReplace() bool {
	s.server.mu.Lock()
	defer s.server.mu.Unlock()
	return s.server.config.Atomic
}

func copyRules(in []drs.RemoteRule) []drs.RemoteRule {
	out := make([]drs.RemoteRule, len(in))
	for i, r := range in {
		r.Members = append([]string(nil), r.Members...)
		out[i] = r
	}
	return out
}
