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

// Package drsfake provides an in-memory cluster manager for testing
package drsfake

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/projectbeskar/drsctl/internal/drs"
)

// ErrPermission is a ready-made authorization failure
var ErrPermission = drs.NewPermissionError("NoPermission on Host.Inventory.EditCluster", nil)

// Config holds fake server configuration
type Config struct {
	// ConnectError is returned by the first ConnectFailures connects, or by
	// every connect when ConnectFailures is zero
	ConnectError    error
	ConnectFailures int
	// SubmitError is returned by SubmitReconfigure
	SubmitError error
	// SubmitErrorAfter lets this many submits through before SubmitError applies
	SubmitErrorAfter int
	// AwaitError is returned by AwaitTask; the change is not applied
	AwaitError error
	// IgnoreChanges completes tasks successfully without applying them
	IgnoreChanges bool
	// ClusterConfigUnsupported makes ClusterRules return drs.ErrNotSupported
	ClusterConfigUnsupported bool
	// Atomic advertises support for single-task rule replacement
	Atomic bool
}

// Calls counts the requests a server has seen
type Calls struct {
	Connects      int
	Disconnects   int
	ClusterReads  int
	WorkloadReads int
	Submits       int
	Awaits        int
	Adds          int
	Removes       int
}

type cluster struct {
	id        string
	workloads []string
	rules     []drs.RemoteRule
	nextKey   int32
}

type task struct {
	cluster string
	spec    drs.ConfigSpec
}

// Server is a fake cluster manager shared by every session it opens
type Server struct {
	mu        sync.Mutex
	config    Config
	clusters  map[string]*cluster
	workloads map[string]string
	tasks     map[string]task
	nextTask  int
	calls     Calls
}

var _ drs.Connector = (*Server)(nil)

// NewServer creates an empty fake server
func NewServer(config Config) *Server {
	return &Server{
		config:    config,
		clusters:  make(map[string]*cluster),
		workloads: make(map[string]string),
		tasks:     make(map[string]task),
	}
}

// AddCluster registers a cluster and the virtual machines placed in it
func (s *Server) AddCluster(name string, workloads ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := &cluster{
		id:      fmt.Sprintf("domain-c%d", len(s.clusters)+1),
		nextKey: 1,
	}
	for _, w := range workloads {
		if _, ok := s.workloads[w]; !ok {
			s.workloads[w] = fmt.Sprintf("vm-%d", len(s.workloads)+1)
		}
		c.workloads = append(c.workloads, w)
	}
	s.clusters[name] = c
}

// AddRule seeds a rule and returns its key. A zero key is assigned.
func (s *Server) AddRule(clusterName string, rule drs.RemoteRule) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.mustCluster(clusterName)
	if rule.Key == 0 {
		rule.Key = c.nextKey
	}
	if rule.Key >= c.nextKey {
		c.nextKey = rule.Key + 1
	}
	if rule.TypeName == "" {
		rule.TypeName = typeName(rule.Kind)
	}
	c.rules = append(c.rules, rule)
	return rule.Key
}

// Rules returns a copy of the rules configured on a cluster
func (s *Server) Rules(clusterName string) []drs.RemoteRule {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.mustCluster(clusterName)
	rules := make([]drs.RemoteRule, len(c.rules))
	copy(rules, c.rules)
	return rules
}

// Rule returns the rule with the given name, if configured
func (s *Server) Rule(clusterName, ruleName string) (drs.RemoteRule, bool) {
	for _, r := range s.Rules(clusterName) {
		if r.Name == ruleName {
			return r, true
		}
	}
	return drs.RemoteRule{}, false
}

// Calls returns the request counters
func (s *Server) Calls() Calls {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Configure changes the server configuration
func (s *Server) Configure(fn func(*Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.config)
}

// Connect opens a session
func (s *Server) Connect(_ context.Context, _ drs.ConnectionParams) (drs.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls.Connects++
	if s.config.ConnectError != nil &&
		(s.config.ConnectFailures == 0 || s.calls.Connects <= s.config.ConnectFailures) {
		return nil, s.config.ConnectError
	}
	return &Session{server: s}, nil
}

func (s *Server) mustCluster(name string) *cluster {
	c, ok := s.clusters[name]
	if !ok {
		panic(fmt.Sprintf("drsfake: unknown cluster %q", name))
	}
	return c
}

func (s *Server) clusterByID(id string) (string, *cluster, error) {
	for name, c := range s.clusters {
		if c.id == id {
			return name, c, nil
		}
	}
	return "", nil, drs.NewNotFoundError(fmt.Sprintf("cluster %s not found", id), nil)
}

// apply runs the changes of a task in order, all or nothing
func (s *Server) apply(c *cluster, spec drs.ConfigSpec) error {
	rules := make([]drs.RemoteRule, len(c.rules))
	copy(rules, c.rules)
	nextKey := c.nextKey

	for _, change := range spec.Changes {
		switch change.Operation {
		case drs.RuleOperationAdd:
			for _, r := range rules {
				if r.Name == change.Rule.Name {
					return drs.NewRemoteError(fmt.Sprintf("InvalidArgument: rule %q already exists", r.Name), nil)
				}
			}
			members := make([]string, 0, len(change.Members))
			for _, m := range change.Members {
				members = append(members, m.Name)
			}
			enabled, mandatory := change.Rule.Enabled, change.Rule.Mandatory
			rules = append(rules, drs.RemoteRule{
				Name:      change.Rule.Name,
				Key:       nextKey,
				TypeName:  typeName(change.Rule.Kind),
				Kind:      change.Rule.Kind,
				Members:   members,
				Enabled:   &enabled,
				Mandatory: &mandatory,
				Status:    "green",
				UUID:      fmt.Sprintf("rule-uuid-%d", nextKey),
			})
			nextKey++
			s.calls.Adds++
		case drs.RuleOperationRemove:
			idx := -1
			for i, r := range rules {
				if r.Key == change.Rule.Key {
					idx = i
					break
				}
			}
			if idx < 0 {
				return drs.NewRemoteError(fmt.Sprintf("InvalidArgument: no rule with key %d", change.Rule.Key), nil)
			}
			rules = append(rules[:idx], rules[idx+1:]...)
			s.calls.Removes++
		}
	}

	c.rules = rules
	c.nextKey = nextKey
	return nil
}

func typeName(kind drs.RuleKind) string {
	switch kind {
	case drs.KeepTogether:
		return "ClusterAffinityRuleSpec"
	case drs.KeepApart:
		return "ClusterAntiAffinityRuleSpec"
	default:
		return "ClusterVmHostRuleInfo"
	}
}

func sortedWorkloads(names []string, ids map[string]string) []drs.WorkloadRef {
	refs := make([]drs.WorkloadRef, 0, len(names))
	for _, n := range names {
		refs = append(refs, drs.WorkloadRef{Name: n, ID: ids[n]})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs
}
