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
)

// ErrNotSupported is returned by a Session that cannot serve a query path
var ErrNotSupported = errors.New("operation not supported by session")

// ConnectionParams identifies and authenticates a cluster manager endpoint
type ConnectionParams struct {
	Hostname      string
	Port          int
	Username      string
	Password      string
	ValidateCerts bool
	// Datacenter scopes object lookups, empty selects the first datacenter found
	Datacenter string
}

// ClusterRef is an opaque handle to a cluster returned by a Session
type ClusterRef struct {
	Name string
	ID   string
}

// WorkloadRef is an opaque handle to a virtual machine returned by a Session
type WorkloadRef struct {
	Name string
	ID   string
}

// RemoteRule is a rule as reported by the controller, including its bookkeeping fields
type RemoteRule struct {
	Name      string
	Key       int32
	TypeName  string
	Kind      RuleKind // empty for rule types other than VM affinity/anti-affinity
	Members   []string
	Enabled   *bool
	Mandatory *bool

	Status            string
	UUID              string
	UserCreated       *bool
	InCompliance      *bool
	DynamicType       string
	DynamicProperties []string
}

// RuleOperation is the array-update operation applied to the cluster rule list
type RuleOperation string

const (
	RuleOperationAdd    RuleOperation = "add"
	RuleOperationRemove RuleOperation = "remove"
)

// RuleChange is one entry of a cluster reconfiguration
type RuleChange struct {
	Operation RuleOperation
	// Rule carries name, kind and flags for add and the key for remove
	Rule RuleRecord
	// Members are the resolved rule members for add
	Members []WorkloadRef
}

// ConfigSpec is a single cluster reconfiguration request
type ConfigSpec struct {
	Changes []RuleChange
}

// Task is a handle to an asynchronous reconfiguration running on the controller
type Task struct {
	ID string
}

// Session is a logged-in connection to a cluster manager. A Session must not
// be used by more than one reconciliation at a time.
type Session interface {
	// FindCluster returns a NotFound error when no cluster has the given name
	FindCluster(ctx context.Context, name string) (ClusterRef, error)
	// FindWorkload returns a NotFound error when no virtual machine has the given name
	FindWorkload(ctx context.Context, name string) (WorkloadRef, error)
	// ListWorkloads returns every virtual machine placed in the cluster
	ListWorkloads(ctx context.Context, cluster ClusterRef) ([]WorkloadRef, error)
	// ClusterRules reads the rule list from the cluster configuration
	ClusterRules(ctx context.Context, cluster ClusterRef) ([]RemoteRule, error)
	// WorkloadRules returns the rules the cluster applies to one workload
	WorkloadRules(ctx context.Context, cluster ClusterRef, workload WorkloadRef) ([]RemoteRule, error)
	// SubmitReconfigure starts a reconfiguration and returns without waiting
	SubmitReconfigure(ctx context.Context, cluster ClusterRef, spec ConfigSpec) (Task, error)
	// AwaitTask blocks until the task finishes and returns its failure, if any
	AwaitTask(ctx context.Context, task Task) error
	// Disconnect logs the session out
	Disconnect(ctx context.Context) error
}

// Connector opens sessions
type Connector interface {
	Connect(ctx context.Context, params ConnectionParams) (Session, error)
}

// AtomicReplacer is implemented by sessions that accept remove and add of a
// rule in a single reconfiguration
type AtomicReplacer interface {
	SupportsAtomicReplace() bool
}

func supportsAtomicReplace(s Session) bool {
	r, ok := s.(AtomicReplacer)
	return ok && r.SupportsAtomicReplace()
}
