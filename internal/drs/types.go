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
	"sort"

	"k8s.io/apimachinery/pkg/util/sets"
)

// RuleKind is the affinity mode of a DRS rule
type RuleKind string

const (
	// KeepTogether asks DRS to place all members on the same host
	KeepTogether RuleKind = "KeepTogether"
	// KeepApart asks DRS to place every member on a different host
	KeepApart RuleKind = "KeepApart"
)

// Valid reports whether k names a supported rule kind
func (k RuleKind) Valid() bool {
	return k == KeepTogether || k == KeepApart
}

// State is the desired presence of a rule
type State string

const (
	// StatePresent means the rule must exist with exactly the desired members
	StatePresent State = "present"
	// StateAbsent means no rule with the desired name may exist
	StateAbsent State = "absent"
)

// RuleRecord is one DRS rule as currently configured on the cluster
type RuleRecord struct {
	Name string `json:"name" yaml:"name"`
	// Key is the controller's identifier for the rule, zero when unknown
	Key       int32    `json:"key" yaml:"key"`
	Members   []string `json:"members" yaml:"members"`
	Kind      RuleKind `json:"kind" yaml:"kind"`
	Enabled   bool     `json:"enabled" yaml:"enabled"`
	Mandatory bool     `json:"mandatory" yaml:"mandatory"`
}

// MemberSet returns the rule members as a set
func (r RuleRecord) MemberSet() sets.Set[string] {
	return sets.New(r.Members...)
}

// ClusterSnapshot is the rule state of one cluster at a point in time.
// Snapshots are rebuilt on every collection and never modified afterwards.
type ClusterSnapshot struct {
	ClusterName string                `json:"cluster" yaml:"cluster"`
	Rules       map[string]RuleRecord `json:"rules" yaml:"rules"`
}

// Rule returns the rule with the given name
func (s *ClusterSnapshot) Rule(name string) (RuleRecord, bool) {
	if s == nil {
		return RuleRecord{}, false
	}
	rule, ok := s.Rules[name]
	return rule, ok
}

// RuleNames returns the names of all rules in the snapshot, sorted
func (s *ClusterSnapshot) RuleNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Rules))
	for name := range s.Rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DesiredRuleSpec is the caller's declared intent for one rule
type DesiredRuleSpec struct {
	Name        string
	ClusterName string
	Datacenter  string
	Members     sets.Set[string]
	// Affinity may be empty when the rule already exists and state is present
	Affinity    RuleKind
	State       State
	ForceUpdate bool
	Enabled     bool
	Mandatory   bool
	// AtomicUpdate submits remove and add in one reconfiguration when the
	// session supports it
	AtomicUpdate bool
	CheckMode    bool
}

// SortedMembers returns the desired members in a stable order
func (d DesiredRuleSpec) SortedMembers() []string {
	return sets.List(d.Members)
}

// ComparisonResult classifies the remote state of a rule against the desired spec
type ComparisonResult struct {
	RuleExists   bool
	MembersMatch bool
	// Existing is the matched remote rule, zero value when RuleExists is false
	Existing RuleRecord
}

// Converged reports whether the remote state already matches the desired state
func (c ComparisonResult) Converged() bool {
	return c.RuleExists && c.MembersMatch
}

// Condition names the point of the rule lifecycle the remote state is in
type Condition string

const (
	ConditionAbsent         Condition = "absent"
	ConditionNoMembers      Condition = "exists-no-members"
	ConditionPartialMembers Condition = "exists-wrong-members"
	ConditionConverged      Condition = "exists-correct"
)

// Condition returns the lifecycle condition of the compared rule
func (c ComparisonResult) Condition() Condition {
	switch {
	case !c.RuleExists:
		return ConditionAbsent
	case c.MembersMatch:
		return ConditionConverged
	case len(c.Existing.Members) == 0:
		return ConditionNoMembers
	default:
		return ConditionPartialMembers
	}
}
