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
	"fmt"
	"strings"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/projectbeskar/drsctl/internal/obs/logging"
)

// DefaultPort is the cluster manager port used when none is given
const DefaultPort = 443

// Params is the caller-facing input of one rule reconciliation
type Params struct {
	Hostname      string `json:"hostname" yaml:"hostname"`
	Port          int    `json:"port,omitempty" yaml:"port,omitempty"`
	Username      string `json:"username" yaml:"username"`
	Password      string `json:"password,omitempty" yaml:"password,omitempty"`
	ValidateCerts *bool  `json:"validateCerts,omitempty" yaml:"validateCerts,omitempty"`
	Datacenter    string `json:"datacenter,omitempty" yaml:"datacenter,omitempty"`

	Cluster string `json:"cluster" yaml:"cluster"`
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
	// Members, VMs and Hosts are aliases, their union is the member set
	Members []string `json:"members,omitempty" yaml:"members,omitempty"`
	VMs     []string `json:"vms,omitempty" yaml:"vms,omitempty"`
	Hosts   []string `json:"hosts,omitempty" yaml:"hosts,omitempty"`
	// KeepTogether selects affinity (true) or anti-affinity (false). Only
	// needed when the rule has to be created.
	KeepTogether *bool `json:"keepTogether,omitempty" yaml:"keepTogether,omitempty"`
	State        State `json:"state,omitempty" yaml:"state,omitempty"`
	ForceUpdate  bool  `json:"forceUpdate,omitempty" yaml:"forceUpdate,omitempty"`
	Enabled      *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Mandatory    bool  `json:"mandatory,omitempty" yaml:"mandatory,omitempty"`
	AtomicUpdate bool  `json:"atomicUpdate,omitempty" yaml:"atomicUpdate,omitempty"`

	GatherFactsOnly bool       `json:"gatherFactsOnly,omitempty" yaml:"gatherFactsOnly,omitempty"`
	FactsSource     RuleSource `json:"factsSource,omitempty" yaml:"factsSource,omitempty"`
	CheckMode       bool       `json:"checkMode,omitempty" yaml:"checkMode,omitempty"`
}

// WithDefaults returns a copy of p with defaults applied
func (p Params) WithDefaults() Params {
	if p.Port == 0 {
		p.Port = DefaultPort
	}
	if p.State == "" {
		p.State = StatePresent
	}
	if p.ValidateCerts == nil {
		p.ValidateCerts = boolPtr(true)
	}
	if p.Enabled == nil {
		p.Enabled = boolPtr(true)
	}
	return p
}

// Validate checks the parameters before any remote call is made
func (p Params) Validate() error {
	var errs []error

	required := map[string]string{
		"hostname": p.Hostname,
		"username": p.Username,
		"password": p.Password,
		"cluster":  p.Cluster,
	}
	for _, field := range []string{"hostname", "username", "password", "cluster"} {
		if strings.TrimSpace(required[field]) == "" {
			errs = append(errs, fmt.Errorf("%s is required", field))
		}
	}

	if p.Port < 0 || p.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d is out of range", p.Port))
	}

	switch p.State {
	case "", StatePresent, StateAbsent:
	default:
		errs = append(errs, fmt.Errorf("state must be %q or %q, got %q", StatePresent, StateAbsent, p.State))
	}

	switch p.FactsSource {
	case "", SourceClusterConfig, SourceWorkloadProbe:
	default:
		errs = append(errs, fmt.Errorf("factsSource must be %q or %q, got %q",
			SourceClusterConfig, SourceWorkloadProbe, p.FactsSource))
	}

	for _, m := range p.memberList() {
		if strings.TrimSpace(m) == "" {
			errs = append(errs, fmt.Errorf("member names must not be empty"))
			break
		}
	}

	if !p.GatherFactsOnly {
		if strings.TrimSpace(p.Name) == "" {
			errs = append(errs, fmt.Errorf("name is required unless gatherFactsOnly is set"))
		}
		if (p.State == "" || p.State == StatePresent) && p.MemberNames().Len() == 0 {
			errs = append(errs, fmt.Errorf("members are required when state is %s", StatePresent))
		}
	}

	if agg := utilerrors.NewAggregate(errs); agg != nil {
		return NewPreconditionError("invalid parameters", agg)
	}
	return nil
}

// MemberNames returns the deduplicated union of members, vms and hosts
func (p Params) MemberNames() sets.Set[string] {
	return sets.New(p.memberList()...)
}

func (p Params) memberList() []string {
	all := make([]string, 0, len(p.Members)+len(p.VMs)+len(p.Hosts))
	all = append(all, p.Members...)
	all = append(all, p.VMs...)
	return append(all, p.Hosts...)
}

// DesiredRuleSpec converts validated parameters into the desired rule state
func (p Params) DesiredRuleSpec() DesiredRuleSpec {
	p = p.WithDefaults()

	var affinity RuleKind
	if p.KeepTogether != nil {
		affinity = KeepApart
		if *p.KeepTogether {
			affinity = KeepTogether
		}
	}

	return DesiredRuleSpec{
		Name:         p.Name,
		ClusterName:  p.Cluster,
		Datacenter:   p.Datacenter,
		Members:      p.MemberNames(),
		Affinity:     affinity,
		State:        p.State,
		ForceUpdate:  p.ForceUpdate,
		Enabled:      *p.Enabled,
		Mandatory:    p.Mandatory,
		AtomicUpdate: p.AtomicUpdate,
		CheckMode:    p.CheckMode,
	}
}

// Connection returns the session parameters
func (p Params) Connection() ConnectionParams {
	p = p.WithDefaults()
	return ConnectionParams{
		Hostname:      p.Hostname,
		Port:          p.Port,
		Username:      p.Username,
		Password:      p.Password,
		ValidateCerts: *p.ValidateCerts,
		Datacenter:    p.Datacenter,
	}
}

// Redacted returns the parameters for echoing in results, with the password
// masked
func (p Params) Redacted() map[string]interface{} {
	p = p.WithDefaults()
	echo := map[string]interface{}{
		"hostname":        p.Hostname,
		"port":            p.Port,
		"username":        p.Username,
		"password":        p.Password,
		"validateCerts":   *p.ValidateCerts,
		"cluster":         p.Cluster,
		"state":           string(p.State),
		"forceUpdate":     p.ForceUpdate,
		"gatherFactsOnly": p.GatherFactsOnly,
		"checkMode":       p.CheckMode,
		"enabled":         *p.Enabled,
		"mandatory":       p.Mandatory,
		"atomicUpdate":    p.AtomicUpdate,
		"members":         sets.List(p.MemberNames()),
	}
	if p.Datacenter != "" {
		echo["datacenter"] = p.Datacenter
	}
	if p.Name != "" {
		echo["name"] = p.Name
	}
	if p.KeepTogether != nil {
		echo["keepTogether"] = *p.KeepTogether
	}
	if p.FactsSource != "" {
		echo["factsSource"] = string(p.FactsSource)
	}
	return logging.RedactValues(echo)
}

func boolPtr(b bool) *bool { return &b }
