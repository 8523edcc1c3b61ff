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

import "fmt"

// Action is the convergence step chosen for a rule
type Action string

const (
	ActionNoop   Action = "noop"
	ActionCreate Action = "create"
	ActionDelete Action = "delete"
	ActionUpdate Action = "update"
	ActionFacts  Action = "facts"
)

// Result is the caller-facing outcome of one invocation. Failure and change
// are reported independently: a no-op is success with Changed false.
type Result struct {
	Changed bool   `json:"changed" yaml:"changed"`
	Failed  bool   `json:"failed" yaml:"failed"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
	Action  Action `json:"action,omitempty" yaml:"action,omitempty"`
	// Phase is set on failures and names the stage that failed
	Phase     Phase            `json:"phase,omitempty" yaml:"phase,omitempty"`
	Condition Condition        `json:"condition,omitempty" yaml:"condition,omitempty"`
	Facts     *ClusterSnapshot `json:"facts,omitempty" yaml:"facts,omitempty"`
	// Invocation echoes the parameters with secrets redacted
	Invocation map[string]interface{} `json:"invocation,omitempty" yaml:"invocation,omitempty"`
}

// FailureResult builds the result reported for err. The message names the
// failed phase when it is known.
func FailureResult(err error) *Result {
	phase := PhaseOf(err)
	msg := err.Error()
	if phase != "" {
		msg = fmt.Sprintf("%s failed: %s", phase, msg)
	}
	return &Result{
		Failed:  true,
		Message: msg,
		Phase:   phase,
	}
}

// String describes the result in one line
func (r *Result) String() string {
	if r.Failed {
		return fmt.Sprintf("failed: %s", r.Message)
	}
	return fmt.Sprintf("changed=%t action=%s: %s", r.Changed, r.Action, r.Message)
}
