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

// Compare classifies the snapshot against the desired rule. A rule exists when
// its name matches, regardless of kind or enabled flag. Members are compared
// as sets, so controllers that reorder membership still match. A rule with
// no members still exists: it is replaced by an update, since adding a second
// rule under the same name would be rejected.
func Compare(snapshot *ClusterSnapshot, desired DesiredRuleSpec) ComparisonResult {
	existing, ok := snapshot.Rule(desired.Name)
	if !ok {
		return ComparisonResult{}
	}

	return ComparisonResult{
		RuleExists:   true,
		MembersMatch: existing.MemberSet().Equal(desired.Members),
		Existing:     existing,
	}
}
