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
package drs_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/projectbeskar/drsctl/internal/drs"
	"github.com/projectbeskar/drsctl/internal/drs/drsfake"
	"github.com/projectbeskar/drsctl/internal/resilience"
)

var _ = Describe("Driver", func() {
	var (
		ctx    context.Context
		server *drsfake.Server
		driver *drs.Driver
		params drs.Params
	)

	BeforeEach(func() {
		ctx = context.Background()
		server = drsfake.NewServer(drsfake.Config{})
		server.AddCluster("C1", "vmA", "vmB", "vmC")
		driver = drs.NewDriver(server)

		keepTogether := false
		params = drs.Params{
			Hostname:     "vc.example.com",
			Username:     "admin",
			Password:     "s3cret",
			Cluster:      "C1",
			Name:         "r1",
			Members:      []string{"vmA", "vmB"},
			KeepTogether: &keepTogether,
		}
	})

	Context("when the rule does not exist", func() {
		It("should create it with the desired members", func() {
			result := driver.Run(ctx, params)

			Expect(result.Failed).To(BeFalse(), result.Message)
			Expect(result.Changed).To(BeTrue())
			Expect(result.Action).To(Equal(drs.ActionCreate))
			Expect(result.Condition).To(Equal(drs.ConditionAbsent))

			rule, ok := result.Facts.Rule("r1")
			Expect(ok).To(BeTrue())
			Expect(rule.Members).To(ConsistOf("vmA", "vmB"))
			Expect(rule.Kind).To(Equal(drs.KeepApart))

			remote, ok := server.Rule("C1", "r1")
			Expect(ok).To(BeTrue())
			Expect(remote.Kind).To(Equal(drs.KeepApart))
			Expect(*remote.Enabled).To(BeTrue())
		})

		It("should be idempotent", func() {
			first := driver.Run(ctx, params)
			Expect(first.Changed).To(BeTrue())

			second := driver.Run(ctx, params)
			Expect(second.Failed).To(BeFalse(), second.Message)
			Expect(second.Changed).To(BeFalse())
			Expect(second.Action).To(Equal(drs.ActionNoop))
			Expect(server.Calls().Submits).To(Equal(1))
		})

		It("should require an affinity", func() {
			params.KeepTogether = nil
			result := driver.Run(ctx, params)

			Expect(result.Failed).To(BeTrue())
			Expect(result.Message).To(ContainSubstring("affinity"))
			Expect(server.Calls().Submits).To(BeZero())
		})

		It("should fail when a member does not exist", func() {
			params.Members = []string{"vmA", "ghost"}
			result := driver.Run(ctx, params)

			Expect(result.Failed).To(BeTrue())
			Expect(result.Phase).To(Equal(drs.PhaseCollection))
			Expect(result.Message).To(ContainSubstring("ghost"))
			Expect(server.Calls().Submits).To(BeZero())
		})

		It("should report without mutating in check mode", func() {
			params.CheckMode = true
			result := driver.Run(ctx, params)

			Expect(result.Failed).To(BeFalse())
			Expect(result.Changed).To(BeTrue())
			Expect(result.Message).To(ContainSubstring("would create"))
			Expect(server.Calls().Submits).To(BeZero())
		})
	})

	Context("when the rule exists with other members", func() {
		BeforeEach(func() {
			server.AddRule("C1", drs.RemoteRule{Name: "r1", Kind: drs.KeepApart, Members: []string{"vmA", "vmC"}})
		})

		It("should replace it by delete then create", func() {
			result := driver.Run(ctx, params)

			Expect(result.Failed).To(BeFalse(), result.Message)
			Expect(result.Changed).To(BeTrue())
			Expect(result.Action).To(Equal(drs.ActionUpdate))
			Expect(result.Condition).To(Equal(drs.ConditionPartialMembers))

			calls := server.Calls()
			Expect(calls.Submits).To(Equal(2))
			Expect(calls.Removes).To(Equal(1))
			Expect(calls.Adds).To(Equal(1))

			remote, ok := server.Rule("C1", "r1")
			Expect(ok).To(BeTrue())
			Expect(remote.Members).To(ConsistOf("vmA", "vmB"))
		})

		It("should leave the rule absent when the create after the delete is denied", func() {
			server.Configure(func(c *drsfake.Config) {
				c.SubmitError = drsfake.ErrPermission
				c.SubmitErrorAfter = 1
			})

			result := driver.Run(ctx, params)

			Expect(result.Failed).To(BeTrue())
			Expect(result.Changed).To(BeFalse())
			Expect(result.Phase).To(Equal(drs.PhaseMutation))
			Expect(result.Message).To(ContainSubstring("permission denied"))

			calls := server.Calls()
			Expect(calls.Submits).To(Equal(2))
			Expect(calls.Removes).To(Equal(1))
			Expect(calls.Adds).To(Equal(0))
			_, ok := server.Rule("C1", "r1")
			Expect(ok).To(BeFalse())

			server.Configure(func(c *drsfake.Config) { c.SubmitError = nil })
			result = driver.Run(ctx, params)

			Expect(result.Failed).To(BeFalse(), result.Message)
			Expect(result.Action).To(Equal(drs.ActionCreate))
			Expect(result.Changed).To(BeTrue())
			remote, ok := server.Rule("C1", "r1")
			Expect(ok).To(BeTrue())
			Expect(remote.Members).To(ConsistOf("vmA", "vmB"))
		})

		It("should replace it in one task when atomic update is requested", func() {
			server.Configure(func(c *drsfake.Config) { c.Atomic = true })
			params.AtomicUpdate = true

			result := driver.Run(ctx, params)

			Expect(result.Failed).To(BeFalse(), result.Message)
			Expect(result.Changed).To(BeTrue())
			calls := server.Calls()
			Expect(calls.Submits).To(Equal(1))
			Expect(calls.Removes).To(Equal(1))
			Expect(calls.Adds).To(Equal(1))
		})

		It("should keep the existing kind when no affinity is given", func() {
			params.KeepTogether = nil
			result := driver.Run(ctx, params)

			Expect(result.Failed).To(BeFalse(), result.Message)
			remote, _ := server.Rule("C1", "r1")
			Expect(remote.Kind).To(Equal(drs.KeepApart))
		})
	})

	Context("when the rule is already converged", func() {
		BeforeEach(func() {
			server.AddRule("C1", drs.RemoteRule{Name: "r1", Kind: drs.KeepApart, Members: []string{"vmB", "vmA"}})
		})

		It("should not change anything", func() {
			result := driver.Run(ctx, params)

			Expect(result.Failed).To(BeFalse())
			Expect(result.Changed).To(BeFalse())
			Expect(result.Condition).To(Equal(drs.ConditionConverged))
			Expect(server.Calls().Submits).To(BeZero())
		})

		It("should delete and create once when forced", func() {
			params.ForceUpdate = true
			result := driver.Run(ctx, params)

			Expect(result.Failed).To(BeFalse(), result.Message)
			Expect(result.Changed).To(BeTrue())
			Expect(result.Action).To(Equal(drs.ActionUpdate))

			calls := server.Calls()
			Expect(calls.Removes).To(Equal(1))
			Expect(calls.Adds).To(Equal(1))
		})

		It("should delete it when state is absent", func() {
			params.State = drs.StateAbsent
			result := driver.Run(ctx, params)

			Expect(result.Failed).To(BeFalse(), result.Message)
			Expect(result.Changed).To(BeTrue())
			Expect(result.Action).To(Equal(drs.ActionDelete))
			_, ok := server.Rule("C1", "r1")
			Expect(ok).To(BeFalse())
		})
	})

	Context("when state is absent and no rule exists", func() {
		It("should report no change without mutating", func() {
			params.State = drs.StateAbsent
			params.Members = []string{"ghost"}
			result := driver.Run(ctx, params)

			Expect(result.Failed).To(BeFalse(), result.Message)
			Expect(result.Changed).To(BeFalse())
			Expect(result.Message).To(ContainSubstring("already absent"))
			Expect(server.Calls().Submits).To(BeZero())
		})
	})

	Context("when the controller denies the change", func() {
		It("should fail with permission denied and skip verification", func() {
			server.Configure(func(c *drsfake.Config) { c.SubmitError = drsfake.ErrPermission })
			result := driver.Run(ctx, params)

			Expect(result.Failed).To(BeTrue())
			Expect(result.Changed).To(BeFalse())
			Expect(result.Phase).To(Equal(drs.PhaseMutation))
			Expect(result.Message).To(ContainSubstring("permission denied"))

			calls := server.Calls()
			Expect(calls.Submits).To(Equal(1))
			Expect(calls.ClusterReads).To(Equal(1))
		})

		It("should fail when the task reports a permission fault", func() {
			server.Configure(func(c *drsfake.Config) { c.AwaitError = drsfake.ErrPermission })
			result := driver.Run(ctx, params)

			Expect(result.Failed).To(BeTrue())
			Expect(result.Message).To(ContainSubstring("permission denied"))
			Expect(server.Calls().ClusterReads).To(Equal(1))
		})
	})

	Context("when a completed task has no effect", func() {
		It("should report no change with a diagnostic", func() {
			server.Configure(func(c *drsfake.Config) { c.IgnoreChanges = true })
			result := driver.Run(ctx, params)

			Expect(result.Failed).To(BeFalse())
			Expect(result.Changed).To(BeFalse())
			Expect(result.Message).To(ContainSubstring("reported success"))
		})

		It("should not create after an unverified delete", func() {
			server.AddRule("C1", drs.RemoteRule{Name: "r1", Kind: drs.KeepApart, Members: []string{"vmC"}})
			server.Configure(func(c *drsfake.Config) { c.IgnoreChanges = true })
			result := driver.Run(ctx, params)

			Expect(result.Changed).To(BeFalse())
			Expect(result.Message).To(ContainSubstring("still configured"))
			Expect(server.Calls().Submits).To(Equal(1))
		})
	})

	Context("session lifetime", func() {
		It("should disconnect after success and failure", func() {
			driver.Run(ctx, params)
			params.Cluster = "missing"
			failed := driver.Run(ctx, params)

			Expect(failed.Failed).To(BeTrue())
			Expect(failed.Phase).To(Equal(drs.PhaseCollection))
			calls := server.Calls()
			Expect(calls.Connects).To(Equal(2))
			Expect(calls.Disconnects).To(Equal(2))
		})

		It("should not connect with invalid parameters", func() {
			params.Password = ""
			result := driver.Run(ctx, params)

			Expect(result.Failed).To(BeTrue())
			Expect(result.Phase).To(Equal(drs.PhaseValidation))
			Expect(result.Invocation).To(HaveKeyWithValue("password", "[REDACTED]"))
			Expect(server.Calls().Connects).To(BeZero())
		})

		It("should retry transient connection failures", func() {
			server.Configure(func(c *drsfake.Config) {
				c.ConnectError = errors.New("connection refused")
				c.ConnectFailures = 2
			})
			driver = drs.NewDriver(server, drs.WithConnectRetry(&resilience.RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   time.Millisecond,
				MaxDelay:    time.Millisecond,
				Multiplier:  1,
			}))

			result := driver.Run(ctx, params)
			Expect(result.Failed).To(BeFalse(), result.Message)
			Expect(server.Calls().Connects).To(Equal(3))
		})

		It("should not retry authentication failures", func() {
			server.Configure(func(c *drsfake.Config) { c.ConnectError = drsfake.ErrPermission })
			driver = drs.NewDriver(server, drs.WithConnectRetry(resilience.DefaultRetryConfig()))

			result := driver.Run(ctx, params)
			Expect(result.Failed).To(BeTrue())
			Expect(result.Phase).To(Equal(drs.PhaseConnect))
			Expect(server.Calls().Connects).To(Equal(1))
		})
	})

	Context("when gathering facts", func() {
		It("should list rules without a name or members", func() {
			server.AddRule("C1", drs.RemoteRule{Name: "r1", Kind: drs.KeepApart, Members: []string{"vmA", "vmB"}})
			server.AddRule("C1", drs.RemoteRule{Name: "r2", Kind: drs.KeepTogether, Members: []string{"vmC"}})
			result := driver.Run(ctx, drs.Params{
				Hostname:        "vc.example.com",
				Username:        "admin",
				Password:        "s3cret",
				Cluster:         "C1",
				GatherFactsOnly: true,
			})

			Expect(result.Failed).To(BeFalse(), result.Message)
			Expect(result.Changed).To(BeFalse())
			Expect(result.Action).To(Equal(drs.ActionFacts))
			Expect(result.Facts.RuleNames()).To(Equal([]string{"r1", "r2"}))
			Expect(server.Calls().Submits).To(BeZero())
		})
	})
})
