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
	"crypto/tls"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmware/govmomi/simulator"
	"github.com/vmware/govmomi/vim25"

	"github.com/projectbeskar/drsctl/internal/drs"
)

const (
	simCluster = "DC0_C0"
	simVM0     = "DC0_C0_RP0_VM0"
	simVM1     = "DC0_C0_RP0_VM1"
)

func addRule(t *testing.T, ctx context.Context, s *Session, cluster drs.ClusterRef, name string, kind drs.RuleKind, vms ...string) {
	t.Helper()

	change := drs.RuleChange{
		Operation: drs.RuleOperationAdd,
		Rule:      drs.RuleRecord{Name: name, Kind: kind, Members: vms, Enabled: true},
	}
	for _, vm := range vms {
		ref, err := s.FindWorkload(ctx, vm)
		require.NoError(t, err)
		change.Members = append(change.Members, ref)
	}

	task, err := s.SubmitReconfigure(ctx, cluster, drs.ConfigSpec{Changes: []drs.RuleChange{change}})
	require.NoError(t, err)
	require.NoError(t, s.AwaitTask(ctx, task))
}

func findRule(rules []drs.RemoteRule, name string) *drs.RemoteRule {
	for i := range rules {
		if rules[i].Name == name {
			return &rules[i]
		}
	}
	return nil
}

func TestSessionLookups(t *testing.T) {
	simulator.Test(func(ctx context.Context, c *vim25.Client) {
		s, err := NewSession(ctx, c, "")
		require.NoError(t, err)
		assert.Equal(t, "/DC0", s.Datacenter())

		cluster, err := s.FindCluster(ctx, simCluster)
		require.NoError(t, err)
		assert.Equal(t, simCluster, cluster.Name)
		assert.NotEmpty(t, cluster.ID)

		_, err = s.FindCluster(ctx, "no-such-cluster")
		assert.True(t, drs.IsNotFound(err), "got %v", err)

		vm, err := s.FindWorkload(ctx, simVM0)
		require.NoError(t, err)
		assert.Equal(t, simVM0, vm.Name)

		_, err = s.FindWorkload(ctx, "no-such-vm")
		assert.True(t, drs.IsNotFound(err), "got %v", err)

		workloads, err := s.ListWorkloads(ctx, cluster)
		require.NoError(t, err)
		for _, w := range workloads {
			assert.NotEmpty(t, w.Name)
			assert.NotEmpty(t, w.ID)
		}
	})
}

func TestSessionNamedDatacenter(t *testing.T) {
	simulator.Test(func(ctx context.Context, c *vim25.Client) {
		_, err := NewSession(ctx, c, "DC0")
		require.NoError(t, err)

		_, err = NewSession(ctx, c, "DC-missing")
		assert.True(t, drs.IsNotFound(err), "got %v", err)
	})
}

func TestSessionRuleLifecycle(t *testing.T) {
	simulator.Test(func(ctx context.Context, c *vim25.Client) {
		s, err := NewSession(ctx, c, "")
		require.NoError(t, err)

		cluster, err := s.FindCluster(ctx, simCluster)
		require.NoError(t, err)

		addRule(t, ctx, s, cluster, "web-apart", drs.KeepApart, simVM0, simVM1)
		addRule(t, ctx, s, cluster, "db-together", drs.KeepTogether, simVM0)

		rules, err := s.ClusterRules(ctx, cluster)
		require.NoError(t, err)

		apart := findRule(rules, "web-apart")
		require.NotNil(t, apart)
		assert.Equal(t, drs.KeepApart, apart.Kind)
		assert.ElementsMatch(t, []string{simVM0, simVM1}, apart.Members)
		assert.NotZero(t, apart.Key)
		require.NotNil(t, apart.Enabled)
		assert.True(t, *apart.Enabled)
		assert.Equal(t, "ClusterAntiAffinityRuleSpec", apart.TypeName)

		together := findRule(rules, "db-together")
		require.NotNil(t, together)
		assert.Equal(t, drs.KeepTogether, together.Kind)

		remove := drs.RuleChange{Operation: drs.RuleOperationRemove, Rule: drs.RuleRecord{Key: apart.Key}}
		task, err := s.SubmitReconfigure(ctx, cluster, drs.ConfigSpec{Changes: []drs.RuleChange{remove}})
		require.NoError(t, err)
		require.NoError(t, s.AwaitTask(ctx, task))

		rules, err = s.ClusterRules(ctx, cluster)
		require.NoError(t, err)
		assert.Nil(t, findRule(rules, "web-apart"))
		assert.NotNil(t, findRule(rules, "db-together"))
	})
}

func TestSessionDuplicateRuleNameFails(t *testing.T) {
	simulator.Test(func(ctx context.Context, c *vim25.Client) {
		s, err := NewSession(ctx, c, "")
		require.NoError(t, err)

		cluster, err := s.FindCluster(ctx, simCluster)
		require.NoError(t, err)
		addRule(t, ctx, s, cluster, "dup", drs.KeepApart, simVM0, simVM1)

		ref, err := s.FindWorkload(ctx, simVM0)
		require.NoError(t, err)
		change := drs.RuleChange{
			Operation: drs.RuleOperationAdd,
			Rule:      drs.RuleRecord{Name: "dup", Kind: drs.KeepTogether},
			Members:   []drs.WorkloadRef{ref},
		}
		task, err := s.SubmitReconfigure(ctx, cluster, drs.ConfigSpec{Changes: []drs.RuleChange{change}})
		if err == nil {
			err = s.AwaitTask(ctx, task)
		}
		assert.Error(t, err)
		assert.Equal(t, drs.ErrorKindRemote, drs.KindOf(err))
	})
}

func TestConfigSpecRejectsUnknownKind(t *testing.T) {
	_, err := configSpec(drs.ConfigSpec{Changes: []drs.RuleChange{{
		Operation: drs.RuleOperationAdd,
		Rule:      drs.RuleRecord{Name: "r", Kind: "Sideways"},
	}}})
	assert.True(t, drs.IsPrecondition(err))
}

func TestEndpointURL(t *testing.T) {
	u, err := endpointURL(drs.ConnectionParams{Hostname: "vc.example.com", Username: "admin", Password: "s3cret"})
	require.NoError(t, err)
	assert.Equal(t, "https", u.Scheme)
	assert.Equal(t, "vc.example.com:443", u.Host)
	assert.Equal(t, "/sdk", u.Path)
	pw, _ := u.User.Password()
	assert.Equal(t, "s3cret", pw)
}

// newServer starts a TLS vCenter simulator and returns connection parameters for it
func newServer(t *testing.T) drs.ConnectionParams {
	t.Helper()

	model := simulator.VPX()
	require.NoError(t, model.Create())
	t.Cleanup(model.Remove)

	model.Service.TLS = new(tls.Config)
	server := model.Service.NewServer()
	t.Cleanup(server.Close)

	port, err := strconv.Atoi(server.URL.Port())
	require.NoError(t, err)

	params := drs.ConnectionParams{
		Hostname:      server.URL.Hostname(),
		Port:          port,
		Username:      "user",
		Password:      "pass",
		ValidateCerts: false,
	}
	if server.URL.User != nil {
		if password, ok := server.URL.User.Password(); ok {
			params.Username = server.URL.User.Username()
			params.Password = password
		}
	}
	return params
}

func TestConnectorAgainstSimulator(t *testing.T) {
	ctx := context.Background()
	params := newServer(t)

	session, err := NewConnector().Connect(ctx, params)
	require.NoError(t, err)

	cluster, err := session.FindCluster(ctx, simCluster)
	require.NoError(t, err)
	assert.Equal(t, simCluster, cluster.Name)

	assert.NoError(t, session.Disconnect(ctx))
}

func TestDriverAgainstSimulator(t *testing.T) {
	ctx := context.Background()
	conn := newServer(t)
	validate := false
	keepTogether := false

	params := drs.Params{
		Hostname:      conn.Hostname,
		Port:          conn.Port,
		Username:      conn.Username,
		Password:      conn.Password,
		ValidateCerts: &validate,
		Cluster:       simCluster,
		Name:          "web-apart",
		Members:       []string{simVM0, simVM1},
		KeepTogether:  &keepTogether,
	}
	driver := drs.NewDriver(NewConnector())

	created := driver.Run(ctx, params)
	require.False(t, created.Failed, created.Message)
	assert.True(t, created.Changed)
	assert.Equal(t, drs.ActionCreate, created.Action)
	assert.Equal(t, "[REDACTED]", created.Invocation["password"])

	again := driver.Run(ctx, params)
	require.False(t, again.Failed, again.Message)
	assert.False(t, again.Changed)
	assert.Equal(t, drs.ActionNoop, again.Action)

	params.Members = []string{simVM0}
	updated := driver.Run(ctx, params)
	require.False(t, updated.Failed, updated.Message)
	assert.True(t, updated.Changed)
	assert.Equal(t, drs.ActionUpdate, updated.Action)
	rule, ok := updated.Facts.Rule("web-apart")
	require.True(t, ok)
	assert.Equal(t, []string{simVM0}, rule.Members)

	params.State = drs.StateAbsent
	deleted := driver.Run(ctx, params)
	require.False(t, deleted.Failed, deleted.Message)
	assert.True(t, deleted.Changed)
	assert.Equal(t, drs.ActionDelete, deleted.Action)
}
