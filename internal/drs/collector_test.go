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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/projectbeskar/drsctl/internal/drs"
	"github.com/projectbeskar/drsctl/internal/drs/drsfake"
)

func boolPtr(b bool) *bool { return &b }

func newFakeCluster(cfg drsfake.Config) *drsfake.Server {
	server := drsfake.NewServer(cfg)
	server.AddCluster("c1", "web-1", "web-2", "web-3", "db-1")
	return server
}

func openSession(t *testing.T, server *drsfake.Server) drs.Session {
	t.Helper()
	s, err := server.Connect(context.Background(), drs.ConnectionParams{})
	require.NoError(t, err)
	return s
}

func TestCollectClusterConfig(t *testing.T) {
	ctx := context.Background()
	server := newFakeCluster(drsfake.Config{})
	server.AddRule("c1", drs.RemoteRule{
		Name: "web-apart", Kind: drs.KeepApart, Members: []string{"web-2", "web-1"},
		Enabled: boolPtr(true), Status: "green", UUID: "abc", UserCreated: boolPtr(true),
		DynamicType: "ClusterAntiAffinityRuleSpec", DynamicProperties: []string{"x"},
	})
	server.AddRule("c1", drs.RemoteRule{Name: "host-pin", Members: []string{"db-1"}})
	server.AddRule("c1", drs.RemoteRule{Name: "web-apart", Kind: drs.KeepTogether, Members: []string{"web-3"}})

	snapshot, err := drs.NewCollector(openSession(t, server)).Collect(ctx, "c1", drs.CollectOptions{})
	require.NoError(t, err)

	assert.Equal(t, "c1", snapshot.ClusterName)
	assert.Equal(t, []string{"web-apart"}, snapshot.RuleNames())

	rule, ok := snapshot.Rule("web-apart")
	require.True(t, ok)
	want := drs.RuleRecord{
		Name:    "web-apart",
		Key:     1,
		Members: []string{"web-2", "web-1"},
		Kind:    drs.KeepApart,
		Enabled: true,
	}
	if diff := cmp.Diff(want, rule); diff != "" {
		t.Errorf("rule record mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 0, server.Calls().WorkloadReads)
}

func TestCollectFallsBackToWorkloadProbe(t *testing.T) {
	ctx := context.Background()
	server := newFakeCluster(drsfake.Config{ClusterConfigUnsupported: true})
	server.AddRule("c1", drs.RemoteRule{Name: "web-apart", Kind: drs.KeepApart, Members: []string{"web-1", "web-2"}})
	server.AddRule("c1", drs.RemoteRule{Name: "db", Kind: drs.KeepTogether, Members: []string{"db-1"}})

	snapshot, err := drs.NewCollector(openSession(t, server)).Collect(ctx, "c1", drs.CollectOptions{
		Members: sets.New("web-1", "web-2"),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"web-apart"}, snapshot.RuleNames())
	assert.Equal(t, 1, server.Calls().ClusterReads)
	assert.Equal(t, 2, server.Calls().WorkloadReads)
}

func TestCollectWorkloadProbeWithoutMembersProbesWholeCluster(t *testing.T) {
	ctx := context.Background()
	server := newFakeCluster(drsfake.Config{})
	server.AddRule("c1", drs.RemoteRule{Name: "web-apart", Kind: drs.KeepApart, Members: []string{"web-1", "web-2"}})
	server.AddRule("c1", drs.RemoteRule{Name: "db", Kind: drs.KeepTogether, Members: []string{"db-1"}})

	snapshot, err := drs.NewCollector(openSession(t, server)).Collect(ctx, "c1", drs.CollectOptions{
		Source: drs.SourceWorkloadProbe,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"db", "web-apart"}, snapshot.RuleNames())
	assert.Equal(t, 0, server.Calls().ClusterReads)
	assert.Equal(t, 4, server.Calls().WorkloadReads)
}

func TestCollectMissingMembers(t *testing.T) {
	ctx := context.Background()
	server := newFakeCluster(drsfake.Config{})
	collector := drs.NewCollector(openSession(t, server))

	_, err := collector.Collect(ctx, "c1", drs.CollectOptions{
		Members: sets.New("web-1", "ghost"),
		Strict:  true,
	})
	require.Error(t, err)
	assert.True(t, drs.IsNotFound(err))
	assert.Equal(t, drs.PhaseCollection, drs.PhaseOf(err))
	assert.Contains(t, err.Error(), "virtual machines not found: [ghost]")

	snapshot, err := collector.Collect(ctx, "c1", drs.CollectOptions{Members: sets.New("web-1", "ghost")})
	require.NoError(t, err)
	assert.Empty(t, snapshot.Rules)
}

func TestCollectUnknownCluster(t *testing.T) {
	server := newFakeCluster(drsfake.Config{})

	_, err := drs.NewCollector(openSession(t, server)).Collect(context.Background(), "nope", drs.CollectOptions{})
	require.Error(t, err)
	assert.True(t, drs.IsNotFound(err))
	assert.Equal(t, drs.PhaseCollection, drs.PhaseOf(err))
}
