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
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projectbeskar/drsctl/internal/drs"
	"github.com/projectbeskar/drsctl/internal/drs/drsfake"
)

func run(t *testing.T, server *drsfake.Server, args ...string) (*drs.Result, string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(server, &out)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())

	var result drs.Result
	if out.Len() > 0 && out.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	}
	return &result, out.String(), err
}

var connFlags = []string{"--hostname", "vc.example.com", "--username", "admin", "--password", "s3cret"}

func newServer() *drsfake.Server {
	server := drsfake.NewServer(drsfake.Config{})
	server.AddCluster("prod", "web-1", "web-2")
	return server
}

func TestApplyCreatesRule(t *testing.T) {
	server := newServer()
	args := append([]string{"apply", "--cluster", "prod", "--name", "web", "--members", "web-1,web-2",
		"--keep-together=false"}, connFlags...)

	result, out, err := run(t, server, args...)
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.False(t, result.Failed)
	assert.NotContains(t, out, "s3cret")

	rule, ok := server.Rule("prod", "web")
	require.True(t, ok)
	assert.Equal(t, drs.KeepApart, rule.Kind)

	result, _, err = run(t, server, args...)
	require.NoError(t, err)
	assert.False(t, result.Changed)
}

func TestApplyFailureExitsNonZero(t *testing.T) {
	server := newServer()
	args := append([]string{"apply", "--cluster", "prod", "--name", "web", "--members", "web-1,web-2"}, connFlags...)

	result, _, err := run(t, server, args...)
	assert.ErrorIs(t, err, errFailed)
	assert.True(t, result.Failed)
	assert.False(t, result.Changed)
}

func TestApplyParamsFile(t *testing.T) {
	server := newServer()
	file := filepath.Join(t.TempDir(), "params.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
hostname: vc.example.com
username: admin
cluster: prod
name: web
vms: [web-1, web-2]
keepTogether: true
`), 0o600))
	t.Setenv("DRSCTL_PASSWORD", "from-env")

	result, _, err := run(t, server, "apply", "--params", file, "--check")
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, "[REDACTED]", result.Invocation["password"])
	assert.Equal(t, true, result.Invocation["checkMode"])

	_, ok := server.Rule("prod", "web")
	assert.False(t, ok)
}

func TestFacts(t *testing.T) {
	server := newServer()
	server.AddRule("prod", drs.RemoteRule{Name: "existing", Kind: drs.KeepTogether,
		Members: []string{"web-1", "web-2"}})

	result, _, err := run(t, server, append([]string{"facts", "--cluster", "prod"}, connFlags...)...)
	require.NoError(t, err)
	assert.Equal(t, drs.ActionFacts, result.Action)
	require.NotNil(t, result.Facts)
	assert.Contains(t, result.Facts.Rules, "existing")
	assert.Equal(t, 0, server.Calls().Submits)
}

func TestVersion(t *testing.T) {
	_, out, err := run(t, newServer(), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "drsctl dev")
}

func TestUnsupportedOutput(t *testing.T) {
	args := append([]string{"-o", "xml", "facts", "--cluster", "prod"}, connFlags...)
	_, _, err := run(t, newServer(), args...)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, errFailed)
}

func TestApplyMemberAliases(t *testing.T) {
	server := newServer()
	args := append([]string{"apply", "--cluster", "prod", "--name", "web", "--vms", "web-1",
		"--hosts", "web-2", "--keep-together"}, connFlags...)

	result, _, err := run(t, server, args...)
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.ElementsMatch(t, []interface{}{"web-1", "web-2"}, result.Invocation["members"])

	rule, ok := server.Rule("prod", "web")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"web-1", "web-2"}, rule.Members)
	assert.Equal(t, drs.KeepTogether, rule.Kind)
}

