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

	"github.com/vmware/govmomi/find"
	"github.com/vmware/govmomi/session"
	"github.com/vmware/govmomi/vim25"

	"github.com/projectbeskar/drsctl/internal/drs"
)

// Connector opens vSphere sessions against vCenter
type Connector struct{}

// NewConnector creates a vSphere connector
func NewConnector() *Connector {
	return &Connector{}
}

// Connect logs in to the endpoint described by params
func (c *Connector) Connect(ctx context.Context, params drs.ConnectionParams) (drs.Session, error) {
	return connect(ctx, params)
}

// Session implements drs.Session on top of govmomi
type Session struct {
	// vSphere connection
	client  *vim25.Client
	manager *session.Manager
	finder  *find.Finder

	// datacenter the finder is scoped to
	datacenter string
}

var (
	_ drs.Session        = (*Session)(nil)
	_ drs.AtomicReplacer = (*Session)(nil)
	_ drs.Connector      = (*Connector)(nil)
)

// NewSession wraps an already authenticated client. An empty datacenter
// selects the first datacenter in the inventory.
func NewSession(ctx context.Context, client *vim25.Client, datacenter string) (*Session, error) {
	s := newSession(client)
	if err := s.setupDatacenter(ctx, datacenter); err != nil {
		return nil, err
	}
	return s, nil
}

func newSession(client *vim25.Client) *Session {
	return &Session{
		client:  client,
		manager: session.NewManager(client),
		finder:  find.NewFinder(client, true),
	}
}

// SupportsAtomicReplace reports that vCenter applies every entry of a
// ClusterConfigSpecEx rule list in a single task
func (s *Session) SupportsAtomicReplace() bool {
	return true
}

// Datacenter returns the inventory path of the datacenter lookups are scoped to
func (s *Session) Datacenter() string {
	return s.datacenter
}
