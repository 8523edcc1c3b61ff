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
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/vmware/govmomi/vim25"
	"github.com/vmware/govmomi/vim25/soap"

	"github.com/projectbeskar/drsctl/internal/drs"
	"github.com/projectbeskar/drsctl/internal/obs/logging"
)

// endpointURL builds the SDK URL for params, credentials included
func endpointURL(params drs.ConnectionParams) (*url.URL, error) {
	port := params.Port
	if port == 0 {
		port = drs.DefaultPort
	}

	u, err := soap.ParseURL(net.JoinHostPort(params.Hostname, strconv.Itoa(port)))
	if err != nil {
		return nil, drs.NewPreconditionError(fmt.Sprintf("invalid vSphere endpoint %q", params.Hostname), err)
	}
	u.User = url.UserPassword(params.Username, params.Password)
	return u, nil
}

// connect establishes a connection to vSphere and logs in
func connect(ctx context.Context, params drs.ConnectionParams) (*Session, error) {
	u, err := endpointURL(params)
	if err != nil {
		return nil, err
	}

	// Create SOAP client
	soapClient := soap.NewClient(u, !params.ValidateCerts)

	if params.ValidateCerts {
		soapClient.DefaultTransport().TLSClientConfig = &tls.Config{
			ServerName: u.Hostname(),
			MinVersion: tls.VersionTLS12,
		}
	}

	vimClient, err := vim25.NewClient(ctx, soapClient)
	if err != nil {
		return nil, classify(fmt.Sprintf("failed to connect to %s", u.Host), err)
	}

	s := newSession(vimClient)
	if err := s.login(ctx, u.User); err != nil {
		return nil, err
	}

	if err := s.setupDatacenter(ctx, params.Datacenter); err != nil {
		_ = s.Disconnect(ctx)
		return nil, err
	}

	logging.FromContext(ctx).V(1).Info("Logged in to vSphere", "endpoint", u.Host, "datacenter", s.datacenter)
	return s, nil
}

// login authenticates with vSphere
func (s *Session) login(ctx context.Context, user *url.Userinfo) error {
	if err := s.manager.Login(ctx, user); err != nil {
		return classify("failed to login to vSphere", err)
	}
	return nil
}

// setupDatacenter scopes the finder to the named datacenter, or the first
// one found when name is empty
func (s *Session) setupDatacenter(ctx context.Context, name string) error {
	if name != "" {
		dc, err := s.finder.Datacenter(ctx, name)
		if err != nil {
			return classify(fmt.Sprintf("datacenter %q not found", name), err)
		}
		s.finder.SetDatacenter(dc)
		s.datacenter = dc.InventoryPath
		return nil
	}

	datacenters, err := s.finder.DatacenterList(ctx, "*")
	if err != nil {
		return classify("failed to list datacenters", err)
	}
	if len(datacenters) == 0 {
		return drs.NewNotFoundError("no datacenters found", nil)
	}

	// Use the first datacenter as default
	s.finder.SetDatacenter(datacenters[0])
	s.datacenter = datacenters[0].InventoryPath
	return nil
}

// Disconnect closes the vSphere session
func (s *Session) Disconnect(ctx context.Context) error {
	if s.manager == nil {
		return nil
	}
	if err := s.manager.Logout(ctx); err != nil {
		return classify("failed to logout from vSphere", err)
	}
	return nil
}
