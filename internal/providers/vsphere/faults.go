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
	"errors"

	"github.com/vmware/govmomi/find"
	"github.com/vmware/govmomi/task"
	"github.com/vmware/govmomi/vim25/soap"
	"github.com/vmware/govmomi/vim25/types"

	"github.com/projectbeskar/drsctl/internal/drs"
)

// classify wraps a govmomi error into a categorized drs error
func classify(message string, err error) error {
	if err == nil {
		return nil
	}

	var de *drs.Error
	if errors.As(err, &de) {
		return err
	}

	var nf *find.NotFoundError
	if errors.As(err, &nf) {
		return drs.NewNotFoundError(message, err)
	}

	switch faultKind(methodFault(err)) {
	case drs.ErrorKindPermission:
		return drs.NewPermissionError(message, err)
	case drs.ErrorKindNotFound:
		return drs.NewNotFoundError(message, err)
	default:
		return drs.NewRemoteError(message, err)
	}
}

// methodFault extracts the vSphere fault carried by err, if any
func methodFault(err error) interface{} {
	var te task.Error
	if errors.As(err, &te) && te.LocalizedMethodFault != nil {
		return te.LocalizedMethodFault.Fault
	}
	if soap.IsSoapFault(err) {
		return soap.ToSoapFault(err).VimFault()
	}
	if soap.IsVimFault(err) {
		return soap.ToVimFault(err)
	}
	return nil
}

// faultKind maps a vSphere fault to an error kind. SOAP faults decode to
// values while task faults are pointers, so both forms are matched.
func faultKind(fault interface{}) drs.ErrorKind {
	switch fault.(type) {
	case types.NoPermission, *types.NoPermission,
		types.NotAuthenticated, *types.NotAuthenticated,
		types.InvalidLogin, *types.InvalidLogin:
		return drs.ErrorKindPermission
	case types.ManagedObjectNotFound, *types.ManagedObjectNotFound,
		types.NotFound, *types.NotFound:
		return drs.ErrorKindNotFound
	default:
		return drs.ErrorKindRemote
	}
}
