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
	"errors"
	"fmt"
)

// ErrorKind represents the category of error
type ErrorKind string

const (
	// ErrorKindNotFound indicates the cluster or a named member could not be resolved
	ErrorKindNotFound ErrorKind = "NotFound"
	// ErrorKindPermission indicates the controller rejected the request for authorization reasons
	ErrorKindPermission ErrorKind = "PermissionDenied"
	// ErrorKindPrecondition indicates a local check failed before any remote mutation
	ErrorKindPrecondition ErrorKind = "Precondition"
	// ErrorKindVerification indicates a completed task did not produce the expected state
	ErrorKindVerification ErrorKind = "VerificationMismatch"
	// ErrorKindRemote indicates any other failure reported by the controller or transport
	ErrorKindRemote ErrorKind = "Remote"
)

// Phase names the stage of a reconciliation pass
type Phase string

const (
	PhaseValidation   Phase = "validation"
	PhaseConnect      Phase = "connect"
	PhaseCollection   Phase = "collection"
	PhaseComparison   Phase = "comparison"
	PhaseMutation     Phase = "mutation"
	PhaseVerification Phase = "verification"
)

// Error is a categorized reconciliation error
type Error struct {
	// Kind categorizes the error
	Kind ErrorKind
	// Phase is where the error happened, set by the component that observed it
	Phase Phase
	// Message describes the error
	Message string
	// Cause contains the underlying error
	Cause error
}

// Error implements the error interface
func (e *Error) Error() string {
	prefix := string(e.Kind)
	if e.Kind == ErrorKindPermission {
		prefix = "permission denied"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewNotFoundError creates a not found error
func NewNotFoundError(message string, cause error) *Error {
	return &Error{Kind: ErrorKindNotFound, Message: message, Cause: cause}
}

// NewPermissionError creates a permission error
func NewPermissionError(message string, cause error) *Error {
	return &Error{Kind: ErrorKindPermission, Message: message, Cause: cause}
}

// NewPreconditionError creates a precondition error
func NewPreconditionError(message string, cause error) *Error {
	return &Error{Kind: ErrorKindPrecondition, Message: message, Cause: cause}
}

// NewVerificationError creates a verification mismatch error
func NewVerificationError(message string) *Error {
	return &Error{Kind: ErrorKindVerification, Phase: PhaseVerification, Message: message}
}

// NewRemoteError creates an error for an unclassified remote failure
func NewRemoteError(message string, cause error) *Error {
	return &Error{Kind: ErrorKindRemote, Message: message, Cause: cause}
}

// KindOf returns the kind of err, or ErrorKindRemote for foreign errors
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrorKindRemote
}

// PhaseOf returns the phase recorded on err, if any
func PhaseOf(err error) Phase {
	var e *Error
	if errors.As(err, &e) {
		return e.Phase
	}
	return ""
}

// IsNotFound reports whether err is a NotFound error
func IsNotFound(err error) bool { return hasKind(err, ErrorKindNotFound) }

// IsPermission reports whether err is a permission error
func IsPermission(err error) bool { return hasKind(err, ErrorKindPermission) }

// IsPrecondition reports whether err is a precondition error
func IsPrecondition(err error) bool { return hasKind(err, ErrorKindPrecondition) }

// IsVerification reports whether err is a verification mismatch
func IsVerification(err error) bool { return hasKind(err, ErrorKindVerification) }

func hasKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// inPhase stamps phase on err unless an inner component already did
func inPhase(err error, phase Phase) error {
	var e *Error
	if errors.As(err, &e) {
		if e.Phase != "" {
			return err
		}
		stamped := *e
		stamped.Phase = phase
		return &stamped
	}
	return &Error{Kind: ErrorKindRemote, Phase: phase, Message: "remote call failed", Cause: err}
}
