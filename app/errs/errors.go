// Package errs defines the domain error taxonomy shared by the record
// store, the application state machine and the admin relay. Every type
// exposes Code so router logging can attach a stable err_code attribute.
package errs

import (
	"errors"
	"fmt"
)

// ValidationError reports step input that must be corrected by the user.
// It is recovered locally by re-prompting the current step.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Code returns the stable error code for logs.
func (e *ValidationError) Code() string { return "VALIDATION" }

// NotFoundError reports a lookup of an unknown record. Callers must be able
// to distinguish "never existed" from a storage failure.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Key)
}

// Code returns the stable error code for logs.
func (e *NotFoundError) Code() string { return "NOT_FOUND" }

// AlreadyDecidedError reports a second decision attempt on an application.
type AlreadyDecidedError struct {
	ApplicationID string
	Status        string
}

func (e *AlreadyDecidedError) Error() string {
	return fmt.Sprintf("application %s already decided: %s", e.ApplicationID, e.Status)
}

// Code returns the stable error code for logs.
func (e *AlreadyDecidedError) Code() string { return "ALREADY_DECIDED" }

// StorageError wraps a failed read or write of the record files. The
// in-flight user input is preserved by the caller for retry.
type StorageError struct {
	Op   string
	File string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.File, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Code returns the stable error code for logs.
func (e *StorageError) Code() string { return "STORAGE" }

// TransportError wraps a delivery failure to the Telegram platform after
// retries were exhausted.
type TransportError struct {
	Action string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Action, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Code returns the stable error code for logs.
func (e *TransportError) Code() string { return "TRANSPORT" }

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsAlreadyDecided reports whether err is an AlreadyDecidedError.
func IsAlreadyDecided(err error) bool {
	var ad *AlreadyDecidedError
	return errors.As(err, &ad)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
