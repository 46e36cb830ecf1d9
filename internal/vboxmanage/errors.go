package vboxmanage

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. A *Error wraps at most one of these; a nil kind is a generic
// management error.
var (
	// ErrInstanceNotFound means the referenced VM is not registered.
	ErrInstanceNotFound = errors.New("instance not found")
	// ErrInvalidState means the VM's state does not permit the request.
	ErrInvalidState = errors.New("instance in invalid state")
	// ErrInvalid means VBoxManage rejected an argument (NS_ERROR_INVALID_ARG).
	ErrInvalid = errors.New("invalid argument")
	// ErrValueNotAllowed means a value was rejected before invoking the tool.
	ErrValueNotAllowed = errors.New("value not allowed")
	// ErrDestinationExists means a disk or VM file already exists.
	ErrDestinationExists = errors.New("destination disk exists")
	// ErrInvalidDiskFormat means a disk format outside VDI, VHD and VMDK.
	ErrInvalidDiskFormat = errors.New("invalid disk format")
	// ErrInvalidDiskInfo means a disk request with impossible parameters.
	ErrInvalidDiskInfo = errors.New("invalid disk info")
)

// Error describes a failed VBoxManage request.
type Error struct {
	// Method is the VBoxManage subcommand.
	Method string
	// Instance is the VM the request targeted, if any.
	Instance string
	// Reason is the raw stderr or a description of the rejected value.
	Reason string
	// Err is the error kind, nil for a generic management error.
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "VBoxManage %s failed", e.Method)
	if e.Instance != "" {
		fmt.Fprintf(&b, " for %s", e.Instance)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if reason := strings.TrimSpace(e.Reason); reason != "" {
		fmt.Fprintf(&b, ": %s", reason)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsManageError reports whether err came from a VBoxManage request.
func IsManageError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

// Kind returns a short label for the kind of err, used as a metrics label.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInstanceNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrInvalid):
		return "invalid_argument"
	case errors.Is(err, ErrValueNotAllowed):
		return "value_not_allowed"
	case errors.Is(err, ErrDestinationExists):
		return "destination_exists"
	case errors.Is(err, ErrInvalidDiskFormat), errors.Is(err, ErrInvalidDiskInfo):
		return "invalid_disk"
	default:
		return "generic"
	}
}

func newError(method, instance, reason string, kind error) *Error {
	return &Error{Method: method, Instance: instance, Reason: reason, Err: kind}
}

func valueNotAllowed[T ~string](method, argument string, value T, allowed []T) *Error {
	names := make([]string, len(allowed))
	for i, a := range allowed {
		names[i] = string(a)
	}
	return newError(method, "",
		fmt.Sprintf("%s=%q (allowed: %s)", argument, string(value), strings.Join(names, ", ")),
		ErrValueNotAllowed)
}
