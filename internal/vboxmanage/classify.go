package vboxmanage

import "strings"

// Substrings VBoxManage prints on stderr.
const (
	// SignatureDone is the progress fragment printed when a long running
	// operation completes. Its presence on stderr means success.
	SignatureDone = "100%"

	signatureAccessDenied       = "E_ACCESSDENIED"
	signatureInvalidObjectState = "VBOX_E_INVALID_OBJECT_STATE"
	signatureNotFound           = "Could not find a registered machine named"
	signatureInvalidVMState     = "VBOX_E_INVALID_VM_STATE"
	signatureMachineState       = "Machine in invalid state"
	signatureFileError          = "VBOX_E_FILE_ERROR"
	signatureInvalidArg         = "NS_ERROR_INVALID_ARG"
	signatureInternalError      = "VERR_INTERNAL_ERROR"
)

// StderrRule maps a stderr substring to an error kind.
type StderrRule struct {
	Signature string
	Kind      error
}

// StderrRules are evaluated in order by CheckStderr; the first match wins.
var StderrRules = []StderrRule{
	{Signature: signatureNotFound, Kind: ErrInstanceNotFound},
	{Signature: signatureInvalidVMState, Kind: ErrInvalidState},
	{Signature: signatureMachineState, Kind: ErrInvalidState},
}

// TransientSignatures mark failures the executor retries.
var TransientSignatures = []string{
	signatureAccessDenied,
	signatureInvalidObjectState,
}

// CheckStderr returns the error for the first rule matching stderr, or nil
// when no rule matches. The caller decides what an unmatched, non-empty
// stderr means.
func CheckStderr(stderr, instance, method string) error {
	for _, rule := range StderrRules {
		if strings.Contains(stderr, rule.Signature) {
			return newError(method, instance, stderr, rule.Kind)
		}
	}
	return nil
}

// IsTransient reports whether stderr carries a retryable signature.
func IsTransient(stderr string) bool {
	for _, sig := range TransientSignatures {
		if strings.Contains(stderr, sig) {
			return true
		}
	}
	return false
}

// isDone reports whether stderr only carries progress output of a
// completed operation.
func isDone(stderr string) bool {
	return strings.Contains(stderr, SignatureDone)
}
