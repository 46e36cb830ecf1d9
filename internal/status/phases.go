// Package status maps VirtualBox machine states to driver power states and
// names the task states reported while long operations run.
package status

import "strings"

// PowerState is the power state the driver reports for an instance.
type PowerState int

const (
	NoState PowerState = iota
	Running
	Paused
	Shutdown
	Crashed
	Suspended
)

var powerStateNames = map[PowerState]string{
	NoState:   "pending",
	Running:   "running",
	Paused:    "paused",
	Shutdown:  "shutdown",
	Crashed:   "crashed",
	Suspended: "suspended",
}

// String returns the lowercase name of the power state.
func (p PowerState) String() string {
	if name, ok := powerStateNames[p]; ok {
		return name
	}
	return powerStateNames[NoState]
}

// VirtualBox "VMState" values the driver acts on.
const (
	VMStatePowerOff  = "poweroff"
	VMStateSaved     = "saved"
	VMStateRunning   = "running"
	VMStateStarting  = "starting"
	VMStatePaused    = "paused"
	VMStateAborted   = "aborted"
	VMStateStopping  = "stopping"
	VMStateSaving    = "saving"
	VMStateRestoring = "restoring"
)

var vmStates = map[string]PowerState{
	VMStatePowerOff: Shutdown,
	VMStateStarting: Running,
	VMStateRunning:  Running,
	VMStatePaused:   Paused,
	VMStateAborted:  Suspended,
	VMStateSaved:    Suspended,
}

// FromVMState returns the power state for a VirtualBox machine state.
// Unknown states map to NoState.
func FromVMState(vmState string) PowerState {
	return vmStates[strings.ToLower(strings.TrimSpace(vmState))]
}

// IsTerminal returns true if the machine is not running and will not start
// on its own.
func IsTerminal(vmState string) bool {
	switch vmState {
	case VMStatePowerOff, VMStateSaved, VMStateAborted:
		return true
	}
	return false
}

// IsRunning returns true if the machine is executing guest code.
func IsRunning(vmState string) bool {
	return FromVMState(vmState) == Running
}

// IsTransitioning returns true if the machine is between two stable states.
func IsTransitioning(vmState string) bool {
	switch vmState {
	case VMStateStarting, VMStateStopping, VMStateSaving, VMStateRestoring:
		return true
	}
	return false
}
