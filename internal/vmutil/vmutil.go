// Package vmutil holds the VM level helpers shared by the orchestrators:
// power state polling, soft shutdown, host capacity checks and the JSON
// description blob the driver keeps on every VM.
package vmutil

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/jbweber/vboxdriver/internal/logger"
	"github.com/jbweber/vboxdriver/internal/parser"
	"github.com/jbweber/vboxdriver/internal/status"
	"github.com/jbweber/vboxdriver/internal/vboxmanage"
)

const (
	// DefaultShutdownRetryInterval is how often a soft shutdown signals the
	// guest and polls its power state.
	DefaultShutdownRetryInterval = 5 * time.Second

	// DefaultSoftShutdownTimeout is used when no timeout is given.
	DefaultSoftShutdownTimeout = 60 * time.Second

	// DefaultOSType is used for unknown guest OS types.
	DefaultOSType = "Other"

	// RootAttachKey is the VM info key holding the root disk path.
	RootAttachKey = "SATA-0-0"

	// VM info keys.
	keyVMState     = "VMState"
	keyACPI        = "acpi"
	keyCPUs        = "cpus"
	keyMemory      = "memory"
	keyDescription = "description"
)

var (
	// ErrInsufficientMemory means the host cannot back the requested memory.
	ErrInsufficientMemory = errors.New("insufficient free memory on host")
	// ErrCPUOutOfRange means more CPUs were requested than the host has.
	ErrCPUOutOfRange = errors.New("requested CPUs exceed host processor count")
)

// vboxClient is the subset of VBoxManage requests vmutil issues.
//
// In production, this is satisfied by *vboxmanage.Client.
type vboxClient interface {
	ShowVMInfo(ctx context.Context, vm string) (parser.VMInfo, error)
	List(ctx context.Context, kind vboxmanage.ListKind) (string, error)
	ModifyVM(ctx context.Context, vm string, field vboxmanage.VMField, values ...string) error
	ControlVM(ctx context.Context, vm string, state vboxmanage.ControlState) error
	StorageCtl(ctx context.Context, vm, name string, bus vboxmanage.SystemBus, chipset vboxmanage.Chipset) error
}

// WaitFunc blocks until vm reaches state or limit elapses and reports
// whether the state was reached.
type WaitFunc func(ctx context.Context, vm, state string, limit time.Duration) bool

// Utils implements the VM helpers.
type Utils struct {
	vbox           vboxClient
	defaultTimeout time.Duration
	retryInterval  time.Duration

	// waitForPowerState is replaced in tests.
	waitForPowerState WaitFunc
	sleep             func(ctx context.Context, d time.Duration)
}

// Option configures Utils.
type Option func(*Utils)

// WithSoftShutdownTimeout sets the timeout used when SoftShutdown is called
// without one.
func WithSoftShutdownTimeout(d time.Duration) Option {
	return func(u *Utils) { u.defaultTimeout = d }
}

// WithShutdownRetryInterval sets the soft shutdown polling interval.
func WithShutdownRetryInterval(d time.Duration) Option {
	return func(u *Utils) { u.retryInterval = d }
}

// New creates Utils.
func New(vbox vboxClient, opts ...Option) *Utils {
	u := &Utils{
		vbox:           vbox,
		defaultTimeout: DefaultSoftShutdownTimeout,
		retryInterval:  DefaultShutdownRetryInterval,
		sleep:          sleepContext,
	}
	for _, opt := range opts {
		opt(u)
	}
	u.waitForPowerState = u.pollPowerState
	return u
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// PowerState returns the VirtualBox machine state of vm, e.g. "running".
func (u *Utils) PowerState(ctx context.Context, vm string) (string, error) {
	info, err := u.vbox.ShowVMInfo(ctx, vm)
	if err != nil {
		return "", err
	}
	state, _ := info.Get(keyVMState)
	return state, nil
}

// WaitForPowerState polls vm until it reaches state or limit elapses.
func (u *Utils) WaitForPowerState(ctx context.Context, vm, state string, limit time.Duration) bool {
	return u.waitForPowerState(ctx, vm, state, limit)
}

func (u *Utils) pollPowerState(ctx context.Context, vm, state string, limit time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	ticker := time.NewTicker(u.retryInterval)
	defer ticker.Stop()

	for {
		current, err := u.PowerState(ctx, vm)
		logger.Get().Debugf("Wait for power state of %s: (%s, %s)", vm, current, state)
		if err == nil && current == state {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// HostInfo returns the host processor and memory information.
func (u *Utils) HostInfo(ctx context.Context) (parser.HostInfo, error) {
	out, err := u.vbox.List(ctx, vboxmanage.ListHostInfo)
	if err != nil {
		return parser.HostInfo{}, err
	}
	return parser.ParseHostInfo(out), nil
}

// OSTypes returns the guest OS type identifiers VirtualBox knows.
func (u *Utils) OSTypes(ctx context.Context) ([]string, error) {
	out, err := u.vbox.List(ctx, vboxmanage.ListOSTypes)
	if err != nil {
		return nil, err
	}
	return parser.ParseOSTypes(out), nil
}

// SetCPUs sets the number of virtual CPUs of vm.
func (u *Utils) SetCPUs(ctx context.Context, vm string, vcpus int) error {
	host, err := u.HostInfo(ctx)
	if err != nil {
		return err
	}
	if vcpus > host.ProcessorCount {
		return fmt.Errorf("%w: %d requested, %d available", ErrCPUOutOfRange, vcpus, host.ProcessorCount)
	}
	return u.vbox.ModifyVM(ctx, vm, vboxmanage.VMCPUs, strconv.Itoa(vcpus))
}

// SetMemory sets the memory of vm in MB.
func (u *Utils) SetMemory(ctx context.Context, vm string, memoryMB int) error {
	host, err := u.HostInfo(ctx)
	if err != nil {
		return err
	}
	if memoryMB > host.MemoryAvailableMB {
		return fmt.Errorf("%w: %s needs %d MB, %d MB available", ErrInsufficientMemory, vm, memoryMB, host.MemoryAvailableMB)
	}
	return u.vbox.ModifyVM(ctx, vm, vboxmanage.VMMemory, strconv.Itoa(memoryMB))
}

// SetOSType sets the guest OS type of vm. Unknown types fall back to
// DefaultOSType.
func (u *Utils) SetOSType(ctx context.Context, vm, osType string) error {
	known, err := u.OSTypes(ctx)
	if err != nil {
		return err
	}
	if !slices.Contains(known, osType) {
		logger.Get().Warnf("Unknown os type %q, assuming %s", osType, DefaultOSType)
		osType = DefaultOSType
	}
	return u.vbox.ModifyVM(ctx, vm, vboxmanage.VMOSType, osType)
}

// SetStorageController adds the driver's controller for bus to vm.
func (u *Utils) SetStorageController(ctx context.Context, vm string, bus vboxmanage.SystemBus) error {
	return u.vbox.StorageCtl(ctx, vm, bus.ControllerName(), bus, bus.DefaultChipset())
}

// Description returns the JSON description blob of vm. A missing or
// malformed description yields "{}".
func (u *Utils) Description(ctx context.Context, vm string) (string, error) {
	info, err := u.vbox.ShowVMInfo(ctx, vm)
	if err != nil {
		return "", err
	}
	return descriptionFromInfo(info), nil
}

func descriptionFromInfo(info parser.VMInfo) string {
	desc, ok := info.Get(keyDescription)
	if !ok || !gjson.Valid(desc) || !gjson.Parse(desc).IsObject() {
		return "{}"
	}
	return desc
}

// UpdateDescription merges updates into the top level of the description
// blob of vm, replacing existing keys.
func (u *Utils) UpdateDescription(ctx context.Context, vm string, updates map[string]any) error {
	desc, err := u.Description(ctx, vm)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		desc, err = sjson.Set(desc, gjsonEscape(k), updates[k])
		if err != nil {
			return fmt.Errorf("failed to update description key %s: %w", k, err)
		}
	}
	return u.vbox.ModifyVM(ctx, vm, vboxmanage.VMDescription, desc)
}

// Networks returns the MAC address to port id mapping stored in the
// description blob of vm.
func (u *Utils) Networks(ctx context.Context, vm string) (map[string]string, error) {
	desc, err := u.Description(ctx, vm)
	if err != nil {
		return nil, err
	}
	networks := make(map[string]string)
	gjson.Get(desc, "network").ForEach(func(mac, port gjson.Result) bool {
		networks[mac.String()] = port.String()
		return true
	})
	return networks, nil
}

// gjsonEscape escapes the path syntax characters of a literal key.
func gjsonEscape(key string) string {
	var b []byte
	for i := 0; i < len(key); i++ {
		switch key[i] {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%':
			b = append(b, '\\')
		}
		b = append(b, key[i])
	}
	return string(b)
}

// RootDiskPath returns the path of the disk attached at SATA (0,0), or ""
// when vm cannot be inspected.
func (u *Utils) RootDiskPath(ctx context.Context, vm string) string {
	info, err := u.vbox.ShowVMInfo(ctx, vm)
	if err != nil {
		logger.Get().Debugf("Cannot read root disk of %s: %v", vm, err)
		return ""
	}
	path, _ := info.Get(RootAttachKey)
	return path
}

// Info is the state of a VM as reported to callers.
type Info struct {
	Name     string
	State    status.PowerState
	VMState  string
	MemoryMB int
	CPUs     int
	Networks map[string]string
	RootDisk string
	VRDEPort int
}

// GetInfo returns the power state and sizing of vm.
func (u *Utils) GetInfo(ctx context.Context, vm string) (Info, error) {
	info, err := u.vbox.ShowVMInfo(ctx, vm)
	if err != nil {
		return Info{}, err
	}

	vmState, _ := info.Get(keyVMState)
	memory, _ := info.Get(keyMemory)
	cpus, _ := info.Get(keyCPUs)
	rootDisk, _ := info.Get(RootAttachKey)

	out := Info{
		Name:     vm,
		State:    status.FromVMState(vmState),
		VMState:  vmState,
		MemoryMB: atoi(memory),
		CPUs:     atoi(cpus),
		Networks: make(map[string]string),
		RootDisk: rootDisk,
	}
	if port, ok := info.Get("vrdeports"); ok {
		out.VRDEPort = atoi(port)
	}
	gjson.Get(descriptionFromInfo(info), "network").ForEach(func(mac, port gjson.Result) bool {
		out.Networks[mac.String()] = port.String()
		return true
	})
	return out, nil
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// SoftShutdown presses the ACPI power button of vm until it powers off or
// timeout elapses. It returns false when the VM has no ACPI support or did
// not power off in time, so the caller can fall back to a hard power off.
//
// A zero timeout or retryInterval selects the configured default.
func (u *Utils) SoftShutdown(ctx context.Context, vm string, timeout, retryInterval time.Duration) (bool, error) {
	if timeout <= 0 {
		logger.Get().Debugf("No timeout provided, assuming %s", u.defaultTimeout)
		timeout = u.defaultTimeout
	}
	if retryInterval <= 0 {
		logger.Get().Debugf("No retry interval provided, assuming %s", u.retryInterval)
		retryInterval = u.retryInterval
	}

	info, err := u.vbox.ShowVMInfo(ctx, vm)
	if err != nil {
		return false, err
	}
	if acpi, _ := info.Get(keyACPI); acpi != "on" {
		return false, nil
	}

	logger.Get().Debugf("Performing soft shutdown on %s", vm)
	for timeout > 0 {
		wait := min(retryInterval, timeout)
		logger.Get().Debugf("Soft shutdown %s, timeout remaining: %s", vm, timeout)

		done, err := u.pressPowerButton(ctx, vm, wait)
		switch {
		case err != nil:
			logger.Get().Debugf("Soft shutdown of %s failed: %v", vm, err)
			u.sleep(ctx, wait)
		case done:
			logger.Get().Infof("Soft shutdown of %s succeeded", vm)
			return true, nil
		}

		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		timeout -= retryInterval
	}

	logger.Get().Warnf("Timed out while waiting for soft shutdown of %s", vm)
	return false, nil
}

// pressPowerButton sends one ACPI power button event and waits up to wait
// for the VM to power off. A VM that rejects the event because it is
// already off counts as shut down.
func (u *Utils) pressPowerButton(ctx context.Context, vm string, wait time.Duration) (bool, error) {
	if err := u.vbox.ControlVM(ctx, vm, vboxmanage.ControlACPIPowerButton); err != nil {
		if !errors.Is(err, vboxmanage.ErrInvalidState) {
			return false, err
		}
		state, stateErr := u.PowerState(ctx, vm)
		if stateErr == nil && state == status.VMStatePowerOff {
			return true, nil
		}
		return false, err
	}
	return u.waitForPowerState(ctx, vm, status.VMStatePowerOff, wait), nil
}
