package vboxmanage

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/jbweber/vboxdriver/internal/logger"
	"github.com/jbweber/vboxdriver/internal/parser"
)

// Subcommands.
const (
	cmdCloneHD          = "clonehd"
	cmdCloseMedium      = "closemedium"
	cmdControlVM        = "controlvm"
	cmdCreateHD         = "createhd"
	cmdCreateVM         = "createvm"
	cmdInternalCommands = "internalcommands"
	cmdList             = "list"
	cmdModifyHD         = "modifyhd"
	cmdModifyVM         = "modifyvm"
	cmdSetProperty      = "setproperty"
	cmdShowHDInfo       = "showhdinfo"
	cmdShowVMInfo       = "showvminfo"
	cmdSnapshot         = "snapshot"
	cmdStartVM          = "startvm"
	cmdStorageAttach    = "storageattach"
	cmdStorageCtl       = "storagectl"
	cmdUnregisterVM     = "unregistervm"
	cmdVersion          = "--version"

	// Method names used in errors for requests sharing a subcommand.
	methodModifyNetwork   = "modify_network"
	methodModifyVRDE      = "modify_vrde"
	methodSetHDUUID       = "sethduuid"
	methodSetHDParentUUID = "sethdparentuuid"
)

// Client issues VBoxManage subcommands and classifies their failures.
type Client struct {
	exec *Executor
}

// NewClient creates a Client backed by a new Executor.
func NewClient(cfg Config, opts ...Option) *Client {
	return &Client{exec: NewExecutor(cfg, opts...)}
}

// NewClientWithExecutor creates a Client backed by e.
func NewClientWithExecutor(e *Executor) *Client {
	return &Client{exec: e}
}

// Executor returns the client's executor.
func (c *Client) Executor() *Executor {
	return c.exec
}

func (c *Client) execute(ctx context.Context, command string, args ...string) Result {
	return c.exec.Execute(ctx, command, args...)
}

// fail records err in metrics and returns it.
func (c *Client) fail(method string, err error) error {
	c.exec.metrics.ObserveError(method, Kind(err))
	return err
}

// classified returns the CheckStderr error for stderr or a generic error.
func (c *Client) classified(method, instance, stderr string) error {
	if err := CheckStderr(stderr, instance, method); err != nil {
		return c.fail(method, err)
	}
	return c.fail(method, newError(method, instance, stderr, nil))
}

// Version returns the output of "VBoxManage --version".
func (c *Client) Version(ctx context.Context) (string, error) {
	res := c.execute(ctx, cmdVersion)
	if res.Stderr != "" && res.Stdout == "" {
		return "", c.fail(cmdVersion, newError(cmdVersion, "", res.Stderr, nil))
	}
	return strings.TrimSpace(res.Stdout), nil
}

// SetProperty changes a global VirtualBox setting.
func (c *Client) SetProperty(ctx context.Context, name Property, value string) error {
	if err := checkAllowed(cmdSetProperty, "name", name, properties); err != nil {
		return err
	}
	if res := c.execute(ctx, cmdSetProperty, string(name), value); res.Stderr != "" {
		return c.fail(cmdSetProperty, newError(cmdSetProperty, "", res.Stderr, nil))
	}
	return nil
}

// ControlVM changes the state of a running VM.
func (c *Client) ControlVM(ctx context.Context, vm string, state ControlState) error {
	if err := checkAllowed(cmdControlVM, "state", state, controlStates); err != nil {
		return err
	}
	res := c.execute(ctx, cmdControlVM, vm, string(state))
	if res.Stderr != "" && !isDone(res.Stderr) {
		return c.classified(cmdControlVM, vm, res.Stderr)
	}
	return nil
}

// StartVM starts a powered off or saved VM. VERR_INTERNAL_ERROR is retried
// with the executor's retry settings.
func (c *Client) StartVM(ctx context.Context, vm string, startType StartType) error {
	if err := checkAllowed(cmdStartVM, "type", startType, startTypes); err != nil {
		return err
	}

	cfg := c.exec.Config()
	var res Result
	for attempt := 1; attempt <= cfg.RetryCount; attempt++ {
		res = c.execute(ctx, cmdStartVM, vm, "--type", string(startType))
		if res.Stderr == "" || isDone(res.Stderr) {
			return nil
		}
		if !strings.Contains(res.Stderr, signatureInternalError) {
			return c.classified(cmdStartVM, vm, res.Stderr)
		}
		if attempt < cfg.RetryCount {
			logger.Get().Warnf("Failed to start %s, trying again", vm)
			c.exec.sleep(ctx, cfg.RetryInterval)
		}
	}
	return c.fail(cmdStartVM, newError(cmdStartVM, vm, res.Stderr, nil))
}

// ModifyVM changes a general setting of a registered VM.
func (c *Client) ModifyVM(ctx context.Context, vm string, field VMField, values ...string) error {
	if err := checkAllowed(cmdModifyVM, "field", field, vmFields); err != nil {
		return err
	}
	args := append([]string{vm, string(field)}, values...)
	if res := c.execute(ctx, cmdModifyVM, args...); res.Stderr != "" {
		return c.classified(cmdModifyVM, vm, res.Stderr)
	}
	return nil
}

// ModifyNetwork changes a setting of the NIC with the given index.
func (c *Client) ModifyNetwork(ctx context.Context, vm string, field NICField, index int, value string) error {
	if err := checkAllowed(methodModifyNetwork, "field", field, nicFields); err != nil {
		return err
	}
	if res := c.execute(ctx, cmdModifyVM, vm, field.Flag(index), value); res.Stderr != "" {
		return c.classified(methodModifyNetwork, vm, res.Stderr)
	}
	return nil
}

// ModifyVRDE changes a remote display setting.
func (c *Client) ModifyVRDE(ctx context.Context, vm string, field VRDEField, value string) error {
	if err := checkAllowed(methodModifyVRDE, "field", field, vrdeFields); err != nil {
		return err
	}
	if res := c.execute(ctx, cmdModifyVM, vm, string(field), value); res.Stderr != "" {
		return c.classified(methodModifyVRDE, vm, res.Stderr)
	}
	return nil
}

// List returns the raw output of "list <kind>".
func (c *Client) List(ctx context.Context, kind ListKind) (string, error) {
	if err := checkAllowed(cmdList, "information", kind, listKinds); err != nil {
		return "", err
	}
	res := c.execute(ctx, cmdList, string(kind))
	if res.Stderr != "" {
		return "", c.fail(cmdList, newError(cmdList, "", res.Stderr, nil))
	}
	return res.Stdout, nil
}

// ShowVMInfo returns the machine readable configuration of vm.
func (c *Client) ShowVMInfo(ctx context.Context, vm string) (parser.VMInfo, error) {
	res := c.execute(ctx, cmdShowVMInfo, vm, "--machinereadable")
	if res.Stderr != "" {
		return nil, c.classified(cmdShowVMInfo, vm, res.Stderr)
	}
	return parser.ParseVMInfo(res.Stdout), nil
}

// CreateVM creates and optionally registers a VM definition and returns its
// UUID.
func (c *Client) CreateVM(ctx context.Context, name, baseFolder string, register bool) (string, error) {
	args := []string{"--name", name}
	if baseFolder != "" {
		args = append(args, "--basefolder", baseFolder)
	}
	if register {
		args = append(args, "--register")
	}

	res := c.execute(ctx, cmdCreateVM, args...)
	if res.Stderr != "" {
		if strings.Contains(res.Stderr, signatureFileError) {
			path := name
			if baseFolder != "" {
				path = filepath.Join(baseFolder, name)
			}
			return "", c.fail(cmdCreateVM, newError(cmdCreateVM, name, path, ErrDestinationExists))
		}
		return "", c.fail(cmdCreateVM, newError(cmdCreateVM, name, res.Stderr, nil))
	}
	return parser.ParseCreatedUUID(res.Stdout), nil
}

// UnregisterVM unregisters vm, deleting its files when deleteFiles is set.
func (c *Client) UnregisterVM(ctx context.Context, vm string, deleteFiles bool) error {
	args := []string{vm}
	if deleteFiles {
		args = append(args, "--delete")
	}
	res := c.execute(ctx, cmdUnregisterVM, args...)
	if res.Stderr != "" && !isDone(res.Stderr) {
		return c.classified(cmdUnregisterVM, vm, res.Stderr)
	}
	return nil
}

// TakeSnapshot snapshots vm. A live snapshot does not pause the VM.
func (c *Client) TakeSnapshot(ctx context.Context, vm, name, description string, live bool) error {
	args := []string{vm, "take", name}
	if description != "" {
		args = append(args, "--description", description)
	}
	if live {
		args = append(args, "--live")
	}
	res := c.execute(ctx, cmdSnapshot, args...)
	if res.Stderr != "" && !isDone(res.Stderr) {
		return c.fail(cmdSnapshot, newError(cmdSnapshot, vm, res.Stderr, nil))
	}
	return nil
}

// DeleteSnapshot deletes a snapshot by name or UUID.
func (c *Client) DeleteSnapshot(ctx context.Context, vm, name string) error {
	res := c.execute(ctx, cmdSnapshot, vm, "delete", name)
	if res.Stderr != "" && !isDone(res.Stderr) {
		return c.fail(cmdSnapshot, newError(cmdSnapshot, vm, res.Stderr, nil))
	}
	return nil
}
