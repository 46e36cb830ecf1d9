package vmops

import (
	"context"

	"github.com/jbweber/vboxdriver/internal/logger"
	"github.com/jbweber/vboxdriver/internal/status"
	"github.com/jbweber/vboxdriver/internal/vboxmanage"
)

// Destroy removes the VM named vm from the hypervisor.
//
// This orchestrates the destruction process:
//  1. Check the VM exists (a missing VM is not an error)
//  2. Power it off unless it is already off or saved
//  3. Unregister it, deleting its media with destroyDisks
//  4. Remove the instance directory with destroyDisks
func (o *Operations) Destroy(ctx context.Context, vm string, destroyDisks bool) error {
	logger.Get().Infof("Got request to destroy instance %s", vm)
	exists, err := o.InstanceExists(ctx, vm)
	if err != nil {
		return err
	}
	if !exists {
		logger.Get().Warnf("Warning: instance %s does not exist", vm)
		return nil
	}

	state, err := o.utils.PowerState(ctx, vm)
	if err != nil {
		return err
	}
	if state != status.VMStatePowerOff && state != status.VMStateSaved {
		logger.Get().Infof("Powering off %s (state %s)...", vm, state)
		if err := o.vbox.ControlVM(ctx, vm, vboxmanage.ControlPowerOff); err != nil {
			return err
		}
	}

	if err := o.vbox.UnregisterVM(ctx, vm, destroyDisks); err != nil {
		logger.Get().Errorf("Failed to destroy instance %s: %v", vm, err)
		return err
	}
	if destroyDisks {
		if err := o.paths.Delete(o.paths.InstanceBasepath(vm)); err != nil {
			logger.Get().Errorf("Failed to destroy instance %s: %v", vm, err)
			return err
		}
	}
	return nil
}
