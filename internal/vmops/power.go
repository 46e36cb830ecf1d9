package vmops

import (
	"context"
	"time"

	"github.com/jbweber/vboxdriver/internal/logger"
	"github.com/jbweber/vboxdriver/internal/vboxmanage"
)

// Pause puts vm on hold without changing its state for good.
func (o *Operations) Pause(ctx context.Context, vm string) error {
	logger.Get().Debugf("Pause instance %s", vm)
	return o.vbox.ControlVM(ctx, vm, vboxmanage.ControlPause)
}

// Unpause undoes Pause.
func (o *Operations) Unpause(ctx context.Context, vm string) error {
	logger.Get().Debugf("Unpause instance %s", vm)
	return o.vbox.ControlVM(ctx, vm, vboxmanage.ControlResume)
}

// Suspend saves the state of vm to disk and stops it.
func (o *Operations) Suspend(ctx context.Context, vm string) error {
	logger.Get().Debugf("Suspend instance %s", vm)
	return o.vbox.ControlVM(ctx, vm, vboxmanage.ControlSaveState)
}

// Resume starts a suspended vm.
func (o *Operations) Resume(ctx context.Context, vm string) error {
	logger.Get().Debugf("Resume instance %s", vm)
	return o.PowerOn(ctx, vm)
}

// PowerOn starts vm headless.
func (o *Operations) PowerOn(ctx context.Context, vm string) error {
	logger.Get().Debugf("Power on instance %s", vm)
	return o.vbox.StartVM(ctx, vm, vboxmanage.StartHeadless)
}

// PowerOff stops vm. With a positive timeout the guest is first asked to
// shut down through ACPI; the VM is powered off hard when that fails.
func (o *Operations) PowerOff(ctx context.Context, vm string, timeout, retryInterval time.Duration) error {
	logger.Get().Debugf("Power off instance %s", vm)
	if timeout > 0 {
		ok, err := o.utils.SoftShutdown(ctx, vm, timeout, retryInterval)
		switch {
		case err != nil:
			logger.Get().Debugf("Soft shutdown failed: %s: %v", vm, err)
		case ok:
			logger.Get().Infof("Soft shutdown of %s succeeded", vm)
			return nil
		}
	}
	return o.vbox.ControlVM(ctx, vm, vboxmanage.ControlPowerOff)
}

// Reboot restarts vm. A soft reboot shuts the guest down through ACPI and
// starts it again; when that fails, or for a hard reboot, the VM is reset.
func (o *Operations) Reboot(ctx context.Context, vm string, soft bool) error {
	if soft {
		ok, err := o.utils.SoftShutdown(ctx, vm, 0, 0)
		if err != nil {
			return err
		}
		if ok {
			return o.PowerOn(ctx, vm)
		}
	}
	return o.vbox.ControlVM(ctx, vm, vboxmanage.ControlReset)
}
