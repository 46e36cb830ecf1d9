package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/jbweber/vboxdriver/internal/config"
	"github.com/jbweber/vboxdriver/internal/console"
	"github.com/jbweber/vboxdriver/internal/hostops"
	"github.com/jbweber/vboxdriver/internal/logger"
	"github.com/jbweber/vboxdriver/internal/status"
	"github.com/jbweber/vboxdriver/internal/vmutil"
	"github.com/jbweber/vboxdriver/internal/volume"
)

// InitHost checks the VirtualBox version, drops disks whose files are gone
// and selects the VRDE extension pack.
func (d *Driver) InitHost(ctx context.Context) error {
	if err := d.host.CheckVersion(ctx); err != nil {
		return err
	}
	if _, err := d.console.SetupHost(ctx); err != nil {
		logger.Get().Warnf("Warning: failed to set up remote display: %v", err)
	}
	return d.vms.InitHost(ctx)
}

// Version returns the VirtualBox version.
func (d *Driver) Version(ctx context.Context) (string, error) {
	return d.host.Version(ctx)
}

// Resources returns the capacity of the host.
func (d *Driver) Resources(ctx context.Context) (hostops.Resources, error) {
	return d.host.Resources(ctx)
}

// AvailableNodes returns the nodes managed by this driver: the host itself.
func (d *Driver) AvailableNodes() []string {
	return []string{d.hostname}
}

// HostIP returns the address of this host.
func (d *Driver) HostIP() string {
	return d.hostIP
}

// ListInstances returns the names of every registered VM.
func (d *Driver) ListInstances(ctx context.Context) ([]string, error) {
	return d.vms.ListInstances(ctx)
}

// ListInstanceUUIDs returns the UUIDs of every registered VM.
func (d *Driver) ListInstanceUUIDs(ctx context.Context) ([]string, error) {
	return d.vms.ListInstanceUUIDs(ctx)
}

// InstanceExists reports whether a VM named name is registered.
func (d *Driver) InstanceExists(ctx context.Context, name string) (bool, error) {
	return d.vms.InstanceExists(ctx, name)
}

// GetInfo returns the state of the VM named name.
func (d *Driver) GetInfo(ctx context.Context, name string) (vmutil.Info, error) {
	return d.vms.GetInfo(ctx, name)
}

// Spawn creates inst, enables its remote display and starts it.
func (d *Driver) Spawn(ctx context.Context, inst *config.Instance) error {
	if err := d.vms.Spawn(ctx, inst); err != nil {
		return err
	}
	d.console.PrepareInstance(ctx, inst)
	return d.vms.PowerOn(ctx, inst.Name)
}

// Destroy releases the console port of the VM named name and destroys it.
func (d *Driver) Destroy(ctx context.Context, name string, destroyDisks bool) error {
	d.console.Cleanup(ctx, name)
	return d.vms.Destroy(ctx, name, destroyDisks)
}

// PowerOn enables the remote display of inst and starts it.
func (d *Driver) PowerOn(ctx context.Context, inst *config.Instance) error {
	d.console.PrepareInstance(ctx, inst)
	return d.vms.PowerOn(ctx, inst.Name)
}

// PowerOff stops the VM named name, softly when timeout is set, and
// releases its console port.
func (d *Driver) PowerOff(ctx context.Context, name string, timeout, retryInterval time.Duration) error {
	if err := d.vms.PowerOff(ctx, name, timeout, retryInterval); err != nil {
		return err
	}
	d.console.Cleanup(ctx, name)
	return nil
}

func (d *Driver) Pause(ctx context.Context, name string) error {
	return d.vms.Pause(ctx, name)
}

func (d *Driver) Unpause(ctx context.Context, name string) error {
	return d.vms.Unpause(ctx, name)
}

func (d *Driver) Suspend(ctx context.Context, name string) error {
	return d.vms.Suspend(ctx, name)
}

func (d *Driver) Resume(ctx context.Context, name string) error {
	return d.vms.Resume(ctx, name)
}

// Reboot restarts the VM named name. A soft reboot falls back to a reset
// when the guest does not shut down.
func (d *Driver) Reboot(ctx context.Context, name string, soft bool) error {
	return d.vms.Reboot(ctx, name, soft)
}

// Snapshot uploads the root disk of the VM named name as image imageID.
func (d *Driver) Snapshot(ctx context.Context, name, imageID string, report status.TaskStateFunc) error {
	return d.snapshots.Snapshot(ctx, name, imageID, report)
}

// VNCConsole returns the VNC console of the VM named name.
func (d *Driver) VNCConsole(ctx context.Context, name string) (console.Info, error) {
	return d.console.VNCConsole(ctx, name)
}

// RDPConsole returns the RDP console of the VM named name.
func (d *Driver) RDPConsole(ctx context.Context, name string) (console.Info, error) {
	return d.console.RDPConsole(ctx, name)
}

// AttachVolume connects a volume to the VM named name.
func (d *Driver) AttachVolume(ctx context.Context, name string, conn config.ConnectionInfo) error {
	return d.volumes.AttachVolume(ctx, name, conn, false)
}

// DetachVolume disconnects a volume from the VM named name.
func (d *Driver) DetachVolume(ctx context.Context, name string, conn config.ConnectionInfo) error {
	return d.volumes.DetachVolume(ctx, name, conn)
}

// VolumeConnector describes this host to a block storage service.
func (d *Driver) VolumeConnector() volume.Connector {
	return d.volumes.Connector()
}

// MigrateDiskAndPowerOff releases the console port of inst, powers it off
// and moves its disks aside for a resize to flavor.
func (d *Driver) MigrateDiskAndPowerOff(ctx context.Context, inst *config.Instance, dest string, flavor *config.Flavor, timeout, retryInterval time.Duration) error {
	d.console.Cleanup(ctx, inst.Name)
	return d.migrations.MigrateDiskAndPowerOff(ctx, inst, dest, flavor, timeout, retryInterval)
}

// FinishMigration recreates inst from the migrated disks and starts it when
// powerOn is set.
func (d *Driver) FinishMigration(ctx context.Context, inst *config.Instance, resize, powerOn bool) error {
	if err := d.migrations.FinishMigration(ctx, inst, resize); err != nil {
		return err
	}
	if !powerOn {
		return nil
	}
	return d.PowerOn(ctx, inst)
}

// FinishRevertMigration recreates inst from the disks kept before the
// migration and starts it when powerOn is set.
func (d *Driver) FinishRevertMigration(ctx context.Context, inst *config.Instance, powerOn bool) error {
	if err := d.migrations.FinishRevertMigration(ctx, inst); err != nil {
		return err
	}
	if !powerOn {
		return nil
	}
	return d.PowerOn(ctx, inst)
}

// RevertMigration destroys the migrated VM with its disks and restores the
// instance as it was before the migration.
func (d *Driver) RevertMigration(ctx context.Context, inst *config.Instance, powerOn bool) error {
	if err := d.Destroy(ctx, inst.Name, true); err != nil {
		return fmt.Errorf("failed to destroy migrated instance %s: %w", inst.Name, err)
	}
	return d.FinishRevertMigration(ctx, inst, powerOn)
}

// ConfirmMigration removes the disks kept for a revert.
func (d *Driver) ConfirmMigration(ctx context.Context, inst *config.Instance) error {
	return d.migrations.ConfirmMigration(ctx, inst)
}
