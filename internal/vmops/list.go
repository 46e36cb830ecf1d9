package vmops

import (
	"context"

	"github.com/jbweber/vboxdriver/internal/logger"
	"github.com/jbweber/vboxdriver/internal/parser"
	"github.com/jbweber/vboxdriver/internal/vboxmanage"
	"github.com/jbweber/vboxdriver/internal/vmutil"
)

// InitHost closes every inaccessible registered disk whose file is gone.
func (o *Operations) InitHost(ctx context.Context) error {
	disks, err := o.disks.HardDisks(ctx)
	if err != nil {
		return err
	}
	for uuid, disk := range disks {
		if disk.State != parser.DiskStateInaccessible || disk.Path == "" {
			continue
		}
		exists, err := o.paths.Exists(disk.Path)
		if err != nil || exists {
			continue
		}
		logger.Get().Infof("Remove inaccessible disk: %s (%s)", uuid, disk.Path)
		if err := o.vbox.CloseMedium(ctx, vboxmanage.MediumDisk, uuid, false); err != nil {
			return err
		}
	}
	return nil
}

// ListVMs returns every VM registered with VirtualBox.
func (o *Operations) ListVMs(ctx context.Context) ([]parser.VMEntry, error) {
	out, err := o.vbox.List(ctx, vboxmanage.ListVMs)
	if err != nil {
		return nil, err
	}
	return parser.ParseVMList(out), nil
}

// ListInstances returns the names of every registered VM.
func (o *Operations) ListInstances(ctx context.Context) ([]string, error) {
	vms, err := o.ListVMs(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(vms))
	for _, vm := range vms {
		names = append(names, vm.Name)
	}
	return names, nil
}

// ListInstanceUUIDs returns the UUIDs of every registered VM.
func (o *Operations) ListInstanceUUIDs(ctx context.Context) ([]string, error) {
	vms, err := o.ListVMs(ctx)
	if err != nil {
		return nil, err
	}
	uuids := make([]string, 0, len(vms))
	for _, vm := range vms {
		uuids = append(uuids, vm.UUID)
	}
	return uuids, nil
}

// InstanceExists reports whether a VM named name is registered.
func (o *Operations) InstanceExists(ctx context.Context, name string) (bool, error) {
	vms, err := o.ListVMs(ctx)
	if err != nil {
		return false, err
	}
	for _, vm := range vms {
		if vm.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// GetInfo returns the current status of vm.
func (o *Operations) GetInfo(ctx context.Context, vm string) (vmutil.Info, error) {
	return o.utils.GetInfo(ctx, vm)
}
