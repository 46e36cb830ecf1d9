package vmops

import (
	"context"
	"time"

	"github.com/jbweber/vboxdriver/internal/config"
	"github.com/jbweber/vboxdriver/internal/parser"
	"github.com/jbweber/vboxdriver/internal/vboxmanage"
	"github.com/jbweber/vboxdriver/internal/vmutil"
)

// vboxClient defines the VBoxManage requests needed for VM management.
//
// In production, this is satisfied by *vboxmanage.Client.
// In tests, this is a *vboxmanage.Client over a scripted runner.
type vboxClient interface {
	// List returns the raw output of "list <kind>"
	List(ctx context.Context, kind vboxmanage.ListKind) (string, error)

	// ShowVMInfo returns the machine readable configuration of a VM
	ShowVMInfo(ctx context.Context, vm string) (parser.VMInfo, error)

	// CreateVM creates and registers a VM definition
	CreateVM(ctx context.Context, name, baseFolder string, register bool) (string, error)

	// UnregisterVM unregisters a VM, optionally deleting its files
	UnregisterVM(ctx context.Context, vm string, deleteFiles bool) error

	// ControlVM changes the state of a running VM
	ControlVM(ctx context.Context, vm string, state vboxmanage.ControlState) error

	// StartVM starts a powered off or saved VM
	StartVM(ctx context.Context, vm string, startType vboxmanage.StartType) error

	// ModifyNetwork changes a setting of one NIC
	ModifyNetwork(ctx context.Context, vm string, field vboxmanage.NICField, index int, value string) error

	// CreateHD creates a disk image
	CreateHD(ctx context.Context, opts vboxmanage.CreateHDOptions) (string, error)

	// CloneHD copies a disk image
	CloneHD(ctx context.Context, src, dst string, opts vboxmanage.CloneHDOptions) error

	// ModifyHD changes a property of a disk image
	ModifyHD(ctx context.Context, filename string, field vboxmanage.HDField, value string) error

	// CloseMedium unregisters a medium
	CloseMedium(ctx context.Context, kind vboxmanage.MediumKind, path string, deleteFile bool) error
}

// vmUtils defines the VM helpers used by the operations.
//
// In production, this is satisfied by *vmutil.Utils.
type vmUtils interface {
	PowerState(ctx context.Context, vm string) (string, error)
	GetInfo(ctx context.Context, vm string) (vmutil.Info, error)
	SoftShutdown(ctx context.Context, vm string, timeout, retryInterval time.Duration) (bool, error)
	SetOSType(ctx context.Context, vm, osType string) error
	SetMemory(ctx context.Context, vm string, memoryMB int) error
	SetCPUs(ctx context.Context, vm string, vcpus int) error
	SetStorageController(ctx context.Context, vm string, bus vboxmanage.SystemBus) error
	UpdateDescription(ctx context.Context, vm string, updates map[string]any) error
}

// diskResolver defines the disk metadata queries used by the operations.
//
// In production, this is satisfied by *vhd.Resolver.
type diskResolver interface {
	HardDisks(ctx context.Context) (map[string]parser.DiskRecord, error)
	DiskInfo(ctx context.Context, disk string) (parser.DiskRecord, error)
	ImageType(ctx context.Context, path string) (vboxmanage.DiskFormat, error)
}

// imageCache resolves image references to cached base disks.
//
// In production, this is satisfied by *imagecache.Cache.
type imageCache interface {
	Get(ctx context.Context, imageRef string) (string, error)
}

// volumeOperations attaches disks and volumes to controller slots.
//
// In production, this is satisfied by *volume.Operations.
type volumeOperations interface {
	AttachStorage(ctx context.Context, vm string, a vboxmanage.Attachment) error
	AttachVolumes(ctx context.Context, vm string, mapping []config.BlockDeviceMapping, ebsRoot bool) error
}
