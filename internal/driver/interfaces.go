package driver

import (
	"context"
	"time"

	"github.com/jbweber/vboxdriver/internal/config"
	"github.com/jbweber/vboxdriver/internal/console"
	"github.com/jbweber/vboxdriver/internal/hostops"
	"github.com/jbweber/vboxdriver/internal/status"
	"github.com/jbweber/vboxdriver/internal/vmutil"
	"github.com/jbweber/vboxdriver/internal/volume"
)

// vmOperations defines the VM lifecycle calls the driver delegates.
//
// In production, this is satisfied by *vmops.Operations.
// In tests, this is satisfied by mock implementations.
type vmOperations interface {
	// InitHost unregisters disks whose files are gone
	InitHost(ctx context.Context) error

	// Spawn creates the VM, its disks and its storage layout
	Spawn(ctx context.Context, inst *config.Instance) error

	// Destroy powers off and unregisters the VM
	Destroy(ctx context.Context, vm string, destroyDisks bool) error

	PowerOn(ctx context.Context, vm string) error
	PowerOff(ctx context.Context, vm string, timeout, retryInterval time.Duration) error
	Pause(ctx context.Context, vm string) error
	Unpause(ctx context.Context, vm string) error
	Suspend(ctx context.Context, vm string) error
	Resume(ctx context.Context, vm string) error
	Reboot(ctx context.Context, vm string, soft bool) error

	ListInstances(ctx context.Context) ([]string, error)
	ListInstanceUUIDs(ctx context.Context) ([]string, error)
	InstanceExists(ctx context.Context, name string) (bool, error)
	GetInfo(ctx context.Context, vm string) (vmutil.Info, error)
}

// consoleManager defines the remote display calls.
//
// In production, this is satisfied by *console.Manager.
type consoleManager interface {
	SetupHost(ctx context.Context) (bool, error)
	PrepareInstance(ctx context.Context, inst *config.Instance)
	Cleanup(ctx context.Context, name string)
	VNCConsole(ctx context.Context, name string) (console.Info, error)
	RDPConsole(ctx context.Context, name string) (console.Info, error)
}

// migrationOperations defines the resize workflow.
//
// In production, this is satisfied by *migration.Operations.
type migrationOperations interface {
	MigrateDiskAndPowerOff(ctx context.Context, inst *config.Instance, dest string, flavor *config.Flavor, timeout, retryInterval time.Duration) error
	FinishMigration(ctx context.Context, inst *config.Instance, resize bool) error
	FinishRevertMigration(ctx context.Context, inst *config.Instance) error
	ConfirmMigration(ctx context.Context, inst *config.Instance) error
}

// snapshotOperations is satisfied by *snapshot.Operations.
type snapshotOperations interface {
	Snapshot(ctx context.Context, vm, imageID string, report status.TaskStateFunc) error
}

// volumeOperations is satisfied by *volume.Operations.
type volumeOperations interface {
	AttachVolume(ctx context.Context, vm string, conn config.ConnectionInfo, ebsRoot bool) error
	DetachVolume(ctx context.Context, vm string, conn config.ConnectionInfo) error
	Connector() volume.Connector
}

// hostOperations is satisfied by *hostops.Host.
type hostOperations interface {
	CheckVersion(ctx context.Context) error
	Version(ctx context.Context) (string, error)
	Resources(ctx context.Context) (hostops.Resources, error)
}
