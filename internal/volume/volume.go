// Package volume attaches block storage to instances. Volumes are handled
// by a driver chosen from the driver_volume_type of their connection info;
// iSCSI is the only driver.
package volume

import (
	"context"
	"errors"
	"fmt"

	"github.com/jbweber/vboxdriver/internal/config"
	"github.com/jbweber/vboxdriver/internal/logger"
	"github.com/jbweber/vboxdriver/internal/naming"
	"github.com/jbweber/vboxdriver/internal/parser"
	"github.com/jbweber/vboxdriver/internal/vboxmanage"
)

// ErrVolumeDriverNotFound means no driver handles the volume type.
var ErrVolumeDriverNotFound = errors.New("volume driver not found")

// vboxClient is the subset of VBoxManage requests used for volumes.
//
// In production, this is satisfied by *vboxmanage.Client.
type vboxClient interface {
	StorageAttach(ctx context.Context, vm string, a vboxmanage.Attachment) error
	AttachISCSI(ctx context.Context, vm, controller string, port, device int, target vboxmanage.ISCSITarget, initiator string) error
	CloseMedium(ctx context.Context, kind vboxmanage.MediumKind, path string, deleteFile bool) error
}

// diskResolver looks up controller slots and registered disks.
//
// In production, this is satisfied by *vhd.Resolver.
type diskResolver interface {
	AvailableAttachPoint(ctx context.Context, vm, controller string) (parser.AttachPoint, error)
	AttachPoint(ctx context.Context, vm, controller, diskUUID string) (parser.AttachPoint, bool, error)
	HardDisks(ctx context.Context) (map[string]parser.DiskRecord, error)
}

// Driver attaches and detaches one type of volume.
type Driver interface {
	// Attach connects the volume to vm. An EBS root volume goes to the
	// first SATA slot.
	Attach(ctx context.Context, vm string, conn config.ConnectionInfo, ebsRoot bool) error
	// Detach disconnects the volume from vm and unregisters it.
	Detach(ctx context.Context, vm string, conn config.ConnectionInfo) error
}

// Connector describes this host to a block storage service.
type Connector struct {
	IP        string `json:"ip" yaml:"ip"`
	Host      string `json:"host" yaml:"host"`
	Initiator string `json:"initiator" yaml:"initiator"`
}

// Operations dispatches volume requests to drivers.
type Operations struct {
	vbox     vboxClient
	drivers  map[string]Driver
	myIP     string
	hostname string
}

// New creates Operations with the iSCSI driver registered.
func New(vbox vboxClient, disks diskResolver, myIP, hostname string) *Operations {
	return &Operations{
		vbox: vbox,
		drivers: map[string]Driver{
			config.VolumeTypeISCSI: NewISCSIDriver(vbox, disks, hostname),
		},
		myIP:     myIP,
		hostname: hostname,
	}
}

// Driver returns the driver for conn.
func (o *Operations) Driver(conn config.ConnectionInfo) (Driver, error) {
	d, ok := o.drivers[conn.DriverVolumeType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrVolumeDriverNotFound, conn.DriverVolumeType)
	}
	logger.Get().Debugf("The volume driver was found: %s", conn.DriverVolumeType)
	return d, nil
}

// Connector returns the connector of this host.
func (o *Operations) Connector() Connector {
	c := Connector{
		IP:        o.myIP,
		Host:      o.hostname,
		Initiator: naming.ISCSIInitiator(o.hostname),
	}
	logger.Get().Debugf("Volume connector: %+v", c)
	return c
}

// AttachVolumes attaches every mapped volume to vm. With ebsRoot the first
// volume is the root disk.
func (o *Operations) AttachVolumes(ctx context.Context, vm string, mapping []config.BlockDeviceMapping, ebsRoot bool) error {
	if ebsRoot {
		if len(mapping) == 0 {
			return fmt.Errorf("instance %s boots from a volume but has no volume mapping", vm)
		}
		if err := o.AttachVolume(ctx, vm, mapping[0].ConnectionInfo, true); err != nil {
			return err
		}
		mapping = mapping[1:]
	}
	for _, m := range mapping {
		if err := o.AttachVolume(ctx, vm, m.ConnectionInfo, false); err != nil {
			return err
		}
	}
	return nil
}

// AttachVolume attaches one volume using its driver.
func (o *Operations) AttachVolume(ctx context.Context, vm string, conn config.ConnectionInfo, ebsRoot bool) error {
	d, err := o.Driver(conn)
	if err != nil {
		return err
	}
	return d.Attach(ctx, vm, conn, ebsRoot)
}

// DetachVolume detaches one volume using its driver.
func (o *Operations) DetachVolume(ctx context.Context, vm string, conn config.ConnectionInfo) error {
	d, err := o.Driver(conn)
	if err != nil {
		return err
	}
	return d.Detach(ctx, vm, conn)
}

// AttachStorage places a medium in a controller slot of vm.
func (o *Operations) AttachStorage(ctx context.Context, vm string, a vboxmanage.Attachment) error {
	return o.vbox.StorageAttach(ctx, vm, a)
}
