package volume

import (
	"context"
	"slices"
	"strconv"
	"strings"

	"github.com/jbweber/vboxdriver/internal/config"
	"github.com/jbweber/vboxdriver/internal/logger"
	"github.com/jbweber/vboxdriver/internal/naming"
	"github.com/jbweber/vboxdriver/internal/vboxmanage"
)

// ISCSIDriver attaches iSCSI LUNs through VirtualBox's built-in initiator.
type ISCSIDriver struct {
	vbox      vboxClient
	disks     diskResolver
	initiator string
}

var _ Driver = (*ISCSIDriver)(nil)

// NewISCSIDriver creates an ISCSIDriver whose initiator is named after
// hostname.
func NewISCSIDriver(vbox vboxClient, disks diskResolver, hostname string) *ISCSIDriver {
	return &ISCSIDriver{
		vbox:      vbox,
		disks:     disks,
		initiator: naming.ISCSIInitiator(hostname),
	}
}

// Initiator returns the iSCSI initiator name.
func (d *ISCSIDriver) Initiator() string {
	return d.initiator
}

// Attach implements Driver. The VM must be powered off.
func (d *ISCSIDriver) Attach(ctx context.Context, vm string, conn config.ConnectionInfo, ebsRoot bool) error {
	logger.Get().Debugf("Attach volume %s lun %d to %s", conn.Data.TargetIQN, conn.Data.TargetLUN, vm)

	controller := vboxmanage.BusSCSI.ControllerName()
	var port, device int
	if ebsRoot {
		controller = vboxmanage.BusSATA.ControllerName()
	} else {
		point, err := d.disks.AvailableAttachPoint(ctx, vm, controller)
		if err != nil {
			return err
		}
		port, device = point.Port, point.Device
	}

	target := vboxmanage.ISCSITarget{
		Portal:   conn.Data.TargetPortal,
		IQN:      conn.Data.TargetIQN,
		LUN:      conn.Data.TargetLUN,
		Username: conn.Data.AuthUsername,
		Password: conn.Data.AuthPassword,
	}
	if err := d.vbox.AttachISCSI(ctx, vm, controller, port, device, target, d.initiator); err != nil {
		logger.Get().Errorf("Unable to attach volume to instance %s: %v", vm, err)
		if detachErr := d.Detach(ctx, vm, conn); detachErr != nil {
			logger.Get().Warnf("Warning: failed to detach volume after failed attach: %v", detachErr)
		}
		return err
	}
	return nil
}

// Detach implements Driver. The VM must be powered off.
func (d *ISCSIDriver) Detach(ctx context.Context, vm string, conn config.ConnectionInfo) error {
	logger.Get().Debugf("Detach volume %s lun %d from %s", conn.Data.TargetIQN, conn.Data.TargetLUN, vm)

	volumeUUID, err := d.VolumeUUID(ctx, conn)
	if err != nil {
		return err
	}
	if volumeUUID == "" {
		logger.Get().Warnf("The volume %s lun %d is not registered", conn.Data.TargetIQN, conn.Data.TargetLUN)
		return nil
	}

	controller := vboxmanage.BusSCSI.ControllerName()
	point, found, err := d.disks.AttachPoint(ctx, vm, controller, volumeUUID)
	if err != nil || !found {
		logger.Get().Warnf("Fail to get attach point for %s", volumeUUID)
		return d.vbox.CloseMedium(ctx, vboxmanage.MediumDisk, volumeUUID, false)
	}

	err = d.vbox.StorageAttach(ctx, vm, vboxmanage.Attachment{
		Controller: controller,
		Port:       point.Port,
		Device:     point.Device,
		Type:       vboxmanage.DriveHDD,
		Medium:     vboxmanage.MediumNone,
	})
	if err == nil {
		err = d.vbox.CloseMedium(ctx, vboxmanage.MediumDisk, volumeUUID, false)
	}
	if err != nil {
		logger.Get().Errorf("Unable to detach volume from instance %s: %v", vm, err)
		return err
	}
	return nil
}

// VolumeUUID returns the UUID VirtualBox registered the volume under, or ""
// when it is not registered. iSCSI disks are located at
// "portal|target|lun"; the volume matches when its LUN, IQN and portal host
// all appear in that location.
func (d *ISCSIDriver) VolumeUUID(ctx context.Context, conn config.ConnectionInfo) (string, error) {
	host, _, _ := strings.Cut(conn.Data.TargetPortal, ":")
	want := []string{strconv.Itoa(conn.Data.TargetLUN), conn.Data.TargetIQN, host}

	disks, err := d.disks.HardDisks(ctx)
	if err != nil {
		return "", err
	}

	uuids := make([]string, 0, len(disks))
	for uuid := range disks {
		uuids = append(uuids, uuid)
	}
	slices.Sort(uuids)

	for _, uuid := range uuids {
		location := disks[uuid].Path
		if !naming.IsISCSILocation(location) {
			continue
		}
		parts := strings.Split(location, "|")
		if containsAll(parts, want) {
			return uuid, nil
		}
	}
	return "", nil
}

func containsAll(parts, want []string) bool {
	for _, w := range want {
		if !slices.Contains(parts, w) {
			return false
		}
	}
	return true
}
