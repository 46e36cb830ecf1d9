package vboxmanage

import (
	"context"
	"strconv"
	"strings"
)

// DefaultISCSIPort is used when a target portal has no port.
const DefaultISCSIPort = "3260"

// Attachment places a medium in a controller slot.
type Attachment struct {
	Controller string
	Port       int
	Device     int
	Type       DriveType
	// Medium is a path, a UUID, MediumNone or MediumISCSI.
	Medium string
}

// ISCSITarget identifies an iSCSI LUN.
type ISCSITarget struct {
	// Portal is "host" or "host:port".
	Portal   string
	IQN      string
	LUN      int
	Username string
	Password string
}

// SplitPortal returns the host and port of the portal.
func (t ISCSITarget) SplitPortal() (host, port string) {
	host, port, found := strings.Cut(t.Portal, ":")
	if !found || port == "" {
		return t.Portal, DefaultISCSIPort
	}
	return host, port
}

// StorageCtl adds a storage controller to vm.
func (c *Client) StorageCtl(ctx context.Context, vm, name string, bus SystemBus, chipset Chipset) error {
	if err := checkAllowed(cmdStorageCtl, "system_bus", bus, systemBuses); err != nil {
		return err
	}
	if err := checkAllowed(cmdStorageCtl, "controller", chipset, chipsets); err != nil {
		return err
	}
	res := c.execute(ctx, cmdStorageCtl, vm,
		"--name", name,
		"--add", string(bus),
		"--controller", string(chipset))
	if res.Stderr != "" {
		return c.fail(cmdStorageCtl, newError(cmdStorageCtl, vm, res.Stderr, nil))
	}
	return nil
}

// StorageAttach attaches, replaces or removes (MediumNone) a medium.
func (c *Client) StorageAttach(ctx context.Context, vm string, a Attachment) error {
	return c.storageAttach(ctx, vm, a)
}

// AttachISCSI attaches an iSCSI LUN as a hard disk.
func (c *Client) AttachISCSI(ctx context.Context, vm, controller string, port, device int, target ISCSITarget, initiator string) error {
	host, portalPort := target.SplitPortal()
	extra := []string{
		"--server", host,
		"--tport", portalPort,
		"--lun", strconv.Itoa(target.LUN),
		"--target", target.IQN,
		"--initiator", initiator,
	}
	if target.Username != "" && target.Password != "" {
		extra = append(extra, "--username", target.Username, "--password", target.Password)
	}

	return c.storageAttach(ctx, vm, Attachment{
		Controller: controller,
		Port:       port,
		Device:     device,
		Type:       DriveHDD,
		Medium:     MediumISCSI,
	}, extra...)
}

func (c *Client) storageAttach(ctx context.Context, vm string, a Attachment, extra ...string) error {
	if err := checkAllowed(cmdStorageAttach, "drive_type", a.Type, driveTypes); err != nil {
		return err
	}

	args := []string{vm,
		"--storagectl", a.Controller,
		"--port", strconv.Itoa(a.Port),
		"--device", strconv.Itoa(a.Device),
		"--type", string(a.Type),
		"--medium", a.Medium,
	}
	args = append(args, extra...)

	res := c.execute(ctx, cmdStorageAttach, args...)
	if res.Stderr == "" {
		return nil
	}
	if strings.Contains(res.Stderr, signatureInvalidArg) {
		return c.fail(cmdStorageAttach, newError(cmdStorageAttach, vm, res.Stderr, ErrInvalid))
	}
	return c.classified(cmdStorageAttach, vm, res.Stderr)
}
