// Package vhd answers questions about virtual disks and controller slots.
//
// The Resolver keeps no state: every query re-runs the underlying
// VBoxManage command and re-parses its output, so answers always reflect the
// hypervisor's current view.
package vhd

import (
	"context"
	"errors"
	"fmt"

	"github.com/jbweber/vboxdriver/internal/logger"
	"github.com/jbweber/vboxdriver/internal/parser"
	"github.com/jbweber/vboxdriver/internal/vboxmanage"
)

var (
	// ErrControllerNotFound means the VM has no controller with that name.
	ErrControllerNotFound = errors.New("storage controller not found")
	// ErrNoFreeAttachPoint means every slot on the controller is in use.
	ErrNoFreeAttachPoint = errors.New("exceeded the maximum number of slots")
	// ErrCannotResize means a disk would have to shrink.
	ErrCannotResize = errors.New("cannot resize a disk to a smaller size")
)

// vboxClient is the subset of VBoxManage requests the resolver issues.
//
// In production, this is satisfied by *vboxmanage.Client.
type vboxClient interface {
	ShowVMInfo(ctx context.Context, vm string) (parser.VMInfo, error)
	ShowHDInfo(ctx context.Context, disk string) (string, error)
	List(ctx context.Context, kind vboxmanage.ListKind) (string, error)
	SetHDUUID(ctx context.Context, disk string) error
}

// Resolver resolves disk records and attach points.
type Resolver struct {
	vbox vboxClient
}

// NewResolver creates a Resolver.
func NewResolver(vbox vboxClient) *Resolver {
	return &Resolver{vbox: vbox}
}

// Controllers returns the slots of every storage controller of vm, keyed by
// controller name.
func (r *Resolver) Controllers(ctx context.Context, vm string) (map[string]parser.Controller, error) {
	info, err := r.vbox.ShowVMInfo(ctx, vm)
	if err != nil {
		return nil, err
	}
	return ControllersFromInfo(info), nil
}

// ControllersFromInfo builds the controller map from already fetched VM info.
func ControllersFromInfo(info parser.VMInfo) map[string]parser.Controller {
	controllers := make(map[string]parser.Controller)
	for _, name := range parser.ControllerNames(info) {
		controllers[name] = parser.ControllerDisks(name, info)
	}
	return controllers
}

// AvailableAttachPoint returns the first slot of controller with no disk.
func (r *Resolver) AvailableAttachPoint(ctx context.Context, vm, controller string) (parser.AttachPoint, error) {
	controllers, err := r.Controllers(ctx, vm)
	if err != nil {
		return parser.AttachPoint{}, err
	}

	slots, ok := controllers[controller]
	if !ok || len(slots) == 0 {
		return parser.AttachPoint{}, fmt.Errorf("%w: %s on %s", ErrControllerNotFound, controller, vm)
	}

	for _, point := range slots.Points() {
		if slots[point].UUID == "" {
			return point, nil
		}
	}
	return parser.AttachPoint{}, fmt.Errorf("%w: %s on %s", ErrNoFreeAttachPoint, controller, vm)
}

// AttachPoint returns the slot of controller holding the disk with diskUUID.
// The boolean is false when the disk is not attached there.
func (r *Resolver) AttachPoint(ctx context.Context, vm, controller, diskUUID string) (parser.AttachPoint, bool, error) {
	info, err := r.vbox.ShowVMInfo(ctx, vm)
	if err != nil {
		return parser.AttachPoint{}, false, err
	}

	slots := parser.ControllerDisks(controller, info)
	for _, point := range slots.Points() {
		if slots[point].UUID == diskUUID {
			return point, true, nil
		}
	}
	return parser.AttachPoint{}, false, nil
}

// HardDisks returns every disk registered with VirtualBox keyed by UUID.
func (r *Resolver) HardDisks(ctx context.Context) (map[string]parser.DiskRecord, error) {
	out, err := r.vbox.List(ctx, vboxmanage.ListHDDs)
	if err != nil {
		return nil, err
	}
	return parser.ParseDiskList(out)
}

// DiskInfo returns the record of a disk given its path or UUID.
func (r *Resolver) DiskInfo(ctx context.Context, disk string) (parser.DiskRecord, error) {
	out, err := r.vbox.ShowHDInfo(ctx, disk)
	if err != nil {
		return parser.DiskRecord{}, err
	}
	return parser.ParseDiskInfo(out)
}

// ImageType returns the format of the disk at path. A disk VBoxManage cannot
// describe yields an empty format and no error; a described disk in an
// unsupported format yields vboxmanage.ErrInvalidDiskFormat.
func (r *Resolver) ImageType(ctx context.Context, path string) (vboxmanage.DiskFormat, error) {
	info, err := r.DiskInfo(ctx, path)
	if err != nil {
		if vboxmanage.IsManageError(err) {
			logger.Get().Debugf("Cannot read disk format of %s: %v", path, err)
			return "", nil
		}
		return "", err
	}
	return vboxmanage.ParseDiskFormat(info.Format)
}

// CheckDiskUUID assigns a new UUID to the disk at path when VBoxManage
// refuses to open it, which happens when a copied file collides with a
// registered disk.
func (r *Resolver) CheckDiskUUID(ctx context.Context, path string) error {
	_, err := r.vbox.ShowHDInfo(ctx, path)
	switch {
	case err == nil:
		logger.Get().Debugf("The disk %s appears to be available", path)
		return nil
	case errors.Is(err, vboxmanage.ErrInvalid):
		logger.Get().Debugf("The disk %s cannot be registered: %v", path, err)
	default:
		return err
	}

	logger.Get().Debugf("Assigning a new UUID to %s", path)
	return r.vbox.SetHDUUID(ctx, path)
}

// IsResizeRequired reports whether a disk must grow from oldSize to newSize.
// Shrinking is an error.
func IsResizeRequired(path string, oldSize, newSize int64) (bool, error) {
	switch {
	case newSize < oldSize:
		return false, fmt.Errorf("%w: %s is %d, requested %d", ErrCannotResize, path, oldSize, newSize)
	case newSize > oldSize:
		logger.Get().Debugf("Resizing disk %s to new size %d", path, newSize)
		return true, nil
	default:
		return false, nil
	}
}
