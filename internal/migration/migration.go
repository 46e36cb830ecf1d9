// Package migration implements resize and same-host migration.
//
// A migration copies the disks of a powered off instance into a staging
// directory, destroys the VM record and swaps the staging directory in
// place of the instance directory. The original directory is kept under a
// revert name until the migration is confirmed or reverted.
package migration

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/jbweber/vboxdriver/internal/config"
	"github.com/jbweber/vboxdriver/internal/logger"
	"github.com/jbweber/vboxdriver/internal/naming"
	"github.com/jbweber/vboxdriver/internal/parser"
	"github.com/jbweber/vboxdriver/internal/pathutil"
	"github.com/jbweber/vboxdriver/internal/vboxmanage"
	"github.com/jbweber/vboxdriver/internal/vhd"
)

const mib = 1024 * 1024

var (
	// ErrCrossHostMigration means the destination is not this host.
	ErrCrossHostMigration = errors.New("only resize on the same host is supported")
	// ErrResizeRollback means the new flavor would shrink the root disk.
	ErrResizeRollback = errors.New("cannot resize the root disk to a smaller size")
	// ErrRootDiskNotFound means the instance directory has no root disk.
	ErrRootDiskNotFound = errors.New("cannot find root disk")
)

// diskControllers are the controllers holding hard disks, root first.
var diskControllers = []string{
	vboxmanage.BusSATA.ControllerName(),
	vboxmanage.BusSCSI.ControllerName(),
}

// vboxClient is the subset of VBoxManage requests migration issues.
//
// In production, this is satisfied by *vboxmanage.Client.
type vboxClient interface {
	StorageAttach(ctx context.Context, vm string, a vboxmanage.Attachment) error
	CloseMedium(ctx context.Context, kind vboxmanage.MediumKind, path string, deleteFile bool) error
	CloneHD(ctx context.Context, src, dst string, opts vboxmanage.CloneHDOptions) error
	ModifyHD(ctx context.Context, filename string, field vboxmanage.HDField, value string) error
	SetHDParentUUID(ctx context.Context, disk, parentUUID string) error
}

// diskResolver is satisfied by *vhd.Resolver.
type diskResolver interface {
	Controllers(ctx context.Context, vm string) (map[string]parser.Controller, error)
	DiskInfo(ctx context.Context, disk string) (parser.DiskRecord, error)
	HardDisks(ctx context.Context) (map[string]parser.DiskRecord, error)
	CheckDiskUUID(ctx context.Context, path string) error
}

// vmOperations is satisfied by *vmops.Operations.
type vmOperations interface {
	PowerOff(ctx context.Context, vm string, timeout, retryInterval time.Duration) error
	Destroy(ctx context.Context, vm string, destroyDisks bool) error
	CreateInstance(ctx context.Context, inst *config.Instance, overwrite bool) error
	CreateEphemeralDisk(ctx context.Context, inst *config.Instance) (string, error)
	StorageSetup(ctx context.Context, inst *config.Instance, rootPath, ephemeralPath string) error
}

// imageCache is satisfied by *imagecache.Cache.
type imageCache interface {
	Get(ctx context.Context, imageRef string) (string, error)
}

// LocalAddrsFunc returns the addresses of this host.
type LocalAddrsFunc func() ([]string, error)

// Operations implements the migration workflow.
type Operations struct {
	vbox       vboxClient
	disks      diskResolver
	vms        vmOperations
	images     imageCache
	paths      *pathutil.Manager
	localAddrs LocalAddrsFunc
}

// New creates Operations.
func New(vbox vboxClient, disks diskResolver, vms vmOperations, images imageCache, paths *pathutil.Manager, localAddrs LocalAddrsFunc) *Operations {
	return &Operations{
		vbox:       vbox,
		disks:      disks,
		vms:        vms,
		images:     images,
		paths:      paths,
		localAddrs: localAddrs,
	}
}

// MigrateDiskAndPowerOff powers inst off and moves its disks into a new
// instance directory sized for flavor. The old directory is kept for
// revert.
func (o *Operations) MigrateDiskAndPowerOff(ctx context.Context, inst *config.Instance, dest string, flavor *config.Flavor, timeout, retryInterval time.Duration) error {
	logger.Get().Debugf("Migrate disk and power off %s to %s", inst.Name, dest)
	if err := o.vms.PowerOff(ctx, inst.Name, timeout, retryInterval); err != nil {
		return err
	}

	if flavor.RootGB < inst.RootGB {
		return fmt.Errorf("%w: current size %d GB, requested size %d GB",
			ErrResizeRollback, inst.RootGB, flavor.RootGB)
	}

	disks, err := o.DetachStorage(ctx, inst.Name)
	if err != nil {
		return err
	}
	if len(disks) == 0 {
		return nil
	}
	return o.migrateDiskFiles(ctx, inst, disks, dest)
}

// DetachStorage empties every hard disk slot of vm. iSCSI volumes are
// closed; the paths of the other disks are returned, root disk first.
func (o *Operations) DetachStorage(ctx context.Context, vm string) ([]string, error) {
	controllers, err := o.disks.Controllers(ctx, vm)
	if err != nil {
		return nil, err
	}

	var disks []string
	for _, name := range diskControllers {
		slots := controllers[name]
		for _, point := range slots.Points() {
			slot := slots[point]
			if slot.Path == "" {
				continue
			}

			logger.Get().Debugf("Trying to detach %s from %s: %d-%d", slot.Path, name, point.Port, point.Device)
			if err := o.vbox.StorageAttach(ctx, vm, vboxmanage.Attachment{
				Controller: name,
				Port:       point.Port,
				Device:     point.Device,
				Type:       vboxmanage.DriveHDD,
				Medium:     vboxmanage.MediumNone,
			}); err != nil {
				logger.Get().Warnf("Warning: failed to detach disk %s: %v", slot.Path, err)
			}

			if naming.IsISCSILocation(slot.Path) {
				logger.Get().Debugf("Trying to unregister %s", slot.Path)
				if err := o.vbox.CloseMedium(ctx, vboxmanage.MediumDisk, slot.Path, false); err != nil {
					return nil, err
				}
				continue
			}
			disks = append(disks, slot.Path)
		}
	}
	return disks, nil
}

// isLocal reports whether dest is one of the addresses of this host.
func (o *Operations) isLocal(dest string) (bool, error) {
	addrs, err := o.localAddrs()
	if err != nil {
		return false, err
	}
	logger.Get().Debugf("Destination %s, local addresses %v", dest, addrs)
	return slices.Contains(addrs, dest), nil
}

func (o *Operations) migrateDiskFiles(ctx context.Context, inst *config.Instance, disks []string, dest string) (err error) {
	local, err := o.isLocal(dest)
	if err != nil {
		return err
	}
	if !local {
		logger.Get().Warnf("Warning: only resize on the same host is supported")
		return fmt.Errorf("%w: %s", ErrCrossHostMigration, dest)
	}

	basepath := o.paths.InstanceBasepath(inst.Name)
	revert := o.paths.RevertDir(inst.Name)
	staged := o.paths.StagingDir(inst.Name)

	if err := o.paths.Delete(revert); err != nil {
		return err
	}
	if err := o.paths.Overwrite(staged); err != nil {
		return err
	}

	defer func() {
		if err == nil {
			return
		}
		if cerr := o.CleanupFailedMigration(ctx, basepath, staged, revert); cerr != nil {
			logger.Get().Errorf("Failed to clean up migration of %s: %v", inst.Name, cerr)
		}
	}()

	for i, disk := range disks {
		if err = o.migrateDisk(ctx, disk, staged, i == 0); err != nil {
			return err
		}
	}

	if err = o.vms.Destroy(ctx, inst.Name, false); err != nil {
		return err
	}
	if err = o.paths.Rename(basepath, revert); err != nil {
		return err
	}
	return o.paths.Rename(staged, basepath)
}

// migrateDisk copies disk into dir. Base disks are cloned so the copy gets
// a new UUID; differencing disks are copied as files and re-parented later.
func (o *Operations) migrateDisk(ctx context.Context, disk, dir string, root bool) error {
	info, err := o.disks.DiskInfo(ctx, disk)
	if err != nil {
		return err
	}
	format, err := vboxmanage.ParseDiskFormat(info.Format)
	if err != nil {
		return err
	}

	dst := filepath.Join(dir, filepath.Base(disk))
	if root {
		dst = filepath.Join(dir, naming.RootDiskName(format.Extension()))
	}
	logger.Get().Debugf("Migrating %s to %s", disk, dst)

	if info.IsBase() {
		return o.vbox.CloneHD(ctx, disk, dst, vboxmanage.CloneHDOptions{Format: format})
	}
	return o.paths.CopyFile(disk, dst)
}

// CleanupFailedMigration undoes a partial migration: the staged copy is
// removed and the revert directory, when present, is moved back to
// original, replacing whatever is there.
func (o *Operations) CleanupFailedMigration(ctx context.Context, original, staged, revert string) error {
	if ok, err := o.paths.Exists(staged); err != nil {
		return err
	} else if ok {
		if err := o.removeDir(ctx, staged); err != nil {
			return err
		}
	}

	ok, err := o.paths.Exists(revert)
	if err != nil || !ok {
		return err
	}
	if exists, err := o.paths.Exists(original); err != nil {
		return err
	} else if exists {
		logger.Get().Warnf("Warning: %s already exists, replacing it with %s", original, revert)
		if err := o.removeDir(ctx, original); err != nil {
			return err
		}
	}
	return o.paths.Rename(revert, original)
}

// removeDir unregisters and deletes every disk in dir, then dir itself.
func (o *Operations) removeDir(ctx context.Context, dir string) error {
	files, err := o.paths.ListFiles(dir)
	if err != nil {
		return err
	}
	for _, file := range files {
		logger.Get().Debugf("Trying to unregister %s", file)
		if err := o.vbox.CloseMedium(ctx, vboxmanage.MediumDisk, file, true); err != nil {
			logger.Get().Debugf("Remove file: %s", file)
			if err := o.paths.Delete(file); err != nil {
				return err
			}
		}
	}
	return o.paths.Delete(dir)
}

// FinishMigration completes a resize: the disks in the instance directory
// are checked, grown when resize is set, and attached to a recreated VM.
func (o *Operations) FinishMigration(ctx context.Context, inst *config.Instance, resize bool) error {
	logger.Get().Debugf("Finish migration of %s", inst.Name)

	var rootPath string
	if !inst.BootsFromVolume() {
		rootPath = o.paths.LookupRootDiskPath(inst.Name)
		if rootPath == "" {
			return fmt.Errorf("%w: %s", ErrRootDiskNotFound, inst.Name)
		}
		basePath, err := o.images.Get(ctx, inst.ImageRef)
		if err != nil {
			return err
		}
		if err := o.checkDisk(ctx, rootPath, basePath); err != nil {
			return err
		}
	}

	ephemeralPath := o.paths.LookupEphemeralDiskPath(inst.Name)
	if ephemeralPath == "" {
		var err error
		if ephemeralPath, err = o.vms.CreateEphemeralDisk(ctx, inst); err != nil {
			return err
		}
	}

	if resize {
		if err := o.resizeDisk(ctx, rootPath, int64(inst.RootGB)*1024); err != nil {
			return err
		}
		if err := o.resizeDisk(ctx, ephemeralPath, int64(inst.EphemeralGB)*1024); err != nil {
			return err
		}
	}

	if err := o.vms.CreateInstance(ctx, inst, false); err != nil {
		return err
	}
	return o.vms.StorageSetup(ctx, inst, rootPath, ephemeralPath)
}

// checkDisk makes a migrated disk usable: a UUID collision is resolved and
// a differencing disk whose parent is not registered is re-parented onto
// the cached base image.
func (o *Operations) checkDisk(ctx context.Context, disk, base string) error {
	parentUUID, err := o.parentUUID(ctx, disk)
	switch {
	case vboxmanage.IsManageError(err):
		logger.Get().Debugf("Cannot inspect %s: %v", disk, err)
	case err != nil:
		return err
	case parentUUID == "":
		return nil
	}

	registered, err := o.disks.HardDisks(ctx)
	if err != nil {
		return err
	}
	if _, ok := registered[parentUUID]; ok {
		return nil
	}

	parent, err := o.disks.DiskInfo(ctx, base)
	if err != nil {
		return err
	}
	logger.Get().Debugf("Setting parent of %s to %s", disk, parent.UUID)
	return o.vbox.SetHDParentUUID(ctx, disk, parent.UUID)
}

func (o *Operations) parentUUID(ctx context.Context, disk string) (string, error) {
	if err := o.disks.CheckDiskUUID(ctx, disk); err != nil {
		return "", err
	}
	info, err := o.disks.DiskInfo(ctx, disk)
	if err != nil {
		return "", err
	}
	return info.ParentUUID, nil
}

func (o *Operations) resizeDisk(ctx context.Context, path string, newSizeMB int64) error {
	if newSizeMB == 0 || path == "" {
		return nil
	}
	info, err := o.disks.DiskInfo(ctx, path)
	if err != nil {
		return err
	}
	resize, err := vhd.IsResizeRequired(path, info.Capacity/mib, newSizeMB)
	if err != nil || !resize {
		return err
	}
	return o.vbox.ModifyHD(ctx, path, vboxmanage.HDResize, vboxmanage.ResizeArg(newSizeMB))
}

// FinishRevertMigration moves the revert directory back in place and
// recreates the VM from it.
func (o *Operations) FinishRevertMigration(ctx context.Context, inst *config.Instance) error {
	logger.Get().Debugf("Finish revert migration of %s", inst.Name)
	if err := o.paths.Rename(o.paths.RevertDir(inst.Name), o.paths.InstanceBasepath(inst.Name)); err != nil {
		return err
	}
	if err := o.vms.CreateInstance(ctx, inst, false); err != nil {
		return err
	}

	var rootPath string
	if !inst.BootsFromVolume() {
		rootPath = o.paths.LookupRootDiskPath(inst.Name)
	}
	return o.vms.StorageSetup(ctx, inst, rootPath, o.paths.LookupEphemeralDiskPath(inst.Name))
}

// ConfirmMigration drops the revert directory of inst.
func (o *Operations) ConfirmMigration(ctx context.Context, inst *config.Instance) error {
	logger.Get().Debugf("Confirm migration of %s", inst.Name)
	return o.removeDir(ctx, o.paths.RevertDir(inst.Name))
}
