// Package snapshot exports the disk of a running instance to the image
// catalog.
//
// A live snapshot freezes the root disk behind a differencing disk. The
// frozen disk, merged onto its base when it has one, is cloned into the
// export directory and uploaded. The live snapshot is always deleted
// afterwards.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jbweber/vboxdriver/internal/image"
	"github.com/jbweber/vboxdriver/internal/logger"
	"github.com/jbweber/vboxdriver/internal/naming"
	"github.com/jbweber/vboxdriver/internal/parser"
	"github.com/jbweber/vboxdriver/internal/pathutil"
	"github.com/jbweber/vboxdriver/internal/status"
	"github.com/jbweber/vboxdriver/internal/vboxmanage"
)

// ErrRootDiskNotFound means nothing is attached at the root disk slot.
var ErrRootDiskNotFound = errors.New("cannot get the root disk")

// vboxClient is the subset of VBoxManage requests a snapshot issues.
//
// In production, this is satisfied by *vboxmanage.Client.
type vboxClient interface {
	TakeSnapshot(ctx context.Context, vm, name, description string, live bool) error
	DeleteSnapshot(ctx context.Context, vm, name string) error
	CloneHD(ctx context.Context, src, dst string, opts vboxmanage.CloneHDOptions) error
	CloseMedium(ctx context.Context, kind vboxmanage.MediumKind, path string, deleteFile bool) error
}

// diskResolver is satisfied by *vhd.Resolver.
type diskResolver interface {
	DiskInfo(ctx context.Context, disk string) (parser.DiskRecord, error)
	ImageType(ctx context.Context, path string) (vboxmanage.DiskFormat, error)
}

// vmUtils is satisfied by *vmutil.Utils.
type vmUtils interface {
	RootDiskPath(ctx context.Context, vm string) string
}

// Operations takes and exports snapshots.
type Operations struct {
	vbox   vboxClient
	disks  diskResolver
	utils  vmUtils
	images image.Service
	paths  *pathutil.Manager
	now    func() time.Time
}

// New creates Operations.
func New(vbox vboxClient, disks diskResolver, utils vmUtils, images image.Service, paths *pathutil.Manager) *Operations {
	return &Operations{
		vbox:   vbox,
		disks:  disks,
		utils:  utils,
		images: images,
		paths:  paths,
		now:    time.Now,
	}
}

// Snapshot uploads the root disk of vm as image imageID. report receives
// the task state transitions and may be nil.
func (o *Operations) Snapshot(ctx context.Context, vm, imageID string, report status.TaskStateFunc) error {
	name := naming.SnapshotName(o.now())

	logger.Get().Infof("Taking live snapshot %s of %s...", name, vm)
	if err := o.vbox.TakeSnapshot(ctx, vm, name, "", true); err != nil {
		return fmt.Errorf("failed to take snapshot of %s: %w", vm, err)
	}
	defer func() {
		logger.Get().Debugf("Deleting snapshot %s of %s", name, vm)
		if err := o.vbox.DeleteSnapshot(ctx, vm, name); err != nil {
			logger.Get().Warnf("Warning: failed to delete snapshot %s of %s: %v", name, vm, err)
		}
	}()

	report.Report(status.TaskImagePendingUpload, "")

	exportDir := o.paths.ExportDir(vm)
	defer func() {
		if err := o.paths.Delete(exportDir); err != nil {
			logger.Get().Warnf("Warning: failed to remove export directory %s: %v", exportDir, err)
		}
	}()

	exportPath, err := o.ExportDisk(ctx, vm, exportDir)
	if err != nil {
		return err
	}
	defer o.cleanupDisk(ctx, exportPath)

	report.Report(status.TaskImageUploading, status.TaskImagePendingUpload)

	if err := o.upload(ctx, imageID, exportPath); err != nil {
		return err
	}
	logger.Get().Infof("Snapshot %s of %s uploaded as image %s", name, vm, imageID)
	return nil
}

// ExportDisk clones the disk frozen by the latest snapshot of vm into
// exportDir and returns the clone path. A frozen disk with a parent is
// merged onto a copy of that parent.
func (o *Operations) ExportDisk(ctx context.Context, vm, exportDir string) (exportPath string, err error) {
	current := o.utils.RootDiskPath(ctx, vm)
	if current == "" {
		return "", fmt.Errorf("%w of %s", ErrRootDiskNotFound, vm)
	}

	root, err := o.disks.DiskInfo(ctx, current)
	if err != nil {
		return "", fmt.Errorf("failed to read disk %s: %w", current, err)
	}
	if !root.IsBase() {
		parentUUID := root.ParentUUID
		if root, err = o.disks.DiskInfo(ctx, parentUUID); err != nil {
			return "", fmt.Errorf("failed to read disk %s: %w", parentUUID, err)
		}
	}

	format, err := vboxmanage.ParseDiskFormat(root.Format)
	if err != nil {
		return "", fmt.Errorf("disk %s: %w", root.Path, err)
	}

	if err := o.paths.Create(exportDir); err != nil {
		return "", err
	}
	exportPath = filepath.Join(exportDir, filepath.Base(root.Path))
	defer func() {
		if err != nil {
			o.cleanupDisk(ctx, exportPath)
		}
	}()

	if !root.IsBase() {
		base, err := o.disks.DiskInfo(ctx, root.ParentUUID)
		if err != nil {
			return exportPath, fmt.Errorf("failed to read disk %s: %w", root.ParentUUID, err)
		}
		logger.Get().Debugf("Copying base disk %s to %s", base.Path, exportPath)
		if err := o.vbox.CloneHD(ctx, base.Path, exportPath, vboxmanage.CloneHDOptions{Format: format}); err != nil {
			return exportPath, fmt.Errorf("failed to copy base disk %s: %w", base.Path, err)
		}
	}

	logger.Get().Debugf("Exporting disk %s to %s", root.Path, exportPath)
	opts := vboxmanage.CloneHDOptions{Format: format, Existing: !root.IsBase()}
	if err := o.vbox.CloneHD(ctx, root.Path, exportPath, opts); err != nil {
		return exportPath, fmt.Errorf("failed to export disk %s: %w", root.Path, err)
	}
	return exportPath, nil
}

func (o *Operations) upload(ctx context.Context, imageID, path string) error {
	format, err := o.disks.ImageType(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to read format of %s: %w", path, err)
	}

	meta := image.Metadata{
		ID:              imageID,
		DiskFormat:      strings.ToLower(string(format)),
		ContainerFormat: image.ContainerBare,
		IsPublic:        false,
		Properties:      map[string]string{},
	}
	logger.Get().Infof("Uploading %s as image %s...", path, imageID)
	if err := o.images.Update(ctx, imageID, meta, path); err != nil {
		return fmt.Errorf("failed to upload image %s: %w", imageID, err)
	}
	return nil
}

// cleanupDisk unregisters and removes a disk. Failures are logged.
func (o *Operations) cleanupDisk(ctx context.Context, path string) {
	exists, err := o.paths.Exists(path)
	if err != nil {
		logger.Get().Warnf("Warning: failed to check %s: %v", path, err)
		return
	}
	if !exists {
		return
	}
	if err := o.vbox.CloseMedium(ctx, vboxmanage.MediumDisk, path, false); err != nil {
		logger.Get().Warnf("Warning: failed to unregister disk %s: %v", path, err)
	}
	if err := o.paths.Delete(path); err != nil {
		logger.Get().Warnf("Warning: failed to delete disk %s: %v", path, err)
	}
}
