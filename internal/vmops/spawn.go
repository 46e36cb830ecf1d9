package vmops

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jbweber/vboxdriver/internal/cloudinit"
	"github.com/jbweber/vboxdriver/internal/config"
	"github.com/jbweber/vboxdriver/internal/logger"
	"github.com/jbweber/vboxdriver/internal/vboxmanage"
	"github.com/jbweber/vboxdriver/internal/vhd"
)

const mib = 1024 * 1024

// Spawn creates a new VM for inst and attaches its storage.
//
// This orchestrates the entire creation process:
//  1. Check the VM does not exist
//  2. Create and register the VM, set OS type, memory, CPUs and NICs
//  3. Create the root disk from the cached image unless booting from volume
//  4. Create the ephemeral disk
//  5. Attach disks, volumes and the config drive
//
// On any failure the VM is destroyed together with its disks.
func (o *Operations) Spawn(ctx context.Context, inst *config.Instance) (err error) {
	exists, err := o.InstanceExists(ctx, inst.Name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrInstanceExists, inst.Name)
	}

	defer func() {
		if err == nil {
			return
		}
		logger.Get().Errorf("Failed to spawn %s: %v", inst.Name, err)
		if derr := o.Destroy(ctx, inst.Name, true); derr != nil {
			logger.Get().Warnf("Warning: failed to clean up %s: %v", inst.Name, derr)
		}
	}()

	logger.Get().Infof("Creating instance %s...", inst.Name)
	if err = o.CreateInstance(ctx, inst, true); err != nil {
		return err
	}

	var rootPath string
	if !inst.BootsFromVolume() {
		logger.Get().Infof("Creating root disk (%dGB)...", inst.RootGB)
		if rootPath, err = o.CreateRootDisk(ctx, inst); err != nil {
			return err
		}
	}

	ephemeralPath, err := o.CreateEphemeralDisk(ctx, inst)
	if err != nil {
		return err
	}

	logger.Get().Infof("Attaching storage...")
	if err = o.StorageSetup(ctx, inst, rootPath, ephemeralPath); err != nil {
		return err
	}

	logger.Get().Infof("Instance %s spawned", inst.Name)
	return nil
}

// CreateInstance creates and registers the VM definition and applies the
// instance sizing and networks. With overwrite, an existing instance
// directory is removed first.
func (o *Operations) CreateInstance(ctx context.Context, inst *config.Instance, overwrite bool) error {
	basepath := o.paths.InstanceBasepath(inst.Name)
	if overwrite {
		if err := o.paths.Overwrite(basepath); err != nil {
			return err
		}
	}

	if _, err := o.vbox.CreateVM(ctx, inst.Name, filepath.Dir(basepath), true); err != nil {
		return err
	}
	if err := o.utils.SetOSType(ctx, inst.Name, inst.OSType); err != nil {
		return err
	}
	if err := o.utils.SetMemory(ctx, inst.Name, inst.MemoryMB); err != nil {
		return err
	}
	if err := o.utils.SetCPUs(ctx, inst.Name, inst.VCPUs); err != nil {
		return err
	}
	return o.setupNetwork(ctx, inst)
}

// CreateRootDisk creates the root disk of inst from its image and grows it
// to the flavor size. It returns the disk path.
func (o *Operations) CreateRootDisk(ctx context.Context, inst *config.Instance) (string, error) {
	basePath, err := o.images.Get(ctx, inst.ImageRef)
	if err != nil {
		return "", err
	}
	base, err := o.disks.DiskInfo(ctx, basePath)
	if err != nil {
		return "", err
	}
	format, err := vboxmanage.ParseDiskFormat(base.Format)
	if err != nil {
		return "", err
	}

	rootPath := o.paths.RootDiskPath(inst.Name, format.Extension())
	if o.opts.UseCOWImages {
		_, err = o.vbox.CreateHD(ctx, vboxmanage.CreateHDOptions{
			Filename: rootPath,
			Format:   format,
			Variant:  vboxmanage.VariantStandard,
			Parent:   basePath,
		})
	} else {
		err = o.vbox.CloneHD(ctx, basePath, rootPath, vboxmanage.CloneHDOptions{
			Format:  format,
			Variant: vboxmanage.VariantStandard,
		})
	}
	if err != nil {
		return "", err
	}

	if err := o.resizeRootDisk(ctx, inst, rootPath); err != nil {
		return "", err
	}
	return rootPath, nil
}

// resizeRootDisk grows a VDI or VHD root disk to the flavor size.
func (o *Operations) resizeRootDisk(ctx context.Context, inst *config.Instance, rootPath string) error {
	if inst.RootGB == 0 {
		return nil
	}
	format, err := o.disks.ImageType(ctx, rootPath)
	if err != nil {
		return err
	}
	if format != vboxmanage.DiskFormatVDI && format != vboxmanage.DiskFormatVHD {
		logger.Get().Debugf("Not resizing %s disk %s", format, rootPath)
		return nil
	}

	info, err := o.disks.DiskInfo(ctx, rootPath)
	if err != nil {
		return err
	}
	oldSize := info.Capacity / mib
	newSize := int64(inst.RootGB) * 1024
	resize, err := vhd.IsResizeRequired(rootPath, oldSize, newSize)
	if err != nil || !resize {
		return err
	}
	return o.vbox.ModifyHD(ctx, rootPath, vboxmanage.HDResize, vboxmanage.ResizeArg(newSize))
}

// CreateEphemeralDisk creates the immutable ephemeral disk of inst and
// returns its path, or "" when the flavor has none.
func (o *Operations) CreateEphemeralDisk(ctx context.Context, inst *config.Instance) (string, error) {
	if inst.EphemeralGB == 0 {
		return "", nil
	}

	path := o.paths.EphemeralDiskPath(inst.Name, vboxmanage.DiskFormatVDI.Extension())
	logger.Get().Infof("Creating ephemeral disk (%dGB)...", inst.EphemeralGB)
	if _, err := o.vbox.CreateHD(ctx, vboxmanage.CreateHDOptions{
		Filename: path,
		SizeMB:   int64(inst.EphemeralGB) * 1024,
		Format:   vboxmanage.DiskFormatVDI,
		Variant:  vboxmanage.VariantStandard,
	}); err != nil {
		return "", err
	}
	if err := o.vbox.ModifyHD(ctx, path, vboxmanage.HDType, string(vboxmanage.DiskTypeImmutable)); err != nil {
		return "", err
	}
	return path, nil
}

// StorageSetup creates the storage controllers of inst and attaches the
// root and ephemeral disks, the mapped volumes and the config drive.
// An empty rootPath means the instance boots from its first volume.
func (o *Operations) StorageSetup(ctx context.Context, inst *config.Instance, rootPath, ephemeralPath string) error {
	sata := vboxmanage.BusSATA.ControllerName()
	for _, bus := range []vboxmanage.SystemBus{vboxmanage.BusSATA, vboxmanage.BusSCSI} {
		if err := o.utils.SetStorageController(ctx, inst.Name, bus); err != nil {
			return err
		}
	}

	for port, path := range []string{rootPath, ephemeralPath} {
		if path == "" {
			continue
		}
		if err := o.volumes.AttachStorage(ctx, inst.Name, vboxmanage.Attachment{
			Controller: sata,
			Port:       port,
			Device:     0,
			Type:       vboxmanage.DriveHDD,
			Medium:     path,
		}); err != nil {
			return err
		}
	}

	if err := o.volumes.AttachVolumes(ctx, inst.Name, inst.Mapping(), rootPath == ""); err != nil {
		return err
	}

	if o.opts.ConfigDrive {
		return o.attachConfigDrive(ctx, inst)
	}
	return nil
}

func (o *Operations) attachConfigDrive(ctx context.Context, inst *config.Instance) error {
	path := o.paths.ConfigDrivePath(inst.Name)
	logger.Get().Infof("Writing config drive %s...", path)
	if err := o.paths.Create(o.paths.InstanceBasepath(inst.Name)); err != nil {
		return err
	}
	if err := cloudinit.WriteISO(o.paths.Fs(), path, inst); err != nil {
		return fmt.Errorf("failed to write config drive: %w", err)
	}

	if err := o.utils.SetStorageController(ctx, inst.Name, vboxmanage.BusIDE); err != nil {
		return err
	}
	return o.volumes.AttachStorage(ctx, inst.Name, vboxmanage.Attachment{
		Controller: vboxmanage.BusIDE.ControllerName(),
		Port:       0,
		Device:     0,
		Type:       vboxmanage.DriveDVD,
		Medium:     path,
	})
}
