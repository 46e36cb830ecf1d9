package vboxmanage

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jbweber/vboxdriver/internal/logger"
	"github.com/jbweber/vboxdriver/internal/parser"
)

// CreateHDOptions describes a new disk image.
type CreateHDOptions struct {
	Filename string
	// SizeMB is the capacity in MiB. Zero leaves it to VBoxManage, which is
	// only valid for differencing disks.
	SizeMB  int64
	Format  DiskFormat
	Variant Variant
	// Parent makes the new disk a differencing disk of this image.
	Parent string
}

// CreateHD creates a disk image and returns its UUID. Format defaults to VDI
// and Variant to Standard.
func (c *Client) CreateHD(ctx context.Context, opts CreateHDOptions) (string, error) {
	if opts.Format == "" {
		opts.Format = DiskFormatVDI
	}
	if opts.Variant == "" {
		opts.Variant = VariantStandard
	}
	if err := opts.Format.Validate(); err != nil {
		return "", newError(cmdCreateHD, "", opts.Filename, err)
	}
	if err := checkAllowed(cmdCreateHD, "variant", opts.Variant, variants); err != nil {
		return "", err
	}
	if opts.SizeMB < 0 {
		return "", newError(cmdCreateHD, "", "disk size should be bigger than 0", ErrInvalidDiskInfo)
	}

	args := []string{
		"--filename", opts.Filename,
		"--format", string(opts.Format),
		"--variant", string(opts.Variant),
	}
	if opts.SizeMB > 0 {
		args = append(args, "--size", strconv.FormatInt(opts.SizeMB, 10))
	}
	if opts.Parent != "" {
		args = append(args, "--diffparent", opts.Parent)
	}

	res := c.execute(ctx, cmdCreateHD, args...)
	if res.Stderr != "" && !isDone(res.Stderr) {
		if strings.Contains(res.Stderr, signatureFileError) {
			return "", c.fail(cmdCreateHD, newError(cmdCreateHD, "", opts.Filename, ErrDestinationExists))
		}
		return "", c.fail(cmdCreateHD, newError(cmdCreateHD, "", res.Stderr, nil))
	}
	return parser.ParseCreatedUUID(res.Stdout), nil
}

// CloneHDOptions tunes a disk clone.
type CloneHDOptions struct {
	Format  DiskFormat
	Variant Variant
	// Existing clones into an already existing destination medium.
	Existing bool
}

// CloneHD copies the disk at src to dst with a new UUID.
func (c *Client) CloneHD(ctx context.Context, src, dst string, opts CloneHDOptions) error {
	args := []string{src, dst}
	if opts.Format != "" {
		if err := opts.Format.Validate(); err != nil {
			return newError(cmdCloneHD, "", dst, err)
		}
		args = append(args, "--format", string(opts.Format))
	}
	if opts.Variant != "" {
		if err := checkAllowed(cmdCloneHD, "variant", opts.Variant, variants); err != nil {
			return err
		}
		args = append(args, "--variant", string(opts.Variant))
	}
	if opts.Existing {
		args = append(args, "--existing")
	}

	res := c.execute(ctx, cmdCloneHD, args...)
	if res.Stderr != "" && !isDone(res.Stderr) {
		if strings.Contains(res.Stderr, signatureFileError) {
			logger.Get().Debugf("Failed to clone hd: %s", res.Stderr)
			return c.fail(cmdCloneHD, newError(cmdCloneHD, "", dst, ErrDestinationExists))
		}
		return c.fail(cmdCloneHD, newError(cmdCloneHD, "", res.Stderr, nil))
	}
	return nil
}

// ModifyHD changes a property of a disk image. An empty value is omitted.
func (c *Client) ModifyHD(ctx context.Context, filename string, field HDField, value string) error {
	if err := checkAllowed(cmdModifyHD, "field", field, hdFields); err != nil {
		return err
	}
	args := []string{filename, string(field)}
	if value != "" {
		args = append(args, value)
	}
	res := c.execute(ctx, cmdModifyHD, args...)
	if res.Stderr != "" && !isDone(res.Stderr) {
		return c.fail(cmdModifyHD, newError(cmdModifyHD, "", res.Stderr, nil))
	}
	return nil
}

// ShowHDInfo returns the raw disk information for a path or UUID. A disk
// VBoxManage refuses to open yields ErrInvalid.
func (c *Client) ShowHDInfo(ctx context.Context, disk string) (string, error) {
	res := c.execute(ctx, cmdShowHDInfo, disk)
	if res.Stderr != "" {
		if strings.Contains(res.Stderr, signatureInvalidArg) {
			return "", c.fail(cmdShowHDInfo, newError(cmdShowHDInfo, "", res.Stderr, ErrInvalid))
		}
		return "", c.fail(cmdShowHDInfo, newError(cmdShowHDInfo, "", res.Stderr, nil))
	}
	return res.Stdout, nil
}

// SetHDUUID assigns a new random UUID to a disk file.
func (c *Client) SetHDUUID(ctx context.Context, disk string) error {
	res := c.execute(ctx, cmdInternalCommands, methodSetHDUUID, disk)
	if res.Stderr != "" {
		return c.fail(methodSetHDUUID, newError(methodSetHDUUID, "", res.Stderr, nil))
	}
	return nil
}

// SetHDParentUUID points a differencing disk at a new parent.
func (c *Client) SetHDParentUUID(ctx context.Context, disk, parentUUID string) error {
	res := c.execute(ctx, cmdInternalCommands, methodSetHDParentUUID, disk, parentUUID)
	if res.Stderr != "" {
		return c.fail(methodSetHDParentUUID, newError(methodSetHDParentUUID, "", res.Stderr, nil))
	}
	return nil
}

// CloseMedium removes a medium from the registry, deleting its file when
// deleteFile is set.
func (c *Client) CloseMedium(ctx context.Context, kind MediumKind, path string, deleteFile bool) error {
	if err := checkAllowed(cmdCloseMedium, "medium", kind, mediumKinds); err != nil {
		return err
	}
	args := []string{string(kind), path}
	if deleteFile {
		args = append(args, "--delete")
	}
	res := c.execute(ctx, cmdCloseMedium, args...)
	if res.Stderr != "" && !isDone(res.Stderr) {
		return c.fail(cmdCloseMedium, newError(cmdCloseMedium, "", res.Stderr, nil))
	}
	return nil
}

// ResizeArg formats a size in MiB for "modifyhd --resize".
func ResizeArg(sizeMB int64) string {
	return fmt.Sprintf("%d", sizeMB)
}
