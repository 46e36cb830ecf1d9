// Package naming provides the naming conventions the driver applies to
// files, snapshots and hypervisor objects.
//
// These rules are shared by every orchestrator so that a disk created by
// one operation can be found by another.
package naming

import (
	"fmt"
	"strings"
	"time"
)

const (
	// BaseDirName is the image cache directory under the instances path.
	BaseDirName = "_base"
	// ExportDirName is the snapshot export directory under an instance.
	ExportDirName = "_export"
	// RevertSuffix is appended to an instance directory kept for revert.
	RevertSuffix = "_revert"
	// StagingSuffix is appended to the directory disks are migrated into.
	StagingSuffix = "_copy"
	// ConfigDriveName is the config drive ISO in an instance directory.
	ConfigDriveName = "configdrive.iso"

	// iscsiInitiatorPrefix is the IQN prefix VirtualBox uses for its
	// built-in initiator.
	iscsiInitiatorPrefix = "iqn.2008-04.com.sun"
)

// MACAddress returns address in the format VirtualBox expects: uppercase
// hex digits with no separators.
//
// Example: fa:16:3e:4c:2c:30 → FA163E4C2C30
func MACAddress(address string) string {
	if strings.Contains(address, "-") {
		address = strings.ReplaceAll(address, "-", "")
	} else if strings.Contains(address, ":") {
		address = strings.ReplaceAll(address, ":", "")
	}
	return strings.ToUpper(address)
}

// ISCSIInitiator returns the initiator IQN of the given host.
// Format: iqn.2008-04.com.sun:{hostname}
func ISCSIInitiator(hostname string) string {
	return fmt.Sprintf("%s:%s", iscsiInitiatorPrefix, hostname)
}

// SnapshotName returns the name of a snapshot taken at t.
// Format: Snapshot-{unix seconds}.{fraction}
func SnapshotName(t time.Time) string {
	return fmt.Sprintf("Snapshot-%d.%06d", t.Unix(), t.Nanosecond()/1000)
}

// RootDiskName returns the root disk file name for a format extension.
// Format: root.{ext} (e.g., "root.vdi")
func RootDiskName(ext string) string {
	return "root." + strings.ToLower(ext)
}

// EphemeralDiskName returns the ephemeral disk file name for a format
// extension.
// Format: ephemeral.{ext}
func EphemeralDiskName(ext string) string {
	return "ephemeral." + strings.ToLower(ext)
}

// CachedImageName returns the file name of a cached base image.
// Format: {imageRef}.{ext}
func CachedImageName(imageRef, ext string) string {
	return imageRef + "." + strings.ToLower(ext)
}

// IsISCSILocation reports whether a medium location names an iSCSI target.
// VirtualBox renders those as "portal|target|lun".
func IsISCSILocation(location string) bool {
	return strings.Contains(location, "|")
}
