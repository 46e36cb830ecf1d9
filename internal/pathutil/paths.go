// Package pathutil lays out instance directories and disk files under the
// instances path.
//
// All filesystem access goes through an afero.Fs so that orchestrators can
// be tested against an in-memory filesystem.
package pathutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/jbweber/vboxdriver/internal/logger"
	"github.com/jbweber/vboxdriver/internal/naming"
)

const (
	// DefaultInstancesPath is the default base directory for instance files.
	DefaultInstancesPath = "/var/lib/vboxdriver/instances"

	// DirPermissions are the permissions for instance directories.
	DirPermissions = 0755

	// FilePermissions are the permissions for files written by the driver.
	FilePermissions = 0644
)

// diskExtensions lists the disk file extensions in lookup order.
var diskExtensions = []string{"vdi", "vhd", "vmdk"}

// Manager resolves and manages instance paths.
type Manager struct {
	fs            afero.Fs
	instancesPath string
}

// NewManager creates a Manager rooted at instancesPath on the OS filesystem.
func NewManager(instancesPath string) *Manager {
	return NewManagerWithFs(afero.NewOsFs(), instancesPath)
}

// NewManagerWithFs creates a Manager backed by fs.
func NewManagerWithFs(fs afero.Fs, instancesPath string) *Manager {
	if instancesPath == "" {
		instancesPath = DefaultInstancesPath
	}
	return &Manager{fs: fs, instancesPath: filepath.Clean(instancesPath)}
}

// Fs returns the filesystem the manager works on.
func (m *Manager) Fs() afero.Fs {
	return m.fs
}

// InstanceDir returns the base directory for all instances.
func (m *Manager) InstanceDir() string {
	return m.instancesPath
}

// InstanceBasepath returns the directory of one instance.
func (m *Manager) InstanceBasepath(name string) string {
	return filepath.Join(m.instancesPath, name)
}

// RootDiskPath returns the root disk path of an instance for a format
// extension.
func (m *Manager) RootDiskPath(name, ext string) string {
	return filepath.Join(m.InstanceBasepath(name), naming.RootDiskName(ext))
}

// EphemeralDiskPath returns the ephemeral disk path of an instance for a
// format extension.
func (m *Manager) EphemeralDiskPath(name, ext string) string {
	return filepath.Join(m.InstanceBasepath(name), naming.EphemeralDiskName(ext))
}

// ConfigDrivePath returns the config drive ISO path of an instance.
func (m *Manager) ConfigDrivePath(name string) string {
	return filepath.Join(m.InstanceBasepath(name), naming.ConfigDriveName)
}

// BaseDiskDir returns the image cache directory.
func (m *Manager) BaseDiskDir() string {
	return filepath.Join(m.instancesPath, naming.BaseDirName)
}

// BaseDiskPath returns the download path of an image in the cache. The
// cached copy adds the format extension to it.
func (m *Manager) BaseDiskPath(imageRef string) string {
	return filepath.Join(m.BaseDiskDir(), imageRef)
}

// ExportDir returns the snapshot export directory of an instance.
func (m *Manager) ExportDir(name string) string {
	return filepath.Join(m.InstanceBasepath(name), naming.ExportDirName)
}

// RevertDir returns the directory an instance is kept in while a migration
// can still be reverted.
func (m *Manager) RevertDir(name string) string {
	return m.InstanceBasepath(name) + naming.RevertSuffix
}

// StagingDir returns the directory the disks of an instance are copied to
// during a migration.
func (m *Manager) StagingDir(name string) string {
	return m.InstanceBasepath(name) + naming.StagingSuffix
}

// Exists reports whether path exists.
func (m *Manager) Exists(path string) (bool, error) {
	ok, err := afero.Exists(m.fs, path)
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", path, err)
	}
	return ok, nil
}

// Create creates the directory path and any missing parents.
func (m *Manager) Create(path string) error {
	if ok, _ := afero.DirExists(m.fs, path); ok {
		return nil
	}
	logger.Get().Debugf("Creating directory: %s", path)
	if err := m.fs.MkdirAll(path, DirPermissions); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// Delete removes path, recursively for directories. A missing path is not
// an error.
func (m *Manager) Delete(path string) error {
	info, err := m.fs.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", path, err)
	}

	if info.IsDir() {
		logger.Get().Debugf("Remove directory: %s", path)
		err = m.fs.RemoveAll(path)
	} else {
		logger.Get().Debugf("Remove file: %s", path)
		err = m.fs.Remove(path)
	}
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

// Overwrite deletes and recreates the directory path.
func (m *Manager) Overwrite(path string) error {
	if err := m.Delete(path); err != nil {
		return err
	}
	return m.Create(path)
}

// Rename moves oldPath to newPath.
func (m *Manager) Rename(oldPath, newPath string) error {
	logger.Get().Debugf("Rename %s to %s", oldPath, newPath)
	if err := m.fs.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("failed to rename %s to %s: %w", oldPath, newPath, err)
	}
	return nil
}

// WriteFile writes data to path.
func (m *Manager) WriteFile(path string, data []byte) error {
	if err := afero.WriteFile(m.fs, path, data, FilePermissions); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// CopyFile copies the regular file src to dst, replacing dst.
func (m *Manager) CopyFile(src, dst string) error {
	in, err := m.fs.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	out, err := m.fs.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, FilePermissions)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", dst, err)
	}
	return nil
}

// ListFiles returns the paths of the regular files directly under dir in
// lexical order. A missing directory has no files.
func (m *Manager) ListFiles(dir string) ([]string, error) {
	entries, err := afero.ReadDir(m.fs, dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.Mode().IsRegular() {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}

// LookupRootDiskPath returns the existing root disk of an instance, trying
// every supported format. It returns "" when there is none.
func (m *Manager) LookupRootDiskPath(name string) string {
	return m.lookup(func(ext string) string { return m.RootDiskPath(name, ext) })
}

// LookupEphemeralDiskPath returns the existing ephemeral disk of an
// instance, or "".
func (m *Manager) LookupEphemeralDiskPath(name string) string {
	return m.lookup(func(ext string) string { return m.EphemeralDiskPath(name, ext) })
}

func (m *Manager) lookup(pathFor func(ext string) string) string {
	for _, ext := range diskExtensions {
		path := pathFor(ext)
		if ok, _ := afero.Exists(m.fs, path); ok {
			return path
		}
	}
	return ""
}
