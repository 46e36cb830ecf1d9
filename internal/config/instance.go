package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"
	"gopkg.in/yaml.v3"
)

// DefaultRootDevice is the root device name assumed when block device info
// does not name one.
const DefaultRootDevice = "vda"

// Volume driver types.
const (
	VolumeTypeISCSI = "iscsi"
)

// Instance describes a virtual machine managed by the driver.
type Instance struct {
	Name              string             `yaml:"name"`
	UUID              string             `yaml:"uuid"`
	MemoryMB          int                `yaml:"memory_mb"`
	VCPUs             int                `yaml:"vcpus"`
	RootGB            int                `yaml:"root_gb"`
	EphemeralGB       int                `yaml:"ephemeral_gb,omitempty"`
	ImageRef          string             `yaml:"image_ref,omitempty"`
	OSType            string             `yaml:"os_type,omitempty"` // VirtualBox guest OS type ID, e.g. "Ubuntu_64"
	UserID            string             `yaml:"user_id,omitempty"`
	ProjectID         string             `yaml:"project_id,omitempty"`
	Hostname          string             `yaml:"hostname,omitempty"`
	SSHKeys           []string           `yaml:"ssh_keys,omitempty"`
	NetworkInterfaces []NetworkInterface `yaml:"network_interfaces,omitempty"`
	BlockDeviceInfo   *BlockDeviceInfo   `yaml:"block_device_info,omitempty"`
}

// NetworkInterface is a virtual interface plugged into the instance.
type NetworkInterface struct {
	ID      string `yaml:"id"`      // Port identifier recorded in the VM description
	Address string `yaml:"address"` // MAC address
}

// BlockDeviceInfo lists the volumes attached to an instance.
type BlockDeviceInfo struct {
	RootDeviceName string               `yaml:"root_device_name,omitempty"`
	Mapping        []BlockDeviceMapping `yaml:"mapping,omitempty"`
}

// BlockDeviceMapping binds a volume connection to a guest device.
type BlockDeviceMapping struct {
	MountDevice    string         `yaml:"mount_device"`
	ConnectionInfo ConnectionInfo `yaml:"connection_info"`
}

// ConnectionInfo describes how to reach a volume.
type ConnectionInfo struct {
	DriverVolumeType string    `yaml:"driver_volume_type"`
	Data             ISCSIData `yaml:"data"`
}

// ISCSIData holds the target of an iSCSI volume.
type ISCSIData struct {
	TargetPortal string `yaml:"target_portal"` // host or host:port
	TargetIQN    string `yaml:"target_iqn"`
	TargetLUN    int    `yaml:"target_lun"`
	AuthUsername string `yaml:"auth_username,omitempty"`
	AuthPassword string `yaml:"auth_password,omitempty"`
}

// Flavor is the sizing applied to an instance on resize.
type Flavor struct {
	RootGB      int `yaml:"root_gb"`
	EphemeralGB int `yaml:"ephemeral_gb,omitempty"`
	MemoryMB    int `yaml:"memory_mb"`
	VCPUs       int `yaml:"vcpus"`
}

var namePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9_.-]*[a-z0-9])?$`)

// ApplyDefaults normalizes user input and fills in unset fields.
func (i *Instance) ApplyDefaults() {
	i.Name = strings.ToLower(strings.TrimSpace(i.Name))
	if i.UUID == "" {
		i.UUID = uuid.NewString()
	}
	if i.Hostname == "" {
		i.Hostname = i.Name
	}
	for n := range i.NetworkInterfaces {
		i.NetworkInterfaces[n].Address = strings.ToLower(strings.TrimSpace(i.NetworkInterfaces[n].Address))
	}
}

// Validate checks the instance for errors.
// Does not check hypervisor resources such as images or host capacity.
func (i *Instance) Validate() error {
	if i.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !namePattern.MatchString(i.Name) {
		return fmt.Errorf("name must start and end with alphanumeric characters and contain only alphanumeric, dots, hyphens, or underscores, got %q", i.Name)
	}
	if _, err := uuid.Parse(i.UUID); err != nil {
		return fmt.Errorf("uuid %q is not valid: %w", i.UUID, err)
	}
	if i.VCPUs <= 0 {
		return fmt.Errorf("vcpus must be > 0, got %d", i.VCPUs)
	}
	if i.MemoryMB <= 0 {
		return fmt.Errorf("memory_mb must be > 0, got %d", i.MemoryMB)
	}
	if i.RootGB < 0 {
		return fmt.Errorf("root_gb must not be negative, got %d", i.RootGB)
	}
	if i.EphemeralGB < 0 {
		return fmt.Errorf("ephemeral_gb must not be negative, got %d", i.EphemeralGB)
	}
	if i.ImageRef == "" && !i.BootsFromVolume() {
		return fmt.Errorf("image_ref is required unless the root device is a volume")
	}

	for n, key := range i.SSHKeys {
		if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(key)); err != nil {
			return fmt.Errorf("ssh_keys[%d] is not a valid SSH public key: %w", n, err)
		}
	}

	macsSeen := make(map[string]bool)
	for n, iface := range i.NetworkInterfaces {
		if err := iface.Validate(); err != nil {
			return fmt.Errorf("network_interfaces[%d]: %w", n, err)
		}
		if macsSeen[iface.Address] {
			return fmt.Errorf("network_interfaces[%d]: duplicate address %q", n, iface.Address)
		}
		macsSeen[iface.Address] = true
	}

	if i.BlockDeviceInfo != nil {
		for n, m := range i.BlockDeviceInfo.Mapping {
			if err := m.Validate(); err != nil {
				return fmt.Errorf("block_device_info.mapping[%d]: %w", n, err)
			}
		}
	}

	return nil
}

// Validate checks the network interface.
func (n *NetworkInterface) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("id is required")
	}
	if n.Address == "" {
		return fmt.Errorf("address is required")
	}
	if _, err := net.ParseMAC(n.Address); err != nil {
		return fmt.Errorf("invalid MAC address %q: %w", n.Address, err)
	}
	return nil
}

// Validate checks the block device mapping.
func (m *BlockDeviceMapping) Validate() error {
	if m.MountDevice == "" {
		return fmt.Errorf("mount_device is required")
	}
	return m.ConnectionInfo.Validate()
}

// Validate checks the connection info. Only iSCSI targets are checked in
// depth; other types are rejected later by the volume driver lookup.
func (c *ConnectionInfo) Validate() error {
	if c.DriverVolumeType == "" {
		return fmt.Errorf("connection_info.driver_volume_type is required")
	}
	if c.DriverVolumeType != VolumeTypeISCSI {
		return nil
	}
	if c.Data.TargetPortal == "" {
		return fmt.Errorf("connection_info.data.target_portal is required")
	}
	if c.Data.TargetIQN == "" {
		return fmt.Errorf("connection_info.data.target_iqn is required")
	}
	if c.Data.TargetLUN < 0 {
		return fmt.Errorf("connection_info.data.target_lun must not be negative, got %d", c.Data.TargetLUN)
	}
	return nil
}

// Mapping returns the block device mappings, or nil.
func (i *Instance) Mapping() []BlockDeviceMapping {
	if i.BlockDeviceInfo == nil {
		return nil
	}
	return i.BlockDeviceInfo.Mapping
}

// BootsFromVolume reports whether the root device is one of the mapped
// volumes.
func (i *Instance) BootsFromVolume() bool {
	if i.BlockDeviceInfo == nil {
		return false
	}
	root := i.BlockDeviceInfo.RootDeviceName
	if root == "" {
		root = DefaultRootDevice
	}
	root = stripDev(root)
	for _, m := range i.BlockDeviceInfo.Mapping {
		if stripDev(m.MountDevice) == root {
			return true
		}
	}
	return false
}

func stripDev(device string) string {
	return strings.TrimPrefix(device, "/dev/")
}

// ApplyFlavor resizes the instance to f.
func (i *Instance) ApplyFlavor(f *Flavor) {
	i.RootGB = f.RootGB
	i.EphemeralGB = f.EphemeralGB
	i.MemoryMB = f.MemoryMB
	i.VCPUs = f.VCPUs
}

// Validate checks the flavor for errors.
func (f *Flavor) Validate() error {
	if f.VCPUs <= 0 {
		return fmt.Errorf("vcpus must be > 0, got %d", f.VCPUs)
	}
	if f.MemoryMB <= 0 {
		return fmt.Errorf("memory_mb must be > 0, got %d", f.MemoryMB)
	}
	if f.RootGB < 0 {
		return fmt.Errorf("root_gb must not be negative, got %d", f.RootGB)
	}
	if f.EphemeralGB < 0 {
		return fmt.Errorf("ephemeral_gb must not be negative, got %d", f.EphemeralGB)
	}
	return nil
}

// LoadInstance loads an instance document from a YAML file.
func LoadInstance(path string) (*Instance, error) {
	var inst Instance
	if err := loadYAML(path, &inst); err != nil {
		return nil, err
	}
	inst.ApplyDefaults()
	if err := inst.Validate(); err != nil {
		return nil, fmt.Errorf("invalid instance: %w", err)
	}
	return &inst, nil
}

// LoadFlavor loads a flavor document from a YAML file.
func LoadFlavor(path string) (*Flavor, error) {
	var f Flavor
	if err := loadYAML(path, &f); err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flavor: %w", err)
	}
	return &f, nil
}

// LoadVolume loads a block device mapping document from a YAML file.
func LoadVolume(path string) (*BlockDeviceMapping, error) {
	var m BlockDeviceMapping
	if err := loadYAML(path, &m); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid volume: %w", err)
	}
	return &m, nil
}

func loadYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse YAML %s: %w", path, err)
	}
	return nil
}
