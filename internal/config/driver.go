// Package config loads the driver configuration and the instance, flavor
// and volume documents the CLI operates on.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for DriverConfig.
const (
	DefaultVBoxManageCmd         = "VBoxManage"
	DefaultRetryCount            = 3
	DefaultRetryInterval         = time.Second
	DefaultInstancesPath         = "/var/lib/vboxdriver/instances"
	DefaultImagesPath            = "/var/lib/vboxdriver/images"
	DefaultWaitSoftRebootSeconds = 60
	DefaultVRDEModule            = "Oracle VM VirtualBox Extension Pack"
	DefaultVRDEPort              = "3389"
	DefaultLogLevel              = "info"
)

// VRDE modules the driver knows how to configure.
const (
	VRDEModuleRDP = "Oracle VM VirtualBox Extension Pack"
	VRDEModuleVNC = "VNC"
)

// RDP security methods.
const (
	SecurityNegotiate = "Negotiate"
	SecurityRDP       = "RDP"
	SecurityTLS       = "TLS"
)

// DriverConfig is the configuration of the driver itself.
type DriverConfig struct {
	VBoxManageCmd         string              `yaml:"vboxmanage_cmd"`
	RetryCount            int                 `yaml:"retry_count"`
	RetryInterval         time.Duration       `yaml:"retry_interval"`
	InstancesPath         string              `yaml:"instances_path"`
	ImagesPath            string              `yaml:"images_path"` // Directory served by the local image store
	UseCOWImages          *bool               `yaml:"use_cow_images,omitempty"`
	WaitSoftRebootSeconds int                 `yaml:"wait_soft_reboot_seconds"`
	MyIP                  string              `yaml:"my_ip,omitempty"`
	ConfigDrive           bool                `yaml:"config_drive,omitempty"`
	RemoteDisplay         RemoteDisplayConfig `yaml:"remote_display"`
	RDP                   RDPConfig           `yaml:"rdp"`
	Log                   LogConfig           `yaml:"log"`
	MetricsAddr           string              `yaml:"metrics_addr,omitempty"` // e.g. ":9100"; empty disables
}

// RemoteDisplayConfig controls the VRDE server of each instance.
type RemoteDisplayConfig struct {
	Enabled    bool   `yaml:"enabled"`
	UniquePort bool   `yaml:"vrde_unique_port"`
	Module     string `yaml:"vrde_module"`
	// Ports is a port or a list of ports and ranges, e.g. "3389,5000-5010".
	Ports          string `yaml:"vrde_port"`
	PasswordLength int    `yaml:"vrde_password_length,omitempty"`
	// RequireInstanceUUIDAsPassword sets the VNC password to the instance UUID.
	RequireInstanceUUIDAsPassword bool `yaml:"vrde_require_instance_uuid_as_password,omitempty"`
}

// RDPConfig controls RDP encryption.
type RDPConfig struct {
	Encrypted         bool   `yaml:"encrypted"`
	SecurityMethod    string `yaml:"security_method"`
	ServerCertificate string `yaml:"server_certificate,omitempty"`
	ServerPrivateKey  string `yaml:"server_private_key,omitempty"`
	ServerCA          string `yaml:"server_ca,omitempty"`
}

// LogConfig controls the driver log.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
}

// DefaultDriverConfig returns a configuration with every default applied.
func DefaultDriverConfig() *DriverConfig {
	c := &DriverConfig{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills in unset fields.
func (c *DriverConfig) ApplyDefaults() {
	if c.VBoxManageCmd == "" {
		c.VBoxManageCmd = DefaultVBoxManageCmd
	}
	if c.RetryCount <= 0 {
		c.RetryCount = DefaultRetryCount
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.InstancesPath == "" {
		c.InstancesPath = DefaultInstancesPath
	}
	if c.ImagesPath == "" {
		c.ImagesPath = DefaultImagesPath
	}
	if c.UseCOWImages == nil {
		cow := true
		c.UseCOWImages = &cow
	}
	if c.WaitSoftRebootSeconds <= 0 {
		c.WaitSoftRebootSeconds = DefaultWaitSoftRebootSeconds
	}
	if c.RemoteDisplay.Module == "" {
		c.RemoteDisplay.Module = DefaultVRDEModule
	}
	if c.RemoteDisplay.Ports == "" {
		c.RemoteDisplay.Ports = DefaultVRDEPort
	}
	if c.RDP.SecurityMethod == "" {
		c.RDP.SecurityMethod = SecurityRDP
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

// COWImages reports whether root disks are differencing disks of the
// cached base image.
func (c *DriverConfig) COWImages() bool {
	return c.UseCOWImages == nil || *c.UseCOWImages
}

// SoftRebootTimeout returns how long a soft shutdown may take.
func (c *DriverConfig) SoftRebootTimeout() time.Duration {
	return time.Duration(c.WaitSoftRebootSeconds) * time.Second
}

// Validate checks the configuration for errors.
func (c *DriverConfig) Validate() error {
	if c.RetryCount <= 0 {
		return fmt.Errorf("retry_count must be > 0, got %d", c.RetryCount)
	}
	if c.RetryInterval < 0 {
		return fmt.Errorf("retry_interval must not be negative, got %s", c.RetryInterval)
	}
	if c.InstancesPath == "" {
		return fmt.Errorf("instances_path is required")
	}
	if c.RemoteDisplay.PasswordLength < 0 {
		return fmt.Errorf("remote_display.vrde_password_length must not be negative, got %d", c.RemoteDisplay.PasswordLength)
	}

	switch c.RDP.SecurityMethod {
	case SecurityRDP:
	case SecurityTLS, SecurityNegotiate:
		if c.RDP.Encrypted && (c.RDP.ServerCA == "" || c.RDP.ServerCertificate == "" || c.RDP.ServerPrivateKey == "") {
			return fmt.Errorf("rdp: security_method %s requires server_ca, server_certificate and server_private_key", c.RDP.SecurityMethod)
		}
	default:
		return fmt.Errorf("rdp: security_method must be one of RDP, TLS or Negotiate, got %q", c.RDP.SecurityMethod)
	}

	return nil
}

// LoadDriverConfig loads the driver configuration from a YAML file. An
// empty path returns the defaults.
func LoadDriverConfig(path string) (*DriverConfig, error) {
	if path == "" {
		return DefaultDriverConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg DriverConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}
