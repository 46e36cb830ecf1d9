// Package cloudinit builds the config drive attached to new instances.
//
// The drive follows the cloud-init NoCloud datasource: an ISO labelled
// CIDATA holding user-data, meta-data and, when the instance has network
// interfaces, network-config.
//
// See https://cloudinit.readthedocs.io/en/latest/reference/datasources/nocloud.html
package cloudinit

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/jbweber/vboxdriver/internal/config"
)

// UserData represents the cloud-config user-data structure.
// This is marshaled to YAML and prefixed with "#cloud-config" header.
//
// See https://cloudinit.readthedocs.io/en/latest/explanation/format.html#cloud-config-data
type UserData struct {
	Hostname          string   `yaml:"hostname"`
	FQDN              string   `yaml:"fqdn,omitempty"`
	SSHAuthorizedKeys []string `yaml:"ssh_authorized_keys,omitempty"`
	SSHPasswordAuth   bool     `yaml:"ssh_pwauth"`
	Output            *Output  `yaml:"output,omitempty"`
}

// Output configures cloud-init output logging.
type Output struct {
	All string `yaml:"all"`
}

// MetaData represents the cloud-init meta-data structure.
type MetaData struct {
	InstanceID    string `yaml:"instance-id"`
	LocalHostname string `yaml:"local-hostname"`
}

// NetworkConfig represents the netplan v2 network configuration.
//
// See https://cloudinit.readthedocs.io/en/latest/reference/network-config-format-v2.html
type NetworkConfig struct {
	Version   int                       `yaml:"version"`
	Ethernets map[string]EthernetConfig `yaml:"ethernets"`
}

// EthernetConfig configures one interface for DHCP.
type EthernetConfig struct {
	Match MatchConfig `yaml:"match"`
	DHCP4 bool        `yaml:"dhcp4"`
}

// MatchConfig matches an interface by MAC address.
type MatchConfig struct {
	MACAddress string `yaml:"macaddress"`
}

// hostnames returns the short hostname and the FQDN of inst.
func hostnames(inst *config.Instance) (string, string) {
	fqdn := inst.Hostname
	if fqdn == "" {
		fqdn = inst.Name
	}
	return strings.SplitN(fqdn, ".", 2)[0], fqdn
}

// GenerateUserData generates the user-data YAML content for inst.
//
// Returns the complete user-data file content including the "#cloud-config" header.
func GenerateUserData(inst *config.Instance) (string, error) {
	if inst == nil {
		return "", fmt.Errorf("instance cannot be nil")
	}

	hostname, fqdn := hostnames(inst)
	userData := UserData{
		Hostname:          hostname,
		SSHAuthorizedKeys: inst.SSHKeys,
		Output: &Output{
			All: "| tee -a /var/log/cloud-init-output.log",
		},
	}
	if fqdn != hostname {
		userData.FQDN = fqdn
	}

	yamlBytes, err := yaml.Marshal(&userData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal user-data to YAML: %w", err)
	}

	// Prepend #cloud-config header (required by cloud-init spec)
	return "#cloud-config\n" + string(yamlBytes), nil
}

// GenerateMetaData generates the meta-data YAML content for inst.
//
// The instance-id is the instance UUID so cloud-init treats a recreated
// instance with the same name as a first boot. A random id is used when the
// instance has no UUID.
func GenerateMetaData(inst *config.Instance) (string, error) {
	if inst == nil {
		return "", fmt.Errorf("instance cannot be nil")
	}

	instanceID := inst.UUID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	hostname, _ := hostnames(inst)

	yamlBytes, err := yaml.Marshal(&MetaData{
		InstanceID:    instanceID,
		LocalHostname: hostname,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal meta-data to YAML: %w", err)
	}
	return string(yamlBytes), nil
}

// GenerateNetworkConfig generates a network-config enabling DHCP on every
// interface of inst, matched by MAC address. It returns "" when inst has no
// interfaces.
func GenerateNetworkConfig(inst *config.Instance) (string, error) {
	if inst == nil {
		return "", fmt.Errorf("instance cannot be nil")
	}
	if len(inst.NetworkInterfaces) == 0 {
		return "", nil
	}

	networkConfig := NetworkConfig{
		Version:   2,
		Ethernets: make(map[string]EthernetConfig),
	}
	for i, iface := range inst.NetworkInterfaces {
		networkConfig.Ethernets[fmt.Sprintf("eth%d", i)] = EthernetConfig{
			Match: MatchConfig{MACAddress: strings.ToLower(iface.Address)},
			DHCP4: true,
		}
	}

	yamlBytes, err := yaml.Marshal(&networkConfig)
	if err != nil {
		return "", fmt.Errorf("failed to marshal network-config to YAML: %w", err)
	}
	return string(yamlBytes), nil
}
