package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
)

const testSSHKey = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIIbJKZscbOLzBsgY5y2QupKW4A2kSDjMBQGPb1dChr+S test@example.com"

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func validInstance() *Instance {
	return &Instance{
		Name:     "instance-1",
		UUID:     "9f3a4cb6-6f0c-4d2c-9d1e-5b1f4c7a2e10",
		MemoryMB: 1024,
		VCPUs:    1,
		RootGB:   8,
		ImageRef: "cirros-0.6",
	}
}

func TestLoadInstance(t *testing.T) {
	path := writeFile(t, "instance.yaml", `name: Instance-1
uuid: 9f3a4cb6-6f0c-4d2c-9d1e-5b1f4c7a2e10
memory_mb: 2048
vcpus: 2
root_gb: 8
ephemeral_gb: 1
image_ref: cirros-0.6
os_type: Ubuntu_64
ssh_keys:
  - `+testSSHKey+`
network_interfaces:
  - id: port-1
    address: FA:16:3E:4C:2C:30
block_device_info:
  mapping:
    - mount_device: /dev/vdb
      connection_info:
        driver_volume_type: iscsi
        data:
          target_portal: 10.0.0.5:3260
          target_iqn: iqn.2010-10.org.openstack:volume-1
          target_lun: 1
`)

	inst, err := LoadInstance(path)
	if err != nil {
		t.Fatalf("LoadInstance failed: %v", err)
	}

	if inst.Name != "instance-1" {
		t.Errorf("Expected normalized name 'instance-1', got %q", inst.Name)
	}
	if inst.Hostname != "instance-1" {
		t.Errorf("Expected hostname to default to name, got %q", inst.Hostname)
	}
	if inst.MemoryMB != 2048 || inst.VCPUs != 2 || inst.RootGB != 8 || inst.EphemeralGB != 1 {
		t.Errorf("Unexpected sizing %+v", inst)
	}
	if len(inst.NetworkInterfaces) != 1 || inst.NetworkInterfaces[0].Address != "fa:16:3e:4c:2c:30" {
		t.Errorf("Unexpected network interfaces %+v", inst.NetworkInterfaces)
	}
	mapping := inst.Mapping()
	if len(mapping) != 1 {
		t.Fatalf("Expected 1 block device mapping, got %d", len(mapping))
	}
	if mapping[0].ConnectionInfo.Data.TargetLUN != 1 {
		t.Errorf("Expected target_lun 1, got %d", mapping[0].ConnectionInfo.Data.TargetLUN)
	}
	if inst.BootsFromVolume() {
		t.Error("Expected instance not to boot from volume")
	}
}

func TestInstanceApplyDefaults_GeneratesUUID(t *testing.T) {
	inst := validInstance()
	inst.UUID = ""
	inst.ApplyDefaults()

	if _, err := uuid.Parse(inst.UUID); err != nil {
		t.Errorf("Expected a generated UUID, got %q: %v", inst.UUID, err)
	}
}

func TestInstanceValidate(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Instance)
		expectErr string
	}{
		{
			name:   "valid",
			modify: func(*Instance) {},
		},
		{
			name:      "missing name",
			modify:    func(i *Instance) { i.Name = "" },
			expectErr: "name is required",
		},
		{
			name:      "bad name",
			modify:    func(i *Instance) { i.Name = "-bad" },
			expectErr: "name must start and end with alphanumeric",
		},
		{
			name:      "bad uuid",
			modify:    func(i *Instance) { i.UUID = "not-a-uuid" },
			expectErr: "uuid \"not-a-uuid\" is not valid",
		},
		{
			name:      "zero vcpus",
			modify:    func(i *Instance) { i.VCPUs = 0 },
			expectErr: "vcpus must be > 0",
		},
		{
			name:      "zero memory",
			modify:    func(i *Instance) { i.MemoryMB = 0 },
			expectErr: "memory_mb must be > 0",
		},
		{
			name:      "negative ephemeral",
			modify:    func(i *Instance) { i.EphemeralGB = -1 },
			expectErr: "ephemeral_gb must not be negative",
		},
		{
			name:      "missing image",
			modify:    func(i *Instance) { i.ImageRef = "" },
			expectErr: "image_ref is required",
		},
		{
			name:      "invalid SSH key",
			modify:    func(i *Instance) { i.SSHKeys = []string{"ssh-ed25519 not-valid-base64!!!"} },
			expectErr: "ssh_keys[0] is not a valid SSH public key",
		},
		{
			name: "invalid MAC",
			modify: func(i *Instance) {
				i.NetworkInterfaces = []NetworkInterface{{ID: "port-1", Address: "zz:zz"}}
			},
			expectErr: "network_interfaces[0]: invalid MAC address",
		},
		{
			name: "duplicate MAC",
			modify: func(i *Instance) {
				i.NetworkInterfaces = []NetworkInterface{
					{ID: "port-1", Address: "fa:16:3e:00:00:01"},
					{ID: "port-2", Address: "fa:16:3e:00:00:01"},
				}
			},
			expectErr: "network_interfaces[1]: duplicate address",
		},
		{
			name: "iscsi volume without portal",
			modify: func(i *Instance) {
				i.BlockDeviceInfo = &BlockDeviceInfo{Mapping: []BlockDeviceMapping{{
					MountDevice:    "/dev/vdb",
					ConnectionInfo: ConnectionInfo{DriverVolumeType: VolumeTypeISCSI},
				}}}
			},
			expectErr: "block_device_info.mapping[0]: connection_info.data.target_portal is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := validInstance()
			tt.modify(inst)

			err := inst.Validate()
			if tt.expectErr == "" {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tt.expectErr)
			}
			if !strings.Contains(err.Error(), tt.expectErr) {
				t.Errorf("Expected error containing %q, got %q", tt.expectErr, err.Error())
			}
		})
	}
}

func TestBootsFromVolume(t *testing.T) {
	iscsi := ConnectionInfo{
		DriverVolumeType: VolumeTypeISCSI,
		Data:             ISCSIData{TargetPortal: "10.0.0.5", TargetIQN: "iqn.x", TargetLUN: 0},
	}

	tests := []struct {
		name string
		info *BlockDeviceInfo
		want bool
	}{
		{name: "no block devices", info: nil, want: false},
		{
			name: "default root device mapped",
			info: &BlockDeviceInfo{Mapping: []BlockDeviceMapping{{MountDevice: "/dev/vda", ConnectionInfo: iscsi}}},
			want: true,
		},
		{
			name: "named root device mapped",
			info: &BlockDeviceInfo{
				RootDeviceName: "/dev/sda",
				Mapping:        []BlockDeviceMapping{{MountDevice: "sda", ConnectionInfo: iscsi}},
			},
			want: true,
		},
		{
			name: "data volume only",
			info: &BlockDeviceInfo{Mapping: []BlockDeviceMapping{{MountDevice: "/dev/vdb", ConnectionInfo: iscsi}}},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := validInstance()
			inst.BlockDeviceInfo = tt.info
			if got := inst.BootsFromVolume(); got != tt.want {
				t.Errorf("BootsFromVolume() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadFlavorAndApply(t *testing.T) {
	path := writeFile(t, "flavor.yaml", "root_gb: 20\nephemeral_gb: 2\nmemory_mb: 4096\nvcpus: 4\n")

	flavor, err := LoadFlavor(path)
	if err != nil {
		t.Fatalf("LoadFlavor failed: %v", err)
	}

	inst := validInstance()
	inst.ApplyFlavor(flavor)
	if inst.RootGB != 20 || inst.EphemeralGB != 2 || inst.MemoryMB != 4096 || inst.VCPUs != 4 {
		t.Errorf("ApplyFlavor() left %+v", inst)
	}

	bad := writeFile(t, "bad.yaml", "root_gb: 20\nmemory_mb: 0\nvcpus: 4\n")
	if _, err := LoadFlavor(bad); err == nil || !strings.Contains(err.Error(), "memory_mb must be > 0") {
		t.Errorf("Expected memory_mb error, got %v", err)
	}
}

func TestLoadVolume(t *testing.T) {
	path := writeFile(t, "volume.yaml", `mount_device: /dev/vdc
connection_info:
  driver_volume_type: iscsi
  data:
    target_portal: 10.0.0.5
    target_iqn: iqn.2010-10.org.openstack:volume-2
    target_lun: 3
    auth_username: user
    auth_password: secret
`)

	vol, err := LoadVolume(path)
	if err != nil {
		t.Fatalf("LoadVolume failed: %v", err)
	}
	if vol.ConnectionInfo.Data.AuthUsername != "user" || vol.ConnectionInfo.Data.TargetLUN != 3 {
		t.Errorf("Unexpected volume %+v", vol)
	}
}
