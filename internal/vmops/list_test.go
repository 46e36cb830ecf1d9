package vmops

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/jbweber/vboxdriver/internal/status"
	"github.com/jbweber/vboxdriver/internal/vmutil"
)

func TestListInstances(t *testing.T) {
	h := newFakeHost(Options{})
	h.register("vm1", map[string]string{})
	h.register("web server", map[string]string{})

	names, err := h.ops.ListInstances(context.Background())
	if err != nil {
		t.Fatalf("ListInstances() error = %v", err)
	}
	if diff := cmp.Diff([]string{"vm1", "web server"}, names); diff != "" {
		t.Errorf("ListInstances() mismatch (-want +got):\n%s", diff)
	}

	uuids, err := h.ops.ListInstanceUUIDs(context.Background())
	if err != nil {
		t.Fatalf("ListInstanceUUIDs() error = %v", err)
	}
	if len(uuids) != 2 || uuids[0] != "7f0e4a32-3f6b-4d38-9d7a-b3a8f0a4f1c2" {
		t.Errorf("ListInstanceUUIDs() = %v", uuids)
	}

	for name, want := range map[string]bool{"vm1": true, "web server": true, "vm2": false} {
		got, err := h.ops.InstanceExists(context.Background(), name)
		if err != nil {
			t.Fatalf("InstanceExists(%q) error = %v", name, err)
		}
		if got != want {
			t.Errorf("InstanceExists(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestGetInfo(t *testing.T) {
	h := newFakeHost(Options{})
	h.register("vm1", map[string]string{
		"VMState":  "running",
		"memory":   "512",
		"cpus":     "2",
		"SATA-0-0": "/instances/vm1/root.vdi",
	})

	got, err := h.ops.GetInfo(context.Background(), "vm1")
	if err != nil {
		t.Fatalf("GetInfo() error = %v", err)
	}
	want := vmutil.Info{
		Name:     "vm1",
		State:    status.Running,
		VMState:  "running",
		MemoryMB: 512,
		CPUs:     2,
		Networks: map[string]string{},
		RootDisk: "/instances/vm1/root.vdi",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GetInfo() mismatch (-want +got):\n%s", diff)
	}
}

func TestInitHost(t *testing.T) {
	h := newFakeHost(Options{})
	if err := afero.WriteFile(h.fs, "/images/present.vdi", []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	h.hdds = `UUID:           gone
Parent UUID:    base
State:          inaccessible
Location:       /images/gone.vdi

UUID:           present
Parent UUID:    base
State:          inaccessible
Location:       /images/present.vdi

UUID:           fine
Parent UUID:    base
State:          created
Location:       /images/fine.vdi
`

	if err := h.ops.InitHost(context.Background()); err != nil {
		t.Fatalf("InitHost() error = %v", err)
	}
	want := [][]string{{"disk", "gone"}}
	if diff := cmp.Diff(want, h.runner.Calls("closemedium")); diff != "" {
		t.Errorf("closemedium calls mismatch (-want +got):\n%s", diff)
	}
}

func TestAvailableNIC(t *testing.T) {
	tests := []struct {
		name    string
		info    map[string]string
		want    int
		wantErr error
	}{
		{name: "lowest free", info: map[string]string{"nic1": "nat", "nic2": "none", "nic3": "none", "nictype1": "Am79C973"}, want: 2},
		{name: "ignores order", info: map[string]string{"nic10": "none", "nic4": "none", "nic1": "null"}, want: 4},
		{name: "all used", info: map[string]string{"nic1": "nat", "nic2": "null"}, wantErr: ErrNoMoreNetworks},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newFakeHost(Options{})
			h.register("vm1", tt.info)

			got, err := h.ops.AvailableNIC(context.Background(), "vm1")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("AvailableNIC() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("AvailableNIC() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCreateNIC(t *testing.T) {
	h := newFakeHost(Options{})
	h.register("vm1", map[string]string{"nic1": "nat", "nic2": "none"})

	err := h.ops.CreateNIC(context.Background(), "vm1", testInstance().NetworkInterfaces[0])
	if err != nil {
		t.Fatalf("CreateNIC() error = %v", err)
	}
	want := [][]string{
		{"vm1", "--nic2", "null"},
		{"vm1", "--nictype2", "Am79C973"},
		{"vm1", "--macaddress2", "FA163E4C2C30"},
		{"vm1", "--cableconnected2", "on"},
	}
	if diff := cmp.Diff(want, h.runner.Calls("modifyvm")); diff != "" {
		t.Errorf("modifyvm calls mismatch (-want +got):\n%s", diff)
	}
}
