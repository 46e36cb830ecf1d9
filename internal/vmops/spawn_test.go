package vmops

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/jbweber/vboxdriver/internal/config"
	"github.com/jbweber/vboxdriver/internal/vboxmanage/vboxtest"
	"github.com/jbweber/vboxdriver/internal/vhd"
)

func testInstance() *config.Instance {
	return &config.Instance{
		Name:        "vm1",
		UUID:        "7f0e4a32-3f6b-4d38-9d7a-b3a8f0a4f1c2",
		MemoryMB:    512,
		VCPUs:       1,
		RootGB:      2,
		EphemeralGB: 1,
		ImageRef:    "cirros",
		OSType:      "Ubuntu_64",
		Hostname:    "vm1",
		NetworkInterfaces: []config.NetworkInterface{
			{ID: "port1", Address: "fa:16:3e:4c:2c:30"},
		},
	}
}

func TestSpawn_FullClone(t *testing.T) {
	h := newFakeHost(Options{})
	r := h.runner

	if err := h.ops.Spawn(context.Background(), testInstance()); err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	if !r.HasCall("createvm", "--name", "vm1", "--basefolder", "/instances", "--register") {
		t.Errorf("createvm calls = %v", r.Calls("createvm"))
	}
	if !r.HasCall("modifyvm", "vm1", "--ostype", "Ubuntu_64") {
		t.Error("expected os type to be set")
	}
	if !r.HasCall("modifyvm", "vm1", "--memory", "512") {
		t.Error("expected memory to be set")
	}
	if !r.HasCall("modifyvm", "vm1", "--cpus", "1") {
		t.Error("expected cpus to be set")
	}

	wantClone := [][]string{{basePath, "/instances/vm1/root.vhd", "--format", "VHD", "--variant", "Standard"}}
	if diff := cmp.Diff(wantClone, r.Calls("clonehd")); diff != "" {
		t.Errorf("clonehd calls mismatch (-want +got):\n%s", diff)
	}

	wantModifyHD := [][]string{
		{"/instances/vm1/root.vhd", "--resize", "2048"},
		{"/instances/vm1/ephemeral.vdi", "--type", "immutable"},
	}
	if diff := cmp.Diff(wantModifyHD, r.Calls("modifyhd")); diff != "" {
		t.Errorf("modifyhd calls mismatch (-want +got):\n%s", diff)
	}

	if !r.HasCall("createhd", "--filename", "/instances/vm1/ephemeral.vdi", "--format", "VDI", "--variant", "Standard", "--size", "1024") {
		t.Errorf("createhd calls = %v", r.Calls("createhd"))
	}
	if !r.HasCall("storageattach", "vm1", "--storagectl", "SATA", "--port", "0", "--device", "0", "--type", "hdd", "--medium", "/instances/vm1/root.vhd") {
		t.Error("expected root disk at SATA port 0")
	}
	if !r.HasCall("storageattach", "vm1", "--storagectl", "SATA", "--port", "1", "--device", "0", "--type", "hdd", "--medium", "/instances/vm1/ephemeral.vdi") {
		t.Error("expected ephemeral disk at SATA port 1")
	}
	for _, name := range []string{"SATA", "SCSI"} {
		if !r.HasCall("storagectl", "vm1", "--name", name) {
			t.Errorf("expected %s controller", name)
		}
	}
	if r.HasCall("storagectl", "vm1", "--name", "IDE") {
		t.Error("IDE controller created without config drive")
	}
	if !r.HasCall("modifyvm", "vm1", "--description", `{"network":{"FA163E4C2C30":"port1"}}`) {
		t.Errorf("modifyvm calls = %v", r.Calls("modifyvm"))
	}
	if r.CallCount("unregistervm") != 0 {
		t.Error("spawned VM was destroyed")
	}
}

func TestSpawn_CopyOnWrite(t *testing.T) {
	h := newFakeHost(Options{UseCOWImages: true})
	inst := testInstance()
	inst.RootGB = 1
	inst.EphemeralGB = 0

	if err := h.ops.Spawn(context.Background(), inst); err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	r := h.runner
	if r.CallCount("clonehd") != 0 {
		t.Errorf("clonehd called for copy-on-write root: %v", r.Calls("clonehd"))
	}
	want := [][]string{{"--filename", "/instances/vm1/root.vhd", "--format", "VHD", "--variant", "Standard", "--diffparent", basePath}}
	if diff := cmp.Diff(want, r.Calls("createhd")); diff != "" {
		t.Errorf("createhd calls mismatch (-want +got):\n%s", diff)
	}
	if got := r.CallCount("modifyhd"); got != 0 {
		t.Errorf("modifyhd calls = %d, want 0 for equal sizes", got)
	}
}

func TestSpawn_AlreadyExists(t *testing.T) {
	h := newFakeHost(Options{})
	h.register("vm1", map[string]string{"VMState": "running"})

	err := h.ops.Spawn(context.Background(), testInstance())
	if !errors.Is(err, ErrInstanceExists) {
		t.Fatalf("Spawn() error = %v, want ErrInstanceExists", err)
	}
	if h.runner.CallCount("createvm") != 0 || h.runner.CallCount("unregistervm") != 0 {
		t.Errorf("unexpected calls: %v", h.runner.AllCalls())
	}
}

func TestSpawn_FailureDestroys(t *testing.T) {
	h := newFakeHost(Options{})
	fetchErr := errors.New("image service unavailable")
	h.images.getFunc = func(context.Context, string) (string, error) { return "", fetchErr }

	err := h.ops.Spawn(context.Background(), testInstance())
	if !errors.Is(err, fetchErr) {
		t.Fatalf("Spawn() error = %v, want %v", err, fetchErr)
	}

	if !h.runner.HasCall("unregistervm", "vm1", "--delete") {
		t.Errorf("unregistervm calls = %v", h.runner.Calls("unregistervm"))
	}
	if len(h.vms) != 0 {
		t.Errorf("VMs left registered: %v", h.vms)
	}
	if ok, _ := afero.DirExists(h.fs, "/instances/vm1"); ok {
		t.Error("instance directory not removed")
	}
}

func TestSpawn_ConfigDrive(t *testing.T) {
	h := newFakeHost(Options{ConfigDrive: true})

	if err := h.ops.Spawn(context.Background(), testInstance()); err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	if ok, _ := afero.Exists(h.fs, "/instances/vm1/configdrive.iso"); !ok {
		t.Error("config drive not written")
	}
	r := h.runner
	if !r.HasCall("storagectl", "vm1", "--name", "IDE") {
		t.Errorf("storagectl calls = %v", r.Calls("storagectl"))
	}
	if !r.HasCall("storageattach", "vm1", "--storagectl", "IDE", "--port", "0", "--device", "0", "--type", "dvddrive", "--medium", "/instances/vm1/configdrive.iso") {
		t.Errorf("storageattach calls = %v", r.Calls("storageattach"))
	}
}

func TestSpawn_BootFromVolume(t *testing.T) {
	h := newFakeHost(Options{})
	inst := testInstance()
	inst.EphemeralGB = 0
	inst.BlockDeviceInfo = &config.BlockDeviceInfo{
		RootDeviceName: "/dev/vda",
		Mapping: []config.BlockDeviceMapping{{
			MountDevice: "/dev/vda",
			ConnectionInfo: config.ConnectionInfo{
				DriverVolumeType: config.VolumeTypeISCSI,
				Data: config.ISCSIData{
					TargetPortal: "10.0.0.5:3260",
					TargetIQN:    "iqn.2010-10.org.openstack:volume-1",
					TargetLUN:    1,
				},
			},
		}},
	}

	if err := h.ops.Spawn(context.Background(), inst); err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	r := h.runner
	if len(h.images.getCalls) != 0 || r.CallCount("clonehd") != 0 {
		t.Error("root disk created for an instance booting from volume")
	}
	calls := r.Calls("storageattach")
	if len(calls) != 1 {
		t.Fatalf("storageattach calls = %v, want 1", calls)
	}
	got := calls[0]
	if vboxtest.ArgValue(got, "--storagectl") != "SATA" || vboxtest.ArgValue(got, "--port") != "0" || vboxtest.ArgValue(got, "--medium") != "iscsi" {
		t.Errorf("storageattach = %v, want iscsi medium at SATA port 0", got)
	}
}

func TestCreateInstance_UnknownOSType(t *testing.T) {
	h := newFakeHost(Options{})
	inst := testInstance()
	inst.OSType = "Plan9"
	inst.NetworkInterfaces = nil

	if err := h.ops.CreateInstance(context.Background(), inst, false); err != nil {
		t.Fatalf("CreateInstance() error = %v", err)
	}
	if !h.runner.HasCall("modifyvm", "vm1", "--ostype", "Other") {
		t.Errorf("modifyvm calls = %v", h.runner.Calls("modifyvm"))
	}
}

func TestCreateRootDisk_Shrink(t *testing.T) {
	h := newFakeHost(Options{})
	h.addDisk(basePath, "VHD", 4096)
	inst := testInstance()
	inst.RootGB = 2

	_, err := h.ops.CreateRootDisk(context.Background(), inst)
	if !errors.Is(err, vhd.ErrCannotResize) {
		t.Fatalf("CreateRootDisk() error = %v, want ErrCannotResize", err)
	}
}

func TestCreateEphemeralDisk_None(t *testing.T) {
	h := newFakeHost(Options{})
	inst := testInstance()
	inst.EphemeralGB = 0

	path, err := h.ops.CreateEphemeralDisk(context.Background(), inst)
	if err != nil || path != "" {
		t.Fatalf("CreateEphemeralDisk() = %q, %v; want empty", path, err)
	}
	if h.runner.CallCount("createhd") != 0 {
		t.Error("createhd called without ephemeral size")
	}
}
