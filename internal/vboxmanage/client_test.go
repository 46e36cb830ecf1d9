package vboxmanage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jbweber/vboxdriver/internal/vboxmanage"
	"github.com/jbweber/vboxdriver/internal/vboxmanage/vboxtest"
)

func TestControlVM(t *testing.T) {
	tests := []struct {
		name    string
		stderr  string
		wantErr error
		generic bool
	}{
		{name: "success"},
		{name: "progress only", stderr: "0%...10%...100%"},
		{name: "not found", stderr: "Could not find a registered machine named 'vm-1'", wantErr: vboxmanage.ErrInstanceNotFound},
		{name: "invalid state", stderr: "Machine in invalid state", wantErr: vboxmanage.ErrInvalidState},
		{name: "generic", stderr: "error: the sky fell", generic: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := vboxtest.New()
			r.Respond("controlvm", vboxtest.Response{Stderr: tt.stderr})
			c := vboxtest.NewClient(r)

			err := c.ControlVM(context.Background(), "vm-1", vboxmanage.ControlPowerOff)

			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ControlVM() error = %v, want %v", err, tt.wantErr)
				}
			case tt.generic:
				if !vboxmanage.IsManageError(err) || vboxmanage.Kind(err) != "generic" {
					t.Fatalf("ControlVM() error = %v, want generic management error", err)
				}
			default:
				if err != nil {
					t.Fatalf("ControlVM() unexpected error: %v", err)
				}
			}

			if diff := cmp.Diff([][]string{{"vm-1", "poweroff"}}, r.Calls("controlvm")); diff != "" {
				t.Errorf("calls mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestControlVM_RejectsUnknownState(t *testing.T) {
	r := vboxtest.New()
	c := vboxtest.NewClient(r)

	err := c.ControlVM(context.Background(), "vm-1", vboxmanage.ControlState("hibernate"))
	if !errors.Is(err, vboxmanage.ErrValueNotAllowed) {
		t.Fatalf("error = %v, want ErrValueNotAllowed", err)
	}
	if r.CallCount("controlvm") != 0 {
		t.Error("VBoxManage should not be invoked for a rejected value")
	}
}

func TestStartVM_RetriesInternalError(t *testing.T) {
	r := vboxtest.New()
	r.Queue("startvm",
		vboxtest.Response{Stderr: "VERR_INTERNAL_ERROR"},
		vboxtest.Response{Stdout: "VM has been successfully started."},
	)
	c := vboxtest.NewClient(r)

	if err := c.StartVM(context.Background(), "vm-1", vboxmanage.StartHeadless); err != nil {
		t.Fatalf("StartVM() error = %v", err)
	}
	if got := r.CallCount("startvm"); got != 2 {
		t.Errorf("startvm calls = %d, want 2", got)
	}
	if !r.HasCall("startvm", "vm-1", "--type", "headless") {
		t.Errorf("unexpected calls %v", r.Calls("startvm"))
	}
}

func TestStartVM_GivesUpAfterRetries(t *testing.T) {
	r := vboxtest.New()
	r.Respond("startvm", vboxtest.Response{Stderr: "VERR_INTERNAL_ERROR"})
	c := vboxtest.NewClient(r)

	err := c.StartVM(context.Background(), "vm-1", vboxmanage.StartHeadless)
	if !vboxmanage.IsManageError(err) {
		t.Fatalf("StartVM() error = %v, want management error", err)
	}
	if got := r.CallCount("startvm"); got != 3 {
		t.Errorf("startvm calls = %d, want 3", got)
	}
}

func TestCreateHD(t *testing.T) {
	r := vboxtest.New()
	r.Respond("createhd", vboxtest.Response{
		Stdout: "Medium created. UUID: 6917a94b-ecb0-4996-8ab8-5e4ef8f9539a\n",
		Stderr: "0%...10%...20%...100%",
	})
	c := vboxtest.NewClient(r)

	uuid, err := c.CreateHD(context.Background(), vboxmanage.CreateHDOptions{
		Filename: "/vms/i-1/root.vdi",
		Parent:   "/vms/_base/img.vdi",
	})
	if err != nil {
		t.Fatalf("CreateHD() error = %v", err)
	}
	if uuid != "6917a94b-ecb0-4996-8ab8-5e4ef8f9539a" {
		t.Errorf("uuid = %q", uuid)
	}

	want := [][]string{{
		"--filename", "/vms/i-1/root.vdi",
		"--format", "VDI",
		"--variant", "Standard",
		"--diffparent", "/vms/_base/img.vdi",
	}}
	if diff := cmp.Diff(want, r.Calls("createhd")); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateHD_Errors(t *testing.T) {
	tests := []struct {
		name    string
		opts    vboxmanage.CreateHDOptions
		stderr  string
		wantErr error
		invoked bool
	}{
		{
			name:    "bad format",
			opts:    vboxmanage.CreateHDOptions{Filename: "x", Format: "QCOW2", SizeMB: 1},
			wantErr: vboxmanage.ErrInvalidDiskFormat,
		},
		{
			name:    "bad variant",
			opts:    vboxmanage.CreateHDOptions{Filename: "x", Variant: "Sparse", SizeMB: 1},
			wantErr: vboxmanage.ErrValueNotAllowed,
		},
		{
			name:    "negative size",
			opts:    vboxmanage.CreateHDOptions{Filename: "x", SizeMB: -5},
			wantErr: vboxmanage.ErrInvalidDiskInfo,
		},
		{
			name:    "file exists",
			opts:    vboxmanage.CreateHDOptions{Filename: "x", SizeMB: 1},
			stderr:  "error: VBOX_E_FILE_ERROR",
			wantErr: vboxmanage.ErrDestinationExists,
			invoked: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := vboxtest.New()
			r.Respond("createhd", vboxtest.Response{Stderr: tt.stderr})
			c := vboxtest.NewClient(r)

			_, err := c.CreateHD(context.Background(), tt.opts)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("CreateHD() error = %v, want %v", err, tt.wantErr)
			}
			if invoked := r.CallCount("createhd") > 0; invoked != tt.invoked {
				t.Errorf("invoked = %v, want %v", invoked, tt.invoked)
			}
		})
	}
}

func TestCloneHD(t *testing.T) {
	r := vboxtest.New()
	c := vboxtest.NewClient(r)

	err := c.CloneHD(context.Background(), "/a.vhd", "/b.vhd", vboxmanage.CloneHDOptions{
		Format:   vboxmanage.DiskFormatVHD,
		Variant:  vboxmanage.VariantStandard,
		Existing: true,
	})
	if err != nil {
		t.Fatalf("CloneHD() error = %v", err)
	}

	want := [][]string{{"/a.vhd", "/b.vhd", "--format", "VHD", "--variant", "Standard", "--existing"}}
	if diff := cmp.Diff(want, r.Calls("clonehd")); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestShowHDInfo_InvalidArgument(t *testing.T) {
	r := vboxtest.New()
	r.Respond("showhdinfo", vboxtest.Response{Stderr: "NS_ERROR_INVALID_ARG (0x80070057)"})
	c := vboxtest.NewClient(r)

	_, err := c.ShowHDInfo(context.Background(), "/a.vdi")
	if !errors.Is(err, vboxmanage.ErrInvalid) {
		t.Fatalf("ShowHDInfo() error = %v, want ErrInvalid", err)
	}
}

func TestAttachISCSI(t *testing.T) {
	tests := []struct {
		name   string
		target vboxmanage.ISCSITarget
		want   []string
	}{
		{
			name:   "default port without credentials",
			target: vboxmanage.ISCSITarget{Portal: "10.0.0.5", IQN: "iqn.2010-10.org:vol", LUN: 1, Username: "u"},
			want: []string{"vm-1",
				"--storagectl", "SCSI", "--port", "2", "--device", "0",
				"--type", "hdd", "--medium", "iscsi",
				"--server", "10.0.0.5", "--tport", "3260", "--lun", "1",
				"--target", "iqn.2010-10.org:vol", "--initiator", "iqn.2008-04.com.sun:host"},
		},
		{
			name:   "explicit port with credentials",
			target: vboxmanage.ISCSITarget{Portal: "10.0.0.5:3261", IQN: "iqn", LUN: 0, Username: "u", Password: "p"},
			want: []string{"vm-1",
				"--storagectl", "SCSI", "--port", "2", "--device", "0",
				"--type", "hdd", "--medium", "iscsi",
				"--server", "10.0.0.5", "--tport", "3261", "--lun", "0",
				"--target", "iqn", "--initiator", "iqn.2008-04.com.sun:host",
				"--username", "u", "--password", "p"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := vboxtest.New()
			c := vboxtest.NewClient(r)

			if err := c.AttachISCSI(context.Background(), "vm-1", "SCSI", 2, 0, tt.target, "iqn.2008-04.com.sun:host"); err != nil {
				t.Fatalf("AttachISCSI() error = %v", err)
			}
			if diff := cmp.Diff([][]string{tt.want}, r.Calls("storageattach")); diff != "" {
				t.Errorf("calls mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStorageAttach_Errors(t *testing.T) {
	r := vboxtest.New()
	r.Queue("storageattach",
		vboxtest.Response{Stderr: "NS_ERROR_INVALID_ARG"},
		vboxtest.Response{Stderr: "Could not find a registered machine named 'vm-1'"},
	)
	c := vboxtest.NewClient(r)
	a := vboxmanage.Attachment{Controller: "SATA", Type: vboxmanage.DriveHDD, Medium: "/root.vdi"}

	if err := c.StorageAttach(context.Background(), "vm-1", a); !errors.Is(err, vboxmanage.ErrInvalid) {
		t.Errorf("first error = %v, want ErrInvalid", err)
	}
	if err := c.StorageAttach(context.Background(), "vm-1", a); !errors.Is(err, vboxmanage.ErrInstanceNotFound) {
		t.Errorf("second error = %v, want ErrInstanceNotFound", err)
	}

	a.Type = "tape"
	if err := c.StorageAttach(context.Background(), "vm-1", a); !errors.Is(err, vboxmanage.ErrValueNotAllowed) {
		t.Errorf("third error = %v, want ErrValueNotAllowed", err)
	}
}

func TestCreateVM(t *testing.T) {
	r := vboxtest.New()
	r.Queue("createvm",
		vboxtest.Response{Stdout: "Virtual machine 'vm-1' is created and registered.\nUUID: 1234\nSettings file: '/vms/vm-1/vm-1.vbox'\n"},
		vboxtest.Response{Stderr: "VBOX_E_FILE_ERROR"},
	)
	c := vboxtest.NewClient(r)

	id, err := c.CreateVM(context.Background(), "vm-1", "/vms", true)
	if err != nil || id != "1234" {
		t.Fatalf("CreateVM() = %q, %v", id, err)
	}
	if !r.HasCall("createvm", "--name", "vm-1", "--basefolder", "/vms", "--register") {
		t.Errorf("unexpected calls %v", r.Calls("createvm"))
	}

	_, err = c.CreateVM(context.Background(), "vm-1", "/vms", true)
	var vboxErr *vboxmanage.Error
	if !errors.As(err, &vboxErr) || !errors.Is(err, vboxmanage.ErrDestinationExists) || vboxErr.Reason != "/vms/vm-1" {
		t.Errorf("second CreateVM() error = %#v", err)
	}
}

func TestModifyNetwork(t *testing.T) {
	r := vboxtest.New()
	c := vboxtest.NewClient(r)

	if err := c.ModifyNetwork(context.Background(), "vm-1", vboxmanage.NICMACAddress, 3, "0800271B2C3D"); err != nil {
		t.Fatalf("ModifyNetwork() error = %v", err)
	}
	if !r.HasCall("modifyvm", "vm-1", "--macaddress3", "0800271B2C3D") {
		t.Errorf("unexpected calls %v", r.Calls("modifyvm"))
	}
}

func TestCloseMedium(t *testing.T) {
	r := vboxtest.New()
	c := vboxtest.NewClient(r)

	if err := c.CloseMedium(context.Background(), vboxmanage.MediumDisk, "/a.vdi", true); err != nil {
		t.Fatalf("CloseMedium() error = %v", err)
	}
	if !r.HasCall("closemedium", "disk", "/a.vdi", "--delete") {
		t.Errorf("unexpected calls %v", r.Calls("closemedium"))
	}
}

func TestList_ErrorOnStderr(t *testing.T) {
	r := vboxtest.New()
	r.Respond("list", vboxtest.Response{Stderr: "boom"})
	c := vboxtest.NewClient(r)

	if _, err := c.List(context.Background(), vboxmanage.ListVMs); !vboxmanage.IsManageError(err) {
		t.Errorf("List() error = %v, want management error", err)
	}
}

func TestSetHDParentUUID(t *testing.T) {
	r := vboxtest.New()
	c := vboxtest.NewClient(r)

	if err := c.SetHDParentUUID(context.Background(), "/root.vdi", "parent"); err != nil {
		t.Fatalf("SetHDParentUUID() error = %v", err)
	}
	want := [][]string{{"sethdparentuuid", "/root.vdi", "parent"}}
	if diff := cmp.Diff(want, r.Calls("internalcommands")); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}
