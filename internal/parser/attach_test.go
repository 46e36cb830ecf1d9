package parser

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestControllerDisks(t *testing.T) {
	info := VMInfo{
		"SATA-0-0":           "/vms/i-1/root.vdi",
		"SATA-ImageUUID-0-0": "uuid-root",
		"SATA-1-0":           "",
		"SCSI-0-0":           "/vms/i-1/vol",
		"xSATA-2-0":          "/ignored",
		"SATA-IsEjected":     "off",
	}

	got := ControllerDisks("SATA", info)
	want := Controller{
		{Port: 0, Device: 0}: {Path: "/vms/i-1/root.vdi", UUID: "uuid-root"},
		{Port: 1, Device: 0}: {},
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ControllerDisks() mismatch (-want +got):\n%s", diff)
	}
}

func TestController_Points(t *testing.T) {
	c := Controller{
		{Port: 2, Device: 0}: {},
		{Port: 0, Device: 1}: {},
		{Port: 0, Device: 0}: {},
	}

	want := []AttachPoint{{0, 0}, {0, 1}, {2, 0}}
	if diff := cmp.Diff(want, c.Points()); diff != "" {
		t.Errorf("Points() mismatch (-want +got):\n%s", diff)
	}
}

func TestControllerNames(t *testing.T) {
	info := VMInfo{
		"storagecontrollername1":      "SCSI",
		"storagecontrollername0":      "SATA",
		"storagecontrollertype0":      "IntelAhci",
		"storagecontrollername2":      "",
		"storagecontrollerportcount0": "30",
	}

	want := []string{"SATA", "SCSI"}
	if diff := cmp.Diff(want, ControllerNames(info)); diff != "" {
		t.Errorf("ControllerNames() mismatch (-want +got):\n%s", diff)
	}
}
