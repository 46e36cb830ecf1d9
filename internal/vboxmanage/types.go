package vboxmanage

import (
	"fmt"
	"slices"
	"strings"
)

// ControlState is an argument of "controlvm".
type ControlState string

const (
	ControlPause           ControlState = "pause"
	ControlReset           ControlState = "reset"
	ControlResume          ControlState = "resume"
	ControlSaveState       ControlState = "savestate"
	ControlPowerOff        ControlState = "poweroff"
	ControlACPIPowerButton ControlState = "acpipowerbutton" // ACPI shutdown request
	ControlACPISleepButton ControlState = "acpisleepbutton" // ACPI sleep request
)

var controlStates = []ControlState{
	ControlPause, ControlReset, ControlResume, ControlSaveState,
	ControlPowerOff, ControlACPIPowerButton, ControlACPISleepButton,
}

// StartType is the frontend used by "startvm".
type StartType string

const (
	StartHeadless StartType = "headless" // Remote display only
	StartGUI      StartType = "gui"
	StartSDL      StartType = "sdl"
)

var startTypes = []StartType{StartHeadless, StartGUI, StartSDL}

// DiskFormat is a virtual disk file format.
type DiskFormat string

const (
	DiskFormatVDI  DiskFormat = "VDI"
	DiskFormatVHD  DiskFormat = "VHD"
	DiskFormatVMDK DiskFormat = "VMDK"
)

// DiskFormats lists the supported formats in lookup order.
var DiskFormats = []DiskFormat{DiskFormatVDI, DiskFormatVHD, DiskFormatVMDK}

// ParseDiskFormat returns the DiskFormat named by s, ignoring case.
func ParseDiskFormat(s string) (DiskFormat, error) {
	f := DiskFormat(strings.ToUpper(strings.TrimSpace(s)))
	if err := f.Validate(); err != nil {
		return "", err
	}
	return f, nil
}

// Validate returns ErrInvalidDiskFormat for unsupported formats.
func (f DiskFormat) Validate() error {
	if slices.Contains(DiskFormats, f) {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidDiskFormat, string(f))
}

// Extension returns the file extension used for the format, without a dot.
func (f DiskFormat) Extension() string {
	return strings.ToLower(string(f))
}

// Variant is a disk format variant.
type Variant string

const (
	VariantESX      Variant = "ESX"
	VariantFixed    Variant = "Fixed"
	VariantStandard Variant = "Standard" // Dynamically allocated
	VariantStream   Variant = "Stream"
	VariantSplit2G  Variant = "Split2G"
)

var variants = []Variant{VariantESX, VariantFixed, VariantStandard, VariantStream, VariantSplit2G}

// HDField is a "modifyhd" option.
type HDField string

const (
	HDAutoReset  HDField = "--autoreset"
	HDCompact    HDField = "--compact"
	HDResizeByte HDField = "--resizebyte"
	HDResize     HDField = "--resize" // New size in MB
	HDType       HDField = "--type"
)

var hdFields = []HDField{HDAutoReset, HDCompact, HDResizeByte, HDResize, HDType}

// DiskType is a value of "modifyhd --type".
type DiskType string

const (
	DiskTypeNormal      DiskType = "normal"
	DiskTypeImmutable   DiskType = "immutable"
	DiskTypeReadOnly    DiskType = "readonly"
	DiskTypeMultiAttach DiskType = "multiattach"
	DiskTypeShareable   DiskType = "shareable"
)

// VMField is a general "modifyvm" option.
type VMField string

const (
	VMCPUs        VMField = "--cpus"
	VMDescription VMField = "--description"
	VMMemory      VMField = "--memory" // MB
	VMOSType      VMField = "--ostype"
)

var vmFields = []VMField{VMCPUs, VMDescription, VMMemory, VMOSType}

// NICField is a "modifyvm" network option. The NIC index is appended to the
// flag on the command line.
type NICField string

const (
	NICMode           NICField = "nic"
	NICType           NICField = "nictype"
	NICCableConnected NICField = "cableconnected"
	NICBridgeAdapter  NICField = "bridgeadapter"
	NICMACAddress     NICField = "macaddress"
)

var nicFields = []NICField{NICMode, NICType, NICCableConnected, NICBridgeAdapter, NICMACAddress}

// Flag returns the command line flag for NIC index.
func (f NICField) Flag(index int) string {
	return fmt.Sprintf("--%s%d", f, index)
}

// NIC attachment modes.
const (
	NICModeNone     = "none"
	NICModeNull     = "null"
	NICModeNAT      = "nat"
	NICModeBridged  = "bridged"
	NICModeIntnet   = "intnet"
	NICModeHostOnly = "hostonly"
	NICModeGeneric  = "generic"
)

// NIC hardware models. VBoxManage accepts these as free-form strings.
const (
	NICTypeAm79C970A = "Am79C970A"
	NICTypeAm79C973  = "Am79C973"
	NICType82540EM   = "82540EM"
	NICType82543GC   = "82543GC"
	NICType82545EM   = "82545EM"
	NICTypeVirtio    = "virtio"
)

// VRDEField is a "modifyvm" remote display option.
type VRDEField string

const (
	VRDEExtPack      VRDEField = "--vrdeextpack"
	VRDEMultiCon     VRDEField = "--vrdemulticon"
	VRDEPort         VRDEField = "--vrdeport"
	VRDE             VRDEField = "--vrde" // on or off
	VRDEVideoChannel VRDEField = "--vrdevideochannel"
	VRDEProperty     VRDEField = "--vrdeproperty"
)

var vrdeFields = []VRDEField{VRDEExtPack, VRDEMultiCon, VRDEPort, VRDE, VRDEVideoChannel, VRDEProperty}

// DriveType is the "--type" of "storageattach".
type DriveType string

const (
	DriveDVD    DriveType = "dvddrive"
	DriveFloppy DriveType = "fdd"
	DriveHDD    DriveType = "hdd"
)

var driveTypes = []DriveType{DriveDVD, DriveFloppy, DriveHDD}

// Special "--medium" values of "storageattach". Any other value is a path.
const (
	MediumNone  = "none"
	MediumISCSI = "iscsi"
)

// MediumKind is the first argument of "closemedium".
type MediumKind string

const (
	MediumDisk   MediumKind = "disk"
	MediumDVD    MediumKind = "dvd"
	MediumFloppy MediumKind = "floppy"
)

var mediumKinds = []MediumKind{MediumDisk, MediumDVD, MediumFloppy}

// SystemBus is the bus a storage controller is attached to.
type SystemBus string

const (
	BusIDE  SystemBus = "ide"
	BusSATA SystemBus = "sata"
	BusSCSI SystemBus = "scsi"
)

var systemBuses = []SystemBus{BusIDE, BusSATA, BusSCSI}

// ControllerName returns the controller name the driver uses for the bus.
func (b SystemBus) ControllerName() string {
	return strings.ToUpper(string(b))
}

// DefaultChipset returns the chipset the driver emulates on the bus.
func (b SystemBus) DefaultChipset() Chipset {
	switch b {
	case BusIDE:
		return ChipsetPIIX4
	case BusSATA:
		return ChipsetIntelAHCI
	default:
		return ChipsetLSILogic
	}
}

// Chipset is the "--controller" of "storagectl".
type Chipset string

const (
	ChipsetBusLogic    Chipset = "BusLogic"
	ChipsetI82078      Chipset = "I82078"
	ChipsetICH6        Chipset = "ICH6"
	ChipsetIntelAHCI   Chipset = "IntelAhci"
	ChipsetLSILogic    Chipset = "LsiLogic"
	ChipsetLSILogicSAS Chipset = "LSILogicSAS"
	ChipsetPIIX3       Chipset = "PIIX3"
	ChipsetPIIX4       Chipset = "PIIX4"
)

var chipsets = []Chipset{
	ChipsetBusLogic, ChipsetI82078, ChipsetICH6, ChipsetIntelAHCI,
	ChipsetLSILogic, ChipsetLSILogicSAS, ChipsetPIIX3, ChipsetPIIX4,
}

// Property is a global "setproperty" name.
type Property string

const (
	PropertyVRDEExtPack   Property = "vrdeextpack"
	PropertyMachineFolder Property = "machinefolder"
)

var properties = []Property{PropertyVRDEExtPack, PropertyMachineFolder}

// ListKind is the argument of "list".
type ListKind string

const (
	ListHostInfo   ListKind = "hostinfo"
	ListOSTypes    ListKind = "ostypes"
	ListVMs        ListKind = "vms"
	ListRunningVMs ListKind = "runningvms"
	ListHDDs       ListKind = "hdds"
	ListExtPacks   ListKind = "extpacks"
)

var listKinds = []ListKind{ListHostInfo, ListOSTypes, ListVMs, ListRunningVMs, ListHDDs, ListExtPacks}

// checkAllowed returns a value-not-allowed error when value is not in allowed.
func checkAllowed[T ~string](method, argument string, value T, allowed []T) error {
	if slices.Contains(allowed, value) {
		return nil
	}
	return valueNotAllowed(method, argument, value, allowed)
}
