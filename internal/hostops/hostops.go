// Package hostops reports the resources of the hypervisor host.
package hostops

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"runtime"
	"strings"

	"github.com/hashicorp/go-version"

	"github.com/jbweber/vboxdriver/internal/logger"
	"github.com/jbweber/vboxdriver/internal/parser"
	"github.com/jbweber/vboxdriver/internal/pathutil"
)

const (
	// MinimumVersion is the oldest supported VirtualBox release.
	MinimumVersion = "4.3"

	// HypervisorType is the hypervisor name reported to the scheduler.
	HypervisorType = "vbox"

	gib = 1024 * 1024 * 1024
)

// ErrUnsupportedVersion means VirtualBox is older than MinimumVersion.
var ErrUnsupportedVersion = errors.New("unsupported VirtualBox version")

// leadingVersion matches the release number at the start of "--version"
// output such as "7.0.10r158379" or "6.1.38_Ubuntur153438".
var leadingVersion = regexp.MustCompile(`^\d+(\.\d+)*`)

// vboxClient is satisfied by *vboxmanage.Client.
type vboxClient interface {
	Version(ctx context.Context) (string, error)
}

// hostUtils is satisfied by *vmutil.Utils.
type hostUtils interface {
	HostInfo(ctx context.Context) (parser.HostInfo, error)
}

// Topology is the processor layout of the host.
type Topology struct {
	Sockets int `json:"sockets" yaml:"sockets"`
	Cores   int `json:"cores" yaml:"cores"`
	Threads int `json:"threads" yaml:"threads"`
}

// CPUInfo describes the host processor.
type CPUInfo struct {
	Topology Topology `json:"topology" yaml:"topology"`
	Arch     string   `json:"arch" yaml:"arch"`
	Model    string   `json:"model,omitempty" yaml:"model,omitempty"`
	Vendor   string   `json:"vendor,omitempty" yaml:"vendor,omitempty"`
	Features []string `json:"features" yaml:"features"`
}

// SupportedInstance is an (architecture, hypervisor, mode) triple.
type SupportedInstance struct {
	Arch       string `json:"arch" yaml:"arch"`
	Hypervisor string `json:"hypervisor" yaml:"hypervisor"`
	Mode       string `json:"mode" yaml:"mode"`
}

// Resources is the capacity of the host.
type Resources struct {
	VCPUs              int                 `json:"vcpus" yaml:"vcpus"`
	MemoryMB           int                 `json:"memory_mb" yaml:"memory_mb"`
	MemoryMBUsed       int                 `json:"memory_mb_used" yaml:"memory_mb_used"`
	LocalGB            int                 `json:"local_gb" yaml:"local_gb"`
	LocalGBUsed        int                 `json:"local_gb_used" yaml:"local_gb_used"`
	HypervisorType     string              `json:"hypervisor_type" yaml:"hypervisor_type"`
	HypervisorVersion  string              `json:"hypervisor_version" yaml:"hypervisor_version"`
	HypervisorHostname string              `json:"hypervisor_hostname" yaml:"hypervisor_hostname"`
	VCPUsUsed          int                 `json:"vcpus_used" yaml:"vcpus_used"`
	CPUInfo            CPUInfo             `json:"cpu_info" yaml:"cpu_info"`
	SupportedInstances []SupportedInstance `json:"supported_instances" yaml:"supported_instances"`
}

// Host answers questions about the hypervisor host.
type Host struct {
	vbox      vboxClient
	utils     hostUtils
	paths     *pathutil.Manager
	myIP      string
	diskUsage func(path string) (Usage, error)
	hostname  func() (string, error)
	addrs     AddrSource
}

// New creates a Host. myIP overrides address detection when set.
func New(vbox vboxClient, utils hostUtils, paths *pathutil.Manager, myIP string) *Host {
	return &Host{
		vbox:      vbox,
		utils:     utils,
		paths:     paths,
		myIP:      myIP,
		diskUsage: DiskUsage,
		hostname:  os.Hostname,
		addrs:     systemAddrs{},
	}
}

// Version returns the raw VirtualBox version.
func (h *Host) Version(ctx context.Context) (string, error) {
	return h.vbox.Version(ctx)
}

// HypervisorVersion returns the digits of the VirtualBox version.
func (h *Host) HypervisorVersion(ctx context.Context) (string, error) {
	raw, err := h.vbox.Version(ctx)
	if err != nil {
		return "", err
	}
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw), nil
}

// CheckVersion fails with ErrUnsupportedVersion when VirtualBox is older
// than MinimumVersion.
func (h *Host) CheckVersion(ctx context.Context) error {
	raw, err := h.vbox.Version(ctx)
	if err != nil {
		return fmt.Errorf("failed to get VirtualBox version: %w", err)
	}
	return checkVersion(raw)
}

func checkVersion(raw string) error {
	minimum := version.Must(version.NewVersion(MinimumVersion))
	current, err := version.NewVersion(leadingVersion.FindString(strings.TrimSpace(raw)))
	if err != nil {
		return fmt.Errorf("could not parse VirtualBox version %q: %w", raw, err)
	}
	if current.LessThan(minimum) {
		return fmt.Errorf("%w: %s is older than %s", ErrUnsupportedVersion, raw, minimum.Original())
	}
	logger.Get().Debugf("VirtualBox version %s", raw)
	return nil
}

// Hostname returns the host name reported as the hypervisor node.
func (h *Host) Hostname() (string, error) {
	return h.hostname()
}

// CPUInfo describes the host processor.
func (h *Host) CPUInfo(ctx context.Context) (CPUInfo, error) {
	host, err := h.utils.HostInfo(ctx)
	if err != nil {
		return CPUInfo{}, err
	}
	return cpuInfo(host), nil
}

func cpuInfo(host parser.HostInfo) CPUInfo {
	info := CPUInfo{
		Topology: Topology{
			Sockets: host.ProcessorCount,
			Cores:   host.ProcessorCoreCount,
		},
		Arch:     hostArch(),
		Model:    host.ProcessorModel,
		Features: []string{},
	}
	if host.ProcessorCoreCount > 0 {
		info.Topology.Threads = host.ProcessorCount / host.ProcessorCoreCount
	}
	if fields := strings.Fields(host.ProcessorModel); len(fields) > 0 {
		info.Vendor = fields[0]
	}
	return info
}

func hostArch() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "386":
		return "i686"
	case "arm64":
		return "aarch64"
	default:
		return runtime.GOARCH
	}
}

// SupportedInstances lists the guests VirtualBox can run.
func SupportedInstances() []SupportedInstance {
	return []SupportedInstance{
		{Arch: "i686", Hypervisor: HypervisorType, Mode: "hvm"},
		{Arch: "x86_64", Hypervisor: HypervisorType, Mode: "hvm"},
	}
}

// LocalDiskGB returns the total, free and used space, in GiB, of the
// filesystem holding the instances path.
func (h *Host) LocalDiskGB() (total, free, used int, err error) {
	dir := h.paths.InstanceDir()
	if err := h.paths.Create(dir); err != nil {
		return 0, 0, 0, err
	}
	usage, err := h.diskUsage(dir)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to get disk usage of %s: %w", dir, err)
	}
	return int(usage.Total / gib), int(usage.Free / gib), int(usage.Used / gib), nil
}

// Resources returns the capacity of the host.
func (h *Host) Resources(ctx context.Context) (Resources, error) {
	host, err := h.utils.HostInfo(ctx)
	if err != nil {
		return Resources{}, fmt.Errorf("failed to get host info: %w", err)
	}
	localGB, _, localGBUsed, err := h.LocalDiskGB()
	if err != nil {
		return Resources{}, err
	}
	hvVersion, err := h.HypervisorVersion(ctx)
	if err != nil {
		return Resources{}, fmt.Errorf("failed to get VirtualBox version: %w", err)
	}
	hostname, err := h.hostname()
	if err != nil {
		return Resources{}, fmt.Errorf("failed to get hostname: %w", err)
	}

	return Resources{
		VCPUs:              host.ProcessorCount,
		MemoryMB:           host.MemorySizeMB,
		MemoryMBUsed:       host.MemorySizeMB - host.MemoryAvailableMB,
		LocalGB:            localGB,
		LocalGBUsed:        localGBUsed,
		HypervisorType:     HypervisorType,
		HypervisorVersion:  hvVersion,
		HypervisorHostname: hostname,
		VCPUsUsed:          0,
		CPUInfo:            cpuInfo(host),
		SupportedInstances: SupportedInstances(),
	}, nil
}
