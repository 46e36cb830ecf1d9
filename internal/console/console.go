// Package console manages the VirtualBox Remote Desktop Extension (VRDE)
// server of each instance and the ports it listens on.
package console

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/jbweber/vboxdriver/internal/config"
	"github.com/jbweber/vboxdriver/internal/logger"
	"github.com/jbweber/vboxdriver/internal/parser"
	"github.com/jbweber/vboxdriver/internal/vboxmanage"
)

var (
	// ErrNoAvailablePort means every configured VRDE port is taken.
	ErrNoAvailablePort = errors.New("no available port was found")
	// ErrConsoleUnavailable means the requested console type is not served.
	ErrConsoleUnavailable = errors.New("console is not available for this instance")
)

// vrdePortKey is the VM info key holding the port the VRDE server bound to.
const vrdePortKey = "vrdeports"

// VRDE properties.
const (
	propVNCPassword       = "VNCPassword=%s"
	propSecurityMethod    = "Security/Method=%s"
	propSecurityCA        = "Security/CACertificate=%s"
	propServerCertificate = "Security/ServerCertificate=%s"
	propServerPrivateKey  = "Security/ServerPrivateKey=%s"
)

// Type is a console protocol.
type Type string

const (
	TypeVNC Type = "vnc"
	TypeRDP Type = "rdp"
)

// Info is how a client reaches the console of an instance.
type Info struct {
	Type               Type   `json:"type" yaml:"type"`
	Host               string `json:"host" yaml:"host"`
	Port               int    `json:"port" yaml:"port"`
	InternalAccessPath string `json:"internal_access_path,omitempty" yaml:"internal_access_path,omitempty"`
}

// vboxClient is the subset of VBoxManage requests the console issues.
//
// In production, this is satisfied by *vboxmanage.Client.
type vboxClient interface {
	List(ctx context.Context, kind vboxmanage.ListKind) (string, error)
	ShowVMInfo(ctx context.Context, vm string) (parser.VMInfo, error)
	ModifyVRDE(ctx context.Context, vm string, field vboxmanage.VRDEField, value string) error
	SetProperty(ctx context.Context, name vboxmanage.Property, value string) error
}

// Manager enables the VRDE server of instances and allocates their ports.
// It is safe for concurrent use.
type Manager struct {
	vbox   vboxClient
	cfg    config.RemoteDisplayConfig
	rdp    config.RDPConfig
	hostIP string
	ports  *portPool
}

// New creates a Manager. hostIP is the address reported in console info.
func New(vbox vboxClient, cfg config.RemoteDisplayConfig, rdp config.RDPConfig, hostIP string) *Manager {
	m := &Manager{
		vbox:   vbox,
		cfg:    cfg,
		rdp:    rdp,
		hostIP: hostIP,
	}
	var ports []int
	if cfg.Enabled {
		ports = ParsePorts(cfg.Ports)
	}
	m.ports = newPortPool(ports, cfg.UniquePort)
	return m
}

// Enabled reports whether instances get a VRDE server.
func (m *Manager) Enabled() bool {
	return m.cfg.Enabled
}

// ExtPacks returns the names of the installed extension packs.
func (m *Manager) ExtPacks(ctx context.Context) ([]string, error) {
	out, err := m.vbox.List(ctx, vboxmanage.ListExtPacks)
	if err != nil {
		return nil, err
	}
	return parser.ParseExtPacks(out), nil
}

// SetupHost selects the configured VRDE module as the VirtualBox default.
// It returns false when remote display is disabled or the module is not
// installed.
func (m *Manager) SetupHost(ctx context.Context) (bool, error) {
	if !m.cfg.Enabled {
		logger.Get().Debugf("VRDE server is disabled")
		return false, nil
	}

	packs, err := m.ExtPacks(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list extension packs: %w", err)
	}
	if !slices.Contains(packs, m.cfg.Module) {
		logger.Get().Warnf("Warning: the VRDE module %q is not available", m.cfg.Module)
		return false, nil
	}

	if err := m.vbox.SetProperty(ctx, vboxmanage.PropertyVRDEExtPack, m.cfg.Module); err != nil {
		logger.Get().Warnf("Warning: failed to set VRDE module %q: %v", m.cfg.Module, err)
		return false, nil
	}
	logger.Get().Infof("The VRDE module used is %s", m.cfg.Module)
	return true, nil
}

// PrepareInstance enables the VRDE server of inst on a free port. When
// remote display is disabled or enabling fails, the server is turned off.
// Failures are logged, never returned.
func (m *Manager) PrepareInstance(ctx context.Context, inst *config.Instance) {
	if m.cfg.Enabled {
		logger.Get().Debugf("Enabling the VRDE server of %s", inst.Name)
		err := m.enable(ctx, inst)
		if err == nil {
			return
		}
		logger.Get().Warnf("Warning: enabling VRDE server of %s failed: %v", inst.Name, err)
	}

	logger.Get().Debugf("Disabling the VRDE server of %s", inst.Name)
	if err := m.vbox.ModifyVRDE(ctx, inst.Name, vboxmanage.VRDE, "off"); err != nil {
		logger.Get().Warnf("Warning: disabling VRDE server of %s failed: %v", inst.Name, err)
	}
}

func (m *Manager) enable(ctx context.Context, inst *config.Instance) (err error) {
	port, ok := m.ports.acquire(inst.Name)
	if !ok {
		return ErrNoAvailablePort
	}
	defer func() {
		if err != nil {
			m.ports.forget(inst.Name)
			m.ports.release(port)
		}
	}()

	if err := m.vbox.ModifyVRDE(ctx, inst.Name, vboxmanage.VRDE, "on"); err != nil {
		return err
	}
	if err := m.vbox.ModifyVRDE(ctx, inst.Name, vboxmanage.VRDEPort, strconv.Itoa(port)); err != nil {
		return err
	}

	switch m.cfg.Module {
	case config.VRDEModuleVNC:
		return m.setupVNC(ctx, inst)
	case config.VRDEModuleRDP:
		return m.setupRDP(ctx, inst.Name)
	}
	return nil
}

func (m *Manager) setupVNC(ctx context.Context, inst *config.Instance) error {
	password := inst.UUID
	if password == "" && m.cfg.RequireInstanceUUIDAsPassword {
		return fmt.Errorf("instance %s has no uuid to use as VNC password", inst.Name)
	}
	if n := m.cfg.PasswordLength; n > 0 && len(password) > n {
		password = password[:n]
	}
	return m.setProperty(ctx, inst.Name, propVNCPassword, password)
}

func (m *Manager) setupRDP(ctx context.Context, vm string) error {
	if !m.rdp.Encrypted {
		return nil
	}

	method := m.rdp.SecurityMethod
	if err := m.setProperty(ctx, vm, propSecurityMethod, method); err != nil {
		return err
	}
	if method != config.SecurityTLS && method != config.SecurityNegotiate {
		return nil
	}

	// TLS needs the CA, the server certificate and its key.
	for _, prop := range []struct{ format, path string }{
		{propSecurityCA, m.rdp.ServerCA},
		{propServerCertificate, m.rdp.ServerCertificate},
		{propServerPrivateKey, m.rdp.ServerPrivateKey},
	} {
		if err := m.setProperty(ctx, vm, prop.format, prop.path); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) setProperty(ctx context.Context, vm, format, value string) error {
	return m.vbox.ModifyVRDE(ctx, vm, vboxmanage.VRDEProperty, fmt.Sprintf(format, value))
}

// Cleanup releases the port allocated to the instance named name.
func (m *Manager) Cleanup(ctx context.Context, name string) {
	logger.Get().Debugf("Releasing the VRDE port of %s", name)
	port, ok := m.ports.forget(name)
	if !ok {
		port = m.boundPort(ctx, name)
	}
	m.ports.release(port)
}

// Port returns the VRDE port of the instance named name, or 0 when unknown.
func (m *Manager) Port(ctx context.Context, name string) int {
	if port, ok := m.ports.lookup(name); ok {
		return port
	}
	return m.boundPort(ctx, name)
}

func (m *Manager) boundPort(ctx context.Context, name string) int {
	info, err := m.vbox.ShowVMInfo(ctx, name)
	if err != nil {
		logger.Get().Debugf("Failed to get information regarding %s: %v", name, err)
		return 0
	}
	value, ok := info.Get(vrdePortKey)
	if !ok {
		return 0
	}
	port, err := strconv.Atoi(value)
	if err != nil || port <= 0 {
		logger.Get().Debugf("Failed to get VRDE port of %s: %q", name, value)
		return 0
	}
	return port
}

// VNCConsole returns the VNC console of the instance named name.
func (m *Manager) VNCConsole(ctx context.Context, name string) (Info, error) {
	return m.console(ctx, name, TypeVNC, config.VRDEModuleVNC)
}

// RDPConsole returns the RDP console of the instance named name. In shared
// port mode the instance name is the access path.
func (m *Manager) RDPConsole(ctx context.Context, name string) (Info, error) {
	info, err := m.console(ctx, name, TypeRDP, config.VRDEModuleRDP)
	if err != nil {
		return Info{}, err
	}
	if !m.cfg.UniquePort {
		info.InternalAccessPath = name
	}
	return info, nil
}

func (m *Manager) console(ctx context.Context, name string, typ Type, module string) (Info, error) {
	if !m.cfg.Enabled || m.cfg.Module != module {
		logger.Get().Warnf("Warning: %s console is not available for %s", strings.ToUpper(string(typ)), name)
		return Info{}, fmt.Errorf("%w: %s", ErrConsoleUnavailable, typ)
	}

	port := m.Port(ctx, name)
	if port == 0 {
		logger.Get().Warnf("Warning: %s port of %s not found", strings.ToUpper(string(typ)), name)
		return Info{}, fmt.Errorf("%w: %s port not found", ErrConsoleUnavailable, typ)
	}
	logger.Get().Debugf("%s console: %s:%d", strings.ToUpper(string(typ)), m.hostIP, port)
	return Info{Type: typ, Host: m.hostIP, Port: port}, nil
}
