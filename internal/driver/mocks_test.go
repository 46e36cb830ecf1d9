package driver

import (
	"context"
	"sync"
	"time"

	"github.com/jbweber/vboxdriver/internal/config"
	"github.com/jbweber/vboxdriver/internal/console"
	"github.com/jbweber/vboxdriver/internal/hostops"
	"github.com/jbweber/vboxdriver/internal/status"
	"github.com/jbweber/vboxdriver/internal/vmutil"
	"github.com/jbweber/vboxdriver/internal/volume"
)

// callLog records calls across every mock so tests can check ordering.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type mockVMs struct {
	log *callLog

	initHostFunc func(ctx context.Context) error
	spawnFunc    func(ctx context.Context, inst *config.Instance) error
	destroyFunc  func(ctx context.Context, vm string, destroyDisks bool) error
	powerOnFunc  func(ctx context.Context, vm string) error
	powerOffFunc func(ctx context.Context, vm string, timeout, retryInterval time.Duration) error
	rebootFunc   func(ctx context.Context, vm string, soft bool) error
	getInfoFunc  func(ctx context.Context, vm string) (vmutil.Info, error)
}

func (m *mockVMs) InitHost(ctx context.Context) error {
	m.log.add("vms.InitHost")
	if m.initHostFunc != nil {
		return m.initHostFunc(ctx)
	}
	return nil
}

func (m *mockVMs) Spawn(ctx context.Context, inst *config.Instance) error {
	m.log.add("vms.Spawn " + inst.Name)
	if m.spawnFunc != nil {
		return m.spawnFunc(ctx, inst)
	}
	return nil
}

func (m *mockVMs) Destroy(ctx context.Context, vm string, destroyDisks bool) error {
	if destroyDisks {
		m.log.add("vms.Destroy " + vm + " disks")
	} else {
		m.log.add("vms.Destroy " + vm)
	}
	if m.destroyFunc != nil {
		return m.destroyFunc(ctx, vm, destroyDisks)
	}
	return nil
}

func (m *mockVMs) PowerOn(ctx context.Context, vm string) error {
	m.log.add("vms.PowerOn " + vm)
	if m.powerOnFunc != nil {
		return m.powerOnFunc(ctx, vm)
	}
	return nil
}

func (m *mockVMs) PowerOff(ctx context.Context, vm string, timeout, retryInterval time.Duration) error {
	m.log.add("vms.PowerOff " + vm)
	if m.powerOffFunc != nil {
		return m.powerOffFunc(ctx, vm, timeout, retryInterval)
	}
	return nil
}

func (m *mockVMs) Pause(_ context.Context, vm string) error {
	m.log.add("vms.Pause " + vm)
	return nil
}

func (m *mockVMs) Unpause(_ context.Context, vm string) error {
	m.log.add("vms.Unpause " + vm)
	return nil
}

func (m *mockVMs) Suspend(_ context.Context, vm string) error {
	m.log.add("vms.Suspend " + vm)
	return nil
}

func (m *mockVMs) Resume(_ context.Context, vm string) error {
	m.log.add("vms.Resume " + vm)
	return nil
}

func (m *mockVMs) Reboot(ctx context.Context, vm string, soft bool) error {
	m.log.add("vms.Reboot " + vm)
	if m.rebootFunc != nil {
		return m.rebootFunc(ctx, vm, soft)
	}
	return nil
}

func (m *mockVMs) ListInstances(context.Context) ([]string, error) {
	return []string{"vm1", "vm2"}, nil
}

func (m *mockVMs) ListInstanceUUIDs(context.Context) ([]string, error) {
	return []string{"u1", "u2"}, nil
}

func (m *mockVMs) InstanceExists(_ context.Context, name string) (bool, error) {
	return name == "vm1", nil
}

func (m *mockVMs) GetInfo(ctx context.Context, vm string) (vmutil.Info, error) {
	if m.getInfoFunc != nil {
		return m.getInfoFunc(ctx, vm)
	}
	return vmutil.Info{}, nil
}

type mockConsole struct {
	log *callLog

	setupHostFunc func(ctx context.Context) (bool, error)
}

func (m *mockConsole) SetupHost(ctx context.Context) (bool, error) {
	m.log.add("console.SetupHost")
	if m.setupHostFunc != nil {
		return m.setupHostFunc(ctx)
	}
	return true, nil
}

func (m *mockConsole) PrepareInstance(_ context.Context, inst *config.Instance) {
	m.log.add("console.PrepareInstance " + inst.Name)
}

func (m *mockConsole) Cleanup(_ context.Context, name string) {
	m.log.add("console.Cleanup " + name)
}

func (m *mockConsole) VNCConsole(_ context.Context, name string) (console.Info, error) {
	return console.Info{Type: console.TypeVNC, Host: "10.0.0.2", Port: 5900}, nil
}

func (m *mockConsole) RDPConsole(_ context.Context, name string) (console.Info, error) {
	return console.Info{Type: console.TypeRDP, Host: "10.0.0.2", Port: 3389, InternalAccessPath: name}, nil
}

type mockMigrations struct {
	log *callLog

	finishMigrationFunc       func(ctx context.Context, inst *config.Instance, resize bool) error
	finishRevertMigrationFunc func(ctx context.Context, inst *config.Instance) error
}

func (m *mockMigrations) MigrateDiskAndPowerOff(_ context.Context, inst *config.Instance, dest string, _ *config.Flavor, _, _ time.Duration) error {
	m.log.add("migrations.MigrateDiskAndPowerOff " + inst.Name + " " + dest)
	return nil
}

func (m *mockMigrations) FinishMigration(ctx context.Context, inst *config.Instance, resize bool) error {
	m.log.add("migrations.FinishMigration " + inst.Name)
	if m.finishMigrationFunc != nil {
		return m.finishMigrationFunc(ctx, inst, resize)
	}
	return nil
}

func (m *mockMigrations) FinishRevertMigration(ctx context.Context, inst *config.Instance) error {
	m.log.add("migrations.FinishRevertMigration " + inst.Name)
	if m.finishRevertMigrationFunc != nil {
		return m.finishRevertMigrationFunc(ctx, inst)
	}
	return nil
}

func (m *mockMigrations) ConfirmMigration(_ context.Context, inst *config.Instance) error {
	m.log.add("migrations.ConfirmMigration " + inst.Name)
	return nil
}

type mockSnapshots struct {
	log *callLog
}

func (m *mockSnapshots) Snapshot(_ context.Context, vm, imageID string, report status.TaskStateFunc) error {
	m.log.add("snapshots.Snapshot " + vm + " " + imageID)
	report.Report(status.TaskImagePendingUpload, "")
	return nil
}

type mockVolumes struct {
	log *callLog

	ebsRoot bool
}

func (m *mockVolumes) AttachVolume(_ context.Context, vm string, _ config.ConnectionInfo, ebsRoot bool) error {
	m.log.add("volumes.AttachVolume " + vm)
	m.ebsRoot = ebsRoot
	return nil
}

func (m *mockVolumes) DetachVolume(_ context.Context, vm string, _ config.ConnectionInfo) error {
	m.log.add("volumes.DetachVolume " + vm)
	return nil
}

func (m *mockVolumes) Connector() volume.Connector {
	return volume.Connector{IP: "10.0.0.2", Host: "host1", Initiator: "iqn.2008-04.com.sun:host1"}
}

type mockHost struct {
	log *callLog

	checkVersionFunc func(ctx context.Context) error
}

func (m *mockHost) CheckVersion(ctx context.Context) error {
	m.log.add("host.CheckVersion")
	if m.checkVersionFunc != nil {
		return m.checkVersionFunc(ctx)
	}
	return nil
}

func (m *mockHost) Version(context.Context) (string, error) {
	return "7.0.10r158379", nil
}

func (m *mockHost) Resources(context.Context) (hostops.Resources, error) {
	return hostops.Resources{VCPUs: 8, HypervisorType: hostops.HypervisorType}, nil
}
