package migration

import (
	"context"
	"sync"
	"time"

	"github.com/jbweber/vboxdriver/internal/config"
)

// mockVMOps is a mock implementation of the vmOperations interface for testing.
type mockVMOps struct {
	mu sync.Mutex

	powerOffFunc            func(ctx context.Context, vm string) error
	destroyFunc             func(ctx context.Context, vm string, destroyDisks bool) error
	createInstanceFunc      func(ctx context.Context, inst *config.Instance, overwrite bool) error
	createEphemeralDiskFunc func(ctx context.Context, inst *config.Instance) (string, error)
	storageSetupFunc        func(ctx context.Context, inst *config.Instance, rootPath, ephemeralPath string) error

	powerOffCalls            []string
	destroyCalls             []bool
	createInstanceCalls      []bool
	createEphemeralDiskCalls []string
	storageSetupCalls        [][2]string
}

func (m *mockVMOps) PowerOff(ctx context.Context, vm string, _, _ time.Duration) error {
	m.mu.Lock()
	m.powerOffCalls = append(m.powerOffCalls, vm)
	fn := m.powerOffFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, vm)
	}
	return nil
}

func (m *mockVMOps) Destroy(ctx context.Context, vm string, destroyDisks bool) error {
	m.mu.Lock()
	m.destroyCalls = append(m.destroyCalls, destroyDisks)
	fn := m.destroyFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, vm, destroyDisks)
	}
	return nil
}

func (m *mockVMOps) CreateInstance(ctx context.Context, inst *config.Instance, overwrite bool) error {
	m.mu.Lock()
	m.createInstanceCalls = append(m.createInstanceCalls, overwrite)
	fn := m.createInstanceFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, inst, overwrite)
	}
	return nil
}

func (m *mockVMOps) CreateEphemeralDisk(ctx context.Context, inst *config.Instance) (string, error) {
	m.mu.Lock()
	m.createEphemeralDiskCalls = append(m.createEphemeralDiskCalls, inst.Name)
	fn := m.createEphemeralDiskFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, inst)
	}
	return "", nil
}

func (m *mockVMOps) StorageSetup(ctx context.Context, inst *config.Instance, rootPath, ephemeralPath string) error {
	m.mu.Lock()
	m.storageSetupCalls = append(m.storageSetupCalls, [2]string{rootPath, ephemeralPath})
	fn := m.storageSetupFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, inst, rootPath, ephemeralPath)
	}
	return nil
}

// mockImageCache is a mock implementation of the imageCache interface for testing.
type mockImageCache struct {
	mu sync.Mutex

	getFunc  func(ctx context.Context, imageRef string) (string, error)
	getCalls []string
}

func (m *mockImageCache) Get(ctx context.Context, imageRef string) (string, error) {
	m.mu.Lock()
	m.getCalls = append(m.getCalls, imageRef)
	fn := m.getFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, imageRef)
	}
	return "", nil
}
