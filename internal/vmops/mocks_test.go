package vmops

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/jbweber/vboxdriver/internal/pathutil"
	"github.com/jbweber/vboxdriver/internal/vboxmanage/vboxtest"
	"github.com/jbweber/vboxdriver/internal/vhd"
	"github.com/jbweber/vboxdriver/internal/vmutil"
	"github.com/jbweber/vboxdriver/internal/volume"
)

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
	return "", fmt.Errorf("image %s not cached", imageRef)
}

const (
	testHostInfo = `Host Information:

Processor count: 4
Processor core count: 2
Memory size: 16384 MByte
Memory available: 8192 MByte
`
	testOSTypes = `ID:          Other
Description: Other/Unknown

ID:          Ubuntu_64
Description: Ubuntu (64-bit)
`
	basePath = "/instances/_base/cirros.vhd"
)

// diskInfo renders "showhdinfo" output for a disk.
func diskInfo(path, format string, capacityMB int) string {
	return fmt.Sprintf("UUID:           uuid-%s\nParent UUID:    base\nState:          created\nLocation:       %s\nStorage format: %s\nCapacity:       %d MBytes\n",
		strings.TrimPrefix(path, "/"), path, format, capacityMB)
}

// fakeHost is a scripted VirtualBox host that keeps track of registered VMs
// and the disk files created on it.
type fakeHost struct {
	mu     sync.Mutex
	fs     afero.Fs
	runner *vboxtest.Runner
	images *mockImageCache
	ops    *Operations

	vms   map[string]map[string]string
	disks map[string]string
	sizes map[string]int
	hdds  string
}

func newFakeHost(opts Options) *fakeHost {
	h := &fakeHost{
		fs:     afero.NewMemMapFs(),
		runner: vboxtest.New(),
		vms:    make(map[string]map[string]string),
		disks:  make(map[string]string),
		sizes:  make(map[string]int),
	}
	h.addDisk(basePath, "VHD", 1024)
	h.images = &mockImageCache{
		getFunc: func(context.Context, string) (string, error) { return basePath, nil },
	}

	h.runner.Handle("list", h.list)
	h.runner.Handle("createvm", h.createVM)
	h.runner.Handle("showvminfo", h.showVMInfo)
	h.runner.Handle("modifyvm", h.modifyVM)
	h.runner.Handle("unregistervm", h.unregisterVM)
	h.runner.Handle("showhdinfo", h.showHDInfo)
	h.runner.Handle("clonehd", func(args []string) vboxtest.Response {
		h.addDisk(args[1], vboxtest.ArgValue(args, "--format"), h.size(args[0]))
		return vboxtest.Response{Stderr: "0%...10%...100%\n"}
	})
	h.runner.Handle("createhd", func(args []string) vboxtest.Response {
		size := h.size(vboxtest.ArgValue(args, "--diffparent"))
		if s := vboxtest.ArgValue(args, "--size"); s != "" {
			_, _ = fmt.Sscan(s, &size)
		}
		h.addDisk(vboxtest.ArgValue(args, "--filename"), vboxtest.ArgValue(args, "--format"), size)
		return vboxtest.Response{Stdout: "Medium created. UUID: 0b1b4f4a-6a1c-4f0e-8a55-7c2b0c1f7e11\n"}
	})

	vbox := vboxtest.NewClient(h.runner)
	disks := vhd.NewResolver(vbox)
	utils := vmutil.New(vbox,
		vmutil.WithSoftShutdownTimeout(10*time.Millisecond),
		vmutil.WithShutdownRetryInterval(time.Millisecond),
	)
	h.ops = New(vbox, utils, disks, h.images, volume.New(vbox, disks, "10.0.0.2", "host1"),
		pathutil.NewManagerWithFs(h.fs, "/instances"), opts)
	return h
}

func (h *fakeHost) register(name string, info map[string]string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.vms[name] = info
}

func (h *fakeHost) addDisk(path, format string, capacityMB int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_ = afero.WriteFile(h.fs, path, []byte(format), 0644)
	h.disks[path] = diskInfo(path, format, capacityMB)
	h.sizes[path] = capacityMB
}

func (h *fakeHost) size(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sizes[path]
}

func (h *fakeHost) list(args []string) vboxtest.Response {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch args[0] {
	case "vms":
		names := make(map[string]string, len(h.vms))
		for name := range h.vms {
			names[name] = "7f0e4a32-3f6b-4d38-9d7a-b3a8f0a4f1c2"
		}
		return vboxtest.Response{Stdout: vboxtest.VMList(names)}
	case "hostinfo":
		return vboxtest.Response{Stdout: testHostInfo}
	case "ostypes":
		return vboxtest.Response{Stdout: testOSTypes}
	case "hdds":
		return vboxtest.Response{Stdout: h.hdds}
	}
	return vboxtest.Response{}
}

func (h *fakeHost) createVM(args []string) vboxtest.Response {
	h.register(vboxtest.ArgValue(args, "--name"), map[string]string{
		"VMState": "poweroff",
		"acpi":    "on",
		"nic1":    "none",
		"nic2":    "none",
		"nic3":    "none",
	})
	return vboxtest.Response{Stdout: "Virtual machine 'vm' is created and registered.\nUUID: 7f0e4a32-3f6b-4d38-9d7a-b3a8f0a4f1c2\n"}
}

func notFound(vm string) vboxtest.Response {
	return vboxtest.Response{Stderr: fmt.Sprintf("VBoxManage: error: Could not find a registered machine named '%s'\n", vm)}
}

func (h *fakeHost) showVMInfo(args []string) vboxtest.Response {
	h.mu.Lock()
	defer h.mu.Unlock()
	info, ok := h.vms[args[0]]
	if !ok {
		return notFound(args[0])
	}
	return vboxtest.Response{Stdout: vboxtest.VMInfo(info)}
}

func (h *fakeHost) modifyVM(args []string) vboxtest.Response {
	h.mu.Lock()
	defer h.mu.Unlock()
	info, ok := h.vms[args[0]]
	if !ok {
		return notFound(args[0])
	}
	if len(args) == 3 && strings.HasPrefix(args[1], "--nic") {
		info[strings.TrimPrefix(args[1], "--")] = args[2]
	}
	return vboxtest.Response{}
}

func (h *fakeHost) unregisterVM(args []string) vboxtest.Response {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.vms[args[0]]; !ok {
		return notFound(args[0])
	}
	delete(h.vms, args[0])
	return vboxtest.Response{Stderr: "0%...100%\n"}
}

func (h *fakeHost) showHDInfo(args []string) vboxtest.Response {
	h.mu.Lock()
	defer h.mu.Unlock()
	if out, ok := h.disks[args[0]]; ok {
		return vboxtest.Response{Stdout: out}
	}
	return vboxtest.Response{Stderr: "VBoxManage: error: Could not find file for the medium\n"}
}
