// Package driver is the entry point used by the orchestration layer. It
// wires the VBoxManage client, the disk resolver and the orchestrators
// together and sequences the calls that span more than one of them.
package driver

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"

	"github.com/jbweber/vboxdriver/internal/config"
	"github.com/jbweber/vboxdriver/internal/console"
	"github.com/jbweber/vboxdriver/internal/hostops"
	"github.com/jbweber/vboxdriver/internal/image"
	"github.com/jbweber/vboxdriver/internal/imagecache"
	"github.com/jbweber/vboxdriver/internal/logger"
	"github.com/jbweber/vboxdriver/internal/metrics"
	"github.com/jbweber/vboxdriver/internal/migration"
	"github.com/jbweber/vboxdriver/internal/pathutil"
	"github.com/jbweber/vboxdriver/internal/snapshot"
	"github.com/jbweber/vboxdriver/internal/vboxmanage"
	"github.com/jbweber/vboxdriver/internal/vhd"
	"github.com/jbweber/vboxdriver/internal/vmops"
	"github.com/jbweber/vboxdriver/internal/vmutil"
	"github.com/jbweber/vboxdriver/internal/volume"
)

// Driver manages VirtualBox instances on this host.
type Driver struct {
	vms        vmOperations
	console    consoleManager
	migrations migrationOperations
	snapshots  snapshotOperations
	volumes    volumeOperations
	host       hostOperations

	hostname string
	hostIP   string
}

type options struct {
	runner     vboxmanage.Runner
	metrics    *metrics.Collector
	fs         afero.Fs
	images     image.Service
	progress   io.Writer
	hostname   string
	localAddrs migration.LocalAddrsFunc
}

// Option configures a Driver.
type Option func(*options)

// WithRunner runs VBoxManage through r instead of executing the binary.
func WithRunner(r vboxmanage.Runner) Option {
	return func(o *options) { o.runner = r }
}

// WithMetrics records every VBoxManage invocation in c.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.metrics = c }
}

// WithFs sets the filesystem holding instances and images.
func WithFs(fs afero.Fs) Option {
	return func(o *options) { o.fs = fs }
}

// WithImageService replaces the local image store.
func WithImageService(s image.Service) Option {
	return func(o *options) { o.images = s }
}

// WithProgress draws image transfer progress bars on w.
func WithProgress(w io.Writer) Option {
	return func(o *options) { o.progress = w }
}

// WithHostname overrides the host name.
func WithHostname(name string) Option {
	return func(o *options) { o.hostname = name }
}

// WithLocalAddrs overrides how the addresses of this host are listed when
// deciding whether a migration stays on the host.
func WithLocalAddrs(fn migration.LocalAddrsFunc) Option {
	return func(o *options) { o.localAddrs = fn }
}

// New creates a Driver from cfg. A nil cfg selects the defaults.
func New(cfg *config.DriverConfig, opts ...Option) (*Driver, error) {
	if cfg == nil {
		cfg = config.DefaultDriverConfig()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid driver configuration: %w", err)
	}

	o := options{fs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("failed to get hostname: %w", err)
		}
		o.hostname = hostname
	}

	var vboxOpts []vboxmanage.Option
	if o.runner != nil {
		vboxOpts = append(vboxOpts, vboxmanage.WithRunner(o.runner))
	}
	if o.metrics != nil {
		vboxOpts = append(vboxOpts, vboxmanage.WithMetrics(o.metrics))
	}
	vbox := vboxmanage.NewClient(vboxmanage.Config{
		Binary:        cfg.VBoxManageCmd,
		RetryCount:    cfg.RetryCount,
		RetryInterval: cfg.RetryInterval,
	}, vboxOpts...)

	paths := pathutil.NewManagerWithFs(o.fs, cfg.InstancesPath)
	if o.images == nil {
		store := image.NewLocalStoreWithFs(o.fs, cfg.ImagesPath)
		store.Progress = o.progress
		o.images = store
	}

	disks := vhd.NewResolver(vbox)
	utils := vmutil.New(vbox, vmutil.WithSoftShutdownTimeout(cfg.SoftRebootTimeout()))
	host := hostops.New(vbox, utils, paths, cfg.MyIP)
	hostIP := host.HostIP()
	if o.localAddrs == nil {
		o.localAddrs = host.LocalAddrs
	}

	cache := imagecache.New(vbox, disks, o.images, paths)
	volumes := volume.New(vbox, disks, hostIP, o.hostname)
	vms := vmops.New(vbox, utils, disks, cache, volumes, paths, vmops.Options{
		UseCOWImages: cfg.COWImages(),
		ConfigDrive:  cfg.ConfigDrive,
	})

	logger.Get().Debugf("Driver ready: host %s (%s), instances in %s", o.hostname, hostIP, paths.InstanceDir())
	return &Driver{
		vms:        vms,
		console:    console.New(vbox, cfg.RemoteDisplay, cfg.RDP, hostIP),
		migrations: migration.New(vbox, disks, vms, cache, paths, o.localAddrs),
		snapshots:  snapshot.New(vbox, disks, utils, o.images, paths),
		volumes:    volumes,
		host:       host,
		hostname:   o.hostname,
		hostIP:     hostIP,
	}, nil
}
