package vmops

import (
	"errors"

	"github.com/jbweber/vboxdriver/internal/pathutil"
)

var (
	// ErrInstanceExists means a VM with the instance name is registered.
	ErrInstanceExists = errors.New("instance already exists")
	// ErrNoMoreNetworks means the VM has no disabled NIC left.
	ErrNoMoreNetworks = errors.New("no more network adapters available")
)

// Options tunes the operations.
type Options struct {
	// UseCOWImages creates root disks as differencing disks of the cached
	// image instead of full clones.
	UseCOWImages bool
	// ConfigDrive attaches a NoCloud config drive to new instances.
	ConfigDrive bool
}

// Operations implements the VM lifecycle.
type Operations struct {
	vbox    vboxClient
	utils   vmUtils
	disks   diskResolver
	images  imageCache
	volumes volumeOperations
	paths   *pathutil.Manager
	opts    Options
}

// New creates Operations.
func New(vbox vboxClient, utils vmUtils, disks diskResolver, images imageCache, volumes volumeOperations, paths *pathutil.Manager, opts Options) *Operations {
	return &Operations{
		vbox:    vbox,
		utils:   utils,
		disks:   disks,
		images:  images,
		volumes: volumes,
		paths:   paths,
		opts:    opts,
	}
}
