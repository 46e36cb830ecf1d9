// Package vmops provides the VM lifecycle operations of the driver.
//
// This package orchestrates the lower level components (vboxmanage, vmutil,
// vhd, imagecache, volume, cloudinit) into the operations a compute service
// calls on a hypervisor:
//   - Spawn: create, configure and attach storage to a new VM
//   - Destroy: power off, unregister and remove a VM
//   - PowerOn, PowerOff, Reboot, Pause, Unpause, Suspend, Resume
//   - ListInstances, InstanceExists, GetInfo
//   - InitHost: drop registered disks whose files are gone
//
// Error Handling:
//
// Spawn destroys the partially created VM when any step fails and returns
// the original error. Cleanup errors are logged but never replace it.
//
// Context Support:
//
// All operations accept a context.Context. Cancelling it stops the
// VBoxManage invocation in flight and the retry and polling loops.
package vmops
