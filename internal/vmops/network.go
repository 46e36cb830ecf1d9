package vmops

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/jbweber/vboxdriver/internal/config"
	"github.com/jbweber/vboxdriver/internal/logger"
	"github.com/jbweber/vboxdriver/internal/naming"
	"github.com/jbweber/vboxdriver/internal/vboxmanage"
)

const descriptionNetworkKey = "network"

var nicKey = regexp.MustCompile(`^nic(\d+)$`)

// AvailableNIC returns the index of the first disabled NIC of vm.
func (o *Operations) AvailableNIC(ctx context.Context, vm string) (int, error) {
	info, err := o.vbox.ShowVMInfo(ctx, vm)
	if err != nil {
		return 0, err
	}

	var free []int
	for key, value := range info {
		m := nicKey.FindStringSubmatch(key)
		if m == nil {
			continue
		}
		if value != "" && value != vboxmanage.NICModeNone {
			continue
		}
		index, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		free = append(free, index)
	}
	if len(free) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoMoreNetworks, vm)
	}
	sort.Ints(free)
	return free[0], nil
}

// CreateNIC enables the next free NIC of vm for vif.
func (o *Operations) CreateNIC(ctx context.Context, vm string, vif config.NetworkInterface) error {
	index, err := o.AvailableNIC(ctx, vm)
	if err != nil {
		return err
	}
	mac := naming.MACAddress(vif.Address)
	logger.Get().Debugf("Plugging %s into nic%d of %s", mac, index, vm)

	settings := []struct {
		field vboxmanage.NICField
		value string
	}{
		{vboxmanage.NICMode, vboxmanage.NICModeNull},
		{vboxmanage.NICType, vboxmanage.NICTypeAm79C973},
		{vboxmanage.NICMACAddress, mac},
		{vboxmanage.NICCableConnected, "on"},
	}
	for _, s := range settings {
		if err := o.vbox.ModifyNetwork(ctx, vm, s.field, index, s.value); err != nil {
			return err
		}
	}
	return nil
}

// setupNetwork plugs every interface of inst and records the MAC address to
// port mapping in the VM description.
func (o *Operations) setupNetwork(ctx context.Context, inst *config.Instance) error {
	nics := make(map[string]any, len(inst.NetworkInterfaces))
	for _, vif := range inst.NetworkInterfaces {
		logger.Get().Debugf("Creating nic for %s", inst.Name)
		if err := o.CreateNIC(ctx, inst.Name, vif); err != nil {
			return err
		}
		nics[naming.MACAddress(vif.Address)] = vif.ID
	}
	return o.utils.UpdateDescription(ctx, inst.Name, map[string]any{descriptionNetworkKey: nics})
}
