package parser

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// controllerNamePrefix prefixes the VM info keys that name storage
// controllers ("storagecontrollername0" = "SATA").
const controllerNamePrefix = "storagecontrollername"

// AttachPoint is a (port, device) slot on a storage controller.
type AttachPoint struct {
	Port   int
	Device int
}

// Less orders attach points by port, then device.
func (p AttachPoint) Less(o AttachPoint) bool {
	if p.Port != o.Port {
		return p.Port < o.Port
	}
	return p.Device < o.Device
}

// Slot is what currently occupies an attach point. Both fields are empty
// for a free slot.
type Slot struct {
	Path string
	UUID string
}

// Controller maps the attach points of one storage controller to their slots.
type Controller map[AttachPoint]Slot

// Points returns the attach points of c in ascending order.
func (c Controller) Points() []AttachPoint {
	points := make([]AttachPoint, 0, len(c))
	for p := range c {
		points = append(points, p)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Less(points[j]) })
	return points
}

// ControllerDisks extracts the slots of controller name from VM info keys of
// the form "<name>-<port>-<device>" (path) and
// "<name>-ImageUUID-<port>-<device>" (disk UUID).
func ControllerDisks(name string, info VMInfo) Controller {
	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(name) + `(-ImageUUID)?-(\d+)-(\d+)$`)

	disks := make(Controller)
	for key, value := range info {
		m := pattern.FindStringSubmatch(key)
		if m == nil {
			continue
		}

		port, _ := strconv.Atoi(m[2])
		device, _ := strconv.Atoi(m[3])
		point := AttachPoint{Port: port, Device: device}

		slot := disks[point]
		if m[1] != "" {
			slot.UUID = value
		} else {
			slot.Path = value
		}
		disks[point] = slot
	}
	return disks
}

// ControllerNames returns the storage controllers named in info, in the
// order of their index.
func ControllerNames(info VMInfo) []string {
	var keys []string
	for key := range info {
		if strings.HasPrefix(key, controllerNamePrefix) {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		a, _ := strconv.Atoi(strings.TrimPrefix(keys[i], controllerNamePrefix))
		b, _ := strconv.Atoi(strings.TrimPrefix(keys[j], controllerNamePrefix))
		return a < b
	})

	var names []string
	for _, key := range keys {
		if name, ok := info.Get(key); ok {
			names = append(names, name)
		}
	}
	return names
}
