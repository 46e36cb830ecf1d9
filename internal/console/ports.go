package console

import (
	"slices"
	"strconv"
	"strings"
	"sync"
)

// ParsePorts expands a list of ports and ranges such as "3389,5000-5010"
// into unique ports sorted in descending order. Malformed groups are skipped.
func ParsePorts(spec string) []int {
	var ports []int
	for _, group := range strings.Split(spec, ",") {
		group = strings.TrimSpace(group)
		start, stop, isRange := strings.Cut(group, "-")
		if !isRange {
			if port, err := strconv.Atoi(group); err == nil {
				ports = append(ports, port)
			}
			continue
		}

		first, err := strconv.Atoi(strings.TrimSpace(start))
		if err != nil {
			continue
		}
		last, err := strconv.Atoi(strings.TrimSpace(stop))
		if err != nil {
			continue
		}
		for port := first; port <= last; port++ {
			ports = append(ports, port)
		}
	}

	slices.Sort(ports)
	ports = slices.Compact(ports)
	slices.Reverse(ports)
	return ports
}

// portPool hands out VRDE ports.
//
// In unique mode each port serves a single instance and returns to the free
// list on release. In shared mode the free list is refilled from every
// configured port once exhausted, so ports are handed out round robin.
type portPool struct {
	mu        sync.Mutex
	unique    bool
	available []int
	free      []int
	used      map[string]int
}

func newPortPool(ports []int, unique bool) *portPool {
	p := &portPool{
		unique: unique,
		used:   make(map[string]int),
	}
	if unique {
		p.free = slices.Clone(ports)
	} else {
		p.available = slices.Clone(ports)
	}
	return p
}

// acquire pops a free port and records it as used by name.
func (p *portPool) acquire(name string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		if p.unique || len(p.available) == 0 {
			return 0, false
		}
		p.free = slices.Clone(p.available)
	}

	port := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.used[name] = port
	return port, true
}

// forget drops the port recorded for name and returns it.
func (p *portPool) forget(name string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	port, ok := p.used[name]
	delete(p.used, name)
	return port, ok
}

// lookup returns the port recorded for name.
func (p *portPool) lookup(name string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	port, ok := p.used[name]
	return port, ok
}

// release returns port to the free list in unique mode. A port that is
// already free is not added twice.
func (p *portPool) release(port int) {
	if port <= 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.unique || slices.Contains(p.free, port) {
		return
	}
	p.free = append(p.free, port)
}

// freePorts returns a copy of the free list.
func (p *portPool) freePorts() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.free)
}
