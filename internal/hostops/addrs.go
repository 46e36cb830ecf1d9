package hostops

import (
	"net"
	"slices"

	"github.com/jbweber/vboxdriver/internal/logger"
)

// AddrSource reports the network addresses of the host.
type AddrSource interface {
	// InterfaceAddrs returns the addresses of every network interface.
	InterfaceAddrs() ([]net.Addr, error)
	// OutboundIP returns the source address used to reach other hosts.
	OutboundIP() (net.IP, error)
}

type systemAddrs struct{}

func (systemAddrs) InterfaceAddrs() ([]net.Addr, error) {
	return net.InterfaceAddrs()
}

// OutboundIP connects a UDP socket, which sends nothing, and reads back the
// source address the kernel picked.
func (systemAddrs) OutboundIP() (net.IP, error) {
	conn, err := net.Dial("udp4", "192.0.2.1:9")
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP, nil
}

// LocalIPs returns the interface addresses of the host, IPv4 first.
func (h *Host) LocalIPs() ([]string, error) {
	addrs, err := h.addrs.InterfaceAddrs()
	if err != nil {
		return nil, err
	}

	var v4, v6 []string
	for _, addr := range addrs {
		var ip net.IP
		switch a := addr.(type) {
		case *net.IPNet:
			ip = a.IP
		case *net.IPAddr:
			ip = a.IP
		default:
			continue
		}
		if ip.To4() != nil {
			v4 = append(v4, ip.String())
		} else {
			v6 = append(v6, ip.String())
		}
	}
	return append(v4, v6...), nil
}

// LocalAddrs returns every address a migration destination on this host
// may be given as: the interface addresses and the outbound address.
func (h *Host) LocalAddrs() ([]string, error) {
	ips, err := h.LocalIPs()
	if err != nil {
		return nil, err
	}
	if out, err := h.addrs.OutboundIP(); err == nil {
		if s := out.String(); !slices.Contains(ips, s) {
			ips = append(ips, s)
		}
	} else {
		logger.Get().Debugf("Cannot determine the outbound address: %v", err)
	}
	return ips, nil
}

// HostIP returns the address consoles and volume targets reach this host
// on: the configured address, else the outbound address, else the first
// non-loopback interface address.
func (h *Host) HostIP() string {
	if h.myIP != "" {
		return h.myIP
	}
	if ip, err := h.addrs.OutboundIP(); err == nil {
		logger.Get().Debugf("Host IP address is: %s", ip)
		return ip.String()
	}

	ips, err := h.LocalIPs()
	if err != nil {
		logger.Get().Warnf("Warning: failed to list host addresses: %v", err)
		return ""
	}
	for _, s := range ips {
		if ip := net.ParseIP(s); ip != nil && !ip.IsLoopback() {
			logger.Get().Debugf("Host IP address is: %s", s)
			return s
		}
	}
	return ""
}
