package authcore

import (
	"fmt"
	"net"
	"net/netip"
)

// Iface is one address assigned to a local network interface, in the
// four-word representation used throughout this package.
type Iface struct {
	Name string
	Addr Addr4
	Mask Addr4
}

// InterfaceLister enumerates the server's local network interfaces and their
// addresses. It is the one pluggable boundary through which this package
// reaches the host's network-interface list, matching the "network-interface
// enumeration" collaborator that is named, but not implemented, by the
// authorization-core's own scope.
type InterfaceLister interface {
	Interfaces() ([]Iface, error)
}

// DefaultInterfaceLister returns an InterfaceLister backed by the standard
// library's net package.
func DefaultInterfaceLister() InterfaceLister { return netInterfaceLister{} }

type netInterfaceLister struct{}

func (netInterfaceLister) Interfaces() ([]Iface, error) {
	ifs, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("enumerate interfaces: %w", err)
	}
	var out []Iface
	for _, f := range ifs {
		addrs, err := f.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipn, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			addr, ok := netip.AddrFromSlice(ipn.IP)
			if !ok {
				continue
			}
			addr = addr.Unmap()
			ones, _ := ipn.Mask.Size()
			out = append(out, Iface{
				Name: f.Name,
				Addr: AddrFromNetIP(addr),
				Mask: MaskFromPrefixLen(ones, addr.Is4()),
			})
		}
	}
	return out, nil
}
