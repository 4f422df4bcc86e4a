package authcore

import "strings"

// MaskKind selects the variant an Authmask holds.
type MaskKind uint8

const (
	MaskIP MaskKind = iota
	MaskName
	MaskInterface
)

// Authmask is a single allow/deny test: an IP/netmask pair, a hostname (or
// leading-dot domain suffix), or a local network interface reference ("*"
// for any local interface, or a specific interface name).
type Authmask struct {
	Kind MaskKind

	// Kind == MaskIP
	Addr    Addr4
	Netmask Addr4

	// Kind == MaskName: exact hostname, or a domain suffix if it begins
	// with ".". Kind == MaskInterface: "*" or an interface name.
	Name string
}

// CheckMasks reports whether the client identified by addr/host matches any
// of masks, in order. The first matching mask wins; an interface mask needs
// il to resolve the server's local interfaces, and is treated as
// non-matching (fail closed) if il returns an error.
func CheckMasks(addr Addr4, host string, masks []Authmask, il InterfaceLister) bool {
	for _, m := range masks {
		switch m.Kind {
		case MaskIP:
			if addr.And(m.Netmask) == m.Addr {
				return true
			}
		case MaskName:
			if matchName(host, m.Name) {
				return true
			}
		case MaskInterface:
			if matchInterface(addr, m.Name, il) {
				return true
			}
		}
	}
	return false
}

func matchName(host, mask string) bool {
	if host == "" {
		return false
	}
	if strings.EqualFold(host, mask) {
		return true
	}
	if strings.HasPrefix(mask, ".") {
		if len(host) >= len(mask) && strings.EqualFold(host[len(host)-len(mask):], mask) {
			return true
		}
	}
	return false
}

func matchInterface(addr Addr4, name string, il InterfaceLister) bool {
	if il == nil {
		il = DefaultInterfaceLister()
	}
	ifaces, err := il.Interfaces()
	if err != nil {
		// An unusable interface list is treated as no match: fail closed
		// rather than silently granting access via a mask that could not
		// be evaluated.
		return false
	}
	for _, f := range ifaces {
		if name != "*" && !strings.EqualFold(f.Name, name) {
			continue
		}
		if addr.And(f.Mask) == f.Addr.And(f.Mask) {
			return true
		}
	}
	return false
}
