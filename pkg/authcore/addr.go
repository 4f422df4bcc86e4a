package authcore

import (
	"encoding/binary"
	"net/netip"
)

// Addr4 is a four-word address, mirroring the original http_addr_t: an IPv4
// address is stored in the low word (index 3) with the first three words
// zero, while an IPv6 address occupies all four words big-endian. Storing
// both families in the same fixed shape lets mask arithmetic (AND, equality)
// stay a single word-by-word loop regardless of family.
type Addr4 [4]uint32

// And returns the bitwise AND of a and m, word by word.
func (a Addr4) And(m Addr4) Addr4 {
	return Addr4{a[0] & m[0], a[1] & m[1], a[2] & m[2], a[3] & m[3]}
}

// AddrFromNetIP converts a netip.Addr to the four-word representation.
func AddrFromNetIP(a netip.Addr) Addr4 {
	a = a.Unmap()
	if a.Is4() {
		b := a.As4()
		return Addr4{0, 0, 0, binary.BigEndian.Uint32(b[:])}
	}
	b := a.As16()
	return Addr4{
		binary.BigEndian.Uint32(b[0:4]),
		binary.BigEndian.Uint32(b[4:8]),
		binary.BigEndian.Uint32(b[8:12]),
		binary.BigEndian.Uint32(b[12:16]),
	}
}

// FullMask returns the all-ones mask for the given family (IPv4 when v4 is
// true, used when a bare address literal with no explicit netmask is
// parsed, meaning "match this exact address").
func FullMask(v4 bool) Addr4 {
	if v4 {
		return Addr4{0, 0, 0, 0xffffffff}
	}
	return Addr4{0xffffffff, 0xffffffff, 0xffffffff, 0xffffffff}
}

// MaskFromPrefixLen builds a netmask of the given prefix length for the
// given family, placed in the same word positions AddrFromNetIP would place
// an address of that family.
func MaskFromPrefixLen(bits int, v4 bool) Addr4 {
	if v4 {
		if bits < 0 {
			bits = 0
		}
		if bits > 32 {
			bits = 32
		}
		return Addr4{0, 0, 0, prefixWord(bits)}
	}
	if bits < 0 {
		bits = 0
	}
	if bits > 128 {
		bits = 128
	}
	var m Addr4
	for i := 0; i < 4; i++ {
		wbits := bits - i*32
		m[i] = prefixWord(wbits)
	}
	return m
}

// prefixWord returns the 32-bit mask with the top n bits set (n clamped to
// [0,32]).
func prefixWord(n int) uint32 {
	if n <= 0 {
		return 0
	}
	if n >= 32 {
		return 0xffffffff
	}
	return ^uint32(0) << uint(32-n)
}
