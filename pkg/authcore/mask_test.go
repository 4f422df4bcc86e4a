package authcore

import (
	"fmt"
	"testing"
)

type staticLister []Iface

func (l staticLister) Interfaces() ([]Iface, error) { return l, nil }

type errLister struct{}

func (errLister) Interfaces() ([]Iface, error) { return nil, fmt.Errorf("boom") }

func TestCheckMasksIP(t *testing.T) {
	masks := []Authmask{{Kind: MaskIP, Addr: Addr4{0, 0, 0, 0xc0a80000}, Netmask: Addr4{0, 0, 0, 0xffff0000}}}
	if !CheckMasks(Addr4{0, 0, 0, 0xc0a80101}, "", masks, nil) {
		t.Fatalf("expected 192.168.1.1 to match 192.168.0.0/16")
	}
	if CheckMasks(Addr4{0, 0, 0, 0x0a000001}, "", masks, nil) {
		t.Fatalf("expected 10.0.0.1 not to match 192.168.0.0/16")
	}
}

func TestCheckMasksName(t *testing.T) {
	masks := []Authmask{{Kind: MaskName, Name: ".example.com"}}
	if !CheckMasks(Addr4{}, "host.example.com", masks, nil) {
		t.Fatalf("expected host.example.com to match .example.com")
	}
	if CheckMasks(Addr4{}, "example.com.evil.net", masks, nil) {
		t.Fatalf("expected example.com.evil.net not to match .example.com")
	}

	exact := []Authmask{{Kind: MaskName, Name: "print.example.com"}}
	if !CheckMasks(Addr4{}, "PRINT.EXAMPLE.COM", exact, nil) {
		t.Fatalf("expected case-insensitive exact match")
	}
}

func TestCheckMasksInterface(t *testing.T) {
	il := staticLister{{Name: "eth0", Addr: Addr4{0, 0, 0, 0xc0a80101}, Mask: Addr4{0, 0, 0, 0xffffff00}}}
	masks := []Authmask{{Kind: MaskInterface, Name: "*"}}
	if !CheckMasks(Addr4{0, 0, 0, 0xc0a80105}, "", masks, il) {
		t.Fatalf("expected client on eth0's subnet to match @local")
	}
	if CheckMasks(Addr4{0, 0, 0, 0x0a000001}, "", masks, il) {
		t.Fatalf("expected client outside every local subnet not to match @local")
	}
}

func TestCheckMasksInterfaceFailsClosedOnError(t *testing.T) {
	masks := []Authmask{{Kind: MaskInterface, Name: "*"}}
	if CheckMasks(Addr4{0, 0, 0, 1}, "", masks, errLister{}) {
		t.Fatalf("an interface lister error must fail closed")
	}
}
