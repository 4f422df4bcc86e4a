package authconf

import (
	"strings"
	"testing"

	"github.com/opencups/authd/pkg/authcore"
)

func TestParseBasicLocationBlock(t *testing.T) {
	src := `
<Location /admin>
Order Deny,Allow
Allow from 127.0.0.1/255.255.255.255
Deny from all
AuthType Basic
Require user alice @SYSTEM
Satisfy any
Encryption Required
</Location>
`
	tbl, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	_, loc, ok := tbl.FindBest("/admin/jobs", authcore.MGet)
	if !ok {
		t.Fatalf("expected a match for /admin")
	}
	if loc.Order != authcore.OrderDenyAllow {
		t.Fatalf("expected Order Deny,Allow")
	}
	if loc.Type != authcore.AuthBasic {
		t.Fatalf("expected AuthType Basic")
	}
	if loc.Level != authcore.LevelUser || len(loc.Names) != 2 || loc.Names[0] != "alice" || loc.Names[1] != "@SYSTEM" {
		t.Fatalf("unexpected Require result: %+v", loc)
	}
	if loc.Satisfy != authcore.SatisfyAny {
		t.Fatalf("expected Satisfy any")
	}
	if loc.Encryption != authcore.EncryptionRequired {
		t.Fatalf("expected Encryption Required")
	}
	if len(loc.Allow) != 1 || loc.Allow[0].Kind != authcore.MaskIP {
		t.Fatalf("unexpected Allow list: %+v", loc.Allow)
	}
	if len(loc.Deny) != 1 || loc.Deny[0].Kind != authcore.MaskIP || loc.Deny[0].Addr != (authcore.Addr4{}) || loc.Deny[0].Netmask != (authcore.Addr4{}) {
		t.Fatalf("unexpected Deny list: %+v", loc.Deny)
	}
}

func TestParseMultipleLocationsLongestPrefixWins(t *testing.T) {
	src := `
<Location />
Order Allow,Deny
Allow from all
</Location>
<Location /printers>
Order Allow,Deny
Allow from all
AuthType None
</Location>
`
	tbl, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	_, loc, ok := tbl.FindBest("/printers/lp", authcore.MGet)
	if !ok || loc.Path != "/printers" {
		t.Fatalf("expected /printers to win over /, got %+v %v", loc, ok)
	}
}

func TestParseCommentsAndBlankLinesIgnored(t *testing.T) {
	src := `
# a comment
<Location /admin>

# another comment
Order Allow,Deny
</Location>
`
	tbl, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, _, ok := tbl.FindBest("/admin", authcore.MGet); !ok {
		t.Fatalf("expected /admin to parse despite comments/blank lines")
	}
}

func TestParseLimitAndLimitExcept(t *testing.T) {
	src := `
<Location /admin>
Limit POST PUT
Order Allow,Deny
Allow from all
</Location>
`
	tbl, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	_, loc, _ := tbl.FindBest("/admin", authcore.MPost)
	if loc.Limit != authcore.MPost|authcore.MPut {
		t.Fatalf("unexpected Limit mask: %v", loc.Limit)
	}
	if _, _, ok := tbl.FindBest("/admin", authcore.MGet); ok {
		t.Fatalf("expected GET to be excluded by Limit POST PUT")
	}

	src2 := `
<Location /jobs>
LimitExcept GET
Order Allow,Deny
Allow from all
</Location>
`
	tbl2, err := Parse(strings.NewReader(src2))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, _, ok := tbl2.FindBest("/jobs", authcore.MGet); ok {
		t.Fatalf("expected GET to be excluded by LimitExcept GET")
	}
	if _, _, ok := tbl2.FindBest("/jobs", authcore.MPost); !ok {
		t.Fatalf("expected POST to still match")
	}
}

func TestParseMaskVariants(t *testing.T) {
	src := `
<Location /a>
Order Deny,Allow
Allow from 192.168.1.0/24
Allow from .example.com
Allow from @local
Allow from @IF(eth0)
Allow from printer.local
</Location>
`
	tbl, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	_, loc, _ := tbl.FindBest("/a", authcore.MGet)
	if len(loc.Allow) != 5 {
		t.Fatalf("expected 5 parsed masks, got %d: %+v", len(loc.Allow), loc.Allow)
	}
	if loc.Allow[0].Kind != authcore.MaskIP {
		t.Fatalf("expected an IP mask for 192.168.1.0/24")
	}
	if loc.Allow[1].Kind != authcore.MaskName || loc.Allow[1].Name != ".example.com" {
		t.Fatalf("expected a domain-suffix name mask")
	}
	if loc.Allow[2].Kind != authcore.MaskInterface || loc.Allow[2].Name != "*" {
		t.Fatalf("expected @local to become a wildcard interface mask")
	}
	if loc.Allow[3].Kind != authcore.MaskInterface || loc.Allow[3].Name != "eth0" {
		t.Fatalf("expected @IF(eth0) to become a named interface mask")
	}
	if loc.Allow[4].Kind != authcore.MaskName || loc.Allow[4].Name != "printer.local" {
		t.Fatalf("expected a bare hostname to become a name mask")
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"directive outside block", "Order Allow,Deny\n"},
		{"unterminated block", "<Location /a>\nOrder Allow,Deny\n"},
		{"nested blocks", "<Location /a>\n<Location /b>\n</Location>\n</Location>\n"},
		{"stray close", "</Location>\n"},
		{"unknown directive", "<Location /a>\nBogus foo\n</Location>\n"},
		{"bad order", "<Location /a>\nOrder Sideways\n</Location>\n"},
		{"bad authtype", "<Location /a>\nAuthType Quantum\n</Location>\n"},
		{"bad satisfy", "<Location /a>\nSatisfy maybe\n</Location>\n"},
		{"bad encryption", "<Location /a>\nEncryption Sometimes\n</Location>\n"},
		{"bad mask", "<Location /a>\nAllow from @IF()\n</Location>\n"},
		{"bad limit", "<Location /a>\nLimit FROBNICATE\n</Location>\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse(strings.NewReader(tc.src)); err == nil {
				t.Fatalf("expected a parse error")
			} else if _, ok := err.(*ParseError); !ok {
				if !strings.Contains(err.Error(), "authconf:") {
					t.Fatalf("expected a *ParseError or wrapped authconf error, got %T: %v", err, err)
				}
			}
		})
	}
}

func TestParseNoneMaskNeverMatches(t *testing.T) {
	src := `
<Location /a>
Order Deny,Allow
Allow from none
</Location>
`
	tbl, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	_, loc, _ := tbl.FindBest("/a", authcore.MGet)
	if len(loc.Allow) != 1 {
		t.Fatalf("expected one parsed mask")
	}
	if authcore.CheckMasks(authcore.Addr4{0, 0, 0, 1}, "", loc.Allow, nil) {
		t.Fatalf("expected \"none\" never to match any address")
	}
}

func TestParseIPPOperation(t *testing.T) {
	src := `
<Location /printers/lp>
Limit IPP
IPPOperation Create-Job
Order Allow,Deny
Allow from all
</Location>
<Location /printers/lp2>
Limit IPP
IPPOperation 0x0005
Order Allow,Deny
Allow from all
</Location>
`
	tbl, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	_, loc, ok := tbl.FindBest("/printers/lp", authcore.MIPP)
	if !ok {
		t.Fatalf("expected a match for /printers/lp")
	}
	if loc.Op != 0x0005 {
		t.Fatalf("expected IPPOperation Create-Job to resolve to 0x0005, got %#x", loc.Op)
	}

	_, loc2, ok := tbl.FindBest("/printers/lp2", authcore.MIPP)
	if !ok {
		t.Fatalf("expected a match for /printers/lp2")
	}
	if loc2.Op != 0x0005 {
		t.Fatalf("expected IPPOperation 0x0005 to parse as-is, got %#x", loc2.Op)
	}

	if _, err := Parse(strings.NewReader("<Location /a>\nIPPOperation bogus-op\n</Location>\n")); err == nil {
		t.Fatalf("expected an error for an unrecognized IPPOperation value")
	}
}

func TestParseValidUser(t *testing.T) {
	src := `
<Location /a>
Require valid-user
</Location>
`
	tbl, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	_, loc, _ := tbl.FindBest("/a", authcore.MGet)
	if loc.Level != authcore.LevelUser || loc.Names != nil {
		t.Fatalf("expected valid-user to set LevelUser with no names, got %+v", loc)
	}
}
