// Package authconf parses the directive-file config vocabulary this
// module's authorization core expects (location blocks, mask syntax,
// principal syntax) into an *authcore.LocationTable. It is the concrete
// loader that builds the table FindBest walks, kept separate from the core
// engine so the engine itself never depends on a text format.
package authconf

import (
	"bufio"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strconv"
	"strings"

	"github.com/opencups/authd/pkg/authcore"
)

// ParseError records the line a directive-file error occurred on.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("authconf: line %d: %s", e.Line, e.Msg)
}

// ParseFile parses the directive file at path into a new LocationTable.
func ParseFile(path string) (*authcore.LocationTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("authconf: open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a directive file of the form:
//
//	<Location /admin>
//	Order Deny,Allow
//	Allow from 127.0.0.1/255.255.255.255
//	Deny from all
//	AuthType Basic
//	Require user alice @SYSTEM
//	Satisfy any
//	Encryption Required
//	</Location>
//
// One Location block per path (paths need not be unique; see
// LocationTable.Add). Recognized directives: Order, Allow, Deny, AuthType,
// Require, Satisfy, Encryption, Limit, LimitExcept, IPPOperation.
func Parse(r io.Reader) (*authcore.LocationTable, error) {
	t := authcore.NewLocationTable()

	sc := bufio.NewScanner(r)
	lineNo := 0

	var cur *building
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if open, path, ok := parseLocationOpen(line); ok {
			if !open {
				return nil, &ParseError{lineNo, "unexpected closing tag outside a Location block"}
			}
			if cur != nil {
				return nil, &ParseError{lineNo, "nested <Location> blocks are not supported"}
			}
			cur = &building{loc: authcore.Location{Path: path, Limit: authcore.MAll}}
			continue
		}
		if line == "</Location>" {
			if cur == nil {
				return nil, &ParseError{lineNo, "</Location> without matching <Location>"}
			}
			t.Set(t.Add(cur.loc.Path), cur.loc)
			cur = nil
			continue
		}
		if cur == nil {
			return nil, &ParseError{lineNo, "directive outside a <Location> block"}
		}
		if err := cur.directive(line); err != nil {
			return nil, &ParseError{lineNo, err.Error()}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("authconf: %w", err)
	}
	if cur != nil {
		return nil, &ParseError{lineNo, "unterminated <Location> block"}
	}
	return t, nil
}

type building struct {
	loc authcore.Location
}

func parseLocationOpen(line string) (open bool, path string, ok bool) {
	if !strings.HasPrefix(line, "<") || !strings.HasSuffix(line, ">") {
		return false, "", false
	}
	body := strings.TrimSuffix(strings.TrimPrefix(line, "<"), ">")
	body = strings.TrimSpace(body)
	if strings.HasPrefix(body, "/") {
		return false, "", false // "</Location>" handled by the caller directly
	}
	name, path, ok := strings.Cut(body, " ")
	if !ok || !strings.EqualFold(name, "Location") {
		return false, "", false
	}
	return true, strings.TrimSpace(path), true
}

func (b *building) directive(line string) error {
	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(name) {
	case "order":
		return b.setOrder(rest)
	case "allow":
		masks, err := parseMaskList(rest)
		if err != nil {
			return err
		}
		b.loc.Allow = append(b.loc.Allow, masks...)
	case "deny":
		masks, err := parseMaskList(rest)
		if err != nil {
			return err
		}
		b.loc.Deny = append(b.loc.Deny, masks...)
	case "authtype":
		t, err := parseAuthType(rest)
		if err != nil {
			return err
		}
		b.loc.Type = t
	case "require":
		level, names, err := parseRequire(rest)
		if err != nil {
			return err
		}
		b.loc.Level = level
		b.loc.Names = names
	case "satisfy":
		switch strings.ToLower(rest) {
		case "any":
			b.loc.Satisfy = authcore.SatisfyAny
		case "all":
			b.loc.Satisfy = authcore.SatisfyAll
		default:
			return fmt.Errorf("invalid Satisfy value %q", rest)
		}
	case "encryption":
		e, err := parseEncryption(rest)
		if err != nil {
			return err
		}
		b.loc.Encryption = e
	case "limit":
		m, err := parseMethodList(rest)
		if err != nil {
			return err
		}
		b.loc.Limit = m
	case "limitexcept":
		m, err := parseMethodList(rest)
		if err != nil {
			return err
		}
		b.loc.Limit = authcore.MAll &^ m
	case "ippoperation":
		op, err := parseIPPOperation(rest)
		if err != nil {
			return err
		}
		b.loc.Op = op
	default:
		return fmt.Errorf("unknown directive %q", name)
	}
	return nil
}

// ippOperations maps the handful of IPP operation names a print-server
// config commonly scopes a Limit IPP block to onto their RFC 8011 opcodes.
// A bare decimal value is also accepted for operations not listed here.
var ippOperations = map[string]int{
	"print-job":              0x0002,
	"print-uri":              0x0003,
	"validate-job":           0x0004,
	"create-job":             0x0005,
	"send-document":          0x0006,
	"send-uri":               0x0007,
	"cancel-job":             0x0008,
	"get-job-attributes":     0x0009,
	"get-jobs":               0x000a,
	"get-printer-attributes": 0x000b,
	"hold-job":               0x000c,
	"release-job":            0x000d,
	"restart-job":            0x000e,
	"pause-printer":          0x0010,
	"resume-printer":         0x0011,
	"purge-jobs":             0x0012,
}

// parseIPPOperation parses the argument of an "IPPOperation" directive: an
// operation name (case-insensitive) from ippOperations, or a bare decimal or
// "0x"-prefixed hex operation id.
func parseIPPOperation(rest string) (int, error) {
	rest = strings.TrimSpace(rest)
	if op, ok := ippOperations[strings.ToLower(rest)]; ok {
		return op, nil
	}
	if n, err := strconv.ParseInt(rest, 0, 32); err == nil {
		return int(n), nil
	}
	return 0, fmt.Errorf("invalid IPPOperation value %q", rest)
}

func (b *building) setOrder(rest string) error {
	switch strings.ToLower(strings.Join(strings.Fields(strings.ReplaceAll(rest, ",", " ")), ",")) {
	case "deny,allow":
		b.loc.Order = authcore.OrderDenyAllow
	case "allow,deny":
		b.loc.Order = authcore.OrderAllowDeny
	default:
		return fmt.Errorf("invalid Order value %q, expected \"Allow,Deny\" or \"Deny,Allow\"", rest)
	}
	return nil
}

// parseMaskList parses the right-hand side of an Allow/Deny directive: an
// optional leading "from" followed by a comma-separated list of masks, each
// one of: @LOCAL, @IF(name), a leading-dot domain suffix, an IP literal with
// an optional netmask, or a bare hostname. "all"/"none" are also recognized,
// matching the keyword a deployment most commonly writes for "match
// everything"/"match nothing".
func parseMaskList(rest string) ([]authcore.Authmask, error) {
	rest = strings.TrimPrefix(rest, "from ")
	rest = strings.TrimPrefix(rest, "From ")
	var out []authcore.Authmask
	for _, tok := range strings.Split(rest, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		m, err := parseMask(tok)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func parseMask(tok string) (authcore.Authmask, error) {
	switch {
	case strings.EqualFold(tok, "all"):
		// "all" matches everything: a zero netmask reduces every client
		// address to zero, which equals the zero address.
		return authcore.Authmask{Kind: authcore.MaskIP}, nil
	case strings.EqualFold(tok, "none"):
		// "none" never matches: a zero netmask reduces every client address
		// to zero, which never equals the nonzero address 0.0.0.1.
		return authcore.Authmask{Kind: authcore.MaskIP, Addr: authcore.Addr4{0, 0, 0, 1}}, nil
	case strings.EqualFold(tok, "@local"):
		return authcore.Authmask{Kind: authcore.MaskInterface, Name: "*"}, nil
	case strings.HasPrefix(strings.ToLower(tok), "@if(") && strings.HasSuffix(tok, ")"):
		name := tok[len("@if(") : len(tok)-1]
		if name == "" {
			return authcore.Authmask{}, fmt.Errorf("@IF() requires an interface name")
		}
		return authcore.Authmask{Kind: authcore.MaskInterface, Name: name}, nil
	case strings.HasPrefix(tok, "."):
		return authcore.Authmask{Kind: authcore.MaskName, Name: tok}, nil
	}

	if addr, netmask, err := parseIPMask(tok); err == nil {
		return authcore.Authmask{Kind: authcore.MaskIP, Addr: addr, Netmask: netmask}, nil
	}
	return authcore.Authmask{Kind: authcore.MaskName, Name: tok}, nil
}

// parseIPMask parses an address, optionally followed by "/n" (prefix
// length) or "/a.b.c.d" (dotted netmask). A bare address with no slash gets
// the full (exact-match) mask for its family.
func parseIPMask(tok string) (addr, mask authcore.Addr4, err error) {
	addrPart, maskPart, hasMask := strings.Cut(tok, "/")

	a, err := netip.ParseAddr(addrPart)
	if err != nil {
		return authcore.Addr4{}, authcore.Addr4{}, fmt.Errorf("not an IP address: %q", addrPart)
	}
	a = a.Unmap()
	addr = authcore.AddrFromNetIP(a)

	if !hasMask {
		return addr, authcore.FullMask(a.Is4()), nil
	}
	if ma, merr := netip.ParseAddr(maskPart); merr == nil {
		mask = authcore.AddrFromNetIP(ma.Unmap())
		return addr, mask, nil
	}
	if bits, perr := strconv.Atoi(maskPart); perr == nil {
		return addr, authcore.MaskFromPrefixLen(bits, a.Is4()), nil
	}
	return authcore.Addr4{}, authcore.Addr4{}, fmt.Errorf("invalid netmask %q", maskPart)
}

func parseAuthType(rest string) (authcore.AuthType, error) {
	switch strings.ToLower(rest) {
	case "none", "":
		return authcore.AuthNone, nil
	case "basic":
		return authcore.AuthBasic, nil
	case "digest":
		return authcore.AuthDigest, nil
	case "basicdigest":
		return authcore.AuthBasicDigest, nil
	default:
		return 0, fmt.Errorf("invalid AuthType value %q", rest)
	}
}

// parseRequire parses "Require user name1 name2 ..." or "Require group
// name1 name2 ...", where each name may itself be a bare username, "@name"
// for a group, "@SYSTEM", or "@OWNER" (user level only).
func parseRequire(rest string) (authcore.Level, []string, error) {
	kind, names, _ := strings.Cut(rest, " ")
	fields := strings.Fields(names)
	switch strings.ToLower(kind) {
	case "user":
		return authcore.LevelUser, fields, nil
	case "group":
		return authcore.LevelGroup, fields, nil
	case "valid-user":
		return authcore.LevelUser, nil, nil
	default:
		return 0, nil, fmt.Errorf("invalid Require level %q", kind)
	}
}

func parseEncryption(rest string) (authcore.Encryption, error) {
	switch strings.ToLower(rest) {
	case "ifrequested":
		return authcore.EncryptionIfRequested, nil
	case "required":
		return authcore.EncryptionRequired, nil
	case "never":
		return authcore.EncryptionNever, nil
	default:
		return 0, fmt.Errorf("invalid Encryption value %q", rest)
	}
}

func parseMethodList(rest string) (authcore.MethodMask, error) {
	var m authcore.MethodMask
	for _, tok := range strings.Fields(strings.ReplaceAll(rest, ",", " ")) {
		switch strings.ToUpper(tok) {
		case "GET":
			m |= authcore.MGet
		case "HEAD":
			m |= authcore.MHead
		case "POST":
			m |= authcore.MPost
		case "PUT":
			m |= authcore.MPut
		case "DELETE":
			m |= authcore.MDelete
		case "OPTIONS":
			m |= authcore.MOptions
		case "TRACE":
			m |= authcore.MTrace
		case "IPP":
			m |= authcore.MIPP
		default:
			return 0, fmt.Errorf("invalid method %q", tok)
		}
	}
	if m == 0 {
		return 0, fmt.Errorf("no methods listed")
	}
	return m, nil
}
