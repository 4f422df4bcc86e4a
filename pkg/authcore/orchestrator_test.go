package authcore

import (
	"context"
	"testing"

	"github.com/opencups/authd/pkg/authcore/identity"
)

type memResolver struct {
	groups map[string][]string
}

func (r memResolver) Lookup(username string) (identity.User, bool, error) {
	return identity.User{Username: username}, true, nil
}

func (r memResolver) InGroup(username, groupname string) (bool, error) {
	for _, u := range r.groups[groupname] {
		if u == username {
			return true, nil
		}
	}
	return false, nil
}

type memBasic map[string]string // username -> password

func (b memBasic) Authenticate(ctx context.Context, username, password string) (bool, error) {
	want, ok := b[username]
	return ok && want == password, nil
}

type memMD5 map[string]string // "user/group" -> ha1

func (m memMD5) GetMD5(user, group string) (string, bool) {
	v, ok := m[user+"/"+group]
	return v, ok
}

type countObserver struct {
	decisions map[Decision]int
}

func (o *countObserver) ObserveDecision(d Decision) {
	if o.decisions == nil {
		o.decisions = map[Decision]int{}
	}
	o.decisions[d]++
}

func newTestEngine(t *testing.T) (*Engine, *LocationTable) {
	t.Helper()
	tbl := NewLocationTable()
	return &Engine{
		Config: EngineConfig{
			ServerName:      "printserver",
			SystemGroups:    []string{"lp", "sys"},
			DefaultAuthType: AuthNone,
		},
		Locations: tbl,
		Identity:  memResolver{groups: map[string][]string{"lp": {"alice"}}},
		Basic:     memBasic{"alice": "hunter2"},
		MD5:       memMD5{},
	}, tbl
}

func TestIsAuthorizedNoLocationFallback(t *testing.T) {
	e, _ := newTestEngine(t)

	if d := e.IsAuthorized(context.Background(), Client{Hostname: "localhost"}, "/unknown", "GET", ""); d != OK {
		t.Fatalf("expected OK for localhost with no matching location, got %v", d)
	}
	if d := e.IsAuthorized(context.Background(), Client{Hostname: "printserver"}, "/unknown", "GET", ""); d != OK {
		t.Fatalf("expected OK when the client addresses this server by name, got %v", d)
	}
	if d := e.IsAuthorized(context.Background(), Client{Hostname: "elsewhere.example.com"}, "/unknown", "GET", ""); d != Forbidden {
		t.Fatalf("expected Forbidden for an unrelated host with no matching location, got %v", d)
	}
}

func TestIsAuthorizedAnonymousShortcut(t *testing.T) {
	e, tbl := newTestEngine(t)
	ref := tbl.Add("/")
	tbl.Set(ref, Location{Path: "/", Limit: MAll, Level: LevelAnonymous})

	d := e.IsAuthorized(context.Background(), Client{Hostname: "printer.example.com"}, "/", "GET", "")
	if d != OK {
		t.Fatalf("expected OK for an anonymous location with no names, got %v", d)
	}
}

func TestIsAuthorizedEncryptionRequired(t *testing.T) {
	e, tbl := newTestEngine(t)
	ref := tbl.Add("/admin")
	tbl.Set(ref, Location{Path: "/admin", Limit: MAll, Level: LevelAnonymous, Encryption: EncryptionRequired})

	d := e.IsAuthorized(context.Background(), Client{Hostname: "printer.example.com", Secure: false}, "/admin", "GET", "")
	if d != UpgradeRequired {
		t.Fatalf("expected UpgradeRequired over a plaintext connection, got %v", d)
	}
	d = e.IsAuthorized(context.Background(), Client{Hostname: "printer.example.com", Secure: true}, "/admin", "GET", "")
	if d != OK {
		t.Fatalf("expected OK once transport is secure, got %v", d)
	}
}

func TestIsAuthorizedHostDenyForbiddenUnderSatisfyAll(t *testing.T) {
	e, tbl := newTestEngine(t)
	ref := tbl.Add("/admin")
	tbl.Set(ref, Location{
		Path: "/admin", Limit: MAll, Level: LevelUser, Satisfy: SatisfyAll,
		Order: OrderAllowDeny,
		Deny:  []Authmask{{Kind: MaskIP, Addr: Addr4{0, 0, 0, 0x0a000001}, Netmask: Addr4{0, 0, 0, 0xffffffff}}},
		Names: []string{"alice"},
	})

	cl := Client{Hostname: "attacker.example.com", Addr: Addr4{0, 0, 0, 0x0a000001}, Username: "alice", Secret: "hunter2"}
	d := e.IsAuthorized(context.Background(), cl, "/admin", "GET", "")
	if d != Forbidden {
		t.Fatalf("expected Forbidden: satisfy-all with a denied host must never reach credential checks, got %v", d)
	}
}

func TestIsAuthorizedMissingUsername(t *testing.T) {
	e, tbl := newTestEngine(t)
	ref := tbl.Add("/jobs")
	tbl.Set(ref, Location{Path: "/jobs", Limit: MAll, Level: LevelUser, Satisfy: SatisfyAny, Names: []string{"alice"}})

	// No credentials, host access not denied (no Allow/Deny configured so
	// OrderAllowDeny's default verdict is allow): Satisfy-Any lets it
	// through anonymously per step 8.
	d := e.IsAuthorized(context.Background(), Client{Hostname: "printer.example.com"}, "/jobs", "GET", "")
	if d != OK {
		t.Fatalf("expected OK: satisfy-any with no deny and no username, got %v", d)
	}

	tbl.Set(ref, Location{Path: "/jobs", Limit: MAll, Level: LevelUser, Satisfy: SatisfyAll, Names: []string{"alice"}})
	d = e.IsAuthorized(context.Background(), Client{Hostname: "printer.example.com"}, "/jobs", "GET", "")
	if d != Unauthorized {
		t.Fatalf("expected Unauthorized: satisfy-all requires real credentials, got %v", d)
	}
}

func TestIsAuthorizedBasicCredentialsAndPrincipal(t *testing.T) {
	e, tbl := newTestEngine(t)
	ref := tbl.Add("/jobs")
	tbl.Set(ref, Location{Path: "/jobs", Limit: MAll, Level: LevelUser, Type: AuthBasic, Satisfy: SatisfyAll, Names: []string{"alice"}})

	good := Client{Hostname: "printer.example.com", Username: "alice", Secret: "hunter2"}
	if d := e.IsAuthorized(context.Background(), good, "/jobs", "GET", ""); d != OK {
		t.Fatalf("expected OK for alice with correct password, got %v", d)
	}

	bad := Client{Hostname: "printer.example.com", Username: "alice", Secret: "wrong"}
	if d := e.IsAuthorized(context.Background(), bad, "/jobs", "GET", ""); d != Unauthorized {
		t.Fatalf("expected Unauthorized for an incorrect password, got %v", d)
	}

	e.Basic = memBasic{"alice": "hunter2", "mallory": "hunter2"}
	other := Client{Hostname: "printer.example.com", Username: "mallory", Secret: "hunter2"}
	if d := e.IsAuthorized(context.Background(), other, "/jobs", "GET", ""); d != Unauthorized {
		t.Fatalf("expected Unauthorized for a user not in the Location's Names, got %v", d)
	}
}

func TestIsAuthorizedOwnerPrincipal(t *testing.T) {
	e, tbl := newTestEngine(t)
	ref := tbl.Add("/jobs/5")
	tbl.Set(ref, Location{Path: "/jobs/5", Limit: MAll, Level: LevelUser, Type: AuthBasic, Satisfy: SatisfyAll, Names: []string{"@OWNER"}})

	cl := Client{Hostname: "printer.example.com", Username: "alice", Secret: "hunter2"}
	if d := e.IsAuthorized(context.Background(), cl, "/jobs/5", "GET", "alice"); d != OK {
		t.Fatalf("expected OK when the authenticated user owns the resource, got %v", d)
	}
	if d := e.IsAuthorized(context.Background(), cl, "/jobs/5", "GET", "bob"); d != Unauthorized {
		t.Fatalf("expected Unauthorized when the authenticated user does not own the resource, got %v", d)
	}
}

func TestIsAuthorizedGroupPrincipal(t *testing.T) {
	e, tbl := newTestEngine(t)
	ref := tbl.Add("/admin")
	tbl.Set(ref, Location{Path: "/admin", Limit: MAll, Level: LevelGroup, Type: AuthBasic, Satisfy: SatisfyAll, Names: []string{"@lp"}})

	cl := Client{Hostname: "printer.example.com", Username: "alice", Secret: "hunter2"}
	if d := e.IsAuthorized(context.Background(), cl, "/admin", "GET", ""); d != OK {
		t.Fatalf("expected OK: alice is in group lp, got %v", d)
	}

	e.Basic = memBasic{"mallory": "hunter2"}
	cl2 := Client{Hostname: "printer.example.com", Username: "mallory", Secret: "hunter2"}
	if d := e.IsAuthorized(context.Background(), cl2, "/admin", "GET", ""); d != Unauthorized {
		t.Fatalf("expected Unauthorized: mallory is not in group lp, got %v", d)
	}
}

func TestIsAuthorizedRootBypassesPrincipalCheck(t *testing.T) {
	e, tbl := newTestEngine(t)
	ref := tbl.Add("/admin")
	tbl.Set(ref, Location{Path: "/admin", Limit: MAll, Level: LevelUser, Type: AuthBasic, Satisfy: SatisfyAll, Names: []string{"nobody-matches"}})
	e.Basic = memBasic{"root": "toor"}

	cl := Client{Hostname: "printer.example.com", Username: "root", Secret: "toor"}
	if d := e.IsAuthorized(context.Background(), cl, "/admin", "GET", ""); d != OK {
		t.Fatalf("expected root to bypass the principal check once authenticated, got %v", d)
	}
}

func TestIsAuthorizedUnauthenticatedIPPBypass(t *testing.T) {
	e, tbl := newTestEngine(t)
	ref := tbl.Add("/printers/lp")
	tbl.Set(ref, Location{Path: "/printers/lp", Limit: MIPP, Level: LevelUser, Type: AuthNone, Names: []string{"alice"}})

	cl := Client{Hostname: "printer.example.com", IPPRequestingUserName: "alice"}
	if d := e.IsAuthorized(context.Background(), cl, "/printers/lp", "", ""); d != OK {
		t.Fatalf("expected OK for an IPP request carrying requesting-user-name, got %v", d)
	}
}

func TestIsAuthorizedLocalCertificateBypassesPassword(t *testing.T) {
	e, tbl := newTestEngine(t)
	ref := tbl.Add("/admin")
	tbl.Set(ref, Location{Path: "/admin", Limit: MAll, Level: LevelUser, Type: AuthBasic, Satisfy: SatisfyAll, Names: []string{"alice"}})

	cl := Client{Hostname: "localhost", Username: "alice", Authorization: "Local sometoken"}
	if d := e.IsAuthorized(context.Background(), cl, "/admin", "GET", ""); d != OK {
		t.Fatalf("expected a local-certificate request to skip password verification, got %v", d)
	}
}

func TestIsAuthorizedDenyAllowOverwriteSemantics(t *testing.T) {
	// Order=Deny,Allow: a client matching neither list is left denied,
	// since the verdict starts as deny and neither phase finds a match
	// that would change it.
	e, tbl := newTestEngine(t)
	ref := tbl.Add("/secure")
	tbl.Set(ref, Location{
		Path: "/secure", Limit: MAll, Level: LevelAnonymous, Satisfy: SatisfyAll,
		Order: OrderDenyAllow,
		Deny:  []Authmask{{Kind: MaskName, Name: ".blocked.example.com"}},
	})

	cl := Client{Hostname: "unrelated.example.com"}
	if d := e.IsAuthorized(context.Background(), cl, "/secure", "GET", ""); d != Forbidden {
		t.Fatalf("expected Forbidden: under Deny,Allow an unmatched client stays denied, got %v", d)
	}
}

func TestIsAuthorizedDigestNonceMustBindToClientHostname(t *testing.T) {
	e, tbl := newTestEngine(t)
	ref := tbl.Add("/jobs")
	tbl.Set(ref, Location{Path: "/jobs", Limit: MAll, Level: LevelUser, Type: AuthDigest, Satisfy: SatisfyAll, Names: []string{"@SYSTEM"}})

	ha1 := digestHA1("bob", DigestRealm, "hunter2")
	e.MD5 = memMD5{"bob/lp": ha1}

	const host = "host.example"
	response := digestFinal(host, "GET", "/jobs", ha1)

	good := Client{Hostname: host, Username: "bob", Secret: response, Authorization: `Digest username="bob", nonce="` + host + `"`}
	if d := e.IsAuthorized(context.Background(), good, "/jobs", "GET", ""); d != OK {
		t.Fatalf("expected OK when the nonce matches the client hostname and the response is correct, got %v", d)
	}

	// §8: for any nonce != client hostname, verification must fail
	// regardless of response value — including a response computed
	// against that very (wrong) nonce.
	forged := digestFinal("evil", "GET", "/jobs", ha1)
	bad := Client{Hostname: host, Username: "bob", Secret: forged, Authorization: `Digest username="bob", nonce="evil"`}
	if d := e.IsAuthorized(context.Background(), bad, "/jobs", "GET", ""); d != Unauthorized {
		t.Fatalf("expected Unauthorized when the nonce does not bind to the client hostname, got %v", d)
	}
}

func TestIsAuthorizedDecisionObserverReceivesEveryDecision(t *testing.T) {
	e, tbl := newTestEngine(t)
	obs := &countObserver{}
	e.Observer = obs
	ref := tbl.Add("/")
	tbl.Set(ref, Location{Path: "/", Limit: MAll, Level: LevelAnonymous})

	e.IsAuthorized(context.Background(), Client{Hostname: "printer.example.com"}, "/", "GET", "")
	if obs.decisions[OK] != 1 {
		t.Fatalf("expected the observer to record one OK decision, got %+v", obs.decisions)
	}
}
