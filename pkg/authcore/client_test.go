package authcore

import "testing"

func TestClientIsLocalhost(t *testing.T) {
	if !(Client{Hostname: "localhost"}).IsLocalhost() {
		t.Fatalf("expected localhost to match")
	}
	if !(Client{Hostname: "LOCALHOST"}).IsLocalhost() {
		t.Fatalf("expected case-insensitive match")
	}
	if (Client{Hostname: "printer.example.com"}).IsLocalhost() {
		t.Fatalf("expected no match")
	}
}

func TestClientIsLocalCertificate(t *testing.T) {
	cl := Client{Hostname: "localhost", Authorization: "Local abc123"}
	if !cl.IsLocalCertificate() {
		t.Fatalf("expected a Local-prefixed Authorization on localhost to match")
	}

	remote := Client{Hostname: "printer.example.com", Authorization: "Local abc123"}
	if remote.IsLocalCertificate() {
		t.Fatalf("expected a non-localhost client not to match, regardless of Authorization")
	}

	wrongScheme := Client{Hostname: "localhost", Authorization: "Basic abc123"}
	if wrongScheme.IsLocalCertificate() {
		t.Fatalf("expected a non-Local Authorization not to match")
	}
}

func TestAuthField(t *testing.T) {
	raw := `Digest username="alice", realm="CUPS", nonce="abc,def", response="xyz"`
	if v, ok := AuthField(raw, "username"); !ok || v != "alice" {
		t.Fatalf("username = %q, %v", v, ok)
	}
	if v, ok := AuthField(raw, "nonce"); !ok || v != "abc,def" {
		t.Fatalf("expected a quoted comma to survive splitting, got %q, %v", v, ok)
	}
	if v, ok := AuthField(raw, "RESPONSE"); !ok || v != "xyz" {
		t.Fatalf("expected case-insensitive field name match, got %q, %v", v, ok)
	}
	if _, ok := AuthField(raw, "missing"); ok {
		t.Fatalf("expected no match for an absent field")
	}
	if _, ok := AuthField("NoSpaceHere", "username"); ok {
		t.Fatalf("expected no match when there is no scheme/params separator")
	}
}
