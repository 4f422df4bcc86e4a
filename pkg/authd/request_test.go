package authd

import (
	"encoding/base64"
	"net/http/httptest"
	"testing"

	"github.com/opencups/authd/pkg/authcore"
)

func TestClientFromRequestBasic(t *testing.T) {
	r := httptest.NewRequest("GET", "/jobs", nil)
	r.RemoteAddr = "192.168.1.5:54321"
	r.SetBasicAuth("alice", "hunter2")

	cl := ClientFromRequest(r)
	if cl.Hostname != "192.168.1.5" {
		t.Fatalf("expected RemoteAddr's host part, got %q", cl.Hostname)
	}
	if cl.Username != "alice" || cl.Secret != "hunter2" {
		t.Fatalf("expected decoded Basic credentials, got %q/%q", cl.Username, cl.Secret)
	}
	if cl.Secure {
		t.Fatalf("expected Secure=false for a request with no TLS")
	}
}

func TestClientFromRequestDigest(t *testing.T) {
	r := httptest.NewRequest("GET", "/jobs", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("Authorization", `Digest username="bob", realm="CUPS", nonce="abc123", uri="/jobs", response="deadbeef"`)

	cl := ClientFromRequest(r)
	if cl.Username != "bob" {
		t.Fatalf("expected username bob, got %q", cl.Username)
	}
	if cl.Secret != "deadbeef" {
		t.Fatalf("expected the response field as Secret, got %q", cl.Secret)
	}
}

func TestClientFromRequestNoAuthorization(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "127.0.0.1:9999"

	cl := ClientFromRequest(r)
	if cl.Username != "" || cl.Secret != "" {
		t.Fatalf("expected no credentials when no Authorization header is present")
	}
	if cl.Hostname != "127.0.0.1" {
		t.Fatalf("expected 127.0.0.1, got %q", cl.Hostname)
	}
}

func TestClientFromRequestRemoteAddrWithoutPort(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "not-a-host-port"

	cl := ClientFromRequest(r)
	if cl.Hostname != "not-a-host-port" {
		t.Fatalf("expected the raw RemoteAddr to be used verbatim, got %q", cl.Hostname)
	}
}

func TestClientFromRequestIPPRequestingUserName(t *testing.T) {
	r := httptest.NewRequest("POST", "/printers/lp?requesting-user-name=carol", nil)
	r.RemoteAddr = "127.0.0.1:1"

	cl := ClientFromRequest(r)
	if cl.IPPRequestingUserName != "carol" {
		t.Fatalf("expected requesting-user-name to be extracted, got %q", cl.IPPRequestingUserName)
	}
}

func TestParseAuthorizationMalformedBasic(t *testing.T) {
	raw := "Basic " + base64.StdEncoding.EncodeToString([]byte("no-colon-here"))
	if _, _, _, ok := parseAuthorization(raw); ok {
		t.Fatalf("expected no match for a Basic value with no colon")
	}
	if _, _, _, ok := parseAuthorization("Basic not-valid-base64!!!"); ok {
		t.Fatalf("expected no match for invalid base64")
	}
	if _, _, _, ok := parseAuthorization("NotAScheme"); ok {
		t.Fatalf("expected no match when there is no scheme/value separator")
	}
	if _, _, _, ok := parseAuthorization("Bearer sometoken"); ok {
		t.Fatalf("expected no match for an unsupported scheme")
	}
}

func TestWWWAuthenticate(t *testing.T) {
	if v := WWWAuthenticate(authcore.AuthBasic, ""); v != `Basic realm="CUPS"` {
		t.Fatalf("unexpected Basic challenge: %q", v)
	}
	if v := WWWAuthenticate(authcore.AuthDigest, "n0nce"); v != `Digest realm="CUPS", nonce="n0nce"` {
		t.Fatalf("unexpected Digest challenge: %q", v)
	}
	// BasicDigest still challenges the client with a Basic prompt: the
	// server side recomputes HA1 from whatever password comes back.
	if v := WWWAuthenticate(authcore.AuthBasicDigest, ""); v != `Basic realm="CUPS"` {
		t.Fatalf("unexpected BasicDigest challenge: %q", v)
	}
}
