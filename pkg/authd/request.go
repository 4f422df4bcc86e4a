package authd

import (
	"encoding/base64"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/opencups/authd/pkg/authcore"
)

// ClientFromRequest builds the authorization-relevant view of r that
// authcore.Engine.IsAuthorized consumes. It does not itself decide
// anything; it only extracts and normalizes fields, mirroring the
// canonicalization the teacher's access log middleware performs on
// r.RemoteAddr/r.Host before logging them.
func ClientFromRequest(r *http.Request) authcore.Client {
	cl := authcore.Client{
		Secure:        r.TLS != nil,
		Authorization: r.Header.Get("Authorization"),
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	cl.Hostname = host
	if addr, err := netip.ParseAddr(host); err == nil {
		cl.Addr = authcore.AddrFromNetIP(addr)
	}

	if scheme, username, secret, ok := parseAuthorization(cl.Authorization); ok {
		cl.Username = username
		cl.Secret = secret
		_ = scheme
	}

	cl.IPPRequestingUserName = r.FormValue("requesting-user-name")

	return cl
}

// parseAuthorization splits an HTTP Authorization header into the fields
// authcore.Client needs. For "Basic", secret is the cleartext password
// (used directly for Basic auth, and re-hashed for BasicDigest). For
// "Digest", secret is the client's computed response hash, compared
// against a freshly computed one rather than decoded further.
func parseAuthorization(raw string) (scheme, username, secret string, ok bool) {
	scheme, rest, hasSpace := strings.Cut(raw, " ")
	if !hasSpace {
		return "", "", "", false
	}
	switch strings.ToLower(scheme) {
	case "basic":
		dec, err := base64.StdEncoding.DecodeString(strings.TrimSpace(rest))
		if err != nil {
			return "", "", "", false
		}
		user, pass, ok := strings.Cut(string(dec), ":")
		if !ok {
			return "", "", "", false
		}
		return "basic", user, pass, true
	case "digest":
		user, ok := authcore.AuthField(raw, "username")
		if !ok {
			return "", "", "", false
		}
		resp, ok := authcore.AuthField(raw, "response")
		if !ok {
			return "", "", "", false
		}
		return "digest", user, resp, true
	default:
		return "", "", "", false
	}
}

// WWWAuthenticate returns the WWW-Authenticate challenge header value an
// HTTP handler should send alongside a 401 response for loc's auth type.
func WWWAuthenticate(typ authcore.AuthType, nonce string) string {
	switch typ {
	case authcore.AuthDigest:
		return `Digest realm="` + authcore.DigestRealm + `", nonce="` + nonce + `"`
	default:
		return `Basic realm="` + authcore.DigestRealm + `"`
	}
}
