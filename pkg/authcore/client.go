package authcore

import "strings"

// Client is the authorization-relevant view of an inbound request: the
// fields the orchestrator needs, already extracted by the HTTP/IPP layer
// that sits in front of this package.
type Client struct {
	// Hostname is the client's resolved hostname, or its textual address
	// if reverse resolution is unavailable or was not attempted.
	Hostname string
	// Addr is the client's address in the four-word representation.
	Addr Addr4
	// Secure reports whether the connection this request arrived on is
	// already transport-encrypted (e.g. TLS).
	Secure bool

	// Username and Secret are the already-extracted credential fields:
	// for Basic auth Secret is the cleartext password, for Digest auth
	// it is the client's computed response hash.
	Username string
	Secret   string
	// Authorization is the raw Authorization header value, kept around
	// so sub-fields (nonce, realm, ...) can be pulled out of a Digest
	// challenge response without this package parsing the whole grammar.
	Authorization string

	// IPPRequestingUserName holds the value of an IPP request's
	// requesting-user-name attribute, if the request is an IPP request
	// that carried one. Empty means either not an IPP request, or no
	// such attribute was present.
	IPPRequestingUserName string
}

// IsLocalhost reports whether the client's resolved hostname names the
// local host.
func (c Client) IsLocalhost() bool {
	return strings.EqualFold(c.Hostname, "localhost")
}

// IsLocalCertificate reports whether this request should be treated as
// authenticated via a local certificate/token rather than a password: the
// client resolves to localhost and its Authorization field begins with
// "Local". Per the documented behavior this preserves, the HTTP layer is
// assumed to have already validated the token before the request reaches
// this package; IsLocalCertificate only recognizes the shape, it does not
// itself validate anything.
func (c Client) IsLocalCertificate() bool {
	return c.IsLocalhost() && strings.HasPrefix(c.Authorization, "Local")
}

// AuthField extracts a named sub-field (e.g. "nonce", "username",
// "response") from a scheme-prefixed Authorization header value such as
// `Digest username="joe", realm="CUPS", nonce="...", response="..."`.
func AuthField(raw, name string) (string, bool) {
	_, rest, ok := strings.Cut(raw, " ")
	if !ok {
		return "", false
	}
	for _, part := range splitAuthParams(rest) {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.Trim(strings.TrimSpace(v), `"`)
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// splitAuthParams splits a comma-separated list of key=value pairs,
// honoring double-quoted values that may themselves contain commas.
func splitAuthParams(s string) []string {
	var parts []string
	var cur strings.Builder
	inQuotes := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			cur.WriteRune(r)
		case r == ',' && !inQuotes:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}
