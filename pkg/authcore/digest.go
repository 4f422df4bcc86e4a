package authcore

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
)

// DigestRealm is the fixed HTTP Digest realm used throughout, matching the
// original scheduler's hardcoded realm string.
const DigestRealm = "CUPS"

// digestHA1 computes the HA1 value of RFC 2617 Digest authentication:
// MD5(username:realm:password). This is also what gets stored, instead of a
// cleartext or crypt-style password hash, for BasicDigest- and
// Digest-protected locations.
func digestHA1(username, realm, password string) string {
	sum := md5.Sum([]byte(username + ":" + realm + ":" + password))
	return hex.EncodeToString(sum[:])
}

// DigestHA1 computes the same HA1 value as digestHA1, exported for
// BasicHost implementations outside this package (e.g. a database-backed
// one) that need to recompute it from a presented cleartext password.
func DigestHA1(username, realm, password string) string {
	return digestHA1(username, realm, password)
}

// ConstantTimeEqual compares two hex digests in constant time, exported for
// the same external BasicHost implementations DigestHA1 serves.
func ConstantTimeEqual(a, b string) bool {
	return constantTimeEqual(a, b)
}

// digestFinal computes the Digest response hash a compliant client would
// send for the given method, request-URI, nonce and HA1:
//
//	HA2 = MD5(method:uri)
//	response = MD5(HA1:nonce:HA2)
//
// Quality-of-protection extensions (qop, nonce count, cnonce) are not
// modeled; the original scheduler does not implement them either.
func digestFinal(nonce, method, uri, ha1 string) string {
	ha2sum := md5.Sum([]byte(method + ":" + uri))
	ha2 := hex.EncodeToString(ha2sum[:])
	sum := md5.Sum([]byte(ha1 + ":" + nonce + ":" + ha2))
	return hex.EncodeToString(sum[:])
}

// constantTimeEqual compares two hex digests without leaking timing
// information about the position of the first mismatched byte.
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
