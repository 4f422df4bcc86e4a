package identity

import "context"

// ReadShadow looks up username's password hash in the platform shadow
// database (/etc/shadow on unix; unsupported on Windows, where ok is always
// false and err is nil — callers fall back to whatever else BasicHost
// implementation is configured). Its signature matches
// authcore.ShadowLookup, so it plugs directly into authcore.CryptHost.
func ReadShadow(ctx context.Context, username string) (hash string, ok bool, err error) {
	return readShadow(username)
}
