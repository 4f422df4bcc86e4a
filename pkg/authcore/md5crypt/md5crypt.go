// Package md5crypt implements the FreeBSD-style MD5 password hash
// ($1$salt$hash), the one password hash format this module's password-hash
// utility supports natively.
package md5crypt

import (
	"crypto/md5"
	"errors"
	"strings"
)

// Magic is the prefix identifying an MD5-crypt hash.
const Magic = "$1$"

const itoa64 = "./0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Crypt computes the FreeBSD MD5-crypt hash of password using salt (at most
// 8 characters of it; any extra is ignored, matching the reference
// implementation). The result is the full "$1$salt$hash" string.
func Crypt(password, salt string) string {
	if len(salt) > 8 {
		salt = salt[:8]
	}
	pw := []byte(password)

	ctx1 := md5.New()
	ctx1.Write(pw)
	ctx1.Write([]byte(salt))
	ctx1.Write(pw)
	final := ctx1.Sum(nil)

	ctx := md5.New()
	ctx.Write(pw)
	ctx.Write([]byte(Magic))
	ctx.Write([]byte(salt))

	for pl := len(pw); pl > 0; pl -= 16 {
		n := pl
		if n > 16 {
			n = 16
		}
		ctx.Write(final[:n])
	}

	zero := []byte{0}
	for i := len(pw); i != 0; i >>= 1 {
		if i&1 != 0 {
			ctx.Write(zero)
		} else {
			ctx.Write(pw[:1])
		}
	}
	final = ctx.Sum(nil)

	for i := 0; i < 1000; i++ {
		c1 := md5.New()
		if i&1 != 0 {
			c1.Write(pw)
		} else {
			c1.Write(final)
		}
		if i%3 != 0 {
			c1.Write([]byte(salt))
		}
		if i%7 != 0 {
			c1.Write(pw)
		}
		if i&1 != 0 {
			c1.Write(final)
		} else {
			c1.Write(pw)
		}
		final = c1.Sum(nil)
	}

	var b strings.Builder
	b.WriteString(Magic)
	b.WriteString(salt)
	b.WriteByte('$')

	to64 := func(v uint32, n int) {
		for i := 0; i < n; i++ {
			b.WriteByte(itoa64[v&0x3f])
			v >>= 6
		}
	}

	to64(uint32(final[0])<<16|uint32(final[6])<<8|uint32(final[12]), 4)
	to64(uint32(final[1])<<16|uint32(final[7])<<8|uint32(final[13]), 4)
	to64(uint32(final[2])<<16|uint32(final[8])<<8|uint32(final[14]), 4)
	to64(uint32(final[3])<<16|uint32(final[9])<<8|uint32(final[15]), 4)
	to64(uint32(final[4])<<16|uint32(final[10])<<8|uint32(final[5]), 4)
	to64(uint32(final[11]), 2)

	return b.String()
}

// ExtractSalt returns the salt portion of a stored "$1$salt$hash" value, or
// "" if stored does not carry the MD5-crypt prefix.
func ExtractSalt(stored string) string {
	if !strings.HasPrefix(stored, Magic) {
		return ""
	}
	rest := stored[len(Magic):]
	if i := strings.IndexByte(rest, '$'); i >= 0 {
		rest = rest[:i]
	}
	if len(rest) > 8 {
		rest = rest[:8]
	}
	return rest
}

// ErrUnsupported is returned by Traditional on platforms where the classic
// DES-based crypt(3) hash is not available.
var ErrUnsupported = errors.New("md5crypt: traditional (DES) crypt is not supported in this build")

// Traditional is the fallback for stored hashes that do not carry the
// MD5-crypt prefix. The classic crypt(3) DES hash has no portable, pure-Go
// implementation and no pack-available library; wiring it up requires a
// platform-specific collaborator (typically reached via cgo), which is
// exactly the kind of "pluggable authentication host" boundary this
// package's callers are expected to provide for themselves. Traditional
// exists so that boundary has a named, documented home instead of being
// silently absent.
func Traditional(password, salt string) (string, error) {
	return "", ErrUnsupported
}
