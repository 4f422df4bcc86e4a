package authcore

import (
	"context"
	"fmt"
	"strings"

	"github.com/opencups/authd/pkg/authcore/md5crypt"
)

// BasicHost authenticates a username/password pair for Basic-type
// Locations. It is the "pluggable authentication host" collaborator named
// by this package's design notes. This file provides two implementations,
// CryptHost and PluggableHost; pkg/authd adds a third backed by db/authdb
// and picks between CryptHost and that one by configuration.
type BasicHost interface {
	Authenticate(ctx context.Context, username, password string) (bool, error)
}

// ShadowLookup returns the stored password hash for username. ok is false,
// with a nil error, if the account is unknown; a blank stored hash must
// never be treated as matching, which CryptHost enforces regardless of what
// ShadowLookup returns.
type ShadowLookup func(ctx context.Context, username string) (hash string, ok bool, err error)

// CryptHost is the crypt+shadow-style BasicHost implementation: it looks up
// a stored password hash and compares it against an MD5-crypt or
// traditional-crypt recomputation of the presented password.
//
// Traditional (non-"$1$") shadow hashes will not verify in this build:
// md5crypt.Traditional has no portable DES crypt implementation to fall
// back to and always returns md5crypt.ErrUnsupported (see that package's
// doc comment). Deployments whose shadow database still has DES-crypted
// entries need a PluggableHost backed by the platform's own crypt(3), not
// CryptHost.
type CryptHost struct {
	Lookup ShadowLookup
}

// Authenticate implements BasicHost.
func (h CryptHost) Authenticate(ctx context.Context, username, password string) (bool, error) {
	if h.Lookup == nil {
		return false, fmt.Errorf("authcore: CryptHost has no ShadowLookup configured")
	}
	stored, ok, err := h.Lookup(ctx, username)
	if err != nil {
		return false, err
	}
	if !ok || stored == "" {
		return false, nil
	}

	var computed string
	if strings.HasPrefix(stored, md5crypt.Magic) {
		salt := md5crypt.ExtractSalt(stored)
		computed = md5crypt.Crypt(password, salt)
	} else {
		computed, err = md5crypt.Traditional(password, stored)
		if err != nil {
			return false, err
		}
	}
	return constantTimeEqual(computed, stored), nil
}

// PluggableHost models a PAM-like pluggable authentication host: the actual
// conversation (supply the username on echo-on prompts, the password on
// echo-off prompts) is delegated to Conversation, which a caller wires up to
// whatever system library provides that dialogue (commonly through cgo).
// This type makes a single Conversation call per authentication and maps
// its result to BasicHost's; it never talks to a real pluggable auth host
// itself.
type PluggableHost struct {
	Conversation func(ctx context.Context, username, password string) error
}

// Authenticate implements BasicHost. A conversation error is treated as an
// authentication failure (fail closed), not surfaced as an error from this
// method, matching this package's error-handling design: only a
// configuration mistake (no Conversation wired up) is returned as an error.
func (h PluggableHost) Authenticate(ctx context.Context, username, password string) (bool, error) {
	if h.Conversation == nil {
		return false, fmt.Errorf("authcore: PluggableHost has no Conversation configured")
	}
	if err := h.Conversation(ctx, username, password); err != nil {
		return false, nil
	}
	return true, nil
}
