// Package identity resolves the platform user/group database and the MD5
// password file format this module's credential verifiers consult.
package identity

import (
	"fmt"
	"os/user"
)

// User is the subset of a platform passwd entry this package exposes.
type User struct {
	Username string
	UID      string
	GID      string
}

// Resolver reaches the platform's user and group database. It is consulted
// only through this interface so that an OS-backed implementation and a
// database-backed one (see the sibling db/authdb package) are
// interchangeable.
type Resolver interface {
	// Lookup returns the passwd entry for username. ok is false, with a
	// nil error, if the user is simply unknown.
	Lookup(username string) (User, bool, error)
	// InGroup reports whether username is a member of groupname, either
	// as its primary group or via supplementary group membership.
	InGroup(username, groupname string) (bool, error)
}

// OSResolver is a Resolver backed by the host's own user/group database via
// the standard library's os/user package, the platform-independent entry
// point to whatever NSS/PAM/directory service the host is configured to
// use.
type OSResolver struct{}

// Lookup implements Resolver.
func (OSResolver) Lookup(username string) (User, bool, error) {
	u, err := user.Lookup(username)
	if err != nil {
		if _, ok := err.(user.UnknownUserError); ok {
			return User{}, false, nil
		}
		return User{}, false, fmt.Errorf("identity: lookup user %q: %w", username, err)
	}
	return User{Username: u.Username, UID: u.Uid, GID: u.Gid}, true, nil
}

// InGroup implements Resolver.
func (OSResolver) InGroup(username, groupname string) (bool, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return false, nil
	}
	g, err := user.LookupGroup(groupname)
	if err != nil {
		return false, nil
	}
	if u.Gid == g.Gid {
		return true, nil
	}
	gids, err := u.GroupIds()
	if err != nil {
		return false, fmt.Errorf("identity: list groups for %q: %w", username, err)
	}
	for _, id := range gids {
		if id == g.Gid {
			return true, nil
		}
	}
	return false, nil
}
