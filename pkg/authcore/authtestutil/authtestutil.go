// Package authtestutil holds conformance test suites that every
// identity.Resolver and identity.MD5Store implementation is run against, so
// the OS-backed and database-backed backends are held to the same contract.
package authtestutil

import (
	"testing"

	"github.com/opencups/authd/pkg/authcore/identity"
)

// MD5Store is the subset of identity.MD5Store plus the seeding operation a
// database-backed implementation needs to exercise TestMD5Store: production
// code only needs GetMD5, but a test double/backend also needs a way to
// populate rows.
type MD5Store interface {
	identity.MD5Store
	PutMD5(user, group, hash string) error
}

// TestMD5Store tests an EMPTY MD5Store implementation for conformance with
// identity.MD5Store's documented lookup rules (exact user match, optional
// group scoping, first match wins).
func TestMD5Store(t *testing.T, s MD5Store) {
	t.Run("GetNonexistent", func(t *testing.T) {
		if _, ok := s.GetMD5("nobody", ""); ok {
			t.Fatalf("expected no match")
		}
	})

	if err := s.PutMD5("alice", "lp", "5f4dcc3b5aa765d61d8327deb882cf99"); err != nil {
		t.Fatalf("seed alice/lp: %v", err)
	}
	if err := s.PutMD5("alice", "sys", "e10adc3949ba59abbe56e057f20f883e"); err != nil {
		t.Fatalf("seed alice/sys: %v", err)
	}

	t.Run("GetAnyGroup", func(t *testing.T) {
		hash, ok := s.GetMD5("alice", "")
		if !ok {
			t.Fatalf("expected a match")
		}
		if hash != "5f4dcc3b5aa765d61d8327deb882cf99" && hash != "e10adc3949ba59abbe56e057f20f883e" {
			t.Fatalf("unexpected hash %q", hash)
		}
	})
	t.Run("GetScopedGroup", func(t *testing.T) {
		hash, ok := s.GetMD5("alice", "sys")
		if !ok {
			t.Fatalf("expected a match")
		}
		if hash != "e10adc3949ba59abbe56e057f20f883e" {
			t.Fatalf("got hash %q, want the sys-scoped one", hash)
		}
	})
	t.Run("GetWrongGroup", func(t *testing.T) {
		if _, ok := s.GetMD5("alice", "nogroup"); ok {
			t.Fatalf("expected no match")
		}
	})
	t.Run("GetWrongUser", func(t *testing.T) {
		if _, ok := s.GetMD5("bob", ""); ok {
			t.Fatalf("expected no match")
		}
	})
}

// Resolver is the subset of identity.Resolver plus the seeding operations a
// database-backed implementation needs to exercise TestResolver.
type Resolver interface {
	identity.Resolver
	PutUser(username, uid, gid string) error
	PutGroup(groupname, gid string, members ...string) error
}

// TestResolver tests an EMPTY Resolver implementation for conformance with
// identity.Resolver's documented lookup and group-membership rules.
func TestResolver(t *testing.T, r Resolver) {
	t.Run("LookupNonexistent", func(t *testing.T) {
		if _, ok, err := r.Lookup("nobody"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		} else if ok {
			t.Fatalf("expected no match")
		}
	})

	if err := r.PutUser("alice", "1000", "1000"); err != nil {
		t.Fatalf("seed alice: %v", err)
	}
	if err := r.PutUser("bob", "1001", "1001"); err != nil {
		t.Fatalf("seed bob: %v", err)
	}
	if err := r.PutGroup("staff", "1000"); err != nil {
		t.Fatalf("seed staff (primary gid match): %v", err)
	}
	if err := r.PutGroup("lp", "2000", "bob"); err != nil {
		t.Fatalf("seed lp (supplementary): %v", err)
	}

	t.Run("Lookup", func(t *testing.T) {
		u, ok, err := r.Lookup("alice")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ok {
			t.Fatalf("expected a match")
		}
		if u.Username != "alice" || u.UID != "1000" {
			t.Fatalf("unexpected user %+v", u)
		}
	})
	t.Run("InGroupByPrimaryGID", func(t *testing.T) {
		ok, err := r.InGroup("alice", "staff")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ok {
			t.Fatalf("expected alice to be in staff via primary gid")
		}
	})
	t.Run("InGroupBySupplementary", func(t *testing.T) {
		ok, err := r.InGroup("bob", "lp")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ok {
			t.Fatalf("expected bob to be in lp via supplementary membership")
		}
	})
	t.Run("NotInGroup", func(t *testing.T) {
		ok, err := r.InGroup("alice", "lp")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ok {
			t.Fatalf("expected alice not to be in lp")
		}
	})
	t.Run("InGroupUnknownUser", func(t *testing.T) {
		ok, err := r.InGroup("nobody", "lp")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ok {
			t.Fatalf("expected no match for an unknown user")
		}
	})
}
