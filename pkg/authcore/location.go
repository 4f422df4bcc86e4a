package authcore

import (
	"strings"
	"sync/atomic"
)

// Order selects which phase of host-access evaluation runs last in
// evalHostAccess: under OrderDenyAllow the allow list is evaluated first and
// the deny list second (so a deny match always wins); under OrderAllowDeny
// the deny list runs first and the allow list second.
type Order uint8

const (
	OrderAllowDeny Order = iota
	OrderDenyAllow
)

// Level is the authorization level required once credentials have been
// verified.
type Level uint8

const (
	LevelAnonymous Level = iota
	LevelUser
	LevelGroup
)

// AuthType selects how a client's credentials are verified.
type AuthType uint8

const (
	AuthNone AuthType = iota
	AuthBasic
	AuthDigest
	AuthBasicDigest
)

// Satisfy controls how host-access and credential checks combine.
type Satisfy uint8

const (
	SatisfyAll Satisfy = iota
	SatisfyAny
)

// Encryption is a Location's transport-security requirement.
type Encryption uint8

const (
	EncryptionIfRequested Encryption = iota
	EncryptionRequired
	EncryptionNever
)

// Location is one entry of the location table: the authorization policy that
// applies to requests whose path is prefixed by Path (and whose method is
// included in Limit).
//
// A Location owns its Names/Allow/Deny slices. Clone performs a deep copy;
// callers that obtain a Location via LocationTable.Get receive a value copy
// and must not assume it aliases the table's internal storage, so there is
// nothing analogous to the original's manual destroy step.
type Location struct {
	Path  string
	Limit MethodMask
	Op    int // IPP operation id, used only for logging (0 if unused); FindBest and IsAuthorized do not consult it.

	Order      Order
	Level      Level
	Type       AuthType
	Satisfy    Satisfy
	Encryption Encryption

	Names []string
	Allow []Authmask
	Deny  []Authmask
}

// Clone returns a deep copy of loc, so mutating the result's slices never
// affects loc or any table entry loc was read from.
func (loc Location) Clone() Location {
	cl := loc
	if loc.Names != nil {
		cl.Names = append([]string(nil), loc.Names...)
	}
	if loc.Allow != nil {
		cl.Allow = append([]Authmask(nil), loc.Allow...)
	}
	if loc.Deny != nil {
		cl.Deny = append([]Authmask(nil), loc.Deny...)
	}
	return cl
}

// LocationRef is an opaque, stable reference to a table entry. Callers hold
// a LocationRef, never a pointer into the table's backing storage, across
// Add/Copy calls: the backing slice may be reallocated on every mutation.
type LocationRef int

// LocationTable is the owning collection of Locations that make up a
// server's authorization policy. The backing slice is swapped atomically on
// every mutation, so reads never race with a concurrent reload and need no
// lock of their own; callers are still responsible for serializing the
// mutating calls used while a policy is being built (e.g. during config
// load), matching the single-writer assumption in the concurrency model.
type LocationTable struct {
	locs lockedSlice
}

// lockedSlice holds the current []Location snapshot behind a pointer that is
// only ever replaced, never mutated in place, by copy-on-write.
type lockedSlice struct {
	p atomic.Pointer[[]Location]
}

func (s *lockedSlice) load() []Location {
	p := s.p.Load()
	if p == nil {
		return nil
	}
	return *p
}

func (s *lockedSlice) store(v []Location) {
	s.p.Store(&v)
}

// NewLocationTable returns an empty LocationTable.
func NewLocationTable() *LocationTable {
	t := &LocationTable{}
	t.locs.store(nil)
	return t
}

// Add appends a new Location with the given path and returns its reference.
// The path must be set by the caller to begin with "/" for find_best to ever
// select it; Add does not enforce this itself since a Location under
// construction may have its path adjusted before being sealed.
func (t *LocationTable) Add(path string) LocationRef {
	cur := t.locs.load()
	next := make([]Location, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, Location{Path: path})
	t.locs.store(next)
	return LocationRef(len(next) - 1)
}

// Get resolves ref to a value copy of the Location at that index. ok is
// false if ref is out of range.
func (t *LocationTable) Get(ref LocationRef) (Location, bool) {
	cur := t.locs.load()
	if ref < 0 || int(ref) >= len(cur) {
		return Location{}, false
	}
	return cur[ref], true
}

// Set replaces the Location at ref with loc. It is used to populate a
// Location's fields after Add returns its reference, and by Copy's
// path-inheritance pattern (copy the parent, then adjust the fields that
// differ). ok is false if ref is out of range.
func (t *LocationTable) Set(ref LocationRef, loc Location) bool {
	cur := t.locs.load()
	if ref < 0 || int(ref) >= len(cur) {
		return false
	}
	next := make([]Location, len(cur))
	copy(next, cur)
	next[ref] = loc
	t.locs.store(next)
	return true
}

// FindByName returns the first Location whose path matches name exactly,
// case-insensitively.
func (t *LocationTable) FindByName(name string) (LocationRef, Location, bool) {
	cur := t.locs.load()
	for i, l := range cur {
		if strings.EqualFold(l.Path, name) {
			return LocationRef(i), l, true
		}
	}
	return -1, Location{}, false
}

// Copy deep-copies the Location at ref into a new table entry and returns
// the new entry's reference.
func (t *LocationTable) Copy(ref LocationRef) (LocationRef, bool) {
	loc, ok := t.Get(ref)
	if !ok {
		return -1, false
	}
	cl := loc.Clone()
	cur := t.locs.load()
	next := make([]Location, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, cl)
	t.locs.store(next)
	return LocationRef(len(next) - 1), true
}

// RemoveAll empties the table. Existing LocationRef values become invalid;
// callers must not dereference them via Get after this call.
func (t *LocationTable) RemoveAll() {
	t.locs.store(nil)
}

// Entries returns a copy of every Location currently in the table, in
// insertion order. Used to move a freshly parsed table's contents into a
// long-lived one on config reload.
func (t *LocationTable) Entries() []Location {
	cur := t.locs.load()
	out := make([]Location, len(cur))
	copy(out, cur)
	return out
}

// ReplaceAll swaps the table's entire contents for locs in one step.
// Existing LocationRef values become invalid, as with RemoveAll.
func (t *LocationTable) ReplaceAll(locs []Location) {
	next := make([]Location, len(locs))
	copy(next, locs)
	t.locs.store(next)
}

// FindBest returns the longest-prefix Location whose path is a prefix of uri
// and whose Limit intersects method. Ties (equal prefix length) are broken
// by insertion order: the first qualifying entry at the longest length found
// wins, later entries of the same length are ignored.
//
// Paths under /printers/ or /classes/ are matched case-insensitively, and a
// trailing ".ppd" is stripped from uri before matching, since CUPS serves
// PPD files from the same namespace as the printer/class resource itself.
// Locations whose Path does not begin with "/" are never selected.
func (t *LocationTable) FindBest(uri string, method MethodMask) (LocationRef, Location, bool) {
	uri = stripPPDSuffix(uri)
	lowerURI := strings.ToLower(uri)
	special := strings.HasPrefix(lowerURI, "/printers/") || strings.HasPrefix(lowerURI, "/classes/")

	cur := t.locs.load()
	bestLen := -1
	bestRef := LocationRef(-1)
	var best Location
	found := false

	for i, l := range cur {
		if !strings.HasPrefix(l.Path, "/") {
			continue
		}
		if len(l.Path) <= bestLen {
			continue
		}
		if l.Limit&method == 0 {
			continue
		}
		if !pathIsPrefix(l.Path, uri, lowerURI, special) {
			continue
		}
		bestLen = len(l.Path)
		bestRef = LocationRef(i)
		best = l
		found = true
	}
	return bestRef, best, found
}

func pathIsPrefix(prefix, uri, lowerURI string, caseInsensitive bool) bool {
	if len(prefix) > len(uri) {
		return false
	}
	if caseInsensitive {
		return strings.EqualFold(uri[:len(prefix)], prefix)
	}
	return strings.HasPrefix(uri, prefix)
}

func stripPPDSuffix(uri string) string {
	lower := strings.ToLower(uri)
	if !strings.HasPrefix(lower, "/printers/") && !strings.HasPrefix(lower, "/classes/") {
		return uri
	}
	if strings.HasSuffix(lower, ".ppd") {
		return uri[:len(uri)-4]
	}
	return uri
}
