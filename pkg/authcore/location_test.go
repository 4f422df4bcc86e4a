package authcore

import "testing"

func TestLocationTableFindBestLongestPrefix(t *testing.T) {
	tbl := NewLocationTable()
	root := tbl.Add("/")
	tbl.Set(root, Location{Path: "/", Limit: MAll})
	admin := tbl.Add("/admin")
	tbl.Set(admin, Location{Path: "/admin", Limit: MAll})
	jobs := tbl.Add("/admin/jobs")
	tbl.Set(jobs, Location{Path: "/admin/jobs", Limit: MAll})

	ref, loc, ok := tbl.FindBest("/admin/jobs/5", MGet)
	if !ok {
		t.Fatalf("expected a match")
	}
	if ref != jobs || loc.Path != "/admin/jobs" {
		t.Fatalf("got %q, want /admin/jobs", loc.Path)
	}

	if _, loc, ok := tbl.FindBest("/admin/conf", MGet); !ok || loc.Path != "/admin" {
		t.Fatalf("got %+v, %v, want /admin", loc, ok)
	}
	if _, loc, ok := tbl.FindBest("/completely/unrelated", MGet); !ok || loc.Path != "/" {
		t.Fatalf("got %+v, %v, want /", loc, ok)
	}
}

func TestLocationTableFindBestMethodMismatch(t *testing.T) {
	tbl := NewLocationTable()
	ref := tbl.Add("/admin")
	tbl.Set(ref, Location{Path: "/admin", Limit: MPost})

	if _, _, ok := tbl.FindBest("/admin", MGet); ok {
		t.Fatalf("expected no match: GET is not in the Location's Limit")
	}
	if _, loc, ok := tbl.FindBest("/admin", MPost); !ok || loc.Path != "/admin" {
		t.Fatalf("expected a match for POST")
	}
}

func TestLocationTableFindBestNoLocations(t *testing.T) {
	tbl := NewLocationTable()
	if _, _, ok := tbl.FindBest("/", MGet); ok {
		t.Fatalf("expected no match against an empty table")
	}
}

func TestLocationTablePPDSuffixAndCase(t *testing.T) {
	tbl := NewLocationTable()
	ref := tbl.Add("/printers/LaserJet")
	tbl.Set(ref, Location{Path: "/printers/LaserJet", Limit: MAll})

	if _, loc, ok := tbl.FindBest("/printers/laserjet.ppd", MGet); !ok || loc.Path != "/printers/LaserJet" {
		t.Fatalf("expected case-insensitive, .ppd-stripped match, got %+v %v", loc, ok)
	}
	if _, _, ok := tbl.FindBest("/printers/other.ppd", MGet); ok {
		t.Fatalf("expected no match for an unrelated printer")
	}
}

func TestLocationTableReplaceAllPreservesTablePointer(t *testing.T) {
	tbl := NewLocationTable()
	tbl.Set(tbl.Add("/old"), Location{Path: "/old", Limit: MAll})

	tbl.ReplaceAll([]Location{{Path: "/new", Limit: MAll}})

	if _, _, ok := tbl.FindBest("/old", MGet); ok {
		t.Fatalf("expected /old to be gone after ReplaceAll")
	}
	if _, loc, ok := tbl.FindBest("/new", MGet); !ok || loc.Path != "/new" {
		t.Fatalf("expected /new to be present after ReplaceAll")
	}
}

func TestLocationTableEntriesIsACopy(t *testing.T) {
	tbl := NewLocationTable()
	tbl.Set(tbl.Add("/a"), Location{Path: "/a", Limit: MAll})

	entries := tbl.Entries()
	entries[0].Path = "/mutated"

	if _, loc, ok := tbl.FindBest("/a", MGet); !ok || loc.Path != "/a" {
		t.Fatalf("mutating Entries' result should not affect the table, got %+v", loc)
	}
}

func TestLocationClone(t *testing.T) {
	loc := Location{Names: []string{"alice"}, Allow: []Authmask{{Kind: MaskName, Name: "foo.example.com"}}}
	cl := loc.Clone()
	cl.Names[0] = "bob"
	cl.Allow[0].Name = "bar.example.com"

	if loc.Names[0] != "alice" {
		t.Fatalf("Clone must not alias the original Names slice")
	}
	if loc.Allow[0].Name != "foo.example.com" {
		t.Fatalf("Clone must not alias the original Allow slice")
	}
}

func TestLocationTableCopyInheritsFields(t *testing.T) {
	tbl := NewLocationTable()
	parent := tbl.Add("/parent")
	tbl.Set(parent, Location{Path: "/parent", Limit: MAll, Level: LevelUser, Names: []string{"alice"}})

	child, ok := tbl.Copy(parent)
	if !ok {
		t.Fatalf("Copy failed")
	}
	cloc, _ := tbl.Get(child)
	if cloc.Level != LevelUser || len(cloc.Names) != 1 || cloc.Names[0] != "alice" {
		t.Fatalf("unexpected copied location %+v", cloc)
	}
}
