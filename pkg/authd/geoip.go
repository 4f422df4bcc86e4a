package authd

import (
	"fmt"
	"net/netip"
	"os"
	"sync"

	"github.com/pg9182/ip2x"

	"github.com/opencups/authd/pkg/regionmap"
)

// ip2xMgr wraps a file-backed IP2Location database used purely to attach
// diagnostic region context to access log lines; it feeds no metrics and
// has no bearing on any authorization decision.
type ip2xMgr struct {
	file *os.File
	db   *ip2x.DB
	mu   sync.RWMutex
}

// Load replaces the currently loaded database with the specified file. If
// name is empty, the existing database, if any, is reopened.
func (m *ip2xMgr) Load(name string) error {
	if name == "" {
		m.mu.RLock()
		if m.file == nil {
			m.mu.RUnlock()
			return fmt.Errorf("no ip2location database loaded")
		}
		name = m.file.Name()
		m.mu.RUnlock()
	}

	f, err := os.Open(name)
	if err != nil {
		return err
	}

	db, err := ip2x.New(f)
	if err != nil {
		f.Close()
		return err
	}

	if p, _ := db.Info(); p != ip2x.IP2Location {
		f.Close()
		return fmt.Errorf("not an ip2location database")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.file != nil {
		m.file.Close()
	}
	m.file = f
	m.db = db
	return nil
}

// LookupFields looks up ip in the loaded database, if any.
func (m *ip2xMgr) LookupFields(ip netip.Addr) (ip2x.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.db == nil {
		return ip2x.Record{}, fmt.Errorf("no ip2location database loaded")
	}
	return m.db.Lookup(ip)
}

// region returns a short geographic region label for addr, for log
// enrichment. It never fails a request: an unresolvable address or a
// disabled database both just return ok=false.
func (s *Server) region(addr netip.Addr) (region string, ok bool) {
	if s.geoip == nil {
		return "", false
	}
	rec, err := s.geoip.LookupFields(addr)
	if err != nil {
		return "", false
	}
	r, err := regionmap.GetRegion(addr, rec)
	if err != nil || r == "" {
		return "", false
	}
	return r, true
}
