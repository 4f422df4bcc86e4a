package identity

import (
	"bufio"
	"os"
	"strings"
)

// MD5Store looks up the stored Digest HA1 value for a username, optionally
// scoped to a group.
type MD5Store interface {
	// GetMD5 returns the stored value for user, restricted to group if
	// group is non-empty. ok is false if no matching entry exists.
	GetMD5(user, group string) (string, bool)
}

// LineLogger receives a diagnostic message about one malformed line; it may
// be nil, in which case malformed lines are silently skipped.
type LineLogger func(format string, args ...any)

// MD5File is an MD5Store backed by a passwd.md5-format file: lines of
// "user:group:md5hex", the first matching line wins. The file is reread on
// every call, never cached, matching the no-caching concurrency rule this
// format is specified under: credentials can be revoked by editing the file
// without restarting anything that holds an MD5File.
type MD5File struct {
	Path string
	Log  LineLogger
}

// GetMD5 implements MD5Store.
func (f *MD5File) GetMD5(user, group string) (string, bool) {
	file, err := os.Open(f.Path)
	if err != nil {
		f.logf("passwd.md5: open %s: %v", f.Path, err)
		return "", false
	}
	defer file.Close()

	unlock := lockShared(file)
	defer unlock()

	sc := bufio.NewScanner(file)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		parts := strings.SplitN(text, ":", 3)
		if len(parts) != 3 {
			f.logf("passwd.md5:%d: malformed line, skipped", line)
			continue
		}
		u, g, hash := parts[0], parts[1], parts[2]
		if len(u) > 32 || len(g) > 32 || len(hash) > 32 {
			f.logf("passwd.md5:%d: field too long, skipped", line)
			continue
		}
		if u != user {
			continue
		}
		if group != "" && g != group {
			continue
		}
		return hash, true
	}
	return "", false
}

func (f *MD5File) logf(format string, args ...any) {
	if f.Log != nil {
		f.Log(format, args...)
	}
}
