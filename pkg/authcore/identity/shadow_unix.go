//go:build !windows

package identity

import (
	"bufio"
	"os"
	"strings"
)

// readShadow parses /etc/shadow, a colon-separated "user:hash:..." format,
// for username's stored hash. A hash field of "" (no password set), "!", or
// "*" (account locked) is reported as not found, since CryptHost must never
// treat those as matching.
func readShadow(username string) (string, bool, error) {
	f, err := os.Open("/etc/shadow")
	if err != nil {
		return "", false, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		parts := strings.SplitN(sc.Text(), ":", 3)
		if len(parts) < 2 || parts[0] != username {
			continue
		}
		hash := parts[1]
		if hash == "" || hash == "!" || hash == "*" || strings.HasPrefix(hash, "!") {
			return "", false, nil
		}
		return hash, true, nil
	}
	if err := sc.Err(); err != nil {
		return "", false, err
	}
	return "", false, nil
}
