//go:build windows

package identity

// readShadow has no Windows equivalent; Basic credential verification on
// Windows needs a different BasicHost (e.g. one backed by db/authdb)
// instead of authcore.CryptHost.
func readShadow(username string) (string, bool, error) {
	return "", false, nil
}
