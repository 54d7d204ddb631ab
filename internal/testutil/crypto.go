package testutil

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/udisondev/worldlink/internal/crypto"
)

var (
	keyOnce sync.Once
	key     *crypto.PrivateKey
	keyErr  error
)

// TestKey returns a 1024-bit RSA key shared by every test in the binary.
// Generating keys is slow, so it happens once.
func TestKey(tb testing.TB) *crypto.PrivateKey {
	tb.Helper()

	keyOnce.Do(func() {
		key, keyErr = crypto.GeneratePrivateKey(1024)
	})
	if keyErr != nil {
		tb.Fatalf("generating test key: %v", keyErr)
	}
	return key
}

// WriteTestKeys writes TestKey as PEM files into a temp dir and returns
// their paths.
func WriteTestKeys(tb testing.TB) (privPath, pubPath string) {
	tb.Helper()

	dir := tb.TempDir()
	privPath = filepath.Join(dir, "loginapp.privkey")
	pubPath = filepath.Join(dir, "loginapp.pubkey")
	if err := TestKey(tb).WriteFiles(privPath, pubPath); err != nil {
		tb.Fatalf("writing test keys: %v", err)
	}
	return privPath, pubPath
}
