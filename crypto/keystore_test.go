package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
)

func useLightScrypt(t *testing.T) {
	t.Helper()
	n, p := keystoreScryptN, keystoreScryptP
	keystoreScryptN, keystoreScryptP = keystore.LightScryptN, keystore.LightScryptP
	t.Cleanup(func() { keystoreScryptN, keystoreScryptP = n, p })
}

func TestKeystoreRoundTrip(t *testing.T) {
	useLightScrypt(t)
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "keys", "alice.json")
	if err := SaveToKeystore(path, key, "correct horse"); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("unexpected permissions %v", info.Mode().Perm())
	}

	loaded, err := LoadFromKeystore(path, "correct horse")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !loaded.PubKey().Address().Equal(key.PubKey().Address()) {
		t.Fatalf("address mismatch after round trip")
	}
	if _, err := LoadFromKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}
}

func TestSaveToKeystoreOverwrites(t *testing.T) {
	useLightScrypt(t)
	path := filepath.Join(t.TempDir(), "key.json")
	first, _ := GeneratePrivateKey()
	second, _ := GeneratePrivateKey()
	if err := SaveToKeystore(path, first, "pw"); err != nil {
		t.Fatalf("save first: %v", err)
	}
	if err := SaveToKeystore(path, second, "pw"); err != nil {
		t.Fatalf("save second: %v", err)
	}
	loaded, err := LoadFromKeystore(path, "pw")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !loaded.PubKey().Address().Equal(second.PubKey().Address()) {
		t.Fatalf("expected second key to replace the first")
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected temp files to be cleaned up, found %d entries", len(entries))
	}
}

func TestSaveToKeystoreValidates(t *testing.T) {
	if err := SaveToKeystore("", &PrivateKey{}, "pw"); err == nil {
		t.Fatalf("expected nil key error")
	}
	key, _ := GeneratePrivateKey()
	if err := SaveToKeystore("", key, "pw"); err == nil {
		t.Fatalf("expected empty path error")
	}
}
