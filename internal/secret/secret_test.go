package secret

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	key, err := LoadOrGenerateKey(filepath.Join(t.TempDir(), "test.key"))
	if err != nil {
		t.Fatalf("LoadOrGenerateKey: %v", err)
	}
	c, err := NewCipher(key)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	return c
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	t.Parallel()
	c := newTestCipher(t)

	ciphertext, err := c.Encrypt("rcon password")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if ciphertext == "rcon password" {
		t.Fatal("ciphertext equals plaintext")
	}
	plain, err := c.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if plain != "rcon password" {
		t.Fatalf("round trip = %q", plain)
	}
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	t.Parallel()
	c := newTestCipher(t)
	a, _ := c.Encrypt("same")
	b, _ := c.Encrypt("same")
	if a == b {
		t.Fatal("two encryptions of the same plaintext should differ (random nonce)")
	}
}

func TestDecryptMalformedCiphertext(t *testing.T) {
	t.Parallel()
	c := newTestCipher(t)
	for _, bad := range []string{"", "!!!not base64!!!", "c2hvcnQ="} {
		if _, err := c.Decrypt(bad); !errors.Is(err, ErrCrypto) {
			t.Fatalf("Decrypt(%q) error = %v, want ErrCrypto", bad, err)
		}
	}
}

func TestDecryptWithWrongKey(t *testing.T) {
	t.Parallel()
	a := newTestCipher(t)
	b := newTestCipher(t)

	ciphertext, err := a.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := b.Decrypt(ciphertext); !errors.Is(err, ErrCrypto) {
		t.Fatalf("error = %v, want ErrCrypto under a different key", err)
	}
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	t.Parallel()
	c := newTestCipher(t)
	ciphertext, err := c.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	tampered := []byte(ciphertext)
	if tampered[len(tampered)-2] == 'A' {
		tampered[len(tampered)-2] = 'B'
	} else {
		tampered[len(tampered)-2] = 'A'
	}
	if _, err := c.Decrypt(string(tampered)); !errors.Is(err, ErrCrypto) {
		t.Fatalf("error = %v, want ErrCrypto for tampered ciphertext", err)
	}
}

func TestLoadOrGenerateKeyIsStable(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "creds.key")

	first, err := LoadOrGenerateKey(path)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	second, err := LoadOrGenerateKey(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if string(first) != string(second) {
		t.Fatal("reloaded key differs from generated key")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("key file mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestLoadRejectsCorruptKeyFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "creds.key")
	if err := os.WriteFile(path, []byte("not a key\n"), 0o600); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	if _, err := LoadOrGenerateKey(path); !errors.Is(err, ErrCrypto) {
		t.Fatalf("error = %v, want ErrCrypto", err)
	}
}
