package securefs

import (
	"bytes"
	"crypto/rand"
	"errors"
	"os"
	"testing"

	"github.com/absfs/absfs"
	"github.com/absfs/memfs"
)

func setupKeyFS(t *testing.T) absfs.FileSystem {
	t.Helper()

	fsys, err := memfs.NewFS()
	if err != nil {
		t.Fatalf("failed to create memfs: %v", err)
	}
	return fsys
}

func writeKeyFile(t *testing.T, fsys absfs.FileSystem, path string, raw []byte) {
	t.Helper()

	f, err := fsys.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, keyFileMode)
	if err != nil {
		t.Fatalf("failed to create key file: %v", err)
	}
	if _, err := f.Write(raw); err != nil {
		t.Fatalf("failed to write key file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("failed to close key file: %v", err)
	}
}

func TestOpenKeyStore_GeneratesOnFirstRun(t *testing.T) {
	fsys := setupKeyFS(t)

	ks, err := OpenKeyStore(fsys, "/secure.key")
	if err != nil {
		t.Fatalf("OpenKeyStore failed: %v", err)
	}
	defer ks.Close()

	info, err := fsys.Stat("/secure.key")
	if err != nil {
		t.Fatalf("key file was not created: %v", err)
	}
	if info.Size() != KeySize {
		t.Errorf("key file is %d bytes, want %d", info.Size(), KeySize)
	}

	if ks.Path() != "/secure.key" {
		t.Errorf("Path() = %q, want %q", ks.Path(), "/secure.key")
	}

	if _, err := ks.Cipher(); err != nil {
		t.Errorf("Cipher() on a fresh store failed: %v", err)
	}
}

func TestOpenKeyStore_LoadsExistingKey(t *testing.T) {
	fsys := setupKeyFS(t)

	// Two stores over the same file must seal interoperably
	first, err := OpenKeyStore(fsys, "/secure.key")
	if err != nil {
		t.Fatalf("first OpenKeyStore failed: %v", err)
	}
	defer first.Close()

	second, err := OpenKeyStore(fsys, "/secure.key")
	if err != nil {
		t.Fatalf("second OpenKeyStore failed: %v", err)
	}
	defer second.Close()

	c1, err := first.Cipher()
	if err != nil {
		t.Fatalf("first Cipher failed: %v", err)
	}
	c2, err := second.Cipher()
	if err != nil {
		t.Fatalf("second Cipher failed: %v", err)
	}

	stored, err := EncryptBuffer(c1, "shared.txt", []byte("same key both times"), false)
	if err != nil {
		t.Fatalf("EncryptBuffer failed: %v", err)
	}
	got, err := DecryptBuffer(c2, "shared.txt", stored, false)
	if err != nil {
		t.Fatalf("DecryptBuffer under the reloaded key failed: %v", err)
	}
	if string(got) != "same key both times" {
		t.Error("reloaded key decrypted to different plaintext")
	}
}

func TestOpenKeyStore_InvalidKeyLength(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{"empty file", 0},
		{"short key", 16},
		{"long key", 33},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := setupKeyFS(t)
			raw := make([]byte, tt.size)
			rand.Read(raw)
			writeKeyFile(t, fsys, "/bad.key", raw)

			_, err := OpenKeyStore(fsys, "/bad.key")
			if !errors.Is(err, ErrInvalidKeyLength) {
				t.Errorf("OpenKeyStore over a %d-byte file: err = %v, want ErrInvalidKeyLength", tt.size, err)
			}
			if !IsKeyError(err) {
				t.Errorf("error is not a KeyError: %v", err)
			}
		})
	}
}

func TestKeyStore_Close(t *testing.T) {
	fsys := setupKeyFS(t)

	ks, err := OpenKeyStore(fsys, "/secure.key")
	if err != nil {
		t.Fatalf("OpenKeyStore failed: %v", err)
	}

	// Handles minted before Close keep their own key schedule
	c, err := ks.Cipher()
	if err != nil {
		t.Fatalf("Cipher failed: %v", err)
	}

	if err := ks.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := ks.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	if _, err := ks.Cipher(); !errors.Is(err, ErrKeyStoreClosed) {
		t.Errorf("Cipher after Close: err = %v, want ErrKeyStoreClosed", err)
	}

	stored, err := EncryptBuffer(c, "f", []byte("still works"), false)
	if err != nil {
		t.Fatalf("EncryptBuffer with a pre-Close handle failed: %v", err)
	}
	if _, err := DecryptBuffer(c, "f", stored, false); err != nil {
		t.Errorf("DecryptBuffer with a pre-Close handle failed: %v", err)
	}
}

func TestSealKey_WipesSource(t *testing.T) {
	raw := make([]byte, KeySize)
	rand.Read(raw)
	original := append([]byte(nil), raw...)

	enclave := sealKey(raw)
	if enclave == nil {
		t.Fatal("sealKey returned nil enclave")
	}

	if !bytes.Equal(raw, make([]byte, KeySize)) {
		t.Error("source key bytes were not zeroed after sealing")
	}

	// The enclave still holds the key
	buf, err := enclave.Open()
	if err != nil {
		t.Fatalf("failed to open enclave: %v", err)
	}
	defer buf.Destroy()

	if !bytes.Equal(buf.Bytes(), original) {
		t.Error("enclave does not hold the original key")
	}
}

func TestKeyStore_ConcurrentCiphers(t *testing.T) {
	fsys := setupKeyFS(t)

	ks, err := OpenKeyStore(fsys, "/secure.key")
	if err != nil {
		t.Fatalf("OpenKeyStore failed: %v", err)
	}
	defer ks.Close()

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			c, err := ks.Cipher()
			if err != nil {
				done <- err
				return
			}
			stored, err := EncryptBuffer(c, "par", []byte("concurrent"), false)
			if err != nil {
				done <- err
				return
			}
			_, err = DecryptBuffer(c, "par", stored, false)
			done <- err
		}()
	}

	for i := 0; i < 8; i++ {
		if err := <-done; err != nil {
			t.Errorf("concurrent cipher use failed: %v", err)
		}
	}
}
