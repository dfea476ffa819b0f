package securefs

import (
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/absfs/absfs"
	"github.com/awnumar/memguard"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the size of the symmetric key in bytes (256 bits)
const KeySize = chacha20poly1305.KeySize

// keyFileMode restricts the key file to its owner
const keyFileMode os.FileMode = 0600

// KeyStore owns the symmetric key material. The key lives sealed inside a
// memguard enclave; it is decrypted only inside Cipher, into a locked
// buffer that is destroyed before the call returns. Every plaintext copy
// made while loading or generating the key is wiped before OpenKeyStore
// returns, on success and on error paths alike. No accessor exposes the
// raw bytes.
type KeyStore struct {
	path string

	mu      sync.Mutex
	enclave *memguard.Enclave
}

// OpenKeyStore loads the key at path, or generates and persists a fresh
// one when no file exists yet. A new key file is created with owner-only
// permissions (0600) and is the only file the key store ever writes. An
// existing file must hold exactly KeySize bytes; anything else fails with
// a KeyError carrying ErrInvalidKeyLength.
func OpenKeyStore(fsys absfs.FileSystem, path string) (*KeyStore, error) {
	raw, err := loadOrGenerateKey(fsys, path)
	if err != nil {
		return nil, err
	}

	return &KeyStore{path: path, enclave: sealKey(raw)}, nil
}

// Cipher returns a handle bound to the loaded key. The enclave is opened
// into a locked buffer just long enough to build the AEAD and the buffer
// is destroyed on the way out.
func (ks *KeyStore) Cipher() (*Cipher, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.enclave == nil {
		return nil, NewKeyError("cipher", ks.path, ErrKeyStoreClosed)
	}

	keyBuffer, err := ks.enclave.Open()
	if err != nil {
		return nil, NewKeyError("cipher", ks.path, fmt.Errorf("failed to open key enclave: %w", err))
	}
	defer keyBuffer.Destroy()

	c, err := newCipher(keyBuffer.Bytes())
	if err != nil {
		return nil, NewKeyError("cipher", ks.path, err)
	}

	return c, nil
}

// Path returns the key file path the store was opened with
func (ks *KeyStore) Path() string {
	return ks.path
}

// Close drops the sealed key. Cipher handles minted earlier keep working
// (they carry their own key schedule), but no new handles can be created.
// Close is idempotent.
func (ks *KeyStore) Close() error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	ks.enclave = nil
	return nil
}

// sealKey moves raw key bytes into an enclave and wipes the source slice
func sealKey(raw []byte) *memguard.Enclave {
	enclave := memguard.NewEnclave(raw)
	memguard.WipeBytes(raw)
	return enclave
}

// loadOrGenerateKey returns plaintext key bytes; the caller must seal and
// wipe them. Error paths wipe any partially loaded material themselves.
func loadOrGenerateKey(fsys absfs.FileSystem, path string) ([]byte, error) {
	_, err := fsys.Stat(path)
	switch {
	case err == nil:
		return loadKey(fsys, path)
	case os.IsNotExist(err):
		return generateKey(fsys, path)
	default:
		return nil, NewKeyError("load", path, fmt.Errorf("failed to check key file: %w", err))
	}
}

func loadKey(fsys absfs.FileSystem, path string) ([]byte, error) {
	logrus.WithField("path", path).Info("loading existing encryption key")

	f, err := fsys.Open(path)
	if err != nil {
		return nil, NewKeyError("load", path, fmt.Errorf("failed to open key file: %w", err))
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		memguard.WipeBytes(raw)
		return nil, NewKeyError("load", path, fmt.Errorf("failed to read key file: %w", err))
	}

	if len(raw) != KeySize {
		memguard.WipeBytes(raw)
		logrus.WithFields(logrus.Fields{
			"path":        path,
			"found_bytes": len(raw),
		}).Warn("invalid key size")
		return nil, NewKeyError("load", path,
			fmt.Errorf("expected %d-byte key but found %d bytes: %w", KeySize, len(raw), ErrInvalidKeyLength))
	}

	return raw, nil
}

func generateKey(fsys absfs.FileSystem, path string) ([]byte, error) {
	logrus.WithField("path", path).Info("generating new encryption key")

	raw := make([]byte, KeySize)
	if _, err := rand.Read(raw); err != nil {
		return nil, NewKeyError("generate", path, fmt.Errorf("failed to draw random key: %w", err))
	}

	f, err := fsys.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, keyFileMode)
	if err != nil {
		memguard.WipeBytes(raw)
		return nil, NewKeyError("generate", path, fmt.Errorf("failed to create key file: %w", err))
	}

	if _, err := f.Write(raw); err != nil {
		f.Close()
		memguard.WipeBytes(raw)
		return nil, NewKeyError("generate", path, fmt.Errorf("failed to write key file: %w", err))
	}

	if err := f.Close(); err != nil {
		memguard.WipeBytes(raw)
		return nil, NewKeyError("generate", path, fmt.Errorf("failed to close key file: %w", err))
	}

	return raw, nil
}
