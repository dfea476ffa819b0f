package securefs

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Cipher is the capability handle bound to one key. It seals and opens
// byte sequences with XChaCha20-Poly1305 and is the only way key material
// is exposed to the codecs. A Cipher is stateless beyond the key schedule
// and safe for concurrent use by independent file operations.
type Cipher struct {
	aead cipher.AEAD
}

// newCipher creates a cipher handle from raw key bytes. Only the key store
// mints handles; the key itself never crosses this boundary again.
func newCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("XChaCha20-Poly1305 requires a %d-byte key, got %d bytes",
			KeySize, len(key))
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create XChaCha20-Poly1305 cipher: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext with the given nonce and additional authenticated
// data. The additional data is authenticated but not encrypted; both codecs
// pass the logical filename here so ciphertext cannot be swapped between
// names without failing authentication.
func (c *Cipher) Encrypt(nonce, plaintext, additionalData []byte) ([]byte, error) {
	if len(nonce) != c.NonceSize() {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", c.NonceSize(), len(nonce))
	}

	return c.aead.Seal(nil, nonce, plaintext, additionalData), nil
}

// Decrypt opens ciphertext sealed with the given nonce and additional
// authenticated data. Every AEAD failure reports ErrAuthFailed: a wrong
// key, a wrong filename, and a flipped bit are deliberately
// indistinguishable.
func (c *Cipher) Decrypt(nonce, ciphertext, additionalData []byte) ([]byte, error) {
	if len(nonce) != c.NonceSize() {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", c.NonceSize(), len(nonce))
	}

	plaintext, err := c.aead.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, ErrAuthFailed
	}

	return plaintext, nil
}

// sealTo seals plaintext into dst, reusing its backing array when large
// enough. The streaming codec calls this once per chunk to avoid an
// allocation per 64 KiB of input.
func (c *Cipher) sealTo(dst, nonce, plaintext, additionalData []byte) []byte {
	return c.aead.Seal(dst[:0], nonce, plaintext, additionalData)
}

// NonceSize returns the nonce size for XChaCha20-Poly1305 (24 bytes)
func (c *Cipher) NonceSize() int {
	return c.aead.NonceSize()
}

// Overhead returns the authentication tag size (16 bytes)
func (c *Cipher) Overhead() int {
	return c.aead.Overhead()
}

// generateNonce draws a fresh random nonce of the cipher's nonce size
func generateNonce(c *Cipher) ([]byte, error) {
	nonce := make([]byte, c.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return nonce, nil
}
