package securefs

import (
	"fmt"
)

// Whole-file codec, the V1 storage format:
//
//	[nonce:24][sealed payload]
//
// There is no version byte and no flags byte; the format detector relies
// on V2 objects starting with 0x02 to tell the two apart. This layout is
// frozen so that objects written by earlier releases stay readable, and
// it gains no new features. Whether the payload was compressed before
// sealing is not recorded here; the metadata sidecar tracks it.

// EncryptBuffer seals an in-memory plaintext under the V1 layout. The
// logical filename is bound as additional authenticated data, so the
// stored bytes only ever open under the same name. When compress is set
// the plaintext is gzipped before sealing.
func EncryptBuffer(c *Cipher, name string, plaintext []byte, compress bool) ([]byte, error) {
	data := plaintext
	if compress {
		var err error
		data, err = gzipCompress(plaintext)
		if err != nil {
			return nil, err
		}
	}

	nonce, err := generateNonce(c)
	if err != nil {
		return nil, err
	}

	sealed, err := c.Encrypt(nonce, data, []byte(name))
	if err != nil {
		return nil, err
	}

	stored := make([]byte, 0, len(nonce)+len(sealed))
	stored = append(stored, nonce...)
	stored = append(stored, sealed...)
	return stored, nil
}

// DecryptBuffer opens a V1 stored object. The compressed argument is the
// sidecar's compression flag; V1 does not self-describe compression.
// Fewer bytes than a nonce is ErrTruncated, a failed tag is
// ErrAuthFailed, both wrapped in a DecryptError.
func DecryptBuffer(c *Cipher, name string, stored []byte, compressed bool) ([]byte, error) {
	if len(stored) < c.NonceSize() {
		return nil, NewDecryptError("decrypt", name,
			fmt.Errorf("%d bytes is shorter than the %d-byte nonce: %w",
				len(stored), c.NonceSize(), ErrTruncated))
	}

	nonce, sealed := stored[:c.NonceSize()], stored[c.NonceSize():]

	data, err := c.Decrypt(nonce, sealed, []byte(name))
	if err != nil {
		return nil, NewDecryptError("decrypt", name, err)
	}

	if compressed {
		plaintext, err := gzipDecompress(data)
		if err != nil {
			return nil, NewDecryptError("decrypt", name, err)
		}
		return plaintext, nil
	}

	return data, nil
}
