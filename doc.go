// Package securefs provides encrypted at-rest file storage over the
// AbsFs filesystem abstraction, sealing file contents with modern
// authenticated encryption under caller-chosen logical names.
//
// # Overview
//
// securefs stores each file as an independent encrypted object in a
// flat storage directory, beside a plaintext JSON sidecar recording the
// original size and compression state. The logical filename binds the
// ciphertext as AEAD additional data, so an object silently renamed on
// disk fails authentication when read back under its new name.
//
// All sealing uses XChaCha20-Poly1305:
//   - 256-bit keys
//   - 192-bit random nonces, safe to draw per object without coordination
//   - 128-bit authentication tags
//
// # Storage Formats
//
// Two layouts coexist in one directory and are told apart by the first
// stored byte:
//
// Whole-file (legacy, frozen):
//   - Nonce (24 bytes): random per object
//   - Sealed payload (variable): plaintext or gzip stream, sealed in one piece
//
// Streaming:
//   - Version (1 byte): 0x02
//   - Flags (1 byte): bit 0 set when the plaintext is gzipped
//   - Base nonce (24 bytes): random per object
//   - Chunk records (variable): sealed length (4 bytes, big-endian)
//     followed by the sealed chunk, up to 64 KiB of plaintext per chunk
//
// Chunk nonces derive from the base nonce by XOR-ing the little-endian
// chunk index into its first eight bytes, so a stream never repeats a
// nonce and chunks cannot be reordered undetected.
//
// # Basic Usage
//
//	fsys := securefs.NewOSFS()
//
//	keys, err := securefs.OpenKeyStore(fsys, "./securefs.key")
//	if err != nil {
//	    panic(err)
//	}
//	defer keys.Close()
//
//	store, err := securefs.NewStore(fsys, "./storage", keys, nil)
//	if err != nil {
//	    panic(err)
//	}
//
//	if _, err := store.Write("notes.txt", []byte("keep this private"), securefs.WriteOptions{}); err != nil {
//	    panic(err)
//	}
//	plaintext, err := store.Read("notes.txt")
//
// # Security Considerations
//
// Protected against:
//   - Reading stored objects without the key file
//   - Tampering, truncation, and bit rot (authenticated encryption)
//   - Moving ciphertext between names (filename additional data)
//   - Reordering or dropping chunks inside a streamed object
//
// Not protected against:
//   - Memory inspection while an object is decrypted in memory
//   - Metadata leakage: logical names, sizes, and timestamps stay visible
//   - Loss of the key file, which is unrecoverable by design
//   - Compromised hosts observing plaintext before it is sealed
//
// # Key Management
//
// The key is 32 raw random bytes in a file created with mode 0600,
// generated on first use. In memory it lives inside a memguard enclave
// and is unsealed only long enough to build a cipher handle; every
// transient plaintext copy is wiped. Rekey re-encrypts all stored
// objects under a new key file in place, preserving each object's
// layout and compression.
package securefs
