package securefs

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"io"
	"testing"
)

func benchCipher(b *testing.B) *Cipher {
	b.Helper()

	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		b.Fatalf("failed to generate key: %v", err)
	}
	c, err := newCipher(key)
	if err != nil {
		b.Fatalf("failed to create cipher: %v", err)
	}
	return c
}

func benchData(b *testing.B, size int) []byte {
	b.Helper()

	data := make([]byte, size)
	if _, err := rand.Read(data); err != nil {
		b.Fatalf("failed to generate data: %v", err)
	}
	return data
}

func formatSize(size int) string {
	switch {
	case size >= 1024*1024:
		return fmt.Sprintf("%dMB", size/(1024*1024))
	case size >= 1024:
		return fmt.Sprintf("%dKB", size/1024)
	default:
		return fmt.Sprintf("%dB", size)
	}
}

var benchSizes = []int{
	1024,
	64 * 1024,
	1024 * 1024,
	10 * 1024 * 1024,
}

func BenchmarkEncryptBuffer(b *testing.B) {
	for _, size := range benchSizes {
		b.Run(formatSize(size), func(b *testing.B) {
			c := benchCipher(b)
			data := benchData(b, size)

			b.SetBytes(int64(size))
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				if _, err := EncryptBuffer(c, "bench", data, false); err != nil {
					b.Fatalf("EncryptBuffer failed: %v", err)
				}
			}
		})
	}
}

func BenchmarkDecryptBuffer(b *testing.B) {
	for _, size := range benchSizes {
		b.Run(formatSize(size), func(b *testing.B) {
			c := benchCipher(b)
			stored, err := EncryptBuffer(c, "bench", benchData(b, size), false)
			if err != nil {
				b.Fatalf("EncryptBuffer failed: %v", err)
			}

			b.SetBytes(int64(size))
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				if _, err := DecryptBuffer(c, "bench", stored, false); err != nil {
					b.Fatalf("DecryptBuffer failed: %v", err)
				}
			}
		})
	}
}

func BenchmarkEncryptStream(b *testing.B) {
	for _, size := range benchSizes {
		b.Run(formatSize(size), func(b *testing.B) {
			c := benchCipher(b)
			data := benchData(b, size)

			b.SetBytes(int64(size))
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				if _, err := EncryptStream(c, "bench", FormatFlags{}, bytes.NewReader(data), io.Discard); err != nil {
					b.Fatalf("EncryptStream failed: %v", err)
				}
			}
		})
	}
}

func BenchmarkDecryptStream(b *testing.B) {
	for _, size := range benchSizes {
		b.Run(formatSize(size), func(b *testing.B) {
			c := benchCipher(b)

			var stored bytes.Buffer
			if _, err := EncryptStream(c, "bench", FormatFlags{}, bytes.NewReader(benchData(b, size)), &stored); err != nil {
				b.Fatalf("EncryptStream failed: %v", err)
			}

			b.SetBytes(int64(size))
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				if _, _, err := DecryptStream(c, "bench", bytes.NewReader(stored.Bytes()), io.Discard); err != nil {
					b.Fatalf("DecryptStream failed: %v", err)
				}
			}
		})
	}
}

func BenchmarkEncryptStreamCompressed(b *testing.B) {
	// Compressible input, or the gzip layer dominates with nothing to show
	size := 1024 * 1024
	data := bytes.Repeat([]byte("securefs benchmark line of text\n"), size/32)

	b.Run(formatSize(size), func(b *testing.B) {
		c := benchCipher(b)

		b.SetBytes(int64(len(data)))
		b.ResetTimer()

		for i := 0; i < b.N; i++ {
			if _, err := EncryptStream(c, "bench", FormatFlags{Compressed: true}, bytes.NewReader(data), io.Discard); err != nil {
				b.Fatalf("EncryptStream failed: %v", err)
			}
		}
	})
}

func BenchmarkDeriveChunkNonce(b *testing.B) {
	base := make([]byte, NonceSize)
	rand.Read(base)
	nonce := make([]byte, NonceSize)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		deriveChunkNonceInto(nonce, base, uint64(i))
	}
}
