package securefs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Streaming codec, the V2 storage format:
//
//	[version:1][flags:1][base nonce:24][chunk records...]
//
//	Each chunk record:
//	[sealed length:4 big-endian][sealed chunk]
//
// Plaintext is processed in 64 KiB chunks so files larger than memory
// stream through without buffering. One random base nonce is drawn per
// file; chunk i is sealed under the nonce obtained by XOR-ing the
// little-endian encoding of i into the first eight base nonce bytes,
// which keeps nonces unique across all chunks without storing one per
// record. Chunk order is therefore load-bearing: records are sealed and
// opened strictly in sequence, and the {index, base nonce} state below
// is never shared across goroutines.

// deriveChunkNonceInto writes the nonce for the given chunk index into
// dst. dst and base must both be NonceSize bytes.
func deriveChunkNonceInto(dst, base []byte, index uint64) {
	copy(dst, base)

	var ib [8]byte
	binary.LittleEndian.PutUint64(ib[:], index)
	for i := 0; i < 8; i++ {
		dst[i] ^= ib[i]
	}
}

// chunkWriter seals incoming plaintext into maximal ChunkSize records.
// It buffers at most one partial chunk; Close seals whatever remains, so
// an empty stream produces zero records.
type chunkWriter struct {
	c   *Cipher
	w   io.Writer
	aad []byte

	baseNonce []byte
	nonce     []byte // scratch, re-derived per chunk
	index     uint64

	buf    []byte // pending plaintext, at most ChunkSize
	sealed []byte // scratch for sealed output
	lenBuf [4]byte
	closed bool
}

func newChunkWriter(c *Cipher, w io.Writer, baseNonce, aad []byte) *chunkWriter {
	return &chunkWriter{
		c:         c,
		w:         w,
		aad:       aad,
		baseNonce: baseNonce,
		nonce:     make([]byte, len(baseNonce)),
		buf:       make([]byte, 0, ChunkSize),
		sealed:    make([]byte, 0, ChunkSize+c.Overhead()),
	}
}

func (cw *chunkWriter) Write(p []byte) (int, error) {
	if cw.closed {
		return 0, errors.New("chunk writer is closed")
	}

	written := 0
	for len(p) > 0 {
		// Full chunks straight from the caller's buffer skip a copy
		if len(cw.buf) == 0 && len(p) >= ChunkSize {
			if err := cw.seal(p[:ChunkSize]); err != nil {
				return written, err
			}
			written += ChunkSize
			p = p[ChunkSize:]
			continue
		}

		n := copy(cw.buf[len(cw.buf):ChunkSize], p)
		cw.buf = cw.buf[:len(cw.buf)+n]
		written += n
		p = p[n:]

		if len(cw.buf) == ChunkSize {
			if err := cw.seal(cw.buf); err != nil {
				return written, err
			}
			cw.buf = cw.buf[:0]
		}
	}

	return written, nil
}

// seal encrypts one chunk under the nonce derived for the current index
// and writes its record
func (cw *chunkWriter) seal(plaintext []byte) error {
	deriveChunkNonceInto(cw.nonce, cw.baseNonce, cw.index)
	cw.sealed = cw.c.sealTo(cw.sealed, cw.nonce, plaintext, cw.aad)

	binary.BigEndian.PutUint32(cw.lenBuf[:], uint32(len(cw.sealed)))
	if _, err := cw.w.Write(cw.lenBuf[:]); err != nil {
		return fmt.Errorf("failed to write chunk length: %w", err)
	}
	if _, err := cw.w.Write(cw.sealed); err != nil {
		return fmt.Errorf("failed to write chunk: %w", err)
	}

	cw.index++
	return nil
}

// Close seals the final partial chunk, if any. The stream simply ends at
// the last record; no end marker is written.
func (cw *chunkWriter) Close() error {
	if cw.closed {
		return nil
	}
	cw.closed = true

	if len(cw.buf) > 0 {
		if err := cw.seal(cw.buf); err != nil {
			return err
		}
		cw.buf = cw.buf[:0]
	}

	return nil
}

// chunkReader opens chunk records in sequence and serves the plaintext
// through Read. A clean EOF at a record boundary ends the stream; inside
// a record it is a truncation.
type chunkReader struct {
	c    *Cipher
	r    io.Reader
	aad  []byte
	name string

	baseNonce []byte
	nonce     []byte
	index     uint64

	sealed []byte // scratch for one sealed record
	plain  []byte // current opened chunk
	off    int
	err    error // sticky
	lenBuf [4]byte
}

func newChunkReader(c *Cipher, r io.Reader, baseNonce []byte, name string) *chunkReader {
	return &chunkReader{
		c:         c,
		r:         r,
		aad:       []byte(name),
		name:      name,
		baseNonce: baseNonce,
		nonce:     make([]byte, len(baseNonce)),
		sealed:    make([]byte, ChunkSize+c.Overhead()),
	}
}

func (cr *chunkReader) Read(p []byte) (int, error) {
	// Loop past zero-length chunks rather than returning (0, nil)
	for cr.off == len(cr.plain) {
		if cr.err != nil {
			return 0, cr.err
		}
		if err := cr.next(); err != nil {
			cr.err = err
			return 0, err
		}
	}

	n := copy(p, cr.plain[cr.off:])
	cr.off += n
	return n, nil
}

// next reads and opens the record for the current index
func (cr *chunkReader) next() error {
	if _, err := io.ReadFull(cr.r, cr.lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return NewDecryptError("decrypt-stream", cr.name,
				fmt.Errorf("chunk %d: partial length field: %w", cr.index, ErrTruncated))
		}
		return fmt.Errorf("failed to read chunk length: %w", err)
	}

	length := binary.BigEndian.Uint32(cr.lenBuf[:])

	// Bound the record before allocating or reading anything: a sealed
	// chunk is never shorter than its tag nor longer than a full chunk
	// plus its tag, no matter what a corrupted length field claims.
	overhead := uint32(cr.c.Overhead())
	if length < overhead || length > ChunkSize+overhead {
		return NewDecryptError("decrypt-stream", cr.name,
			fmt.Errorf("chunk %d: sealed length %d out of range: %w", cr.index, length, ErrMalformed))
	}

	record := cr.sealed[:length]
	if _, err := io.ReadFull(cr.r, record); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return NewDecryptError("decrypt-stream", cr.name,
				fmt.Errorf("chunk %d: record cut short: %w", cr.index, ErrTruncated))
		}
		return fmt.Errorf("failed to read chunk: %w", err)
	}

	deriveChunkNonceInto(cr.nonce, cr.baseNonce, cr.index)
	plain, err := cr.c.Decrypt(cr.nonce, record, cr.aad)
	if err != nil {
		return NewDecryptError("decrypt-stream", cr.name,
			fmt.Errorf("chunk %d: %w", cr.index, err))
	}

	cr.plain = plain
	cr.off = 0
	cr.index++
	return nil
}

// EncryptStream seals everything read from r into a V2 stored object
// written to w: header first, then sequential chunk records, ending at
// input EOF. Input is packed into maximal chunks, so a 50 MiB source
// yields exactly 800 records. When flags.Compressed is set the plaintext
// runs through a streaming gzip writer before chunking, and the chunk
// records carry slices of the compressed stream. Returns the number of
// plaintext bytes consumed from r.
func EncryptStream(c *Cipher, name string, flags FormatFlags, r io.Reader, w io.Writer) (int64, error) {
	baseNonce, err := generateNonce(c)
	if err != nil {
		return 0, err
	}

	header := &streamHeader{flags: flags, baseNonce: baseNonce}
	if _, err := header.writeTo(w); err != nil {
		return 0, err
	}

	cw := newChunkWriter(c, w, baseNonce, []byte(name))

	var consumed int64
	if flags.Compressed {
		gz := gzip.NewWriter(cw)
		consumed, err = io.Copy(gz, r)
		if err != nil {
			return consumed, fmt.Errorf("failed to encrypt stream: %w", err)
		}
		if err := gz.Close(); err != nil {
			return consumed, fmt.Errorf("failed to finish compression: %w", err)
		}
	} else {
		consumed, err = io.Copy(cw, r)
		if err != nil {
			return consumed, fmt.Errorf("failed to encrypt stream: %w", err)
		}
	}

	if err := cw.Close(); err != nil {
		return consumed, err
	}

	return consumed, nil
}

// DecryptStream opens a V2 stored object read from r and writes the
// plaintext to w incrementally, never holding more than one chunk. A
// version byte other than 2 fails with ErrUnsupportedVersion; short
// records fail with ErrTruncated; implausible length fields fail with
// ErrMalformed before any allocation; any tag failure aborts the whole
// decrypt with ErrAuthFailed, and output already written to w must be
// discarded by the caller. Returns plaintext bytes written and the
// header flags.
func DecryptStream(c *Cipher, name string, r io.Reader, w io.Writer) (int64, FormatFlags, error) {
	header, err := readStreamHeader(r)
	if err != nil {
		if errors.Is(err, ErrTruncated) || errors.Is(err, ErrUnsupportedVersion) {
			return 0, FormatFlags{}, NewDecryptError("decrypt-stream", name, err)
		}
		return 0, FormatFlags{}, err
	}

	cr := newChunkReader(c, r, header.baseNonce, name)

	var written int64
	if header.flags.Compressed {
		gz, err := gzip.NewReader(cr)
		if err != nil {
			return 0, header.flags, wrapInflateError(name, cr, err)
		}
		written, err = io.Copy(w, gz)
		if err != nil {
			return written, header.flags, wrapInflateError(name, cr, err)
		}
		if err := gz.Close(); err != nil {
			return written, header.flags, wrapInflateError(name, cr, err)
		}
	} else {
		written, err = io.Copy(w, cr)
		if err != nil && !errors.Is(err, io.EOF) {
			return written, header.flags, err
		}
	}

	return written, header.flags, nil
}

// wrapInflateError attributes a failure on the decompressing path. The
// chunk layer's own error wins (it is the root cause and already
// carries the decrypt taxonomy); anything else means the chunks opened
// fine but the compressed stream inside them is garbage, which can only
// happen when the unauthenticated flags byte lies.
func wrapInflateError(name string, cr *chunkReader, err error) error {
	if cr.err != nil && !errors.Is(cr.err, io.EOF) {
		return cr.err
	}
	var de *DecryptError
	if errors.As(err, &de) {
		return err
	}
	return NewDecryptError("decrypt-stream", name,
		fmt.Errorf("invalid compressed stream: %v: %w", err, ErrMalformed))
}
