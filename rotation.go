package securefs

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// rekeyTempMarker tags staging objects written during rotation. A crash
// mid-rotation leaves them behind; List hides anything carrying the
// marker, so leftovers never surface in listings and never reach a
// later rotation run, whose sealed name binding would not match the
// staging name anyway.
const rekeyTempMarker = ".rekey-"

// RekeyOptions controls a key rotation run.
type RekeyOptions struct {
	// Workers bounds how many objects are re-encrypted concurrently.
	// Defaults to runtime.NumCPU().
	Workers int

	// DryRun verifies every object decrypts under the current key
	// without writing anything.
	DryRun bool
}

// RekeyReport summarizes a completed rotation.
type RekeyReport struct {
	// Objects is the number of stored objects processed.
	Objects int

	// Bytes is the total plaintext size processed.
	Bytes int64
}

// Rekey re-encrypts every stored object under the keys of newKeys,
// preserving each object's layout, flags, and compression state. The
// sidecars are untouched; name, size, and compression are invariant
// under rotation. Each object is re-encrypted into a staging name in
// the same directory and renamed over the original, so a crash leaves
// either the old or the new ciphertext, never a half-written object.
// Any decryption failure aborts the run; objects already rotated stay
// rotated, so rerunning after fixing the cause is safe in either
// direction only while both key files exist.
func (s *Store) Rekey(newKeys *KeyStore, opts *RekeyOptions) (*RekeyReport, error) {
	if newKeys == nil {
		return nil, fmt.Errorf("new key store is required")
	}
	if opts == nil {
		opts = &RekeyOptions{}
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	oldCipher, err := s.keys.Cipher()
	if err != nil {
		return nil, err
	}
	newCipher, err := newKeys.Cipher()
	if err != nil {
		return nil, err
	}

	objects, err := s.List()
	if err != nil {
		return nil, err
	}

	report := &RekeyReport{}
	if len(objects) == 0 {
		return report, nil
	}
	if workers > len(objects) {
		workers = len(objects)
	}

	s.log.WithFields(logrus.Fields{
		"objects": len(objects),
		"workers": workers,
		"dry_run": opts.DryRun,
	}).Info("starting key rotation")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		jobs    = make(chan ObjectInfo, len(objects))
		errChan = make(chan error, workers)
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for obj := range jobs {
				n, err := s.rekeyObject(oldCipher, newCipher, obj.Name, opts.DryRun)
				if err != nil {
					select {
					case errChan <- err:
					default:
					}
					return
				}

				mu.Lock()
				report.Objects++
				report.Bytes += n
				mu.Unlock()

				s.log.WithFields(logrus.Fields{
					"file":  obj.Name,
					"bytes": n,
				}).Debug("object rekeyed")
			}
		}()
	}

	for _, obj := range objects {
		jobs <- obj
	}
	close(jobs)
	wg.Wait()
	close(errChan)

	if err := <-errChan; err != nil {
		return report, err
	}

	s.log.WithFields(logrus.Fields{
		"objects": report.Objects,
		"bytes":   report.Bytes,
		"dry_run": opts.DryRun,
	}).Info("key rotation complete")

	return report, nil
}

// rekeyObject re-encrypts one stored object, dispatching on its layout
// so the stored format never changes under rotation. Returns the
// plaintext byte count processed.
func (s *Store) rekeyObject(oldCipher, newCipher *Cipher, name string, dryRun bool) (int64, error) {
	src, err := s.fs.OpenFile(s.objectPath(name), os.O_RDONLY, 0)
	if err != nil {
		return 0, NewStorageError("rekey", name, fmt.Errorf("failed to open stored object: %w", err))
	}
	defer src.Close()

	br := bufio.NewReader(src)
	head, err := br.Peek(1)
	if err != nil {
		if err == io.EOF {
			return 0, NewDecryptError("rekey", name, fmt.Errorf("stored object is empty: %w", ErrTruncated))
		}
		return 0, NewStorageError("rekey", name, fmt.Errorf("failed to read stored object: %w", err))
	}

	if DetectFormat(head[0]) == FormatV2 {
		return s.rekeyStream(oldCipher, newCipher, name, br, dryRun)
	}
	return s.rekeyBuffer(oldCipher, newCipher, name, br, dryRun)
}

// rekeyStream rotates a streaming object chunk by chunk, piping the
// old decryptor into the new encryptor so the plaintext never has to
// fit in memory.
func (s *Store) rekeyStream(oldCipher, newCipher *Cipher, name string, br *bufio.Reader, dryRun bool) (int64, error) {
	// The flags byte sits right after the version byte; it must be
	// known before the new stream starts, and Peek leaves it for the
	// decryptor to consume.
	head, err := br.Peek(2)
	if err != nil {
		return 0, NewDecryptError("rekey", name, fmt.Errorf("incomplete stream header: %w", ErrTruncated))
	}
	flags := decodeFormatFlags(head[1])

	if dryRun {
		n, _, err := DecryptStream(oldCipher, name, br, io.Discard)
		return n, err
	}

	tmp := name + rekeyTempMarker + uuid.New().String()
	dst, err := s.fs.OpenFile(s.objectPath(tmp), os.O_WRONLY|os.O_CREATE|os.O_EXCL, objectFileMode)
	if err != nil {
		return 0, NewStorageError("rekey", name, fmt.Errorf("failed to create staging object: %w", err))
	}

	pr, pw := io.Pipe()
	var decryptErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, decryptErr = DecryptStream(oldCipher, name, br, pw)
		pw.CloseWithError(decryptErr)
	}()

	n, encryptErr := EncryptStream(newCipher, name, flags, pr, dst)
	pr.Close()
	<-done

	// When the encryptor fails first, closing pr tears the pipe down
	// under the decryptor, whose closed-pipe error is then a symptom.
	// The encrypt error carries the root cause.
	if decryptErr != nil && errors.Is(decryptErr, io.ErrClosedPipe) {
		decryptErr = nil
	}

	if decryptErr != nil {
		dst.Close()
		s.fs.Remove(s.objectPath(tmp))
		return 0, decryptErr
	}
	if encryptErr != nil {
		dst.Close()
		s.fs.Remove(s.objectPath(tmp))
		return 0, encryptErr
	}
	if err := dst.Close(); err != nil {
		s.fs.Remove(s.objectPath(tmp))
		return 0, NewStorageError("rekey", name, fmt.Errorf("failed to write staging object: %w", err))
	}

	if err := s.fs.Rename(s.objectPath(tmp), s.objectPath(name)); err != nil {
		s.fs.Remove(s.objectPath(tmp))
		return 0, NewStorageError("rekey", name, fmt.Errorf("failed to replace stored object: %w", err))
	}

	return n, nil
}

// rekeyBuffer rotates a legacy whole-file object. The layout has a
// single tag over the whole payload, so buffering is unavoidable.
func (s *Store) rekeyBuffer(oldCipher, newCipher *Cipher, name string, br *bufio.Reader, dryRun bool) (int64, error) {
	stored, err := io.ReadAll(br)
	if err != nil {
		return 0, NewStorageError("rekey", name, fmt.Errorf("failed to read stored object: %w", err))
	}

	compressed := s.sidecarCompression(name)
	plaintext, err := DecryptBuffer(oldCipher, name, stored, compressed)
	if err != nil {
		return 0, err
	}

	if dryRun {
		return int64(len(plaintext)), nil
	}

	sealed, err := EncryptBuffer(newCipher, name, plaintext, compressed)
	if err != nil {
		return 0, err
	}

	tmp := name + rekeyTempMarker + uuid.New().String()
	if err := s.writeObject("rekey", tmp, sealed); err != nil {
		return 0, err
	}
	if err := s.fs.Rename(s.objectPath(tmp), s.objectPath(name)); err != nil {
		s.fs.Remove(s.objectPath(tmp))
		return 0, NewStorageError("rekey", name, fmt.Errorf("failed to replace stored object: %w", err))
	}

	return int64(len(plaintext)), nil
}
