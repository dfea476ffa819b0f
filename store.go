package securefs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/absfs/absfs"
	"github.com/sirupsen/logrus"
)

const (
	// objectFileMode restricts stored objects, sidecars, and key files
	// to their owner
	objectFileMode os.FileMode = 0600

	// storageDirMode restricts the storage directory to its owner
	storageDirMode os.FileMode = 0700
)

// Store persists encrypted objects in a single directory of a backing
// filesystem. Every object lives under a caller-chosen logical name
// which doubles as the AEAD additional data, so ciphertext cannot be
// silently renamed, and beside each object sits a plaintext JSON
// sidecar recording its original size and compression state.
//
// A Store is safe for concurrent use across distinct names. Concurrent
// writers to the same name race at the filesystem level; the last
// completed write wins.
type Store struct {
	fs   absfs.FileSystem
	dir  string
	keys *KeyStore
	log  *logrus.Logger
}

// StoreOptions configures optional Store collaborators.
type StoreOptions struct {
	// Logger receives the store's structured operation logs. Defaults
	// to the logrus standard logger.
	Logger *logrus.Logger
}

// WriteOptions selects the codec and compression for one buffered
// write.
type WriteOptions struct {
	// Compress gzips the plaintext before sealing.
	Compress bool

	// Streaming stores the object in the chunked streaming layout.
	// Buffered writes default to the legacy whole-file layout.
	Streaming bool
}

// ObjectInfo describes one stored object in a listing. Size is the
// stored (encrypted) size on disk, not the plaintext size; Stat reports
// the original size.
type ObjectInfo struct {
	Name        string
	Size        int64
	HasMetadata bool
}

// NewStore opens a store rooted at dir on the given filesystem,
// creating the directory when missing. Objects are sealed and opened
// with ciphers drawn from keys; the caller keeps ownership of the key
// store and closes it when done.
func NewStore(base absfs.FileSystem, dir string, keys *KeyStore, opts *StoreOptions) (*Store, error) {
	if base == nil {
		return nil, fmt.Errorf("base filesystem is required")
	}
	if keys == nil {
		return nil, fmt.Errorf("key store is required")
	}
	if dir == "" {
		dir = "."
	}
	if opts == nil {
		opts = &StoreOptions{}
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	if err := base.MkdirAll(dir, storageDirMode); err != nil {
		return nil, NewStorageError("open", dir, fmt.Errorf("failed to create storage directory: %w", err))
	}

	log.WithField("dir", dir).Debug("storage directory ready")

	return &Store{fs: base, dir: dir, keys: keys, log: log}, nil
}

// Dir returns the storage directory path on the backing filesystem.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) objectPath(name string) string {
	return path.Join(s.dir, name)
}

// Write seals data under the given logical name and records its
// sidecar, replacing any previous object. Returns the plaintext byte
// count stored.
func (s *Store) Write(name string, data []byte, opts WriteOptions) (int64, error) {
	if err := validateName(name); err != nil {
		return 0, err
	}

	c, err := s.keys.Cipher()
	if err != nil {
		return 0, err
	}

	s.log.WithFields(logrus.Fields{
		"file":     name,
		"size":     len(data),
		"compress": opts.Compress,
	}).Info("storing file")

	var stored []byte
	if opts.Streaming {
		var buf bytes.Buffer
		if _, err := EncryptStream(c, name, FormatFlags{Compressed: opts.Compress}, bytes.NewReader(data), &buf); err != nil {
			return 0, err
		}
		stored = buf.Bytes()
	} else {
		stored, err = EncryptBuffer(c, name, data, opts.Compress)
		if err != nil {
			return 0, err
		}
	}

	if err := s.writeObject("write", name, stored); err != nil {
		return 0, err
	}

	meta := &Metadata{Filename: name, Size: int64(len(data)), Compressed: opts.Compress}
	if err := s.writeMetadata(name, meta); err != nil {
		return 0, err
	}

	s.log.WithFields(logrus.Fields{
		"file":           name,
		"original_size":  len(data),
		"encrypted_size": len(stored),
	}).Info("file stored")

	return int64(len(data)), nil
}

// WriteStream seals everything read from r under the given logical
// name in the streaming layout, so the plaintext never has to fit in
// memory. Returns the plaintext byte count consumed from r.
func (s *Store) WriteStream(name string, r io.Reader, compress bool) (int64, error) {
	if err := validateName(name); err != nil {
		return 0, err
	}

	c, err := s.keys.Cipher()
	if err != nil {
		return 0, err
	}

	s.log.WithFields(logrus.Fields{
		"file":     name,
		"compress": compress,
	}).Info("storing file stream")

	if err := s.fs.MkdirAll(s.dir, storageDirMode); err != nil {
		return 0, NewStorageError("write-stream", name, fmt.Errorf("failed to create storage directory: %w", err))
	}

	f, err := s.fs.OpenFile(s.objectPath(name), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, objectFileMode)
	if err != nil {
		return 0, NewStorageError("write-stream", name, fmt.Errorf("failed to create stored object: %w", err))
	}

	consumed, err := EncryptStream(c, name, FormatFlags{Compressed: compress}, r, f)
	if err != nil {
		f.Close()
		return consumed, err
	}
	if err := f.Close(); err != nil {
		return consumed, NewStorageError("write-stream", name, fmt.Errorf("failed to write stored object: %w", err))
	}

	meta := &Metadata{Filename: name, Size: consumed, Compressed: compress}
	if err := s.writeMetadata(name, meta); err != nil {
		return consumed, err
	}

	s.log.WithFields(logrus.Fields{
		"file":  name,
		"bytes": consumed,
	}).Info("file stream stored")

	return consumed, nil
}

// Read recovers the plaintext stored under the given logical name,
// whichever layout the object uses. The sidecar supplies the
// compression flag for legacy whole-file objects; when it is missing
// the object is assumed uncompressed so data written before sidecars
// existed stays readable.
func (s *Store) Read(name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	c, err := s.keys.Cipher()
	if err != nil {
		return nil, err
	}

	stored, err := s.readObject(name)
	if err != nil {
		return nil, err
	}

	plaintext, _, err := DecryptAny(c, name, stored, s.sidecarCompression(name))
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"file":  name,
		"bytes": len(plaintext),
	}).Info("file read")

	return plaintext, nil
}

// ReadStream recovers the plaintext stored under name into w.
// Streaming objects pass through one chunk at a time; legacy
// whole-file objects are necessarily buffered before their single tag
// check. Returns the plaintext byte count and whether the stored
// object was compressed.
func (s *Store) ReadStream(name string, w io.Writer) (int64, bool, error) {
	if err := validateName(name); err != nil {
		return 0, false, err
	}

	c, err := s.keys.Cipher()
	if err != nil {
		return 0, false, err
	}

	f, err := s.fs.OpenFile(s.objectPath(name), os.O_RDONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, NewStorageError("read-stream", name, fmt.Errorf("stored object not found: %w", err))
		}
		return 0, false, NewStorageError("read-stream", name, fmt.Errorf("failed to open stored object: %w", err))
	}
	defer f.Close()

	n, compressed, err := DecryptAnyStream(c, name, f, w, s.sidecarCompression(name))
	if err != nil {
		return n, compressed, err
	}

	s.log.WithFields(logrus.Fields{
		"file":  name,
		"bytes": n,
	}).Info("file stream read")

	return n, compressed, nil
}

// Exists reports whether an object is stored under the given name.
func (s *Store) Exists(name string) bool {
	if err := validateName(name); err != nil {
		return false
	}
	info, err := s.fs.Stat(s.objectPath(name))
	return err == nil && !info.IsDir()
}

// Stat returns the sidecar metadata recorded for the given name. A
// stored object without a sidecar reports ErrMetadataMissing.
func (s *Store) Stat(name string) (*Metadata, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	return s.readMetadata(name)
}

// List returns the stored objects sorted by name. Subdirectories,
// metadata sidecars, and rotation staging leftovers are skipped.
func (s *Store) List() ([]ObjectInfo, error) {
	d, err := s.fs.Open(s.dir)
	if err != nil {
		return nil, NewStorageError("list", s.dir, fmt.Errorf("failed to open storage directory: %w", err))
	}
	defer d.Close()

	infos, err := d.Readdir(-1)
	if err != nil {
		return nil, NewStorageError("list", s.dir, fmt.Errorf("failed to read storage directory: %w", err))
	}

	objects := make([]ObjectInfo, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() || isSidecar(info.Name()) || strings.Contains(info.Name(), rekeyTempMarker) {
			continue
		}
		_, serr := s.fs.Stat(s.objectPath(SidecarName(info.Name())))
		objects = append(objects, ObjectInfo{
			Name:        info.Name(),
			Size:        info.Size(),
			HasMetadata: serr == nil,
		})
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Name < objects[j].Name })
	return objects, nil
}

// Delete removes the stored object and its sidecar. Deleting a name
// with nothing stored is a no-op, so Delete is idempotent. When one of
// the pair is removed and the other removal fails the directory is
// left out of sync, and the error wraps ErrPartialDelete so the orphan
// is never silent.
func (s *Store) Delete(name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	objectRemoved := false
	var objectErr error
	if err := s.fs.Remove(s.objectPath(name)); err != nil {
		if !os.IsNotExist(err) {
			objectErr = err
		}
	} else {
		objectRemoved = true
	}

	metaRemoved, metaErr := s.removeMetadata(name)

	switch {
	case objectErr == nil && metaErr == nil:
		if objectRemoved || metaRemoved {
			s.log.WithField("file", name).Info("file deleted")
		}
		return nil
	case objectErr != nil && metaRemoved:
		return NewStorageError("delete", name,
			fmt.Errorf("metadata removed but stored object remains (%v): %w", objectErr, ErrPartialDelete))
	case metaErr != nil && objectRemoved:
		return NewStorageError("delete", name,
			fmt.Errorf("stored object removed but metadata remains (%v): %w", metaErr, ErrPartialDelete))
	case objectErr != nil:
		return NewStorageError("delete", name, fmt.Errorf("failed to remove stored object: %w", objectErr))
	default:
		return NewStorageError("delete", name, fmt.Errorf("failed to remove metadata file: %w", metaErr))
	}
}

// writeObject replaces the stored object at name with the given bytes
func (s *Store) writeObject(op, name string, stored []byte) error {
	if err := s.fs.MkdirAll(s.dir, storageDirMode); err != nil {
		return NewStorageError(op, name, fmt.Errorf("failed to create storage directory: %w", err))
	}

	f, err := s.fs.OpenFile(s.objectPath(name), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, objectFileMode)
	if err != nil {
		return NewStorageError(op, name, fmt.Errorf("failed to create stored object: %w", err))
	}
	if _, err := f.Write(stored); err != nil {
		f.Close()
		return NewStorageError(op, name, fmt.Errorf("failed to write stored object: %w", err))
	}
	if err := f.Close(); err != nil {
		return NewStorageError(op, name, fmt.Errorf("failed to write stored object: %w", err))
	}
	return nil
}

// readObject loads the raw stored bytes for name
func (s *Store) readObject(name string) ([]byte, error) {
	f, err := s.fs.OpenFile(s.objectPath(name), os.O_RDONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewStorageError("read", name, fmt.Errorf("stored object not found: %w", err))
		}
		return nil, NewStorageError("read", name, fmt.Errorf("failed to open stored object: %w", err))
	}
	defer f.Close()

	stored, err := io.ReadAll(f)
	if err != nil {
		return nil, NewStorageError("read", name, fmt.Errorf("failed to read stored object: %w", err))
	}
	return stored, nil
}

// sidecarCompression reads the stored compression flag for legacy
// whole-file objects, tolerating a missing or unreadable sidecar so
// objects written before sidecars existed stay readable.
func (s *Store) sidecarCompression(name string) bool {
	meta, err := s.readMetadata(name)
	if err != nil {
		if errors.Is(err, ErrMetadataMissing) {
			s.log.WithField("file", name).Warn("metadata missing, assuming uncompressed")
		} else {
			s.log.WithFields(logrus.Fields{
				"file":  name,
				"error": err,
			}).Warn("metadata unreadable, assuming uncompressed")
		}
		return false
	}
	return meta.Compressed
}
