package securefs

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
)

// Metadata is the plaintext sidecar record kept beside each stored
// object. Size is the original plaintext size in bytes, before
// compression and encryption. Compressed records whether the object's
// plaintext was gzipped before sealing; V2 objects also carry the flag
// in their authenticated-adjacent header, but for V1 objects the
// sidecar is the only place it lives.
type Metadata struct {
	Filename   string `json:"filename"`
	Size       int64  `json:"size"`
	Compressed bool   `json:"compressed"`
}

// SidecarName returns the metadata filename for a stored object. The
// object's final extension is replaced, so "report.pdf" pairs with
// "report.meta.json" and extensionless "notes" with "notes.meta.json".
// Two names that differ only in their final extension therefore share
// one sidecar; the last write wins.
func SidecarName(name string) string {
	ext := path.Ext(name)
	return strings.TrimSuffix(name, ext) + ".meta.json"
}

// isSidecar reports whether a directory entry is a metadata file rather
// than a stored object. Listing skips anything with a .json extension,
// so an object stored under a .json name stays readable by name but is
// shadowed in listings.
func isSidecar(name string) bool {
	return strings.HasSuffix(name, ".json")
}

// writeMetadata records the sidecar for a stored object, replacing any
// previous record
func (s *Store) writeMetadata(name string, meta *Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return NewStorageError("write-metadata", name, fmt.Errorf("failed to encode metadata: %w", err))
	}
	data = append(data, '\n')

	sidecar := s.objectPath(SidecarName(name))
	f, err := s.fs.OpenFile(sidecar, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, objectFileMode)
	if err != nil {
		return NewStorageError("write-metadata", name, fmt.Errorf("failed to create metadata file: %w", err))
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return NewStorageError("write-metadata", name, fmt.Errorf("failed to write metadata file: %w", err))
	}
	if err := f.Close(); err != nil {
		return NewStorageError("write-metadata", name, fmt.Errorf("failed to write metadata file: %w", err))
	}
	return nil
}

// readMetadata loads the sidecar for a stored object. A missing sidecar
// fails with ErrMetadataMissing; the object itself may still exist.
func (s *Store) readMetadata(name string) (*Metadata, error) {
	sidecar := s.objectPath(SidecarName(name))
	f, err := s.fs.OpenFile(sidecar, os.O_RDONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewStorageError("read-metadata", name, ErrMetadataMissing)
		}
		return nil, NewStorageError("read-metadata", name, fmt.Errorf("failed to open metadata file: %w", err))
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, NewStorageError("read-metadata", name, fmt.Errorf("failed to read metadata file: %w", err))
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, NewStorageError("read-metadata", name, fmt.Errorf("failed to decode metadata: %w", err))
	}
	return &meta, nil
}

// removeMetadata deletes the sidecar for a stored object. Reports
// whether a sidecar was actually removed; absence is not an error. The
// error is returned unwrapped so Delete can classify it against the
// object removal outcome.
func (s *Store) removeMetadata(name string) (bool, error) {
	sidecar := s.objectPath(SidecarName(name))
	if err := s.fs.Remove(sidecar); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
