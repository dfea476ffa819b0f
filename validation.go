package securefs

import (
	"fmt"
	"strings"
)

// validateName checks that a logical name is a single flat path
// element. The name doubles as the AEAD additional data and as the
// sidecar naming root, so empty names, path separators, traversal
// elements, and NUL bytes are rejected before any disk access.
func validateName(name string) error {
	switch {
	case name == "":
		return NewStorageError("validate", name, fmt.Errorf("name is empty: %w", ErrInvalidName))
	case strings.ContainsAny(name, `/\`):
		return NewStorageError("validate", name, fmt.Errorf("name contains a path separator: %w", ErrInvalidName))
	case name == "." || name == "..":
		return NewStorageError("validate", name, fmt.Errorf("name is a directory reference: %w", ErrInvalidName))
	case strings.ContainsRune(name, 0):
		return NewStorageError("validate", name, fmt.Errorf("name contains a NUL byte: %w", ErrInvalidName))
	}
	return nil
}
