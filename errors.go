package securefs

import (
	"errors"
	"fmt"
)

// Error types represent the failure categories of the storage engine

// KeyError represents a key lifecycle failure (loading, generation, validation)
type KeyError struct {
	Op      string // "load", "generate", "cipher"
	Path    string // Key file path, if applicable
	Message string // Human-readable error message
	Err     error  // Underlying error
}

func (e *KeyError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("key error: %s %s: %s", e.Op, e.Path, e.Message)
	}
	return fmt.Sprintf("key error: %s: %s", e.Op, e.Message)
}

func (e *KeyError) Unwrap() error {
	return e.Err
}

// DecryptError represents a decryption failure: authentication, truncation,
// malformed framing, or an unsupported format version
type DecryptError struct {
	Op      string // "decrypt", "decrypt-stream"
	Name    string // Logical filename, if applicable
	Message string // Human-readable error message
	Err     error  // Underlying error
}

func (e *DecryptError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("decrypt error: %s: %s", e.Name, e.Message)
	}
	return fmt.Sprintf("decrypt error: %s", e.Message)
}

func (e *DecryptError) Unwrap() error {
	return e.Err
}

// StorageError represents a stored-object or sidecar failure
type StorageError struct {
	Op      string // "write", "read", "list", "stat", "delete", "rekey"
	Name    string // Logical filename, if applicable
	Message string // Human-readable error message
	Err     error  // Underlying error
}

func (e *StorageError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("storage error: %s %s: %s", e.Op, e.Name, e.Message)
	}
	return fmt.Sprintf("storage error: %s: %s", e.Op, e.Message)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration loading or validation failure
type ConfigError struct {
	Path    string // Config file path, if applicable
	Message string // Human-readable error message
	Err     error  // Underlying error
}

func (e *ConfigError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("config error: %s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Common sentinel errors, matched with errors.Is through the typed wrappers
var (
	ErrInvalidKeyLength   = errors.New("invalid key length")
	ErrKeyStoreClosed     = errors.New("key store is closed")
	ErrAuthFailed         = errors.New("authentication failed - data may be corrupted or tampered")
	ErrTruncated          = errors.New("truncated ciphertext")
	ErrMalformed          = errors.New("malformed ciphertext")
	ErrUnsupportedVersion = errors.New("unsupported file format version")
	ErrMetadataMissing    = errors.New("metadata not found")
	ErrPartialDelete      = errors.New("partial delete - stored object and metadata are out of sync")
	ErrInvalidName        = errors.New("invalid object name")
	ErrConfigMissing      = errors.New("config file not found")
	ErrConfigInvalid      = errors.New("invalid configuration")
)

// Helper functions for creating structured errors

// NewKeyError creates a new key error
func NewKeyError(op, path string, err error) error {
	return &KeyError{
		Op:      op,
		Path:    path,
		Message: err.Error(),
		Err:     err,
	}
}

// NewDecryptError creates a new decrypt error
func NewDecryptError(op, name string, err error) error {
	return &DecryptError{
		Op:      op,
		Name:    name,
		Message: err.Error(),
		Err:     err,
	}
}

// NewStorageError creates a new storage error
func NewStorageError(op, name string, err error) error {
	return &StorageError{
		Op:      op,
		Name:    name,
		Message: err.Error(),
		Err:     err,
	}
}

// NewConfigError creates a new config error
func NewConfigError(path string, err error) error {
	return &ConfigError{
		Path:    path,
		Message: err.Error(),
		Err:     err,
	}
}

// Error checking helpers

// IsKeyError checks if an error is a key error
func IsKeyError(err error) bool {
	var ke *KeyError
	return errors.As(err, &ke)
}

// IsDecryptError checks if an error is a decrypt error
func IsDecryptError(err error) bool {
	var de *DecryptError
	return errors.As(err, &de)
}

// IsStorageError checks if an error is a storage error
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// IsConfigError checks if an error is a config error
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsAuthError reports whether an error is an authentication failure.
// Callers must be able to tell tampering apart from missing files and
// plain I/O errors, so auth failures always carry the ErrAuthFailed
// sentinel regardless of which operation surfaced them.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuthFailed)
}
