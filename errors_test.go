package securefs

import (
	"errors"
	"fmt"
	"testing"
)

func TestKeyError(t *testing.T) {
	tests := []struct {
		name    string
		err     *KeyError
		wantMsg string
	}{
		{
			name: "with path",
			err: &KeyError{
				Op:      "load",
				Path:    "/keys/main.key",
				Message: "file too short",
			},
			wantMsg: "key error: load /keys/main.key: file too short",
		},
		{
			name: "without path",
			err: &KeyError{
				Op:      "cipher",
				Message: "store closed",
			},
			wantMsg: "key error: cipher: store closed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestDecryptError(t *testing.T) {
	tests := []struct {
		name    string
		err     *DecryptError
		wantMsg string
	}{
		{
			name: "with name",
			err: &DecryptError{
				Op:      "decrypt",
				Name:    "secret.txt",
				Message: "authentication failed",
			},
			wantMsg: "decrypt error: secret.txt: authentication failed",
		},
		{
			name: "without name",
			err: &DecryptError{
				Op:      "decrypt-stream",
				Message: "truncated ciphertext",
			},
			wantMsg: "decrypt error: truncated ciphertext",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestStorageError(t *testing.T) {
	err := &StorageError{Op: "delete", Name: "gone.txt", Message: "partial delete"}
	want := "storage error: delete gone.txt: partial delete"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	bare := &StorageError{Op: "list", Message: "directory unreadable"}
	want = "storage error: list: directory unreadable"
	if got := bare.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestConfigError(t *testing.T) {
	err := &ConfigError{Path: "config.json", Message: "bad json"}
	want := "config error: config.json: bad json"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	bare := &ConfigError{Message: "key path is empty"}
	want = "config error: key path is empty"
	if got := bare.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrorConstructorsAndUnwrap(t *testing.T) {
	cause := errors.New("root cause")

	tests := []struct {
		name string
		err  error
	}{
		{"key", NewKeyError("load", "/k", cause)},
		{"decrypt", NewDecryptError("decrypt", "f", cause)},
		{"storage", NewStorageError("write", "f", cause)},
		{"config", NewConfigError("c.json", cause)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, cause) {
				t.Errorf("%v does not unwrap to its cause", tt.err)
			}
		})
	}
}

func TestErrorTypeChecks(t *testing.T) {
	keyErr := NewKeyError("load", "/k", ErrInvalidKeyLength)
	decErr := NewDecryptError("decrypt", "f", ErrAuthFailed)
	stoErr := NewStorageError("delete", "f", ErrPartialDelete)
	cfgErr := NewConfigError("c.json", ErrConfigInvalid)

	tests := []struct {
		name  string
		check func(error) bool
		yes   error
		no    error
	}{
		{"IsKeyError", IsKeyError, keyErr, decErr},
		{"IsDecryptError", IsDecryptError, decErr, stoErr},
		{"IsStorageError", IsStorageError, stoErr, cfgErr},
		{"IsConfigError", IsConfigError, cfgErr, keyErr},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(tt.yes) {
				t.Errorf("%s(%v) = false, want true", tt.name, tt.yes)
			}
			if tt.check(tt.no) {
				t.Errorf("%s(%v) = true, want false", tt.name, tt.no)
			}
			if tt.check(nil) {
				t.Errorf("%s(nil) = true, want false", tt.name)
			}
		})
	}
}

func TestIsAuthError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"bare sentinel", ErrAuthFailed, true},
		{"wrapped once", fmt.Errorf("chunk 3: %w", ErrAuthFailed), true},
		{"inside decrypt error", NewDecryptError("decrypt", "f", ErrAuthFailed), true},
		{"deeply wrapped", NewDecryptError("decrypt-stream", "f", fmt.Errorf("chunk 0: %w", ErrAuthFailed)), true},
		{"truncation is not auth", NewDecryptError("decrypt", "f", ErrTruncated), false},
		{"io error is not auth", NewStorageError("read", "f", errors.New("disk gone")), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAuthError(tt.err); got != tt.want {
				t.Errorf("IsAuthError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestSentinelsThroughRealOperations(t *testing.T) {
	c := testCipher(t)

	stored, err := EncryptBuffer(c, "real.txt", []byte("data"), false)
	if err != nil {
		t.Fatalf("EncryptBuffer failed: %v", err)
	}

	// A wrong-name decrypt must be classifiable three ways: typed,
	// sentinel, and helper.
	_, err = DecryptBuffer(c, "fake.txt", stored, false)
	if err == nil {
		t.Fatal("decrypt under a wrong name succeeded")
	}

	var de *DecryptError
	if !errors.As(err, &de) {
		t.Errorf("error is not a *DecryptError: %v", err)
	}
	if !errors.Is(err, ErrAuthFailed) {
		t.Errorf("error does not wrap ErrAuthFailed: %v", err)
	}
	if !IsAuthError(err) {
		t.Errorf("IsAuthError = false for %v", err)
	}
}
