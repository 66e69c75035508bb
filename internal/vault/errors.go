package vault

import (
	"errors"
	"fmt"
)

// ErrDecryption is matched by every DecryptionError.
var ErrDecryption = errors.New("decryption failed")

// ErrWeakSecret is returned when the master secret is too short.
var ErrWeakSecret = errors.New("vault secret must be at least 16 bytes")

// DecryptionError reports a value that carries the ciphertext prefix but
// cannot be opened.
type DecryptionError struct {
	Field string
	Err   error
}

func (e *DecryptionError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("decryption failed: %v", e.Err)
	}
	return fmt.Sprintf("decryption failed for field %q: %v", e.Field, e.Err)
}

func (e *DecryptionError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrDecryption) hold for any DecryptionError.
func (e *DecryptionError) Is(target error) bool {
	return target == ErrDecryption
}
