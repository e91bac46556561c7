package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/prreviewer/internal/domain/model"
)

// ErrEncryptionKeyNotSet is returned by CredentialStore operations when
// PRREVIEWER_SECRET_KEY has not been configured.
var ErrEncryptionKeyNotSet = errors.New("encryption key not configured: set PRREVIEWER_SECRET_KEY")

// CredentialStore defines the driven port for encrypted credential persistence.
// The adapter layer is responsible for encryption/decryption; this interface
// operates on plaintext values at the domain boundary.
type CredentialStore interface {
	// Set stores or replaces the named credential. Returns ErrEncryptionKeyNotSet
	// if the adapter was constructed without an encryption key.
	Set(ctx context.Context, name, plaintext string) error

	// Get retrieves the plaintext credential for name.
	// Returns ("", nil) if no credential exists under that name.
	Get(ctx context.Context, name string) (string, error)

	// List returns all stored credentials with decrypted values.
	List(ctx context.Context) ([]model.Credential, error)

	// Delete removes the named credential. Deleting a missing name is a no-op.
	Delete(ctx context.Context, name string) error
}
