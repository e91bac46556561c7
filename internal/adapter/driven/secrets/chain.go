// Package secrets resolves credentials by well-known name from the encrypted
// credential store, falling back to statically configured values.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ericfisherdev/prreviewer/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SecretSource = (*Chain)(nil)

// Chain implements driven.SecretSource. The credential store wins over static
// values so a rotated secret takes effect without a restart.
type Chain struct {
	store  driven.CredentialStore
	static map[string]string
}

// NewChain creates a Chain. store may be nil; static maps secret names to
// configured values and empty values are ignored.
func NewChain(store driven.CredentialStore, static map[string]string) *Chain {
	values := make(map[string]string, len(static))
	for name, value := range static {
		if value != "" {
			values[name] = value
		}
	}
	return &Chain{store: store, static: values}
}

// Secret returns the value stored under name. A store without an encryption
// key is skipped; any other store failure is returned as is.
func (c *Chain) Secret(ctx context.Context, name string) (string, error) {
	if c.store != nil {
		value, err := c.store.Get(ctx, name)
		switch {
		case errors.Is(err, driven.ErrEncryptionKeyNotSet):
			slog.Debug("credential store disabled, using static secrets", "name", name)
		case err != nil:
			return "", fmt.Errorf("read secret %q: %w", name, err)
		case value != "":
			return value, nil
		}
	}

	if value, ok := c.static[name]; ok {
		return value, nil
	}

	return "", fmt.Errorf("secret %q: %w", name, driven.ErrSecretNotFound)
}
