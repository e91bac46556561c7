package driven

import (
	"context"
	"errors"
)

// ErrSecretNotFound is returned when no source holds the requested secret.
var ErrSecretNotFound = errors.New("secret not found")

// SecretSource resolves credentials by well-known name. An empty value is
// never returned with a nil error.
type SecretSource interface {
	Secret(ctx context.Context, name string) (string, error)
}
