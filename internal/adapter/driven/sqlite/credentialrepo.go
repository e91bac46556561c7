package sqlite

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/ericfisherdev/prreviewer/internal/domain/model"
	"github.com/ericfisherdev/prreviewer/internal/domain/port/driven"
)

var _ driven.CredentialStore = (*CredentialRepo)(nil)

// CredentialRepo stores provider secrets sealed with AES-256-GCM. Names stay
// in the clear for lookup and are bound as additional data, so a sealed value
// copied under another name fails to open.
type CredentialRepo struct {
	db   *DB
	aead cipher.AEAD
	err  error // key problem reported by every operation that needs aead
}

// NewCredentialRepo creates a CredentialRepo. A nil key disables the store
// (operations return driven.ErrEncryptionKeyNotSet); a key that is not 32
// bytes is reported on first use.
func NewCredentialRepo(db *DB, key []byte) *CredentialRepo {
	r := &CredentialRepo{db: db}
	switch {
	case key == nil:
		r.err = driven.ErrEncryptionKeyNotSet
	case len(key) != 32:
		r.err = fmt.Errorf("credential key must be 32 bytes, got %d", len(key))
	default:
		block, err := aes.NewCipher(key)
		if err != nil {
			r.err = fmt.Errorf("credential cipher: %w", err)
			break
		}
		r.aead, r.err = cipher.NewGCM(block)
	}
	return r
}

// Set stores or replaces the named credential.
func (r *CredentialRepo) Set(ctx context.Context, name, plaintext string) error {
	if name == "" {
		return model.Validationf("credential name is empty")
	}
	sealed, err := r.seal(name, plaintext)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO credentials (name, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if _, err := r.db.Writer.ExecContext(ctx, query, name, sealed); err != nil {
		return fmt.Errorf("set credential %q: %w", name, err)
	}
	return nil
}

// Get returns the plaintext stored under name, or "" when there is none.
func (r *CredentialRepo) Get(ctx context.Context, name string) (string, error) {
	if r.err != nil {
		return "", r.err
	}

	var sealed string
	err := r.db.Reader.QueryRowContext(ctx, `SELECT value FROM credentials WHERE name = ?`, name).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get credential %q: %w", name, err)
	}
	return r.open(name, sealed)
}

// List returns every credential ordered by name, values decrypted.
func (r *CredentialRepo) List(ctx context.Context) ([]model.Credential, error) {
	if r.err != nil {
		return nil, r.err
	}

	rows, err := r.db.Reader.QueryContext(ctx, `SELECT id, name, value, updated_at FROM credentials ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	creds := []model.Credential{}
	for rows.Next() {
		var (
			cred      model.Credential
			sealed    string
			updatedAt string
		)
		if err := rows.Scan(&cred.ID, &cred.Name, &sealed, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		if cred.Value, err = r.open(cred.Name, sealed); err != nil {
			return nil, err
		}
		if cred.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("credential %q updated_at: %w", cred.Name, err)
		}
		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return creds, nil
}

// Delete removes the named credential. It works without a key so a store
// sealed under a lost key can still be cleaned up.
func (r *CredentialRepo) Delete(ctx context.Context, name string) error {
	if _, err := r.db.Writer.ExecContext(ctx, `DELETE FROM credentials WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete credential %q: %w", name, err)
	}
	return nil
}

// seal returns base64(nonce || ciphertext || tag).
func (r *CredentialRepo) seal(name, plaintext string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	nonce := make([]byte, r.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("credential nonce: %w", err)
	}
	out := r.aead.Seal(nonce, nonce, []byte(plaintext), []byte(name))
	return base64.StdEncoding.EncodeToString(out), nil
}

func (r *CredentialRepo) open(name, sealed string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("decrypt credential %q: %w", name, err)
	}
	n := r.aead.NonceSize()
	if len(data) < n {
		return "", fmt.Errorf("decrypt credential %q: sealed value too short", name)
	}
	plaintext, err := r.aead.Open(nil, data[:n], data[n:], []byte(name))
	if err != nil {
		return "", fmt.Errorf("decrypt credential %q: %w", name, err)
	}
	return string(plaintext), nil
}
