// Package credstore is the durable credential store: a namespaced key/value
// table on sqlite whose values are sealed with chacha20poly1305 so nothing is
// readable at rest without the agent's secret key.
package credstore

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/thealgorithm/companiond/internal/db"
	"github.com/thealgorithm/companiond/models"
	"golang.org/x/crypto/chacha20poly1305"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	Service = "companion"

	AccountOAuthToken     = "oauth_token"
	AccountSessionCookies = "twitter_cookies"
	AccountPKCEVerifier   = "pkce_code_verifier"
	AccountOAuthState     = "oauth_state"
)

type Store struct {
	db   *db.DB
	aead cipher.AEAD
}

func New(d *db.DB, key []byte) (*Store, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("credential store key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("could not create aead: %w", err)
	}

	return &Store{
		db:   d,
		aead: aead,
	}, nil
}

// Save replaces any existing value for account. The upsert clause makes the
// overwrite atomic from the caller's perspective.
func (s *Store) Save(ctx context.Context, account, value string) error {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("could not read nonce: %w", err)
	}

	sealed := s.aead.Seal(nonce, nonce, []byte(value), []byte(Service+"/"+account))

	cred := models.Credential{
		Service: Service,
		Account: account,
		Value:   sealed,
	}

	if err := s.db.Create(ctx, &cred, []clause.Expression{
		clause.OnConflict{
			Columns:   []clause.Column{{Name: "service"}, {Name: "account"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		},
	}).Error; err != nil {
		return fmt.Errorf("could not save credential: %w", err)
	}

	return nil
}

// Read returns the stored value for account. The second return is false when
// no entry exists.
func (s *Store) Read(ctx context.Context, account string) (string, bool, error) {
	var cred models.Credential
	if err := s.db.First(ctx, &cred, models.Credential{Service: Service, Account: account}).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("could not read credential: %w", err)
	}

	if len(cred.Value) < s.aead.NonceSize() {
		return "", false, fmt.Errorf("stored credential for %s is malformed", account)
	}

	nonce, ct := cred.Value[:s.aead.NonceSize()], cred.Value[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ct, []byte(Service+"/"+account))
	if err != nil {
		return "", false, fmt.Errorf("could not unseal credential for %s: %w", account, err)
	}

	return string(plain), true, nil
}

func (s *Store) Delete(ctx context.Context, account string) error {
	if err := s.db.Delete(ctx, &models.Credential{}, "service = ? AND account = ?", Service, account).Error; err != nil {
		return fmt.Errorf("could not delete credential: %w", err)
	}
	return nil
}
