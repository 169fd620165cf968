package keystore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelrelay/modelrelay/internal/models"

	"gorm.io/gorm"
)

// ErrInvalidKey indicates an unknown, revoked, or inactive API key.
var ErrInvalidKey = errors.New("keystore: invalid api key")

// Store resolves API-key tokens to key and account records.
type Store struct {
	db *gorm.DB
}

// New constructs a Store backed by the transactional store.
func New(db *gorm.DB) *Store { return &Store{db: db} }

// HashToken returns the lowercase hex SHA-256 digest of a token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Resolve looks up an active key by its bearer token and loads the owning
// account. Unknown or inactive keys return ErrInvalidKey.
func (s *Store) Resolve(ctx context.Context, token string) (*models.APIKey, *models.Account, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil, ErrInvalidKey
	}

	var key models.APIKey
	errFind := s.db.WithContext(ctx).
		Preload("Account").
		Where("api_key_hash = ? AND active = ?", HashToken(token), true).
		First(&key).Error
	switch {
	case errFind == nil:
	case errors.Is(errFind, gorm.ErrRecordNotFound):
		return nil, nil, ErrInvalidKey
	default:
		return nil, nil, fmt.Errorf("keystore: query: %w", errFind)
	}
	if key.Account == nil {
		return nil, nil, ErrInvalidKey
	}

	now := time.Now().UTC()
	_ = s.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("id = ?", key.ID).
		Update("last_used_at", &now).Error

	return &key, key.Account, nil
}
