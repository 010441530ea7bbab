package memory

import (
	"context"
	"sync"
	"time"

	"github.com/gatekeep-io/gatekeep/internal/models"
	"github.com/gatekeep-io/gatekeep/internal/store"
	"github.com/google/uuid"
)

// ApiKeyStore implements store.ApiKeyStore using in-memory storage.
type ApiKeyStore struct {
	mu sync.Mutex

	keys         map[uuid.UUID]*models.ApiKey // key_id -> ApiKey
	keysByPrefix map[string]uuid.UUID         // key_prefix -> key_id
	keysByHash   map[string]uuid.UUID         // key_hash -> key_id
}

// NewApiKeyStore creates a new in-memory API key store.
func NewApiKeyStore() *ApiKeyStore {
	return &ApiKeyStore{
		keys:         make(map[uuid.UUID]*models.ApiKey),
		keysByPrefix: make(map[string]uuid.UUID),
		keysByHash:   make(map[string]uuid.UUID),
	}
}

// Create inserts a new key. Hash and prefix uniqueness is checked under the
// same lock as the insert; revoked keys keep their index entries so neither
// value is ever reused.
func (s *ApiKeyStore) Create(ctx context.Context, key *models.ApiKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.keysByPrefix[key.KeyPrefix]; exists {
		return store.ErrApiKeyExists
	}
	if _, exists := s.keysByHash[key.KeyHash]; exists {
		return store.ErrApiKeyExists
	}

	clone := cloneApiKey(key)
	s.keys[key.KeyID] = clone
	s.keysByPrefix[key.KeyPrefix] = key.KeyID
	s.keysByHash[key.KeyHash] = key.KeyID

	return nil
}

// Get retrieves a key by ID.
func (s *ApiKeyStore) Get(ctx context.Context, keyID uuid.UUID) (*models.ApiKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, exists := s.keys[keyID]
	if !exists {
		return nil, store.ErrApiKeyNotFound
	}
	return cloneApiKey(key), nil
}

// GetByPrefix retrieves a key by its non-secret lookup prefix.
func (s *ApiKeyStore) GetByPrefix(ctx context.Context, prefix string) (*models.ApiKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, exists := s.keysByPrefix[prefix]
	if !exists {
		return nil, store.ErrApiKeyNotFound
	}
	return cloneApiKey(s.keys[id]), nil
}

// Revoke marks a key revoked. Idempotent and irreversible.
func (s *ApiKeyStore) Revoke(ctx context.Context, keyID uuid.UUID, revokedBy uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, exists := s.keys[keyID]
	if !exists {
		return store.ErrApiKeyNotFound
	}
	if key.Revoked {
		return nil
	}

	key.Revoked = true
	key.RevokedAt = &at
	key.RevokedBy = &revokedBy

	return nil
}

// ConsumeRateLimit atomically increments the usage counter for the current
// fixed window and compares against the key's limit. The whole
// read-modify-write runs under one lock, so under N concurrent calls against
// limit L exactly L succeed.
func (s *ApiKeyStore) ConsumeRateLimit(ctx context.Context, keyID uuid.UUID, now time.Time, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, exists := s.keys[keyID]
	if !exists {
		return false, store.ErrApiKeyNotFound
	}

	// Window rollover resets the counter as part of the same operation.
	if now.Sub(key.WindowStart) >= window {
		key.WindowStart = now
		key.UsageCount = 0
	}

	if key.RateLimit != nil && key.UsageCount >= *key.RateLimit {
		return false, nil
	}

	key.UsageCount++
	return true, nil
}

// TouchLastUsed records key usage.
func (s *ApiKeyStore) TouchLastUsed(ctx context.Context, keyID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, exists := s.keys[keyID]
	if !exists {
		return store.ErrApiKeyNotFound
	}

	used := at
	key.LastUsedAt = &used
	return nil
}

// cloneApiKey deep-copies a key so callers cannot mutate stored state.
func cloneApiKey(key *models.ApiKey) *models.ApiKey {
	clone := *key
	clone.Scopes = append([]string(nil), key.Scopes...)
	return &clone
}
