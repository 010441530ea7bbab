package store

import (
	"context"
	"errors"
	"time"

	"github.com/gatekeep-io/gatekeep/internal/models"
	"github.com/google/uuid"
)

// Sentinel errors for API key store operations
var (
	ErrApiKeyNotFound = errors.New("api key not found")

	// ErrApiKeyExists indicates a hash or prefix collision. Hash and prefix
	// are never reused across keys, even after revocation.
	ErrApiKeyExists = errors.New("api key hash or prefix already exists")
)

// ApiKeyStore defines the interface for API key storage operations.
type ApiKeyStore interface {
	// Create inserts a new key. The insert is atomic with the uniqueness
	// checks on KeyHash and KeyPrefix; returns ErrApiKeyExists on collision.
	Create(ctx context.Context, key *models.ApiKey) error

	// Get retrieves a key by ID.
	Get(ctx context.Context, keyID uuid.UUID) (*models.ApiKey, error)

	// GetByPrefix retrieves a key by its non-secret lookup prefix.
	GetByPrefix(ctx context.Context, prefix string) (*models.ApiKey, error)

	// Revoke marks a key revoked. Idempotent and irreversible: revoking an
	// already-revoked key is a no-op returning nil.
	Revoke(ctx context.Context, keyID uuid.UUID, revokedBy uuid.UUID, at time.Time) error

	// ConsumeRateLimit atomically increments the key's usage counter for the
	// current fixed window and reports whether the request is within the
	// key's rate limit. The read-modify-write is a single atomic operation
	// at the storage layer; under N concurrent calls against a key with
	// limit L (N > L), exactly L succeed. Keys without a limit always pass.
	// Window rollover resets the counter as part of the same operation.
	ConsumeRateLimit(ctx context.Context, keyID uuid.UUID, now time.Time, window time.Duration) (bool, error)

	// TouchLastUsed records key usage. Best effort; failures are logged by
	// callers, never propagated.
	TouchLastUsed(ctx context.Context, keyID uuid.UUID, at time.Time) error
}
