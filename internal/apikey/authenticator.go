// Package apikey issues and verifies machine credentials. The secret part
// of a key exists in plaintext exactly once, in the IssueKey return value;
// only its SHA-256 hash is stored.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gatekeep-io/gatekeep/internal/audit"
	"github.com/gatekeep-io/gatekeep/internal/clock"
	"github.com/gatekeep-io/gatekeep/internal/metrics"
	"github.com/gatekeep-io/gatekeep/internal/models"
	"github.com/gatekeep-io/gatekeep/internal/store"
	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"
)

// keyScheme prefixes every issued key so leaked credentials are greppable.
const keyScheme = "gk_"

// prefixLen is the length of the non-secret lookup prefix.
const prefixLen = 8

// Sentinel errors for key verification
var (
	// ErrInvalidKey covers malformed, unknown, revoked, and expired keys.
	// Callers cannot distinguish which; the audit trail carries the detail.
	ErrInvalidKey = errors.New("invalid api key")

	// ErrRateLimited indicates the key exceeded its request budget for the
	// current window.
	ErrRateLimited = errors.New("api key rate limited")
)

// Config holds API key authenticator tunables.
type Config struct {
	// RateLimitWindow is the fixed window over which per-key request budgets
	// apply.
	RateLimitWindow time.Duration
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *Config) ApplyDefaults() {
	if c.RateLimitWindow == 0 {
		c.RateLimitWindow = time.Minute
	}
}

// IssuedKey is the one-time result of key issuance. Plaintext is shown to
// the caller once and is not recoverable afterwards.
type IssuedKey struct {
	Key       *models.ApiKey
	Plaintext string
}

// Authenticator issues, verifies, and revokes API keys.
type Authenticator struct {
	keys     store.ApiKeyStore
	recorder *audit.Recorder
	clock    clock.Clock
	logger   zerolog.Logger
	cfg      Config
}

// NewAuthenticator creates an API key authenticator.
func NewAuthenticator(stores store.Stores, recorder *audit.Recorder, clk clock.Clock, logger zerolog.Logger, cfg Config) *Authenticator {
	cfg.ApplyDefaults()
	return &Authenticator{
		keys:     stores.ApiKeys,
		recorder: recorder,
		clock:    clk,
		logger:   logger.With().Str("component", "apikey").Logger(),
		cfg:      cfg,
	}
}

// IssueKey mints a new key. The returned plaintext is the only copy of the
// secret that will ever exist. A hash or prefix collision aborts issuance
// rather than retrying silently; the caller may retry.
func (a *Authenticator) IssueKey(ctx context.Context, name string, principalID *uuid.UUID, scopes []string, rateLimit *int64, expiresAt *time.Time, issuedBy uuid.UUID) (*IssuedKey, error) {
	if name == "" {
		return nil, errors.New("key name is required")
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate key secret: %w", err)
	}
	encoded := base58.Encode(secret)
	plaintext := keyScheme + encoded

	now := a.clock.Now()
	key := &models.ApiKey{
		KeyID:       uuid.Must(uuid.NewV7()),
		Name:        name,
		KeyHash:     hashSecret(encoded),
		KeyPrefix:   encoded[:prefixLen],
		PrincipalID: principalID,
		Scopes:      scopes,
		RateLimit:   rateLimit,
		WindowStart: now,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
	}

	a.recorder.Record(ctx, audit.Event{
		Actor:      &issuedBy,
		Action:     "apikey.issue",
		Resource:   "api_key",
		ResourceID: key.KeyID.String(),
		After:      map[string]any{"name": name, "prefix": key.KeyPrefix, "scopes": scopes},
		Severity:   models.AuditInfo,
	})

	if err := a.keys.Create(ctx, key); err != nil {
		return nil, err
	}
	return &IssuedKey{Key: key, Plaintext: plaintext}, nil
}

// Verify authenticates a presented key. Malformed, unknown, revoked, and
// expired keys all fail with the same ErrInvalidKey; verification is
// constant time with respect to the secret.
func (a *Authenticator) Verify(ctx context.Context, presented string) (*models.ApiKey, error) {
	encoded, ok := strings.CutPrefix(presented, keyScheme)
	if !ok || len(encoded) <= prefixLen {
		metrics.ApiKeyVerifications.WithLabelValues("malformed").Inc()
		return nil, ErrInvalidKey
	}

	key, err := a.keys.GetByPrefix(ctx, encoded[:prefixLen])
	if err != nil {
		if errors.Is(err, store.ErrApiKeyNotFound) {
			metrics.ApiKeyVerifications.WithLabelValues("unknown").Inc()
			return nil, ErrInvalidKey
		}
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	if subtle.ConstantTimeCompare([]byte(hashSecret(encoded)), []byte(key.KeyHash)) != 1 {
		metrics.ApiKeyVerifications.WithLabelValues("bad_secret").Inc()
		return nil, ErrInvalidKey
	}
	if key.Revoked {
		metrics.ApiKeyVerifications.WithLabelValues("revoked").Inc()
		return nil, ErrInvalidKey
	}
	if key.IsExpired(a.clock.Now()) {
		metrics.ApiKeyVerifications.WithLabelValues("expired").Inc()
		return nil, ErrInvalidKey
	}

	metrics.ApiKeyVerifications.WithLabelValues("ok").Inc()
	return key, nil
}

// VerifyAndConsume authenticates a key and charges one request against its
// rate limit. The counter mutation is atomic at the storage layer, so under
// concurrent load a key with limit L admits exactly L requests per window.
func (a *Authenticator) VerifyAndConsume(ctx context.Context, presented string) (*models.ApiKey, error) {
	key, err := a.Verify(ctx, presented)
	if err != nil {
		return nil, err
	}

	now := a.clock.Now()
	allowed, err := a.keys.ConsumeRateLimit(ctx, key.KeyID, now, a.cfg.RateLimitWindow)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if !allowed {
		metrics.ApiKeyVerifications.WithLabelValues("rate_limited").Inc()
		return nil, ErrRateLimited
	}

	if err := a.keys.TouchLastUsed(ctx, key.KeyID, now); err != nil {
		a.logger.Warn().Err(err).Str("key_id", key.KeyID.String()).Msg("touch last used failed")
	}
	return key, nil
}

// Revoke permanently disables a key. Idempotent and irreversible: revoking
// an already-revoked key succeeds, and a revoked key can never be
// reinstated. The audit write is blocking; revocation of a live credential
// must not outrun its trail.
func (a *Authenticator) Revoke(ctx context.Context, keyID uuid.UUID, revokedBy uuid.UUID) error {
	if err := a.recorder.RecordCritical(ctx, audit.Event{
		Actor:      &revokedBy,
		Action:     "apikey.revoke",
		Resource:   "api_key",
		ResourceID: keyID.String(),
		Severity:   models.AuditCritical,
	}); err != nil {
		return err
	}

	return a.keys.Revoke(ctx, keyID, revokedBy, a.clock.Now())
}

func hashSecret(encoded string) string {
	sum := sha256.Sum256([]byte(encoded))
	return hex.EncodeToString(sum[:])
}
