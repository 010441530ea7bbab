package apikey

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gatekeep-io/gatekeep/internal/audit"
	"github.com/gatekeep-io/gatekeep/internal/clock"
	"github.com/gatekeep-io/gatekeep/internal/store"
	"github.com/gatekeep-io/gatekeep/internal/store/memory"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestAuthenticator(t *testing.T, cfg Config) (*Authenticator, store.Stores, *clock.Fake) {
	t.Helper()

	stores := memory.NewStores()
	clk := clock.NewFake(testStart)
	logger := zerolog.Nop()
	recorder := audit.NewRecorder(stores.Audit, clk, logger)
	t.Cleanup(recorder.Close)

	return NewAuthenticator(stores, recorder, clk, logger, cfg), stores, clk
}

func TestIssueAndVerify(t *testing.T) {
	ctx := context.Background()
	auth, _, _ := newTestAuthenticator(t, Config{})

	issuedBy := uuid.Must(uuid.NewV7())
	issued, err := auth.IssueKey(ctx, "ci-deploy", nil, []string{"deploy.write"}, nil, nil, issuedBy)
	require.NoError(t, err)
	require.True(t, len(issued.Plaintext) > len(keyScheme)+prefixLen)
	require.NotContains(t, issued.Key.KeyHash, issued.Plaintext, "secret is never stored")

	key, err := auth.Verify(ctx, issued.Plaintext)
	require.NoError(t, err)
	require.Equal(t, issued.Key.KeyID, key.KeyID)
	require.Equal(t, []string{"deploy.write"}, key.Scopes)
}

func TestVerifyRejectsBadKeys(t *testing.T) {
	ctx := context.Background()
	auth, _, _ := newTestAuthenticator(t, Config{})

	issued, err := auth.IssueKey(ctx, "ci-deploy", nil, nil, nil, nil, uuid.Must(uuid.NewV7()))
	require.NoError(t, err)

	t.Run("missing scheme", func(t *testing.T) {
		_, err := auth.Verify(ctx, issued.Plaintext[len(keyScheme):])
		require.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := auth.Verify(ctx, issued.Plaintext[:len(keyScheme)+prefixLen])
		require.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("unknown prefix", func(t *testing.T) {
		mutated := []byte(issued.Plaintext)
		mutated[len(keyScheme)] = flipChar(mutated[len(keyScheme)])
		_, err := auth.Verify(ctx, string(mutated))
		require.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("mutated secret", func(t *testing.T) {
		mutated := []byte(issued.Plaintext)
		mutated[len(mutated)-1] = flipChar(mutated[len(mutated)-1])
		_, err := auth.Verify(ctx, string(mutated))
		require.ErrorIs(t, err, ErrInvalidKey)
	})
}

// flipChar swaps a byte for a different base58 character.
func flipChar(c byte) byte {
	if c == '2' {
		return '3'
	}
	return '2'
}

func TestVerifyRevoked(t *testing.T) {
	ctx := context.Background()
	auth, _, _ := newTestAuthenticator(t, Config{})

	admin := uuid.Must(uuid.NewV7())
	issued, err := auth.IssueKey(ctx, "short-lived", nil, nil, nil, nil, admin)
	require.NoError(t, err)

	require.NoError(t, auth.Revoke(ctx, issued.Key.KeyID, admin))

	_, err = auth.Verify(ctx, issued.Plaintext)
	require.ErrorIs(t, err, ErrInvalidKey)

	// Revocation is idempotent.
	require.NoError(t, auth.Revoke(ctx, issued.Key.KeyID, admin))
}

func TestVerifyExpired(t *testing.T) {
	ctx := context.Background()
	auth, _, clk := newTestAuthenticator(t, Config{})

	expiresAt := testStart.Add(time.Hour)
	issued, err := auth.IssueKey(ctx, "short-lived", nil, nil, nil, &expiresAt, uuid.Must(uuid.NewV7()))
	require.NoError(t, err)

	_, err = auth.Verify(ctx, issued.Plaintext)
	require.NoError(t, err)

	clk.Set(expiresAt)
	_, err = auth.Verify(ctx, issued.Plaintext)
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestRateLimitExactBudget(t *testing.T) {
	ctx := context.Background()
	auth, _, clk := newTestAuthenticator(t, Config{RateLimitWindow: time.Minute})

	limit := int64(5)
	issued, err := auth.IssueKey(ctx, "limited", nil, nil, &limit, nil, uuid.Must(uuid.NewV7()))
	require.NoError(t, err)

	// N concurrent requests against a budget of L admit exactly L.
	const workers = 20
	results := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := auth.VerifyAndConsume(ctx, issued.Plaintext)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var allowed, limited int
	for err := range results {
		switch {
		case err == nil:
			allowed++
		default:
			require.ErrorIs(t, err, ErrRateLimited)
			limited++
		}
	}
	require.Equal(t, int(limit), allowed)
	require.Equal(t, workers-int(limit), limited)

	// The next window restores the full budget.
	clk.Advance(time.Minute)
	for i := int64(0); i < limit; i++ {
		_, err := auth.VerifyAndConsume(ctx, issued.Plaintext)
		require.NoError(t, err)
	}
	_, err = auth.VerifyAndConsume(ctx, issued.Plaintext)
	require.ErrorIs(t, err, ErrRateLimited)
}

func TestUnlimitedKey(t *testing.T) {
	ctx := context.Background()
	auth, _, _ := newTestAuthenticator(t, Config{})

	issued, err := auth.IssueKey(ctx, "unlimited", nil, nil, nil, nil, uuid.Must(uuid.NewV7()))
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		_, err := auth.VerifyAndConsume(ctx, issued.Plaintext)
		require.NoError(t, err)
	}

	key, err := auth.Verify(ctx, issued.Plaintext)
	require.NoError(t, err)
	require.Equal(t, int64(100), key.UsageCount)
	require.NotNil(t, key.LastUsedAt)
}
