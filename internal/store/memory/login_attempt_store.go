package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/gatekeep-io/gatekeep/internal/models"
)

// LoginAttemptStore implements store.LoginAttemptStore using in-memory
// storage. Attempts are append-only.
type LoginAttemptStore struct {
	mu sync.Mutex

	attempts []*models.LoginAttempt
}

// NewLoginAttemptStore creates a new in-memory login attempt store.
func NewLoginAttemptStore() *LoginAttemptStore {
	return &LoginAttemptStore{}
}

// Append writes one attempt record.
func (s *LoginAttemptStore) Append(ctx context.Context, attempt *models.LoginAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *attempt
	s.attempts = append(s.attempts, &clone)
	return nil
}

// ListByEmail returns up to limit attempts for an email, newest first.
func (s *LoginAttemptStore) ListByEmail(ctx context.Context, email string, limit int) ([]*models.LoginAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = strings.ToLower(email)
	var result []*models.LoginAttempt
	for i := len(s.attempts) - 1; i >= 0; i-- {
		if limit > 0 && len(result) >= limit {
			break
		}
		if strings.ToLower(s.attempts[i].Email) == email {
			clone := *s.attempts[i]
			result = append(result, &clone)
		}
	}
	return result, nil
}
