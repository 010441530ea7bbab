package session

import (
	"crypto/rand"
	"fmt"

	"github.com/mr-tron/base58"
)

const tokenBytes = 32

// newToken returns a high-entropy opaque token. Uniqueness is enforced by
// the store's unique constraints, not here.
func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base58.Encode(buf), nil
}
