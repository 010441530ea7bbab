package postgres

import (
	"context"

	"github.com/gatekeep-io/gatekeep/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Backend bundles the PostgreSQL store implementations over one pool.
type Backend struct {
	pool *pgxpool.Pool
}

// NewBackend creates a backend over an existing pool. Use NewPool to build
// one from configuration.
func NewBackend(pool *pgxpool.Pool) *Backend {
	return &Backend{pool: pool}
}

// Stores returns a fully wired PostgreSQL store bundle.
func (b *Backend) Stores() store.Stores {
	return store.Stores{
		Principals:    NewPrincipalStore(b.pool),
		Sessions:      NewSessionStore(b.pool),
		Roles:         NewRoleStore(b.pool),
		Grants:        NewGrantStore(b.pool),
		Invitations:   NewInvitationStore(b.pool),
		ApiKeys:       NewApiKeyStore(b.pool),
		Audit:         NewAuditStore(b.pool),
		LoginAttempts: NewLoginAttemptStore(b.pool),
		ResetTickets:  NewResetTicketStore(b.pool),
	}
}

// Ping reports database connectivity.
func (b *Backend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

// Close releases the underlying pool.
func (b *Backend) Close() {
	b.pool.Close()
}
