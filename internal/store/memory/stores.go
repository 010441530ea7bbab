package memory

import "github.com/gatekeep-io/gatekeep/internal/store"

// NewStores returns a fully wired in-memory store bundle.
func NewStores() store.Stores {
	return store.Stores{
		Principals:    NewPrincipalStore(),
		Sessions:      NewSessionStore(),
		Roles:         NewRoleStore(),
		Grants:        NewGrantStore(),
		Invitations:   NewInvitationStore(),
		ApiKeys:       NewApiKeyStore(),
		Audit:         NewAuditStore(),
		LoginAttempts: NewLoginAttemptStore(),
		ResetTickets:  NewResetTicketStore(),
	}
}
