// Package session implements the session lifecycle: authentication, token
// issuance, refresh, lookup and revocation. Lookups never trust a swept
// state; expiry and revocation are evaluated on every read.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gatekeep-io/gatekeep/internal/audit"
	"github.com/gatekeep-io/gatekeep/internal/clock"
	"github.com/gatekeep-io/gatekeep/internal/credential"
	"github.com/gatekeep-io/gatekeep/internal/metrics"
	"github.com/gatekeep-io/gatekeep/internal/models"
	"github.com/gatekeep-io/gatekeep/internal/notify"
	"github.com/gatekeep-io/gatekeep/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Coarse external errors. Callers never learn whether an email exists, a
// password was wrong, or an account is locked; the precise cause is kept in
// LoginAttempt records and the audit trail only.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrLocked             = fmt.Errorf("%w: account locked", ErrInvalidCredentials)
	ErrThrottled          = errors.New("too many attempts")

	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrSessionRevoked  = errors.New("session revoked")

	// ErrInvalidSession covers refresh failures: unknown, revoked or
	// expired refresh tokens all look the same to the caller.
	ErrInvalidSession = errors.New("invalid session")

	// ErrExhausted means the bounded token-generation retry budget was
	// spent on uniqueness collisions.
	ErrExhausted = errors.New("token generation attempts exhausted")
)

// DeviceMeta carries device/network metadata recorded on sessions and
// login attempts.
type DeviceMeta struct {
	UserAgent string
	IPAddress string
}

// Config holds session manager tunables.
type Config struct {
	// SessionTTL is the lifetime of a new session.
	SessionTTL time.Duration

	// LockoutThreshold is the failed-login count that triggers a lockout.
	LockoutThreshold int

	// LockoutDuration is how long a locked account stays locked.
	LockoutDuration time.Duration

	// TokenAttempts bounds retries when a generated token collides.
	TokenAttempts int

	// ResetTTL is the lifetime of a password reset ticket.
	ResetTTL time.Duration

	// LoginRate and LoginBurst throttle authentication attempts per email
	// in-process, in front of the persisted failed-login counter.
	LoginRate  rate.Limit
	LoginBurst int
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *Config) ApplyDefaults() {
	if c.SessionTTL == 0 {
		c.SessionTTL = 24 * time.Hour
	}
	if c.LockoutThreshold == 0 {
		c.LockoutThreshold = 5
	}
	if c.LockoutDuration == 0 {
		c.LockoutDuration = 15 * time.Minute
	}
	if c.TokenAttempts == 0 {
		c.TokenAttempts = 5
	}
	if c.ResetTTL == 0 {
		c.ResetTTL = time.Hour
	}
	if c.LoginRate == 0 {
		c.LoginRate = rate.Every(time.Second)
	}
	if c.LoginBurst == 0 {
		c.LoginBurst = 10
	}
}

// Manager issues, refreshes, looks up and revokes sessions.
type Manager struct {
	principals store.PrincipalStore
	sessions   store.SessionStore
	attempts   store.LoginAttemptStore
	tickets    store.ResetTicketStore

	verifier credential.Verifier
	recorder *audit.Recorder
	notifier notify.Notifier
	clock    clock.Clock
	logger   zerolog.Logger
	cfg      Config

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter // email -> limiter
}

// NewManager creates a session manager.
func NewManager(stores store.Stores, verifier credential.Verifier, recorder *audit.Recorder, notifier notify.Notifier, clk clock.Clock, logger zerolog.Logger, cfg Config) *Manager {
	cfg.ApplyDefaults()
	return &Manager{
		principals: stores.Principals,
		sessions:   stores.Sessions,
		attempts:   stores.LoginAttempts,
		tickets:    stores.ResetTickets,
		verifier:   verifier,
		recorder:   recorder,
		notifier:   notifier,
		clock:      clk,
		logger:     logger.With().Str("component", "session").Logger(),
		cfg:        cfg,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// RegisterPrincipal creates a new principal with a hashed password. This is
// also the principal-creation hook used by the invitation workflow.
func (m *Manager) RegisterPrincipal(ctx context.Context, email, name, password string) (*models.Principal, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, errors.New("valid email is required")
	}

	hash := ""
	if password != "" {
		var err error
		hash, err = credential.HashPassword(password)
		if err != nil {
			return nil, err
		}
	}

	now := m.clock.Now()
	principal := &models.Principal{
		PrincipalID:  uuid.Must(uuid.NewV7()),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// Audit before the insert so a partial failure never leaves a
	// principal without a trace.
	m.recorder.Record(ctx, audit.Event{
		Action:     "principal.create",
		Resource:   "principal",
		ResourceID: principal.PrincipalID.String(),
		After:      map[string]any{"email": email},
		Severity:   models.AuditInfo,
	})

	if err := m.principals.Create(ctx, principal); err != nil {
		return nil, err
	}
	return principal, nil
}

// Authenticate verifies credentials for an email and returns the principal.
// Every attempt, success or failure, writes a LoginAttempt record with the
// internal failure reason.
func (m *Manager) Authenticate(ctx context.Context, email, password, otp string, meta DeviceMeta) (*models.Principal, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	now := m.clock.Now()

	if !m.limiter(email).Allow() {
		metrics.LoginAttempts.WithLabelValues("throttled").Inc()
		m.logAttempt(ctx, email, nil, false, models.FailReasonThrottled, meta, now)
		return nil, ErrThrottled
	}

	principal, err := m.principals.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrPrincipalNotFound) {
			metrics.LoginAttempts.WithLabelValues("failure").Inc()
			m.logAttempt(ctx, email, nil, false, models.FailReasonUnknownEmail, meta, now)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	if principal.Suspended || principal.IsDeleted() {
		metrics.LoginAttempts.WithLabelValues("failure").Inc()
		m.logAttempt(ctx, email, &principal.PrincipalID, false, models.FailReasonSuspended, meta, now)
		return nil, ErrInvalidCredentials
	}

	if principal.IsLocked(now) {
		metrics.LoginAttempts.WithLabelValues("locked").Inc()
		m.logAttempt(ctx, email, &principal.PrincipalID, false, models.FailReasonLocked, meta, now)
		return nil, ErrLocked
	}

	if !m.verifier.VerifyPassword(principal.PasswordHash, password) {
		return nil, m.failLogin(ctx, principal, models.FailReasonBadPassword, meta, now)
	}

	if principal.TwoFactorSecret != nil {
		if otp == "" {
			metrics.LoginAttempts.WithLabelValues("failure").Inc()
			m.logAttempt(ctx, email, &principal.PrincipalID, false, models.FailReasonOTPRequired, meta, now)
			return nil, ErrInvalidCredentials
		}
		if !m.verifier.VerifyOtp(*principal.TwoFactorSecret, otp, now) {
			return nil, m.failLogin(ctx, principal, models.FailReasonBadOTP, meta, now)
		}
	}

	if err := m.principals.ResetFailedLogins(ctx, principal.PrincipalID); err != nil {
		m.logger.Warn().Err(err).Str("principal_id", principal.PrincipalID.String()).Msg("failed to reset login counter")
	}
	principal.FailedLoginCount = 0
	principal.LockedUntil = nil

	metrics.LoginAttempts.WithLabelValues("success").Inc()
	m.logAttempt(ctx, email, &principal.PrincipalID, true, "", meta, now)
	return principal, nil
}

// failLogin increments the persisted failed-login counter and applies the
// lockout once past the threshold. The lockout audit entry is on the
// critical path: the lockout does not complete until it is written.
func (m *Manager) failLogin(ctx context.Context, principal *models.Principal, reason string, meta DeviceMeta, now time.Time) error {
	metrics.LoginAttempts.WithLabelValues("failure").Inc()
	m.logAttempt(ctx, principal.Email, &principal.PrincipalID, false, reason, meta, now)

	count, err := m.principals.IncrementFailedLogins(ctx, principal.PrincipalID)
	if err != nil {
		m.logger.Error().Err(err).Str("principal_id", principal.PrincipalID.String()).Msg("failed to increment login counter")
		return ErrInvalidCredentials
	}

	if count < m.cfg.LockoutThreshold {
		return ErrInvalidCredentials
	}

	until := now.Add(m.cfg.LockoutDuration)
	if err := m.principals.SetLockedUntil(ctx, principal.PrincipalID, &until); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	if err := m.recorder.RecordCritical(ctx, audit.Event{
		Action:     "principal.lockout",
		Resource:   "principal",
		ResourceID: principal.PrincipalID.String(),
		After:      map[string]any{"locked_until": until, "failed_count": count},
		Severity:   models.AuditWarning,
		Metadata:   map[string]string{"reason": reason},
	}); err != nil {
		return err
	}

	if err := m.notifier.Send(ctx, notify.TemplateLockoutNotice, principal.Email, map[string]string{
		"locked_until": until.Format(time.RFC3339),
	}); err != nil {
		m.logger.Warn().Err(err).Msg("lockout notice delivery failed")
	}

	return ErrLocked
}

// CreateSession issues a new session for the principal. Token uniqueness is
// enforced by the store insert; collisions are retried up to the configured
// budget, then surface as ErrExhausted.
func (m *Manager) CreateSession(ctx context.Context, principalID uuid.UUID, meta DeviceMeta) (*models.Session, error) {
	principal, err := m.principals.Get(ctx, principalID)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	sessionID := uuid.Must(uuid.NewV7())

	// Audit before the insert: a partially-failed create may leave an
	// audit trace without a session, never the reverse.
	m.recorder.Record(ctx, audit.Event{
		Actor:      &principalID,
		Action:     "session.create",
		Resource:   "session",
		ResourceID: sessionID.String(),
		Severity:   models.AuditInfo,
		Metadata:   map[string]string{"ip": meta.IPAddress},
	})

	for attempt := 0; attempt < m.cfg.TokenAttempts; attempt++ {
		accessToken, err := newToken()
		if err != nil {
			return nil, err
		}
		refreshToken, err := newToken()
		if err != nil {
			return nil, err
		}
		if accessToken == refreshToken {
			continue
		}

		session := &models.Session{
			SessionID:      sessionID,
			PrincipalID:    principalID,
			AccessToken:    accessToken,
			RefreshToken:   refreshToken,
			UserAgent:      meta.UserAgent,
			IPAddress:      meta.IPAddress,
			CreatedAt:      now,
			LastActivityAt: now,
			ExpiresAt:      now.Add(m.cfg.SessionTTL),
		}

		err = m.sessions.Create(ctx, session)
		if err == nil {
			m.logAttempt(ctx, principal.Email, &principalID, true, "", meta, now)
			return session, nil
		}
		if !errors.Is(err, store.ErrTokenExists) {
			return nil, err
		}
		m.logger.Warn().Int("attempt", attempt+1).Msg("session token collision, regenerating")
	}

	return nil, ErrExhausted
}

// Refresh rotates the access token for the session identified by the
// refresh token. The refresh token itself is not rotated.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (string, error) {
	session, err := m.sessions.GetByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return "", ErrInvalidSession
		}
		return "", fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	now := m.clock.Now()
	if session.Rejected(now) {
		return "", ErrInvalidSession
	}

	for attempt := 0; attempt < m.cfg.TokenAttempts; attempt++ {
		accessToken, err := newToken()
		if err != nil {
			return "", err
		}

		err = m.sessions.RotateAccessToken(ctx, session.SessionID, accessToken, now)
		if err == nil {
			return accessToken, nil
		}
		if errors.Is(err, store.ErrSessionNotFound) {
			return "", ErrInvalidSession
		}
		if !errors.Is(err, store.ErrTokenExists) {
			return "", err
		}
	}

	return "", ErrExhausted
}

// Lookup resolves an access token to a live session. This is the hot path;
// expired and revoked sessions are rejected here even if never swept.
func (m *Manager) Lookup(ctx context.Context, accessToken string) (*models.Session, error) {
	session, err := m.sessions.GetByAccessToken(ctx, accessToken)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			metrics.SessionLookups.WithLabelValues("not_found").Inc()
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	if session.Revoked {
		metrics.SessionLookups.WithLabelValues("revoked").Inc()
		return nil, ErrSessionRevoked
	}
	if session.IsExpired(m.clock.Now()) {
		metrics.SessionLookups.WithLabelValues("expired").Inc()
		return nil, ErrSessionExpired
	}

	metrics.SessionLookups.WithLabelValues("ok").Inc()
	return session, nil
}

// Revoke terminates a session. Idempotent: revoking an already-revoked
// session succeeds without error.
func (m *Manager) Revoke(ctx context.Context, sessionID uuid.UUID, revokedBy uuid.UUID) error {
	err := m.sessions.Revoke(ctx, sessionID, revokedBy, m.clock.Now())
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		return err
	}

	m.recorder.Record(ctx, audit.Event{
		Actor:      &revokedBy,
		Action:     "session.revoke",
		Resource:   "session",
		ResourceID: sessionID.String(),
		Severity:   models.AuditInfo,
	})
	return nil
}

// RevokeAllForPrincipal revokes every active session for the principal,
// optionally sparing the caller's own. Used on password change and
// suspected compromise.
func (m *Manager) RevokeAllForPrincipal(ctx context.Context, principalID uuid.UUID, exceptSessionID *uuid.UUID, revokedBy uuid.UUID) (int, error) {
	count, err := m.sessions.RevokeAllForPrincipal(ctx, principalID, exceptSessionID, revokedBy, m.clock.Now())
	if err != nil {
		return 0, err
	}

	m.recorder.Record(ctx, audit.Event{
		Actor:      &revokedBy,
		Action:     "session.revoke_all",
		Resource:   "principal",
		ResourceID: principalID.String(),
		After:      map[string]any{"revoked": count},
		Severity:   models.AuditWarning,
	})
	return count, nil
}

// StartPasswordReset issues a single-use reset ticket and sends it to the
// email. The result is identical whether or not the email exists, so the
// operation leaks nothing.
func (m *Manager) StartPasswordReset(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	principal, err := m.principals.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrPrincipalNotFound) {
			return nil
		}
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	now := m.clock.Now()
	token, err := newToken()
	if err != nil {
		return err
	}

	ticket := &models.PasswordResetTicket{
		TicketID:    uuid.Must(uuid.NewV7()),
		PrincipalID: principal.PrincipalID,
		Token:       token,
		ExpiresAt:   now.Add(m.cfg.ResetTTL),
		CreatedAt:   now,
	}
	if err := m.tickets.Create(ctx, ticket); err != nil {
		return err
	}

	m.recorder.Record(ctx, audit.Event{
		Actor:      &principal.PrincipalID,
		Action:     "password.reset_start",
		Resource:   "principal",
		ResourceID: principal.PrincipalID.String(),
		Severity:   models.AuditInfo,
	})

	if err := m.notifier.Send(ctx, notify.TemplatePasswordReset, email, map[string]string{
		"token":      token,
		"expires_at": ticket.ExpiresAt.Format(time.RFC3339),
	}); err != nil {
		m.logger.Warn().Err(err).Msg("password reset delivery failed")
	}
	return nil
}

// CompletePasswordReset consumes a reset ticket, rehashes the password and
// revokes all sessions for the principal. The ticket is single-use: the
// used flag flips via compare-and-set, so exactly one concurrent caller can
// win.
func (m *Manager) CompletePasswordReset(ctx context.Context, token, newPassword string) error {
	ticket, err := m.tickets.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrTicketNotFound) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	now := m.clock.Now()
	if !ticket.Usable(now) {
		return ErrInvalidCredentials
	}

	if err := m.tickets.MarkUsed(ctx, ticket.TicketID, now); err != nil {
		if errors.Is(err, store.ErrTicketUsed) {
			return ErrInvalidCredentials
		}
		return err
	}

	hash, err := credential.HashPassword(newPassword)
	if err != nil {
		return err
	}

	principal, err := m.principals.Get(ctx, ticket.PrincipalID)
	if err != nil {
		return err
	}
	principal.PasswordHash = hash
	principal.UpdatedAt = now
	if err := m.principals.Update(ctx, principal); err != nil {
		return err
	}

	m.recorder.Record(ctx, audit.Event{
		Actor:      &principal.PrincipalID,
		Action:     "password.reset_complete",
		Resource:   "principal",
		ResourceID: principal.PrincipalID.String(),
		Severity:   models.AuditWarning,
	})

	if _, err := m.RevokeAllForPrincipal(ctx, principal.PrincipalID, nil, principal.PrincipalID); err != nil {
		m.logger.Error().Err(err).Msg("failed to revoke sessions after password reset")
	}
	return nil
}

// logAttempt appends a login attempt record. Append-only and best effort.
func (m *Manager) logAttempt(ctx context.Context, email string, principalID *uuid.UUID, success bool, reason string, meta DeviceMeta, now time.Time) {
	attempt := &models.LoginAttempt{
		AttemptID:   uuid.Must(uuid.NewV7()),
		Email:       email,
		PrincipalID: principalID,
		Success:     success,
		FailReason:  reason,
		IPAddress:   meta.IPAddress,
		UserAgent:   meta.UserAgent,
		CreatedAt:   now,
	}
	if err := m.attempts.Append(ctx, attempt); err != nil {
		m.logger.Error().Err(err).Str("email", email).Msg("failed to record login attempt")
	}
}

// limiter returns the per-email login limiter, creating it on first use.
func (m *Manager) limiter(email string) *rate.Limiter {
	m.limiterMu.Lock()
	defer m.limiterMu.Unlock()

	l, ok := m.limiters[email]
	if !ok {
		l = rate.NewLimiter(m.cfg.LoginRate, m.cfg.LoginBurst)
		m.limiters[email] = l
	}
	return l
}
