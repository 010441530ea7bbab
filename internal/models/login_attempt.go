package models

import (
	"time"

	"github.com/google/uuid"
)

// Failure reasons recorded on login attempts. These stay internal: callers
// always see the coarse invalid-credentials error, the precise cause lives
// only here and in the audit trail.
const (
	FailReasonUnknownEmail = "unknown_email"
	FailReasonBadPassword  = "bad_password"
	FailReasonBadOTP       = "bad_otp"
	FailReasonOTPRequired  = "otp_required"
	FailReasonLocked       = "locked"
	FailReasonSuspended    = "suspended"
	FailReasonThrottled    = "throttled"
)

// LoginAttempt is an immutable record of one authentication attempt.
type LoginAttempt struct {
	AttemptID   uuid.UUID  // UUIDv7
	Email       string
	PrincipalID *uuid.UUID // nil when the email matched no principal

	Success    bool
	FailReason string // empty on success

	IPAddress string
	UserAgent string

	CreatedAt time.Time
}
