package credential

import "time"

// Verifier validates password hashes and one-time codes. Stateless.
type Verifier interface {
	VerifyPassword(hash, candidate string) bool
	VerifyOtp(secret, code string, at time.Time) bool
}

// Argon2TOTP is the default Verifier: argon2id password hashes and
// RFC 6238 TOTP codes.
type Argon2TOTP struct{}

// VerifyPassword implements Verifier.
func (Argon2TOTP) VerifyPassword(hash, candidate string) bool {
	return VerifyPassword(hash, candidate)
}

// VerifyOtp implements Verifier.
func (Argon2TOTP) VerifyOtp(secret, code string, at time.Time) bool {
	return VerifyOtp(secret, code, at)
}
