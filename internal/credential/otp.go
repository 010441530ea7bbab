package credential

import (
	"time"

	"github.com/pquerna/otp/totp"
)

// VerifyOtp reports whether code is a valid TOTP code for the secret at the
// given instant. The underlying comparison is constant-time.
func VerifyOtp(secret, code string, at time.Time) bool {
	if secret == "" || code == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, at, totp.ValidateOpts{
		Period: 30,
		Skew:   1,
		Digits: 6,
	})
	return err == nil && ok
}
