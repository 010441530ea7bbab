package invite

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// linkSigner wraps invitation tokens in signed JWTs so acceptance URLs are
// tamper-evident and carry their own expiry.
type linkSigner struct {
	key []byte
}

func (s linkSigner) sign(invitationToken string, expiresAt time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   invitationToken,
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

func (s linkSigner) parse(link string, now time.Time) (string, error) {
	parsed, err := jwt.ParseWithClaims(link, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("invalid signing method")
		}
		return s.key, nil
	}, jwt.WithTimeFunc(func() time.Time { return now }))
	if err != nil {
		return "", err
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", errors.New("invalid claims")
	}
	return claims.Subject, nil
}
