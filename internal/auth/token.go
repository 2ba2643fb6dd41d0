package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// IssueHMACToken creates an HS256 token for subject scoped to tenantID. A nil
// tenantID issues an unscoped administrative token.
func IssueHMACToken(secret []byte, subject string, tenantID uuid.UUID, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", ErrMissingKey
	}
	return sign(jwt.SigningMethodHS256, secret, subject, tenantID, ttl)
}

// IssueECToken creates an ES256 token. signingKeyPEM is the PEM-encoded ECDSA
// private key.
func IssueECToken(signingKeyPEM string, subject string, tenantID uuid.UUID, ttl time.Duration) (string, error) {
	if signingKeyPEM == "" {
		return "", errors.New("signing key not provided")
	}
	signingKey, err := jwt.ParseECPrivateKeyFromPEM([]byte(signingKeyPEM))
	if err != nil {
		return "", err
	}
	return sign(jwt.SigningMethodES256, signingKey, subject, tenantID, ttl)
}

func sign(method jwt.SigningMethod, key any, subject string, tenantID uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    Issuer,
		},
	}
	if tenantID != uuid.Nil {
		claims.TenantID = tenantID.String()
	}

	return jwt.NewWithClaims(method, claims).SignedString(key)
}
