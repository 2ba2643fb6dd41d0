package auth

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is the iss claim of tokens issued by IssueToken.
const Issuer = "stockroom"

var (
	ErrMissingKey   = errors.New("JWT verification key not provided")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims are the registered claims plus the tenant the token is scoped to.
type Claims struct {
	TenantID string `json:"tenant_id,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens signed with a single key.
type Verifier struct {
	key     any
	methods []string
	issuer  string
}

// NewHMACVerifier verifies HS256 tokens signed with secret.
func NewHMACVerifier(secret []byte) (*Verifier, error) {
	if len(secret) == 0 {
		return nil, ErrMissingKey
	}
	return &Verifier{key: secret, methods: []string{jwt.SigningMethodHS256.Alg()}, issuer: Issuer}, nil
}

// NewECVerifierFromPEM verifies ES256 tokens against a PEM encoded public key.
func NewECVerifierFromPEM(publicKeyPEM string) (*Verifier, error) {
	if publicKeyPEM == "" {
		return nil, ErrMissingKey
	}

	publicKey, err := jwt.ParseECPublicKeyFromPEM([]byte(publicKeyPEM))
	if err != nil {
		return nil, err
	}

	return newECVerifier(publicKey), nil
}

func newECVerifier(publicKey *ecdsa.PublicKey) *Verifier {
	return &Verifier{key: publicKey, methods: []string{jwt.SigningMethodES256.Alg()}, issuer: Issuer}
}

// Verify parses tokenString, checking signature, algorithm, issuer and expiry.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return v.key, nil
	},
		jwt.WithValidMethods(v.methods),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
