package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/wolfeidau/stockroom/internal/auth"
)

type TokenCmd struct {
	Subject          string        `help:"subject recorded in audit fields" default:"clerk@localhost"`
	Tenant           string        `help:"tenant id to embed, empty for an administrative token"`
	TTL              time.Duration `help:"token lifetime" default:"1h"`
	JWTSecret        string        `help:"HMAC secret used to sign the token" env:"STOCKROOM_JWT_SECRET"`
	JWTSigningKeyPEM string        `help:"path to an ECDSA private key (PEM) used to sign the token" type:"path" env:"STOCKROOM_JWT_SIGNING_KEY"`
}

func (c *TokenCmd) Run(_ context.Context, _ *Globals) error {
	tenantID := uuid.Nil
	if c.Tenant != "" {
		id, err := uuid.Parse(c.Tenant)
		if err != nil {
			return fmt.Errorf("invalid tenant id: %w", err)
		}
		tenantID = id
	}

	var (
		token string
		err   error
	)
	switch {
	case c.JWTSigningKeyPEM != "":
		data, rerr := os.ReadFile(c.JWTSigningKeyPEM)
		if rerr != nil {
			return fmt.Errorf("failed to read signing key: %w", rerr)
		}
		token, err = auth.IssueECToken(string(data), c.Subject, tenantID, c.TTL)
	case c.JWTSecret != "":
		token, err = auth.IssueHMACToken([]byte(c.JWTSecret), c.Subject, tenantID, c.TTL)
	default:
		return errors.New("either --jwt-secret or --jwt-signing-key-pem is required")
	}
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	fmt.Println(token)
	return nil
}
