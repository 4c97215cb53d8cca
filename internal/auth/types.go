package auth

import (
	"context"
	"errors"
	"time"
)

// TokenType values carried on a resolved Principal.
const (
	TokenTypeAPIKey = "api_key"
	TokenTypeBearer = "bearer"
)

// ErrNoCredentials is returned when a connection presents nothing to
// validate.
var ErrNoCredentials = errors.New("no credentials presented")

// Credential is one stored API key. The key itself never persists; only its
// bcrypt hash does, indexed by the printable prefix.
type Credential struct {
	Name      string     `json:"name"`
	KeyPrefix string     `json:"key_prefix"`
	KeyHash   string     `json:"key_hash"`
	Teams     []string   `json:"teams,omitempty"`
	Disabled  bool       `json:"disabled"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Expired reports whether the credential has an expiry in the past.
func (c *Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// Principal is the caller identity a validated credential resolves to.
// API keys use their prefix as the subject; bearer tokens use the sub claim.
type Principal struct {
	Subject   string   `json:"subject"`
	Name      string   `json:"name"`
	Teams     []string `json:"teams,omitempty"`
	TokenType string   `json:"token_type"`
}

// Validator checks presented credentials and resolves the caller. The
// session bind calls exactly one of these per connection.
type Validator interface {
	ValidateAPIKey(ctx context.Context, key string) (*Principal, error)
	ValidateBearer(ctx context.Context, token string) (*Principal, error)
}
