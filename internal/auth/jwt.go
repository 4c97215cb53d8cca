package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/gantry-project/gantry/internal/faults"
)

// Claims is the bearer token payload: registered claims plus the client
// name and team memberships Gantry scopes policy decisions by.
type Claims struct {
	jwt.RegisteredClaims
	Name  string   `json:"name,omitempty"`
	Teams []string `json:"teams,omitempty"`
}

// JWTVerifier validates HS256 bearer tokens minted for this server.
type JWTVerifier struct {
	signingKey []byte
	issuer     string
}

// NewJWTVerifier builds a verifier for the given shared secret and issuer.
func NewJWTVerifier(secret, issuer string) *JWTVerifier {
	return &JWTVerifier{signingKey: []byte(secret), issuer: issuer}
}

// Enabled reports whether a signing secret is configured.
func (j *JWTVerifier) Enabled() bool {
	return len(j.signingKey) > 0
}

// Verify parses and validates token, returning the resolved principal.
func (j *JWTVerifier) Verify(token string) (*Principal, error) {
	if !j.Enabled() {
		return nil, faults.Unauthorized("bearer tokens are not enabled")
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return j.signingKey, nil
	})
	if err != nil {
		return nil, faults.Unauthorized("invalid bearer token: %v", err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, faults.Unauthorized("invalid bearer token")
	}
	if j.issuer != "" && claims.Issuer != j.issuer {
		return nil, faults.Unauthorized("unexpected token issuer %q", claims.Issuer)
	}
	if claims.Subject == "" {
		return nil, faults.Unauthorized("bearer token has no subject")
	}
	name := claims.Name
	if name == "" {
		name = claims.Subject
	}
	return &Principal{
		Subject:   claims.Subject,
		Name:      name,
		Teams:     claims.Teams,
		TokenType: TokenTypeBearer,
	}, nil
}

// Mint signs a token for subject. Used by operator tooling and tests; the
// server itself only verifies.
func (j *JWTVerifier) Mint(subject, name string, teams []string, ttl time.Duration) (string, error) {
	if !j.Enabled() {
		return "", fmt.Errorf("no signing secret configured")
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
		Name:  name,
		Teams: teams,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.signingKey)
}

// ExtractBearerToken strips the Bearer scheme from an Authorization header.
func ExtractBearerToken(authHeader string) (string, error) {
	if len(authHeader) < 7 || authHeader[:7] != "Bearer " {
		return "", fmt.Errorf("invalid authorization header format")
	}
	return authHeader[7:], nil
}
