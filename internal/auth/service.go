// Package auth validates the credentials clients present at connect time:
// gk_ API keys checked against a bbolt store of bcrypt hashes, and HS256
// bearer tokens checked against a shared secret. The store is fed from a
// yaml seed file that hot-reloads on change.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/gantry-project/gantry/internal/config"
	"github.com/gantry-project/gantry/internal/faults"
	"github.com/gantry-project/gantry/internal/metrics"
)

const (
	// Printable key shape: "gk_" + 64 hex characters. The first eight
	// characters are the non-secret prefix that indexes the store.
	KeyScheme = "gk_"
	keyBytes  = 32
	prefixLen = 8
)

// MintKey generates a fresh API key and the credential record to persist.
// The plaintext key is returned exactly once and never stored.
func MintKey(name string, teams []string, expiresAt *time.Time) (string, Credential, error) {
	b := make([]byte, keyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", Credential{}, fmt.Errorf("generate key material: %w", err)
	}
	key := KeyScheme + hex.EncodeToString(b)
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", Credential{}, fmt.Errorf("hash key: %w", err)
	}
	return key, Credential{
		Name:      name,
		KeyPrefix: key[:prefixLen],
		KeyHash:   string(hash),
		Teams:     teams,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Service resolves presented credentials to principals.
type Service struct {
	store  *Store
	jwt    *JWTVerifier
	logger *zap.Logger

	seedPath string
	watcher  *seedWatcher

	// Compared against on prefix misses so unknown keys cost the same as
	// mismatched ones.
	decoyHash []byte
}

var _ Validator = (*Service)(nil)

// NewService builds the validator. Call LoadSeed and WatchSeed afterwards
// to populate and track the seed file.
func NewService(cfg config.AuthConfig, store *Store, logger *zap.Logger) (*Service, error) {
	decoy, err := bcrypt.GenerateFromPassword([]byte("gantry-decoy-credential"), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("prepare decoy hash: %w", err)
	}
	return &Service{
		store:     store,
		jwt:       NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer),
		logger:    logger,
		seedPath:  cfg.SeedFile,
		decoyHash: decoy,
	}, nil
}

// ValidateAPIKey checks a gk_ key against the store.
func (s *Service) ValidateAPIKey(ctx context.Context, key string) (*Principal, error) {
	if !strings.HasPrefix(key, KeyScheme) || len(key) < prefixLen {
		metrics.AuthFailures.WithLabelValues(TokenTypeAPIKey).Inc()
		return nil, faults.Unauthorized("malformed API key")
	}
	cred, found, err := s.store.Lookup(key[:prefixLen])
	if err != nil {
		return nil, faults.Internal(err)
	}
	if !found {
		bcrypt.CompareHashAndPassword(s.decoyHash, []byte(key))
		metrics.AuthFailures.WithLabelValues(TokenTypeAPIKey).Inc()
		return nil, faults.Unauthorized("unknown API key")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.KeyHash), []byte(key)); err != nil {
		metrics.AuthFailures.WithLabelValues(TokenTypeAPIKey).Inc()
		return nil, faults.Unauthorized("unknown API key")
	}
	if cred.Disabled {
		metrics.AuthFailures.WithLabelValues(TokenTypeAPIKey).Inc()
		return nil, faults.Unauthorized("API key %s is disabled", cred.KeyPrefix)
	}
	if cred.Expired(time.Now()) {
		metrics.AuthFailures.WithLabelValues(TokenTypeAPIKey).Inc()
		return nil, faults.Unauthorized("API key %s is expired", cred.KeyPrefix)
	}
	return &Principal{
		Subject:   cred.KeyPrefix,
		Name:      cred.Name,
		Teams:     cred.Teams,
		TokenType: TokenTypeAPIKey,
	}, nil
}

// ValidateBearer checks an HS256 bearer token.
func (s *Service) ValidateBearer(ctx context.Context, token string) (*Principal, error) {
	principal, err := s.jwt.Verify(token)
	if err != nil {
		metrics.AuthFailures.WithLabelValues(TokenTypeBearer).Inc()
		return nil, err
	}
	return principal, nil
}

// LoadSeed reads the seed file and replaces the stored credential set.
func (s *Service) LoadSeed() error {
	if s.seedPath == "" {
		return nil
	}
	creds, err := loadSeed(s.seedPath)
	if err != nil {
		return err
	}
	if err := s.store.ReplaceAll(creds); err != nil {
		return err
	}
	s.logger.Info("Credential seed loaded",
		zap.String("path", s.seedPath),
		zap.Int("keys", len(creds)))
	return nil
}

// WatchSeed starts reloading the seed whenever the file changes. A reload
// that fails to parse keeps the last good credential set.
func (s *Service) WatchSeed() error {
	if s.seedPath == "" {
		return nil
	}
	w, err := newSeedWatcher(s.seedPath, s.logger, func() {
		if err := s.LoadSeed(); err != nil {
			s.logger.Error("Seed reload failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	s.watcher = w
	return nil
}

// Close stops the seed watcher, if one is running.
func (s *Service) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
