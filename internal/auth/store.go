package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var credentialBucket = []byte("credentials")

// Store persists credentials in a bbolt file keyed by key prefix. bbolt
// serializes writers, so seed reloads and mints never interleave.
type Store struct {
	db     *bbolt.DB
	logger *zap.Logger
}

// OpenStore opens (creating if needed) the credential database at path.
func OpenStore(path string, logger *zap.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open credential store %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(credentialBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create credential bucket: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put writes one credential, overwriting any record under the same prefix.
func (s *Store) Put(cred Credential) error {
	if cred.KeyPrefix == "" {
		return fmt.Errorf("credential %q has no key prefix", cred.Name)
	}
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshal credential %q: %w", cred.Name, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(credentialBucket).Put([]byte(cred.KeyPrefix), data)
	})
}

// Lookup fetches the credential stored under prefix.
func (s *Store) Lookup(prefix string) (Credential, bool, error) {
	var cred Credential
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(credentialBucket).Get([]byte(prefix))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &cred)
	})
	if err != nil {
		return Credential{}, false, fmt.Errorf("lookup credential %s: %w", prefix, err)
	}
	return cred, found, nil
}

// Delete removes the credential under prefix. Missing prefixes are a no-op.
func (s *Store) Delete(prefix string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(credentialBucket).Delete([]byte(prefix))
	})
}

// List returns every stored credential.
func (s *Store) List() ([]Credential, error) {
	var creds []Credential
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(credentialBucket).ForEach(func(_, v []byte) error {
			var cred Credential
			if err := json.Unmarshal(v, &cred); err != nil {
				return err
			}
			creds = append(creds, cred)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return creds, nil
}

// ReplaceAll swaps the full credential set in one transaction, so readers
// never observe a partially applied seed.
func (s *Store) ReplaceAll(creds []Credential) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(credentialBucket); err != nil {
			return err
		}
		b, err := tx.CreateBucket(credentialBucket)
		if err != nil {
			return err
		}
		for _, cred := range creds {
			if cred.KeyPrefix == "" {
				return fmt.Errorf("credential %q has no key prefix", cred.Name)
			}
			data, err := json.Marshal(cred)
			if err != nil {
				return fmt.Errorf("marshal credential %q: %w", cred.Name, err)
			}
			if err := b.Put([]byte(cred.KeyPrefix), data); err != nil {
				return err
			}
		}
		return nil
	})
}
