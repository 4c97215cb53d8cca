package auth

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// seedFile is the operator-managed credential list. Entries carry either a
// plaintext key (hashed at load, for dev setups) or a bcrypt hash plus the
// key prefix (for checked-in seeds).
//
//	keys:
//	  - name: ci-bot
//	    key: gk_0123...            # or: hash + prefix
//	    teams: [ENG]
//	  - name: dashboard
//	    prefix: gk_89ab4
//	    hash: $2a$10$...
//	    expires_at: 2027-01-01T00:00:00Z
type seedFile struct {
	Keys []seedKey `yaml:"keys"`
}

type seedKey struct {
	Name      string     `yaml:"name"`
	Key       string     `yaml:"key"`
	Prefix    string     `yaml:"prefix"`
	Hash      string     `yaml:"hash"`
	Teams     []string   `yaml:"teams"`
	Disabled  bool       `yaml:"disabled"`
	ExpiresAt *time.Time `yaml:"expires_at"`
}

func loadSeed(path string) ([]Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var sf seedFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}

	creds := make([]Credential, 0, len(sf.Keys))
	seen := make(map[string]string, len(sf.Keys))
	for i, k := range sf.Keys {
		if k.Name == "" {
			return nil, fmt.Errorf("seed key %d has no name", i)
		}
		cred := Credential{
			Name:      k.Name,
			Teams:     k.Teams,
			Disabled:  k.Disabled,
			ExpiresAt: k.ExpiresAt,
			CreatedAt: time.Now().UTC(),
		}
		switch {
		case k.Key != "":
			if !strings.HasPrefix(k.Key, KeyScheme) || len(k.Key) < prefixLen {
				return nil, fmt.Errorf("seed key %q is not a %s key", k.Name, KeyScheme)
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(k.Key), bcrypt.DefaultCost)
			if err != nil {
				return nil, fmt.Errorf("hash seed key %q: %w", k.Name, err)
			}
			cred.KeyPrefix = k.Key[:prefixLen]
			cred.KeyHash = string(hash)
		case k.Hash != "":
			if len(k.Prefix) != prefixLen || !strings.HasPrefix(k.Prefix, KeyScheme) {
				return nil, fmt.Errorf("seed key %q: hashed entries need a %d-char %s prefix", k.Name, prefixLen, KeyScheme)
			}
			cred.KeyPrefix = k.Prefix
			cred.KeyHash = k.Hash
		default:
			return nil, fmt.Errorf("seed key %q has neither key nor hash", k.Name)
		}
		if prev, dup := seen[cred.KeyPrefix]; dup {
			return nil, fmt.Errorf("seed keys %q and %q share prefix %s", prev, k.Name, cred.KeyPrefix)
		}
		seen[cred.KeyPrefix] = k.Name
		creds = append(creds, cred)
	}
	return creds, nil
}

// seedWatcher reloads the seed when the file is rewritten. It watches the
// parent directory because editors and config mounts replace the file by
// rename, which drops a watch on the file itself.
type seedWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *zap.Logger
	reload  func()
	stopCh  chan struct{}
}

func newSeedWatcher(path string, logger *zap.Logger, reload func()) (*seedWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create seed watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch seed directory: %w", err)
	}
	w := &seedWatcher{
		path:    filepath.Clean(path),
		watcher: watcher,
		logger:  logger,
		reload:  reload,
		stopCh:  make(chan struct{}),
	}
	go w.loop()
	logger.Info("Watching credential seed", zap.String("path", path))
	return w, nil
}

func (w *seedWatcher) loop() {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug("Seed file changed", zap.String("op", event.Op.String()))
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Seed watcher error", zap.Error(err))
		}
	}
}

func (w *seedWatcher) Close() error {
	close(w.stopCh)
	return w.watcher.Close()
}
