package auth

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// CredentialStore holds reference hashes loaded from a file of
// "username:<encoded hash>" lines. Blank lines and lines starting with '#'
// are ignored.
type CredentialStore struct {
	path string

	mu     sync.RWMutex
	hashes map[string]string
}

// LoadCredentialStore reads the credential file at path
func LoadCredentialStore(path string) (*CredentialStore, error) {
	s := &CredentialStore{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewCredentialStore builds an in-memory store (for tests and tooling)
func NewCredentialStore(hashes map[string]string) *CredentialStore {
	cp := make(map[string]string, len(hashes))
	for k, v := range hashes {
		cp[k] = v
	}
	return &CredentialStore{hashes: cp}
}

// Reload re-reads the file. On error the previous contents are kept.
func (s *CredentialStore) Reload() error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open credential file: %w", err)
	}
	defer f.Close()

	hashes := make(map[string]string)
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		username, hash, ok := strings.Cut(line, ":")
		if !ok || username == "" || hash == "" {
			return fmt.Errorf("credential file %s:%d: expected username:hash", s.path, lineNo)
		}
		hashes[username] = hash
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read credential file: %w", err)
	}

	s.mu.Lock()
	s.hashes = hashes
	s.mu.Unlock()
	return nil
}

// Lookup returns the reference hash for username
func (s *CredentialStore) Lookup(username string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hashes[username]
	return h, ok
}

// Usernames returns the known usernames, sorted
func (s *CredentialStore) Usernames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.hashes))
	for name := range s.hashes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Watch reloads the store whenever the file is written or replaced, until
// ctx is done. The parent directory is watched so editors that rename a
// temporary file over the original are handled.
func (s *CredentialStore) Watch(ctx context.Context, logger *slog.Logger) error {
	if s.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create credential watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch credential directory: %w", err)
	}

	go func() {
		defer watcher.Close()
		target := filepath.Clean(s.path)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				if err := s.Reload(); err != nil {
					logger.Error("failed to reload credential file", slog.Any("error", err))
					continue
				}
				logger.Info("credential file reloaded", slog.Int("users", len(s.Usernames())))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("credential watcher error", slog.Any("error", err))
			}
		}
	}()
	return nil
}
