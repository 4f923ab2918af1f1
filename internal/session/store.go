// internal/session/store.go
package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// formatVersion is bumped whenever the on-disk layout changes incompatibly.
const formatVersion = 1

var (
	// ErrNoSession is returned by Load when nothing usable is stored.
	ErrNoSession = errors.New("no stored session")
	// ErrCorrupt wraps decoding failures of the session file.
	ErrCorrupt = errors.New("session file is corrupt")
)

// Verifier performs a live authenticated request with the session applied and
// reports whether the server still accepts it.
type Verifier func(ctx context.Context, s Session) (bool, error)

type fileFormat struct {
	Version int `json:"version"`
	Session
}

// Store persists a Session to a single JSON file.
type Store struct {
	path   string
	logger *zap.Logger
	now    func() time.Time

	// beforeCommit runs after the temp file is written and synced but before
	// it replaces the target. Tests use it to simulate a crash.
	beforeCommit func(tmpPath string) error
	// syncDir flushes the directory entry after the rename.
	syncDir func(dir string) error
}

// NewStore creates a store backed by path.
func NewStore(path string, logger *zap.Logger) *Store {
	return &Store{
		path:    path,
		logger:  logger.Named("session_store"),
		now:     time.Now,
		syncDir: syncDirectory,
	}
}

// Path returns the file backing the store.
func (s *Store) Path() string {
	return s.path
}

// Load reads the stored session and drops expired cookies.
//
// It returns ErrNoSession when the file is missing or holds no live cookie,
// and an error wrapping ErrCorrupt when the file cannot be decoded. Callers
// treat both as "no session".
func (s *Store) Load() (Session, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, fmt.Errorf("failed to read session file: %w", err)
	}

	var stored fileFormat
	if err := json.Unmarshal(data, &stored); err != nil {
		s.logger.Warn("Ignoring unreadable session file.", zap.String("path", s.path), zap.Error(err))
		return Session{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if stored.Version != formatVersion {
		s.logger.Warn("Ignoring session file with unknown format version.",
			zap.String("path", s.path), zap.Int("version", stored.Version))
		return Session{}, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, stored.Version)
	}
	for i, c := range stored.Cookies {
		if c.Name == "" || c.Domain == "" {
			return Session{}, fmt.Errorf("%w: cookie %d lacks a name or domain", ErrCorrupt, i)
		}
	}

	live := stored.Session.Live(s.now())
	if dropped := len(stored.Cookies) - len(live.Cookies); dropped > 0 {
		s.logger.Debug("Dropped expired cookies.", zap.Int("dropped", dropped), zap.Int("remaining", len(live.Cookies)))
	}
	if live.Empty() {
		return Session{}, ErrNoSession
	}
	return live, nil
}

// Save atomically replaces the stored session. A reader never observes a
// partially written file: the data goes to a temp file in the same
// directory, is synced, and is then renamed over the target. The directory
// is synced last so the rename survives a power loss.
func (s *Store) Save(sess Session) (err error) {
	data, err := json.MarshalIndent(fileFormat{Version: formatVersion, Session: sess}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write temp session file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp session file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp session file: %w", err)
	}
	if err = os.Chmod(tmpPath, 0o600); err != nil {
		return fmt.Errorf("failed to restrict session file permissions: %w", err)
	}
	if s.beforeCommit != nil {
		if err = s.beforeCommit(tmpPath); err != nil {
			return err
		}
	}
	if err = os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	if serr := s.syncDir(dir); serr != nil {
		// The new file is in place; only its durability is in doubt.
		s.logger.Warn("Failed to sync session directory.", zap.String("dir", dir), zap.Error(serr))
	}

	s.logger.Info("Session saved.", zap.String("path", s.path), zap.Int("cookies", len(sess.Cookies)))
	return nil
}

func syncDirectory(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// IsValid asks verify whether the server still accepts sess. Expiry alone is
// not trusted: servers revoke sessions long before cookie expiry.
func (s *Store) IsValid(ctx context.Context, sess Session, verify Verifier) (bool, error) {
	if sess.Empty() {
		return false, nil
	}
	ok, err := verify(ctx, sess)
	if err != nil {
		return false, err
	}
	s.logger.Debug("Session check finished.", zap.Bool("valid", ok))
	return ok, nil
}

// Clear removes the stored session. A missing file is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}
