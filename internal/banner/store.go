// Package banner persists whether the domain migration notice was dismissed.
package banner

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/genricoloni/synest-overlay/internal/domain"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// DismissedKey names the flag file
const DismissedKey = "domain-migration-banner-dismissed"

var dismissedValue = []byte("true")

// FileStore keeps the flag as a small file under the state directory
type FileStore struct {
	logger *zap.Logger
	fs     afero.Fs
	path   string
	mu     sync.Mutex
}

// NewFileStore creates a store rooted at the configured state directory
func NewFileStore(logger *zap.Logger, fs afero.Fs, cfg domain.Config) *FileStore {
	return &FileStore{
		logger: logger,
		fs:     fs,
		path:   filepath.Join(cfg.GetStateDir(), DismissedKey),
	}
}

// Dismissed reports whether the banner was dismissed. A missing flag
// means it was not.
func (s *FileStore) Dismissed() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read banner flag: %w", err)
	}
	return bytes.Equal(bytes.TrimSpace(data), dismissedValue), nil
}

// Dismiss records the dismissal
func (s *FileStore) Dismiss() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := afero.WriteFile(s.fs, s.path, dismissedValue, 0644); err != nil {
		return fmt.Errorf("failed to write banner flag: %w", err)
	}

	s.logger.Info("Migration banner dismissed", zap.String("path", s.path))
	return nil
}
