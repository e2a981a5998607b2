package generation

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/multiworld/internal/protocol"
)

// SpoilerStore persists one spoiler-log text file per completed multiworld
// generation, named by session id. The file opens with the settings used,
// rendered as YAML, followed by the full ordered item log.
type SpoilerStore struct {
	dir    string
	logger *zap.Logger
}

// NewSpoilerStore creates a store writing into dir.
//
// Precondition: dir must be non-empty; logger must be non-nil.
func NewSpoilerStore(dir string, logger *zap.Logger) *SpoilerStore {
	return &SpoilerStore{dir: dir, logger: logger}
}

// Write persists the spoiler log for one generation.
//
// Postcondition: Returns the file path written, or a non-nil error.
func (s *SpoilerStore) Write(sessionID string, settings Settings, spoiler protocol.SpoilerLog) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating spoiler directory %s: %w", s.dir, err)
	}

	header, err := yaml.Marshal(settings)
	if err != nil {
		return "", fmt.Errorf("rendering settings header: %w", err)
	}

	content := fmt.Sprintf("Multiworld generated with settings:\n%s\n%s", header, spoiler.FullOrderedItems)
	path := filepath.Join(s.dir, sessionID+".txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing spoiler log %s: %w", path, err)
	}

	s.logger.Info("spoiler log written",
		zap.String("session", sessionID),
		zap.String("path", path),
	)
	return path, nil
}
