package artifact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/keepliver/internal/models"
)

// Store persists the capture artifact for the keepalive process
type Store struct {
	path   string
	logger arbor.ILogger
}

// NewStore creates a store writing to path
func NewStore(path string, logger arbor.ILogger) *Store {
	return &Store{
		path:   path,
		logger: logger,
	}
}

// Path returns the artifact location
func (s *Store) Path() string {
	return s.path
}

// Save writes the artifact, replacing any previous file in a single rename.
// A reader sees either the old file or the new one, never a partial write.
func (s *Store) Save(artifact *models.CaptureArtifact) error {
	if artifact == nil || artifact.Auth == nil {
		return fmt.Errorf("artifact is incomplete")
	}

	data, err := Encode(artifact)
	if err != nil {
		return err
	}

	if err := WriteAtomic(s.path, data, 0600); err != nil {
		s.logger.Error().Err(err).Str("path", s.path).Msg("Failed to write artifact")
		return err
	}

	s.logger.Info().
		Str("path", s.path).
		Str("connect_url", artifact.ConnectURL).
		Int("ctg_headers", len(artifact.CtgHeaders)).
		Int("device_keys", len(artifact.DeviceInfo)).
		Msg("Artifact saved")
	return nil
}

// Load reads a previously saved artifact
func (s *Store) Load() (*models.CaptureArtifact, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", s.path, err)
	}

	var artifact models.CaptureArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("failed to parse artifact %s: %w", s.path, err)
	}
	return &artifact, nil
}

// Encode renders v as 2-space indented JSON with every non-ASCII character escaped as \uXXXX
func Encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode artifact: %w", err)
	}
	return escapeNonASCII(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// escapeNonASCII rewrites runes above 0x7F. encoding/json only emits them inside strings,
// so the escapes are always valid JSON.
func escapeNonASCII(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		data = data[size:]
		if r < utf8.RuneSelf {
			out = append(out, byte(r))
			continue
		}
		if r > 0xFFFF {
			hi, lo := utf16.EncodeRune(r)
			out = fmt.Appendf(out, `\u%04x\u%04x`, hi, lo)
			continue
		}
		out = fmt.Appendf(out, `\u%04x`, r)
	}
	return out
}

// WriteAtomic writes data to a temp file beside path and renames it into place
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
