// Package audio resolves audio files into sources with a stable identity and
// decodes them into the 16 kHz mono s16le PCM the engines consume.
package audio

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// IdentityMode selects how a Source identity is derived.
type IdentityMode string

const (
	// IdentityStat uses absolute path, size and modification time. It costs
	// one stat call regardless of file length.
	IdentityStat IdentityMode = "stat"
	// IdentityContent hashes the file bytes, so renamed or touched copies
	// share an identity. Every call reads the whole file, hits included, so
	// hit latency grows with file size.
	IdentityContent IdentityMode = "content"
)

// ErrSourceNotFound is returned when the audio path does not exist.
var ErrSourceNotFound = errors.New("audio: source not found")

// Source is an audio file plus the identity used to fingerprint it.
type Source struct {
	Path string
	ID   string
}

// Identity returns the stable identifier of the source.
func (s Source) Identity() string { return s.ID }

// NewSource resolves path and computes its identity with the given mode.
func NewSource(path string, mode IdentityMode) (Source, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Source{}, fmt.Errorf("audio: resolve %q: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Source{}, fmt.Errorf("%w: %s", ErrSourceNotFound, abs)
		}
		return Source{}, fmt.Errorf("audio: stat %s: %w", abs, err)
	}
	if info.IsDir() {
		return Source{}, fmt.Errorf("audio: %s is a directory", abs)
	}

	switch mode {
	case IdentityStat, "":
		return Source{
			Path: abs,
			ID:   fmt.Sprintf("stat:%s:%d:%d", abs, info.Size(), info.ModTime().UnixNano()),
		}, nil
	case IdentityContent:
		sum, err := hashFile(abs)
		if err != nil {
			return Source{}, err
		}
		return Source{Path: abs, ID: "sha256:" + sum}, nil
	default:
		return Source{}, fmt.Errorf("audio: unknown identity mode %q", mode)
	}
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("audio: open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("audio: hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
