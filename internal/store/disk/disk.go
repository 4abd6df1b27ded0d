// Package disk is a persistent cache.Store that keeps one file per key,
// optionally zstd compressed. Writes go to a temp file in the target
// directory and are renamed into place, so readers see either the previous
// entry or the new one.
package disk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/cache"
)

const entryExt = ".entry"

// zstdMagic prefixes every zstd frame. Uncompressed entries are JSON and can
// never start with it.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var _ cache.Store = (*Store)(nil)

// Store implements cache.Store on the local filesystem. It keeps no index in
// memory; every Get is one file read.
type Store struct {
	dir     string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// Open creates dir if needed and returns a Store rooted there. level is a
// zstd level in [1, 22]; 0 writes entries uncompressed. Compressed entries
// are readable at any level.
func Open(dir string, level int) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("disk store: create %s: %w", dir, err)
	}
	s := &Store{dir: dir}

	var err error
	s.decoder, err = zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("disk store: create zstd decoder: %w", err)
	}
	if level > 0 {
		s.encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		if err != nil {
			s.decoder.Close()
			return nil, fmt.Errorf("disk store: create zstd encoder: %w", err)
		}
	}
	return s, nil
}

// Dir returns the root directory.
func (s *Store) Dir() string { return s.dir }

// Get reads and verifies the entry for key.
func (s *Store) Get(_ context.Context, key cache.Key) (cache.Entry, error) {
	path, err := s.path(key)
	if err != nil {
		return cache.Entry{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cache.Entry{}, cache.ErrNotFound
		}
		return cache.Entry{}, fmt.Errorf("disk store: read %s: %w", path, err)
	}
	if bytes.HasPrefix(data, zstdMagic) {
		data, err = s.decoder.DecodeAll(data, nil)
		if err != nil {
			return cache.Entry{}, fmt.Errorf("%w: decompress %s: %v", cache.ErrCorrupt, path, err)
		}
	}
	return cache.DecodeEntry(key, data)
}

// Put writes the entry for e.Key, replacing any previous one.
func (s *Store) Put(_ context.Context, e cache.Entry) error {
	path, err := s.path(e.Key)
	if err != nil {
		return err
	}
	data, err := cache.EncodeEntry(e)
	if err != nil {
		return err
	}
	if s.encoder != nil {
		data = s.encoder.EncodeAll(data, nil)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("disk store: create shard: %w", err)
	}
	return writeFileAtomic(path, data)
}

// Close releases the codecs.
func (s *Store) Close() error {
	if s.encoder != nil {
		s.encoder.Close()
	}
	s.decoder.Close()
	return nil
}

// path shards entries by the first two key characters.
func (s *Store) path(key cache.Key) (string, error) {
	if !key.Valid() {
		return "", fmt.Errorf("disk store: malformed key %q", key)
	}
	k := string(key)
	return filepath.Join(s.dir, k[:2], k+entryExt), nil
}

func writeFileAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("disk store: create temp: %w", err)
	}
	tmp := f.Name()

	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("disk store: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("disk store: rename into %s: %w", path, err)
	}
	return nil
}
