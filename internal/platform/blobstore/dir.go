package blobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// DirStore keeps blobs as files under a base directory. Each blob has a
// ".meta.json" sidecar holding its metadata.
type DirStore struct {
	baseDir string
	now     func() time.Time
}

func NewDirStore(baseDir string) (*DirStore, error) {
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	return &DirStore{baseDir: baseDir, now: time.Now}, nil
}

func (s *DirStore) paths(key string) (string, string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", "", err
	}
	full := filepath.Join(s.baseDir, filepath.FromSlash(key))
	return full, full + ".meta.json", nil
}

func (s *DirStore) Upload(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	meta, data, err := prepare(meta, content, s.now())
	if err != nil {
		return nil, err
	}
	blobPath, metaPath, err := s.paths(meta.Key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(blobPath), 0o750); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	if err := os.WriteFile(blobPath, data, 0o640); err != nil {
		return nil, fmt.Errorf("write blob: %w", err)
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	if err := os.WriteFile(metaPath, encoded, 0o640); err != nil {
		return nil, fmt.Errorf("write metadata: %w", err)
	}
	return &meta, nil
}

func (s *DirStore) Download(ctx context.Context, key string) (io.ReadCloser, *BlobMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	blobPath, metaPath, err := s.paths(key)
	if err != nil {
		return nil, nil, err
	}

	raw, err := os.ReadFile(metaPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read metadata: %w", err)
	}
	var meta BlobMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, nil, fmt.Errorf("decode metadata: %w", err)
	}

	f, err := os.Open(blobPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open blob: %w", err)
	}
	return f, &meta, nil
}

func (s *DirStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	blobPath, metaPath, err := s.paths(key)
	if err != nil {
		return err
	}
	for _, p := range []string{blobPath, metaPath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", filepath.Base(p), err)
		}
	}
	return nil
}
