package blobstore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var fixedNow = time.Date(2024, 3, 13, 9, 30, 0, 0, time.UTC)

const pdfHeader = "%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\n"

func newStores(t *testing.T) map[string]BlobStore {
	t.Helper()
	mem := NewInMemoryBlobStore()
	mem.now = func() time.Time { return fixedNow }

	dir, err := NewDirStore(filepath.Join(t.TempDir(), "archive"))
	if err != nil {
		t.Fatalf("NewDirStore: %v", err)
	}
	dir.now = func() time.Time { return fixedNow }

	return map[string]BlobStore{"memory": mem, "dir": dir}
}

func readAll(t *testing.T, rc io.ReadCloser) string {
	t.Helper()
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read blob: %v", err)
	}
	return string(data)
}

// ---------------------------------------------------------------------------
// Store behaviour shared by all backends
// ---------------------------------------------------------------------------

func TestBlobStore_RoundTrip(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			meta, err := store.Upload(ctx, BlobMetadata{
				Key:         "/lab-reports/6f1c2a9e/",
				FileName:    "buletin analize.pdf",
				ContentType: "application/pdf",
			}, strings.NewReader(pdfHeader))
			if err != nil {
				t.Fatalf("Upload: %v", err)
			}
			if meta.Key != "lab-reports/6f1c2a9e" {
				t.Errorf("expected trimmed key, got %q", meta.Key)
			}
			if meta.Size != int64(len(pdfHeader)) || len(meta.Hash) != 64 {
				t.Errorf("unexpected size/hash: %d %q", meta.Size, meta.Hash)
			}
			if !meta.CreatedAt.Equal(fixedNow) {
				t.Errorf("unexpected created_at %v", meta.CreatedAt)
			}

			rc, got, err := store.Download(ctx, "lab-reports/6f1c2a9e")
			if err != nil {
				t.Fatalf("Download: %v", err)
			}
			if body := readAll(t, rc); body != pdfHeader {
				t.Errorf("content mismatch: %q", body)
			}
			if got.FileName != "buletin analize.pdf" || got.ContentType != "application/pdf" || got.Hash != meta.Hash {
				t.Errorf("metadata mismatch: %+v", got)
			}

			if err := store.Delete(ctx, "lab-reports/6f1c2a9e"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, _, err := store.Download(ctx, "lab-reports/6f1c2a9e"); !errors.Is(err, ErrBlobNotFound) {
				t.Errorf("expected ErrBlobNotFound after delete, got %v", err)
			}
			if err := store.Delete(ctx, "lab-reports/6f1c2a9e"); err != nil {
				t.Errorf("deleting a missing blob should succeed, got %v", err)
			}
		})
	}
}

func TestBlobStore_DetectsContentType(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			meta, err := store.Upload(context.Background(), BlobMetadata{
				Key:         "doc",
				ContentType: "application/octet-stream",
			}, strings.NewReader(pdfHeader))
			if err != nil {
				t.Fatalf("Upload: %v", err)
			}
			if meta.ContentType != "application/pdf" {
				t.Errorf("expected sniffed application/pdf, got %q", meta.ContentType)
			}
		})
	}
}

func TestBlobStore_InvalidKeys(t *testing.T) {
	keys := []string{"", "   ", "../etc/passwd", "a/../../b", "a//b", "./a"}
	for name, store := range newStores(t) {
		for _, key := range keys {
			_, err := store.Upload(context.Background(), BlobMetadata{Key: key}, strings.NewReader("x"))
			if !errors.Is(err, ErrInvalidKey) {
				t.Errorf("%s: Upload(%q) expected ErrInvalidKey, got %v", name, key, err)
			}
		}
	}
}

func TestBlobStore_TooLarge(t *testing.T) {
	store := NewInMemoryBlobStore()
	big := io.LimitReader(zeroReader{}, MaxFileSize+1)
	if _, err := store.Upload(context.Background(), BlobMetadata{Key: "big"}, big); !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("expected ErrFileTooLarge, got %v", err)
	}
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func TestBlobStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for name, store := range newStores(t) {
		if _, err := store.Upload(ctx, BlobMetadata{Key: "k"}, strings.NewReader("x")); !errors.Is(err, context.Canceled) {
			t.Errorf("%s: expected context.Canceled, got %v", name, err)
		}
	}
}

// ---------------------------------------------------------------------------
// Directory store
// ---------------------------------------------------------------------------

func TestDirStore_Layout(t *testing.T) {
	base := t.TempDir()
	store, err := NewDirStore(base)
	if err != nil {
		t.Fatalf("NewDirStore: %v", err)
	}
	if _, err := store.Upload(context.Background(), BlobMetadata{Key: "lab-reports/abc", ContentType: "text/plain"}, strings.NewReader("HGB 10.6")); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	for _, name := range []string{"abc", "abc.meta.json"} {
		if _, err := os.Stat(filepath.Join(base, "lab-reports", name)); err != nil {
			t.Errorf("expected %s on disk: %v", name, err)
		}
	}
}

func TestDirStore_MissingContentFile(t *testing.T) {
	base := t.TempDir()
	store, _ := NewDirStore(base)
	if _, err := store.Upload(context.Background(), BlobMetadata{Key: "r1"}, strings.NewReader("data")); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	os.Remove(filepath.Join(base, "r1"))

	if _, _, err := store.Download(context.Background(), "r1"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound, got %v", err)
	}
}
