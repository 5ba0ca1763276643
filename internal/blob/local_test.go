package blob

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLocalStorageRoundTrip(t *testing.T) {
	dir := t.TempDir()
	storage, err := NewLocalStorage(dir, "")
	if err != nil {
		t.Fatalf("NewLocalStorage() error = %v", err)
	}

	data := []byte("chart bytes")
	meta, err := storage.Save(context.Background(), data, "file-1", "chart.png")
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if meta.Backend != "local" {
		t.Errorf("backend = %q, want local", meta.Backend)
	}
	if meta.Size != int64(len(data)) {
		t.Errorf("size = %d, want %d", meta.Size, len(data))
	}
	if !strings.HasSuffix(meta.Path, "file-1.png") {
		t.Errorf("path = %q, want file-1.png suffix", meta.Path)
	}

	got, err := storage.Get(context.Background(), meta)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("Get() = %q, want %q", got, data)
	}

	// No temp files left behind.
	var leftovers []string
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err == nil && strings.HasSuffix(path, ".tmp") {
			leftovers = append(leftovers, path)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WalkDir() error = %v", err)
	}
	if len(leftovers) > 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}

	if err := storage.Delete(context.Background(), meta); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := storage.Get(context.Background(), meta); err == nil {
		t.Error("Get() after delete should fail")
	}
	// Deleting again is a no-op.
	if err := storage.Delete(context.Background(), meta); err != nil {
		t.Errorf("second Delete() error = %v", err)
	}
}

func TestLocalStoragePresignedURL(t *testing.T) {
	dir := t.TempDir()

	storage, err := NewLocalStorage(dir, "")
	if err != nil {
		t.Fatalf("NewLocalStorage() error = %v", err)
	}
	meta, err := storage.Save(context.Background(), []byte("x"), "file-2", "notes.txt")
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	url, err := storage.PresignedURL(context.Background(), meta, "GET")
	if err != nil {
		t.Fatalf("PresignedURL() error = %v", err)
	}
	if url != "" {
		t.Errorf("no base URL configured, want empty URL, got %q", url)
	}

	withBase, err := NewLocalStorage(dir, "https://files.example.com/")
	if err != nil {
		t.Fatalf("NewLocalStorage() error = %v", err)
	}
	url, err = withBase.PresignedURL(context.Background(), meta, "GET")
	if err != nil {
		t.Fatalf("PresignedURL() error = %v", err)
	}
	if !strings.HasPrefix(url, "https://files.example.com/") || !strings.HasSuffix(url, "file-2.txt") {
		t.Errorf("url = %q", url)
	}
}
