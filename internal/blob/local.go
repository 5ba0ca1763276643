package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loomworks/loom/pkg/models"
)

// LocalStorage stores file bytes on the local filesystem under
// base/YYYY/MM/DD/<file_id><ext>.
type LocalStorage struct {
	basePath string
	baseURL  string
}

// NewLocalStorage creates a filesystem store rooted at basePath. baseURL,
// when non-empty, is used to form download URLs for stored files.
func NewLocalStorage(basePath, baseURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	return &LocalStorage{
		basePath: basePath,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}, nil
}

func (s *LocalStorage) Save(ctx context.Context, data []byte, fileID, name string) (*models.FileStoreMetadata, error) {
	now := time.Now()
	relDir := filepath.Join(
		fmt.Sprintf("%04d", now.Year()),
		fmt.Sprintf("%02d", now.Month()),
		fmt.Sprintf("%02d", now.Day()))
	dir := filepath.Join(s.basePath, relDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}

	filename := fileID + filepath.Ext(name)
	filePath := filepath.Join(dir, filename)

	// Write to a temp file first, then atomic rename.
	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return nil, fmt.Errorf("write blob: %w", err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return nil, fmt.Errorf("rename blob: %w", err)
	}

	return &models.FileStoreMetadata{
		Backend: "local",
		Key:     fileID,
		Path:    filepath.Join(relDir, filename),
		Size:    int64(len(data)),
	}, nil
}

func (s *LocalStorage) Get(ctx context.Context, meta *models.FileStoreMetadata) ([]byte, error) {
	if meta == nil || meta.Path == "" {
		return nil, fmt.Errorf("blob metadata has no path")
	}
	data, err := os.ReadFile(filepath.Join(s.basePath, meta.Path))
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

func (s *LocalStorage) Delete(ctx context.Context, meta *models.FileStoreMetadata) error {
	if meta == nil || meta.Path == "" {
		return nil
	}
	err := os.Remove(filepath.Join(s.basePath, meta.Path))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *LocalStorage) PresignedURL(ctx context.Context, meta *models.FileStoreMetadata, method string) (string, error) {
	if s.baseURL == "" || meta == nil || meta.Path == "" {
		return "", nil
	}
	return s.baseURL + "/" + filepath.ToSlash(meta.Path), nil
}
