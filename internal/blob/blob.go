// Package blob stores uploaded file bytes. Backends: local filesystem and
// S3-compatible object storage.
package blob

import (
	"context"

	"github.com/loomworks/loom/pkg/models"
)

// Storage persists raw file bytes and resolves download URLs.
type Storage interface {
	// Save writes the bytes and returns backend metadata for later reads.
	Save(ctx context.Context, data []byte, fileID, name string) (*models.FileStoreMetadata, error)
	Get(ctx context.Context, meta *models.FileStoreMetadata) ([]byte, error)
	Delete(ctx context.Context, meta *models.FileStoreMetadata) error
	// PresignedURL returns a direct download or upload URL for the object.
	// Backends without URL support return "" and no error; callers fall
	// back to streaming the bytes themselves.
	PresignedURL(ctx context.Context, meta *models.FileStoreMetadata, method string) (string, error)
}
