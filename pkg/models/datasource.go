package models

import (
	"strings"
	"time"
)

// FileStoreMetadata locates a blob inside a concrete storage backend.
type FileStoreMetadata struct {
	Backend     string `json:"backend"`
	Bucket      string `json:"bucket,omitempty"`
	Key         string `json:"key,omitempty"`
	Path        string `json:"path,omitempty"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type,omitempty"`
}

// DataSource is the durable record for one uploaded or generated file.
type DataSource struct {
	FileID      string            `json:"file_id"`
	Name        string            `json:"name"`
	ContentType string            `json:"content_type,omitempty"`
	Size        int64             `json:"size"`
	Store       FileStoreMetadata `json:"store"`
	URL         string            `json:"url,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Kind maps the content type onto the attachment kinds subscribers understand.
func (d *DataSource) Kind() AttachmentKind {
	if strings.HasPrefix(d.ContentType, "image/") {
		return AttachmentImage
	}
	return AttachmentFile
}
