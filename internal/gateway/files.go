package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/loomworks/loom/pkg/models"
)

// fileResponse is the upload endpoint's JSON body.
type fileResponse struct {
	FileID      string `json:"file_id"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type,omitempty"`
	URL         string `json:"url,omitempty"`
}

func (s *Server) handleFileUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "file exceeds upload limit", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "multipart field \"file\" is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "failed to read upload", http.StatusBadRequest)
		return
	}

	ds := &models.DataSource{
		FileID:      "file_" + uuid.NewString(),
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
	}
	saved, err := s.stores.DataSources.SaveFile(r.Context(), data, ds)
	if err != nil {
		s.warn(r.Context(), "file upload failed", "name", header.Filename, "error", err)
		http.Error(w, "failed to store file", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(fileResponse{
		FileID:      saved.FileID,
		Name:        saved.Name,
		Size:        saved.Size,
		ContentType: saved.ContentType,
		URL:         saved.URL,
	})
}

func (s *Server) handleFileDownload(w http.ResponseWriter, r *http.Request) {
	fileID := r.PathValue("file_id")
	ds, data, err := s.stores.DataSources.Get(r.Context(), fileID)
	if err != nil {
		http.Error(w, "failed to load file", http.StatusInternalServerError)
		return
	}
	if ds == nil {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}

	// Presigned URLs take priority; backends without them stream bytes.
	if ds.URL != "" && r.URL.Query().Get("stream") != "1" {
		http.Redirect(w, r, ds.URL, http.StatusFound)
		return
	}

	if ds.ContentType != "" {
		w.Header().Set("Content-Type", ds.ContentType)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
