// Package upload stores message attachments on local disk and hands back
// the reference a file message carries.
package upload

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

const maxUploadSize = 10 << 20 // 10 MiB

type Handler struct {
	dir    string
	logger *slog.Logger
}

func NewHandler(dir string, logger *slog.Logger) (*Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Handler{dir: dir, logger: logger}, nil
}

// Upload stores one multipart file under a generated name. The extension
// comes from the sniffed content type, not the client's filename.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "read upload", http.StatusBadRequest)
		return
	}

	mtype := mimetype.Detect(data)
	ext := mtype.Extension()
	if ext == "" {
		ext = filepath.Ext(header.Filename)
	}
	name := uuid.NewString() + ext

	if err := os.WriteFile(filepath.Join(h.dir, name), data, 0o644); err != nil {
		h.logger.Error("store upload", "name", name, "error", err)
		http.Error(w, "store upload", http.StatusInternalServerError)
		return
	}

	h.logger.Info("stored attachment",
		"name", name,
		"original", header.Filename,
		"bytes", len(data),
		"type", mtype.String(),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{
		"attachment": "/uploads/" + name,
		"type":       mtype.String(),
	})
}
