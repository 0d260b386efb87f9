package handlers

import (
	"errors"
	"mime"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/nextconvert/silk2mp3/internal/api/middleware"
	"github.com/nextconvert/silk2mp3/internal/shared/storage"
	"go.uber.org/zap"
)

// DownloadHandler serves converted files from the output zone
type DownloadHandler struct {
	storage *storage.Service
	logger  *zap.Logger
}

// NewDownloadHandler creates a new download handler
func NewDownloadHandler(storage *storage.Service, logger *zap.Logger) *DownloadHandler {
	return &DownloadHandler{storage: storage, logger: logger}
}

// Download streams an output file by its generated name
func (h *DownloadHandler) Download(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")

	file, info, err := h.storage.Open(storage.ZoneOutput, name)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) && !errors.Is(err, storage.ErrInvalidName) {
			h.logger.Error("Failed to open output file", zap.String("file", name), zap.Error(err))
		}
		middleware.WriteError(w, http.StatusNotFound, "File not found")
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	http.ServeContent(w, r, name, info.ModTime(), file)
}
