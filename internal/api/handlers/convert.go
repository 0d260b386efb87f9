package handlers

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/nextconvert/silk2mp3/internal/api/middleware"
	"github.com/nextconvert/silk2mp3/internal/modules/jobs"
	"github.com/nextconvert/silk2mp3/internal/shared/storage"
	"go.uber.org/zap"
)

// UploadField is the multipart field carrying the voice files.
const UploadField = "files"

// ConvertService runs conversion requests.
type ConvertService interface {
	ConvertSingle(ctx context.Context, batchID string, uploads []jobs.Upload) ([]jobs.ConversionResult, error)
	ConvertMultiple(ctx context.Context, batchID string, uploads []jobs.Upload) (*jobs.MergeResult, error)
}

// ConvertHandler handles conversion uploads
type ConvertHandler struct {
	jobs    ConvertService
	storage *storage.Service
	maxSize int64
	logger  *zap.Logger
}

// NewConvertHandler creates a new convert handler
func NewConvertHandler(svc ConvertService, storage *storage.Service, maxSize int64, logger *zap.Logger) *ConvertHandler {
	return &ConvertHandler{
		jobs:    svc,
		storage: storage,
		maxSize: maxSize,
		logger:  logger,
	}
}

// SingleResponse is the body of a single-mode reply.
type SingleResponse struct {
	BatchID string                  `json:"batchId,omitempty"`
	Results []jobs.ConversionResult `json:"results"`
}

// MultipleResponse is the body of a multiple-mode reply.
type MultipleResponse struct {
	BatchID string `json:"batchId,omitempty"`
	*jobs.MergeResult
}

// failureResponse carries per-file errors alongside the top-level message.
type failureResponse struct {
	Error   string                  `json:"error"`
	Results []jobs.ConversionResult `json:"results,omitempty"`
}

// Upload converts every file independently (single mode).
func (h *ConvertHandler) Upload(w http.ResponseWriter, r *http.Request) {
	batchID := r.FormValue("batchId")
	uploads, err := h.storeUploads(r)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	results, err := h.jobs.ConvertSingle(r.Context(), batchID, uploads)
	if err != nil {
		h.logger.Error("Conversion request failed", zap.String("batch_id", batchID), zap.Error(err))
		middleware.WriteError(w, http.StatusInternalServerError, "Conversion failed")
		return
	}

	for _, res := range results {
		if res.Succeeded() {
			middleware.WriteJSON(w, http.StatusOK, SingleResponse{BatchID: batchID, Results: results})
			return
		}
	}

	middleware.WriteJSON(w, http.StatusUnprocessableEntity, failureResponse{
		Error:   jobs.ErrNoFilesConverted.Error(),
		Results: results,
	})
}

// UploadMultiple orders, converts and merges the files into one track
// (multiple mode).
func (h *ConvertHandler) UploadMultiple(w http.ResponseWriter, r *http.Request) {
	batchID := r.FormValue("batchId")
	uploads, err := h.storeUploads(r)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	result, err := h.jobs.ConvertMultiple(r.Context(), batchID, uploads)
	switch {
	case errors.Is(err, jobs.ErrNoFilesConverted):
		resp := failureResponse{Error: err.Error()}
		if result != nil {
			resp.Results = result.Failed
		}
		middleware.WriteJSON(w, http.StatusUnprocessableEntity, resp)
		return
	case err != nil:
		h.logger.Error("Merge failed", zap.String("batch_id", batchID), zap.Error(err))
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to merge converted files: "+err.Error())
		return
	}

	middleware.WriteJSON(w, http.StatusOK, MultipleResponse{BatchID: batchID, MergeResult: result})
}

// storeUploads copies the validated multipart files into the upload zone.
// On failure every file stored so far is removed.
func (h *ConvertHandler) storeUploads(r *http.Request) ([]jobs.Upload, error) {
	if r.MultipartForm == nil {
		return nil, jobs.ErrNoFiles
	}
	headers := r.MultipartForm.File[UploadField]
	if len(headers) == 0 {
		return nil, jobs.ErrNoFiles
	}
	modTimes := r.MultipartForm.Value["lastModified"]

	uploads := make([]jobs.Upload, 0, len(headers))
	for i, fh := range headers {
		info, err := h.storeOne(r.Context(), fh)
		if err != nil {
			for _, u := range uploads {
				h.storage.Delete(u.Path)
			}
			return nil, err
		}

		upload := jobs.Upload{OriginalName: fh.Filename, Path: info.Path}
		if i < len(modTimes) {
			upload.ModTime = parseLastModified(modTimes[i])
		}
		uploads = append(uploads, upload)
	}
	return uploads, nil
}

func (h *ConvertHandler) storeOne(ctx context.Context, fh *multipart.FileHeader) (*storage.FileInfo, error) {
	file, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info, err := h.storage.Store(ctx, storage.ZoneUpload, fh.Filename, file, h.maxSize)
	if err != nil {
		return nil, err
	}

	h.logger.Debug("File uploaded",
		zap.String("file_id", info.ID),
		zap.String("filename", fh.Filename),
		zap.Int64("size", info.Size),
	)
	return info, nil
}

func (h *ConvertHandler) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrNoFiles):
		middleware.WriteError(w, http.StatusBadRequest, "No files uploaded")
	case errors.Is(err, storage.ErrTooLarge):
		middleware.WriteError(w, http.StatusRequestEntityTooLarge, err.Error())
	default:
		h.logger.Error("Failed to store upload", zap.Error(err))
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to store upload")
	}
}

// parseLastModified reads a browser File.lastModified value (unix ms).
func parseLastModified(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
