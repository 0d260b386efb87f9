package middleware

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

// formOverhead leaves room for multipart boundaries and text fields.
const formOverhead = 1 << 20

// maxMemory is how much of a multipart form is buffered before spilling to disk.
const maxMemory = 32 << 20

// FileValidationConfig defines file validation rules
type FileValidationConfig struct {
	Field        string   // Multipart field carrying the files
	MaxSize      int64    // Maximum size of one file in bytes
	MaxFiles     int      // Maximum number of files per request
	AllowedTypes []string // Allowed declared MIME types (e.g. "audio/*")
	AllowedExts  []string // Allowed file extensions (e.g. ".silk")
}

// VoiceFileValidation accepts SILK/AMR voice messages or any audio type.
func VoiceFileValidation(field string, maxSize int64, maxFiles int) FileValidationConfig {
	return FileValidationConfig{
		Field:        field,
		MaxSize:      maxSize,
		MaxFiles:     maxFiles,
		AllowedTypes: []string{"audio/*"},
		AllowedExts:  []string{".silk", ".slk", ".amr"},
	}
}

// ValidateFileUpload parses the multipart form and rejects requests whose
// files break the rules. Handlers read the files from r.MultipartForm.
func ValidateFileUpload(config FileValidationConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
				WriteError(w, http.StatusBadRequest, "Expected a multipart/form-data upload")
				return
			}

			limit := config.MaxSize*int64(max(config.MaxFiles, 1)) + formOverhead
			r.Body = http.MaxBytesReader(w, r.Body, limit)

			if err := r.ParseMultipartForm(maxMemory); err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					WriteError(w, http.StatusRequestEntityTooLarge,
						fmt.Sprintf("Upload exceeds %s", humanize.IBytes(uint64(limit))))
					return
				}
				WriteError(w, http.StatusBadRequest, "Failed to parse upload")
				return
			}

			files := r.MultipartForm.File[config.Field]
			if len(files) == 0 {
				WriteError(w, http.StatusBadRequest, "No files uploaded")
				return
			}
			if config.MaxFiles > 0 && len(files) > config.MaxFiles {
				WriteError(w, http.StatusBadRequest,
					fmt.Sprintf("Too many files: %d (maximum %d)", len(files), config.MaxFiles))
				return
			}

			for _, fh := range files {
				if status, err := validateFile(fh, config); err != nil {
					WriteError(w, status, err.Error())
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// validateFile checks size and type of a single file
func validateFile(fh *multipart.FileHeader, config FileValidationConfig) (int, error) {
	if config.MaxSize > 0 && fh.Size > config.MaxSize {
		return http.StatusRequestEntityTooLarge, fmt.Errorf("%s is %s, maximum is %s",
			fh.Filename, humanize.IBytes(uint64(fh.Size)), humanize.IBytes(uint64(config.MaxSize)))
	}

	ext := strings.ToLower(filepath.Ext(fh.Filename))
	for _, allowed := range config.AllowedExts {
		if ext == strings.ToLower(allowed) {
			return 0, nil
		}
	}

	declared := fh.Header.Get("Content-Type")
	for _, allowed := range config.AllowedTypes {
		if matchMIMEType(declared, allowed) {
			return 0, nil
		}
	}

	return http.StatusBadRequest, fmt.Errorf("unsupported file type: %s", fh.Filename)
}

// matchMIMEType checks if a MIME type matches a pattern (supports wildcards)
func matchMIMEType(contentType, pattern string) bool {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	contentType = strings.ToLower(contentType)

	if contentType == pattern {
		return true
	}

	// "audio/*" matches "audio/amr"
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		return strings.HasPrefix(contentType, prefix+"/")
	}

	return false
}
