package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/nextconvert/silk2mp3/internal/shared/config"
)

// Zone represents a storage zone
type Zone string

const (
	ZoneUpload  Zone = "upload"
	ZoneWorking Zone = "working"
	ZoneOutput  Zone = "output"
)

// Zones lists every zone, in sweep order.
var Zones = []Zone{ZoneUpload, ZoneWorking, ZoneOutput}

var (
	// ErrTooLarge means a stored file exceeded the size cap.
	ErrTooLarge = errors.New("file too large")

	// ErrInvalidName means a name would escape its zone directory.
	ErrInvalidName = errors.New("invalid file name")
)

// FileInfo represents metadata about a stored file
type FileInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Zone      Zone      `json:"zone"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Service stores transient files on the local disk, one directory per zone.
type Service struct {
	basePath string
}

// NewService creates the zone directories under cfg.BasePath
func NewService(cfg config.StorageConfig) (*Service, error) {
	for _, zone := range Zones {
		path := filepath.Join(cfg.BasePath, string(zone))
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", path, err)
		}
	}
	return &Service{basePath: cfg.BasePath}, nil
}

// Store saves reader into zone under a collision-free name that keeps the
// original extension. maxSize <= 0 disables the cap.
func (s *Service) Store(ctx context.Context, zone Zone, originalName string, reader io.Reader, maxSize int64) (*FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fileID := uuid.New().String()
	filename := fileID + strings.ToLower(filepath.Ext(originalName))
	path := s.GetPath(zone, filename)

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	src := reader
	if maxSize > 0 {
		src = io.LimitReader(reader, maxSize+1)
	}
	size, err := io.Copy(file, src)
	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && maxSize > 0 && size > maxSize {
		err = fmt.Errorf("%w: %s exceeds %s", ErrTooLarge, originalName, humanize.IBytes(uint64(maxSize)))
	}
	if err != nil {
		os.Remove(path)
		return nil, err
	}

	return &FileInfo{
		ID:        fileID,
		Name:      originalName,
		Path:      path,
		Zone:      zone,
		Size:      size,
		CreatedAt: time.Now(),
	}, nil
}

// Delete removes a file; a missing file is not an error
func (s *Service) Delete(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// GetPath returns the full path for a file in a zone
func (s *Service) GetPath(zone Zone, filename string) string {
	return filepath.Join(s.basePath, string(zone), filename)
}

// Dir returns the directory backing a zone
func (s *Service) Dir(zone Zone) string {
	return filepath.Join(s.basePath, string(zone))
}

// Dirs returns every zone directory
func (s *Service) Dirs() []string {
	dirs := make([]string, len(Zones))
	for i, zone := range Zones {
		dirs[i] = s.Dir(zone)
	}
	return dirs
}

// Open resolves a bare file name inside zone and opens it. Names containing
// path separators or dot segments are rejected.
func (s *Service) Open(zone Zone, name string) (*os.File, os.FileInfo, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return nil, nil, ErrInvalidName
	}
	f, err := os.Open(s.GetPath(zone, name))
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, nil, os.ErrNotExist
	}
	return f, info, nil
}
