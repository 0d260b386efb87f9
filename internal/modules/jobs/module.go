// Package jobs orchestrates conversion requests: per-file conversion in single
// mode, and order-convert-merge in multiple mode.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/nextconvert/silk2mp3/internal/modules/batch"
	"github.com/nextconvert/silk2mp3/internal/shared/metrics"
	"github.com/nextconvert/silk2mp3/internal/shared/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNoFiles means the request carried no files.
	ErrNoFiles = errors.New("no files uploaded")

	// ErrNoFilesConverted means a multiple-mode request had no successful conversion to merge.
	ErrNoFilesConverted = errors.New("no files were converted successfully")
)

// Progress events pushed to subscribers of a batch.
const (
	EventFileConverted = "file:converted"
	EventFileFailed    = "file:failed"
	EventBatchMerged   = "batch:merged"
	EventBatchFailed   = "batch:failed"
)

// DownloadPrefix is the URL path under which output files are served.
const DownloadPrefix = "/api/download/"

const maxBaseNameRunes = 64

// Upload is a file already stored in the upload zone.
type Upload struct {
	OriginalName string
	Path         string
	// ModTime is the client-reported modification time, zero if unknown.
	ModTime time.Time
}

// ConversionJob is one input owned by exactly one conversion attempt.
type ConversionJob struct {
	InputPath    string
	OutputPath   string
	OriginalName string
}

// ConversionResult is the outcome for one file. Exactly one of OutputURL and
// Error is set.
type ConversionResult struct {
	OriginalName string `json:"originalName"`
	OutputURL    string `json:"outputUrl,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Succeeded reports whether the file converted.
func (r ConversionResult) Succeeded() bool {
	return r.Error == ""
}

// MergeResult is the outcome of a multiple-mode request.
type MergeResult struct {
	OutputURL string             `json:"outputUrl,omitempty"`
	FileName  string             `json:"fileName,omitempty"`
	Converted int                `json:"converted"`
	Failed    []ConversionResult `json:"failed,omitempty"`
}

// Converter converts one file.
type Converter interface {
	Convert(ctx context.Context, inputPath, outputPath string) error
}

// Merger concatenates converted tracks in order.
type Merger interface {
	Merge(ctx context.Context, inputs []string, outputPath string) error
}

// Notifier pushes progress events to clients watching a batch.
type Notifier interface {
	Notify(batchID, event string, payload interface{})
}

// Config holds the module's collaborators
type Config struct {
	Storage   *storage.Service
	Converter Converter
	Merger    Merger
	Sequencer *batch.Sequencer
	Notifier  Notifier
	Workers   int
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// Module handles conversion requests
type Module struct {
	storage   *storage.Service
	converter Converter
	merger    Merger
	sequencer *batch.Sequencer
	notifier  Notifier
	workers   int
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewModule creates a new jobs module
func NewModule(cfg Config) *Module {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	seq := cfg.Sequencer
	if seq == nil {
		seq = batch.NewSequencer()
	}
	return &Module{
		storage:   cfg.Storage,
		converter: cfg.Converter,
		merger:    cfg.Merger,
		sequencer: seq,
		notifier:  cfg.Notifier,
		workers:   workers,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		now:       time.Now,
	}
}

// ConvertSingle converts every upload independently. Results are returned in
// upload order; a failed file is recorded in its result and never aborts the
// others.
//
// Both modes run to completion once started: cancellation of ctx is ignored
// and the per-command timeout is the only deadline. Values carried by ctx are
// kept.
func (m *Module) ConvertSingle(ctx context.Context, batchID string, uploads []Upload) ([]ConversionResult, error) {
	if len(uploads) == 0 {
		return nil, ErrNoFiles
	}
	ctx = context.WithoutCancel(ctx)

	jobs := make([]ConversionJob, len(uploads))
	for i, u := range uploads {
		name := fmt.Sprintf("%d-%s-%s.mp3", m.now().UnixMilli(), shortID(), baseName(u.OriginalName))
		jobs[i] = ConversionJob{
			InputPath:    u.Path,
			OutputPath:   m.storage.GetPath(storage.ZoneOutput, name),
			OriginalName: u.OriginalName,
		}
	}

	results := m.runAll(ctx, batchID, jobs)

	converted := 0
	for _, r := range results {
		if r.Succeeded() {
			converted++
		}
	}
	m.logger.Info("Single-mode request finished",
		zap.String("batch_id", batchID),
		zap.Int("files", len(jobs)),
		zap.Int("converted", converted),
	)
	return results, nil
}

// ConvertMultiple orders the uploads, converts each into the working zone and
// merges the survivors, in order, into one output file.
func (m *Module) ConvertMultiple(ctx context.Context, batchID string, uploads []Upload) (*MergeResult, error) {
	if len(uploads) == 0 {
		return nil, ErrNoFiles
	}
	ctx = context.WithoutCancel(ctx)

	files := make([]batch.File, len(uploads))
	for i, u := range uploads {
		files[i] = batch.File{OriginalName: u.OriginalName, Path: u.Path, ModTime: u.ModTime}
	}
	entries := m.sequencer.Order(files)

	requestID := shortID()
	jobs := make([]ConversionJob, len(entries))
	for pos, e := range entries {
		name := batch.PositionName(pos+1, len(entries), requestID+"-"+baseName(e.OriginalName)+".mp3")
		jobs[pos] = ConversionJob{
			InputPath:    e.Path,
			OutputPath:   m.storage.GetPath(storage.ZoneWorking, name),
			OriginalName: e.OriginalName,
		}
		m.logger.Debug("Batch position",
			zap.String("batch_id", batchID),
			zap.Int("position", pos+1),
			zap.String("file", e.OriginalName),
			zap.String("key", e.Key.String()),
			zap.String("key_source", string(e.KeySource)),
		)
	}

	results := m.runAll(ctx, batchID, jobs)

	result := &MergeResult{}
	var survivors []string
	for i, r := range results {
		if r.Succeeded() {
			survivors = append(survivors, jobs[i].OutputPath)
		} else {
			result.Failed = append(result.Failed, r)
		}
	}
	result.Converted = len(survivors)

	if len(survivors) == 0 {
		m.notify(batchID, EventBatchFailed, map[string]interface{}{
			"batchId": batchID,
			"error":   ErrNoFilesConverted.Error(),
		})
		return result, ErrNoFilesConverted
	}

	fileName := fmt.Sprintf("merged-%d-%s.mp3", m.now().UnixMilli(), shortID())
	outputPath := m.storage.GetPath(storage.ZoneOutput, fileName)

	if err := m.merger.Merge(ctx, survivors, outputPath); err != nil {
		m.notify(batchID, EventBatchFailed, map[string]interface{}{
			"batchId": batchID,
			"error":   err.Error(),
		})
		return result, err
	}

	result.OutputURL = DownloadPrefix + fileName
	result.FileName = fileName
	m.notify(batchID, EventBatchMerged, map[string]interface{}{
		"batchId":   batchID,
		"outputUrl": result.OutputURL,
		"converted": result.Converted,
		"failed":    len(result.Failed),
	})

	m.logger.Info("Multiple-mode request finished",
		zap.String("batch_id", batchID),
		zap.Int("files", len(jobs)),
		zap.Int("converted", result.Converted),
		zap.String("output", fileName),
	)
	return result, nil
}

// runAll converts jobs on a bounded pool. Results are indexed like jobs.
func (m *Module) runAll(ctx context.Context, batchID string, jobs []ConversionJob) []ConversionResult {
	results := make([]ConversionResult, len(jobs))

	var g errgroup.Group
	g.SetLimit(m.workers)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			results[i] = m.convertOne(ctx, batchID, i, len(jobs), job)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (m *Module) convertOne(ctx context.Context, batchID string, index, total int, job ConversionJob) ConversionResult {
	m.metrics.RecordConversionStarted()
	defer m.removeInput(job.InputPath)

	err := m.converter.Convert(ctx, job.InputPath, job.OutputPath)
	m.metrics.RecordConversionCompleted(err == nil)

	if err != nil {
		m.logger.Error("File conversion failed",
			zap.String("batch_id", batchID),
			zap.String("file", job.OriginalName),
			zap.Error(err),
		)
		result := ConversionResult{OriginalName: job.OriginalName, Error: err.Error()}
		m.notify(batchID, EventFileFailed, map[string]interface{}{
			"batchId":      batchID,
			"originalName": job.OriginalName,
			"index":        index,
			"total":        total,
			"error":        result.Error,
		})
		return result
	}

	result := ConversionResult{
		OriginalName: job.OriginalName,
		OutputURL:    DownloadPrefix + filepath.Base(job.OutputPath),
	}
	m.notify(batchID, EventFileConverted, map[string]interface{}{
		"batchId":      batchID,
		"originalName": job.OriginalName,
		"index":        index,
		"total":        total,
	})
	return result
}

func (m *Module) removeInput(path string) {
	if err := m.storage.Delete(path); err != nil {
		m.logger.Warn("Failed to remove input file", zap.String("path", path), zap.Error(err))
	}
}

func (m *Module) notify(batchID, event string, payload interface{}) {
	if m.notifier == nil || batchID == "" {
		return
	}
	m.notifier.Notify(batchID, event, payload)
}

func shortID() string {
	return uuid.New().String()[:8]
}

// baseName reduces a client-supplied file name to a safe stem without its
// extension.
func baseName(original string) string {
	original = strings.ReplaceAll(original, `\`, "/")
	stem := strings.TrimSuffix(filepath.Base(original), filepath.Ext(original))

	var b strings.Builder
	n := 0
	for _, r := range stem {
		if n == maxBaseNameRunes {
			break
		}
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
		n++
	}

	s := strings.Trim(b.String(), "._")
	if s == "" {
		return "audio"
	}
	return s
}
