// Package merge concatenates converted tracks into a single MP3.
package merge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nextconvert/silk2mp3/internal/shared/metrics"
	"github.com/nextconvert/silk2mp3/internal/shared/tools"
	"go.uber.org/zap"
)

var (
	// ErrNoInputs means there was nothing to merge.
	ErrNoInputs = errors.New("no inputs to merge")

	// ErrMergeFailed means both concatenation methods failed.
	ErrMergeFailed = errors.New("merge failed")
)

// Merge methods, as reported in logs and metrics.
const (
	MethodCopy     = "copy"
	MethodConcat   = "concat"
	MethodReencode = "reencode"
)

// Engine merges an ordered list of tracks.
type Engine struct {
	exec     tools.Executor
	resolver tools.Resolver
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewEngine creates a merge engine
func NewEngine(exec tools.Executor, resolver tools.Resolver, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Engine {
	return &Engine{
		exec:     exec,
		resolver: resolver,
		timeout:  timeout,
		metrics:  m,
		logger:   logger,
	}
}

// Merge writes the concatenation of inputs, in order, to outputPath.
// A single input is copied byte for byte. Otherwise a stream-copy concat is
// tried first and a full re-encode second. The inputs are removed afterwards
// whatever the outcome.
func (e *Engine) Merge(ctx context.Context, inputs []string, outputPath string) error {
	if len(inputs) == 0 {
		return ErrNoInputs
	}
	defer e.removeAll(inputs)

	e.logger.Info("Merging tracks",
		zap.Int("count", len(inputs)),
		zap.String("output", outputPath),
	)

	if len(inputs) == 1 {
		return e.timed(MethodCopy, func() error {
			return copyFile(inputs[0], outputPath)
		}, outputPath)
	}

	concatErr := e.timed(MethodConcat, func() error {
		return e.concat(ctx, inputs, outputPath)
	}, outputPath)
	if concatErr == nil {
		return nil
	}

	e.logger.Warn("Stream-copy concat failed, re-encoding",
		zap.String("output", outputPath),
		zap.Error(concatErr),
	)

	reencodeErr := e.timed(MethodReencode, func() error {
		return e.reencode(ctx, inputs, outputPath)
	}, outputPath)
	if reencodeErr == nil {
		return nil
	}

	e.logger.Error("Merge failed",
		zap.String("output", outputPath),
		zap.NamedError("concat_error", concatErr),
		zap.NamedError("reencode_error", reencodeErr),
	)
	return fmt.Errorf("%w: %w", ErrMergeFailed, errors.Join(concatErr, reencodeErr))
}

// timed runs fn, verifies the output and records the attempt.
func (e *Engine) timed(method string, fn func() error, outputPath string) error {
	start := time.Now()
	err := fn()
	if err == nil {
		err = checkOutput(outputPath)
	}
	if err != nil {
		_ = os.Remove(outputPath)
	}
	e.metrics.RecordMerge(method, err == nil, time.Since(start))
	return err
}

func (e *Engine) concat(ctx context.Context, inputs []string, outputPath string) error {
	listPath := outputPath + ".txt"
	defer os.Remove(listPath)

	if err := writeConcatList(listPath, inputs); err != nil {
		return fmt.Errorf("failed to write concat list: %w", err)
	}

	_, err := e.exec.Run(ctx, tools.Command{
		Path: e.resolver.Path(tools.ToolFFmpeg),
		Args: []string{
			"-y", "-hide_banner", "-loglevel", "error",
			"-f", "concat", "-safe", "0",
			"-i", listPath,
			"-c", "copy",
			outputPath,
		},
		Timeout: e.timeout,
	})
	return err
}

func (e *Engine) reencode(ctx context.Context, inputs []string, outputPath string) error {
	args := []string{"-y", "-hide_banner", "-loglevel", "error"}
	var streams strings.Builder
	for i, in := range inputs {
		args = append(args, "-i", in)
		streams.WriteString("[" + strconv.Itoa(i) + ":a]")
	}
	filter := fmt.Sprintf("%sconcat=n=%d:v=0:a=1[out]", streams.String(), len(inputs))
	args = append(args,
		"-filter_complex", filter,
		"-map", "[out]",
		"-acodec", "libmp3lame", "-q:a", "2",
		outputPath,
	)

	_, err := e.exec.Run(ctx, tools.Command{
		Path:    e.resolver.Path(tools.ToolFFmpeg),
		Args:    args,
		Timeout: e.timeout,
	})
	return err
}

func (e *Engine) removeAll(paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			e.logger.Warn("Failed to remove merged input", zap.String("path", p), zap.Error(err))
		}
	}
}

// writeConcatList writes an ffmpeg concat demuxer listing. Paths are made
// absolute and single quotes escaped.
func writeConcatList(listPath string, inputs []string) error {
	var b strings.Builder
	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			return err
		}
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(abs, "'", `'\''`))
		b.WriteString("'\n")
	}
	return os.WriteFile(listPath, []byte(b.String()), 0644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func checkOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("merged output missing: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("merged output %s is empty", filepath.Base(path))
	}
	return nil
}
