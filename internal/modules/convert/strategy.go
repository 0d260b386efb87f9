package convert

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/nextconvert/silk2mp3/internal/shared/tools"
	"go.uber.org/zap"
)

// Strategy is one independent way of turning an input file into an MP3.
// Implementations own and remove their intermediate files.
type Strategy interface {
	Name() string
	Convert(ctx context.Context, inputPath, outputPath string) error
}

// Toolbox bundles what the external-process strategies need.
type Toolbox struct {
	Exec     tools.Executor
	Resolver tools.Resolver
	Timeout  time.Duration
	Logger   *zap.Logger
}

func (t Toolbox) run(ctx context.Context, tool string, args ...string) error {
	_, err := t.Exec.Run(ctx, tools.Command{
		Path:    t.Resolver.Path(tool),
		Args:    args,
		Timeout: t.Timeout,
	})
	return err
}

// encodePCM encodes raw PCM at the shared sample format into MP3.
func (t Toolbox) encodePCM(ctx context.Context, pcmPath, outputPath string) error {
	return t.run(ctx, tools.ToolFFmpeg,
		"-y", "-hide_banner", "-loglevel", "error",
		"-f", SampleFormat,
		"-ar", strconv.Itoa(SampleRate),
		"-ac", strconv.Itoa(Channels),
		"-i", pcmPath,
		"-acodec", "libmp3lame", "-q:a", "2",
		outputPath,
	)
}

// transcode lets ffmpeg detect the input container itself.
func (t Toolbox) transcode(ctx context.Context, inputPath, outputPath string) error {
	return t.run(ctx, tools.ToolFFmpeg,
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", inputPath,
		"-acodec", "libmp3lame", "-q:a", "2",
		outputPath,
	)
}

func (t Toolbox) removeIntermediate(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		t.Logger.Warn("Failed to remove intermediate file", zap.String("path", path), zap.Error(err))
	}
}

// intermediatePath derives a per-job scratch name next to the output.
func intermediatePath(outputPath, ext string) string {
	return outputPath + ext
}

// InProcessStrategy decodes with an embedded decoder and encodes with ffmpeg.
type InProcessStrategy struct {
	Toolbox
	Decoder Decoder
}

func (s *InProcessStrategy) Name() string { return "in-process" }

func (s *InProcessStrategy) Convert(ctx context.Context, inputPath, outputPath string) error {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	if !IsSilk(data) {
		return ErrNotSilk
	}

	pcm, err := s.Decoder.Decode(data, SampleRate)
	if err != nil {
		return fmt.Errorf("decode failed: %w", err)
	}
	if len(pcm) == 0 {
		return fmt.Errorf("decode failed: %w", ErrEmptyOutput)
	}

	pcmPath := intermediatePath(outputPath, ".pcm")
	defer s.removeIntermediate(pcmPath)

	if err := os.WriteFile(pcmPath, pcm, 0644); err != nil {
		return fmt.Errorf("failed to write pcm: %w", err)
	}
	return s.encodePCM(ctx, pcmPath, outputPath)
}

// DirectToolStrategy runs a single tool that decodes and encodes internally.
type DirectToolStrategy struct {
	Toolbox
}

func (s *DirectToolStrategy) Name() string { return tools.ToolSilk2Mp3 }

func (s *DirectToolStrategy) Convert(ctx context.Context, inputPath, outputPath string) error {
	return s.run(ctx, tools.ToolSilk2Mp3, inputPath, outputPath)
}

// RawDecodeStrategy decodes to raw PCM with the external decoder, then encodes.
type RawDecodeStrategy struct {
	Toolbox
}

func (s *RawDecodeStrategy) Name() string { return "decode-pcm" }

func (s *RawDecodeStrategy) Convert(ctx context.Context, inputPath, outputPath string) error {
	pcmPath := intermediatePath(outputPath, ".pcm")
	defer s.removeIntermediate(pcmPath)

	if err := s.run(ctx, tools.ToolSilkDecoder, inputPath, pcmPath, "-Fs_API", strconv.Itoa(SampleRate)); err != nil {
		return err
	}
	if err := checkFile(pcmPath); err != nil {
		return fmt.Errorf("decoder output: %w", err)
	}
	return s.encodePCM(ctx, pcmPath, outputPath)
}

// ContainerDecodeStrategy decodes to WAV, then lets ffmpeg read the container.
type ContainerDecodeStrategy struct {
	Toolbox
}

func (s *ContainerDecodeStrategy) Name() string { return "decode-wav" }

func (s *ContainerDecodeStrategy) Convert(ctx context.Context, inputPath, outputPath string) error {
	wavPath := intermediatePath(outputPath, ".wav")
	defer s.removeIntermediate(wavPath)

	if err := s.run(ctx, tools.ToolSilkDecoder, inputPath, wavPath, "-d"); err != nil {
		return err
	}
	if err := checkFile(wavPath); err != nil {
		return fmt.Errorf("decoder output: %w", err)
	}
	return s.transcode(ctx, wavPath, outputPath)
}

// DirectTranscodeStrategy points ffmpeg straight at the original input.
type DirectTranscodeStrategy struct {
	Toolbox
}

func (s *DirectTranscodeStrategy) Name() string { return "ffmpeg-direct" }

func (s *DirectTranscodeStrategy) Convert(ctx context.Context, inputPath, outputPath string) error {
	return s.transcode(ctx, inputPath, outputPath)
}

// DefaultStrategies returns the standard chain order.
func DefaultStrategies(tb Toolbox, decoder Decoder) []Strategy {
	if decoder == nil {
		decoder = SilkDecoder{}
	}
	return []Strategy{
		&InProcessStrategy{Toolbox: tb, Decoder: decoder},
		&DirectToolStrategy{Toolbox: tb},
		&RawDecodeStrategy{Toolbox: tb},
		&ContainerDecodeStrategy{Toolbox: tb},
		&DirectTranscodeStrategy{Toolbox: tb},
	}
}

// checkFile verifies path exists and is non-empty.
func checkFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s missing", ErrEmptyOutput, path)
		}
		return err
	}
	if info.IsDir() || info.Size() == 0 {
		return fmt.Errorf("%w: %s is empty", ErrEmptyOutput, path)
	}
	return nil
}
