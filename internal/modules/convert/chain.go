// Package convert turns SILK voice messages into MP3 through an ordered
// fallback chain of conversion strategies.
package convert

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/nextconvert/silk2mp3/internal/shared/metrics"
	"go.uber.org/zap"
)

// Chain tries each strategy in order until one leaves a non-empty output.
type Chain struct {
	strategies []Strategy
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewChain creates a chain over the given strategies
func NewChain(strategies []Strategy, m *metrics.Metrics, logger *zap.Logger) *Chain {
	return &Chain{
		strategies: strategies,
		metrics:    m,
		logger:     logger,
	}
}

// Strategies returns the strategy names in order
func (c *Chain) Strategies() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name()
	}
	return names
}

// Convert converts inputPath into outputPath. It never reports success unless
// outputPath exists with a non-zero size. On failure the returned error is an
// *ExhaustedError and no partial output is left behind.
func (c *Chain) Convert(ctx context.Context, inputPath, outputPath string) error {
	if err := checkInput(inputPath); err != nil {
		return &ExhaustedError{Attempts: []Attempt{{Err: err}}}
	}

	exhausted := &ExhaustedError{}
	for _, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			exhausted.Attempts = append(exhausted.Attempts, Attempt{Strategy: s.Name(), Err: err})
			break
		}

		start := time.Now()
		err := c.attempt(ctx, s, inputPath, outputPath)
		c.metrics.RecordStrategyAttempt(s.Name(), err == nil, time.Since(start))

		if err == nil {
			c.logger.Info("Conversion succeeded",
				zap.String("strategy", s.Name()),
				zap.String("input", inputPath),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		}

		c.logger.Warn("Conversion strategy failed",
			zap.String("strategy", s.Name()),
			zap.String("input", inputPath),
			zap.Error(err),
		)
		removeQuietly(outputPath)
		exhausted.Attempts = append(exhausted.Attempts, Attempt{Strategy: s.Name(), Err: err})
	}

	c.logger.Error("All conversion strategies failed",
		zap.String("input", inputPath),
		zap.Int("attempts", len(exhausted.Attempts)),
		zap.Error(exhausted.Last()),
	)
	return exhausted
}

func (c *Chain) attempt(ctx context.Context, s Strategy, inputPath, outputPath string) error {
	// A stale output from an earlier attempt must not count as success.
	removeQuietly(outputPath)

	if err := s.Convert(ctx, inputPath, outputPath); err != nil {
		return err
	}
	return checkFile(outputPath)
}

func checkInput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrInvalidInput, path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: %s is empty", ErrInvalidInput, path)
	}
	return nil
}

func removeQuietly(path string) {
	_ = os.Remove(path)
}
