package tools

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Known external tools.
const (
	ToolFFmpeg      = "ffmpeg"
	ToolSilkDecoder = "silk_v3_decoder"
	ToolSilk2Mp3    = "silk2mp3"
)

// lookupTimeout bounds the PATH lookup.
const lookupTimeout = 5 * time.Second

// Source records where a tool path came from.
type Source string

const (
	SourceOverride Source = "override"
	SourceBundled  Source = "bundled"
	SourcePath     Source = "path"
	SourceFallback Source = "fallback"
)

// Resolution is the outcome of locating one tool.
type Resolution struct {
	Tool   string `json:"tool"`
	Path   string `json:"path"`
	Source Source `json:"source"`
	Found  bool   `json:"found"`
}

// Resolver maps a tool name to an executable path.
type Resolver interface {
	Path(tool string) string
}

// Locator resolves executable paths for external tools.
// Search order:
//  1. An explicit override (FFMPEG_PATH and friends)
//  2. The bundled tools directory, OS-specific variants first
//  3. The process PATH
//
// Successful resolutions are cached; misses are searched again on the next call
// so a tool installed while the server runs is picked up. A missing tool is
// warned about once, later misses log at debug.
type Locator struct {
	dir       string
	overrides map[string]string
	goos      string
	lookPath  func(string) (string, error)
	logger    *zap.Logger

	mu     sync.RWMutex
	cache  map[string]Resolution
	missed map[string]bool
}

// NewLocator creates a locator that searches dir and then PATH.
func NewLocator(dir string, overrides map[string]string, logger *zap.Logger) *Locator {
	o := make(map[string]string, len(overrides))
	for tool, path := range overrides {
		if path != "" {
			o[tool] = path
		}
	}
	return &Locator{
		dir:       dir,
		overrides: o,
		goos:      runtime.GOOS,
		lookPath:  exec.LookPath,
		logger:    logger,
		cache:     make(map[string]Resolution),
		missed:    make(map[string]bool),
	}
}

// Resolve returns the executable path for tool. When nothing usable is found it
// returns the bare tool name together with ErrToolNotFound; callers may still
// execute the bare name and let the runtime PATH decide.
func (l *Locator) Resolve(tool string) (string, error) {
	res := l.resolve(tool)
	if !res.Found {
		return res.Path, fmt.Errorf("%w: %s", ErrToolNotFound, tool)
	}
	return res.Path, nil
}

// Path is Resolve without the error, for call sites that defer failure to execution.
func (l *Locator) Path(tool string) string {
	path, _ := l.Resolve(tool)
	return path
}

// Report resolves every known tool, for diagnostics.
func (l *Locator) Report() []Resolution {
	names := []string{ToolFFmpeg, ToolSilkDecoder, ToolSilk2Mp3}
	for tool := range l.overrides {
		if !slices.Contains(names, tool) {
			names = append(names, tool)
		}
	}
	sort.Strings(names)

	out := make([]Resolution, 0, len(names))
	for _, tool := range names {
		out = append(out, l.resolve(tool))
	}
	return out
}

func (l *Locator) resolve(tool string) Resolution {
	l.mu.RLock()
	res, ok := l.cache[tool]
	l.mu.RUnlock()
	if ok {
		return res
	}

	res = l.search(tool)
	l.mu.Lock()
	repeat := l.missed[tool]
	if res.Found {
		l.cache[tool] = res
		delete(l.missed, tool)
	} else {
		l.missed[tool] = true
	}
	l.mu.Unlock()

	switch {
	case res.Found:
		l.logger.Debug("Resolved tool",
			zap.String("tool", tool),
			zap.String("path", res.Path),
			zap.String("source", string(res.Source)),
		)
	case repeat:
		// Warned on the first miss already.
		l.logger.Debug("Tool still not found", zap.String("tool", tool))
	default:
		l.logger.Warn("Tool not found, falling back to bare name", zap.String("tool", tool))
	}
	return res
}

func (l *Locator) search(tool string) Resolution {
	if path, ok := l.overrides[tool]; ok && isExecutable(path) {
		return Resolution{Tool: tool, Path: path, Source: SourceOverride, Found: true}
	}

	for _, candidate := range l.candidates(tool) {
		if isExecutable(candidate) {
			return Resolution{Tool: tool, Path: candidate, Source: SourceBundled, Found: true}
		}
	}

	if path, err := l.lookPathWithTimeout(tool); err == nil {
		return Resolution{Tool: tool, Path: path, Source: SourcePath, Found: true}
	}

	return Resolution{Tool: tool, Path: tool, Source: SourceFallback, Found: false}
}

// candidates lists bundled locations, OS-specific variants first.
func (l *Locator) candidates(tool string) []string {
	if l.dir == "" {
		return nil
	}
	if l.goos == "windows" {
		return []string{
			filepath.Join(l.dir, tool+"_windows.exe"),
			filepath.Join(l.dir, tool+".exe"),
		}
	}
	return []string{
		filepath.Join(l.dir, tool+"_"+l.goos),
		filepath.Join(l.dir, tool),
	}
}

func (l *Locator) lookPathWithTimeout(tool string) (string, error) {
	type result struct {
		path string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		path, err := l.lookPath(tool)
		done <- result{path, err}
	}()

	timer := time.NewTimer(lookupTimeout)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.path, r.err
	case <-timer.C:
		return "", fmt.Errorf("PATH lookup for %s timed out", tool)
	}
}

// isExecutable checks if a file exists and is executable by the current user.
func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode()&0111 != 0
}

