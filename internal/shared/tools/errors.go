// Package tools resolves external executables and runs them under a deadline.
package tools

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	// ErrToolNotFound means no usable executable could be resolved or spawned.
	ErrToolNotFound = errors.New("tool not found")

	// ErrProcessTimeout means the process outlived its deadline and was killed.
	ErrProcessTimeout = errors.New("process timed out")

	// ErrProcessExit matches any *ExitError.
	ErrProcessExit = errors.New("process exited with non-zero status")

	// ErrProcessStart covers spawn failures other than a missing executable.
	ErrProcessStart = errors.New("process failed to start")
)

// maxStderrSize limits the captured output to prevent memory exhaustion.
const maxStderrSize = 64 * 1024

// ExitError reports a process that ran and exited non-zero.
type ExitError struct {
	Tool   string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s exited with status %d: %s", e.Tool, e.Code, e.Stderr)
	}
	return fmt.Sprintf("%s exited with status %d", e.Tool, e.Code)
}

// Is lets errors.Is(err, ErrProcessExit) match.
func (e *ExitError) Is(target error) bool {
	return target == ErrProcessExit
}

// lastLine extracts the last meaningful line from tool output.
func lastLine(output string) string {
	lines := bytes.Split([]byte(output), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := string(bytes.TrimSpace(lines[i]))
		if line != "" {
			if len(line) > 200 {
				return line[:200] + "..."
			}
			return line
		}
	}
	return ""
}

// cappedBuffer keeps at most maxStderrSize bytes and silently drops the rest.
type cappedBuffer struct {
	buf bytes.Buffer
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := maxStderrSize - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	return b.buf.String()
}
