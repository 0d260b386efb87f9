// Package batch orders the files of a multi-file upload so that merged output
// follows the original recording sequence.
package batch

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// KeySource records which heuristic produced an entry's sort key.
type KeySource string

const (
	SourcePrefix    KeySource = "prefix"
	SourceTimestamp KeySource = "timestamp"
	SourceModTime   KeySource = "mtime"
	SourceIndex     KeySource = "index"
)

// keyWidth is wide enough to left-pad any digit string that overflowed int64.
const keyWidth = 32

var (
	prefixPattern = regexp.MustCompile(`^(\d+)[_\-\s.]`)

	// Embedded timestamp tokens, tried in order.
	timestampPatterns = []*regexp.Regexp{
		regexp.MustCompile(`msg_(\d+)`),
		regexp.MustCompile(`(\d{8})[_-]?(\d{6})`),
	}
)

// SortKey is either Numeric or Lexical. Numeric keys sort before Lexical keys;
// numerics compare by value and lexicals byte-wise.
type SortKey struct {
	numeric bool
	n       int64
	s       string
}

// Numeric returns a numeric sort key.
func Numeric(n int64) SortKey { return SortKey{numeric: true, n: n} }

// Lexical returns a string sort key.
func Lexical(s string) SortKey { return SortKey{s: s} }

// IsNumeric reports whether the key is numeric.
func (k SortKey) IsNumeric() bool { return k.numeric }

// Compare returns -1, 0 or 1.
func (k SortKey) Compare(o SortKey) int {
	switch {
	case k.numeric && !o.numeric:
		return -1
	case !k.numeric && o.numeric:
		return 1
	case k.numeric:
		switch {
		case k.n < o.n:
			return -1
		case k.n > o.n:
			return 1
		}
		return 0
	default:
		return strings.Compare(k.s, o.s)
	}
}

func (k SortKey) String() string {
	if k.numeric {
		return strconv.FormatInt(k.n, 10)
	}
	return strconv.Quote(k.s)
}

// File is one uploaded file awaiting ordering.
type File struct {
	OriginalName string
	Path         string
	// ModTime is the recorded time of the upload, if the client sent one.
	ModTime time.Time
}

// Entry is a File with its computed key.
type Entry struct {
	File
	Index     int
	Key       SortKey
	KeySource KeySource
}

// Sequencer computes a deterministic order for a batch.
type Sequencer struct {
	stat func(string) (os.FileInfo, error)
}

// NewSequencer creates a sequencer that falls back to on-disk modification times.
func NewSequencer() *Sequencer {
	return &Sequencer{stat: os.Stat}
}

// Order returns the files sorted by key, ties broken by upload index.
// The result is a total order and repeated calls give the same sequence.
func (s *Sequencer) Order(files []File) []Entry {
	entries := make([]Entry, len(files))
	for i, f := range files {
		key, src := s.Key(f, i)
		entries[i] = Entry{File: f, Index: i, Key: key, KeySource: src}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return Less(entries[i], entries[j])
	})
	return entries
}

// Less orders entries by key, then by upload index.
func Less(a, b Entry) bool {
	if c := a.Key.Compare(b.Key); c != 0 {
		return c < 0
	}
	return a.Index < b.Index
}

// Key computes the sort key for one file; first matching heuristic wins.
func (s *Sequencer) Key(f File, index int) (SortKey, KeySource) {
	name := f.OriginalName

	if m := prefixPattern.FindStringSubmatch(name); m != nil {
		return digitsKey(m[1]), SourcePrefix
	}

	for _, p := range timestampPatterns {
		if m := p.FindStringSubmatch(name); m != nil {
			return digitsKey(strings.Join(m[1:], "")), SourceTimestamp
		}
	}

	if t := s.recordedTime(f); !t.IsZero() {
		return Numeric(t.UnixMilli()), SourceModTime
	}

	return Numeric(int64(index)), SourceIndex
}

func (s *Sequencer) recordedTime(f File) time.Time {
	if !f.ModTime.IsZero() {
		return f.ModTime
	}
	if f.Path == "" || s.stat == nil {
		return time.Time{}
	}
	info, err := s.stat(f.Path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// digitsKey parses a run of digits. Values beyond int64 become left-padded
// lexical keys so they still order by magnitude among themselves.
func digitsKey(digits string) SortKey {
	n, err := strconv.ParseInt(digits, 10, 64)
	if err == nil {
		return Numeric(n)
	}
	trimmed := strings.TrimLeft(digits, "0")
	if len(trimmed) < keyWidth {
		trimmed = strings.Repeat("0", keyWidth-len(trimmed)) + trimmed
	}
	return Lexical(trimmed)
}

// PositionName encodes an entry's position into a file name so lexical order
// of names matches batch order.
func PositionName(position, total int, baseName string) string {
	width := len(strconv.Itoa(total))
	if width < 4 {
		width = 4
	}
	return fmt.Sprintf("%0*d-%s", width, position, baseName)
}
