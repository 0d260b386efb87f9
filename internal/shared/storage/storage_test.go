package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextconvert/silk2mp3/internal/shared/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := NewService(config.StorageConfig{BasePath: t.TempDir()})
	require.NoError(t, err)
	return s
}

func TestNewServiceCreatesZones(t *testing.T) {
	s := newTestService(t)
	for _, dir := range s.Dirs() {
		assert.DirExists(t, dir)
	}
}

func TestStore(t *testing.T) {
	ctx := context.Background()

	t.Run("collision-free names keep the extension", func(t *testing.T) {
		s := newTestService(t)
		a, err := s.Store(ctx, ZoneUpload, "voice.SILK", strings.NewReader("one"), 0)
		require.NoError(t, err)
		b, err := s.Store(ctx, ZoneUpload, "voice.SILK", strings.NewReader("two"), 0)
		require.NoError(t, err)

		assert.NotEqual(t, a.Path, b.Path)
		assert.Equal(t, ".silk", filepath.Ext(a.Path))
		assert.Equal(t, s.Dir(ZoneUpload), filepath.Dir(a.Path))
		assert.Equal(t, int64(3), a.Size)
		assert.Equal(t, "voice.SILK", a.Name)
	})

	t.Run("rejects oversized files", func(t *testing.T) {
		s := newTestService(t)
		_, err := s.Store(ctx, ZoneUpload, "big.silk", strings.NewReader("0123456789"), 5)
		assert.ErrorIs(t, err, ErrTooLarge)

		entries, err := os.ReadDir(s.Dir(ZoneUpload))
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("exactly at the cap is allowed", func(t *testing.T) {
		s := newTestService(t)
		info, err := s.Store(ctx, ZoneUpload, "ok.silk", strings.NewReader("01234"), 5)
		require.NoError(t, err)
		assert.Equal(t, int64(5), info.Size)
	})
}

func TestOpen(t *testing.T) {
	s := newTestService(t)
	require.NoError(t, os.WriteFile(s.GetPath(ZoneOutput, "out.mp3"), []byte("mp3"), 0644))

	f, info, err := s.Open(ZoneOutput, "out.mp3")
	require.NoError(t, err)
	f.Close()
	assert.Equal(t, int64(3), info.Size())

	for _, name := range []string{"", "..", "../upload/x", "a/b.mp3", `a\b.mp3`} {
		_, _, err := s.Open(ZoneOutput, name)
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}

	_, _, err = s.Open(ZoneOutput, "missing.mp3")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDelete(t *testing.T) {
	s := newTestService(t)
	path := s.GetPath(ZoneWorking, "x.mp3")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	require.NoError(t, s.Delete(path))
	assert.NoFileExists(t, path)
	assert.NoError(t, s.Delete(path))
}
