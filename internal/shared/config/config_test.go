package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("uses defaults", func(t *testing.T) {
		for _, key := range []string{"PORT", "COMMAND_TIMEOUT", "MAX_UPLOAD_SIZE", "MAX_FILES", "CONVERT_WORKERS",
			"CLEANUP_INTERVAL", "CLEANUP_RETENTION", "ALLOWED_ORIGINS", "REDIS_URL"} {
			t.Setenv(key, "")
		}

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 5000, cfg.Port)
		assert.Equal(t, 60*time.Second, cfg.CommandTimeout)
		assert.Equal(t, int64(10*1024*1024), cfg.MaxUploadSize)
		assert.Equal(t, 50, cfg.MaxFiles)
		assert.Equal(t, 1, cfg.ConvertWorkers)
		assert.Equal(t, time.Hour, cfg.CleanupInterval)
		assert.Equal(t, 24*time.Hour, cfg.CleanupRetention)
		assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
		assert.Empty(t, cfg.RedisURL)
	})

	t.Run("reads overrides from environment", func(t *testing.T) {
		t.Setenv("PORT", "8081")
		t.Setenv("COMMAND_TIMEOUT", "90s")
		t.Setenv("CONVERT_WORKERS", "4")
		t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
		t.Setenv("FFMPEG_PATH", "/opt/ffmpeg")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 8081, cfg.Port)
		assert.Equal(t, 90*time.Second, cfg.CommandTimeout)
		assert.Equal(t, 4, cfg.ConvertWorkers)
		assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
		assert.Equal(t, "/opt/ffmpeg", cfg.Tools.FFmpegPath)
	})

	t.Run("ignores malformed values", func(t *testing.T) {
		t.Setenv("PORT", "not-a-number")
		t.Setenv("COMMAND_TIMEOUT", "soon")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 5000, cfg.Port)
		assert.Equal(t, 60*time.Second, cfg.CommandTimeout)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			CommandTimeout:   time.Minute,
			MaxUploadSize:    1024,
			MaxFiles:         5,
			ConvertWorkers:   1,
			CleanupInterval:  time.Hour,
			CleanupRetention: 24 * time.Hour,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid config", func(*Config) {}, false},
		{"zero timeout", func(c *Config) { c.CommandTimeout = 0 }, true},
		{"zero workers", func(c *Config) { c.ConvertWorkers = 0 }, true},
		{"zero file cap", func(c *Config) { c.MaxFiles = 0 }, true},
		{"retention shorter than a command", func(c *Config) { c.CleanupRetention = 30 * time.Second }, true},
		{"retention shorter than a full batch", func(c *Config) {
			c.MaxFiles = 50
			c.CleanupRetention = 2 * time.Hour
		}, true},
		{"retention equal to the request lifetime", func(c *Config) { c.CleanupRetention = c.RequestLifetime() }, true},
		{"retention just past the request lifetime", func(c *Config) { c.CleanupRetention = c.RequestLifetime() + time.Second }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRequestLifetime(t *testing.T) {
	cfg := &Config{CommandTimeout: time.Minute, MaxFiles: 50}

	// 50 files x 7 commands + 2 merge commands, one minute each, plus grace
	assert.Equal(t, 352*time.Minute+30*time.Second, cfg.RequestLifetime())
	assert.Less(t, cfg.RequestLifetime(), 24*time.Hour, "default retention must accept default limits")
}
