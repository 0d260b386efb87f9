package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server
	Environment    string
	Port           int
	LogLevel       string
	AllowedOrigins []string

	// Storage
	Storage StorageConfig

	// External tools
	Tools ToolsConfig

	// Conversion
	CommandTimeout time.Duration
	ConvertWorkers int

	// Limits
	MaxUploadSize int64
	MaxFiles      int

	// Cleanup
	CleanupInterval  time.Duration
	CleanupRetention time.Duration

	// Rate limiting (disabled when RedisURL is empty)
	RedisURL           string
	RateLimitPerMinute int
}

// StorageConfig holds storage-specific configuration
type StorageConfig struct {
	BasePath string
}

// ToolsConfig holds external tool resolution settings.
// Explicit paths win over the bundled directory, which wins over PATH.
type ToolsConfig struct {
	Dir             string
	FFmpegPath      string
	SilkDecoderPath string
	Silk2Mp3Path    string
}

// CommandsPerFile is the most external commands one file can run through the
// default conversion chain: one each for in-process, silk2mp3 and direct
// transcode, two each for the PCM and WAV decode paths.
const CommandsPerFile = 7

// mergeCommands covers the stream-copy concat and the re-encode fallback.
const mergeCommands = 2

// requestGrace absorbs upload parsing, file copies and response writing.
const requestGrace = 30 * time.Second

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Environment:        getEnv("ENVIRONMENT", "development"),
		Port:               getEnvInt("PORT", 5000),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		AllowedOrigins:     getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		CommandTimeout:     getEnvDuration("COMMAND_TIMEOUT", 60*time.Second),
		ConvertWorkers:     getEnvInt("CONVERT_WORKERS", 1),
		MaxUploadSize:      getEnvInt64("MAX_UPLOAD_SIZE", 10*1024*1024), // 10MB
		MaxFiles:           getEnvInt("MAX_FILES", 50),
		CleanupInterval:    getEnvDuration("CLEANUP_INTERVAL", time.Hour),
		CleanupRetention:   getEnvDuration("CLEANUP_RETENTION", 24*time.Hour),
		RedisURL:           getEnv("REDIS_URL", ""),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		Storage: StorageConfig{
			BasePath: getEnv("STORAGE_BASE_PATH", "./data"),
		},
		Tools: ToolsConfig{
			Dir:             getEnv("TOOLS_DIR", "./bin"),
			FFmpegPath:      getEnv("FFMPEG_PATH", ""),
			SilkDecoderPath: getEnv("SILK_DECODER_PATH", ""),
			Silk2Mp3Path:    getEnv("SILK2MP3_PATH", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks limits and the cleanup invariant: the retention window must
// outlive any single request, see RequestLifetime.
func (c *Config) Validate() error {
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("COMMAND_TIMEOUT must be positive")
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be positive")
	}
	if c.MaxFiles <= 0 {
		return fmt.Errorf("MAX_FILES must be positive")
	}
	if c.ConvertWorkers <= 0 {
		return fmt.Errorf("CONVERT_WORKERS must be positive")
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("CLEANUP_INTERVAL must be positive")
	}
	if lifetime := c.RequestLifetime(); c.CleanupRetention <= lifetime {
		return fmt.Errorf("CLEANUP_RETENTION (%s) must exceed the longest request (%s = COMMAND_TIMEOUT %s x (%d files x %d commands + %d merge commands) + %s)",
			c.CleanupRetention, lifetime, c.CommandTimeout, c.MaxFiles, CommandsPerFile, mergeCommands, requestGrace)
	}
	return nil
}

// RequestLifetime bounds how long one conversion request can run: every file
// through every command of the chain in sequence, then both merge attempts.
func (c *Config) RequestLifetime() time.Duration {
	return c.CommandTimeout*time.Duration(c.MaxFiles*CommandsPerFile+mergeCommands) + requestGrace
}

// IsProduction reports whether the service runs in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
