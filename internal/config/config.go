package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration loaded from YAML.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	ASR         ASRConfig         `yaml:"asr"`
	Cleanup     CleanupConfig     `yaml:"cleanup"`
	Audio       AudioConfig       `yaml:"audio"`
	Worker      WorkerConfig      `yaml:"worker"`
	Attachments AttachmentsConfig `yaml:"attachments"`
}

// ServerConfig holds HTTP server and runtime settings.
type ServerConfig struct {
	Addr          string        `yaml:"address"`
	ReadTimeout   time.Duration `yaml:"readTimeout"`
	WriteTimeout  time.Duration `yaml:"writeTimeout"`
	IdleTimeout   time.Duration `yaml:"idleTimeout"`
	StorageDir    string        `yaml:"storageDir"`
	APIKey        string        `yaml:"apiKey"`       // optional static API key header (X-API-Key)
	DatabasePath  string        `yaml:"databasePath"` // optional, overrides default storageDir/voicescribe.db
	ShutdownGrace time.Duration `yaml:"shutdownGrace"`
	LogLevel      string        `yaml:"logLevel"` // debug|info|warn|error
	LogFile       string        `yaml:"logFile"`  // optional rotating log file
}

// ASRConfig configures the speech-to-text provider.
type ASRConfig struct {
	APIKey   string        `yaml:"apiKey"`
	BaseURL  string        `yaml:"baseUrl"` // optional OpenAI-compatible endpoint
	Model    string        `yaml:"model"`
	Prompt   string        `yaml:"prompt"` // optional steering prompt for the first chunk
	Timeout  time.Duration `yaml:"timeout"`
	ProxyURL string        `yaml:"proxyUrl"`
}

// CleanupConfig configures the transcript cleanup provider.
type CleanupConfig struct {
	APIKey   string        `yaml:"apiKey"`
	BaseURL  string        `yaml:"baseUrl"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
	ProxyURL string        `yaml:"proxyUrl"`
}

// AudioConfig controls normalization and chunking.
type AudioConfig struct {
	FFmpegPath     string        `yaml:"ffmpegPath"`
	FFprobePath    string        `yaml:"ffprobePath"`
	ChunkSeconds   float64       `yaml:"chunkSeconds"`
	OverlapSeconds float64       `yaml:"overlapSeconds"`
	MaxChunkBytes  ByteSize      `yaml:"maxChunkBytes"`
	CommandTimeout time.Duration `yaml:"commandTimeout"`
}

// WorkerConfig controls worker pacing and retry backoff.
type WorkerConfig struct {
	PollInterval      time.Duration `yaml:"pollInterval"`
	BackoffBase       time.Duration `yaml:"backoffBase"`
	BackoffMax        time.Duration `yaml:"backoffMax"`
	DefaultBackoff    time.Duration `yaml:"defaultBackoff"`
	MergeWindow       int           `yaml:"mergeWindow"`
	RecoveryScanLimit int           `yaml:"recoveryScanLimit"`
}

// AttachmentsConfig selects the attachment backend.
type AttachmentsConfig struct {
	Source string      `yaml:"source"` // "local" or "cloud"
	Cloud  CloudConfig `yaml:"cloud"`
}

// CloudConfig configures the cloud-disk proxy backend.
type CloudConfig struct {
	BaseURL  string        `yaml:"baseUrl"`
	APIToken string        `yaml:"apiToken"`
	Timeout  time.Duration `yaml:"timeout"`
	Attempts uint          `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
}

// ByteSize represents a size in bytes that unmarshals from strings like
// "20Mi", "10MB", "512KiB", or "1024".
type ByteSize uint64

// UnmarshalYAML implements yaml unmarshalling for ByteSize.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("invalid bytesize node kind: %v", value.Kind)
	}
	parsed, err := ParseByteSize(strings.TrimSpace(value.Value))
	if err != nil {
		return err
	}
	*b = ByteSize(parsed)
	return nil
}

// ParseByteSize parses "20Mi", "10MB", "512KiB", or a bare byte count.
// Binary units (Ki/Mi/Gi, with or without B) and decimal KB/MB/GB are accepted,
// case-insensitively.
func ParseByteSize(s string) (uint64, error) {
	if s == "" {
		return 0, errors.New("empty size")
	}
	if v, err := strconv.ParseUint(s, 10, 64); err == nil {
		return v, nil
	}
	units := []struct {
		suffix string
		value  uint64
	}{
		{"KIB", 1 << 10}, {"MIB", 1 << 20}, {"GIB", 1 << 30},
		{"KI", 1 << 10}, {"MI", 1 << 20}, {"GI", 1 << 30},
		{"KB", 1000}, {"MB", 1000 * 1000}, {"GB", 1000 * 1000 * 1000},
		{"B", 1},
	}
	up := strings.ToUpper(s)
	for _, u := range units {
		if !strings.HasSuffix(up, u.suffix) {
			continue
		}
		num := strings.TrimSpace(s[:len(s)-len(u.suffix)])
		val, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size number in %q: %w", s, err)
		}
		return uint64(val * float64(u.value)), nil
	}
	return 0, fmt.Errorf("unknown size suffix in %q", s)
}

// Load reads YAML config from path, expands environment variables, applies
// defaults, and validates. If path is empty it falls back to the
// VOICESCRIBE_CONFIG env var, then "config.yaml".
func Load(path string) (*Config, error) {
	if path == "" {
		if env := os.Getenv("VOICESCRIBE_CONFIG"); env != "" {
			path = env
		} else {
			path = "config.yaml"
		}
	}
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath) // #nosec G304 - reading sanitized config file path is expected
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Server.StorageDir, 0o750); err != nil {
		return nil, fmt.Errorf("ensure storage dir: %w", err)
	}
	if cfg.Server.DatabasePath == "" {
		cfg.Server.DatabasePath = filepath.Join(cfg.Server.StorageDir, "voicescribe.db")
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Server.StorageDir == "" {
		cfg.Server.StorageDir = "data"
	}
	if cfg.Server.ShutdownGrace == 0 {
		cfg.Server.ShutdownGrace = 15 * time.Second
	}
	if strings.TrimSpace(cfg.Server.LogLevel) == "" {
		cfg.Server.LogLevel = "info"
	}

	if cfg.ASR.Model == "" {
		cfg.ASR.Model = "whisper-1"
	}
	if cfg.ASR.Timeout == 0 {
		cfg.ASR.Timeout = 5 * time.Minute
	}
	if cfg.Cleanup.Model == "" {
		cfg.Cleanup.Model = "gpt-4o-mini"
	}
	if cfg.Cleanup.Timeout == 0 {
		cfg.Cleanup.Timeout = 3 * time.Minute
	}

	if cfg.Audio.ChunkSeconds == 0 {
		cfg.Audio.ChunkSeconds = 600
	}
	if cfg.Audio.OverlapSeconds == 0 {
		cfg.Audio.OverlapSeconds = 15
	}
	if cfg.Audio.MaxChunkBytes == 0 {
		cfg.Audio.MaxChunkBytes = ByteSize(20 * 1024 * 1024)
	}
	if cfg.Audio.CommandTimeout == 0 {
		cfg.Audio.CommandTimeout = 5 * time.Minute
	}

	if cfg.Worker.PollInterval == 0 {
		cfg.Worker.PollInterval = 2 * time.Second
	}
	if cfg.Worker.BackoffBase == 0 {
		cfg.Worker.BackoffBase = 30 * time.Second
	}
	if cfg.Worker.BackoffMax == 0 {
		cfg.Worker.BackoffMax = time.Hour
	}
	if cfg.Worker.DefaultBackoff == 0 {
		cfg.Worker.DefaultBackoff = time.Minute
	}
	if cfg.Worker.MergeWindow == 0 {
		cfg.Worker.MergeWindow = 20
	}
	if cfg.Worker.RecoveryScanLimit == 0 {
		cfg.Worker.RecoveryScanLimit = 20
	}

	if cfg.Attachments.Source == "" {
		cfg.Attachments.Source = "local"
	}
}

func validate(cfg *Config) error {
	switch strings.ToLower(cfg.Attachments.Source) {
	case "local":
	case "cloud":
		if strings.TrimSpace(cfg.Attachments.Cloud.BaseURL) == "" {
			return errors.New("attachments.cloud.baseUrl is required for the cloud source")
		}
	default:
		return fmt.Errorf("unsupported attachments.source %q", cfg.Attachments.Source)
	}

	if cfg.Audio.OverlapSeconds >= cfg.Audio.ChunkSeconds {
		return fmt.Errorf("audio.overlapSeconds (%v) must be below audio.chunkSeconds (%v)",
			cfg.Audio.OverlapSeconds, cfg.Audio.ChunkSeconds)
	}

	switch strings.ToLower(cfg.Server.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported logLevel %q", cfg.Server.LogLevel)
	}
	return nil
}
