package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory, database, and bind address configuration.
type Paths struct {
	Workdir  string `toml:"workdir"`
	LogDir   string `toml:"log_dir"`
	StateDB  string `toml:"state_db"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Mounts describes the network mounts gavel reads from and archives to.
// Mounts are verified by health checks, never created.
type Mounts struct {
	Recordings string `toml:"recordings"`
	Archive    string `toml:"archive"`
	MinFreeGiB int    `toml:"min_free_gib"`
}

// VOD contains configuration for the video-on-demand publishing platform.
type VOD struct {
	BaseURL            string `toml:"base_url"`
	APIKey             string `toml:"api_key"`
	Channel            string `toml:"channel"`
	RequestTimeout     int    `toml:"request_timeout"`
	LatencyThresholdMS int    `toml:"latency_threshold_ms"`
}

// Transcriber contains configuration for WhisperX speech-to-text.
type Transcriber struct {
	Model       string `toml:"model"`
	CUDAEnabled bool   `toml:"cuda_enabled"`
	Language    string `toml:"language"`
	CacheDir    string `toml:"cache_dir"`
	Timeout     int    `toml:"timeout"`
}

// Captions contains configuration for caption conversion and embedding.
type Captions struct {
	Format        string `toml:"format"`
	FFmpegBinary  string `toml:"ffmpeg_binary"`
	FFprobeBinary string `toml:"ffprobe_binary"`
	EncodeTimeout int    `toml:"encode_timeout"`
}

// Pipeline contains orchestrator timing, retry, and lease settings.
type Pipeline struct {
	Workers              int `toml:"workers"`
	PollInterval         int `toml:"poll_interval"`
	LeaseDuration        int `toml:"lease_duration"`
	HeartbeatInterval    int `toml:"heartbeat_interval"`
	HeartbeatTimeout     int `toml:"heartbeat_timeout"`
	AdmissionRetryLimit  int `toml:"admission_retry_limit"`
	AdmissionBackoff     int `toml:"admission_backoff"`
	AdmissionBackoffCap  int `toml:"admission_backoff_cap"`
	ValidationRetryLimit int `toml:"validation_retry_limit"`
	PublishRetryLimit    int `toml:"publish_retry_limit"`
	StageRetryLimit      int `toml:"stage_retry_limit"`
}

// Breaker contains circuit breaker thresholds for the publishing API.
type Breaker struct {
	FailureThreshold int `toml:"failure_threshold"`
	FailureWindow    int `toml:"failure_window"`
	Cooldown         int `toml:"cooldown"`
}

// Health contains periodic health check settings and cutoffs.
type Health struct {
	Interval        int     `toml:"interval"`
	Jitter          int     `toml:"jitter"`
	ProbeTimeout    int     `toml:"probe_timeout"`
	FreshnessFactor int     `toml:"freshness_factor"`
	MaxLoad1        float64 `toml:"max_load1"`
	MinMemoryMiB    int     `toml:"min_memory_mib"`
}

// Retention contains per-kind retention windows for terminated task state.
type Retention struct {
	SweepInterval      int `toml:"sweep_interval"`
	TaskHours          int `toml:"task_hours"`
	TranscriptionHours int `toml:"transcription_hours"`
	VODHours           int `toml:"vod_hours"`
}

// State contains TTL settings for task records and priority entries.
type State struct {
	TaskTTL     int `toml:"task_ttl"`
	PriorityTTL int `toml:"priority_ttl"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for gavel.
//
// Configuration sections by subsystem:
//   - Paths: working/log directories, state database, API bind address
//   - Mounts: watched recording and archive mounts
//   - VOD: publishing platform connection
//   - Transcriber: WhisperX speech-to-text settings
//   - Captions: caption format and ffmpeg/ffprobe settings
//   - Pipeline: worker counts, leases, retry caps, backoff
//   - Breaker: publishing circuit breaker thresholds
//   - Health: probe interval, freshness, resource cutoffs
//   - Retention: per-kind cleanup windows
//   - State: task record and priority TTLs
//   - Logging: log format, level, and retention
type Config struct {
	Paths       Paths       `toml:"paths"`
	Mounts      Mounts      `toml:"mounts"`
	VOD         VOD         `toml:"vod"`
	Transcriber Transcriber `toml:"transcriber"`
	Captions    Captions    `toml:"captions"`
	Pipeline    Pipeline    `toml:"pipeline"`
	Breaker     Breaker     `toml:"breaker"`
	Health      Health      `toml:"health"`
	Retention   Retention   `toml:"retention"`
	State       State       `toml:"state"`
	Logging     Logging     `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/gavel/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("gavel.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// Mount points are deliberately left alone so a missing mount surfaces as an
// unhealthy probe instead of an empty local directory.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.Workdir,
		c.Paths.LogDir,
		c.Transcriber.CacheDir,
		filepath.Dir(c.Paths.StateDB),
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
