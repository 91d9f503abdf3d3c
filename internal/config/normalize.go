package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeMounts(); err != nil {
		return err
	}
	c.normalizeVOD()
	if err := c.normalizeTranscriber(); err != nil {
		return err
	}
	c.normalizeCaptions()
	c.normalizePipeline()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.Workdir, err = expandPath(c.Paths.Workdir); err != nil {
		return fmt.Errorf("paths.workdir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDB) == "" {
		c.Paths.StateDB = defaultStateDB
	}
	if c.Paths.StateDB, err = expandPath(c.Paths.StateDB); err != nil {
		return fmt.Errorf("paths.state_db: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeMounts() error {
	var err error
	c.Mounts.Recordings = strings.TrimSpace(c.Mounts.Recordings)
	if c.Mounts.Recordings != "" {
		if c.Mounts.Recordings, err = expandPath(c.Mounts.Recordings); err != nil {
			return fmt.Errorf("mounts.recordings: %w", err)
		}
	}
	c.Mounts.Archive = strings.TrimSpace(c.Mounts.Archive)
	if c.Mounts.Archive != "" {
		if c.Mounts.Archive, err = expandPath(c.Mounts.Archive); err != nil {
			return fmt.Errorf("mounts.archive: %w", err)
		}
	}
	if c.Mounts.MinFreeGiB <= 0 {
		c.Mounts.MinFreeGiB = defaultMountMinFreeGiB
	}
	return nil
}

func (c *Config) normalizeVOD() {
	c.VOD.BaseURL = strings.TrimRight(strings.TrimSpace(c.VOD.BaseURL), "/")
	c.VOD.APIKey = strings.TrimSpace(c.VOD.APIKey)
	if c.VOD.APIKey == "" {
		if value, ok := os.LookupEnv("GAVEL_VOD_API_KEY"); ok {
			c.VOD.APIKey = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("VOD_API_KEY"); ok {
			c.VOD.APIKey = strings.TrimSpace(value)
		}
	}
	c.VOD.Channel = strings.TrimSpace(c.VOD.Channel)
	if c.VOD.Channel == "" {
		c.VOD.Channel = defaultVODChannel
	}
	if c.VOD.RequestTimeout <= 0 {
		c.VOD.RequestTimeout = defaultVODRequestTimeout
	}
	if c.VOD.LatencyThresholdMS <= 0 {
		c.VOD.LatencyThresholdMS = defaultVODLatencyThreshold
	}
}

func (c *Config) normalizeTranscriber() error {
	var err error
	c.Transcriber.Model = strings.TrimSpace(c.Transcriber.Model)
	if c.Transcriber.Model == "" {
		c.Transcriber.Model = defaultTranscriberModel
	}
	c.Transcriber.Language = strings.ToLower(strings.TrimSpace(c.Transcriber.Language))
	if c.Transcriber.Language == "" {
		c.Transcriber.Language = defaultTranscriberLanguage
	}
	if strings.TrimSpace(c.Transcriber.CacheDir) == "" {
		c.Transcriber.CacheDir = defaultTranscriberCacheDir
	}
	if c.Transcriber.CacheDir, err = expandPath(c.Transcriber.CacheDir); err != nil {
		return fmt.Errorf("transcriber.cache_dir: %w", err)
	}
	if c.Transcriber.Timeout <= 0 {
		c.Transcriber.Timeout = defaultTranscriberTimeout
	}
	return nil
}

func (c *Config) normalizeCaptions() {
	c.Captions.Format = strings.ToLower(strings.TrimSpace(c.Captions.Format))
	if c.Captions.Format == "" {
		c.Captions.Format = defaultCaptionFormat
	}
	c.Captions.FFmpegBinary = strings.TrimSpace(c.Captions.FFmpegBinary)
	if c.Captions.FFmpegBinary == "" {
		c.Captions.FFmpegBinary = defaultFFmpegBinary
	}
	c.Captions.FFprobeBinary = strings.TrimSpace(c.Captions.FFprobeBinary)
	if c.Captions.FFprobeBinary == "" {
		c.Captions.FFprobeBinary = defaultFFprobeBinary
	}
	if c.Captions.EncodeTimeout <= 0 {
		c.Captions.EncodeTimeout = defaultCaptionEncodeTimeout
	}
}

func (c *Config) normalizePipeline() {
	if c.Pipeline.Workers <= 0 {
		c.Pipeline.Workers = defaultWorkers
	}
	if c.Pipeline.LeaseDuration <= 0 {
		c.Pipeline.LeaseDuration = defaultLeaseDuration
	}
	if c.Pipeline.AdmissionBackoffCap < c.Pipeline.AdmissionBackoff {
		c.Pipeline.AdmissionBackoffCap = c.Pipeline.AdmissionBackoff
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
