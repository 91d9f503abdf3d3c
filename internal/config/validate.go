package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateMounts(); err != nil {
		return err
	}
	if err := c.validateVOD(); err != nil {
		return err
	}
	if err := c.validateCaptions(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateBreaker(); err != nil {
		return err
	}
	if err := c.validateHealth(); err != nil {
		return err
	}
	if err := c.validateRetention(); err != nil {
		return err
	}
	if err := c.validateState(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateMounts() error {
	if strings.TrimSpace(c.Mounts.Recordings) == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/gavel/config.toml"
		}
		return fmt.Errorf("mounts.recordings is required. Edit %s (create with 'gavel config init')", defaultPath)
	}
	return nil
}

func (c *Config) validateVOD() error {
	if strings.TrimSpace(c.VOD.BaseURL) == "" {
		return errors.New("vod.base_url must be set")
	}
	if strings.TrimSpace(c.VOD.APIKey) == "" {
		return errors.New("vod.api_key must be set (or set GAVEL_VOD_API_KEY)")
	}
	return nil
}

func (c *Config) validateCaptions() error {
	switch c.Captions.Format {
	case "scc", "srt":
	default:
		return fmt.Errorf("captions.format must be scc or srt, got %q", c.Captions.Format)
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if err := ensurePositiveMap(map[string]int{
		"pipeline.workers":           c.Pipeline.Workers,
		"pipeline.poll_interval":     c.Pipeline.PollInterval,
		"pipeline.lease_duration":    c.Pipeline.LeaseDuration,
		"pipeline.admission_backoff": c.Pipeline.AdmissionBackoff,
		"captions.encode_timeout":    c.Captions.EncodeTimeout,
		"vod.request_timeout":        c.VOD.RequestTimeout,
	}); err != nil {
		return err
	}
	if c.Pipeline.HeartbeatInterval <= 0 {
		return errors.New("pipeline.heartbeat_interval must be positive")
	}
	if c.Pipeline.HeartbeatTimeout <= 0 {
		return errors.New("pipeline.heartbeat_timeout must be positive")
	}
	if c.Pipeline.HeartbeatTimeout <= c.Pipeline.HeartbeatInterval {
		return errors.New("pipeline.heartbeat_timeout must be greater than pipeline.heartbeat_interval")
	}
	if c.Pipeline.AdmissionRetryLimit < 0 {
		return errors.New("pipeline.admission_retry_limit must be >= 0")
	}
	if c.Pipeline.ValidationRetryLimit < 0 {
		return errors.New("pipeline.validation_retry_limit must be >= 0")
	}
	if c.Pipeline.PublishRetryLimit < 0 {
		return errors.New("pipeline.publish_retry_limit must be >= 0")
	}
	if c.Pipeline.StageRetryLimit < 0 {
		return errors.New("pipeline.stage_retry_limit must be >= 0")
	}
	return nil
}

func (c *Config) validateBreaker() error {
	return ensurePositiveMap(map[string]int{
		"breaker.failure_threshold": c.Breaker.FailureThreshold,
		"breaker.failure_window":    c.Breaker.FailureWindow,
		"breaker.cooldown":          c.Breaker.Cooldown,
	})
}

func (c *Config) validateHealth() error {
	if err := ensurePositiveMap(map[string]int{
		"health.interval":         c.Health.Interval,
		"health.probe_timeout":    c.Health.ProbeTimeout,
		"health.freshness_factor": c.Health.FreshnessFactor,
	}); err != nil {
		return err
	}
	if c.Health.Jitter < 0 {
		return errors.New("health.jitter must be >= 0")
	}
	if c.Health.MaxLoad1 <= 0 {
		return errors.New("health.max_load1 must be positive")
	}
	if c.Health.MinMemoryMiB <= 0 {
		return errors.New("health.min_memory_mib must be positive")
	}
	return nil
}

func (c *Config) validateRetention() error {
	return ensurePositiveMap(map[string]int{
		"retention.sweep_interval":      c.Retention.SweepInterval,
		"retention.task_hours":          c.Retention.TaskHours,
		"retention.transcription_hours": c.Retention.TranscriptionHours,
		"retention.vod_hours":           c.Retention.VODHours,
	})
}

func (c *Config) validateState() error {
	return ensurePositiveMap(map[string]int{
		"state.task_ttl":     c.State.TaskTTL,
		"state.priority_ttl": c.State.PriorityTTL,
	})
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
