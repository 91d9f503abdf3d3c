package config

const (
	defaultWorkdir              = "~/.local/share/gavel/work"
	defaultLogDir               = "~/.local/share/gavel/logs"
	defaultStateDB              = "~/.local/share/gavel/state.db"
	defaultAPIBind              = "127.0.0.1:7489"
	defaultMountMinFreeGiB      = 5
	defaultVODChannel           = "city-council"
	defaultVODRequestTimeout    = 15
	defaultVODLatencyThreshold  = 2000
	defaultTranscriberModel     = "large-v3-turbo"
	defaultTranscriberLanguage  = "en"
	defaultTranscriberCacheDir  = "~/.local/share/gavel/cache/whisperx"
	defaultTranscriberTimeout   = 14400
	defaultCaptionFormat        = "scc"
	defaultFFmpegBinary         = "ffmpeg"
	defaultFFprobeBinary        = "ffprobe"
	defaultCaptionEncodeTimeout = 7200
	defaultWorkers              = 2
	defaultPollInterval         = 5
	defaultLeaseDuration        = 900
	defaultHeartbeatInterval    = 15
	defaultHeartbeatTimeout     = 120
	defaultAdmissionRetryLimit  = 10
	defaultAdmissionBackoff     = 30
	defaultAdmissionBackoffCap  = 600
	defaultValidationRetries    = 2
	defaultPublishRetryLimit    = 10
	defaultStageRetryLimit      = 3
	defaultFailureThreshold     = 5
	defaultFailureWindow        = 60
	defaultCooldown             = 30
	defaultHealthInterval       = 3600
	defaultHealthJitter         = 30
	defaultProbeTimeout         = 10
	defaultFreshnessFactor      = 2
	defaultMaxLoad1             = 8.0
	defaultMinMemoryMiB         = 512
	defaultRetentionSweep       = 3600
	defaultTaskRetentionHours   = 12
	defaultTranscriptionHours   = 24
	defaultVODRetentionHours    = 48
	defaultTaskTTL              = 3600
	defaultPriorityTTL          = 86400
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogRetentionDays     = 60
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			Workdir: defaultWorkdir,
			LogDir:  defaultLogDir,
			StateDB: defaultStateDB,
			APIBind: defaultAPIBind,
		},
		Mounts: Mounts{
			MinFreeGiB: defaultMountMinFreeGiB,
		},
		VOD: VOD{
			Channel:            defaultVODChannel,
			RequestTimeout:     defaultVODRequestTimeout,
			LatencyThresholdMS: defaultVODLatencyThreshold,
		},
		Transcriber: Transcriber{
			Model:    defaultTranscriberModel,
			Language: defaultTranscriberLanguage,
			CacheDir: defaultTranscriberCacheDir,
			Timeout:  defaultTranscriberTimeout,
		},
		Captions: Captions{
			Format:        defaultCaptionFormat,
			FFmpegBinary:  defaultFFmpegBinary,
			FFprobeBinary: defaultFFprobeBinary,
			EncodeTimeout: defaultCaptionEncodeTimeout,
		},
		Pipeline: Pipeline{
			Workers:              defaultWorkers,
			PollInterval:         defaultPollInterval,
			LeaseDuration:        defaultLeaseDuration,
			HeartbeatInterval:    defaultHeartbeatInterval,
			HeartbeatTimeout:     defaultHeartbeatTimeout,
			AdmissionRetryLimit:  defaultAdmissionRetryLimit,
			AdmissionBackoff:     defaultAdmissionBackoff,
			AdmissionBackoffCap:  defaultAdmissionBackoffCap,
			ValidationRetryLimit: defaultValidationRetries,
			PublishRetryLimit:    defaultPublishRetryLimit,
			StageRetryLimit:      defaultStageRetryLimit,
		},
		Breaker: Breaker{
			FailureThreshold: defaultFailureThreshold,
			FailureWindow:    defaultFailureWindow,
			Cooldown:         defaultCooldown,
		},
		Health: Health{
			Interval:        defaultHealthInterval,
			Jitter:          defaultHealthJitter,
			ProbeTimeout:    defaultProbeTimeout,
			FreshnessFactor: defaultFreshnessFactor,
			MaxLoad1:        defaultMaxLoad1,
			MinMemoryMiB:    defaultMinMemoryMiB,
		},
		Retention: Retention{
			SweepInterval:      defaultRetentionSweep,
			TaskHours:          defaultTaskRetentionHours,
			TranscriptionHours: defaultTranscriptionHours,
			VODHours:           defaultVODRetentionHours,
		},
		State: State{
			TaskTTL:     defaultTaskTTL,
			PriorityTTL: defaultPriorityTTL,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
