package deps

import (
	"gavel/internal/config"
	"gavel/internal/services/whisperx"
)

// Requirements lists the binaries the pipeline stages execute, resolved from
// configuration. ffmpeg and ffprobe honor the configured overrides; WhisperX
// always runs through uvx.
func Requirements(cfg *config.Config) []Requirement {
	return []Requirement{
		{
			Name:        "FFmpeg",
			Command:     cfg.Captions.FFmpegBinary,
			Description: "Audio extraction and caption embedding",
		},
		{
			Name:        "FFprobe",
			Command:     cfg.Captions.FFprobeBinary,
			Description: "Captioned output validation",
		},
		{
			Name:        "uvx",
			Command:     whisperx.UVXCommand,
			Description: "Runs WhisperX for transcription",
		},
	}
}

// Check evaluates the standard requirement set.
func Check(cfg *config.Config) []Status {
	return CheckBinaries(Requirements(cfg))
}

// FirstMissing returns the first required binary that is unavailable.
func FirstMissing(statuses []Status) (Status, bool) {
	for _, status := range statuses {
		if !status.Optional && !status.Available {
			return status, true
		}
	}
	return Status{}, false
}
