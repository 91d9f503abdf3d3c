// Package publisher drives the publish stage: the captioned output moves to
// the archive mount the VOD platform ingests from, then the platform is told
// where to find it. The platform call runs under the publishing circuit
// breaker; an open circuit surfaces before any file is touched so the task
// can pause with its artifacts intact.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"gavel/internal/breaker"
	"gavel/internal/config"
	"gavel/internal/fileutil"
	"gavel/internal/logging"
	"gavel/internal/services"
	"gavel/internal/services/vod"
	"gavel/internal/stage"
	"gavel/internal/taskstate"
)

// PublishClient is the slice of the VOD client the handler needs.
type PublishClient interface {
	Publish(ctx context.Context, filePath string, meta vod.Metadata) (string, error)
	Channel() string
}

// Publisher is the publish stage handler.
type Publisher struct {
	cfg     *config.Config
	logger  *slog.Logger
	client  PublishClient
	circuit *breaker.Breaker
}

// NewPublisher constructs the publish handler.
func NewPublisher(cfg *config.Config, logger *slog.Logger, client PublishClient, circuit *breaker.Breaker) *Publisher {
	if logger != nil {
		logger = logger.With(logging.String(logging.FieldComponent, "publisher"))
	}
	return &Publisher{cfg: cfg, logger: logger, client: client, circuit: circuit}
}

// Stage identifies the pipeline stage this handler drives.
func (p *Publisher) Stage() taskstate.Stage {
	return taskstate.StagePublish
}

// Prepare verifies there is an output to publish. A prior attempt may have
// already archived it, so either artifact satisfies the check.
func (p *Publisher) Prepare(ctx context.Context, record *taskstate.TaskRecord) error {
	if _, err := stage.RequireFile(record, p.Stage(), "archive_path"); err == nil {
		return nil
	}
	_, err := stage.RequireFile(record, p.Stage(), "output_path")
	return err
}

// Execute archives the output and registers it with the platform.
func (p *Publisher) Execute(ctx context.Context, record *taskstate.TaskRecord) error {
	logger := logging.WithContext(ctx, p.logger)

	// Gate on the breaker before moving anything: an open circuit must leave
	// stage artifacts exactly where they are.
	if err := p.circuit.Allow(ctx); err != nil {
		return err
	}
	verdictGiven := false
	defer func() {
		if !verdictGiven {
			p.circuit.Release()
		}
	}()

	archivePath, err := p.ensureArchived(ctx, record, logger)
	if err != nil {
		return err
	}

	meta := p.buildMetadata(record, archivePath)
	remoteID, err := p.client.Publish(ctx, archivePath, meta)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		verdictGiven = true
		p.circuit.RecordFailure(ctx)
		return err
	}
	verdictGiven = true
	p.circuit.RecordSuccess(ctx)

	logger.Info("meeting published",
		logging.String("remote_id", remoteID),
		logging.String("title", meta.Title),
		logging.String("channel", meta.Channel),
		logging.String(logging.FieldEventType, "meeting_published"),
	)
	record.RecordProgress("remote_id", remoteID)
	return nil
}

// HealthCheck verifies the archive mount and platform credentials.
func (p *Publisher) HealthCheck(ctx context.Context) stage.Health {
	const name = "publisher"
	if p.cfg == nil {
		return stage.Unhealthy(name, "configuration unavailable")
	}
	if strings.TrimSpace(p.cfg.VOD.BaseURL) == "" {
		return stage.Unhealthy(name, "vod.base_url not configured")
	}
	if strings.TrimSpace(p.cfg.VOD.APIKey) == "" {
		return stage.Unhealthy(name, "vod.api_key not configured")
	}
	archive := strings.TrimSpace(p.cfg.Mounts.Archive)
	if archive == "" {
		return stage.Unhealthy(name, "archive mount not configured")
	}
	info, err := os.Stat(archive)
	if err != nil || !info.IsDir() {
		return stage.Unhealthy(name, fmt.Sprintf("archive mount %s unreachable", archive))
	}
	if err := unix.Access(archive, unix.W_OK); err != nil {
		return stage.Unhealthy(name, fmt.Sprintf("archive mount %s not writable: %v", archive, err))
	}
	return stage.Healthy(name)
}

// ensureArchived moves the captioned output onto the archive mount, or reuses
// the move a previous attempt already made.
func (p *Publisher) ensureArchived(ctx context.Context, record *taskstate.TaskRecord, logger *slog.Logger) (string, error) {
	if existing, ok := record.ProgressValue("archive_path"); ok {
		if _, err := os.Stat(existing); err == nil {
			return existing, nil
		}
		return "", services.Wrap(services.ErrValidation, string(p.Stage()), "verify archive",
			fmt.Sprintf("archived output %s is gone", existing), nil)
	}

	output, err := stage.RequireFile(record, p.Stage(), "output_path")
	if err != nil {
		return "", err
	}

	archiveDir := filepath.Join(p.cfg.Mounts.Archive, p.client.Channel())
	archivePath := filepath.Join(archiveDir, archiveName(output))
	if err := fileutil.MoveFile(output, archivePath); err != nil {
		return "", services.Wrap(services.ErrTransient, string(p.Stage()), "archive output",
			fmt.Sprintf("move to archive mount failed for %s", output), err)
	}

	logger.Info("output archived",
		logging.String("archive_path", archivePath),
		logging.String(logging.FieldEventType, "output_archived"),
	)
	record.RecordProgress("archive_path", archivePath)
	return archivePath, nil
}

func (p *Publisher) buildMetadata(record *taskstate.TaskRecord, archivePath string) vod.Metadata {
	meta := vod.Metadata{
		Channel:    p.client.Channel(),
		SourceName: filepath.Base(archivePath),
	}
	title, recordedAt, ok := DeriveTitle(archivePath)
	meta.Title = title
	if ok {
		meta.RecordedAt = recordedAt.Format(time.RFC3339)
	} else {
		meta.RecordedAt = record.CreatedAt.Format(time.RFC3339)
	}
	return meta
}

// archiveName strips the internal -captioned suffix so the archive carries
// the recording's own name.
func archiveName(outputPath string) string {
	base := filepath.Base(outputPath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	stem = strings.TrimSuffix(stem, "-captioned")
	return stem + ext
}
