// Package service provides the business logic layer for optipress
// operations.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/optipress/optipress/internal/config"
	"github.com/optipress/optipress/internal/convert"
	"github.com/optipress/optipress/internal/models"
	"github.com/optipress/optipress/internal/quota"
	"github.com/optipress/optipress/internal/repository"
	"github.com/optipress/optipress/internal/scheduler"
	"github.com/optipress/optipress/internal/tracker"
)

// Converter produces encoded artifacts from one source file. Both
// conversion engines satisfy it.
type Converter interface {
	Process(ctx context.Context, sourcePath string, destinations map[models.Format]string, opts *convert.Options) (*convert.Result, error)
}

// AnimationDetector classifies a GIF as animated or static.
type AnimationDetector interface {
	IsAnimated(path string) (bool, error)
}

// Resolver maps a markup reference back to an attachment ID.
type Resolver interface {
	Resolve(ctx context.Context, input string) (int64, error)
}

// MediaService orchestrates the conversion pipeline: eligibility,
// quota admission, engine invocation, and ledger updates. Image
// conversion runs inline with the triggering event; video conversion
// goes through the job queue.
type MediaService struct {
	cfg config.ConvertConfig

	attachments repository.AttachmentRepository
	jobs        repository.ConvertJobRepository
	tracker     *tracker.Tracker
	quota       *quota.Manager

	imageEngine Converter
	videoEngine Converter
	detector    AnimationDetector
	resolver    Resolver

	uploadsDir string
	logger     *slog.Logger
}

// MediaService is the runner's job handler and the sweeper's backfiller.
var (
	_ scheduler.JobHandler = (*MediaService)(nil)
	_ scheduler.Backfiller = (*MediaService)(nil)
)

// NewMediaService creates the orchestrator. Either engine may be nil
// when the capability probe found no processor for its media class.
func NewMediaService(
	cfg config.ConvertConfig,
	uploadsDir string,
	attachments repository.AttachmentRepository,
	jobs repository.ConvertJobRepository,
	tr *tracker.Tracker,
	qm *quota.Manager,
) *MediaService {
	return &MediaService{
		cfg:         cfg,
		uploadsDir:  strings.TrimRight(uploadsDir, "/"),
		attachments: attachments,
		jobs:        jobs,
		tracker:     tr,
		quota:       qm,
		logger:      slog.Default(),
	}
}

// WithLogger sets the logger for the service.
func (s *MediaService) WithLogger(logger *slog.Logger) *MediaService {
	s.logger = logger
	return s
}

// WithImageEngine sets the image conversion engine.
func (s *MediaService) WithImageEngine(engine Converter) *MediaService {
	s.imageEngine = engine
	return s
}

// WithVideoEngine sets the video conversion engine.
func (s *MediaService) WithVideoEngine(engine Converter) *MediaService {
	s.videoEngine = engine
	return s
}

// WithAnimationDetector sets the animated-GIF detector.
func (s *MediaService) WithAnimationDetector(detector AnimationDetector) *MediaService {
	s.detector = detector
	return s
}

// WithResolver sets the reference resolver used at render time.
func (s *MediaService) WithResolver(resolver Resolver) *MediaService {
	s.resolver = resolver
	return s
}

// enabledFormats returns the configured target formats for a media
// class, in fallback order. With hybrid mode off only the first
// configured format is produced.
func (s *MediaService) enabledFormats(media models.MediaType) []models.Format {
	var names []string
	if media == models.MediaTypeVideo {
		names = s.cfg.VideoFormats
	} else {
		names = s.cfg.ImageFormats
	}
	var formats []models.Format
	for _, name := range names {
		format, err := models.ParseFormat(name)
		if err != nil || format.MediaType() != media {
			continue
		}
		formats = append(formats, format)
	}
	if !s.cfg.Hybrid && len(formats) > 1 {
		formats = formats[:1]
	}
	return formats
}

// HandleUpload processes an upload or update event for an attachment.
// Eligible images convert synchronously and the result is returned;
// eligible videos are enqueued and the returned result is nil. An
// ineligible attachment returns (nil, nil): not converting is a policy
// outcome, not a failure.
func (s *MediaService) HandleUpload(ctx context.Context, attachmentID int64, sourcePath, mimeType string) (*convert.Result, error) {
	media, convertible := models.MediaTypeForMIME(mimeType)
	if !convertible {
		return nil, nil
	}

	if err := s.recordMeta(ctx, attachmentID, sourcePath, mimeType); err != nil {
		return nil, err
	}

	if media == models.MediaTypeVideo {
		return nil, s.enqueueVideo(ctx, attachmentID, sourcePath)
	}
	return s.convertImage(ctx, attachmentID, sourcePath, mimeType)
}

// recordMeta keeps the attachment metadata row current so render-time
// resolution works.
func (s *MediaService) recordMeta(ctx context.Context, attachmentID int64, sourcePath, mimeType string) error {
	rel, ok := strings.CutPrefix(sourcePath, s.uploadsDir+"/")
	if !ok {
		rel = filepath.Base(sourcePath)
	}
	meta := &models.AttachmentMeta{
		AttachmentID: attachmentID,
		RelativePath: rel,
		MIMEType:     mimeType,
	}
	if err := s.attachments.Upsert(ctx, meta); err != nil {
		return fmt.Errorf("recording attachment meta: %w", err)
	}
	return nil
}

// convertImage runs the synchronous image path.
func (s *MediaService) convertImage(ctx context.Context, attachmentID int64, sourcePath, mimeType string) (*convert.Result, error) {
	if s.imageEngine == nil {
		s.logger.Debug("no image processor available, skipping",
			slog.Int64("attachment_id", attachmentID))
		return nil, nil
	}

	if s.sourceTooLarge(sourcePath) {
		s.logger.Info("skipping oversized source",
			slog.Int64("attachment_id", attachmentID),
			slog.String("source", sourcePath),
			slog.Int64("limit", s.cfg.MaxSourceSize.Int64()))
		return nil, nil
	}

	if mimeType == "image/gif" && !s.cfg.ConvertAnimated && s.detector != nil {
		animated, err := s.detector.IsAnimated(sourcePath)
		if err != nil {
			return nil, fmt.Errorf("classifying gif: %w", err)
		}
		if animated {
			s.logger.Info("skipping animated gif",
				slog.Int64("attachment_id", attachmentID),
				slog.String("source", sourcePath))
			return nil, nil
		}
	}

	return s.runConversion(ctx, attachmentID, sourcePath, models.MediaTypeImage, s.imageEngine)
}

// enqueueVideo defers the conversion to the job queue. The same
// (attachment, source path) pair already in flight is not enqueued
// twice.
func (s *MediaService) enqueueVideo(ctx context.Context, attachmentID int64, sourcePath string) error {
	if s.videoEngine == nil {
		s.logger.Debug("no video processor available, skipping",
			slog.Int64("attachment_id", attachmentID))
		return nil
	}

	if s.sourceTooLarge(sourcePath) {
		s.logger.Info("skipping oversized source",
			slog.Int64("attachment_id", attachmentID),
			slog.String("source", sourcePath),
			slog.Int64("limit", s.cfg.MaxSourceSize.Int64()))
		return nil
	}

	missing, err := s.tracker.MissingFormats(ctx, attachmentID, achievableFormats(sourcePath, s.enabledFormats(models.MediaTypeVideo)))
	if err != nil {
		return fmt.Errorf("checking converted formats: %w", err)
	}
	if len(missing) == 0 {
		return nil
	}

	enqueued, err := s.jobs.Enqueue(ctx, &models.ConvertJob{
		AttachmentID: attachmentID,
		SourcePath:   sourcePath,
	})
	if err != nil {
		return fmt.Errorf("enqueueing video conversion: %w", err)
	}
	if enqueued {
		s.logger.Info("video conversion enqueued",
			slog.Int64("attachment_id", attachmentID),
			slog.String("source", sourcePath))
	}
	return nil
}

// Execute runs a claimed video conversion job on behalf of the
// scheduler's worker pool.
func (s *MediaService) Execute(ctx context.Context, job *models.ConvertJob) (string, error) {
	if s.videoEngine == nil {
		return "", models.ErrProcessorUnavailable
	}
	if _, err := os.Stat(job.SourcePath); err != nil {
		return "", fmt.Errorf("source file gone: %w", err)
	}

	result, err := s.runConversion(ctx, job.AttachmentID, job.SourcePath, models.MediaTypeVideo, s.videoEngine)
	if err != nil {
		return "", err
	}
	if result == nil || len(result.ConvertedFormats) == 0 {
		if result != nil && len(result.Errors) > 0 {
			return "", fmt.Errorf("no artifacts produced: %s", strings.Join(result.Errors, "; "))
		}
		return "nothing to convert", nil
	}

	names := make([]string, len(result.ConvertedFormats))
	for i, f := range result.ConvertedFormats {
		names[i] = string(f)
	}
	return "converted " + strings.Join(names, ", "), nil
}

// runConversion is the shared admission + convert + record path. Quota
// is metered per artifact: each format is admitted through an atomic
// reserve before its encode. A reserve denied by an exhausted quota
// stops admitting further formats but converts the ones already
// admitted.
func (s *MediaService) runConversion(ctx context.Context, attachmentID int64, sourcePath string, media models.MediaType, engine Converter) (*convert.Result, error) {
	missing, err := s.tracker.MissingFormats(ctx, attachmentID, achievableFormats(sourcePath, s.enabledFormats(media)))
	if err != nil {
		return nil, fmt.Errorf("checking converted formats: %w", err)
	}
	if len(missing) == 0 {
		return nil, nil
	}

	destinations := make(map[models.Format]string, len(missing))
	for _, format := range missing {
		if err := s.quota.Reserve(ctx, media); err != nil {
			if errors.Is(err, models.ErrQuotaExceeded) {
				break
			}
			return nil, err
		}
		destinations[format] = convert.ArtifactPath(sourcePath, format)
	}
	if len(destinations) == 0 {
		s.logger.Info("conversion skipped, quota exhausted",
			slog.Int64("attachment_id", attachmentID),
			slog.String("media_type", string(media)))
		return nil, fmt.Errorf("%w: %s", models.ErrQuotaExceeded, media)
	}

	result, err := engine.Process(ctx, sourcePath, destinations, nil)
	if err != nil {
		return nil, err
	}

	originalSize := fileSize(sourcePath)
	for _, format := range result.ConvertedFormats {
		artifact := result.ConvertedFiles[format]
		if err := s.tracker.RecordConversion(ctx, attachmentID, format, originalSize, fileSize(artifact)); err != nil {
			// The artifact exists; losing its ledger row would orphan it.
			return result, err
		}
	}
	return result, nil
}

// sourceTooLarge reports whether the source exceeds the configured
// size cap. A zero cap disables the check.
func (s *MediaService) sourceTooLarge(sourcePath string) bool {
	limit := s.cfg.MaxSourceSize.Int64()
	return limit > 0 && fileSize(sourcePath) > limit
}

// achievableFormats drops formats whose artifact path would collide
// with the source itself, such as av1 for an .mp4 source. Those
// formats are never wanted for the attachment, so ledger queries and
// the backfill sweep do not keep re-picking it.
func achievableFormats(sourcePath string, formats []models.Format) []models.Format {
	achievable := make([]models.Format, 0, len(formats))
	for _, format := range formats {
		if filepath.Clean(convert.ArtifactPath(sourcePath, format)) == filepath.Clean(sourcePath) {
			continue
		}
		achievable = append(achievable, format)
	}
	return achievable
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// HandleDelete removes an attachment's conversion state and artifacts.
// The original file belongs to the host system and is left alone.
func (s *MediaService) HandleDelete(ctx context.Context, attachmentID int64) error {
	meta, err := s.attachments.GetByAttachmentID(ctx, attachmentID)
	if err != nil {
		return fmt.Errorf("loading attachment meta: %w", err)
	}
	sourcePath := ""
	if meta != nil {
		sourcePath = s.uploadsDir + "/" + meta.RelativePath
	}

	if sourcePath != "" {
		if _, err := s.tracker.DeleteConversions(ctx, attachmentID, sourcePath); err != nil {
			return err
		}
	}
	if err := s.attachments.Delete(ctx, attachmentID); err != nil {
		return fmt.Errorf("deleting attachment meta: %w", err)
	}
	return nil
}

// Backfill picks up attachments missing converted formats, converting
// images inline and enqueueing videos. It satisfies the scheduler's
// Backfiller interface. Returns how many attachments were picked up.
func (s *MediaService) Backfill(ctx context.Context, batchSize int) (int, error) {
	picked := 0

	imageFormats := s.enabledFormats(models.MediaTypeImage)
	if s.imageEngine != nil && len(imageFormats) > 0 {
		n, err := s.backfillMedia(ctx, models.MediaTypeImage, imageFormats, batchSize)
		if err != nil {
			return picked, err
		}
		picked += n
	}

	videoFormats := s.enabledFormats(models.MediaTypeVideo)
	if s.videoEngine != nil && len(videoFormats) > 0 {
		n, err := s.backfillMedia(ctx, models.MediaTypeVideo, videoFormats, batchSize-picked)
		if err != nil {
			return picked, err
		}
		picked += n
	}

	return picked, nil
}

func (s *MediaService) backfillMedia(ctx context.Context, media models.MediaType, wanted []models.Format, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	batch, err := s.attachments.GetUnconverted(ctx, mimesFor(media), wanted, limit)
	if err != nil {
		return 0, fmt.Errorf("listing unconverted %s attachments: %w", media, err)
	}

	picked := 0
	for _, meta := range batch {
		sourcePath := s.uploadsDir + "/" + meta.RelativePath
		if _, err := os.Stat(sourcePath); err != nil {
			s.logger.Debug("backfill skipping missing source",
				slog.Int64("attachment_id", meta.AttachmentID),
				slog.String("source", sourcePath))
			continue
		}

		if media == models.MediaTypeVideo {
			err = s.enqueueVideo(ctx, meta.AttachmentID, sourcePath)
		} else {
			_, err = s.convertImage(ctx, meta.AttachmentID, sourcePath, meta.MIMEType)
		}
		if err != nil {
			if errors.Is(err, models.ErrQuotaExceeded) {
				s.logger.Info("backfill stopped, quota exhausted",
					slog.String("media_type", string(media)))
				return picked, nil
			}
			s.logger.Warn("backfill conversion failed",
				slog.Int64("attachment_id", meta.AttachmentID),
				slog.Any("error", err))
			continue
		}
		picked++
	}
	return picked, nil
}

func mimesFor(media models.MediaType) []string {
	if media == models.MediaTypeVideo {
		return []string{"video/mp4", "video/quicktime", "video/x-msvideo", "video/x-matroska", "video/mpeg"}
	}
	return []string{"image/jpeg", "image/png", "image/gif"}
}

// LookupArtifacts resolves a markup reference to its converted files.
// Wired into the content rewriter; an unknown reference returns an
// empty set.
func (s *MediaService) LookupArtifacts(ctx context.Context, src string) (convert.FileSet, error) {
	if s.resolver == nil {
		return nil, nil
	}
	attachmentID, err := s.resolver.Resolve(ctx, src)
	if err != nil || attachmentID == 0 {
		return nil, err
	}
	meta, err := s.attachments.GetByAttachmentID(ctx, attachmentID)
	if err != nil || meta == nil {
		return nil, err
	}
	return s.tracker.ConvertedFiles(ctx, attachmentID, s.uploadsDir+"/"+meta.RelativePath)
}

// Statistics aggregates recorded conversions per format.
func (s *MediaService) Statistics(ctx context.Context, filter repository.StatisticsFilter) ([]repository.FormatStatistics, error) {
	return s.tracker.Statistics(ctx, filter)
}
