package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/optipress/optipress/internal/config"
	"github.com/optipress/optipress/internal/convert"
	"github.com/optipress/optipress/internal/database"
	"github.com/optipress/optipress/internal/ffmpeg"
	"github.com/optipress/optipress/internal/gifdetect"
	"github.com/optipress/optipress/internal/models"
	"github.com/optipress/optipress/internal/observability"
	"github.com/optipress/optipress/internal/probe"
	"github.com/optipress/optipress/internal/quota"
	"github.com/optipress/optipress/internal/repository"
	"github.com/optipress/optipress/internal/resolver"
	"github.com/optipress/optipress/internal/scheduler"
	"github.com/optipress/optipress/internal/service"
	"github.com/optipress/optipress/internal/tracker"
	"github.com/optipress/optipress/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the optipress conversion daemon",
	Long: `Start the optipress daemon.

The daemon runs:
- a worker pool executing queued video conversions
- a periodic backfill sweep that picks up not-yet-converted attachments`,
	RunE: runServe,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a single backfill pass and exit",
	Long: `Run one backfill sweep immediately: find attachments missing
converted formats, convert images inline, and enqueue videos. Queued
video jobs are executed by a running daemon, not by this command.`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sweepCmd)

	serveCmd.Flags().Int("workers", 0, "Number of video conversion workers (0 = config value)")
	sweepCmd.Flags().Int("batch-size", 0, "Sweep batch size (0 = config value)")
}

// app bundles the wired pipeline shared by the CLI commands.
type app struct {
	cfg     *config.Config
	db      *database.DB
	vips    *convert.VipsLibrary
	svc     *service.MediaService
	jobs    repository.ConvertJobRepository
	quota   *quota.Manager
	logger  *slog.Logger
	cleanup func()
}

// buildApp wires the pipeline: database, capability probe, engines, and
// the media service.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := slog.Default()

	db, err := database.New(cfg.Database, observability.WithComponent(logger, "database"))
	if err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	attachments := repository.NewAttachmentRepository(db.DB)
	records := repository.NewConversionRecordRepository(db.DB)
	quotas := repository.NewQuotaRepository(db.DB)
	jobs := repository.NewConvertJobRepository(db.DB)

	vipsLib := convert.NewVipsLibrary(observability.WithComponent(logger, "vips"))
	vipsLib.Startup()

	detector := ffmpeg.NewBinaryDetector(cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath)
	capabilities := probe.New(vipsLib, detector).
		WithLogger(observability.WithComponent(logger, "probe"))

	imageCap := capabilities.DetectImageProcessor(ctx, parseFormats(cfg.Convert.ImageFormats))
	videoCap := capabilities.DetectVideoProcessor(ctx, parseFormats(cfg.Convert.VideoFormats))
	settings := convert.SettingsFromConfig(cfg.Convert)

	quotaManager := quota.NewManager(quotas, cfg.Quota).
		WithLogger(observability.WithComponent(logger, "quota"))
	svc := service.NewMediaService(
		cfg.Convert,
		cfg.Storage.UploadsDir,
		attachments,
		jobs,
		tracker.New(records).WithLogger(observability.WithComponent(logger, "tracker")),
		quotaManager,
	).WithLogger(observability.WithComponent(logger, "service"))

	if imageCap != nil {
		encoder, err := imageEncoderFor(ctx, imageCap, vipsLib, detector)
		if err != nil {
			vipsLib.Shutdown()
			db.Close()
			return nil, err
		}
		svc.WithImageEngine(convert.NewImageEngine(encoder, settings).
			WithLogger(observability.WithComponent(logger, "image-engine")))
	} else {
		logger.Warn("no image processor available, image conversion disabled")
	}

	if videoCap != nil {
		info, err := detector.Detect(ctx)
		if err != nil {
			vipsLib.Shutdown()
			db.Close()
			return nil, fmt.Errorf("detecting ffmpeg: %w", err)
		}
		runner := ffmpeg.NewRunner(info.FFmpegPath).
			WithLogger(observability.WithComponent(logger, "ffmpeg"))
		svc.WithVideoEngine(convert.NewVideoEngine(runner, videoCap, settings).
			WithLogger(observability.WithComponent(logger, "video-engine")))
	} else {
		logger.Warn("no video processor available, video conversion disabled")
	}

	var frames gifdetect.FrameCounter = vipsLib
	if !vipsLib.Available() {
		if info, err := detector.Detect(ctx); err == nil && info.FFprobePath != "" {
			frames = ffmpeg.NewFrameProber(info.FFprobePath).
				WithLogger(observability.WithComponent(logger, "ffprobe"))
		}
	}
	svc.WithAnimationDetector(gifdetect.NewDetector(frames).
		WithLogger(observability.WithComponent(logger, "gifdetect")))

	res, err := resolver.New(attachments, cfg.Storage.UploadsDir, cfg.Storage.BaseURL)
	if err != nil {
		vipsLib.Shutdown()
		db.Close()
		return nil, fmt.Errorf("initializing resolver: %w", err)
	}
	svc.WithResolver(res.WithLogger(observability.WithComponent(logger, "resolver")))

	return &app{
		cfg:    cfg,
		db:     db,
		vips:   vipsLib,
		svc:    svc,
		jobs:   jobs,
		quota:  quotaManager,
		logger: logger,
		cleanup: func() {
			vipsLib.Shutdown()
			if err := db.Close(); err != nil {
				logger.Error("closing database", slog.Any("error", err))
			}
		},
	}, nil
}

// imageEncoderFor returns the encoder backend matching the probed
// capability.
func imageEncoderFor(ctx context.Context, capability *probe.Capability, vipsLib *convert.VipsLibrary, detector *ffmpeg.BinaryDetector) (convert.ImageEncoder, error) {
	switch capability.Kind {
	case probe.ProcessorVips:
		return convert.NewVipsEncoder(vipsLib), nil
	case probe.ProcessorFFmpeg:
		info, err := detector.Detect(ctx)
		if err != nil {
			return nil, fmt.Errorf("detecting ffmpeg: %w", err)
		}
		return convert.NewFFmpegImageEncoder(ffmpeg.NewRunner(info.FFmpegPath), capability), nil
	}
	return nil, fmt.Errorf("unknown processor kind %q", capability.Kind)
}

func parseFormats(names []string) []models.Format {
	var formats []models.Format
	for _, name := range names {
		format, err := models.ParseFormat(name)
		if err != nil {
			continue
		}
		formats = append(formats, format)
	}
	return formats
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer application.cleanup()

	logger := application.logger
	logger.Info("starting optipress",
		slog.String("version", version.Short()),
		slog.String("uploads_dir", application.cfg.Storage.UploadsDir))

	runnerCfg := scheduler.DefaultRunnerConfig()
	if workers, _ := cmd.Flags().GetInt("workers"); workers > 0 {
		runnerCfg.WorkerCount = workers
	} else if application.cfg.Convert.Workers > 0 {
		runnerCfg.WorkerCount = application.cfg.Convert.Workers
	}

	runner := scheduler.NewRunner(application.jobs, application.svc).
		WithLogger(observability.WithComponent(logger, "runner")).
		WithConfig(runnerCfg)
	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("starting runner: %w", err)
	}
	defer runner.Stop()

	sweeper, err := scheduler.NewSweeper(
		application.svc,
		application.cfg.Convert.SweepSchedule,
		application.cfg.Convert.SweepBatchSize,
	)
	if err != nil {
		return fmt.Errorf("creating sweeper: %w", err)
	}
	sweeper.WithLogger(observability.WithComponent(logger, "sweeper"))
	if err := sweeper.Start(ctx); err != nil {
		return fmt.Errorf("starting sweeper: %w", err)
	}
	defer sweeper.Stop()

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer application.cleanup()

	batchSize := application.cfg.Convert.SweepBatchSize
	if flagBatch, _ := cmd.Flags().GetInt("batch-size"); flagBatch > 0 {
		batchSize = flagBatch
	}

	picked, err := application.svc.Backfill(ctx, batchSize)
	if err != nil {
		return fmt.Errorf("running backfill: %w", err)
	}
	application.logger.Info("sweep finished", slog.Int("picked_up", picked))
	return nil
}
