package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/vodarr/internal/database"
	"github.com/jmylchreest/vodarr/internal/ffmpeg"
	"github.com/jmylchreest/vodarr/internal/queue"
	"github.com/jmylchreest/vodarr/internal/repository"
	"github.com/jmylchreest/vodarr/internal/transcode"
)

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Start a transcode worker",
	Long: `Start a transcode worker that drains the shared job queue.

The worker recovers transcodes orphaned by a previous crash, then blocks on
the queue, encoding each job into the HLS ladder (or a single MP4) and
publishing progress as it goes. Run as many workers as the hardware allows;
the queue serializes the work.`,
	RunE: runWork,
}

func init() {
	rootCmd.AddCommand(workCmd)
}

func runWork(_ *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bins, err := ffmpeg.ResolveBinaries(cfg.Transcode)
	if err != nil {
		return fmt.Errorf("locating ffmpeg binaries: %w", err)
	}
	logger.Info("ffmpeg binaries resolved",
		slog.String("ffmpeg", bins.FFmpeg),
		slog.String("ffprobe", bins.FFprobe),
	)

	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	repo := repository.NewMediaItemRepository(db.DB)

	store, err := queue.New(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer store.Close()

	worker := transcode.New(repo, store, store, bins, cfg.Transcode, cfg.Media.Root, logger)
	return worker.Run(ctx)
}
