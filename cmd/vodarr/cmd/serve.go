package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/vodarr/internal/database"
	"github.com/jmylchreest/vodarr/internal/downloader"
	internalhttp "github.com/jmylchreest/vodarr/internal/http"
	"github.com/jmylchreest/vodarr/internal/http/handlers"
	"github.com/jmylchreest/vodarr/internal/metrics"
	"github.com/jmylchreest/vodarr/internal/monitor"
	"github.com/jmylchreest/vodarr/internal/queue"
	"github.com/jmylchreest/vodarr/internal/repository"
	"github.com/jmylchreest/vodarr/internal/version"
)

// metricsSampleInterval is how often the library and queue gauges refresh.
const metricsSampleInterval = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the vodarr server",
	Long: `Start the vodarr HTTP server, the streaming endpoints, and the
download monitor.

The server provides:
- REST API for the media library under /api/v1
- HLS playlists, segments and thumbnails under /stream/{id}
- Health endpoints and Prometheus metrics
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "host to bind to (overrides config)")
	serveCmd.Flags().Int("port", 0, "port to listen on (overrides config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	client := downloader.New(cfg.Downloader, logger)

	mon := monitor.New(repo, client, store, store, cfg.Media, cfg.Transcode,
		cfg.Downloader.DownloadDir, logger)
	if err := mon.Start(ctx); err != nil {
		return fmt.Errorf("starting download monitor: %w", err)
	}
	defer mon.Stop()

	m := metrics.New()
	go m.RunSampler(ctx, repo, store, metricsSampleInterval)

	srv := internalhttp.NewServer(cfg.Server, version.Short(), logger, m)

	handlers.NewHealthHandler(version.Short()).
		WithDB(db).
		WithRedis(store).
		WithHeartbeats(store).
		Register(srv.API())
	handlers.NewMediaHandler(repo, mon, store, cfg.Media.Root, logger).
		Register(srv.API())
	handlers.NewStreamHandler(repo, cfg.Media.Root, logger).
		WithMetrics(m).
		Register(srv.Router())

	return srv.ListenAndServe(ctx)
}
