// Package transcode implements the transcode worker: a long-running consumer
// of the job queue that produces HLS ladders and MP4 outputs, publishes live
// progress, and reconciles orphaned work at start.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/vodarr/internal/config"
	"github.com/jmylchreest/vodarr/internal/ffmpeg"
	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/observability"
	"github.com/jmylchreest/vodarr/internal/queue"
	"github.com/jmylchreest/vodarr/internal/repository"
)

// Worker drains the transcode job queue. One worker processes one job at a
// time; multiple workers may share a queue.
type Worker struct {
	repo     repository.MediaItemRepository
	jobs     queue.JobQueue
	status   queue.StatusStore
	runner   *ffmpeg.Runner
	prober   *ffmpeg.Prober
	cfg      config.TranscodeConfig
	root     string
	workerID string
	logger   *slog.Logger
}

// New creates a transcode worker.
func New(
	repo repository.MediaItemRepository,
	jobs queue.JobQueue,
	status queue.StatusStore,
	bins *ffmpeg.Binaries,
	cfg config.TranscodeConfig,
	mediaRoot string,
	logger *slog.Logger,
) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	hostname, _ := os.Hostname()
	workerID := fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8])

	return &Worker{
		repo:     repo,
		jobs:     jobs,
		status:   status,
		runner:   ffmpeg.NewRunner(bins.FFmpeg, logger),
		prober:   ffmpeg.NewProber(bins.FFprobe),
		cfg:      cfg,
		root:     mediaRoot,
		workerID: workerID,
		logger:   observability.WithComponent(logger, "worker").With(slog.String("worker_id", workerID)),
	}
}

// Run executes the recovery sweep, then blocks draining the queue until ctx
// is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.RecoverySweep(ctx); err != nil {
		return fmt.Errorf("recovery sweep: %w", err)
	}

	go w.heartbeatLoop(ctx)

	w.logger.Info("worker started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping")
			return nil
		default:
		}

		job, err := w.jobs.Pop(ctx, w.cfg.QueuePopTimeout)
		if err != nil {
			if errors.Is(err, queue.ErrEmpty) || errors.Is(err, context.Canceled) {
				continue
			}
			w.logger.Warn("queue pop failed", slog.String("error", err.Error()))
			// Back off a little so a broken queue does not spin the loop.
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			continue
		}

		w.handle(ctx, job)
	}
}

// handle dispatches one job by kind.
func (w *Worker) handle(ctx context.Context, job *models.TranscodeJob) {
	log := w.logger.With(slog.String("item", job.ItemID), slog.String("job", job.JobID))

	if err := job.Validate(); err != nil {
		log.Error("dropping invalid job", slog.String("error", err.Error()))
		return
	}

	log.Info("job started", slog.String("kind", string(job.Kind)))
	start := time.Now()

	var err error
	switch job.Kind {
	case models.JobKindHLSLadder:
		err = w.runLadder(ctx, job)
	case models.JobKindSingleMP4:
		err = w.runSingleMP4(ctx, job)
	}

	if err != nil {
		log.Error("job failed",
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return
	}
	log.Info("job finished", slog.Duration("elapsed", time.Since(start)))
}

// heartbeatLoop publishes the worker health record at a fixed cadence.
func (w *Worker) heartbeatLoop(ctx context.Context) {
	interval := w.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	publish := func() {
		hb := &models.WorkerHeartbeat{
			Status:   "healthy",
			WorkerID: w.workerID,
			LastSeen: time.Now().Unix(),
		}
		if err := w.status.SetHeartbeat(ctx, hb); err != nil {
			w.logger.Warn("publishing heartbeat failed", slog.String("error", err.Error()))
		}
	}

	publish()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			publish()
		}
	}
}

// failItem drives the durable record to ERROR and mirrors the failure to the
// live status with a machine-readable code.
func (w *Worker) failItem(ctx context.Context, itemID, message string, code models.ErrorCode) {
	item, err := w.repo.GetByID(ctx, itemID)
	if err != nil || item == nil {
		w.logger.Error("cannot load item to record failure", slog.String("item", itemID))
		return
	}
	item.SetError(message)
	if err := w.repo.Save(ctx, item); err != nil {
		w.logger.Error("persisting item error failed",
			slog.String("item", itemID), slog.String("error", err.Error()))
	}
	w.publish(ctx, itemID, &models.LiveStatus{
		Status: models.StatusError,
		Error:  &models.LiveError{Code: code, Message: message},
	})
}

// finalizeReady loads the item, applies the terminal mutation, and persists
// the READY record. A refused transition leaves the record untouched and
// reports readied=false.
func (w *Worker) finalizeReady(ctx context.Context, itemID string, mutate func(*models.MediaItem)) (bool, error) {
	item, err := w.repo.GetByID(ctx, itemID)
	if err != nil || item == nil {
		return false, fmt.Errorf("loading item %s for finalization: %w", itemID, err)
	}
	if err := item.Transition(models.StatusReady); err != nil {
		// The item moved to a terminal state under us.
		w.logger.Warn("refusing ready transition",
			slog.String("item", itemID),
			slog.String("status", string(item.Status)),
			slog.String("error", err.Error()),
		)
		return false, nil
	}
	mutate(item)
	if err := w.repo.Save(ctx, item); err != nil {
		return false, fmt.Errorf("persisting ready item %s: %w", itemID, err)
	}
	return true, nil
}

func (w *Worker) publish(ctx context.Context, id string, st *models.LiveStatus) {
	if err := w.status.SetStatus(ctx, id, st); err != nil {
		w.logger.Warn("publishing live status failed",
			slog.String("item", id), slog.String("error", err.Error()))
	}
}
