package transcode

import (
	"context"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/vodarr/internal/config"
	"github.com/jmylchreest/vodarr/internal/hls"
	"github.com/jmylchreest/vodarr/internal/models"
)

// RecoverySweep reconciles work orphaned by a crash. It runs once, before the
// main loop: every record still marked TRANSCODING below full progress gets
// its partial outputs pruned and its job re-enqueued, or is failed outright
// when the source file has disappeared.
func (w *Worker) RecoverySweep(ctx context.Context) error {
	items, err := w.repo.ListByStatus(ctx, models.StatusTranscoding)
	if err != nil {
		return err
	}

	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)

	for _, item := range items {
		if item.TranscodeProgress >= 100 {
			continue
		}
		log := w.logger.With(slog.String("item", item.ID))

		if item.SourceVideoPath == "" {
			w.failItem(ctx, item.ID, "video file not found", models.ErrorCodeMissingSource)
			continue
		}
		if _, err := os.Stat(item.SourceVideoPath); err != nil {
			w.failItem(ctx, item.ID, "video file not found", models.ErrorCodeMissingSource)
			continue
		}

		dir := hls.ItemDir(w.root, item.ID)
		if err := hls.CleanOutputs(dir); err != nil {
			log.Warn("pruning partial outputs failed", slog.String("error", err.Error()))
			continue
		}

		item.TranscodeProgress = 0
		item.AvailableRungs = nil
		if err := w.repo.Save(ctx, item); err != nil {
			log.Error("persisting recovered item failed", slog.String("error", err.Error()))
			continue
		}

		kind := models.JobKindHLSLadder
		if w.cfg.OutputMode == config.OutputModeMP4 {
			kind = models.JobKindSingleMP4
		}
		job := &models.TranscodeJob{
			JobID:     ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String(),
			Kind:      kind,
			ItemID:    item.ID,
			InputPath: item.SourceVideoPath,
			OutputDir: dir,
			Options: models.TranscodeOptions{
				SegmentSeconds:   w.cfg.SegmentSeconds,
				Rungs:            models.DefaultLadder(),
				Preset:           w.cfg.Preset,
				CRF:              w.cfg.CRF,
				EnableThumbnails: w.cfg.EnableThumbnails,
				EnableParallel:   w.cfg.MaxParallel > 1,
				MaxParallel:      w.cfg.MaxParallel,
			},
		}
		if err := w.jobs.Push(ctx, job); err != nil {
			log.Error("re-enqueuing recovered job failed", slog.String("error", err.Error()))
			continue
		}

		w.publish(ctx, item.ID, &models.LiveStatus{
			Status:   models.StatusTranscoding,
			Progress: 0,
			Message:  "transcode restarted after recovery",
		})
		log.Info("orphaned transcode re-enqueued", slog.String("job", job.JobID))
	}

	return nil
}
