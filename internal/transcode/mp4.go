package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/jmylchreest/vodarr/internal/ffmpeg"
	"github.com/jmylchreest/vodarr/internal/models"
)

// mp4CRF trades size for quality more generously than the ladder encodes; a
// single file has no adaptive fallback.
const mp4CRF = 23

// runSingleMP4 encodes the source to one 720p MP4. The encode writes to a
// temp path and is renamed into place so readers never observe a partial
// file.
func (w *Worker) runSingleMP4(ctx context.Context, job *models.TranscodeJob) error {
	log := w.logger.With(slog.String("item", job.ItemID))

	probe, err := w.prober.ValidateSource(ctx, job.InputPath)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrMissingSource):
			w.failItem(ctx, job.ItemID, "video file not found", models.ErrorCodeMissingSource)
		default:
			w.failItem(ctx, job.ItemID,
				fmt.Sprintf("file may be corrupted: %v", err), models.ErrorCodeInputCorrupt)
		}
		return err
	}
	duration := probe.DurationSeconds()

	if err := os.MkdirAll(job.OutputDir, 0o755); err != nil {
		w.failItem(ctx, job.ItemID, "cannot create output directory", models.ErrorCodeTransient)
		return err
	}

	finalPath := filepath.Join(job.OutputDir, job.ItemID+".mp4")
	tmpPath := finalPath + ".tmp"
	defer os.Remove(tmpPath)

	opts := ffmpeg.EncodeOptions{Preset: job.Options.Preset, CRF: mp4CRF}
	args := ffmpeg.BuildMP4Args(job.InputPath, tmpPath, opts)

	// Progress comes from the encoder's time-mark lines on stderr.
	onProgress := func(seconds float64) {
		if duration <= 0 {
			return
		}
		p := math.Round(seconds/duration*100*100) / 100
		if p > 99 {
			p = 99
		}
		w.publish(ctx, job.ItemID, &models.LiveStatus{
			Status:   models.StatusTranscoding,
			Progress: p,
		})
	}

	if err := w.runner.Run(ctx, args, onProgress); err != nil {
		w.failItem(ctx, job.ItemID, "transcoding failed", models.ErrorCodeRungFailure)
		return err
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		w.failItem(ctx, job.ItemID, "finalizing output failed", models.ErrorCodeTransient)
		return fmt.Errorf("renaming %s: %w", tmpPath, err)
	}

	readied, err := w.finalizeReady(ctx, job.ItemID, func(item *models.MediaItem) {
		item.TranscodedPath = finalPath
		item.FullyTranscoded = true
		item.TranscodeProgress = 100
	})
	if err != nil {
		return err
	}
	if !readied {
		return nil
	}

	w.publish(ctx, job.ItemID, &models.LiveStatus{
		Status:                models.StatusReady,
		Progress:              100,
		AvailableForStreaming: true,
	})
	log.Info("mp4 transcode finished", slog.String("output", finalPath))
	return nil
}
