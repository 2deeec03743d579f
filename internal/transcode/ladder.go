package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmylchreest/vodarr/internal/ffmpeg"
	"github.com/jmylchreest/vodarr/internal/hls"
	"github.com/jmylchreest/vodarr/internal/models"
)

// runLadder executes an HLS ladder job end to end: probe, rung selection,
// batched parallel encodes, progressive publishing, finalization.
func (w *Worker) runLadder(ctx context.Context, job *models.TranscodeJob) error {
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

	video := probe.GetVideoStream()
	rungs := selectRungs(job.Options.Rungs, video.Width, video.Height)
	if len(rungs) == 0 {
		err := fmt.Errorf("source %dx%d below the lowest ladder rung", video.Width, video.Height)
		w.failItem(ctx, job.ItemID, err.Error(), models.ErrorCodeRungFailure)
		return err
	}

	if err := hls.EnsureDir(job.OutputDir); err != nil {
		w.failItem(ctx, job.ItemID, "cannot create output directory", models.ErrorCodeTransient)
		return err
	}
	// Drop partial artifacts so a replayed job converges on the same outputs.
	if err := hls.CleanOutputs(job.OutputDir); err != nil {
		w.failItem(ctx, job.ItemID, "cannot clean output directory", models.ErrorCodeTransient)
		return err
	}
	if err := ffmpeg.WriteMetadata(job.OutputDir, ffmpeg.NewMediaMetadata(probe)); err != nil {
		log.Warn("writing metadata failed", slog.String("error", err.Error()))
	}

	opts := ffmpeg.EncodeOptions{
		SegmentSeconds: job.Options.SegmentSeconds,
		Preset:         job.Options.Preset,
		CRF:            job.Options.CRF,
	}
	duration := probe.DurationSeconds()
	segSeconds := job.Options.SegmentSeconds
	if segSeconds <= 0 {
		segSeconds = 10
	}
	expectedSegments := int(math.Ceil(duration / float64(segSeconds)))
	if expectedSegments < 1 {
		expectedSegments = 1
	}

	tracker := newProgressTracker(len(rungs), expectedSegments, job.OutputDir)

	samplerCtx, stopSampler := context.WithCancel(ctx)
	defer stopSampler()
	go w.sampleProgress(samplerCtx, job.ItemID, rungs, tracker)

	order := interleaveOrder(rungs)
	maxParallel := job.Options.MaxParallel
	if !job.Options.EnableParallel || maxParallel < 1 {
		maxParallel = 1
	}

	var successful []string
	for start := 0; start < len(order); start += maxParallel {
		end := start + maxParallel
		if end > len(order) {
			end = len(order)
		}
		batch := order[start:end]

		var wg sync.WaitGroup
		results := make([]error, len(batch))
		for i, rung := range batch {
			wg.Add(1)
			tracker.StartRung(rung.Suffix)
			go func(i int, rung models.Rung) {
				defer wg.Done()
				args := ffmpeg.BuildHLSArgs(job.InputPath, job.OutputDir, rung, opts)
				results[i] = w.runner.Run(ctx, args, nil)
			}(i, rung)
		}
		wg.Wait()

		for i, rung := range batch {
			if results[i] != nil {
				// A failed rung is local: record it and continue the job.
				tracker.FailRung(rung.Suffix)
				log.Warn("rung encode failed",
					slog.String("rung", rung.Name),
					slog.String("error", results[i].Error()),
				)
				continue
			}
			first := tracker.CompleteRung(rung.Suffix)
			successful = append(successful, rung.Suffix)

			if first {
				// First finished rung unblocks streaming while the rest of
				// the ladder is still encoding.
				w.publish(ctx, job.ItemID, &models.LiveStatus{
					Status:                models.StatusReady,
					Progress:              tracker.Progress(),
					AvailableRungs:        []string{rung.Suffix},
					AvailableForStreaming: true,
				})
			}
			if err := w.repo.UpdateTranscodeState(ctx, job.ItemID,
				tracker.Progress(), orderedByLadder(rungs, successful)); err != nil {
				log.Warn("persisting rung completion failed", slog.String("error", err.Error()))
			}
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	stopSampler()

	if len(successful) == 0 {
		w.failItem(ctx, job.ItemID, "transcoding failed for every quality rung",
			models.ErrorCodeRungFailure)
		return models.ErrNoRungsSucceeded
	}

	if job.Options.EnableThumbnails {
		if err := w.generateThumbnails(ctx, job.InputPath, job.OutputDir, duration); err != nil {
			log.Warn("thumbnail generation failed", slog.String("error", err.Error()))
		}
	}

	available := orderedByLadder(rungs, successful)
	readied, err := w.finalizeReady(ctx, job.ItemID, func(item *models.MediaItem) {
		item.AvailableRungs = available
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
		AvailableRungs:        available,
		AvailableForStreaming: true,
	})
	return nil
}

// selectRungs filters the requested ladder down to rungs the source can feed
// without upscaling. An empty request means the default ladder.
func selectRungs(requested []models.Rung, srcWidth, srcHeight int) []models.Rung {
	if len(requested) == 0 {
		requested = models.DefaultLadder()
	}
	var fit []models.Rung
	for _, r := range requested {
		if r.FitsSource(srcWidth, srcHeight) {
			fit = append(fit, r)
		}
	}
	return fit
}

// interleaveOrder orders rungs outside-in: lowest first (fastest path to a
// streamable rung), then highest (longest encode starts early), then inward.
func interleaveOrder(rungs []models.Rung) []models.Rung {
	out := make([]models.Rung, 0, len(rungs))
	lo, hi := 0, len(rungs)-1
	for lo <= hi {
		out = append(out, rungs[lo])
		if lo != hi {
			out = append(out, rungs[hi])
		}
		lo++
		hi--
	}
	return out
}

// orderedByLadder returns the successful suffixes in ladder (ascending
// bandwidth) order.
func orderedByLadder(ladder []models.Rung, successful []string) models.StringList {
	set := make(map[string]bool, len(successful))
	for _, s := range successful {
		set[s] = true
	}
	var out models.StringList
	for _, r := range ladder {
		if set[r.Suffix] {
			out = append(out, r.Suffix)
		}
	}
	return out
}

// sampleProgress periodically counts produced segments and republishes item
// progress until the context is cancelled.
func (w *Worker) sampleProgress(ctx context.Context, itemID string, rungs []models.Rung, tracker *progressTracker) {
	interval := w.cfg.ProgressInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.publishSampledProgress(ctx, itemID, rungs, tracker)
		}
	}
}

// publishSampledProgress emits one progress sample. Once a rung has finished,
// the live record keeps advertising it as streamable and the durable write
// carries the finished rungs, so a sample never regresses what the rung
// completion path already published.
func (w *Worker) publishSampledProgress(ctx context.Context, itemID string, rungs []models.Rung, tracker *progressTracker) {
	p := tracker.Progress()
	available := orderedByLadder(rungs, tracker.CompletedRungs())

	live := &models.LiveStatus{
		Status:   models.StatusTranscoding,
		Progress: p,
	}
	if len(available) > 0 {
		live.Status = models.StatusReady
		live.AvailableRungs = available
		live.AvailableForStreaming = true
	}
	w.publish(ctx, itemID, live)

	if err := w.repo.UpdateTranscodeState(ctx, itemID, p, available); err != nil {
		w.logger.Debug("persisting sampled progress failed",
			slog.String("item", itemID), slog.String("error", err.Error()))
	}
}

// generateThumbnails extracts between 3 and 10 frames uniformly spaced across
// the duration into the thumbnails sub-directory.
func (w *Worker) generateThumbnails(ctx context.Context, input, outDir string, duration float64) error {
	count := int(duration / 600)
	if count < 3 {
		count = 3
	}
	if count > 10 {
		count = 10
	}

	thumbDir := filepath.Join(outDir, hls.ThumbnailsDir)
	if err := hls.EnsureDir(thumbDir); err != nil {
		return err
	}

	for i := 0; i < count; i++ {
		offset := duration * (float64(i) + 0.5) / float64(count)
		out := filepath.Join(thumbDir, hls.ThumbnailName(i))
		if err := w.runner.Run(ctx, ffmpeg.BuildThumbnailArgs(input, out, offset), nil); err != nil {
			return fmt.Errorf("thumbnail %d: %w", i, err)
		}
	}
	return nil
}
