// Package monitor implements the download monitor: a periodic reconciler
// between the external downloader, the durable media records, and the
// transcode job queue.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/vodarr/internal/config"
	"github.com/jmylchreest/vodarr/internal/downloader"
	"github.com/jmylchreest/vodarr/internal/ffmpeg"
	"github.com/jmylchreest/vodarr/internal/hls"
	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/observability"
	"github.com/jmylchreest/vodarr/internal/queue"
	"github.com/jmylchreest/vodarr/internal/repository"
)

// nearCompleteFraction is the on-disk size fraction at which a download with
// no downloader record is considered finished (missed-completion sweep).
const nearCompleteFraction = 0.99

// stoppedPageSize bounds how many stopped downloads one tick reconciles.
const stoppedPageSize = 100

// Monitor reconciles downloader state with media records and enqueues
// transcode jobs subject to the single-flight rule.
type Monitor struct {
	repo      repository.MediaItemRepository
	client    downloader.Client
	jobs      queue.JobQueue
	status    queue.StatusStore
	mediaCfg  config.MediaConfig
	transCfg  config.TranscodeConfig
	dlDir     string
	logger    *slog.Logger
	inflight  *inflightSet
	entropy   *ulid.MonotonicEntropy
	entropyMu sync.Mutex

	cron     *cron.Cron
	tickBusy sync.Mutex
}

// New creates a download monitor.
func New(
	repo repository.MediaItemRepository,
	client downloader.Client,
	jobs queue.JobQueue,
	status queue.StatusStore,
	mediaCfg config.MediaConfig,
	transCfg config.TranscodeConfig,
	downloadDir string,
	logger *slog.Logger,
) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		repo:     repo,
		client:   client,
		jobs:     jobs,
		status:   status,
		mediaCfg: mediaCfg,
		transCfg: transCfg,
		dlDir:    downloadDir,
		logger:   observability.WithComponent(logger, "monitor"),
		inflight: newInflightSet(),
		entropy:  ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// Start rebuilds the single-flight set from durable state and begins the
// periodic tick.
func (m *Monitor) Start(ctx context.Context) error {
	if err := m.rebuildInflight(ctx); err != nil {
		return fmt.Errorf("rebuilding single-flight set: %w", err)
	}

	m.cron = cron.New()
	spec := "@every " + m.mediaCfg.MonitorInterval.String()
	if _, err := m.cron.AddFunc(spec, func() { m.Tick(context.Background()) }); err != nil {
		return fmt.Errorf("scheduling monitor tick: %w", err)
	}
	m.cron.Start()

	m.logger.Info("monitor started",
		slog.Duration("interval", m.mediaCfg.MonitorInterval),
		slog.Int("inflight", m.inflight.Len()),
	)
	return nil
}

// Stop halts the periodic tick and waits for a running tick to finish.
func (m *Monitor) Stop() {
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
	m.tickBusy.Lock()
	m.tickBusy.Unlock() //nolint:staticcheck // barrier: wait for in-flight tick
	m.logger.Info("monitor stopped")
}

// rebuildInflight seeds the single-flight set with every record already in
// TRANSCODING so a restart cannot double-enqueue running work.
func (m *Monitor) rebuildInflight(ctx context.Context) error {
	items, err := m.repo.ListByStatus(ctx, models.StatusTranscoding)
	if err != nil {
		return err
	}
	for _, item := range items {
		m.inflight.TryAdd(item.ID)
	}
	return nil
}

// Tick runs one reconciliation pass. Overlapping ticks are skipped.
func (m *Monitor) Tick(ctx context.Context) {
	if !m.tickBusy.TryLock() {
		m.logger.Debug("tick still running, skipping")
		return
	}
	defer m.tickBusy.Unlock()

	m.releaseTerminal(ctx)
	m.sweepMissedCompletions(ctx)
	m.sweepTranscodingCompletions(ctx)
	m.reconcileActive(ctx)
	m.reconcileStopped(ctx)
}

// releaseTerminal drops single-flight entries for items the worker has
// already driven to a terminal state.
func (m *Monitor) releaseTerminal(ctx context.Context) {
	for _, id := range m.inflight.Snapshot() {
		item, err := m.repo.GetByID(ctx, id)
		if err != nil {
			continue
		}
		if item == nil || item.IsTerminal() {
			m.inflight.Remove(id)
		}
	}
}

// sweepMissedCompletions promotes DOWNLOADING items whose bound video file is
// already (nearly) fully on disk. This catches completions the downloader
// reported while no monitor was listening.
func (m *Monitor) sweepMissedCompletions(ctx context.Context) {
	items, err := m.repo.ListByStatus(ctx, models.StatusDownloading)
	if err != nil {
		m.logger.Error("missed-completion sweep failed", slog.String("error", err.Error()))
		return
	}

	for _, item := range items {
		if item.SourceVideoPath == "" {
			continue
		}
		info, err := os.Stat(item.SourceVideoPath)
		if err != nil {
			continue
		}
		nearComplete := item.TotalBytes > 0 &&
			float64(info.Size()) >= float64(item.TotalBytes)*nearCompleteFraction
		if !nearComplete && info.Size() < m.mediaCfg.ProgressiveThreshold.Bytes() {
			continue
		}
		m.promoteToTranscoding(ctx, item, item.SourceVideoPath)
	}
}

// sweepTranscodingCompletions moves TRANSCODING items to READY once every
// expected rung playlist on disk is terminated.
func (m *Monitor) sweepTranscodingCompletions(ctx context.Context) {
	items, err := m.repo.ListByStatus(ctx, models.StatusTranscoding)
	if err != nil {
		m.logger.Error("completion sweep failed", slog.String("error", err.Error()))
		return
	}

	for _, item := range items {
		dir := hls.ItemDir(m.mediaCfg.Root, item.ID)

		rungs, err := hls.RungPlaylists(dir)
		if err != nil || len(rungs) == 0 {
			continue
		}
		expected := m.expectedRungs(dir, rungs)

		allDone := true
		for _, r := range expected {
			done, err := hls.IsPlaylistComplete(filepath.Join(dir, hls.PlaylistName(r)))
			if err != nil || !done {
				allDone = false
				break
			}
		}
		if !allDone {
			continue
		}

		if err := item.Transition(models.StatusReady); err != nil {
			m.logger.Warn("refusing completion transition",
				slog.String("item", item.ID), slog.String("error", err.Error()))
			continue
		}
		item.TranscodeProgress = 100
		item.AvailableRungs = models.StringList(expected)
		if err := m.repo.Save(ctx, item); err != nil {
			m.logger.Error("persisting ready item failed",
				slog.String("item", item.ID), slog.String("error", err.Error()))
			continue
		}
		m.inflight.Remove(item.ID)
		m.publishStatus(ctx, item.ID, &models.LiveStatus{
			Status:                models.StatusReady,
			Progress:              100,
			AvailableRungs:        expected,
			AvailableForStreaming: true,
		})
		m.logger.Info("item ready", slog.String("item", item.ID),
			slog.Any("rungs", expected))
	}
}

// expectedRungs decides which rung playlists must be terminated for an item
// to be READY: the ladder rungs that fit the probed source, or, when no
// metadata exists yet, whatever playlists are on disk.
func (m *Monitor) expectedRungs(dir string, onDisk []string) []string {
	md, err := ffmpeg.ReadMetadata(dir)
	if err != nil || md == nil || md.Width <= 0 || md.Height <= 0 {
		return onDisk
	}
	var expected []string
	for _, r := range models.DefaultLadder() {
		if r.FitsSource(md.Width, md.Height) {
			expected = append(expected, r.Suffix)
		}
	}
	if len(expected) == 0 {
		return onDisk
	}
	return expected
}

// reconcileActive pulls the downloader's active set, refreshes progress
// fields, and promotes items that crossed the progressive threshold.
func (m *Monitor) reconcileActive(ctx context.Context) {
	active, err := m.client.TellActive(ctx)
	if err != nil {
		m.logger.Warn("downloader unreachable, skipping active reconciliation",
			slog.String("error", err.Error()))
		return
	}
	if len(active) == 0 {
		return
	}

	byHandle, err := m.downloadingByHandle(ctx)
	if err != nil {
		m.logger.Error("listing downloading items failed", slog.String("error", err.Error()))
		return
	}

	for _, st := range active {
		item, ok := byHandle[st.Handle]
		if !ok {
			continue
		}

		item.SetDownloadProgress(st.CompletedLength, st.TotalLength)
		if st.Dir != "" {
			item.DownloadPath = st.Dir
		}
		// Column-scoped write: the worker may be updating transcode columns on
		// the same row concurrently.
		if err := m.repo.UpdateDownloadProgress(ctx, item.ID,
			st.CompletedLength, st.TotalLength, item.DownloadProgress, st.Dir); err != nil {
			m.logger.Error("persisting download progress failed",
				slog.String("item", item.ID), slog.String("error", err.Error()))
			continue
		}

		if item.Status != models.StatusDownloading {
			continue
		}
		if st.CompletedLength < m.progressiveThreshold(st.TotalLength) {
			continue
		}
		videoPath := locateVideo(st, item.Title, m.mediaCfg.MinVideoSize.Bytes())
		if videoPath == "" {
			// Not locatable yet; leave the record untouched and retry next tick.
			continue
		}
		m.promoteToTranscoding(ctx, item, videoPath)
	}
}

// reconcileStopped promotes records whose downloads the downloader reports as
// complete. A metadata-only magnet hand-off is followed to its successor
// handle instead.
func (m *Monitor) reconcileStopped(ctx context.Context) {
	stopped, err := m.client.TellStopped(ctx, 0, stoppedPageSize)
	if err != nil {
		m.logger.Warn("downloader unreachable, skipping stopped reconciliation",
			slog.String("error", err.Error()))
		return
	}
	if len(stopped) == 0 {
		return
	}

	byHandle, err := m.downloadingByHandle(ctx)
	if err != nil {
		m.logger.Error("listing downloading items failed", slog.String("error", err.Error()))
		return
	}

	for _, st := range stopped {
		item, ok := byHandle[st.Handle]
		if !ok {
			continue
		}

		if st.State == downloader.StateComplete && len(st.FollowedBy) > 0 {
			item.DownloaderHandle = st.FollowedBy[0]
			if err := m.repo.UpdateDownloaderHandle(ctx, item.ID, item.DownloaderHandle); err != nil {
				m.logger.Error("persisting follow-up handle failed",
					slog.String("item", item.ID), slog.String("error", err.Error()))
			}
			continue
		}

		switch st.State {
		case downloader.StateComplete:
			item.SetDownloadProgress(st.CompletedLength, st.TotalLength)
			if st.Dir != "" {
				item.DownloadPath = st.Dir
			}
			videoPath := item.SourceVideoPath
			if videoPath == "" {
				videoPath = locateVideo(st, item.Title, m.mediaCfg.MinVideoSize.Bytes())
			}
			if videoPath == "" {
				m.logger.Warn("completed download has no locatable video",
					slog.String("item", item.ID), slog.String("dir", st.Dir))
				continue
			}
			m.promoteToTranscoding(ctx, item, videoPath)

		case downloader.StateError:
			msg := fmt.Sprintf("download failed: %s", st.ErrorMessage)
			if err := m.repo.MarkError(ctx, item.ID, msg); err != nil {
				m.logger.Error("persisting download error failed",
					slog.String("item", item.ID), slog.String("error", err.Error()))
				continue
			}
			m.publishStatus(ctx, item.ID, &models.LiveStatus{
				Status: models.StatusError,
				Error: &models.LiveError{
					Code:    models.ErrorCodeTransient,
					Message: "download failed",
				},
			})
		}
	}
}

// progressiveThreshold returns the byte count past which a partial download
// becomes eligible for transcoding: max(fraction of total, absolute floor).
// An unknown total falls back to the absolute floor alone.
func (m *Monitor) progressiveThreshold(total int64) int64 {
	abs := m.mediaCfg.ProgressiveThreshold.Bytes()
	if total <= 0 {
		return abs
	}
	frac := int64(float64(total) * m.mediaCfg.MinCompleteFraction)
	if frac > abs {
		return frac
	}
	return abs
}

// promoteToTranscoding binds the source video, transitions the record, and
// enqueues a ladder job, collapsing duplicate triggers through the
// single-flight set.
func (m *Monitor) promoteToTranscoding(ctx context.Context, item *models.MediaItem, videoPath string) {
	if !m.inflight.TryAdd(item.ID) {
		return
	}

	item.SourceVideoPath = videoPath
	if err := item.Transition(models.StatusTranscoding); err != nil {
		m.inflight.Remove(item.ID)
		m.logger.Warn("refusing transcode transition",
			slog.String("item", item.ID), slog.String("error", err.Error()))
		return
	}
	if err := m.repo.Save(ctx, item); err != nil {
		m.inflight.Remove(item.ID)
		m.logger.Error("persisting transcoding item failed",
			slog.String("item", item.ID), slog.String("error", err.Error()))
		return
	}

	job := m.buildJob(item)
	if err := m.jobs.Push(ctx, job); err != nil {
		// The record stays in TRANSCODING; the next tick's enqueue path is
		// blocked by single-flight, so drop the entry to allow a retry.
		m.inflight.Remove(item.ID)
		m.logger.Error("enqueuing transcode job failed",
			slog.String("item", item.ID), slog.String("error", err.Error()))
		return
	}

	m.publishStatus(ctx, item.ID, &models.LiveStatus{
		Status:   models.StatusTranscoding,
		Progress: 0,
		Message:  "transcode queued",
	})
	m.logger.Info("transcode enqueued",
		slog.String("item", item.ID),
		slog.String("job", job.JobID),
		slog.String("input", videoPath),
	)
}

// buildJob assembles a transcode job for an item from worker configuration.
// The configured output mode selects between the HLS ladder and the single
// MP4 fallback.
func (m *Monitor) buildJob(item *models.MediaItem) *models.TranscodeJob {
	kind := models.JobKindHLSLadder
	if m.transCfg.OutputMode == config.OutputModeMP4 {
		kind = models.JobKindSingleMP4
	}
	return &models.TranscodeJob{
		JobID:     m.newJobID(),
		Kind:      kind,
		ItemID:    item.ID,
		InputPath: item.SourceVideoPath,
		OutputDir: hls.ItemDir(m.mediaCfg.Root, item.ID),
		Options: models.TranscodeOptions{
			SegmentSeconds:   m.transCfg.SegmentSeconds,
			Rungs:            models.DefaultLadder(),
			Preset:           m.transCfg.Preset,
			CRF:              m.transCfg.CRF,
			EnableThumbnails: m.transCfg.EnableThumbnails,
			EnableParallel:   m.transCfg.MaxParallel > 1,
			MaxParallel:      m.transCfg.MaxParallel,
		},
	}
}

func (m *Monitor) newJobID() string {
	m.entropyMu.Lock()
	defer m.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), m.entropy).String()
}

// downloadingByHandle indexes non-terminal records by downloader handle.
func (m *Monitor) downloadingByHandle(ctx context.Context) (map[string]*models.MediaItem, error) {
	items, err := m.repo.ListByStatus(ctx, models.StatusRequested, models.StatusDownloading)
	if err != nil {
		return nil, err
	}
	byHandle := make(map[string]*models.MediaItem, len(items))
	for _, item := range items {
		if item.DownloaderHandle != "" {
			byHandle[item.DownloaderHandle] = item
		}
	}
	return byHandle, nil
}

// ReleaseInflight drops an item from the single-flight set. Called when a
// worker publishes a terminal outcome for the item.
func (m *Monitor) ReleaseInflight(id string) {
	m.inflight.Remove(id)
}

func (m *Monitor) publishStatus(ctx context.Context, id string, st *models.LiveStatus) {
	if err := m.status.SetStatus(ctx, id, st); err != nil {
		m.logger.Warn("publishing live status failed",
			slog.String("item", id), slog.String("error", err.Error()))
	}
}
