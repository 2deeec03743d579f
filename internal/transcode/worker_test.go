package transcode

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/vodarr/internal/config"
	"github.com/jmylchreest/vodarr/internal/ffmpeg"
	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/queue"
	"github.com/jmylchreest/vodarr/internal/repository"
)

type fakeQueue struct {
	jobs []*models.TranscodeJob
}

var _ queue.JobQueue = (*fakeQueue)(nil)

func (f *fakeQueue) Push(_ context.Context, job *models.TranscodeJob) error {
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeQueue) Pop(context.Context, time.Duration) (*models.TranscodeJob, error) {
	if len(f.jobs) == 0 {
		return nil, queue.ErrEmpty
	}
	job := f.jobs[0]
	f.jobs = f.jobs[1:]
	return job, nil
}

func (f *fakeQueue) Len(context.Context) (int64, error) { return int64(len(f.jobs)), nil }

type fakeStatus struct {
	statuses  map[string]*models.LiveStatus
	heartbeat *models.WorkerHeartbeat
}

var _ queue.StatusStore = (*fakeStatus)(nil)

func newFakeStatus() *fakeStatus {
	return &fakeStatus{statuses: make(map[string]*models.LiveStatus)}
}

func (f *fakeStatus) SetStatus(_ context.Context, id string, st *models.LiveStatus) error {
	f.statuses[id] = st
	return nil
}

func (f *fakeStatus) GetStatus(_ context.Context, id string) (*models.LiveStatus, error) {
	return f.statuses[id], nil
}

func (f *fakeStatus) DeleteStatus(_ context.Context, id string) error {
	delete(f.statuses, id)
	return nil
}

func (f *fakeStatus) SetHeartbeat(_ context.Context, hb *models.WorkerHeartbeat) error {
	f.heartbeat = hb
	return nil
}

func (f *fakeStatus) GetHeartbeat(context.Context) (*models.WorkerHeartbeat, error) {
	return f.heartbeat, nil
}

type fixture struct {
	worker *Worker
	repo   repository.MediaItemRepository
	jobs   *fakeQueue
	status *fakeStatus
	root   string
}

func setup(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.MediaItem{}))

	repo := repository.NewMediaItemRepository(db)
	jobs := &fakeQueue{}
	status := newFakeStatus()
	root := t.TempDir()

	cfg := config.TranscodeConfig{
		SegmentSeconds:    10,
		Preset:            "veryfast",
		CRF:               28,
		MaxParallel:       2,
		QueuePopTimeout:   time.Second,
		HeartbeatInterval: 30 * time.Second,
		ProgressInterval:  5 * time.Second,
	}
	bins := &ffmpeg.Binaries{FFmpeg: "ffmpeg", FFprobe: "ffprobe"}

	return &fixture{
		worker: New(repo, jobs, status, bins, cfg, root, nil),
		repo:   repo,
		jobs:   jobs,
		status: status,
		root:   root,
	}
}

func TestSelectRungs(t *testing.T) {
	// 1080p source fits the whole default ladder, equal dimensions included.
	rungs := selectRungs(nil, 1920, 1080)
	require.Len(t, rungs, 4)
	assert.Equal(t, "1080p", rungs[3].Name)

	// 720p source: the 1080p rung is skipped.
	rungs = selectRungs(nil, 1280, 720)
	require.Len(t, rungs, 3)
	assert.Equal(t, "720p", rungs[2].Name)

	// Tiny source fits nothing.
	assert.Empty(t, selectRungs(nil, 320, 240))
}

func TestInterleaveOrder(t *testing.T) {
	ladder := models.DefaultLadder()

	order := interleaveOrder(ladder)
	names := make([]string, len(order))
	for i, r := range order {
		names[i] = r.Name
	}
	assert.Equal(t, []string{"360p", "1080p", "480p", "720p"}, names)

	order = interleaveOrder(ladder[:3])
	names = names[:0]
	for _, r := range order {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"360p", "720p", "480p"}, names)

	order = interleaveOrder(ladder[:1])
	require.Len(t, order, 1)
	assert.Equal(t, "360p", order[0].Name)
}

func TestOrderedByLadder(t *testing.T) {
	ladder := models.DefaultLadder()
	got := orderedByLadder(ladder, []string{"1080p", "360p"})
	assert.Equal(t, models.StringList{"360p", "1080p"}, got)
}

func TestProgressTracker(t *testing.T) {
	dir := t.TempDir()
	tracker := newProgressTracker(4, 10, dir)

	// Nothing started: base progress only.
	assert.Equal(t, 10.0, tracker.Progress())

	// One rung encoding with 5 of 10 segments on disk.
	tracker.StartRung("360p")
	for i := 0; i < 5; i++ {
		path := filepath.Join(dir, fmt.Sprintf("output_360p_%03d.ts", i))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}
	// 10 + (0/4)*70 + (5/10)/4*70 = 18.75
	assert.Equal(t, 18.75, tracker.Progress())

	// Rung completes.
	first := tracker.CompleteRung("360p")
	assert.True(t, first)
	// 10 + (1/4)*70 = 27.5
	assert.Equal(t, 27.5, tracker.Progress())

	first = tracker.CompleteRung("1080p")
	assert.False(t, first)

	// Progress is capped below the finalization phase.
	tracker.CompleteRung("480p")
	tracker.CompleteRung("720p")
	assert.Equal(t, 80.0, tracker.Progress())
}

func TestSampledProgressKeepsFinishedRungs(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.repo.Create(ctx, &models.MediaItem{
		ID:     "tt1",
		Status: models.StatusTranscoding,
	}))

	// First rung done: the completion path has already persisted it and
	// advertised the item as streamable.
	ladder := models.DefaultLadder()
	tracker := newProgressTracker(len(ladder), 10, t.TempDir())
	tracker.StartRung("360p")
	require.True(t, tracker.CompleteRung("360p"))
	require.NoError(t, f.repo.UpdateTranscodeState(ctx, "tt1",
		tracker.Progress(), models.StringList{"360p"}))

	f.worker.publishSampledProgress(ctx, "tt1", ladder, tracker)

	// The sample refreshed progress without erasing the finished rung.
	item, err := f.repo.GetByID(ctx, "tt1")
	require.NoError(t, err)
	assert.Equal(t, models.StringList{"360p"}, item.AvailableRungs)
	assert.Equal(t, 27.5, item.TranscodeProgress)

	// The live record still offers the rung for streaming.
	live := f.status.statuses["tt1"]
	require.NotNil(t, live)
	assert.Equal(t, models.StatusReady, live.Status)
	assert.True(t, live.AvailableForStreaming)
	assert.Equal(t, []string{"360p"}, live.AvailableRungs)
}

func TestSampledProgressBeforeFirstRung(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.repo.Create(ctx, &models.MediaItem{
		ID:     "tt1",
		Status: models.StatusTranscoding,
	}))

	ladder := models.DefaultLadder()
	tracker := newProgressTracker(len(ladder), 10, t.TempDir())
	tracker.StartRung("360p")

	f.worker.publishSampledProgress(ctx, "tt1", ladder, tracker)

	live := f.status.statuses["tt1"]
	require.NotNil(t, live)
	assert.Equal(t, models.StatusTranscoding, live.Status)
	assert.False(t, live.AvailableForStreaming)
}

func TestFinalizeReady(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.repo.Create(ctx, &models.MediaItem{
		ID:     "tt1",
		Status: models.StatusTranscoding,
	}))

	readied, err := f.worker.finalizeReady(ctx, "tt1", func(item *models.MediaItem) {
		item.AvailableRungs = models.StringList{"360p", "480p"}
		item.TranscodeProgress = 100
	})
	require.NoError(t, err)
	assert.True(t, readied)

	item, err := f.repo.GetByID(ctx, "tt1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, item.Status)
	assert.Equal(t, 100.0, item.TranscodeProgress)
}

func TestFinalizeReady_RefusedLeavesRecordAlone(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// The item failed while the encode was finishing.
	require.NoError(t, f.repo.Create(ctx, &models.MediaItem{
		ID:                "tt1",
		Status:            models.StatusError,
		ErrorMessage:      "download failed",
		TranscodeProgress: 40,
	}))

	readied, err := f.worker.finalizeReady(ctx, "tt1", func(item *models.MediaItem) {
		item.TranscodeProgress = 100
	})
	require.NoError(t, err)
	assert.False(t, readied)

	item, err := f.repo.GetByID(ctx, "tt1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, item.Status)
	assert.Equal(t, "download failed", item.ErrorMessage)
	assert.Equal(t, 40.0, item.TranscodeProgress)
}

func TestRecoverySweep_ReEnqueues(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	source := filepath.Join(t.TempDir(), "movie.mkv")
	require.NoError(t, os.WriteFile(source, make([]byte, 100), 0o644))

	require.NoError(t, f.repo.Create(ctx, &models.MediaItem{
		ID:                "tt1",
		Status:            models.StatusTranscoding,
		SourceVideoPath:   source,
		TranscodeProgress: 40,
		AvailableRungs:    models.StringList{"480p"},
	}))

	// Partial outputs from the interrupted encode.
	dir := filepath.Join(f.root, "tt1_hls")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "output_480p.m3u8"), []byte("#EXTM3U\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "output_480p_000.ts"), []byte("x"), 0o644))

	require.NoError(t, f.worker.RecoverySweep(ctx))

	item, err := f.repo.GetByID(ctx, "tt1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusTranscoding, item.Status)
	assert.Zero(t, item.TranscodeProgress)
	assert.Nil(t, item.AvailableRungs)

	// Outputs are pruned and a fresh job queued.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	require.Len(t, f.jobs.jobs, 1)
	assert.Equal(t, "tt1", f.jobs.jobs[0].ItemID)
	assert.Equal(t, source, f.jobs.jobs[0].InputPath)
}

func TestRecoverySweep_MissingSource(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.repo.Create(ctx, &models.MediaItem{
		ID:                "tt1",
		Status:            models.StatusTranscoding,
		SourceVideoPath:   "/nope/movie.mkv",
		TranscodeProgress: 40,
	}))

	require.NoError(t, f.worker.RecoverySweep(ctx))

	item, err := f.repo.GetByID(ctx, "tt1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, item.Status)
	assert.Contains(t, item.ErrorMessage, "video file not found")
	assert.Empty(t, f.jobs.jobs)

	live := f.status.statuses["tt1"]
	require.NotNil(t, live)
	require.NotNil(t, live.Error)
	assert.Equal(t, models.ErrorCodeMissingSource, live.Error.Code)
}

func TestRecoverySweep_SkipsFinishedAndOthers(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.repo.Create(ctx, &models.MediaItem{
		ID:                "done",
		Status:            models.StatusTranscoding,
		TranscodeProgress: 100,
	}))
	require.NoError(t, f.repo.Create(ctx, &models.MediaItem{
		ID:     "ready",
		Status: models.StatusReady,
	}))

	require.NoError(t, f.worker.RecoverySweep(ctx))
	assert.Empty(t, f.jobs.jobs)

	item, err := f.repo.GetByID(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, models.StatusTranscoding, item.Status)
}

func TestFailItem(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.repo.Create(ctx, &models.MediaItem{
		ID:     "tt1",
		Status: models.StatusTranscoding,
	}))

	f.worker.failItem(ctx, "tt1", "file may be corrupted: moov atom not found", models.ErrorCodeInputCorrupt)

	item, err := f.repo.GetByID(ctx, "tt1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, item.Status)
	assert.Contains(t, item.ErrorMessage, "moov atom")

	live := f.status.statuses["tt1"]
	require.NotNil(t, live)
	assert.Equal(t, models.ErrorCodeInputCorrupt, live.Error.Code)
}
