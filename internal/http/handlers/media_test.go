package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/monitor"
	"github.com/jmylchreest/vodarr/internal/queue"
	"github.com/jmylchreest/vodarr/internal/repository"
)

func setupRepo(t *testing.T) repository.MediaItemRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.MediaItem{}))
	return repository.NewMediaItemRepository(db)
}

type fakePipeline struct {
	requests []monitor.DownloadRequest
	deleted  []string
	item     *models.MediaItem
	err      error
}

var _ Pipeline = (*fakePipeline)(nil)

func (f *fakePipeline) RequestDownload(_ context.Context, req monitor.DownloadRequest) (*models.MediaItem, error) {
	f.requests = append(f.requests, req)
	return f.item, f.err
}

func (f *fakePipeline) Delete(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeStatusStore struct {
	statuses  map[string]*models.LiveStatus
	heartbeat *models.WorkerHeartbeat
}

var _ queue.StatusStore = (*fakeStatusStore)(nil)

func newFakeStatusStore() *fakeStatusStore {
	return &fakeStatusStore{statuses: make(map[string]*models.LiveStatus)}
}

func (f *fakeStatusStore) SetStatus(_ context.Context, id string, st *models.LiveStatus) error {
	f.statuses[id] = st
	return nil
}

func (f *fakeStatusStore) GetStatus(_ context.Context, id string) (*models.LiveStatus, error) {
	return f.statuses[id], nil
}

func (f *fakeStatusStore) DeleteStatus(_ context.Context, id string) error {
	delete(f.statuses, id)
	return nil
}

func (f *fakeStatusStore) SetHeartbeat(_ context.Context, hb *models.WorkerHeartbeat) error {
	f.heartbeat = hb
	return nil
}

func (f *fakeStatusStore) GetHeartbeat(context.Context) (*models.WorkerHeartbeat, error) {
	return f.heartbeat, nil
}

func mediaFixture(t *testing.T) (*MediaHandler, repository.MediaItemRepository, *fakePipeline, *fakeStatusStore) {
	t.Helper()
	repo := setupRepo(t)
	pipeline := &fakePipeline{}
	status := newFakeStatusStore()
	handler := NewMediaHandler(repo, pipeline, status, t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	return handler, repo, pipeline, status
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var se huma.StatusError
	require.ErrorAs(t, err, &se)
	return se.GetStatus()
}

func TestMediaList(t *testing.T) {
	handler, repo, _, _ := mediaFixture(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.MediaItem{ID: "tt1", Status: models.StatusDownloading}))
	require.NoError(t, repo.Create(ctx, &models.MediaItem{ID: "tt2", Status: models.StatusReady}))

	out, err := handler.List(ctx, &ListMediaInput{})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Body.Total)
	for _, item := range out.Body.Items {
		assert.Equal(t, CanStreamRuleExtinf, item.CanStreamRule)
		assert.False(t, item.CanStream)
	}

	out, err = handler.List(ctx, &ListMediaInput{Status: "ready"})
	require.NoError(t, err)
	require.Equal(t, 1, out.Body.Total)
	assert.Equal(t, "tt2", out.Body.Items[0].ID)
}

func TestMediaGetByID_NotFound(t *testing.T) {
	handler, _, _, _ := mediaFixture(t)

	_, err := handler.GetByID(context.Background(), &GetMediaInput{ID: "nope"})
	assert.Equal(t, 404, statusOf(t, err))
}

func TestMediaGetStatus_LiveOverridesDurable(t *testing.T) {
	handler, repo, _, status := mediaFixture(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.MediaItem{
		ID:               "tt1",
		Status:           models.StatusDownloading,
		DownloadProgress: 12.5,
	}))

	out, err := handler.GetStatus(ctx, &GetMediaInput{ID: "tt1"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusDownloading, out.Body.Status)
	assert.Equal(t, 12.5, out.Body.Progress)

	require.NoError(t, status.SetStatus(ctx, "tt1", &models.LiveStatus{
		Status:                models.StatusReady,
		Progress:              35,
		AvailableRungs:        []string{"360p"},
		AvailableForStreaming: true,
	}))

	out, err = handler.GetStatus(ctx, &GetMediaInput{ID: "tt1"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, out.Body.Status)
	assert.Equal(t, 35.0, out.Body.Progress)
	assert.True(t, out.Body.AvailableForStreaming)
	assert.Equal(t, []string{"360p"}, out.Body.AvailableRungs)
}

func TestMediaRequestDownload(t *testing.T) {
	handler, _, pipeline, _ := mediaFixture(t)
	pipeline.item = &models.MediaItem{ID: "tt1", Status: models.StatusDownloading}

	out, err := handler.RequestDownload(context.Background(), &RequestDownloadInput{
		ID: "tt1",
		Body: RequestDownloadBody{
			Title:        "The Movie",
			SourceURI:    "magnet:?xt=urn:btih:abc",
			SelectedRung: "1080p",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusDownloading, out.Body.Status)

	require.Len(t, pipeline.requests, 1)
	assert.Equal(t, "The Movie", pipeline.requests[0].Title)
	assert.Equal(t, models.SourceRung1080p, pipeline.requests[0].SelectedRung)
}

func TestMediaRequestDownload_Conflict(t *testing.T) {
	handler, _, pipeline, _ := mediaFixture(t)
	pipeline.err = fmt.Errorf("%w: item tt1 is downloading", models.ErrAlreadyActive)

	_, err := handler.RequestDownload(context.Background(), &RequestDownloadInput{
		ID:   "tt1",
		Body: RequestDownloadBody{SourceURI: "magnet:?xt=urn:btih:abc"},
	})
	assert.Equal(t, 409, statusOf(t, err))
}

func TestMediaRequestDownload_DownloaderUnreachable(t *testing.T) {
	handler, _, pipeline, _ := mediaFixture(t)
	pipeline.err = errors.New("rpc: connection refused")

	_, err := handler.RequestDownload(context.Background(), &RequestDownloadInput{
		ID:   "tt1",
		Body: RequestDownloadBody{SourceURI: "magnet:?xt=urn:btih:abc"},
	})
	assert.Equal(t, 502, statusOf(t, err))
}

func TestMediaDelete(t *testing.T) {
	handler, _, pipeline, _ := mediaFixture(t)

	_, err := handler.Delete(context.Background(), &GetMediaInput{ID: "tt1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"tt1"}, pipeline.deleted)
}

func TestMediaItemFromModel(t *testing.T) {
	now := time.Now()
	item := &models.MediaItem{
		ID:             "tt1",
		Status:         models.StatusReady,
		AvailableRungs: models.StringList{"360p", "720p"},
		LastWatchedAt:  &now,
	}

	resp := MediaItemFromModel(item, true)
	assert.True(t, resp.CanStream)
	assert.Equal(t, []string{"360p", "720p"}, resp.AvailableRungs)
	assert.Equal(t, &now, resp.LastWatchedAt)
}
