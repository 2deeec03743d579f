package repository

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/vodarr/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.MediaItem{}))
	return db
}

func TestMediaItemRepo_CreateAndGet(t *testing.T) {
	repo := NewMediaItemRepository(setupTestDB(t))
	ctx := context.Background()

	item := &models.MediaItem{
		ID:           "tt0111161",
		Title:        "The Shawshank Redemption",
		Status:       models.StatusRequested,
		SelectedRung: models.SourceRung1080p,
	}
	require.NoError(t, repo.Create(ctx, item))

	got, err := repo.GetByID(ctx, "tt0111161")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "The Shawshank Redemption", got.Title)
	assert.Equal(t, models.StatusRequested, got.Status)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestMediaItemRepo_GetByID_NotFound(t *testing.T) {
	repo := NewMediaItemRepository(setupTestDB(t))

	got, err := repo.GetByID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMediaItemRepo_ListByStatus(t *testing.T) {
	repo := NewMediaItemRepository(setupTestDB(t))
	ctx := context.Background()

	for _, seed := range []struct {
		id     string
		status models.MediaStatus
	}{
		{"tt1", models.StatusDownloading},
		{"tt2", models.StatusTranscoding},
		{"tt3", models.StatusReady},
		{"tt4", models.StatusDownloading},
	} {
		require.NoError(t, repo.Create(ctx, &models.MediaItem{ID: seed.id, Status: seed.status}))
	}

	downloading, err := repo.ListByStatus(ctx, models.StatusDownloading)
	require.NoError(t, err)
	assert.Len(t, downloading, 2)

	active, err := repo.ListByStatus(ctx, models.StatusDownloading, models.StatusTranscoding)
	require.NoError(t, err)
	assert.Len(t, active, 3)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestMediaItemRepo_UpdateDownloadProgress(t *testing.T) {
	repo := NewMediaItemRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.MediaItem{
		ID:                "tt1",
		Status:            models.StatusDownloading,
		DownloadPath:      "/dl/tt1",
		TranscodeProgress: 42.5,
		AvailableRungs:    models.StringList{"360p"},
	}))

	require.NoError(t, repo.UpdateDownloadProgress(ctx, "tt1", 500, 1000, 50.0, ""))

	got, err := repo.GetByID(ctx, "tt1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), got.DownloadedBytes)
	assert.Equal(t, 50.0, got.DownloadProgress)
	// An empty dir leaves the stored path alone.
	assert.Equal(t, "/dl/tt1", got.DownloadPath)
	// Worker-owned columns are untouched.
	assert.Equal(t, 42.5, got.TranscodeProgress)
	assert.Equal(t, models.StringList{"360p"}, got.AvailableRungs)

	require.NoError(t, repo.UpdateDownloadProgress(ctx, "tt1", 900, 1000, 90.0, "/dl/tt1-moved"))
	got, err = repo.GetByID(ctx, "tt1")
	require.NoError(t, err)
	assert.Equal(t, "/dl/tt1-moved", got.DownloadPath)
}

func TestMediaItemRepo_UpdateDownloaderHandle(t *testing.T) {
	repo := NewMediaItemRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.MediaItem{
		ID:               "tt1",
		Status:           models.StatusDownloading,
		DownloaderHandle: "meta-1",
		DownloadProgress: 12.5,
	}))

	require.NoError(t, repo.UpdateDownloaderHandle(ctx, "tt1", "payload-1"))

	got, err := repo.GetByID(ctx, "tt1")
	require.NoError(t, err)
	assert.Equal(t, "payload-1", got.DownloaderHandle)
	assert.Equal(t, 12.5, got.DownloadProgress)
}

func TestMediaItemRepo_MarkError(t *testing.T) {
	repo := NewMediaItemRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.MediaItem{
		ID:              "tt1",
		Status:          models.StatusDownloading,
		DownloadedBytes: 123,
	}))

	require.NoError(t, repo.MarkError(ctx, "tt1", "download failed: tracker timeout"))

	got, err := repo.GetByID(ctx, "tt1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, got.Status)
	assert.Equal(t, "download failed: tracker timeout", got.ErrorMessage)
	assert.Equal(t, int64(123), got.DownloadedBytes)
}

func TestMediaItemRepo_UpdateTranscodeState(t *testing.T) {
	repo := NewMediaItemRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.MediaItem{
		ID:               "tt1",
		Status:           models.StatusTranscoding,
		DownloadProgress: 100,
	}))

	require.NoError(t, repo.UpdateTranscodeState(ctx, "tt1", 45.0, models.StringList{"360p", "1080p"}))

	got, err := repo.GetByID(ctx, "tt1")
	require.NoError(t, err)
	assert.Equal(t, 45.0, got.TranscodeProgress)
	assert.Equal(t, models.StringList{"360p", "1080p"}, got.AvailableRungs)
	assert.Equal(t, 100.0, got.DownloadProgress)

	// Zero progress is written, not skipped.
	require.NoError(t, repo.UpdateTranscodeState(ctx, "tt1", 0, nil))
	got, err = repo.GetByID(ctx, "tt1")
	require.NoError(t, err)
	assert.Zero(t, got.TranscodeProgress)
}

func TestMediaItemRepo_TouchLastWatched(t *testing.T) {
	repo := NewMediaItemRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.MediaItem{ID: "tt1", Status: models.StatusReady}))

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.TouchLastWatched(ctx, "tt1", now))

	got, err := repo.GetByID(ctx, "tt1")
	require.NoError(t, err)
	require.NotNil(t, got.LastWatchedAt)
	assert.WithinDuration(t, now, *got.LastWatchedAt, time.Second)
}

func TestMediaItemRepo_Delete(t *testing.T) {
	repo := NewMediaItemRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.MediaItem{ID: "tt1"}))
	require.NoError(t, repo.Delete(ctx, "tt1"))

	got, err := repo.GetByID(ctx, "tt1")
	require.NoError(t, err)
	assert.Nil(t, got)
}
