// Package repository provides data access for the vodarr pipeline tables.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jmylchreest/vodarr/internal/models"
)

// MediaItemRepository handles media item persistence. Not-found lookups
// return (nil, nil) so callers can distinguish absence from failure.
type MediaItemRepository interface {
	// Create inserts a new media item.
	Create(ctx context.Context, item *models.MediaItem) error
	// GetByID retrieves a media item by catalog ID.
	GetByID(ctx context.Context, id string) (*models.MediaItem, error)
	// List retrieves all media items ordered by creation time, newest first.
	List(ctx context.Context) ([]*models.MediaItem, error)
	// ListByStatus retrieves all media items in any of the given states.
	ListByStatus(ctx context.Context, statuses ...models.MediaStatus) ([]*models.MediaItem, error)
	// Save persists the full record.
	Save(ctx context.Context, item *models.MediaItem) error
	// UpdateDownloadProgress writes only the download-side columns. Used by
	// the monitor so it never clobbers worker-owned columns. An empty dir
	// leaves download_path untouched.
	UpdateDownloadProgress(ctx context.Context, id string, downloaded, total int64, progress float64, dir string) error
	// UpdateDownloaderHandle rebinds the record to a new downloader handle.
	UpdateDownloaderHandle(ctx context.Context, id, handle string) error
	// MarkError drives the record to the error state with a message, touching
	// no other columns.
	MarkError(ctx context.Context, id, message string) error
	// UpdateTranscodeState writes only the worker-owned columns.
	UpdateTranscodeState(ctx context.Context, id string, progress float64, rungs models.StringList) error
	// TouchLastWatched records a playback access.
	TouchLastWatched(ctx context.Context, id string, at time.Time) error
	// Delete removes a media item record.
	Delete(ctx context.Context, id string) error
}

type mediaItemRepo struct {
	db *gorm.DB
}

// NewMediaItemRepository creates a MediaItemRepository backed by GORM.
func NewMediaItemRepository(db *gorm.DB) MediaItemRepository {
	return &mediaItemRepo{db: db}
}

var _ MediaItemRepository = (*mediaItemRepo)(nil)

func (r *mediaItemRepo) Create(ctx context.Context, item *models.MediaItem) error {
	if err := r.db.WithContext(ctx).Create(item).Error; err != nil {
		return fmt.Errorf("creating media item %s: %w", item.ID, err)
	}
	return nil
}

func (r *mediaItemRepo) GetByID(ctx context.Context, id string) (*models.MediaItem, error) {
	var item models.MediaItem
	err := r.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting media item %s: %w", id, err)
	}
	return &item, nil
}

func (r *mediaItemRepo) List(ctx context.Context) ([]*models.MediaItem, error) {
	var items []*models.MediaItem
	err := r.db.WithContext(ctx).Order("created_at DESC").Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("listing media items: %w", err)
	}
	return items, nil
}

func (r *mediaItemRepo) ListByStatus(ctx context.Context, statuses ...models.MediaStatus) ([]*models.MediaItem, error) {
	var items []*models.MediaItem
	err := r.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("created_at ASC").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("listing media items by status: %w", err)
	}
	return items, nil
}

func (r *mediaItemRepo) Save(ctx context.Context, item *models.MediaItem) error {
	if err := r.db.WithContext(ctx).Save(item).Error; err != nil {
		return fmt.Errorf("saving media item %s: %w", item.ID, err)
	}
	return nil
}

func (r *mediaItemRepo) UpdateDownloadProgress(ctx context.Context, id string, downloaded, total int64, progress float64, dir string) error {
	cols := []string{"downloaded_bytes", "total_bytes", "download_progress"}
	update := &models.MediaItem{
		DownloadedBytes:  downloaded,
		TotalBytes:       total,
		DownloadProgress: progress,
	}
	if dir != "" {
		cols = append(cols, "download_path")
		update.DownloadPath = dir
	}
	err := r.db.WithContext(ctx).
		Model(&models.MediaItem{}).
		Where("id = ?", id).
		Select(cols).
		Updates(update).Error
	if err != nil {
		return fmt.Errorf("updating download progress for %s: %w", id, err)
	}
	return nil
}

func (r *mediaItemRepo) UpdateDownloaderHandle(ctx context.Context, id, handle string) error {
	err := r.db.WithContext(ctx).
		Model(&models.MediaItem{}).
		Where("id = ?", id).
		Update("downloader_handle", handle).Error
	if err != nil {
		return fmt.Errorf("updating downloader handle for %s: %w", id, err)
	}
	return nil
}

func (r *mediaItemRepo) MarkError(ctx context.Context, id, message string) error {
	err := r.db.WithContext(ctx).
		Model(&models.MediaItem{}).
		Where("id = ?", id).
		Select("status", "error_message").
		Updates(&models.MediaItem{
			Status:       models.StatusError,
			ErrorMessage: message,
		}).Error
	if err != nil {
		return fmt.Errorf("marking error for %s: %w", id, err)
	}
	return nil
}

func (r *mediaItemRepo) UpdateTranscodeState(ctx context.Context, id string, progress float64, rungs models.StringList) error {
	// Struct updates with an explicit column selection so the JSON serializer
	// applies to available_rungs and zero progress is not skipped.
	err := r.db.WithContext(ctx).
		Model(&models.MediaItem{}).
		Where("id = ?", id).
		Select("transcode_progress", "available_rungs").
		Updates(&models.MediaItem{
			TranscodeProgress: progress,
			AvailableRungs:    rungs,
		}).Error
	if err != nil {
		return fmt.Errorf("updating transcode state for %s: %w", id, err)
	}
	return nil
}

func (r *mediaItemRepo) TouchLastWatched(ctx context.Context, id string, at time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&models.MediaItem{}).
		Where("id = ?", id).
		Update("last_watched_at", at).Error
	if err != nil {
		return fmt.Errorf("touching last watched for %s: %w", id, err)
	}
	return nil
}

func (r *mediaItemRepo) Delete(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Delete(&models.MediaItem{}, "id = ?", id).Error
	if err != nil {
		return fmt.Errorf("deleting media item %s: %w", id, err)
	}
	return nil
}
