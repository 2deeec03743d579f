package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jmylchreest/vodarr/internal/hls"
	"github.com/jmylchreest/vodarr/internal/models"
)

// DownloadRequest describes one request-download command.
type DownloadRequest struct {
	ItemID       string
	Title        string
	SourceURI    string
	SelectedRung models.SourceRung
}

// RequestDownload creates (or resets) the media record for an item and asks
// the downloader for a handle. An item already moving through the pipeline is
// left alone.
func (m *Monitor) RequestDownload(ctx context.Context, req DownloadRequest) (*models.MediaItem, error) {
	if req.ItemID == "" {
		return nil, fmt.Errorf("item id required")
	}
	if req.SourceURI == "" {
		return nil, fmt.Errorf("source uri required")
	}

	item, err := m.repo.GetByID(ctx, req.ItemID)
	if err != nil {
		return nil, err
	}

	create := false
	switch {
	case item == nil:
		item = &models.MediaItem{ID: req.ItemID, Status: models.StatusRequested}
		create = true
	case item.IsTerminal():
		// Re-download: the only exit from READY and ERROR.
		item.ResetForRedownload()
	default:
		return nil, fmt.Errorf("%w: item %s is %s", models.ErrAlreadyActive, item.ID, item.Status)
	}

	item.Title = req.Title
	item.SourceURI = req.SourceURI
	item.SelectedRung = req.SelectedRung

	dir := filepath.Join(m.dlDir, req.ItemID)
	handle, err := m.client.AddURI(ctx, req.SourceURI, dir)
	if err != nil {
		return nil, fmt.Errorf("requesting download for %s: %w", req.ItemID, err)
	}

	item.DownloaderHandle = handle
	item.DownloadPath = dir
	if err := item.Transition(models.StatusDownloading); err != nil {
		return nil, err
	}

	if create {
		err = m.repo.Create(ctx, item)
	} else {
		err = m.repo.Save(ctx, item)
	}
	if err != nil {
		return nil, err
	}

	m.publishStatus(ctx, item.ID, &models.LiveStatus{
		Status:  models.StatusDownloading,
		Message: "download requested",
	})
	m.logger.Info("download requested",
		slog.String("item", item.ID),
		slog.String("handle", handle),
	)
	return item, nil
}

// Delete removes an item: the downloader side is cancelled best-effort, the
// HLS outputs are deleted, then the durable record and live status go.
func (m *Monitor) Delete(ctx context.Context, id string) error {
	item, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if item == nil {
		return nil
	}

	if item.DownloaderHandle != "" {
		if err := m.client.Remove(ctx, item.DownloaderHandle); err != nil {
			m.logger.Warn("downloader remove failed",
				slog.String("item", id),
				slog.String("handle", item.DownloaderHandle),
				slog.String("error", err.Error()),
			)
		}
	}

	dir := hls.ItemDir(m.mediaCfg.Root, id)
	if err := os.RemoveAll(dir); err != nil {
		m.logger.Warn("removing hls outputs failed",
			slog.String("item", id), slog.String("error", err.Error()))
	}

	if err := m.repo.Delete(ctx, id); err != nil {
		return err
	}
	if err := m.status.DeleteStatus(ctx, id); err != nil {
		m.logger.Warn("deleting live status failed",
			slog.String("item", id), slog.String("error", err.Error()))
	}
	m.inflight.Remove(id)

	m.logger.Info("item deleted", slog.String("item", id))
	return nil
}
