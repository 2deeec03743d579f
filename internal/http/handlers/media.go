package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/vodarr/internal/hls"
	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/monitor"
	"github.com/jmylchreest/vodarr/internal/queue"
	"github.com/jmylchreest/vodarr/internal/repository"
)

// Pipeline is the slice of the download monitor the API depends on.
type Pipeline interface {
	RequestDownload(ctx context.Context, req monitor.DownloadRequest) (*models.MediaItem, error)
	Delete(ctx context.Context, id string) error
}

var _ Pipeline = (*monitor.Monitor)(nil)

// MediaHandler handles the media library API endpoints.
type MediaHandler struct {
	repo      repository.MediaItemRepository
	pipeline  Pipeline
	status    queue.StatusStore
	mediaRoot string
	logger    *slog.Logger
}

// NewMediaHandler creates a new media handler.
func NewMediaHandler(repo repository.MediaItemRepository, pipeline Pipeline, status queue.StatusStore, mediaRoot string, logger *slog.Logger) *MediaHandler {
	return &MediaHandler{
		repo:      repo,
		pipeline:  pipeline,
		status:    status,
		mediaRoot: mediaRoot,
		logger:    logger,
	}
}

// Register registers the media routes with the API.
func (h *MediaHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listMedia",
		Method:      "GET",
		Path:        "/api/v1/media",
		Summary:     "List media items",
		Description: "Returns all media items with their pipeline state",
		Tags:        []string{"Media"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getMedia",
		Method:      "GET",
		Path:        "/api/v1/media/{id}",
		Summary:     "Get media item",
		Description: "Returns one media item by catalog ID",
		Tags:        []string{"Media"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "getMediaStatus",
		Method:      "GET",
		Path:        "/api/v1/media/{id}/status",
		Summary:     "Get live status",
		Description: "Returns the ephemeral per-item status, falling back to the durable record when no live status exists",
		Tags:        []string{"Media"},
	}, h.GetStatus)

	huma.Register(api, huma.Operation{
		OperationID:   "requestDownload",
		Method:        "POST",
		Path:          "/api/v1/media/{id}/download",
		Summary:       "Request download",
		Description:   "Starts a download for the item, or restarts one that previously finished or failed",
		Tags:          []string{"Media"},
		DefaultStatus: 202,
	}, h.RequestDownload)

	huma.Register(api, huma.Operation{
		OperationID:   "deleteMedia",
		Method:        "DELETE",
		Path:          "/api/v1/media/{id}",
		Summary:       "Delete media item",
		Description:   "Cancels the download, removes transcoded outputs, and deletes the record",
		Tags:          []string{"Media"},
		DefaultStatus: 204,
	}, h.Delete)
}

// ListMediaInput is the input for the list endpoint.
type ListMediaInput struct {
	Status string `query:"status" doc:"Filter by lifecycle status" enum:",requested,downloading,download_complete,transcoding,ready,error"`
}

// ListMediaOutput is the output for the list endpoint.
type ListMediaOutput struct {
	Body struct {
		Items []MediaItemResponse `json:"items"`
		Total int                 `json:"total"`
	}
}

// List returns all media items.
func (h *MediaHandler) List(ctx context.Context, input *ListMediaInput) (*ListMediaOutput, error) {
	var (
		items []*models.MediaItem
		err   error
	)
	if input.Status != "" {
		items, err = h.repo.ListByStatus(ctx, models.MediaStatus(input.Status))
	} else {
		items, err = h.repo.List(ctx)
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("listing media items", err)
	}

	out := &ListMediaOutput{}
	out.Body.Items = make([]MediaItemResponse, 0, len(items))
	for _, item := range items {
		out.Body.Items = append(out.Body.Items, MediaItemFromModel(item, h.canStream(item)))
	}
	out.Body.Total = len(out.Body.Items)
	return out, nil
}

// GetMediaInput is the input for single-item endpoints.
type GetMediaInput struct {
	ID string `path:"id" doc:"External catalog identifier" maxLength:"64"`
}

// GetMediaOutput is the output for the get endpoint.
type GetMediaOutput struct {
	Body MediaItemResponse
}

// GetByID returns one media item.
func (h *MediaHandler) GetByID(ctx context.Context, input *GetMediaInput) (*GetMediaOutput, error) {
	item, err := h.repo.GetByID(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("loading media item", err)
	}
	if item == nil {
		return nil, huma.Error404NotFound("media item not found")
	}
	return &GetMediaOutput{Body: MediaItemFromModel(item, h.canStream(item))}, nil
}

// GetStatusOutput is the output for the live status endpoint.
type GetStatusOutput struct {
	Body LiveStatusResponse
}

// GetStatus returns the live per-item status. The key-value store is
// authoritative while work is in flight; the durable record backs it when the
// key is absent.
func (h *MediaHandler) GetStatus(ctx context.Context, input *GetMediaInput) (*GetStatusOutput, error) {
	item, err := h.repo.GetByID(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("loading media item", err)
	}
	if item == nil {
		return nil, huma.Error404NotFound("media item not found")
	}

	resp := LiveStatusResponse{
		ID:             item.ID,
		Status:         item.Status,
		AvailableRungs: item.AvailableRungs,
	}
	switch item.Status {
	case models.StatusRequested, models.StatusDownloading, models.StatusDownloadComplete:
		resp.Progress = item.DownloadProgress
	default:
		resp.Progress = item.TranscodeProgress
	}

	live, err := h.status.GetStatus(ctx, input.ID)
	if err != nil {
		h.logger.Warn("reading live status failed",
			slog.String("item", input.ID), slog.String("error", err.Error()))
	}
	if live != nil {
		resp.Status = live.Status
		resp.Progress = live.Progress
		resp.Message = live.Message
		resp.Error = live.Error
		if len(live.AvailableRungs) > 0 {
			resp.AvailableRungs = live.AvailableRungs
		}
		resp.AvailableForStreaming = live.AvailableForStreaming
	}
	if !resp.AvailableForStreaming {
		resp.AvailableForStreaming = h.canStream(item)
	}
	return &GetStatusOutput{Body: resp}, nil
}

// RequestDownloadInput is the input for the request-download endpoint.
type RequestDownloadInput struct {
	ID   string `path:"id" doc:"External catalog identifier" maxLength:"64"`
	Body RequestDownloadBody
}

// RequestDownloadOutput is the output for the request-download endpoint.
type RequestDownloadOutput struct {
	Body MediaItemResponse
}

// RequestDownload starts the pipeline for an item.
func (h *MediaHandler) RequestDownload(ctx context.Context, input *RequestDownloadInput) (*RequestDownloadOutput, error) {
	item, err := h.pipeline.RequestDownload(ctx, monitor.DownloadRequest{
		ItemID:       input.ID,
		Title:        input.Body.Title,
		SourceURI:    input.Body.SourceURI,
		SelectedRung: models.SourceRung(input.Body.SelectedRung),
	})
	if err != nil {
		if errors.Is(err, models.ErrAlreadyActive) {
			return nil, huma.Error409Conflict("item is already in the pipeline", err)
		}
		return nil, huma.Error502BadGateway("requesting download", err)
	}
	return &RequestDownloadOutput{Body: MediaItemFromModel(item, false)}, nil
}

// DeleteOutput is the (empty) output for the delete endpoint.
type DeleteOutput struct{}

// Delete removes an item and all of its artifacts.
func (h *MediaHandler) Delete(ctx context.Context, input *GetMediaInput) (*DeleteOutput, error) {
	if err := h.pipeline.Delete(ctx, input.ID); err != nil {
		return nil, huma.Error500InternalServerError("deleting media item", err)
	}
	return &DeleteOutput{}, nil
}

// canStream applies the streamability rule against the on-disk playlists. A
// fully transcoded MP4 is streamable by definition.
func (h *MediaHandler) canStream(item *models.MediaItem) bool {
	if item.FullyTranscoded && item.TranscodedPath != "" {
		return true
	}
	ok, err := hls.CanStream(hls.ItemDir(h.mediaRoot, item.ID))
	if err != nil {
		h.logger.Debug("streamability check failed",
			slog.String("item", item.ID), slog.String("error", err.Error()))
		return false
	}
	return ok
}
