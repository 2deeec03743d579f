// Package handlers provides the HTTP API and streaming handlers for vodarr.
package handlers

import (
	"time"

	"github.com/jmylchreest/vodarr/internal/models"
)

// CanStreamRuleExtinf names the streamability rule the API advertises: an
// item is streamable once at least one rung playlist carries at least one
// segment entry. Clients can rely on the rule staying stable across versions.
const CanStreamRuleExtinf = "extinf"

// MediaItemResponse represents a media item in API responses.
type MediaItemResponse struct {
	ID                string             `json:"id"`
	Title             string             `json:"title,omitempty"`
	Status            models.MediaStatus `json:"status"`
	SelectedRung      models.SourceRung  `json:"selected_rung,omitempty"`
	TotalBytes        int64              `json:"total_bytes"`
	DownloadedBytes   int64              `json:"downloaded_bytes"`
	DownloadProgress  float64            `json:"download_progress"`
	TranscodeProgress float64            `json:"transcode_progress"`
	AvailableRungs    []string           `json:"available_rungs,omitempty"`
	CanStream         bool               `json:"can_stream"`
	CanStreamRule     string             `json:"can_stream_rule"`
	FullyTranscoded   bool               `json:"fully_transcoded"`
	ErrorMessage      string             `json:"error_message,omitempty"`
	LastWatchedAt     *time.Time         `json:"last_watched_at,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// MediaItemFromModel converts a model to a response. canStream is computed
// from the on-disk playlists, not the durable record.
func MediaItemFromModel(item *models.MediaItem, canStream bool) MediaItemResponse {
	return MediaItemResponse{
		ID:                item.ID,
		Title:             item.Title,
		Status:            item.Status,
		SelectedRung:      item.SelectedRung,
		TotalBytes:        item.TotalBytes,
		DownloadedBytes:   item.DownloadedBytes,
		DownloadProgress:  item.DownloadProgress,
		TranscodeProgress: item.TranscodeProgress,
		AvailableRungs:    item.AvailableRungs,
		CanStream:         canStream,
		CanStreamRule:     CanStreamRuleExtinf,
		FullyTranscoded:   item.FullyTranscoded,
		ErrorMessage:      item.ErrorMessage,
		LastWatchedAt:     item.LastWatchedAt,
		CreatedAt:         item.CreatedAt,
		UpdatedAt:         item.UpdatedAt,
	}
}

// RequestDownloadBody is the request body for starting (or restarting) a
// download.
type RequestDownloadBody struct {
	Title        string `json:"title,omitempty" doc:"Display title, also used to locate the video inside multi-file downloads" maxLength:"512"`
	SourceURI    string `json:"source_uri" doc:"Magnet-style URI handed to the external downloader" minLength:"1" maxLength:"4096"`
	SelectedRung string `json:"selected_rung,omitempty" doc:"Requested source quality" enum:"720p,1080p,2160p,3D"`
}

// LiveStatusResponse is the ephemeral per-item status detail view.
type LiveStatusResponse struct {
	ID                    string             `json:"id"`
	Status                models.MediaStatus `json:"status"`
	Progress              float64            `json:"progress"`
	Message               string             `json:"message,omitempty"`
	AvailableRungs        []string           `json:"available_rungs,omitempty"`
	AvailableForStreaming bool               `json:"available_for_streaming"`
	Error                 *models.LiveError  `json:"error,omitempty"`
}
