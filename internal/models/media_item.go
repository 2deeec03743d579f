// Package models defines the persistent and wire-level types for the vodarr
// media pipeline.
package models

import (
	"fmt"
	"math"
	"time"
)

// MediaStatus represents the lifecycle state of a media item.
type MediaStatus string

const (
	// StatusRequested indicates a download has been requested but not started.
	StatusRequested MediaStatus = "requested"
	// StatusDownloading indicates the external downloader is fetching the source.
	StatusDownloading MediaStatus = "downloading"
	// StatusDownloadComplete indicates the source finished downloading before
	// any transcode was triggered.
	StatusDownloadComplete MediaStatus = "download_complete"
	// StatusTranscoding indicates a transcode job is queued or running.
	StatusTranscoding MediaStatus = "transcoding"
	// StatusReady indicates at least one quality rung is fully transcoded.
	StatusReady MediaStatus = "ready"
	// StatusError is the terminal failure state; only an explicit
	// re-download resets it.
	StatusError MediaStatus = "error"
)

// legalTransitions lists, per current status, the states a record may move to.
// Self-transitions are always permitted (idempotent re-marks, e.g. during the
// recovery sweep). READY and ERROR leave only through ResetForRedownload.
var legalTransitions = map[MediaStatus][]MediaStatus{
	StatusRequested:        {StatusDownloading, StatusError},
	StatusDownloading:      {StatusDownloadComplete, StatusTranscoding, StatusError},
	StatusDownloadComplete: {StatusTranscoding, StatusError},
	StatusTranscoding:      {StatusReady, StatusError},
	StatusReady:            {},
	StatusError:            {},
}

// SourceRung identifies the source quality of the requested download.
type SourceRung string

const (
	SourceRung720p  SourceRung = "720p"
	SourceRung1080p SourceRung = "1080p"
	SourceRung2160p SourceRung = "2160p"
	SourceRung3D    SourceRung = "3D"
)

// MediaItem is the durable per-item record shared by the download monitor,
// the transcode worker, and the HTTP surface. It is keyed by the external
// catalog identifier (e.g. "tt0111161").
//
// Field ownership: the monitor owns the download-side fields and the
// downloading→transcoding transition; the worker owns transcode_progress,
// available_rungs, and the transition to ready. Last-writer-wins on the row is
// therefore correctness-preserving.
type MediaItem struct {
	// ID is the external catalog identifier.
	ID string `gorm:"primarykey;size:64" json:"id"`

	Title string `gorm:"size:512" json:"title,omitempty"`

	Status MediaStatus `gorm:"not null;default:'requested';size:20;index" json:"status"`

	// DownloaderHandle is the opaque handle minted by the external downloader.
	DownloaderHandle string `gorm:"size:64;index" json:"downloader_handle,omitempty"`

	// SourceURI is the magnet-style URI the download was requested with.
	SourceURI string `gorm:"size:4096" json:"source_uri,omitempty"`

	// SelectedRung is the source quality rung that was requested, not an
	// output rung.
	SelectedRung SourceRung `gorm:"size:10" json:"selected_rung,omitempty"`

	TotalBytes      int64 `json:"total_bytes"`
	DownloadedBytes int64 `json:"downloaded_bytes"`

	// DownloadProgress is a percentage in [0,100] rounded to two decimals.
	DownloadProgress float64 `json:"download_progress"`

	// DownloadPath is the directory the downloader writes into.
	DownloadPath string `gorm:"size:1024" json:"download_path,omitempty"`

	// SourceVideoPath is the specific video file within DownloadPath.
	SourceVideoPath string `gorm:"size:1024" json:"source_video_path,omitempty"`

	// TranscodeProgress is a percentage in [0,100], maintained by the worker.
	TranscodeProgress float64 `json:"transcode_progress"`

	// AvailableRungs is the ordered list of rung names advertised as
	// streamable. Stored as JSON.
	AvailableRungs StringList `gorm:"type:text;serializer:json" json:"available_rungs"`

	// TranscodedPath is the single-file output of an MP4 job.
	TranscodedPath string `gorm:"size:1024" json:"transcoded_path,omitempty"`

	// FullyTranscoded is set by single-file jobs once the atomic rename of
	// the output has happened.
	FullyTranscoded bool `json:"fully_transcoded"`

	// ErrorMessage is set only when Status is StatusError.
	ErrorMessage string `gorm:"size:4096" json:"error_message,omitempty"`

	LastWatchedAt *time.Time `json:"last_watched_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for MediaItem.
func (MediaItem) TableName() string {
	return "media_items"
}

// StringList is a JSON-serialized string slice column.
type StringList []string

// CanTransition reports whether moving to the given status is legal.
func (m *MediaItem) CanTransition(to MediaStatus) bool {
	if m.Status == to {
		return true
	}
	for _, s := range legalTransitions[m.Status] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves the record to the given status, refusing illegal moves.
func (m *MediaItem) Transition(to MediaStatus) error {
	if !m.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, m.Status, to)
	}
	m.Status = to
	return nil
}

// SetError transitions the record to the error state with a human-readable
// message. Any state may fail.
func (m *MediaItem) SetError(msg string) {
	m.Status = StatusError
	m.ErrorMessage = msg
}

// SetDownloadProgress records downloaded/total bytes and derives the rounded
// percentage. A zero total leaves the percentage at 0 (unknown size).
func (m *MediaItem) SetDownloadProgress(downloaded, total int64) {
	if downloaded < 0 {
		downloaded = 0
	}
	if total > 0 && downloaded > total {
		downloaded = total
	}
	m.DownloadedBytes = downloaded
	m.TotalBytes = total
	if total > 0 {
		m.DownloadProgress = math.Round(float64(downloaded)/float64(total)*100*100) / 100
	}
}

// ResetForRedownload clears all pipeline state so the item can be requested
// again. This is the only way out of the ready and error states.
func (m *MediaItem) ResetForRedownload() {
	m.Status = StatusRequested
	m.DownloaderHandle = ""
	m.TotalBytes = 0
	m.DownloadedBytes = 0
	m.DownloadProgress = 0
	m.DownloadPath = ""
	m.SourceVideoPath = ""
	m.TranscodeProgress = 0
	m.AvailableRungs = nil
	m.TranscodedPath = ""
	m.FullyTranscoded = false
	m.ErrorMessage = ""
}

// IsTerminal reports whether the record is in a state that requires an
// explicit reset before further pipeline work.
func (m *MediaItem) IsTerminal() bool {
	return m.Status == StatusReady || m.Status == StatusError
}
