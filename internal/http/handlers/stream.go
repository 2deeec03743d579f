package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/vodarr/internal/hls"
	"github.com/jmylchreest/vodarr/internal/metrics"
	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/repository"
)

const (
	contentTypeHLS     = "application/vnd.apple.mpegurl"
	contentTypeSegment = "video/mp2t"

	// Segments are immutable once written; playlists mutate while an encode
	// is appending to them.
	cacheSegments   = "public, max-age=31536000, immutable"
	cachePlaylists  = "no-cache"
	cacheThumbnails = "public, max-age=86400"
)

// StreamHandler serves playlists, segments, thumbnails, and single-file MP4
// output. These routes bypass the API layer: playlist and segment fetches are
// the hot path and carry no body schemas worth describing.
type StreamHandler struct {
	repo      repository.MediaItemRepository
	mediaRoot string
	ladder    []models.Rung
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewStreamHandler creates a stream handler rooted at the media directory.
func NewStreamHandler(repo repository.MediaItemRepository, mediaRoot string, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{
		repo:      repo,
		mediaRoot: mediaRoot,
		ladder:    models.DefaultLadder(),
		logger:    logger,
	}
}

// WithMetrics enables served-bytes accounting.
func (h *StreamHandler) WithMetrics(m *metrics.Metrics) *StreamHandler {
	h.metrics = m
	return h
}

// Register mounts the streaming routes. The master playlist route must sit
// before the per-file catch-all.
func (h *StreamHandler) Register(r chi.Router) {
	r.Route("/stream/{id}", func(r chi.Router) {
		r.Get("/master.m3u8", h.Master)
		r.Get("/video.mp4", h.MP4)
		r.Get("/thumbnails/{file}", h.Thumbnail)
		r.Get("/{file}", h.File)
	})
}

// streamState is the JSON body returned when an item is not streamable yet.
type streamState struct {
	ID           string             `json:"id"`
	Status       models.MediaStatus `json:"status"`
	Progress     float64            `json:"progress"`
	ErrorMessage string             `json:"error_message,omitempty"`
}

// Master serves the synthesized master playlist. The playlist is built from
// the playlists present on disk at request time, so rungs appear as they
// finish encoding.
func (h *StreamHandler) Master(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	item, ok := h.loadItem(w, r, id)
	if !ok {
		return
	}

	switch item.Status {
	case models.StatusRequested, models.StatusDownloading, models.StatusDownloadComplete:
		// Nothing transcoded yet: the client should retry later.
		writeJSON(w, http.StatusConflict, streamState{
			ID: id, Status: item.Status, Progress: item.DownloadProgress,
		})
		return
	case models.StatusError:
		writeJSON(w, http.StatusConflict, streamState{
			ID: id, Status: item.Status, ErrorMessage: item.ErrorMessage,
		})
		return
	}

	dir := hls.ItemDir(h.mediaRoot, id)
	master, err := hls.SynthesizeMaster(dir, h.ladder)
	if err != nil {
		if item.Status == models.StatusTranscoding {
			// Accepted but not yet playable: first rung still encoding.
			writeJSON(w, http.StatusAccepted, streamState{
				ID: id, Status: item.Status, Progress: item.TranscodeProgress,
			})
			return
		}
		writeJSON(w, http.StatusNotFound, streamState{
			ID: id, Status: item.Status, ErrorMessage: "no streamable rungs on disk",
		})
		return
	}

	h.touchWatched(r, id)

	w.Header().Set("Content-Type", contentTypeHLS)
	w.Header().Set("Cache-Control", cachePlaylists)
	_, _ = w.Write([]byte(master))
}

// File serves rung playlists, segments, and the probe metadata from the
// item's output directory.
func (h *StreamHandler) File(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	file := chi.URLParam(r, "file")
	if !safeName(file) {
		http.NotFound(w, r)
		return
	}

	path := filepath.Join(hls.ItemDir(h.mediaRoot, id), file)

	switch {
	case strings.HasSuffix(file, ".m3u8"):
		if hls.RungFromPlaylist(file) == "" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", contentTypeHLS)
		w.Header().Set("Cache-Control", cachePlaylists)
	case strings.HasSuffix(file, ".ts"):
		w.Header().Set("Content-Type", contentTypeSegment)
		w.Header().Set("Cache-Control", cacheSegments)
		if h.metrics != nil {
			if info, err := os.Stat(path); err == nil {
				h.metrics.SegmentBytesServed.Add(float64(info.Size()))
			}
		}
	case file == hls.MetadataFile:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", cachePlaylists)
	default:
		http.NotFound(w, r)
		return
	}

	http.ServeFile(w, r, path)
}

// Thumbnail serves one extracted preview frame.
func (h *StreamHandler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	file := chi.URLParam(r, "file")
	if !safeName(file) || !strings.HasPrefix(file, "thumb_") || !strings.HasSuffix(file, ".png") {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", cacheThumbnails)
	http.ServeFile(w, r, filepath.Join(hls.ItemDir(h.mediaRoot, id), hls.ThumbnailsDir, file))
}

// MP4 serves the single-file output with range support.
func (h *StreamHandler) MP4(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	item, ok := h.loadItem(w, r, id)
	if !ok {
		return
	}

	if item.TranscodedPath == "" || !item.FullyTranscoded {
		switch item.Status {
		case models.StatusTranscoding:
			writeJSON(w, http.StatusAccepted, streamState{
				ID: id, Status: item.Status, Progress: item.TranscodeProgress,
			})
		case models.StatusError:
			writeJSON(w, http.StatusConflict, streamState{
				ID: id, Status: item.Status, ErrorMessage: item.ErrorMessage,
			})
		default:
			writeJSON(w, http.StatusConflict, streamState{
				ID: id, Status: item.Status, Progress: item.DownloadProgress,
			})
		}
		return
	}

	h.touchWatched(r, id)
	http.ServeFile(w, r, item.TranscodedPath)
}

// loadItem fetches the record, writing the error response itself on failure.
func (h *StreamHandler) loadItem(w http.ResponseWriter, r *http.Request, id string) (*models.MediaItem, bool) {
	item, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("loading media item failed",
			slog.String("item", id), slog.String("error", err.Error()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return nil, false
	}
	if item == nil {
		http.NotFound(w, r)
		return nil, false
	}
	return item, true
}

// touchWatched records playback start, best-effort.
func (h *StreamHandler) touchWatched(r *http.Request, id string) {
	if err := h.repo.TouchLastWatched(r.Context(), id, time.Now()); err != nil {
		h.logger.Debug("touching last watched failed",
			slog.String("item", id), slog.String("error", err.Error()))
	}
}

// safeName rejects anything that could escape the item directory.
func safeName(name string) bool {
	return name != "" && name == filepath.Base(name) && !strings.Contains(name, "..")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
