package ffmpeg

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MediaMetadata is the probe summary persisted as metadata.json alongside the
// transcoded outputs. The HTTP surface serves it verbatim.
type MediaMetadata struct {
	DurationSeconds float64   `json:"duration_seconds"`
	Width           int       `json:"width"`
	Height          int       `json:"height"`
	VideoCodec      string    `json:"video_codec"`
	AudioCodec      string    `json:"audio_codec,omitempty"`
	AudioChannels   int       `json:"audio_channels,omitempty"`
	Framerate       float64   `json:"framerate,omitempty"`
	SourceSizeBytes int64     `json:"source_size_bytes,omitempty"`
	ProbedAt        time.Time `json:"probed_at"`
}

// NewMediaMetadata summarizes a probe result.
func NewMediaMetadata(result *ProbeResult) *MediaMetadata {
	md := &MediaMetadata{
		DurationSeconds: result.DurationSeconds(),
		ProbedAt:        time.Now().UTC(),
	}

	if v := result.GetVideoStream(); v != nil {
		md.Width = v.Width
		md.Height = v.Height
		md.VideoCodec = v.CodecName
		md.Framerate = v.Framerate()
	}
	if a := result.GetAudioStream(); a != nil {
		md.AudioCodec = a.CodecName
		md.AudioChannels = a.Channels
	}
	if result.Format.Size != "" {
		fmt.Sscanf(result.Format.Size, "%d", &md.SourceSizeBytes)
	}

	return md
}

// WriteMetadata persists the metadata sidecar into dir.
func WriteMetadata(dir string, md *MediaMetadata) error {
	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	path := filepath.Join(dir, "metadata.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// ReadMetadata loads the metadata sidecar from dir; (nil, nil) when absent.
func ReadMetadata(dir string) (*MediaMetadata, error) {
	path := filepath.Join(dir, "metadata.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var md MediaMetadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return &md, nil
}
