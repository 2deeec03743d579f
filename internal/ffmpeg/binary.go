// Package ffmpeg wraps the ffmpeg and ffprobe binaries for source probing and
// HLS/MP4 transcoding.
package ffmpeg

import (
	"fmt"

	"github.com/jmylchreest/vodarr/internal/config"
	"github.com/jmylchreest/vodarr/internal/util"
)

// Binaries holds the resolved paths to the ffmpeg and ffprobe executables.
type Binaries struct {
	FFmpeg  string
	FFprobe string
}

// ResolveBinaries locates ffmpeg and ffprobe. Explicit configuration wins;
// otherwise the search order is VODARR_FFMPEG_BINARY / VODARR_FFPROBE_BINARY,
// the current directory, then PATH.
func ResolveBinaries(cfg config.TranscodeConfig) (*Binaries, error) {
	b := &Binaries{
		FFmpeg:  cfg.FFmpegPath,
		FFprobe: cfg.FFprobePath,
	}

	if b.FFmpeg == "" {
		path, err := util.FindBinary("ffmpeg", "VODARR_FFMPEG_BINARY")
		if err != nil {
			return nil, fmt.Errorf("ffmpeg not found: %w", err)
		}
		b.FFmpeg = path
	}

	if b.FFprobe == "" {
		path, err := util.FindBinary("ffprobe", "VODARR_FFPROBE_BINARY")
		if err != nil {
			return nil, fmt.Errorf("ffprobe not found: %w", err)
		}
		b.FFprobe = path
	}

	return b, nil
}
