package ffmpeg

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/jmylchreest/vodarr/internal/hls"
	"github.com/jmylchreest/vodarr/internal/models"
)

// EncodeOptions tunes the encoders shared by all output modes.
type EncodeOptions struct {
	SegmentSeconds int
	Preset         string
	CRF            int
}

func (o EncodeOptions) withDefaults() EncodeOptions {
	if o.SegmentSeconds <= 0 {
		o.SegmentSeconds = 10
	}
	if o.Preset == "" {
		o.Preset = "veryfast"
	}
	if o.CRF <= 0 {
		o.CRF = 28
	}
	return o
}

// BuildHLSArgs builds the ffmpeg arguments for one rung of an HLS ladder
// encode. Output is an event playlist so players can join mid-encode; on
// restart append_list resumes an existing playlist instead of truncating it.
func BuildHLSArgs(input, outDir string, rung models.Rung, opts EncodeOptions) []string {
	opts = opts.withDefaults()

	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", input,
		"-map", "0:v:0",
		"-map", "0:a:0?",
		"-sn",
		// -2 keeps the source aspect ratio with an even width.
		"-vf", fmt.Sprintf("scale=-2:%d", rung.Height),
		"-c:v", "libx264",
		"-preset", opts.Preset,
		"-crf", strconv.Itoa(opts.CRF),
		"-maxrate", strconv.Itoa(rung.VideoBitrate),
		"-bufsize", strconv.Itoa(rung.VideoBitrate * 2),
		"-profile:v", "main",
		"-level", "4.0",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", strconv.Itoa(rung.AudioBitrate),
		"-ar", "44100",
		"-ac", "2",
		"-hls_time", strconv.Itoa(opts.SegmentSeconds),
		"-hls_playlist_type", "event",
		"-hls_flags", "independent_segments+append_list",
		"-hls_segment_filename", filepath.Join(outDir, hls.SegmentPattern(rung.Suffix)),
		"-f", "hls",
		filepath.Join(outDir, hls.PlaylistName(rung.Suffix)),
	}
}

// BuildMP4Args builds the ffmpeg arguments for a single 720p MP4 output.
// loglevel info keeps the stderr progress lines the runner parses.
func BuildMP4Args(input, output string, opts EncodeOptions) []string {
	opts = opts.withDefaults()

	return []string{
		"-hide_banner",
		"-loglevel", "info",
		"-y",
		"-i", input,
		"-map", "0:v:0",
		"-map", "0:a:0?",
		"-sn",
		"-vf", "scale=-2:720",
		"-c:v", "libx264",
		"-preset", opts.Preset,
		"-crf", strconv.Itoa(opts.CRF),
		"-profile:v", "main",
		"-level", "4.0",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", "192000",
		"-ar", "44100",
		"-ac", "2",
		"-movflags", "+faststart",
		"-f", "mp4",
		output,
	}
}

// BuildThumbnailArgs builds the ffmpeg arguments for a single poster frame
// grabbed at the given offset.
func BuildThumbnailArgs(input, output string, offsetSeconds float64) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-ss", fmt.Sprintf("%.2f", offsetSeconds),
		"-i", input,
		"-vframes", "1",
		"-vf", "scale=640:-2",
		output,
	}
}
