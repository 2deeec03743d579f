package models

// Rung is one entry in an adaptive bitrate ladder: a resolution plus video
// and audio bitrates. Bitrates are in bits per second.
type Rung struct {
	Name         string `json:"name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	VideoBitrate int    `json:"video_bitrate"`
	AudioBitrate int    `json:"audio_bitrate"`
	// Suffix is the filename component used in output_<suffix>.m3u8 and the
	// segment pattern output_<suffix>_%03d.ts. Usually equal to Name.
	Suffix string `json:"filename_suffix"`
}

// DefaultLadder returns the standard four-rung ladder, ordered lowest to
// highest.
func DefaultLadder() []Rung {
	return []Rung{
		{Name: "360p", Width: 640, Height: 360, VideoBitrate: 800_000, AudioBitrate: 96_000, Suffix: "360p"},
		{Name: "480p", Width: 854, Height: 480, VideoBitrate: 1_400_000, AudioBitrate: 128_000, Suffix: "480p"},
		{Name: "720p", Width: 1280, Height: 720, VideoBitrate: 2_800_000, AudioBitrate: 192_000, Suffix: "720p"},
		{Name: "1080p", Width: 1920, Height: 1080, VideoBitrate: 5_000_000, AudioBitrate: 192_000, Suffix: "1080p"},
	}
}

// Bandwidth returns the combined video+audio bandwidth advertised in the
// master playlist for this rung.
func (r Rung) Bandwidth() int {
	return r.VideoBitrate + r.AudioBitrate
}

// FitsSource reports whether the rung can be produced from a source with the
// given dimensions. Only downscaling is allowed; a rung exactly equal to the
// source is kept.
func (r Rung) FitsSource(srcWidth, srcHeight int) bool {
	return r.Width <= srcWidth && r.Height <= srcHeight
}
