// Package hls manages the on-disk HLS output layout for media items: per-rung
// media playlists, synthesized master playlists, and output hygiene.
//
// Layout per item, under the media root:
//
//	<root>/<item_id>_hls/
//	    output_360p.m3u8
//	    output_360p_000.ts ...
//	    output_1080p.m3u8
//	    output_1080p_000.ts ...
//	    metadata.json
//	    thumbnails/
//	        thumb_000.png ...
package hls

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jmylchreest/vodarr/internal/models"
)

const (
	// DirSuffix is appended to the item ID to form the output directory name.
	DirSuffix = "_hls"
	// MetadataFile is the probe metadata sidecar within the item directory.
	MetadataFile = "metadata.json"
	// ThumbnailsDir is the scrub thumbnail sub-directory within the item
	// directory.
	ThumbnailsDir = "thumbnails"
	// MasterName is the synthesized master playlist's URL name. It is never
	// written to disk.
	MasterName = "master.m3u8"
)

// ItemDir returns the output directory for an item under the media root.
func ItemDir(root, itemID string) string {
	return filepath.Join(root, itemID+DirSuffix)
}

// PlaylistName returns the media playlist filename for a rung suffix.
func PlaylistName(suffix string) string {
	return "output_" + suffix + ".m3u8"
}

// SegmentPattern returns the ffmpeg segment filename pattern for a rung
// suffix.
func SegmentPattern(suffix string) string {
	return "output_" + suffix + "_%03d.ts"
}

// ThumbnailName returns the filename of the n-th scrub thumbnail.
func ThumbnailName(n int) string {
	return fmt.Sprintf("thumb_%03d.png", n)
}

// RungFromPlaylist extracts the rung suffix from a media playlist filename,
// returning "" when the name does not match the output naming scheme.
func RungFromPlaylist(name string) string {
	if !strings.HasPrefix(name, "output_") || !strings.HasSuffix(name, ".m3u8") {
		return ""
	}
	return strings.TrimSuffix(strings.TrimPrefix(name, "output_"), ".m3u8")
}

// RungPlaylists lists the rung suffixes that have a media playlist on disk,
// sorted for stable output. A missing directory yields an empty list.
func RungPlaylists(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading hls dir %s: %w", dir, err)
	}

	var rungs []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if r := RungFromPlaylist(e.Name()); r != "" {
			rungs = append(rungs, r)
		}
	}
	sort.Strings(rungs)
	return rungs, nil
}

// IsPlaylistComplete reports whether a media playlist is terminated with
// EXT-X-ENDLIST, i.e. the encode for that rung has finished.
func IsPlaylistComplete(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("opening playlist %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.HasPrefix(strings.TrimSpace(scanner.Text()), "#EXT-X-ENDLIST") {
			return true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("scanning playlist %s: %w", path, err)
	}
	return false, nil
}

// SegmentCount returns the number of EXTINF entries in a media playlist. A
// missing playlist counts as zero segments.
func SegmentCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("opening playlist %s: %w", path, err)
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.HasPrefix(strings.TrimSpace(scanner.Text()), "#EXTINF") {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scanning playlist %s: %w", path, err)
	}
	return count, nil
}

// CanStream reports whether an item is streamable: at least one rung playlist
// exists with at least one segment entry. Playback can begin mid-encode; the
// player re-polls a growing event playlist.
func CanStream(dir string) (bool, error) {
	rungs, err := RungPlaylists(dir)
	if err != nil {
		return false, err
	}
	for _, r := range rungs {
		n, err := SegmentCount(filepath.Join(dir, PlaylistName(r)))
		if err != nil {
			return false, err
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}

// CompleteRungs returns the rung suffixes whose playlists are terminated.
func CompleteRungs(dir string) ([]string, error) {
	rungs, err := RungPlaylists(dir)
	if err != nil {
		return nil, err
	}
	var complete []string
	for _, r := range rungs {
		done, err := IsPlaylistComplete(filepath.Join(dir, PlaylistName(r)))
		if err != nil {
			return nil, err
		}
		if done {
			complete = append(complete, r)
		}
	}
	return complete, nil
}

// SynthesizeMaster renders a master playlist for the given rungs, ordered by
// ascending bandwidth. Only rungs whose media playlist exists in dir are
// included; the result is served directly and never written to disk.
func SynthesizeMaster(dir string, ladder []models.Rung) (string, error) {
	var present []models.Rung
	for _, r := range ladder {
		if _, err := os.Stat(filepath.Join(dir, PlaylistName(r.Suffix))); err == nil {
			present = append(present, r)
		}
	}
	if len(present) == 0 {
		return "", fmt.Errorf("no rung playlists in %s", dir)
	}

	sort.Slice(present, func(i, j int) bool {
		return present[i].Bandwidth() < present[j].Bandwidth()
	})

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	for _, r := range present {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d,NAME=\"%s\"\n",
			r.Bandwidth(), r.Width, r.Height, r.Name)
		b.WriteString(PlaylistName(r.Suffix))
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// CleanOutputs removes stale transcode artifacts (segments, playlists, and
// subtitle fragments) from an item directory before a fresh encode. Metadata
// and the thumbnails sub-directory are kept. A missing directory is not an
// error.
func CleanOutputs(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading hls dir %s: %w", dir, err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".ts", ".m3u8", ".vtt":
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
				return fmt.Errorf("removing stale output %s: %w", e.Name(), err)
			}
		}
	}
	return nil
}

// EnsureDir creates the item output directory.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating hls dir %s: %w", dir, err)
	}
	return nil
}
