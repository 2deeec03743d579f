package monitor

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/jmylchreest/vodarr/internal/downloader"
)

// videoExtensions are the container extensions accepted as the item's video.
var videoExtensions = map[string]bool{
	".mkv":  true,
	".mp4":  true,
	".avi":  true,
	".mov":  true,
	".wmv":  true,
	".flv":  true,
	".webm": true,
}

func isVideoFile(path string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(path))]
}

// locateVideo finds the item's video file, trying the downloader's announced
// file list first and falling back to a title-directed walk of the download
// directory. Returns "" when nothing qualifies.
func locateVideo(status *downloader.Status, title string, minSize int64) string {
	if p := locateFromAnnouncedFiles(status, minSize); p != "" {
		return p
	}
	if title != "" && status != nil && status.Dir != "" {
		if p := locateByTitle(status.Dir, title, minSize); p != "" {
			return p
		}
	}
	return ""
}

// locateFromAnnouncedFiles scans the downloader's per-download file list for
// the first existing video file above the size floor.
func locateFromAnnouncedFiles(status *downloader.Status, minSize int64) string {
	if status == nil {
		return ""
	}
	for _, f := range status.Files {
		if !isVideoFile(f.Path) || f.Length <= minSize {
			continue
		}
		if info, err := os.Stat(f.Path); err == nil && !info.IsDir() {
			return f.Path
		}
	}
	return ""
}

// locateByTitle scans immediate sub-directories of the download dir whose
// normalized name shares a long enough run of characters with the normalized
// title, then picks the largest qualifying video file within.
func locateByTitle(dir, title string, minSize int64) string {
	normTitle := normalizeName(title)
	if normTitle == "" {
		return ""
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if commonRun(normalizeName(e.Name()), normTitle) < 10 {
			continue
		}
		if p := largestVideoIn(filepath.Join(dir, e.Name()), minSize); p != "" {
			return p
		}
	}
	return ""
}

// largestVideoIn walks a directory tree and returns the largest video file
// above the size floor.
func largestVideoIn(root string, minSize int64) string {
	var best string
	var bestSize int64

	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !isVideoFile(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() > minSize && info.Size() > bestSize {
			best = path
			bestSize = info.Size()
		}
		return nil
	})

	return best
}

// normalizeName lowercases and strips everything but letters and digits.
func normalizeName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// commonRun returns the length of the longest common substring of a and b.
func commonRun(a, b string) int {
	if a == "" || b == "" {
		return 0
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	best := 0
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > best {
					best = cur[j]
				}
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	return best
}
