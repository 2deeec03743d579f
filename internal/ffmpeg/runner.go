package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// timePattern matches the time= field in ffmpeg stderr progress lines, e.g.
// "frame= 1234 fps= 25 ... time=00:05:12.48 bitrate= ...".
var timePattern = regexp.MustCompile(`time=(\d+):(\d{2}):(\d{2})(?:\.(\d+))?`)

// ParseProgressTime extracts the last encode position, in seconds, from an
// ffmpeg stderr line. Returns -1 when the line carries no time field.
func ParseProgressTime(line string) float64 {
	m := timePattern.FindStringSubmatch(line)
	if m == nil {
		return -1
	}
	h, _ := strconv.Atoi(m[1])
	min, _ := strconv.Atoi(m[2])
	s, _ := strconv.Atoi(m[3])
	secs := float64(h*3600 + min*60 + s)
	if m[4] != "" {
		if frac, err := strconv.ParseFloat("0."+m[4], 64); err == nil {
			secs += frac
		}
	}
	return secs
}

// Runner executes ffmpeg processes.
type Runner struct {
	ffmpegPath string
	logger     *slog.Logger
}

// NewRunner creates an ffmpeg runner.
func NewRunner(ffmpegPath string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{ffmpegPath: ffmpegPath, logger: logger}
}

// Run executes ffmpeg with the given arguments, streaming stderr. When
// onProgress is non-nil it receives the encode position in seconds for each
// progress line. Cancellation of ctx kills the process.
func (r *Runner) Run(ctx context.Context, args []string, onProgress func(seconds float64)) error {
	cmd := exec.CommandContext(ctx, r.ffmpegPath, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("attaching ffmpeg stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting ffmpeg: %w", err)
	}

	// Keep a bounded tail of stderr for the error message.
	var tail []string
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if onProgress != nil {
			if secs := ParseProgressTime(line); secs >= 0 {
				onProgress(secs)
				continue
			}
		}
		tail = append(tail, line)
		if len(tail) > 20 {
			tail = tail[1:]
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg interrupted: %w", ctx.Err())
		}
		if len(tail) > 0 {
			return fmt.Errorf("ffmpeg failed: %w: %s", err, strings.Join(tail, "; "))
		}
		return fmt.Errorf("ffmpeg failed: %w", err)
	}
	return nil
}
