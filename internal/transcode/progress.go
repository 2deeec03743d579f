package transcode

import (
	"math"
	"path/filepath"
	"sync"
)

// Progress phases: probing and setup own the first 10 points, encoding the
// next 70, finalization the rest. Encoding progress is capped until the
// finalization phase runs.
const (
	progressBase       = 10.0
	progressEncodeSpan = 70.0
	progressEncodeCap  = 80.0
)

// progressTracker derives per-item progress from rung completions plus
// segment counts of the rungs currently encoding.
type progressTracker struct {
	mu               sync.Mutex
	totalRungs       int
	expectedSegments int
	outputDir        string
	completed        []string
	active           map[string]bool
}

func newProgressTracker(totalRungs, expectedSegments int, outputDir string) *progressTracker {
	return &progressTracker{
		totalRungs:       totalRungs,
		expectedSegments: expectedSegments,
		outputDir:        outputDir,
		active:           make(map[string]bool),
	}
}

// StartRung marks a rung as encoding.
func (t *progressTracker) StartRung(suffix string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[suffix] = true
}

// CompleteRung marks a rung finished and reports whether it was the first.
func (t *progressTracker) CompleteRung(suffix string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, suffix)
	t.completed = append(t.completed, suffix)
	return len(t.completed) == 1
}

// CompletedRungs returns the suffixes of the rungs finished so far.
func (t *progressTracker) CompletedRungs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.completed))
	copy(out, t.completed)
	return out
}

// FailRung drops a rung from the active set without counting it complete.
func (t *progressTracker) FailRung(suffix string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, suffix)
}

// Progress returns the current item progress percentage.
func (t *progressTracker) Progress() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := progressBase + float64(len(t.completed))/float64(t.totalRungs)*progressEncodeSpan

	// Within-rung contribution from on-disk segment counts of active encodes.
	for suffix := range t.active {
		matches, err := filepath.Glob(filepath.Join(t.outputDir, "output_"+suffix+"_*.ts"))
		if err != nil {
			continue
		}
		frac := float64(len(matches)) / float64(t.expectedSegments)
		if frac > 1 {
			frac = 1
		}
		p += frac / float64(t.totalRungs) * progressEncodeSpan
	}

	if p > progressEncodeCap {
		p = progressEncodeCap
	}
	return math.Round(p*100) / 100
}
