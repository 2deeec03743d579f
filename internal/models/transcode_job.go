package models

import (
	"encoding/json"
	"fmt"
)

// JobKind selects the transcode mode for a queued job.
type JobKind string

const (
	// JobKindHLSLadder produces a multi-rung HLS ladder.
	JobKindHLSLadder JobKind = "hls_ladder"
	// JobKindSingleMP4 produces a single 720p MP4 file.
	JobKindSingleMP4 JobKind = "single_mp4"
)

// TranscodeOptions tunes a transcode job. Zero values fall back to worker
// defaults.
type TranscodeOptions struct {
	SegmentSeconds   int    `json:"segment_seconds,omitempty"`
	Rungs            []Rung `json:"rungs,omitempty"`
	Preset           string `json:"preset,omitempty"`
	CRF              int    `json:"crf,omitempty"`
	EnableThumbnails bool   `json:"enable_thumbnails"`
	EnableParallel   bool   `json:"enable_parallel"`
	MaxParallel      int    `json:"max_parallel,omitempty"`
}

// TranscodeJob is the ephemeral job descriptor pushed onto the queue by the
// monitor and consumed exactly once by a worker.
type TranscodeJob struct {
	// JobID identifies the job instance for logging; a ULID string.
	JobID     string           `json:"job_id"`
	Kind      JobKind          `json:"job_kind"`
	ItemID    string           `json:"item_id"`
	InputPath string           `json:"input_path"`
	OutputDir string           `json:"output_dir"`
	Options   TranscodeOptions `json:"options"`
}

// Encode serializes the job as UTF-8 JSON for the queue.
func (j *TranscodeJob) Encode() ([]byte, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("encoding transcode job: %w", err)
	}
	return data, nil
}

// DecodeTranscodeJob deserializes a queue payload.
func DecodeTranscodeJob(data []byte) (*TranscodeJob, error) {
	var job TranscodeJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decoding transcode job: %w", err)
	}
	if job.ItemID == "" {
		return nil, fmt.Errorf("decoding transcode job: missing item_id")
	}
	if job.Kind == "" {
		job.Kind = JobKindHLSLadder
	}
	return &job, nil
}

// Validate checks the fields a worker requires before execution.
func (j *TranscodeJob) Validate() error {
	if j.InputPath == "" {
		return fmt.Errorf("transcode job %s: missing input path", j.ItemID)
	}
	if j.OutputDir == "" {
		return fmt.Errorf("transcode job %s: missing output dir", j.ItemID)
	}
	switch j.Kind {
	case JobKindHLSLadder, JobKindSingleMP4:
	default:
		return fmt.Errorf("transcode job %s: unknown kind %q", j.ItemID, j.Kind)
	}
	return nil
}
