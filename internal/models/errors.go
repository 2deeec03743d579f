package models

import "errors"

// Pipeline error sentinels. These classify failures the same way the live
// status error codes do; handlers and workers wrap them with context.
var (
	// ErrIllegalTransition is returned when a state change would violate the
	// media item lifecycle. Callers must refuse and log, never overwrite.
	ErrIllegalTransition = errors.New("illegal media status transition")

	// ErrInputCorrupt indicates the probe classified the source as unusable
	// (zero duration, missing dimensions, missing container index).
	ErrInputCorrupt = errors.New("input file corrupt")

	// ErrMissingSource indicates the source video file is absent on disk.
	ErrMissingSource = errors.New("video file not found")

	// ErrNoRungsSucceeded indicates every rung encode in a ladder job failed.
	ErrNoRungsSucceeded = errors.New("no quality rungs succeeded")

	// ErrAlreadyActive is returned when a download is requested for an item
	// that is still moving through the pipeline.
	ErrAlreadyActive = errors.New("item already active")
)

// ErrorCode is the machine-readable short code carried by live status errors.
type ErrorCode string

const (
	ErrorCodeTransient     ErrorCode = "transient_external"
	ErrorCodeInputCorrupt  ErrorCode = "input_corrupt"
	ErrorCodeRungFailure   ErrorCode = "encode_rung_failure"
	ErrorCodeMissingSource ErrorCode = "missing_source"
)
