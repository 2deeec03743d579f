package models

import "encoding/json"

// LiveError carries a machine-readable short code plus a message in the live
// status view. Raw external error text never reaches end users.
type LiveError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// LiveStatus is the ephemeral per-item status published to the key-value
// store by the monitor and worker, and read by the HTTP surface as a detail
// view. It has no TTL; writers overwrite it.
type LiveStatus struct {
	Status                MediaStatus     `json:"status"`
	Progress              float64         `json:"progress"`
	Message               string          `json:"message,omitempty"`
	Metadata              json.RawMessage `json:"metadata,omitempty"`
	AvailableRungs        []string        `json:"available_rungs,omitempty"`
	AvailableForStreaming bool            `json:"available_for_streaming,omitempty"`
	Error                 *LiveError      `json:"error,omitempty"`
}

// WorkerHeartbeat is the well-known health record a worker publishes every
// heartbeat interval.
type WorkerHeartbeat struct {
	Status   string `json:"status"`
	WorkerID string `json:"worker_id"`
	LastSeen int64  `json:"last_seen"` // unix seconds
}
