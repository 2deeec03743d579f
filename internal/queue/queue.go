// Package queue implements the Redis-backed transcode job queue and the
// ephemeral live-status store shared by the monitor, worker, and HTTP surface.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jmylchreest/vodarr/internal/config"
	"github.com/jmylchreest/vodarr/internal/models"
)

const (
	// jobsKey is the list key holding serialized transcode jobs.
	jobsKey = "jobs"
	// statusKeyPrefix prefixes per-item live status keys.
	statusKeyPrefix = "video_status:"
	// heartbeatKey is the well-known worker health key.
	heartbeatKey = "worker_health"
)

// ErrEmpty is returned by Pop when no job arrived within the timeout.
var ErrEmpty = errors.New("queue: no job available")

// JobQueue is the transcode job hand-off between monitor and worker.
type JobQueue interface {
	// Push appends a job to the tail of the queue.
	Push(ctx context.Context, job *models.TranscodeJob) error
	// Pop blocks up to timeout for a job from the head of the queue,
	// returning ErrEmpty when none arrived.
	Pop(ctx context.Context, timeout time.Duration) (*models.TranscodeJob, error)
	// Len returns the number of queued jobs.
	Len(ctx context.Context) (int64, error)
}

// StatusStore publishes and reads ephemeral live status.
type StatusStore interface {
	// SetStatus overwrites the live status for an item.
	SetStatus(ctx context.Context, itemID string, status *models.LiveStatus) error
	// GetStatus reads the live status for an item; (nil, nil) when absent.
	GetStatus(ctx context.Context, itemID string) (*models.LiveStatus, error)
	// DeleteStatus removes an item's live status key.
	DeleteStatus(ctx context.Context, itemID string) error
	// SetHeartbeat publishes the worker health record.
	SetHeartbeat(ctx context.Context, hb *models.WorkerHeartbeat) error
	// GetHeartbeat reads the worker health record; (nil, nil) when absent.
	GetHeartbeat(ctx context.Context) (*models.WorkerHeartbeat, error)
}

// Store implements JobQueue and StatusStore over a shared Redis connection.
type Store struct {
	rdb *redis.Client
}

var (
	_ JobQueue    = (*Store)(nil)
	_ StatusStore = (*Store)(nil)
)

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg config.RedisConfig) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}
	return &Store{rdb: rdb}, nil
}

// NewWithClient wraps an existing Redis client. Used by tests.
func NewWithClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Push(ctx context.Context, job *models.TranscodeJob) error {
	data, err := job.Encode()
	if err != nil {
		return err
	}
	if err := s.rdb.RPush(ctx, jobsKey, data).Err(); err != nil {
		return fmt.Errorf("pushing job for %s: %w", job.ItemID, err)
	}
	return nil
}

func (s *Store) Pop(ctx context.Context, timeout time.Duration) (*models.TranscodeJob, error) {
	res, err := s.rdb.BLPop(ctx, timeout, jobsKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrEmpty
		}
		return nil, fmt.Errorf("popping job: %w", err)
	}
	// BLPOP returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("popping job: unexpected reply of %d elements", len(res))
	}
	return models.DecodeTranscodeJob([]byte(res[1]))
}

func (s *Store) Len(ctx context.Context) (int64, error) {
	n, err := s.rdb.LLen(ctx, jobsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("measuring queue depth: %w", err)
	}
	return n, nil
}

func (s *Store) SetStatus(ctx context.Context, itemID string, status *models.LiveStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("encoding live status for %s: %w", itemID, err)
	}
	// No TTL: the status lives until the next writer overwrites it.
	if err := s.rdb.Set(ctx, statusKeyPrefix+itemID, data, 0).Err(); err != nil {
		return fmt.Errorf("publishing live status for %s: %w", itemID, err)
	}
	return nil
}

func (s *Store) GetStatus(ctx context.Context, itemID string) (*models.LiveStatus, error) {
	data, err := s.rdb.Get(ctx, statusKeyPrefix+itemID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading live status for %s: %w", itemID, err)
	}
	var status models.LiveStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("decoding live status for %s: %w", itemID, err)
	}
	return &status, nil
}

func (s *Store) DeleteStatus(ctx context.Context, itemID string) error {
	if err := s.rdb.Del(ctx, statusKeyPrefix+itemID).Err(); err != nil {
		return fmt.Errorf("deleting live status for %s: %w", itemID, err)
	}
	return nil
}

func (s *Store) SetHeartbeat(ctx context.Context, hb *models.WorkerHeartbeat) error {
	data, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("encoding heartbeat: %w", err)
	}
	if err := s.rdb.Set(ctx, heartbeatKey, data, 0).Err(); err != nil {
		return fmt.Errorf("publishing heartbeat: %w", err)
	}
	return nil
}

func (s *Store) GetHeartbeat(ctx context.Context) (*models.WorkerHeartbeat, error) {
	data, err := s.rdb.Get(ctx, heartbeatKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading heartbeat: %w", err)
	}
	var hb models.WorkerHeartbeat
	if err := json.Unmarshal(data, &hb); err != nil {
		return nil, fmt.Errorf("decoding heartbeat: %w", err)
	}
	return &hb, nil
}
