// Package downloader provides a client for the external download daemon's
// aria2-compatible JSON-RPC interface.
package downloader

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/jmylchreest/vodarr/internal/config"
	"github.com/jmylchreest/vodarr/internal/observability"
	"github.com/jmylchreest/vodarr/internal/version"
)

// DownloadState is the downloader-side lifecycle state of a transfer.
type DownloadState string

const (
	StateActive   DownloadState = "active"
	StateWaiting  DownloadState = "waiting"
	StatePaused   DownloadState = "paused"
	StateError    DownloadState = "error"
	StateComplete DownloadState = "complete"
	StateRemoved  DownloadState = "removed"
)

// FileEntry describes one file within a transfer.
type FileEntry struct {
	Path            string
	Length          int64
	CompletedLength int64
	Selected        bool
}

// Status is the decoded state of one transfer.
type Status struct {
	Handle          string
	State           DownloadState
	TotalLength     int64
	CompletedLength int64
	DownloadSpeed   int64
	Dir             string
	Files           []FileEntry
	ErrorCode       string
	ErrorMessage    string
	// FollowedBy holds successor handles: a metadata-only magnet transfer
	// completes immediately and hands off to a new handle for the payload.
	FollowedBy []string
}

// Progress returns completed/total as a fraction in [0,1]; 0 when the total
// is unknown.
func (s *Status) Progress() float64 {
	if s.TotalLength <= 0 {
		return 0
	}
	f := float64(s.CompletedLength) / float64(s.TotalLength)
	if f > 1 {
		f = 1
	}
	return f
}

// Client is the downloader control surface the monitor depends on.
type Client interface {
	// AddURI starts a download of the given URI into dir and returns the
	// downloader's opaque handle.
	AddURI(ctx context.Context, uri, dir string) (string, error)
	// TellStatus fetches the current state of one transfer.
	TellStatus(ctx context.Context, handle string) (*Status, error)
	// TellActive lists transfers currently moving bytes.
	TellActive(ctx context.Context) ([]*Status, error)
	// TellStopped lists recently completed, errored, or removed transfers.
	TellStopped(ctx context.Context, offset, limit int) ([]*Status, error)
	// Remove stops and forgets a transfer.
	Remove(ctx context.Context, handle string) error
	// Ping verifies the RPC endpoint is reachable.
	Ping(ctx context.Context) error
}

// rpcRequest is a JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// rpcError is a JSON-RPC 2.0 error object.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("downloader rpc error %d: %s", e.Code, e.Message)
}

// rpcResponse is a JSON-RPC 2.0 response envelope with the result left raw.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// rpcStatus is the wire shape of a status object. All numbers arrive as
// decimal strings.
type rpcStatus struct {
	GID             string    `json:"gid"`
	Status          string    `json:"status"`
	TotalLength     string    `json:"totalLength"`
	CompletedLength string    `json:"completedLength"`
	DownloadSpeed   string    `json:"downloadSpeed"`
	Dir             string    `json:"dir"`
	ErrorCode       string    `json:"errorCode"`
	ErrorMessage    string    `json:"errorMessage"`
	FollowedBy      []string  `json:"followedBy"`
	Files           []rpcFile `json:"files"`
}

type rpcFile struct {
	Path            string `json:"path"`
	Length          string `json:"length"`
	CompletedLength string `json:"completedLength"`
	Selected        string `json:"selected"`
}

// client implements Client over resty with exponential-backoff retries.
type client struct {
	http    *resty.Client
	url     string
	secret  string
	retries int
	logger  *slog.Logger
}

var _ Client = (*client)(nil)

// New creates a downloader client from configuration.
func New(cfg config.DownloaderConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", version.UserAgent())

	retries := cfg.RetryAttempts
	if retries <= 0 {
		retries = 1
	}

	return &client{
		http:    httpClient,
		url:     cfg.URL,
		secret:  cfg.Secret,
		retries: retries,
		logger:  observability.WithComponent(logger, "downloader"),
	}
}

// call performs one JSON-RPC method call with retries and decodes the result
// into out. The shared secret, when configured, is prepended to the params as
// "token:<secret>".
func (c *client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	if c.secret != "" {
		params = append([]interface{}{"token:" + c.secret}, params...)
	}

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  params,
	}

	op := func() error {
		var rpcResp rpcResponse
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(&req).
			SetResult(&rpcResp).
			SetError(&rpcResp).
			Post(c.url)
		if err != nil {
			return fmt.Errorf("calling %s: %w", method, err)
		}
		if rpcResp.Error != nil {
			// RPC-level errors (bad handle, auth failure) are not transient.
			return backoff.Permanent(rpcResp.Error)
		}
		if resp.IsError() {
			return fmt.Errorf("calling %s: unexpected status %s", method, resp.Status())
		}
		if out != nil {
			if err := json.Unmarshal(rpcResp.Result, out); err != nil {
				return backoff.Permanent(fmt.Errorf("decoding %s result: %w", method, err))
			}
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(200*time.Millisecond),
			backoff.WithMaxInterval(2*time.Second),
		),
		uint64(c.retries-1),
	), ctx)

	return backoff.RetryNotify(op, policy, func(err error, next time.Duration) {
		c.logger.Warn("downloader rpc retry",
			slog.String("method", method),
			slog.Duration("next_attempt_in", next),
			slog.String("error", err.Error()),
		)
	})
}

func (c *client) AddURI(ctx context.Context, uri, dir string) (string, error) {
	params := []interface{}{[]string{uri}}
	if dir != "" {
		params = append(params, map[string]string{"dir": dir})
	}

	var handle string
	if err := c.call(ctx, "aria2.addUri", params, &handle); err != nil {
		return "", err
	}
	c.logger.Info("download requested", slog.String("handle", handle))
	return handle, nil
}

func (c *client) TellStatus(ctx context.Context, handle string) (*Status, error) {
	var raw rpcStatus
	if err := c.call(ctx, "aria2.tellStatus", []interface{}{handle}, &raw); err != nil {
		return nil, err
	}
	return decodeStatus(&raw), nil
}

func (c *client) TellActive(ctx context.Context) ([]*Status, error) {
	var raw []rpcStatus
	if err := c.call(ctx, "aria2.tellActive", nil, &raw); err != nil {
		return nil, err
	}
	return decodeStatuses(raw), nil
}

func (c *client) TellStopped(ctx context.Context, offset, limit int) ([]*Status, error) {
	var raw []rpcStatus
	if err := c.call(ctx, "aria2.tellStopped", []interface{}{offset, limit}, &raw); err != nil {
		return nil, err
	}
	return decodeStatuses(raw), nil
}

func (c *client) Remove(ctx context.Context, handle string) error {
	return c.call(ctx, "aria2.remove", []interface{}{handle}, nil)
}

func (c *client) Ping(ctx context.Context) error {
	var v struct {
		Version string `json:"version"`
	}
	return c.call(ctx, "aria2.getVersion", nil, &v)
}

func decodeStatuses(raw []rpcStatus) []*Status {
	out := make([]*Status, 0, len(raw))
	for i := range raw {
		out = append(out, decodeStatus(&raw[i]))
	}
	return out
}

func decodeStatus(raw *rpcStatus) *Status {
	s := &Status{
		Handle:          raw.GID,
		State:           DownloadState(raw.Status),
		TotalLength:     parseInt64(raw.TotalLength),
		CompletedLength: parseInt64(raw.CompletedLength),
		DownloadSpeed:   parseInt64(raw.DownloadSpeed),
		Dir:             raw.Dir,
		ErrorCode:       raw.ErrorCode,
		ErrorMessage:    raw.ErrorMessage,
		FollowedBy:      raw.FollowedBy,
	}
	for _, f := range raw.Files {
		s.Files = append(s.Files, FileEntry{
			Path:            f.Path,
			Length:          parseInt64(f.Length),
			CompletedLength: parseInt64(f.CompletedLength),
			Selected:        f.Selected == "true",
		})
	}
	return s
}

func parseInt64(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
