package downloader

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vodarr/internal/config"
)

// fakeRPC records incoming JSON-RPC requests and replays canned responses.
type fakeRPC struct {
	t         *testing.T
	requests  []rpcRequest
	responses map[string]string // method -> raw result JSON
	failures  int              // initial 500s before answering
}

func (f *fakeRPC) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		f.requests = append(f.requests, req)

		if f.failures > 0 {
			f.failures--
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		result, ok := f.responses[req.Method]
		if !ok {
			result = `{"code":1,"message":"unknown method"}`
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":"` + req.ID + `","error":` + result + `}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":"` + req.ID + `","result":` + result + `}`))
	}
}

func newTestClient(t *testing.T, f *fakeRPC, secret string) Client {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	return New(config.DownloaderConfig{
		URL:           srv.URL,
		Secret:        secret,
		Timeout:       2 * time.Second,
		RetryAttempts: 3,
	}, nil)
}

func TestClient_AddURI(t *testing.T) {
	fake := &fakeRPC{t: t, responses: map[string]string{
		"aria2.addUri": `"2089b05ecca3d829"`,
	}}
	c := newTestClient(t, fake, "s3cret")

	handle, err := c.AddURI(context.Background(), "magnet:?xt=urn:btih:abc", "/downloads/tt1")
	require.NoError(t, err)
	assert.Equal(t, "2089b05ecca3d829", handle)

	require.Len(t, fake.requests, 1)
	req := fake.requests[0]
	assert.Equal(t, "aria2.addUri", req.Method)
	// Secret travels as the first positional param.
	require.GreaterOrEqual(t, len(req.Params), 3)
	assert.Equal(t, "token:s3cret", req.Params[0])
}

func TestClient_TellStatus(t *testing.T) {
	fake := &fakeRPC{t: t, responses: map[string]string{
		"aria2.tellStatus": `{
			"gid":"2089b05ecca3d829",
			"status":"active",
			"totalLength":"2000000000",
			"completedLength":"150000000",
			"downloadSpeed":"1048576",
			"dir":"/downloads/tt1",
			"files":[
				{"path":"/downloads/tt1/movie.mkv","length":"1999000000","completedLength":"150000000","selected":"true"},
				{"path":"/downloads/tt1/sample.txt","length":"1000000","completedLength":"0","selected":"false"}
			]
		}`,
	}}
	c := newTestClient(t, fake, "")

	st, err := c.TellStatus(context.Background(), "2089b05ecca3d829")
	require.NoError(t, err)
	assert.Equal(t, StateActive, st.State)
	assert.Equal(t, int64(2_000_000_000), st.TotalLength)
	assert.Equal(t, int64(150_000_000), st.CompletedLength)
	assert.InDelta(t, 0.075, st.Progress(), 0.001)
	require.Len(t, st.Files, 2)
	assert.True(t, st.Files[0].Selected)
	assert.False(t, st.Files[1].Selected)

	// No secret configured: params carry just the handle.
	assert.Equal(t, []interface{}{"2089b05ecca3d829"}, fake.requests[0].Params)
}

func TestClient_TellStopped_FollowedBy(t *testing.T) {
	fake := &fakeRPC{t: t, responses: map[string]string{
		"aria2.tellStopped": `[
			{"gid":"meta1","status":"complete","totalLength":"50000","completedLength":"50000","followedBy":["payload1"]}
		]`,
	}}
	c := newTestClient(t, fake, "")

	stopped, err := c.TellStopped(context.Background(), 0, 100)
	require.NoError(t, err)
	require.Len(t, stopped, 1)
	assert.Equal(t, StateComplete, stopped[0].State)
	assert.Equal(t, []string{"payload1"}, stopped[0].FollowedBy)
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	fake := &fakeRPC{t: t, failures: 2, responses: map[string]string{
		"aria2.getVersion": `{"version":"1.36.0"}`,
	}}
	c := newTestClient(t, fake, "")

	require.NoError(t, c.Ping(context.Background()))
	assert.Len(t, fake.requests, 3)
}

func TestClient_RPCErrorIsPermanent(t *testing.T) {
	fake := &fakeRPC{t: t, responses: map[string]string{}}
	c := newTestClient(t, fake, "")

	_, err := c.TellStatus(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown method")
	// No retries for RPC-level errors.
	assert.Len(t, fake.requests, 1)
}
