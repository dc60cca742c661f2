// SPDX-License-Identifier: MIT

package aria2

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDaemon answers JSON-RPC calls with canned per-method responses and
// records the params it saw.
type fakeDaemon struct {
	mu      sync.Mutex
	calls   []rpcRequest
	results map[string]func(call int) any
	counts  map[string]int
}

func newFakeDaemon() *fakeDaemon {
	return &fakeDaemon{
		results: map[string]func(int) any{},
		counts:  map[string]int{},
	}
}

func (f *fakeDaemon) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.calls = append(f.calls, req)
		n := f.counts[req.Method]
		f.counts[req.Method]++
		fn := f.results[req.Method]
		f.mu.Unlock()

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if fn == nil {
			resp["error"] = map[string]any{"code": 1, "message": "no handler"}
		} else {
			resp["result"] = fn(n)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func (f *fakeDaemon) params(method string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c.Method == method {
			return c.Params
		}
	}
	return nil
}

func statusResult(state, completed, total, speed, code, msg string) map[string]any {
	return map[string]any{
		"gid":             "g1",
		"status":          state,
		"completedLength": completed,
		"totalLength":     total,
		"downloadSpeed":   speed,
		"errorCode":       code,
		"errorMessage":    msg,
		"files":           []map[string]any{{"path": "/downloads/file.mkv"}},
	}
}

func TestAddURISendsSecretToken(t *testing.T) {
	daemon := newFakeDaemon()
	daemon.results["aria2.addUri"] = func(int) any { return "g1" }
	srv := httptest.NewServer(daemon.handler())
	defer srv.Close()

	c := New(srv.URL, "hunter2")
	gid, err := c.AddURI(context.Background(), "https://host/file.mkv", "/downloads")
	require.NoError(t, err)
	assert.Equal(t, "g1", gid)

	params := daemon.params("aria2.addUri")
	require.Len(t, params, 3)
	assert.Equal(t, "token:hunter2", params[0])
	assert.Equal(t, []any{"https://host/file.mkv"}, params[1])
	assert.Equal(t, map[string]any{"dir": "/downloads"}, params[2])
}

func TestTellStatusParsesWireStrings(t *testing.T) {
	daemon := newFakeDaemon()
	daemon.results["aria2.tellStatus"] = func(int) any {
		return statusResult("active", "1048576", "4194304", "524288", "", "")
	}
	srv := httptest.NewServer(daemon.handler())
	defer srv.Close()

	st, err := New(srv.URL, "").TellStatus(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(1048576), st.CompletedLength)
	assert.Equal(t, int64(4194304), st.TotalLength)
	assert.Equal(t, int64(524288), st.DownloadSpeed)
	assert.Equal(t, "/downloads/file.mkv", st.FilePath)
}

func TestCallReportsRPCError(t *testing.T) {
	daemon := newFakeDaemon()
	srv := httptest.NewServer(daemon.handler())
	defer srv.Close()

	_, err := New(srv.URL, "").AddURI(context.Background(), "https://x", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no handler")
}

func TestCallUnreachableDaemonIsNetworkError(t *testing.T) {
	c := New("http://127.0.0.1:1/jsonrpc", "")
	_, err := c.AddURI(context.Background(), "https://x", "")
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestFetchCompletes(t *testing.T) {
	daemon := newFakeDaemon()
	daemon.results["aria2.addUri"] = func(int) any { return "g1" }
	daemon.results["aria2.tellStatus"] = func(call int) any {
		if call == 0 {
			return statusResult("active", "512", "1024", "256", "", "")
		}
		return statusResult("complete", "1024", "1024", "0", "", "")
	}
	srv := httptest.NewServer(daemon.handler())
	defer srv.Close()

	f := NewFetcher(New(srv.URL, ""), "/downloads", 5*time.Millisecond)
	var samples []Sample
	path, err := f.Fetch(context.Background(), "https://host/file.mkv", func(s Sample) {
		samples = append(samples, s)
	})
	require.NoError(t, err)
	assert.Equal(t, "/downloads/file.mkv", path)
	require.NotEmpty(t, samples)
	assert.Equal(t, int64(512), samples[0].Completed)
	assert.Equal(t, int64(1024), samples[0].Total)
}

func TestFetchClassifiesFailure(t *testing.T) {
	daemon := newFakeDaemon()
	daemon.results["aria2.addUri"] = func(int) any { return "g1" }
	daemon.results["aria2.tellStatus"] = func(int) any {
		return statusResult("error", "0", "0", "0", "3", "resource was not found")
	}
	srv := httptest.NewServer(daemon.handler())
	defer srv.Close()

	f := NewFetcher(New(srv.URL, ""), "", 5*time.Millisecond)
	_, err := f.Fetch(context.Background(), "https://host/missing", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFetchCancelRemovesJob(t *testing.T) {
	daemon := newFakeDaemon()
	daemon.results["aria2.addUri"] = func(int) any { return "g1" }
	daemon.results["aria2.tellStatus"] = func(int) any {
		return statusResult("active", "10", "100", "1", "", "")
	}
	daemon.results["aria2.remove"] = func(int) any { return "g1" }
	srv := httptest.NewServer(daemon.handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	f := NewFetcher(New(srv.URL, ""), "", 5*time.Millisecond)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := f.Fetch(ctx, "https://host/file.mkv", nil)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Eventually(t, func() bool {
		daemon.mu.Lock()
		defer daemon.mu.Unlock()
		return daemon.counts["aria2.remove"] > 0
	}, time.Second, 10*time.Millisecond)
}

func TestClassifyMessageScanFallback(t *testing.T) {
	cases := []struct {
		msg  string
		want error
	}{
		{"HTTP 404 Not Found", ErrNotFound},
		{"authorization failed", ErrAccessDenied},
		{"could not resolve host", ErrNetwork},
	}
	for _, tc := range cases {
		err := classify(Status{State: "error", ErrorCode: "99", ErrorMessage: tc.msg})
		assert.ErrorIs(t, err, tc.want, tc.msg)
	}

	err := classify(Status{State: "error", ErrorCode: "99", ErrorMessage: "weird"})
	assert.False(t, errors.Is(err, ErrNotFound) || errors.Is(err, ErrAccessDenied) || errors.Is(err, ErrNetwork))
}
