package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/mocklock/pkg/api"
	"github.com/jingkaihe/mocklock/pkg/authority"
	"github.com/jingkaihe/mocklock/pkg/relay"
	"github.com/jingkaihe/mocklock/pkg/shim"
)

func startRelay(t *testing.T, rules ...api.Rule) string {
	t.Helper()
	store := authority.NewMemoryStore(nil)
	for _, r := range rules {
		_, err := store.Put(context.Background(), r)
		require.NoError(t, err)
	}

	// Keep the Unix socket path short; macOS rejects long socket paths.
	tempDir, err := os.MkdirTemp("", "mkcl-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(tempDir) })
	socketPath := filepath.Join(tempDir, "r.sock")

	srv, err := relay.NewServer(relay.ServerConfig{Resolver: store, Notifier: store})
	require.NoError(t, err)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(context.Background(), socketPath) }()
	t.Cleanup(func() {
		_ = srv.Close()
		require.NoError(t, <-errCh)
	})

	require.Eventually(t, func() bool {
		_, err := os.Stat(socketPath)
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)
	return socketPath
}

func installShim(t *testing.T, socketPath, origin string) *shim.Shim {
	t.Helper()
	port, err := relay.Dial(context.Background(), socketPath, relay.JSONCodec{})
	require.NoError(t, err)
	s := shim.Install(port, shim.Options{Origin: origin})
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestFetchCommandPrimitives(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("X-Upstream", "yes")
		_, _ = w.Write([]byte("real"))
	}))
	t.Cleanup(upstream.Close)

	socketPath := startRelay(t, api.Rule{
		ID:      "users",
		Enabled: true,
		Request: api.RuleRequest{URL: upstream.URL + "/users"},
		Response: api.MockResponse{
			Status:  200,
			Headers: api.Headers{{Name: "Content-Type", Value: "application/json"}},
			Body:    "[]",
		},
	})

	primitives := map[string]func(context.Context, *shim.Shim, string, string, http.Header, []byte) (fetchResult, error){
		"fetch": fetchWithFetch,
		"xhr":   fetchWithXHR,
	}
	for name, do := range primitives {
		t.Run(name, func(t *testing.T) {
			hits.Store(0)
			s := installShim(t, socketPath, upstream.URL)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			res, err := do(ctx, s, "GET", "/users", nil, nil)
			require.NoError(t, err)
			assert.Equal(t, 200, res.Status)
			assert.Equal(t, "OK", res.StatusText)
			assert.Equal(t, "Content-Type: application/json", res.Headers)
			assert.Equal(t, "[]", res.Body)
			assert.Zero(t, hits.Load())

			res, err = do(ctx, s, "GET", "/other", nil, nil)
			require.NoError(t, err)
			assert.Equal(t, "real", res.Body)
			assert.Contains(t, res.Headers, "X-Upstream: yes")
			assert.Equal(t, int32(1), hits.Load())
		})
	}
}
