package http

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/VictoriaMetrics/metrics"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	st := &httpServerTransport{}
	st.RegisterHandler(func(shardId uint64, req []byte) []byte {
		return append([]byte(strings.Repeat("*", int(shardId))), req...)
	})
	srv := httptest.NewServer(st.router())
	t.Cleanup(srv.Close)
	return srv
}

func TestSend(t *testing.T) {
	srv := newTestServer(t)

	ct := NewHttpClientTransport()
	require.NoError(t, ct.Connect(common.ClientConfig{Endpoints: []string{srv.URL}, TimeoutSecond: 5, RetryCount: 1}))
	defer ct.Close()

	resp, err := ct.Send(3, []byte("ping"))
	require.NoError(t, err)
	require.Equal(t, "***ping", string(resp))
}

func TestFailover(t *testing.T) {
	srv := newTestServer(t)
	down := httptest.NewServer(http.NotFoundHandler())
	down.Close()

	ct := NewHttpClientTransport()
	require.NoError(t, ct.Connect(common.ClientConfig{Endpoints: []string{down.URL, srv.URL}, TimeoutSecond: 5}))
	defer ct.Close()

	for i := 0; i < 4; i++ {
		resp, err := ct.Send(1, []byte("x"))
		require.NoError(t, err)
		require.Equal(t, "*x", string(resp))
	}
}

func TestRoutes(t *testing.T) {
	srv := newTestServer(t)
	metrics.GetOrCreateCounter(`ddoc_test_route_total`).Inc()

	tests := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"shard request", http.MethodPost, "/7", http.StatusOK},
		{"invalid shard", http.MethodPost, "/abc", http.StatusNotFound},
		{"get on shard", http.MethodGet, "/7", http.StatusMethodNotAllowed},
		{"metrics", http.MethodGet, "/metrics", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, strings.NewReader("body"))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, tt.status, resp.StatusCode)

			if tt.path == "/metrics" {
				body, err := io.ReadAll(resp.Body)
				require.NoError(t, err)
				require.Contains(t, string(body), "ddoc_test_route_total 1")
			}
		})
	}
}

func TestNotConnected(t *testing.T) {
	_, err := NewHttpClientTransport().Send(1, nil)
	require.Error(t, err)
}
