package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/threadgraph/graph"
)

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := twoStepGraph(t, NewPrometheusListener(reg), false)
	_, err := r.Invoke(context.Background(), graph.State{"steps": "start"}, graph.Config{ThreadID: "1"})
	require.NoError(t, err)

	server := httptest.NewServer(Handler(reg))
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `threadgraph_runs_total{outcome="completed"} 1`)
	assert.Contains(t, string(body), `threadgraph_checkpoints_total{source="loop"} 2`)
}

func TestListenAndServe_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ListenAndServe(ctx, "127.0.0.1:0", prometheus.NewRegistry())
	}()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
