package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCollectors_Record(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	c.Query(true)
	c.Query(true)
	c.Query(false)
	c.Conflict()
	c.Restart()
	c.Hypothesis("s1", 3)
	c.Timeout("s1", 250*time.Millisecond, true)
	c.Finding("PADDING_ORACLE")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.queriesTotal.WithLabelValues("cache")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.queriesTotal.WithLabelValues("live")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.conflictsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.restartsTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.learnedStates.WithLabelValues("s1")))
	assert.Equal(t, 0.25, testutil.ToFloat64(c.timeoutSeconds.WithLabelValues("s1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.timeoutIncreases))
}

func TestCollectors_NilIsNoop(t *testing.T) {
	var c *Collectors
	assert.NotPanics(t, func() {
		c.Query(false)
		c.Conflict()
		c.Restart()
		c.Hypothesis("s", 1)
		c.Timeout("s", time.Second, true)
		c.Finding("x")
		c.SessionDone("complete", time.Second)
	})
}

func TestCollectors_Handler(t *testing.T) {
	c, err := New()
	require.NoError(t, err)
	c.Conflict()

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "stateprobe_cache_conflicts_total 1"))
}

func TestCollectors_ServeStopsOnCancel(t *testing.T) {
	c, err := New()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx, "127.0.0.1:0", zap.NewNop()) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}
