package monitor

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_IndependentRegistries(t *testing.T) {
	a := New()
	b := New()

	a.Rejections.Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(a.Rejections))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.Rejections))
}

func TestHandler_ExposesMetrics(t *testing.T) {
	m := New()
	m.Faults.WithLabelValues("power", "timeout").Inc()
	m.ChannelValue.WithLabelValues("cadence").Set(87)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `grupetto_faults_total{channel="power",kind="timeout"} 1`)
	assert.Contains(t, string(body), `grupetto_channel_value{channel="cadence"} 87`)
}

func TestRunRuntimeMonitor(t *testing.T) {
	m := New()
	log, _ := test.NewNullLogger()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.RunRuntimeMonitor(ctx, time.Hour, log)
	}()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.GoroutineCount) > 0
	}, time.Second, 10*time.Millisecond)
	assert.Greater(t, testutil.ToFloat64(m.MemoryUsage), float64(0))

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runtime monitor did not stop")
	}
}
