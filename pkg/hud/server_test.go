package hud

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spop/grupetto/pkg/config"
	"github.com/spop/grupetto/pkg/pipeline"
	"github.com/spop/grupetto/pkg/watchdog"
)

type fakeSource struct {
	mu        sync.Mutex
	latest    map[string]pipeline.Reading
	advisory  *watchdog.Event
	dismissed int
}

func (f *fakeSource) Latest() map[string]pipeline.Reading {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest
}

func (f *fakeSource) Advisory() (watchdog.Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.advisory == nil {
		return watchdog.Event{}, false
	}
	return *f.advisory, true
}

func (f *fakeSource) Dismiss() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advisory = nil
	f.dismissed++
}

func (f *fakeSource) dismissCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dismissed
}

func newFakeSource() *fakeSource {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &fakeSource{
		latest: map[string]pipeline.Reading{
			"power":   {Session: "s1", Channel: "power", Value: 150, Timestamp: t0},
			"cadence": {Session: "s1", Channel: "cadence", Value: 85, Timestamp: t0.Add(time.Second)},
		},
		advisory: &watchdog.Event{Time: t0, Message: "restart the bike"},
	}
}

func testConfig() config.HUDConfig {
	cfg := config.Default().HUD
	cfg.UpdatePeriod = 10 * time.Millisecond
	return cfg
}

func newTestServer(t *testing.T, cfg config.HUDConfig, src Source, metrics http.Handler) (*Server, *httptest.Server) {
	t.Helper()
	log, _ := test.NewNullLogger()
	s := New(cfg, src, log, metrics)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func TestSnapshot(t *testing.T) {
	log, _ := test.NewNullLogger()
	s := New(testConfig(), newFakeSource(), log, nil)

	snap := s.Snapshot()
	assert.Equal(t, "s1", snap.Session)
	assert.Equal(t, map[string]float64{"power": 150, "cadence": 85}, snap.Values)
	assert.Equal(t, "mph", snap.SpeedUnit)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC), snap.Updated)
	require.NotNil(t, snap.Advisory)
	assert.Equal(t, "restart the bike", snap.Advisory.Message)
}

func TestWebSocket_StreamsSnapshots(t *testing.T) {
	_, ts := newTestServer(t, testConfig(), newFakeSource(), nil)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < 3; i++ {
		var snap Snapshot
		require.NoError(t, conn.ReadJSON(&snap))
		assert.Equal(t, float64(150), snap.Values["power"])
	}
}

func TestWebSocket_Dismiss(t *testing.T) {
	src := newFakeSource()
	_, ts := newTestServer(t, testConfig(), src, nil)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(Command{Dismiss: true}))

	require.Eventually(t, func() bool {
		return src.dismissCount() == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	for {
		var snap Snapshot
		require.NoError(t, conn.ReadJSON(&snap))
		if snap.Advisory == nil {
			break
		}
	}
}

func TestWebSocket_RejectsOrigin(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"http://hud.local"}
	_, ts := newTestServer(t, cfg, newFakeSource(), nil)

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header = http.Header{"Origin": []string{"http://hud.local"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
	require.NoError(t, err)
	conn.Close()
}

func TestHealthAndSnapshotEndpoints(t *testing.T) {
	_, ts := newTestServer(t, testConfig(), newFakeSource(), nil)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	resp, err = http.Get(ts.URL + "/snapshot")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var snap Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, float64(85), snap.Values["cadence"])

	resp, err = http.Post(ts.URL+"/snapshot", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("grupetto_up 1\n"))
	})

	_, ts := newTestServer(t, testConfig(), newFakeSource(), metrics)
	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "grupetto_up 1\n", string(body))

	cfg := testConfig()
	cfg.EnableMetrics = false
	_, ts = newTestServer(t, cfg, newFakeSource(), metrics)
	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Addr = "127.0.0.1:0"
	log, _ := test.NewNullLogger()
	s := New(cfg, newFakeSource(), log, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
