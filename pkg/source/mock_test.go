package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spop/grupetto/pkg/config"
	"github.com/spop/grupetto/pkg/sensor"
)

func testMockConfig() *config.MockConfig {
	return &config.MockConfig{
		SampleRate: 10 * time.Millisecond,
		Power:      200,
		Cadence:    150,
		Resistance: 110,
	}
}

func TestMock_GenerateDecodes(t *testing.T) {
	m := NewMock(testMockConfig())

	decoders := make(map[sensor.Channel]*sensor.Decoder)
	for _, c := range sensor.Channels {
		d, err := sensor.NewDecoder(c)
		require.NoError(t, err)
		decoders[c] = d
	}

	peaks := map[sensor.Channel]float64{
		sensor.Power:      200,
		sensor.Cadence:    150,
		sensor.Resistance: 110,
	}

	for i := 0; i < 40; i++ {
		frames := m.generate(time.Now())
		require.Len(t, frames, len(sensor.Channels))

		for _, f := range frames {
			s, err := decoders[f.Channel].Decode(f.Raw)
			require.NoError(t, err, "frame %q", f.Raw)
			assert.GreaterOrEqual(t, s.Value, 0.0)
			assert.LessOrEqual(t, s.Value, peaks[f.Channel]+0.1)
		}
	}
}

func TestMock_FirstSampleIsMidpoint(t *testing.T) {
	m := NewMock(testMockConfig())

	frames := m.generate(time.Now())
	d, err := sensor.NewDecoder(sensor.Power)
	require.NoError(t, err)

	for _, f := range frames {
		if f.Channel != sensor.Power {
			continue
		}
		s, err := d.Decode(f.Raw)
		require.NoError(t, err)
		assert.InDelta(t, 100.0, s.Value, 0.1)
	}
}

func TestMock_ConnectTwice(t *testing.T) {
	m := NewMock(testMockConfig())
	require.NoError(t, m.Connect())
	defer m.Close()

	assert.True(t, m.IsConnected())
	assert.Error(t, m.Connect())
}

func TestMock_NilConfigUsesDefaults(t *testing.T) {
	m := NewMock(nil)
	assert.Equal(t, config.Default().Mock, *m.cfg)
}

// TestMock_GracefulShutdown tests that Mock closes the frames channel
// when Close() is called.
func TestMock_GracefulShutdown(t *testing.T) {
	mock := NewMock(testMockConfig())
	err := mock.Connect()
	assert.NoError(t, err)

	frames := mock.Frames()

	received := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range frames {
			received++
			if received >= 3 {
				mock.Close()
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Frames channel did not close within timeout")
	}

	assert.GreaterOrEqual(t, received, 3, "Should receive frames before channel closes")
	assert.False(t, mock.IsConnected())

	_, ok := <-frames
	assert.False(t, ok, "Channel should be closed")
}
