package source

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spop/grupetto/pkg/config"
	"github.com/spop/grupetto/pkg/sensor"
	"github.com/spop/grupetto/pkg/wire"
)

func TestParseLine(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		line    string
		want    Frame
		wantErr bool
	}{
		{
			name: "power frame",
			line: "power,00 44 03 35 32 31",
			want: Frame{Channel: sensor.Power, Raw: "00 44 03 35 32 31", Timestamp: now},
		},
		{
			name: "cadence timeout",
			line: "cadence,TIME_OUT",
			want: Frame{Channel: sensor.Cadence, Raw: wire.TimeoutSentinel, Timestamp: now},
		},
		{
			name: "rpm alias and padding",
			line: "rpm, 00 01 02 30 39 ",
			want: Frame{Channel: sensor.Cadence, Raw: "00 01 02 30 39", Timestamp: now},
		},
		{
			name: "resistance keeps garbage for the decoder",
			line: "resistance,zz",
			want: Frame{Channel: sensor.Resistance, Raw: "zz", Timestamp: now},
		},
		{
			name:    "missing separator",
			line:    "power 00 44 03 35 32 31",
			wantErr: true,
		},
		{
			name:    "unknown channel",
			line:    "heartrate,00 01 01 31",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseLine(tt.line, now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRequestCommands(t *testing.T) {
	assert.Equal(t, "REQ 1\nREQ 2\nREQ 3\n", requestCommands())
}

func TestPush_DropsOldest(t *testing.T) {
	ch := make(chan Frame, 2)

	assert.True(t, push(ch, Frame{Raw: "a"}))
	assert.True(t, push(ch, Frame{Raw: "b"}))
	assert.False(t, push(ch, Frame{Raw: "c"}))

	assert.Equal(t, "b", (<-ch).Raw)
	assert.Equal(t, "c", (<-ch).Raw)
	assert.Empty(t, ch)
}

func TestNewSerial_Defaults(t *testing.T) {
	log, _ := test.NewNullLogger()
	s := NewSerial("/dev/null", 0, 0, log)

	assert.Equal(t, DefaultBaudRate, s.baudRate)
	assert.Equal(t, DefaultBufferSize, cap(s.frames))
	assert.False(t, s.IsConnected())
	assert.NoError(t, s.Close(), "closing an unconnected source is a no-op")
}

func TestNew_SelectsKind(t *testing.T) {
	log, _ := test.NewNullLogger()

	tests := []struct {
		kind string
		want Source
	}{
		{config.SourceSerial, &Serial{}},
		{config.SourceMock, &Mock{}},
		{config.SourceDead, &Dead{}},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			cfg := config.Default()
			cfg.Source.Kind = tt.kind

			src, err := New(cfg, log)
			require.NoError(t, err)
			assert.IsType(t, tt.want, src)
		})
	}

	cfg := config.Default()
	cfg.Source.Kind = "carrier-pigeon"
	_, err := New(cfg, log)
	assert.Error(t, err)
}

func TestDead_NeverEmits(t *testing.T) {
	log, hook := test.NewNullLogger()
	d := NewDead(log)

	require.NoError(t, d.Connect())
	assert.True(t, d.IsConnected())
	assert.Error(t, d.Connect())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	select {
	case <-d.Frames():
		t.Fatal("dead source emitted a frame")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, d.Close())
	_, ok := <-d.Frames()
	assert.False(t, ok)
}
