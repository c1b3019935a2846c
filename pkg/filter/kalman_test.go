package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKalman_FirstUpdateMovesPartway(t *testing.T) {
	k := NewKalman(5, SmoothNormal, 20)

	got := k.Update(100)
	gain := 25.0 / (25.0 + 16.0)
	assert.InDelta(t, gain*100, got, 1e-12)
	assert.InDelta(t, gain, k.Gain(), 1e-12)
	assert.InDelta(t, 25*(1-gain), k.EstimatedError(), 1e-12)
	assert.Less(t, got, float64(100))
}

func TestKalman_Converges(t *testing.T) {
	for _, factor := range []SmoothFactor{SmoothHeavy, SmoothNormal, SmoothLight, SmoothMinimal} {
		k := NewKalman(5, factor, 20)
		var v float64
		for range 1000 {
			v = k.Update(42.5)
		}
		assert.InDelta(t, 42.5, v, 1e-9, "factor %v", factor)
		assert.Equal(t, v, k.Value())
	}
}

func TestKalman_HeavierIsSlower(t *testing.T) {
	heavy := NewKalman(5, SmoothHeavy, 20)
	light := NewKalman(5, SmoothLight, 20)
	for range 3 {
		heavy.Update(100)
		light.Update(100)
	}
	assert.Less(t, heavy.Value(), light.Value())
}

func TestKalman_ResetParameters(t *testing.T) {
	k := NewKalman(0.125, SmoothNormal, 20)
	for range 10 {
		k.Update(50)
	}
	k.SetProcessNoise(3)
	value := k.Value()

	k.ResetParameters()
	assert.Equal(t, 0.125, k.ProcessNoise())
	assert.Equal(t, float64(20), k.EstimatedError())
	assert.Equal(t, value, k.Value())
}

func TestParseSmoothFactor(t *testing.T) {
	tests := []struct {
		in      string
		want    SmoothFactor
		wantErr bool
	}{
		{"heavy", SmoothHeavy, false},
		{"Normal", SmoothNormal, false},
		{"", SmoothNormal, false},
		{"light", SmoothLight, false},
		{"minimal", SmoothMinimal, false},
		{"12.5", CustomSmoothFactor(12.5), false},
		{"0", 0, true},
		{"-3", 0, true},
		{"silky", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSmoothFactor(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
