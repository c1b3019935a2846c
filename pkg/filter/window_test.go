package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMinWindow(t *testing.T) {
	w := NewMinWindow(2)

	_, ok := w.Push(10)
	assert.False(t, ok)

	v, ok := w.Push(12)
	assert.True(t, ok)
	assert.Equal(t, float64(10), v)

	// Single spike is hidden.
	v, ok = w.Push(90)
	assert.True(t, ok)
	assert.Equal(t, float64(12), v)

	v, ok = w.Push(13)
	assert.True(t, ok)
	assert.Equal(t, float64(13), v)
}

func TestMinWindow_SizeThree(t *testing.T) {
	w := NewMinWindow(3)
	w.Push(5)
	w.Push(3)
	v, ok := w.Push(7)
	assert.True(t, ok)
	assert.Equal(t, float64(3), v)

	v, _ = w.Push(8)
	assert.Equal(t, float64(3), v)
	v, _ = w.Push(9)
	assert.Equal(t, float64(7), v)
}

func TestMinWindow_Flush(t *testing.T) {
	tests := []struct {
		name  string
		size  int
		input []float64
		want  []float64
	}{
		{"empty", 2, nil, nil},
		{"never filled", 4, []float64{6, 4}, []float64{4, 4}},
		{"never filled rising", 3, []float64{2, 7}, []float64{2, 7}},
		{"full size two repeats last", 2, []float64{10, 12, 90}, []float64{90}},
		{"full size three", 3, []float64{5, 3, 7, 8}, []float64{7, 8}},
		{"size one", 1, []float64{3, 4}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewMinWindow(tt.size)
			for _, v := range tt.input {
				w.Push(v)
			}
			assert.Equal(t, tt.want, w.Flush())
			assert.Nil(t, w.Flush(), "flush empties the window")
		})
	}
}

func TestMinWindow_InvalidSize(t *testing.T) {
	w := NewMinWindow(0)
	v, ok := w.Push(3)
	assert.True(t, ok)
	assert.Equal(t, float64(3), v)
}
