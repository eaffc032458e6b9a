package tonemap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAutoExposureThresholds(t *testing.T) {
	tests := []struct {
		gray   float64
		expect float64
	}{
		{0.05, 1.25},
		{0.18, 1.25},
		{0.30, 1.25}, // strictly greater than 0.3 is needed
		{0.45, 1.0},
		{0.60, 1.0},
		{0.80, 0.5},
	}

	for _, tc := range tests {
		p, err := AutoExposure(uniform(10, 10, tc.gray))
		require.NoError(t, err)
		assert.Equal(t, tc.expect, p.Exposure, "gray %.2f", tc.gray)
	}
}

func TestAutoExposureFixedLook(t *testing.T) {
	p, err := AutoExposure(randomImage(10, 10, 7))
	require.NoError(t, err)

	assert.Equal(t, 0.08, p.Blacks)
	assert.Equal(t, 0.92, p.Whites)
	assert.Equal(t, 0.0, p.Highlights)
	assert.Equal(t, 0.0, p.Shadows)
	assert.Equal(t, 1.10, p.Saturation)
	assert.Greater(t, p.Exposure, 0.0)

	// everything else is left neutral
	n := Neutral()
	assert.Equal(t, n.Contrast, p.Contrast)
	assert.Equal(t, n.SharpenValue, p.SharpenValue)
}

func TestAutoExposureMonotonic(t *testing.T) {
	bright, err := AutoExposure(uniform(10, 10, 0.8))
	require.NoError(t, err)
	mid, err := AutoExposure(uniform(10, 10, 0.18))
	require.NoError(t, err)

	assert.LessOrEqual(t, bright.Exposure, mid.Exposure)

	prev := ExposureBoostFor(0.0)
	for l := 0.0; l <= 1.0; l += 0.01 {
		b := ExposureBoostFor(l)
		assert.LessOrEqual(t, b, prev, "boost went up at lum %.2f", l)
		prev = b
	}
}

func TestMeanLuminanceUsesBT709(t *testing.T) {
	img := mustImage(t, 1, 1, 1.0, 0.0, 0.0)
	m, err := MeanLuminance(img)
	require.NoError(t, err)
	assert.InDelta(t, 0.2126, m, 1e-12)
}
