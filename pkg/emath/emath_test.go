package emath

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAffineCompose(t *testing.T) {
	// rightmost happens first: move to origin, scale, move to the middle
	m := Identity().Translate(50, 40).Scale(2, 2).Translate(-200, -150)
	x, y := m.Apply(200, 150)
	assert.Equal(t, 50.0, x)
	assert.Equal(t, 40.0, y)
	assert.Equal(t, 2.0, m.ScaleX())

	inv, err := m.Invert()
	require.NoError(t, err)
	x, y = inv.Apply(0, 0)
	assert.InDelta(t, 175.0, x, 1e-9)
	assert.InDelta(t, 130.0, y, 1e-9)

	_, err = Aff3{}.Invert()
	assert.Error(t, err)
}

func TestRotateAbout(t *testing.T) {
	m := RotateAbout(90, 10, 10)
	x, y := m.Apply(10, 10)
	assert.InDelta(t, 10.0, x, 1e-9)
	assert.InDelta(t, 10.0, y, 1e-9)

	x, y = m.Apply(20, 10)
	assert.InDelta(t, 10.0, x, 1e-9)
	assert.InDelta(t, 20.0, y, 1e-9)
}

func TestMapRect(t *testing.T) {
	m := Identity().Translate(5, 0).Rotate(90)
	minX, minY, maxX, maxY := m.MapRect(image.Rect(0, 0, 10, 4))
	assert.InDelta(t, 1.0, minX, 1e-9)
	assert.InDelta(t, 0.0, minY, 1e-9)
	assert.InDelta(t, 5.0, maxX, 1e-9)
	assert.InDelta(t, 10.0, maxY, 1e-9)
}

func TestFloatGrid(t *testing.T) {
	g := NewFloatGrid(4, 3)
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			g.Set(x, y, float64(y*4+x))
		}
	}
	assert.Equal(t, 4, g.Dx())
	assert.Equal(t, 3, g.Dy())
	assert.Equal(t, 0.0, g.GetClamped(-5, -5))
	assert.Equal(t, 11.0, g.GetClamped(10, 10))

	min := g.MinFilter(1)
	assert.Equal(t, 0.0, min.Get(1, 1))
	assert.Equal(t, 6.0, min.Get(3, 2))

	assert.Equal(t, 0.0, g.Percentile(0))
	assert.Equal(t, 6.0, g.Percentile(0.5))
	assert.Equal(t, 11.0, g.Percentile(1))

	c := g.Copy()
	c.Set(0, 0, 99)
	assert.Equal(t, 0.0, g.Get(0, 0))

	flat := NewFloatGrid(5, 5)
	for y := 0; y < 5; y++ {
		for x := 0; x < 5; x++ {
			flat.Set(x, y, 0.5)
		}
	}
	blurred := flat.GaussianBlur()
	assert.InDelta(t, 0.5, blurred.Get(2, 2), 1e-12)
	assert.InDelta(t, 0.5, blurred.Get(0, 4), 1e-12)
}

func TestClamps(t *testing.T) {
	assert.Equal(t, 0.0, Clamp01(-0.1))
	assert.Equal(t, 1.0, Clamp01(1.1))
	assert.Equal(t, 0.3, Clamp01(0.3))
	assert.Equal(t, 3, ClampInt(7, 0, 3))
	assert.Equal(t, 0, ClampInt(-1, 0, 3))
}
