package ecolor

import (
	"github.com/lucasb-eyer/go-colorful"
)

// The BT.709 luma weights. Used everywhere a luminance is needed, so
// the tone EQ, saturation and auto-exposure stages all agree.
const (
	WeightR = 0.2126
	WeightG = 0.7152
	WeightB = 0.0722
)

// Luminance of a linear RGB triple. Not clipped.
func Luminance(r, g, b float64) float64 {
	return WeightR*r + WeightG*g + WeightB*b
}

// ToU8 maps [0,1] into [0,255], truncating like a numpy astype(uint8)
// after the *255. Values outside [0,1] are clipped first.
func ToU8(v float64) uint8 {
	if v <= 0.0 {
		return 0
	} else if v >= 1.0 {
		return 255
	}
	return uint8(v * 255.0)
}

// FromU8 maps [0,255] into [0,1]
func FromU8(v uint8) float64 { return float64(v) / 255.0 }

// A Lab colour, as three floats. L is roughly [0,1].
type Lab [3]float64

// LabU8 converts an 8-bit sRGB display pixel into CIE L*a*b* (D65).
// The detail filters use Lab distances to decide which neighbours
// look alike.
func LabU8(r, g, b uint8) Lab {
	c := colorful.Color{R: FromU8(r), G: FromU8(g), B: FromU8(b)}
	l, a, bb := c.Lab()
	return Lab{l, a, bb}
}

// DistSq is the squared euclidean distance in Lab.
func (c1 Lab) DistSq(c2 Lab) float64 {
	d0, d1, d2 := c1[0]-c2[0], c1[1]-c2[1], c1[2]-c2[2]
	return d0*d0 + d1*d1 + d2*d2
}
