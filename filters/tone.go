package filters

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

const (
	// unityEpsilon is how close a multiplier must be to 1 to count as neutral.
	unityEpsilon = 0.001
	// warmthEpsilon is the smallest warmth shift worth a matrix pass.
	warmthEpsilon = 0.5

	maxShadowLift = 50.0
	minWhitePoint = 225.0
)

// Modulate scales saturation around Rec.601 luma, then multiplies every
// channel by brightness.
func Modulate(img *image.NRGBA, brightness, saturation float64) *image.NRGBA {
	if math.Abs(brightness-1) <= unityEpsilon && math.Abs(saturation-1) <= unityEpsilon {
		return img
	}
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		r, g, b := float64(c.R), float64(c.G), float64(c.B)
		l := luma(r, g, b)
		r = (l + (r-l)*saturation) * brightness
		g = (l + (g-l)*saturation) * brightness
		b = (l + (b-l)*saturation) * brightness
		return color.NRGBA{R: clamp8(r), G: clamp8(g), B: clamp8(b), A: c.A}
	})
}

// Contrast remaps each channel linearly around mid-gray:
// out = in*contrast + 128*(1-contrast).
func Contrast(img *image.NRGBA, contrast float64) *image.NRGBA {
	if math.Abs(contrast-1) <= unityEpsilon {
		return img
	}
	return Linear(img, contrast, 128*(1-contrast))
}

// Linear applies out = in*a + b to the color channels.
func Linear(img *image.NRGBA, a, b float64) *image.NRGBA {
	var lut [256]uint8
	for i := range lut {
		lut[i] = clamp8(float64(i)*a + b)
	}
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{R: lut[c.R], G: lut[c.G], B: lut[c.B], A: c.A}
	})
}

// WarmthMatrix returns the 3x3 channel mix for a signed warmth shift.
// Positive shifts boost red and cut blue; negative shifts do the reverse.
func WarmthMatrix(shift float64) [3][3]float64 {
	s := shift / 100
	return [3][3]float64{
		{1 + 0.6*s, 0.2 * s, 0},
		{0, 1 + 0.1*s, 0},
		{0, 0.1 * s, 1 - 0.4*s},
	}
}

// Warmth recombines the channels with WarmthMatrix.
func Warmth(img *image.NRGBA, shift float64) *image.NRGBA {
	if math.Abs(shift) <= warmthEpsilon {
		return img
	}
	m := WarmthMatrix(shift)
	return Recombine(img, m)
}

// Recombine multiplies every pixel's RGB vector by m.
func Recombine(img *image.NRGBA, m [3][3]float64) *image.NRGBA {
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		r, g, b := float64(c.R), float64(c.G), float64(c.B)
		return color.NRGBA{
			R: clamp8(m[0][0]*r + m[0][1]*g + m[0][2]*b),
			G: clamp8(m[1][0]*r + m[1][1]*g + m[1][2]*b),
			B: clamp8(m[2][0]*r + m[2][1]*g + m[2][2]*b),
			A: c.A,
		}
	})
}

// ToneCurve moves the black point up to shadowLift and the white point down
// by highlightCompress in a single linear pass. Out-of-range amounts are
// clamped: black point to [0,50], white point to [225,255].
func ToneCurve(img *image.NRGBA, shadowLift, highlightCompress float64) *image.NRGBA {
	if shadowLift <= 0 && highlightCompress <= 0 {
		return img
	}
	scale, offset := toneCurve(shadowLift, highlightCompress)
	return Linear(img, scale, offset)
}

func toneCurve(shadowLift, highlightCompress float64) (scale, offset float64) {
	newBlack := clamp(shadowLift, 0, maxShadowLift)
	newWhite := clamp(255-highlightCompress, minWhitePoint, 255)
	return (newWhite - newBlack) / 255, newBlack
}

func luma(r, g, b float64) float64 {
	return 0.299*r + 0.587*g + 0.114*b
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func clamp8(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}
