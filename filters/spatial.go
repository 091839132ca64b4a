package filters

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/gift"
	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

const (
	sharpenEpsilon = 0.05
	// sharpenBaseSigma is added to the preset sharpness to get the blur radius.
	sharpenBaseSigma  = 0.8
	sharpenAmount     = 1.0
	sharpenThreshold  = 2.0 / 255
	vignetteEpsilon   = 0.01
	vignetteRadius    = 0.70 // of each image dimension
	vignetteFalloffAt = 0.60 // of the reference radius
)

// Sharpen applies an unsharp mask with sigma = 0.8 + sharpness. The
// threshold leaves flat areas (skin, sky) alone.
func Sharpen(img *image.NRGBA, sharpness float64) *image.NRGBA {
	if sharpness <= sharpenEpsilon {
		return img
	}
	g := gift.New(gift.UnsharpMask(float32(sharpenBaseSigma+sharpness), sharpenAmount, sharpenThreshold))
	dst := image.NewNRGBA(g.Bounds(img.Bounds()))
	g.Draw(dst, img)
	return dst
}

// Vignette darkens the image toward its edges. The mask follows the image's
// own aspect ratio, so it is elliptical on non-square images.
func Vignette(img *image.NRGBA, strength float64) *image.NRGBA {
	if strength <= vignetteEpsilon {
		return img
	}
	mask := VignetteMask(img.Bounds(), strength)
	dst := imaging.Clone(img)
	draw.DrawMask(dst, dst.Bounds(), image.Black, image.Point{}, mask, mask.Bounds().Min, draw.Over)
	return dst
}

// VignetteMask builds the alpha mask used by Vignette: transparent out to
// 60% of the reference radius, then a linear ramp reaching strength at the
// reference radius and holding it beyond.
func VignetteMask(bounds image.Rectangle, strength float64) *image.Alpha {
	strength = clamp(strength, 0, 1)
	mask := image.NewAlpha(bounds)
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	if w == 0 || h == 0 {
		return mask
	}
	cx, cy := w/2, h/2
	rx, ry := w*vignetteRadius, h*vignetteRadius
	span := 1 - vignetteFalloffAt

	for y := 0; y < bounds.Dy(); y++ {
		dy := (float64(y) + 0.5 - cy) / ry
		for x := 0; x < bounds.Dx(); x++ {
			dx := (float64(x) + 0.5 - cx) / rx
			t := math.Sqrt(dx*dx + dy*dy)
			if t <= vignetteFalloffAt {
				continue
			}
			ramp := math.Min(1, (t-vignetteFalloffAt)/span)
			mask.SetAlpha(bounds.Min.X+x, bounds.Min.Y+y, color.Alpha{A: clamp8(ramp * strength * 255)})
		}
	}
	return mask
}
