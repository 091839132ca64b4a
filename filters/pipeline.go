package filters

import (
	"bytes"
	"image"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// DefaultQuality is the JPEG quality of rendered attempts.
const DefaultQuality = 95

// Meta describes a rendered attempt.
type Meta struct {
	FilterID          FilterID `json:"filterId"`
	FilterName        string   `json:"filterName"`
	FilterDescription string   `json:"filterDescription"`
	NoCrop            bool     `json:"noCrop"`
}

// Attempt is the output of one pipeline run. It shares nothing with the
// source or with other attempts.
type Attempt struct {
	FilterID FilterID
	Output   []byte // JPEG
	Width    int
	Height   int
	Meta     Meta
}

// Runner renders presets. The zero value uses DefaultQuality and one worker
// per preset in ApplyAll.
type Runner struct {
	Quality int
	Workers int
}

var defaultRunner Runner

// Apply renders the preset id over src using the default runner.
func Apply(src []byte, id FilterID) (*Attempt, error) {
	return defaultRunner.Apply(src, id)
}

// ApplyAll renders every preset over src using the default runner.
func ApplyAll(src []byte) ([]Attempt, error) {
	return defaultRunner.ApplyAll(src)
}

// Apply looks up id and renders it over the encoded image src.
func (r Runner) Apply(src []byte, id FilterID) (*Attempt, error) {
	def, err := Lookup(id)
	if err != nil {
		return nil, err
	}
	return r.ApplyDefinition(src, def)
}

// ApplyDefinition renders an arbitrary definition, catalog member or not.
func (r Runner) ApplyDefinition(src []byte, def Definition) (*Attempt, error) {
	img, err := Decode(src)
	if err != nil {
		return nil, err
	}
	return r.render(img, def)
}

func (r Runner) render(img *image.NRGBA, def Definition) (*Attempt, error) {
	out := Render(img, def.Params)
	buf, err := r.encode(out)
	if err != nil {
		return nil, err
	}
	return &Attempt{
		FilterID: def.ID,
		Output:   buf,
		Width:    out.Bounds().Dx(),
		Height:   out.Bounds().Dy(),
		Meta: Meta{
			FilterID:          def.ID,
			FilterName:        def.Name,
			FilterDescription: def.Description,
			NoCrop:            true,
		},
	}, nil
}

func (r Runner) quality() int {
	if r.Quality <= 0 || r.Quality > 100 {
		return DefaultQuality
	}
	return r.Quality
}

func (r Runner) encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(r.quality())); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads a JPEG, PNG or WebP image and applies its EXIF orientation.
// Decoder errors are returned as is.
func Decode(src []byte) (*image.NRGBA, error) {
	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	return imaging.Clone(img), nil
}

// Render runs the operators in their fixed order: modulate, contrast,
// warmth, tone curve, sharpen, vignette. img is not modified.
func Render(img *image.NRGBA, p Params) *image.NRGBA {
	out := Modulate(img, p.Brightness, p.Saturation)
	out = Contrast(out, p.Contrast)
	out = Warmth(out, p.WarmthShift)
	out = ToneCurve(out, p.ShadowLift, p.HighlightCompress)
	out = Sharpen(out, p.Sharpness)
	out = Vignette(out, p.VignetteStrength)
	return out
}
