// Package filters implements the fixed photo-styling presets: a catalog of
// named parameter vectors and the pipeline that renders them.
package filters

import "fmt"

// FilterID identifies a preset in the catalog.
type FilterID string

const (
	GoldenHour   FilterID = "golden-hour"
	CleanSharp   FilterID = "clean-sharp"
	VividPop     FilterID = "vivid-pop"
	SoftPortrait FilterID = "soft-portrait"
	FilmWarm     FilterID = "film-warm"
)

// Params is the adjustment vector of a preset. Neutral values are
// Brightness, Saturation and Contrast of 1 and zero everywhere else.
type Params struct {
	Brightness        float64 `json:"brightness"`
	Saturation        float64 `json:"saturation"`
	Contrast          float64 `json:"contrast"`
	WarmthShift       float64 `json:"warmthShift"`
	Sharpness         float64 `json:"sharpness"`
	ShadowLift        float64 `json:"shadowLift"`
	HighlightCompress float64 `json:"highlightCompress"`
	VignetteStrength  float64 `json:"vignetteStrength"`
}

// Neutral returns a parameter vector that leaves an image unchanged.
func Neutral() Params {
	return Params{Brightness: 1, Saturation: 1, Contrast: 1}
}

// Definition is a catalog entry.
type Definition struct {
	ID          FilterID `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Params      Params   `json:"params"`
}

// UnknownFilterError is returned when an identifier is not in the catalog.
type UnknownFilterError struct {
	ID FilterID
}

func (e *UnknownFilterError) Error() string {
	return fmt.Sprintf("unknown filter: %q", string(e.ID))
}

// catalog order is both display order and batch result order.
var catalog = [...]Definition{
	{
		ID:          GoldenHour,
		Name:        "Golden Hour",
		Description: "Warm tones (+18% attractiveness). Strong golden glow, lifted shadows.",
		Params: Params{
			Brightness:        1.18,
			Saturation:        1.20,
			Contrast:          1.05,
			WarmthShift:       42,
			Sharpness:         0.4,
			ShadowLift:        28,
			HighlightCompress: 8,
			VignetteStrength:  0.28,
		},
	},
	{
		ID:          CleanSharp,
		Name:        "Clean & Sharp",
		Description: "Pro headshot. Crisp detail, neutral-cool, high clarity.",
		Params: Params{
			Brightness:        1.16,
			Saturation:        1.02,
			Contrast:          1.22,
			WarmthShift:       -4,
			Sharpness:         1.6,
			ShadowLift:        14,
			HighlightCompress: 0,
			VignetteStrength:  0,
		},
	},
	{
		ID:          VividPop,
		Name:        "Vivid Pop",
		Description: "Rich color & punch. Stands out in the swipe deck.",
		Params: Params{
			Brightness:        1.08,
			Saturation:        1.38,
			Contrast:          1.28,
			WarmthShift:       12,
			Sharpness:         1.0,
			ShadowLift:        8,
			HighlightCompress: 4,
			VignetteStrength:  0.14,
		},
	},
	{
		ID:          SoftPortrait,
		Name:        "Soft Portrait",
		Description: "VSCO Portra-style. Soft, flattering, dreamy.",
		Params: Params{
			Brightness:        1.12,
			Saturation:        1.06,
			Contrast:          0.82,
			WarmthShift:       24,
			Sharpness:         0.25,
			ShadowLift:        36,
			HighlightCompress: 18,
			VignetteStrength:  0.32,
		},
	},
	{
		ID:          FilmWarm,
		Name:        "Film Warm",
		Description: "Vintage film. Muted color, warm shadows, editorial look.",
		Params: Params{
			Brightness:        1.02,
			Saturation:        0.78,
			Contrast:          1.12,
			WarmthShift:       38,
			Sharpness:         0.35,
			ShadowLift:        42,
			HighlightCompress: 24,
			VignetteStrength:  0.36,
		},
	},
}

// Catalog returns a copy of every preset in display order.
func Catalog() []Definition {
	out := make([]Definition, len(catalog))
	copy(out, catalog[:])
	return out
}

// Lookup returns the preset with the given identifier.
func Lookup(id FilterID) (Definition, error) {
	for _, d := range catalog {
		if d.ID == id {
			return d, nil
		}
	}
	return Definition{}, &UnknownFilterError{ID: id}
}

// IDs returns the catalog identifiers in display order.
func IDs() []FilterID {
	ids := make([]FilterID, len(catalog))
	for i, d := range catalog {
		ids[i] = d.ID
	}
	return ids
}
