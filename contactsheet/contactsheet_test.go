package contactsheet

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestBuildEmpty(t *testing.T) {
	_, err := Build(nil, Options{})
	assert.ErrorIs(t, err, ErrNoTiles)
}

func TestBuildRejectsMissingImage(t *testing.T) {
	_, err := Build([]Tile{{Label: "x"}}, Options{})
	assert.Error(t, err)
}

func TestBuildGridSize(t *testing.T) {
	red := color.NRGBA{R: 200, A: 255}
	tiles := make([]Tile, 5)
	for i := range tiles {
		tiles[i] = Tile{Label: "preset", Image: solid(200, 100, red)}
	}

	sheet, err := Build(tiles, Options{Columns: 3, ThumbWidth: 100})
	require.NoError(t, err)

	// 3 columns, 2 rows, 100x50 thumbnails
	assert.Equal(t, 3*100+4*padding, sheet.Bounds().Dx())
	assert.Equal(t, 2*(50+labelHeight)+3*padding, sheet.Bounds().Dy())

	// canvas corner stays white, first thumbnail center is red
	assert.Equal(t, color.NRGBA{255, 255, 255, 255}, sheet.NRGBAAt(0, 0))
	c := sheet.NRGBAAt(padding+50, padding+25)
	assert.InDelta(t, 200, int(c.R), 2)
	assert.InDelta(t, 0, int(c.G), 2)
}

func TestBuildFewerTilesThanColumns(t *testing.T) {
	sheet, err := Build([]Tile{{Label: "only", Image: solid(40, 40, color.NRGBA{A: 255})}}, Options{Columns: 4, ThumbWidth: 40})
	require.NoError(t, err)
	assert.Equal(t, 40+2*padding, sheet.Bounds().Dx())
}

func TestBuildDrawsLabels(t *testing.T) {
	sheet, err := Build([]Tile{{Label: "golden-hour", Image: solid(60, 30, color.NRGBA{R: 255, G: 255, B: 255, A: 255})}}, Options{ThumbWidth: 60})
	require.NoError(t, err)

	dark := 0
	for y := padding + 30; y < padding+30+labelHeight; y++ {
		for x := padding; x < padding+60; x++ {
			if sheet.NRGBAAt(x, y).R < 128 {
				dark++
			}
		}
	}
	assert.Positive(t, dark)
}

func TestEncode(t *testing.T) {
	sheet, err := Build([]Tile{{Label: "a", Image: solid(32, 32, color.NRGBA{G: 255, A: 255})}}, Options{ThumbWidth: 32})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, sheet, 0))
	decoded, err := jpeg.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, sheet.Bounds().Size(), decoded.Bounds().Size())
}
