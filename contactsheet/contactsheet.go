// Package contactsheet lays rendered attempts out as thumbnails on a single
// labelled grid.
package contactsheet

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ErrNoTiles is returned by Build when there is nothing to lay out.
var ErrNoTiles = errors.New("contact sheet needs at least one tile")

const (
	padding     = 16
	labelHeight = 20
)

// Tile is one cell of the sheet.
type Tile struct {
	Label string
	Image image.Image
}

// Options controls the grid. Zero values fall back to 3 columns of 360px.
type Options struct {
	Columns    int
	ThumbWidth int
}

func (o Options) withDefaults() Options {
	if o.Columns <= 0 {
		o.Columns = 3
	}
	if o.ThumbWidth <= 0 {
		o.ThumbWidth = 360
	}
	return o
}

// Build renders tiles in order, left to right and top to bottom, onto a
// white canvas. Thumbnails keep their aspect ratio and are labelled
// "<n>. <label>".
func Build(tiles []Tile, opts Options) (*image.NRGBA, error) {
	if len(tiles) == 0 {
		return nil, ErrNoTiles
	}
	opts = opts.withDefaults()
	cols := min(opts.Columns, len(tiles))
	rows := (len(tiles) + cols - 1) / cols

	thumbs := make([]image.Image, len(tiles))
	cellH := 0
	for i, t := range tiles {
		if t.Image == nil {
			return nil, fmt.Errorf("tile %d has no image", i+1)
		}
		thumbs[i] = resize.Resize(uint(opts.ThumbWidth), 0, t.Image, resize.Lanczos3)
		cellH = max(cellH, thumbs[i].Bounds().Dy())
	}

	rowH := cellH + labelHeight
	w := cols*opts.ThumbWidth + (cols+1)*padding
	h := rows*rowH + (rows+1)*padding
	sheet := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(sheet, sheet.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	for i, thumb := range thumbs {
		col, row := i%cols, i/cols
		x0 := padding + col*(opts.ThumbWidth+padding)
		y0 := padding + row*(rowH+padding)
		tb := thumb.Bounds()
		draw.Draw(sheet, image.Rect(x0, y0, x0+tb.Dx(), y0+tb.Dy()), thumb, tb.Min, draw.Src)
		drawLabel(sheet, x0, y0+cellH+labelHeight-5, fmt.Sprintf("%d. %s", i+1, tiles[i].Label))
	}
	return sheet, nil
}

func drawLabel(dst draw.Image, x, baseline int, text string) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.Black),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, baseline),
	}
	d.DrawString(text)
}

// Encode writes sheet as a JPEG.
func Encode(w io.Writer, sheet image.Image, quality int) error {
	if quality <= 0 || quality > 100 {
		quality = 90
	}
	return imaging.Encode(w, sheet, imaging.JPEG, imaging.JPEGQuality(quality))
}
