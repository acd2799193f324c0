package assets

import (
	"image"
	"image/color"
	"io"

	// Decoders register themselves with image.Decode.
	_ "image/jpeg"
	_ "image/png"

	"github.com/cockroachdb/errors"
	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ImageData is decoded pixel data, row major, top row first.
type ImageData struct {
	Width      int
	Height     int
	Components int
	Pixels     []byte
}

// DecodeImage decodes any registered format and converts it to 8-bit RGBA.
func DecodeImage(r io.Reader) (*ImageData, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, errors.Wrap(err, "decoding image")
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, errors.Newf("%s image has no pixels", format)
	}
	return fromImage(img), nil
}

func fromImage(img image.Image) *ImageData {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != b.Dx()*4 || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		xdraw.Draw(rgba, rgba.Bounds(), img, b.Min, xdraw.Src)
	}
	return &ImageData{
		Width:      b.Dx(),
		Height:     b.Dy(),
		Components: 4,
		Pixels:     rgba.Pix,
	}
}

// RGBA wraps the pixels without copying.
func (d *ImageData) RGBA() *image.RGBA {
	return &image.RGBA{
		Pix:    d.Pixels,
		Stride: d.Width * 4,
		Rect:   image.Rect(0, 0, d.Width, d.Height),
	}
}

// ScaledToFit returns the image scaled down so that neither side exceeds maxDim.
// Images that already fit are returned as is.
func (d *ImageData) ScaledToFit(maxDim int) *ImageData {
	if d.Width <= maxDim && d.Height <= maxDim {
		return d
	}
	w, h := maxDim, maxDim
	if d.Width > d.Height {
		h = max(1, d.Height*maxDim/d.Width)
	} else {
		w = max(1, d.Width*maxDim/d.Height)
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), d.RGBA(), d.RGBA().Bounds(), xdraw.Src, nil)
	return fromImage(dst)
}

// Checkerboard generates a size x size texture of cells x cells alternating squares.
func Checkerboard(size, cells int, a, b color.RGBA) *ImageData {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	cell := max(1, size/max(1, cells))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			c := a
			if (x/cell+y/cell)%2 == 1 {
				c = b
			}
			img.SetRGBA(x, y, c)
		}
	}
	return fromImage(img)
}
