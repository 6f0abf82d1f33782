package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"

	// Frame decoders.
	_ "golang.org/x/image/webp"

	"github.com/gen2brain/webp"
	"golang.org/x/image/draw"

	"github.com/JakeFAU/webthumb/internal/thumbnail"
)

// MaxSourcePixels bounds the decoded frame size.
const MaxSourcePixels = 16384 * 16384

// Padding is the contain background: white with zero alpha.
var Padding = color.NRGBA{R: 255, G: 255, B: 255, A: 0}

// EncodeFunc writes img to w at the given clamped quality.
type EncodeFunc func(w io.Writer, img image.Image, quality int) error

// Codec decodes, resizes and encodes images.
type Codec interface {
	Decode(data []byte) (image.Image, error)
	Resize(img image.Image, g Geometry) image.Image
	Encode(img image.Image, format thumbnail.Format, quality int) ([]byte, error)
}

// Decode parses a PNG or WebP frame.
func (e *Engine) Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("decode frame: empty input")
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame config: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > MaxSourcePixels {
		return nil, fmt.Errorf("decode frame: unsupported size %dx%d", cfg.Width, cfg.Height)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}

// Resize draws img onto a canvas described by g using Catmull-Rom resampling.
func (e *Engine) Resize(img image.Image, g Geometry) image.Image {
	b := img.Bounds()
	if g.Identity(b.Dx(), b.Dy()) {
		return img
	}
	canvas := image.NewNRGBA(image.Rect(0, 0, g.CanvasWidth, g.CanvasHeight))
	if g.Padded() {
		draw.Draw(canvas, canvas.Bounds(), image.NewUniform(Padding), image.Point{}, draw.Src)
	}
	draw.CatmullRom.Scale(canvas, g.ContentRect(), img, b, draw.Over, nil)
	return canvas
}

// Encode serializes img in format. Quality is clamped first.
func (e *Engine) Encode(img image.Image, format thumbnail.Format, quality int) ([]byte, error) {
	enc, ok := e.encoders[format]
	if !ok {
		return nil, fmt.Errorf("no encoder for format %q", format)
	}
	var buf bytes.Buffer
	if err := enc(&buf, img, thumbnail.ClampQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

func encodeWebP(w io.Writer, img image.Image, quality int) error {
	return webp.Encode(w, img, webp.Options{Quality: quality, Method: 4})
}

func encodeJPEG(w io.Writer, img image.Image, quality int) error {
	return jpeg.Encode(w, flatten(img), &jpeg.Options{Quality: quality})
}

func encodePNG(w io.Writer, img image.Image, quality int) error {
	enc := png.Encoder{CompressionLevel: pngCompression(quality)}
	return enc.Encode(w, img)
}

// pngCompression maps quality onto compression effort; higher quality means faster encoding.
func pngCompression(quality int) png.CompressionLevel {
	switch {
	case quality <= 33:
		return png.BestCompression
	case quality <= 66:
		return png.DefaultCompression
	default:
		return png.BestSpeed
	}
}

// flatten composites img over opaque white.
func flatten(img image.Image) image.Image {
	b := img.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, image.White, image.Point{}, draw.Src)
	draw.Draw(out, b, img, b.Min, draw.Over)
	return out
}
