package processing

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/layout-ocr/pkg/types"
)

// Processor handles image loading, encoding and persistence
type Processor struct{}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{}
}

// LoadImage loads an image from a file path with WebP support
func (p *Processor) LoadImage(path string) (image.Image, error) {
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := p.DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// DecodeImage decodes PNG, JPEG, GIF or WebP bytes
func (p *Processor) DecodeImage(data []byte) (image.Image, error) {
	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	return nil, fmt.Errorf("image: unknown or unsupported format")
}

// ReadImage decodes an image from r
func (p *Processor) ReadImage(r io.Reader) (image.Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	return p.DecodeImage(data)
}

// PrepareImageForModel encodes an image as base64 for vision models, scaling
// it down so the long side does not exceed maxDim (0 keeps the original size)
func (p *Processor) PrepareImageForModel(img image.Image, format string, maxDim int, quality int) (string, error) {
	img = FitLongSide(img, maxDim)

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return "", err
		}
	default: // jpg
		if err := jpeg.Encode(&buf, Flatten(img), &jpeg.Options{Quality: quality}); err != nil {
			return "", err
		}
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// PrepareFileForModel loads path and encodes it like PrepareImageForModel
func (p *Processor) PrepareFileForModel(path, format string, maxDim, quality int) (string, error) {
	img, err := p.LoadImage(path)
	if err != nil {
		return "", fmt.Errorf("failed to load image: %w", err)
	}
	return p.PrepareImageForModel(img, format, maxDim, quality)
}

// FitLongSide scales img down so that neither side exceeds maxDim
func FitLongSide(img image.Image, maxDim int) image.Image {
	if maxDim <= 0 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDim && h <= maxDim {
		return img
	}
	if w >= h {
		return imaging.Resize(img, maxDim, 0, imaging.Lanczos)
	}
	return imaging.Resize(img, 0, maxDim, imaging.Lanczos)
}

// Flatten returns an opaque RGB rendition of img composited over white
func Flatten(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Over)
	return out
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		opts := &webp.Options{Lossless: lossless, Quality: float32(quality)}
		return webp.Encode(f, img, opts)
	case "png":
		return imaging.Save(img, path)
	default: // jpg/jpeg
		return imaging.Save(Flatten(img), path, imaging.JPEGQuality(quality))
	}
}

// SaveAs saves an image using an ImageFormat description
func (p *Processor) SaveAs(img image.Image, path string, f types.ImageFormat) error {
	return p.SaveImage(img, path, f.Extension, f.Quality, f.Lossless)
}

// WriteTemp saves img as a new file in dir and returns its path
func (p *Processor) WriteTemp(img image.Image, dir, pattern string, f types.ImageFormat) (string, error) {
	ext := strings.ToLower(f.Extension)
	if ext == "" {
		ext = "png"
	}
	tmp, err := os.CreateTemp(dir, pattern+"."+ext)
	if err != nil {
		return "", fmt.Errorf("failed to create temp image: %w", err)
	}
	path := tmp.Name()
	tmp.Close()

	if err := p.SaveImage(img, path, ext, f.Quality, f.Lossless); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return path, nil
}
