// Package tesseract provides a local engine backed by Tesseract OCR.
//
// Tesseract has no grounding model, so the engine synthesizes region tags
// from paragraph bounding boxes. Layout parsing, annotation and document
// output then work the same as with a vision model. The native binding is
// only compiled with the "tesseract" build tag.
package tesseract

import (
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/menta2k/layout-ocr/pkg/layout"
)

// ErrUnavailable is returned when the binary was built without Tesseract
var ErrUnavailable = errors.New("tesseract support not compiled in (build with -tags tesseract)")

// GroundingMarker in a prompt asks for region tags in the output
const GroundingMarker = "<|grounding|>"

// Options configures the engine
type Options struct {
	Languages    []string `json:"languages,omitempty" yaml:"languages,omitempty"`
	TessdataPath string   `json:"tessdata_path,omitempty" yaml:"tessdata_path,omitempty"`
}

// Block is a recognized paragraph in pixel coordinates
type Block struct {
	Text string
	Rect image.Rectangle
}

// FormatBlocks renders blocks as region tags followed by their text, with
// coordinates normalized to the 0..999 range of an image of size w x h
func FormatBlocks(blocks []Block, w, h int) string {
	var sb strings.Builder
	for _, b := range blocks {
		text := strings.TrimSpace(b.Text)
		if text == "" || w <= 0 || h <= 0 {
			continue
		}
		fmt.Fprintf(&sb, "<|ref|>text<|/ref|><|det|>[[%d, %d, %d, %d]]<|/det|>\n%s\n\n",
			normalize(b.Rect.Min.X, w), normalize(b.Rect.Min.Y, h),
			normalize(b.Rect.Max.X, w), normalize(b.Rect.Max.Y, h),
			text)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func normalize(v, d int) int {
	n := v * layout.NormalizedMax / d
	return max(0, min(layout.NormalizedMax, n))
}
