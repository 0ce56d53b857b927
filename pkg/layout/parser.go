// Package layout extracts labeled regions from the tagged text produced by
// the OCR model and maps their normalized coordinates onto images.
//
// A region tag looks like
//
//	<|ref|>title<|/ref|><|det|>[[12, 40, 980, 95]]<|/det|>
//
// where the coordinates are integers in [0, 999] relative to the image
// width and height. One tag may carry several boxes that share a label.
package layout

import "regexp"

const (
	// ImageLabel marks regions that enclose a picture inside the page
	ImageLabel = "image"
	// TitleLabel marks title regions, drawn with a heavier outline
	TitleLabel = "title"
)

var tagPattern = regexp.MustCompile(`(?s)<\|ref\|>(.*?)<\|/ref\|><\|det\|>(.*?)<\|/det\|>`)

// Region is one region tag found in model output
type Region struct {
	// Match is the full text of the tag
	Match string `json:"match"`
	// Label is the free-text classification between the ref markers
	Label string `json:"label"`
	// Coords is the raw coordinate list between the det markers
	Coords string `json:"coords"`
}

// IsImage reports whether the region is labeled exactly "image"
func (r Region) IsImage() bool {
	return r.Label == ImageLabel
}

// Parse returns every region tag in raw in order of appearance, together
// with the same regions split into "image" regions and all others.
// Text without tags yields three empty slices.
func Parse(raw string) (all, images, others []Region) {
	for _, m := range tagPattern.FindAllStringSubmatch(raw, -1) {
		r := Region{Match: m[0], Label: m[1], Coords: m[2]}
		all = append(all, r)
		if r.IsImage() {
			images = append(images, r)
		} else {
			others = append(others, r)
		}
	}
	return all, images, others
}
