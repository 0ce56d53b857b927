package types

import "strings"

// Resolution selects how the model sees an image: the global view size,
// the tile size and whether dynamic tiling is enabled.
type Resolution struct {
	Name      string `json:"name" yaml:"name"`
	BaseSize  int    `json:"base_size" yaml:"base_size"`
	ImageSize int    `json:"image_size" yaml:"image_size"`
	CropMode  bool   `json:"crop_mode" yaml:"crop_mode"`
}

// Resolution presets accepted by the inference engines
var (
	Small  = Resolution{Name: "small", BaseSize: 640, ImageSize: 640, CropMode: false}
	Base   = Resolution{Name: "base", BaseSize: 1024, ImageSize: 1024, CropMode: false}
	Large  = Resolution{Name: "large", BaseSize: 1280, ImageSize: 1280, CropMode: false}
	Gundam = Resolution{Name: "gundam", BaseSize: 1024, ImageSize: 640, CropMode: true}
)

// Resolutions returns the presets in display order
func Resolutions() []Resolution {
	return []Resolution{Small, Base, Large, Gundam}
}

// ResolutionByName looks a preset up by name. Unknown names fall back to Base.
func ResolutionByName(name string) Resolution {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "dynamic" {
		return Gundam
	}
	for _, r := range Resolutions() {
		if r.Name == n {
			return r
		}
	}
	return Base
}

// ImageFormat describes how an image artifact is encoded on disk
type ImageFormat struct {
	Extension string
	Quality   int
	Lossless  bool
}
