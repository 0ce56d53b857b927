package annotate

import (
	"hash/fnv"
	"image/color"
	"math/rand/v2"
	"sync"

	"github.com/lucasb-eyer/go-colorful"
)

// Palette hands out one color per annotated region
type Palette interface {
	Next(label string) color.NRGBA
}

// RandomPalette draws an independent random color for every region.
// Red and green stay below 200 so outlines never wash out to white.
type RandomPalette struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomPalette creates a palette seeded from the runtime source
func NewRandomPalette() *RandomPalette {
	return &RandomPalette{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// NewSeededPalette creates a reproducible random palette
func NewSeededPalette(seed uint64) *RandomPalette {
	return &RandomPalette{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Next returns a fresh color; the label is ignored
func (p *RandomPalette) Next(string) color.NRGBA {
	p.mu.Lock()
	defer p.mu.Unlock()
	return color.NRGBA{
		R: uint8(p.rng.IntN(200)),
		G: uint8(p.rng.IntN(200)),
		B: uint8(p.rng.IntN(256)),
		A: 255,
	}
}

// LabelPalette derives a stable color from the label text, so every
// occurrence of a label shares one color across pages and runs
type LabelPalette struct{}

// Next returns the color assigned to label
func (LabelPalette) Next(label string) color.NRGBA {
	h := fnv.New32a()
	h.Write([]byte(label))
	sum := h.Sum32()

	hue := float64(sum%360) + float64(sum>>24)/256
	c := colorful.Hsv(hue, 0.85, 0.75).Clamped()
	r, g, b := c.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}
}

// PaletteByName returns the palette for a color mode name ("random" or "label")
func PaletteByName(name string) Palette {
	if name == "label" {
		return LabelPalette{}
	}
	return NewRandomPalette()
}

