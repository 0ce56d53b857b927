// Package annotate draws layout regions onto page images.
//
// Every region gets a solid outline on a copy of the page and a faint fill
// on a separate transparent overlay that is composited once at the end,
// so overlapping regions never darken each other. Regions labeled "image"
// are also cropped out of the untouched source and saved as numbered files.
package annotate

import (
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/menta2k/layout-ocr/internal/utils"
	"github.com/menta2k/layout-ocr/pkg/layout"
	"github.com/menta2k/layout-ocr/pkg/processing"
	"github.com/menta2k/layout-ocr/pkg/types"
)

const (
	titleStroke   = 4
	defaultStroke = 2
	overlayAlpha  = 20
	labelOffset   = 15
)

// Renderer draws region annotations
type Renderer struct {
	palette    Palette
	cropDir    string
	cropFormat types.ImageFormat
	face       font.Face
	processor  *processing.Processor
	logger     hclog.Logger
}

// Option configures a Renderer
type Option func(*Renderer)

// WithPalette sets the color source for regions
func WithPalette(p Palette) Option {
	return func(r *Renderer) { r.palette = p }
}

// WithCropDir sets the directory that receives "image" region crops.
// Without it crops are not saved.
func WithCropDir(dir string) Option {
	return func(r *Renderer) { r.cropDir = dir }
}

// WithCropFormat sets the encoding of saved crops
func WithCropFormat(f types.ImageFormat) Option {
	return func(r *Renderer) { r.cropFormat = f }
}

// WithLogger sets the logger used for skipped regions and failed crops
func WithLogger(l hclog.Logger) Option {
	return func(r *Renderer) { r.logger = l }
}

// New creates a Renderer with a random palette and no crop output
func New(opts ...Option) *Renderer {
	r := &Renderer{
		palette:    NewRandomPalette(),
		cropFormat: types.ImageFormat{Extension: "jpg", Quality: 95},
		face:       basicfont.Face7x13,
		processor:  processing.NewProcessor(),
		logger:     hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ForCropDir returns a copy of r that saves crops into dir
func (r *Renderer) ForCropDir(dir string) *Renderer {
	c := *r
	c.cropDir = dir
	return &c
}

// Result describes one rendering pass
type Result struct {
	Image *image.NRGBA
	// Crops lists the files written for "image" regions, in order
	Crops []string
	// Boxes counts the boxes that were drawn
	Boxes int
	// Skipped counts regions abandoned because of bad data
	Skipped int
}

// Render returns an annotated copy of src. The source is never modified.
func (r *Renderer) Render(src image.Image, regions []layout.Region) *image.NRGBA {
	return r.Annotate(src, regions).Image
}

// Annotate is Render with bookkeeping about crops and skipped regions
func (r *Renderer) Annotate(src image.Image, regions []layout.Region) Result {
	base := imaging.Clone(src)
	if len(regions) == 0 {
		return Result{Image: base}
	}

	p := &pass{
		Renderer: r,
		src:      src,
		base:     base,
		overlay:  image.NewNRGBA(base.Bounds()),
	}
	for i, region := range regions {
		if err := p.region(region); err != nil {
			p.result.Skipped++
			r.logger.Warn("skipping region", "index", i, "label", region.Label, "error", err)
		}
	}

	draw.Draw(base, base.Bounds(), p.overlay, image.Point{}, draw.Over)
	p.result.Image = base
	return p.result
}

// pass holds the state of one Annotate call
type pass struct {
	*Renderer
	src      image.Image
	base     *image.NRGBA
	overlay  *image.NRGBA
	imageIdx int
	result   Result
}

func (p *pass) region(region layout.Region) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("drawing failed: %v", rec)
		}
	}()

	label, boxes, err := layout.Decode(region)
	if err != nil {
		return err
	}

	w, h := p.base.Bounds().Dx(), p.base.Bounds().Dy()
	col := p.palette.Next(label)
	fill := color.NRGBA{R: col.R, G: col.G, B: col.B, A: overlayAlpha}

	for _, box := range boxes {
		rect := layout.ToPixels(box, w, h)
		if label == layout.ImageLabel {
			p.saveCrop(rect)
		}
		if rect.Max.X < rect.Min.X || rect.Max.Y < rect.Min.Y {
			return fmt.Errorf("inverted box %v", box)
		}

		stroke := defaultStroke
		if label == layout.TitleLabel {
			stroke = titleStroke
		}
		drawOutline(p.base, rect, stroke, col)
		fillInclusive(p.overlay, rect, fill)
		p.drawLabel(label, rect.Min.X, max(0, rect.Min.Y-labelOffset), col)
		p.result.Boxes++
	}
	return nil
}

// saveCrop writes the undrawn source pixels of rect. The crop counter
// advances even when the crop cannot be written.
func (p *pass) saveCrop(rect image.Rectangle) {
	idx := p.imageIdx
	p.imageIdx++
	if p.cropDir == "" {
		return
	}

	sb := p.src.Bounds()
	area := rect.Add(sb.Min).Intersect(sb)
	if area.Empty() {
		p.logger.Warn("could not save cropped image", "index", idx, "error", "empty crop area", "box", rect)
		return
	}
	if err := utils.EnsureDir(p.cropDir); err != nil {
		p.logger.Warn("could not save cropped image", "index", idx, "error", err)
		return
	}

	ext := strings.ToLower(p.cropFormat.Extension)
	path := filepath.Join(p.cropDir, fmt.Sprintf("img_%d.%s", idx, ext))
	if err := p.processor.SaveAs(imaging.Crop(p.src, area), path, p.cropFormat); err != nil {
		p.logger.Warn("could not save cropped image", "index", idx, "path", path, "error", err)
		return
	}
	p.result.Crops = append(p.result.Crops, path)
}

// drawLabel writes text at (x, y) on a white backing box sized to the text
func (p *pass) drawLabel(text string, x, y int, col color.NRGBA) {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return
	}
	metrics := p.face.Metrics()
	width := font.MeasureString(p.face, text).Ceil()
	height := metrics.Height.Ceil()

	bg := image.Rect(x, y, x+width, y+height).Intersect(p.base.Bounds())
	draw.Draw(p.base, bg, image.NewUniform(color.White), image.Point{}, draw.Src)

	d := font.Drawer{
		Dst:  p.base,
		Src:  image.NewUniform(col),
		Face: p.face,
		Dot:  fixed.P(x, y+metrics.Ascent.Ceil()),
	}
	d.DrawString(text)
}

// drawOutline strokes the inclusive rectangle r inward with the given width
func drawOutline(img *image.NRGBA, r image.Rectangle, stroke int, c color.NRGBA) {
	for s := 0; s < stroke; s++ {
		drawHLine(img, r.Min.Y+s, r.Min.X, r.Max.X, c)
		drawHLine(img, r.Max.Y-s, r.Min.X, r.Max.X, c)
		drawVLine(img, r.Min.X+s, r.Min.Y, r.Max.Y, c)
		drawVLine(img, r.Max.X-s, r.Min.Y, r.Max.Y, c)
	}
}

// fillInclusive replaces the pixels of the inclusive rectangle r with c
func fillInclusive(img *image.NRGBA, r image.Rectangle, c color.NRGBA) {
	area := image.Rect(r.Min.X, r.Min.Y, r.Max.X+1, r.Max.Y+1).Intersect(img.Bounds())
	draw.Draw(img, area, image.NewUniform(c), image.Point{}, draw.Src)
}

// drawHLine sets pixels x0..x1 (inclusive) on row y, clipped to the image
func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	b := img.Bounds()
	if y < b.Min.Y || y >= b.Max.Y {
		return
	}
	x0, x1 = max(x0, b.Min.X), min(x1, b.Max.X-1)
	if x0 > x1 {
		return
	}
	i := img.PixOffset(x0, y)
	for x := x0; x <= x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

// drawVLine sets pixels y0..y1 (inclusive) on column x, clipped to the image
func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	b := img.Bounds()
	if x < b.Min.X || x >= b.Max.X {
		return
	}
	y0, y1 = max(y0, b.Min.Y), min(y1, b.Max.Y-1)
	if y0 > y1 {
		return
	}
	i := img.PixOffset(x, y0)
	for y := y0; y <= y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}
