//go:build tesseract

package tesseract

import (
	"context"
	"fmt"
	"image"
	"os"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/menta2k/layout-ocr/pkg/types"
)

// Engine recognizes text with a fresh gosseract client per call
type Engine struct {
	opts          Options
	clientFactory func() *gosseract.Client
}

// New creates a Tesseract engine
func New(opts Options) (*Engine, error) {
	if len(opts.Languages) == 0 {
		opts.Languages = []string{"eng"}
	}
	return &Engine{opts: opts, clientFactory: gosseract.NewClient}, nil
}

// Infer runs OCR on imagePath. Grounding prompts yield region tags; other
// prompts yield plain text. The resolution does not apply.
func (e *Engine) Infer(ctx context.Context, imagePath, prompt string, _ types.Resolution) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c := e.clientFactory()
	defer c.Close()

	if e.opts.TessdataPath != "" {
		if err := c.SetTessdataPrefix(e.opts.TessdataPath); err != nil {
			return "", fmt.Errorf("set tessdata path: %w", err)
		}
	}
	if err := c.SetLanguage(e.opts.Languages...); err != nil {
		return "", fmt.Errorf("set languages: %w", err)
	}
	if err := c.SetImage(imagePath); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}

	if !strings.Contains(prompt, GroundingMarker) {
		text, err := c.Text()
		if err != nil {
			return "", fmt.Errorf("recognize text: %w", err)
		}
		return strings.TrimSpace(text), nil
	}

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_PARA)
	if err != nil {
		return "", fmt.Errorf("recognize blocks: %w", err)
	}
	w, h, err := imageSize(imagePath)
	if err != nil {
		return "", err
	}

	blocks := make([]Block, 0, len(boxes))
	for _, b := range boxes {
		blocks = append(blocks, Block{Text: b.Word, Rect: b.Box})
	}
	return FormatBlocks(blocks, w, h), nil
}

func imageSize(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("read image size: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}
