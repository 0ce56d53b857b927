package client

import (
	"context"

	"github.com/menta2k/layout-ocr/pkg/types"
)

// Engine runs one OCR inference over an image file and returns the raw
// model output, which may contain region tags
type Engine interface {
	Infer(ctx context.Context, imagePath, prompt string, res types.Resolution) (string, error)
}

// Closer is implemented by engines that hold resources between calls
type Closer interface {
	Close() error
}
