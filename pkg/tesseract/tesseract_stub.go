//go:build !tesseract

package tesseract

import (
	"context"

	"github.com/menta2k/layout-ocr/pkg/types"
)

// Engine is unavailable in this build
type Engine struct{}

// New reports that Tesseract support is missing
func New(Options) (*Engine, error) {
	return nil, ErrUnavailable
}

// Infer always fails with ErrUnavailable
func (e *Engine) Infer(context.Context, string, string, types.Resolution) (string, error) {
	return "", ErrUnavailable
}
