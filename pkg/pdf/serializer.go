package pdf

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/hashicorp/go-hclog"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"

	"github.com/menta2k/layout-ocr/internal/utils"
	"github.com/menta2k/layout-ocr/pkg/processing"
)

// DefaultJPEGQuality is the encoding quality of embedded pages
const DefaultJPEGQuality = 95

// Serializer binds page images into a single PDF document
type Serializer struct {
	quality int
	logger  hclog.Logger
}

// NewSerializer creates a serializer embedding pages as JPEG at quality
func NewSerializer(quality int, logger hclog.Logger) *Serializer {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Serializer{quality: quality, logger: logger}
}

// Write stores pages as a PDF at outPath, one page per image with the page
// size equal to the image size. An empty page list writes nothing.
func (s *Serializer) Write(pages []image.Image, outPath string) error {
	if len(pages) == 0 {
		s.logger.Warn("no pages to write", "path", outPath)
		return nil
	}

	readers := make([]io.Reader, 0, len(pages))
	for i, page := range pages {
		var buf bytes.Buffer
		err := imaging.Encode(&buf, processing.Flatten(page), imaging.JPEG, imaging.JPEGQuality(s.quality))
		if err != nil {
			return fmt.Errorf("failed to encode page %d: %w", i+1, err)
		}
		readers = append(readers, &buf)
	}

	dir := filepath.Dir(outPath)
	if err := utils.EnsureDir(dir); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(outPath)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	imp := pdfcpu.DefaultImportConfig()
	if err := api.ImportImages(nil, tmp, readers, imp, nil); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to build pdf: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write pdf: %w", err)
	}
	if err := os.Rename(tmpName, outPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move pdf into place: %w", err)
	}

	s.logger.Info("wrote document", "path", outPath, "pages", len(pages))
	return nil
}

// PageCount returns the number of pages of the PDF at path
func PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	return n, nil
}
