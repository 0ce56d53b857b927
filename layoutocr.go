// Package layoutocr turns the output of a grounding OCR model into text,
// annotated page images and annotated PDF documents.
//
// A vision model asked to convert a page to markdown answers with text
// interleaved with region tags:
//
//	<|ref|>title<|/ref|><|det|>[[40, 32, 960, 88]]<|/det|>
//	# Quarterly Report
//
// The coordinates are normalized to 0..999. This package wires an inference
// backend to the pipeline that parses those tags, scales them to the page,
// outlines every region, saves the "image" regions as crops and, for PDF
// input, binds the annotated pages back into a document.
//
// Basic usage:
//
//	cfg := config.Default()
//	ocr, err := layoutocr.New(cfg, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer ocr.Close()
//
//	res, err := ocr.ProcessFile(ctx, "report.pdf", batch.Request{
//		Task:       prompt.Markdown,
//		Resolution: types.Gundam,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(res.Status)
//
// The package consists of these components:
//
//  1. Layout (pkg/layout): parses region tags and scales coordinates
//  2. Annotate (pkg/annotate): draws outlines and labels and saves crops
//  3. PDF (pkg/pdf): rasterizes documents and writes annotated PDFs
//  4. Batch (pkg/batch): runs single images and whole documents
//  5. Backends (pkg/ollama, pkg/llamacpp, pkg/ocrserver, pkg/tesseract)
package layoutocr

import (
	"context"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/hashicorp/go-hclog"

	"github.com/menta2k/layout-ocr/internal/config"
	"github.com/menta2k/layout-ocr/internal/utils"
	"github.com/menta2k/layout-ocr/pkg/annotate"
	"github.com/menta2k/layout-ocr/pkg/batch"
	"github.com/menta2k/layout-ocr/pkg/client"
	"github.com/menta2k/layout-ocr/pkg/engine"
	"github.com/menta2k/layout-ocr/pkg/llamacpp"
	"github.com/menta2k/layout-ocr/pkg/ocrserver"
	"github.com/menta2k/layout-ocr/pkg/ollama"
	"github.com/menta2k/layout-ocr/pkg/pdf"
	"github.com/menta2k/layout-ocr/pkg/processing"
	"github.com/menta2k/layout-ocr/pkg/tesseract"
)

// Version of the layout-ocr library
const Version = "1.0.0"

// NewEngine creates the inference backend named by cfg.Backend
func NewEngine(cfg config.EngineConfig) (client.Engine, error) {
	var (
		e   client.Engine
		err error
	)
	switch cfg.Backend {
	case config.BackendOllama:
		e, err = ollama.NewClient(cfg.URL, cfg.Model)
	case config.BackendLlamaCpp:
		e, err = llamacpp.NewClient(cfg.URL, cfg.Model)
	case config.BackendOCRServer:
		e, err = ocrserver.NewClient(cfg.URL, cfg.Model)
	case config.BackendTesseract:
		e, err = tesseract.New(tesseract.Options{Languages: cfg.Languages, TessdataPath: cfg.Tessdata})
	default:
		return nil, fmt.Errorf("unknown engine backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s engine: %w", cfg.Backend, err)
	}
	return e, nil
}

// pinger is implemented by backends that can check their server up front
type pinger interface {
	Ping(ctx context.Context) error
}

// LayoutOCR provides a high-level interface over the batch orchestrator
type LayoutOCR struct {
	engines   *engine.Manager
	orch      *batch.Orchestrator
	processor *processing.Processor
	logger    hclog.Logger
}

// Result is the outcome of ProcessFile for either input kind
type Result struct {
	RunID    string        `json:"run_id"`
	Text     string        `json:"text"`
	Status   string        `json:"status"`
	Pages    int           `json:"pages"`
	Regions  int           `json:"regions"`
	Crops    []string      `json:"crops,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
	TextPath string        `json:"text_path"`
	// ImagePath is set for annotated single images
	ImagePath string `json:"image_path,omitempty"`
	// DocumentPath is set for PDF input
	DocumentPath string `json:"document_path,omitempty"`
}

// New creates a LayoutOCR from cfg. The engine is created on first use.
func New(cfg *config.Config, logger hclog.Logger) (*LayoutOCR, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	factory := func(ctx context.Context) (client.Engine, error) {
		e, err := NewEngine(cfg.Engine)
		if err != nil {
			return nil, err
		}
		if p, ok := e.(pinger); ok {
			if err := p.Ping(ctx); err != nil {
				return nil, fmt.Errorf("%s backend at %s is not reachable: %w", cfg.Engine.Backend, cfg.Engine.URL, err)
			}
		}
		return e, nil
	}
	return NewWithFactory(cfg, factory, logger), nil
}

// NewWithFactory creates a LayoutOCR whose engine is built by factory
func NewWithFactory(cfg *config.Config, factory engine.Factory, logger hclog.Logger) *LayoutOCR {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	engines := engine.NewManager(factory, logger.Named("engine"))
	return &LayoutOCR{
		engines:   engines,
		orch:      NewOrchestrator(cfg, engines, logger),
		processor: processing.NewProcessor(),
		logger:    logger,
	}
}

// NewOrchestrator wires cfg to a batch orchestrator drawing engines from src
func NewOrchestrator(cfg *config.Config, src batch.EngineSource, logger hclog.Logger) *batch.Orchestrator {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	rasterizer := pdf.NewRasterizer(pdf.Options{
		ConvertTool: pdf.ConvertTool(cfg.PDF.ConvertTool),
		ToolPath:    cfg.PDF.ToolPath,
	}, logger.Named("pdf"))

	return batch.New(batch.Deps{
		Engines:    src,
		Rasterizer: rasterizer,
		Serializer: pdf.NewSerializer(cfg.PDF.JPEGQuality, logger.Named("pdf")),
		Logger:     logger.Named("batch"),
	}, batch.Options{
		ArtifactDir:     cfg.Batch.ArtifactDir,
		ScratchDir:      cfg.Batch.ScratchDir,
		CropDir:         cfg.Batch.CropDir,
		DPI:             cfg.Batch.DPI,
		AnnotatedFormat: cfg.AnnotatedFormat(),
		Palette:         annotate.PaletteByName(cfg.Batch.Colors),
	})
}

// Orchestrator returns the underlying orchestrator
func (l *LayoutOCR) Orchestrator() *batch.Orchestrator {
	return l.orch
}

// ProcessImage runs one inference over img
func (l *LayoutOCR) ProcessImage(ctx context.Context, img image.Image, req batch.Request) (*Result, error) {
	res, err := l.orch.ProcessImage(ctx, img, req)
	if err != nil {
		return nil, err
	}
	return &Result{
		RunID:     res.RunID,
		Text:      res.Text,
		Status:    res.Status,
		Pages:     1,
		Regions:   len(res.Regions),
		Crops:     res.Crops,
		Elapsed:   res.Elapsed,
		TextPath:  res.TextPath,
		ImagePath: res.ImagePath,
	}, nil
}

// ProcessDocument runs one inference per page of the PDF at path
func (l *LayoutOCR) ProcessDocument(ctx context.Context, path string, req batch.Request) (*Result, error) {
	res, err := l.orch.ProcessDocument(ctx, path, req)
	if err != nil {
		return nil, err
	}
	return &Result{
		RunID:        res.RunID,
		Text:         res.Text,
		Status:       res.Status,
		Pages:        res.Pages,
		Crops:        res.Crops,
		Elapsed:      res.Elapsed,
		TextPath:     res.TextPath,
		DocumentPath: res.DocumentPath,
	}, nil
}

// ProcessFile dispatches on the file extension, or on the content when the
// extension is not recognized: PDFs go through the document path, images
// through the single-image path
func (l *LayoutOCR) ProcessFile(ctx context.Context, path string, req batch.Request) (*Result, error) {
	isPDF, isImage := utils.IsPDFFile(path), utils.IsImageFile(path)
	if !isPDF && !isImage {
		m, err := mimetype.DetectFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to inspect input: %w", err)
		}
		isPDF = m.Is("application/pdf")
		isImage = strings.HasPrefix(m.String(), "image/")
		if !isPDF && !isImage {
			return nil, fmt.Errorf("unsupported input %q (%s): expected an image or a PDF", path, m.String())
		}
	}

	if isPDF {
		return l.ProcessDocument(ctx, path, req)
	}
	img, err := l.processor.LoadImage(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load image: %w", err)
	}
	return l.ProcessImage(ctx, img, req)
}

// Close releases the engine
func (l *LayoutOCR) Close() error {
	return l.engines.Close()
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
