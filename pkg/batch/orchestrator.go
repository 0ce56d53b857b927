// Package batch runs OCR over a single image or every page of a PDF and
// turns the model output into text, annotated images and documents.
//
// A run is strictly sequential. The orchestrator holds no lock; callers
// serialize runs against one engine, for example through pkg/queue.
package batch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/menta2k/layout-ocr/internal/utils"
	"github.com/menta2k/layout-ocr/pkg/annotate"
	"github.com/menta2k/layout-ocr/pkg/client"
	"github.com/menta2k/layout-ocr/pkg/layout"
	"github.com/menta2k/layout-ocr/pkg/processing"
	"github.com/menta2k/layout-ocr/pkg/prompt"
	"github.com/menta2k/layout-ocr/pkg/types"
)

// PageSplit joins per-page text in document output
const PageSplit = "\n\n<--- Page Split --->\n\n"

var (
	// ErrNoInput is returned when no image or document was supplied
	ErrNoInput = errors.New("no input supplied")
	// ErrNoPages is returned when a document yields no pages
	ErrNoPages = errors.New("could not extract any pages from the document")
)

// EngineSource hands out a ready engine; *engine.Manager implements it
type EngineSource interface {
	Ready(ctx context.Context) (client.Engine, error)
}

// Rasterizer renders document pages; *pdf.Rasterizer implements it
type Rasterizer interface {
	Rasterize(ctx context.Context, path string, dpi int) ([]image.Image, error)
}

// Serializer binds pages into a document; *pdf.Serializer implements it
type Serializer interface {
	Write(pages []image.Image, outPath string) error
}

// Deps are the collaborators of an Orchestrator
type Deps struct {
	Engines    EngineSource
	Rasterizer Rasterizer
	Serializer Serializer
	Renderer   *annotate.Renderer
	Processor  *processing.Processor
	Logger     hclog.Logger
}

// Options tune where and how a run writes its output
type Options struct {
	// ArtifactDir receives text, annotated images and documents
	ArtifactDir string
	// ScratchDir is the parent of per-run scratch directories
	ScratchDir string
	// CropDir keeps "image" region crops; empty discards them with the run
	CropDir string
	// DPI for document rasterization
	DPI int
	// AnnotatedFormat encodes annotated single images
	AnnotatedFormat types.ImageFormat
	// Palette colors regions when no Renderer is supplied
	Palette annotate.Palette
}

// Request describes one run
type Request struct {
	Task         prompt.Task
	CustomPrompt string
	Resolution   types.Resolution
	Progress     ProgressFunc
}

// ImageResult is the outcome of ProcessImage
type ImageResult struct {
	RunID string
	Text  string
	// Annotated is nil when the output has no non-image regions
	Annotated *image.NRGBA
	Regions   []layout.Region
	Crops     []string
	TextPath  string
	// ImagePath is empty when Annotated is nil
	ImagePath string
	Status    string
	Elapsed   time.Duration
}

// DocumentResult is the outcome of ProcessDocument
type DocumentResult struct {
	RunID        string
	Text         string
	TextPath     string
	DocumentPath string
	Pages        int
	Crops        []string
	Status       string
	// Elapsed is the sum of all inference calls
	Elapsed time.Duration
}

// Orchestrator drives the engine over images and documents
type Orchestrator struct {
	deps Deps
	opts Options
}

// New creates an orchestrator, filling unset collaborators with defaults
func New(deps Deps, opts Options) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = hclog.NewNullLogger()
	}
	if deps.Processor == nil {
		deps.Processor = processing.NewProcessor()
	}
	if deps.Renderer == nil {
		ropts := []annotate.Option{annotate.WithLogger(deps.Logger.Named("annotate"))}
		if opts.Palette != nil {
			ropts = append(ropts, annotate.WithPalette(opts.Palette))
		}
		deps.Renderer = annotate.New(ropts...)
	}
	if opts.ArtifactDir == "" {
		opts.ArtifactDir = os.TempDir()
	}
	if opts.AnnotatedFormat.Extension == "" {
		opts.AnnotatedFormat = types.ImageFormat{Extension: "png"}
	}
	return &Orchestrator{deps: deps, opts: opts}
}

// run carries the per-call state shared by both entry points
type run struct {
	id       string
	req      Request
	logger   hclog.Logger
	scratch  string
	cropRoot string
	written  []string
	finished bool
}

func (o *Orchestrator) begin(req Request) (*run, error) {
	id := uuid.NewString()
	if o.opts.ScratchDir != "" {
		if err := utils.EnsureDir(o.opts.ScratchDir); err != nil {
			return nil, fmt.Errorf("failed to create scratch directory: %w", err)
		}
	}
	scratch, err := os.MkdirTemp(o.opts.ScratchDir, "layout-ocr-run-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	return &run{
		id:      id,
		req:     req,
		logger:  o.deps.Logger.With("run", id),
		scratch: scratch,
	}, nil
}

// end removes the scratch directory and, unless the run finished, every
// artifact it wrote
func (r *run) end() {
	if err := os.RemoveAll(r.scratch); err != nil {
		r.logger.Warn("failed to remove scratch directory", "path", r.scratch, "error", err)
	}
	if r.finished {
		return
	}
	for _, p := range r.written {
		os.Remove(p)
	}
	if r.cropRoot != "" {
		os.RemoveAll(r.cropRoot)
	}
}

func (r *run) report(p Progress) {
	if r.req.Progress != nil {
		r.req.Progress(p)
	}
}

func (r *run) fail(err error) error {
	r.logger.Error("run failed", "error", err)
	r.report(Progress{State: Failed, Message: err.Error()})
	return err
}

// prepare performs the checks shared by both entry points and returns the
// engine and the effective prompt
func (o *Orchestrator) prepare(ctx context.Context, r *run) (client.Engine, string, error) {
	r.report(Progress{State: Initializing, Message: "initializing engine"})
	eng, err := o.deps.Engines.Ready(ctx)
	if err != nil {
		return nil, "", err
	}
	p, err := prompt.Resolve(r.req.Task, r.req.CustomPrompt)
	if err != nil {
		return nil, "", err
	}
	return eng, p, nil
}

func (o *Orchestrator) cropDir(r *run, sub string) string {
	if o.opts.CropDir == "" {
		return filepath.Join(r.scratch, "crops", sub)
	}
	r.cropRoot = filepath.Join(o.opts.CropDir, r.id)
	return filepath.Join(r.cropRoot, sub)
}

// infer writes img to the scratch directory and runs the engine over it
func (o *Orchestrator) infer(ctx context.Context, r *run, eng client.Engine, img image.Image, p string) (string, time.Duration, error) {
	path, err := o.deps.Processor.WriteTemp(img, r.scratch, "page-*", types.ImageFormat{Extension: "png"})
	if err != nil {
		return "", 0, err
	}
	defer os.Remove(path)

	start := time.Now()
	text, err := eng.Infer(ctx, path, p, r.req.Resolution)
	return text, time.Since(start), err
}

func (o *Orchestrator) writeText(r *run, text string) (string, error) {
	path := filepath.Join(o.opts.ArtifactDir, r.id+".md")
	if err := utils.WriteFileAtomic(path, []byte(text)); err != nil {
		return "", fmt.Errorf("failed to write text output: %w", err)
	}
	r.written = append(r.written, path)
	return path, nil
}

// ProcessImage runs one inference over img
func (o *Orchestrator) ProcessImage(ctx context.Context, img image.Image, req Request) (*ImageResult, error) {
	if img == nil {
		rep := &run{req: req, logger: o.deps.Logger}
		return nil, rep.fail(ErrNoInput)
	}

	r, err := o.begin(req)
	if err != nil {
		return nil, err
	}
	defer r.end()

	eng, p, err := o.prepare(ctx, r)
	if err != nil {
		return nil, r.fail(err)
	}

	r.report(Progress{State: Preparing, Message: "preparing image"})
	r.report(Progress{State: Inferring, Fraction: 0.5, Message: "running inference"})
	text, elapsed, err := o.infer(ctx, r, eng, img, p)
	if err != nil {
		return nil, r.fail(fmt.Errorf("inference failed: %w", err))
	}
	r.logger.Info("inference complete", "elapsed", elapsed)

	r.report(Progress{State: PostProcessing, Fraction: 0.9, Message: "post-processing"})
	all, _, others := layout.Parse(text)
	res := &ImageResult{RunID: r.id, Text: text, Regions: all, Elapsed: elapsed}

	if len(others) > 0 {
		out := o.deps.Renderer.ForCropDir(o.cropDir(r, "")).Annotate(img, all)
		res.Annotated = out.Image
		if o.opts.CropDir != "" {
			res.Crops = out.Crops
		}
		if out.Skipped > 0 {
			r.logger.Warn("some regions were skipped", "skipped", out.Skipped, "regions", len(all))
		}
	}

	if res.TextPath, err = o.writeText(r, text); err != nil {
		return nil, r.fail(err)
	}
	if res.Annotated != nil {
		path := filepath.Join(o.opts.ArtifactDir, r.id+"_layouts."+strings.ToLower(o.opts.AnnotatedFormat.Extension))
		if err := o.deps.Processor.SaveAs(res.Annotated, path, o.opts.AnnotatedFormat); err != nil {
			return nil, r.fail(fmt.Errorf("failed to write annotated image: %w", err))
		}
		r.written = append(r.written, path)
		res.ImagePath = path
	}

	res.Status = fmt.Sprintf("Image recognized in %.2f s", elapsed.Seconds())
	r.finished = true
	r.report(Progress{State: Done, Fraction: 1, Message: res.Status})
	return res, nil
}

// ProcessDocument rasterizes the PDF at path and runs one inference per
// page, in order. Any page failure aborts the run without output.
func (o *Orchestrator) ProcessDocument(ctx context.Context, path string, req Request) (*DocumentResult, error) {
	if strings.TrimSpace(path) == "" {
		rep := &run{req: req, logger: o.deps.Logger}
		return nil, rep.fail(ErrNoInput)
	}

	r, err := o.begin(req)
	if err != nil {
		return nil, err
	}
	defer r.end()

	eng, p, err := o.prepare(ctx, r)
	if err != nil {
		return nil, r.fail(err)
	}

	r.report(Progress{State: Preparing, Message: "extracting pages"})
	pages, err := o.deps.Rasterizer.Rasterize(ctx, path, o.opts.DPI)
	if err != nil {
		return nil, r.fail(fmt.Errorf("%w: %w", ErrNoPages, err))
	}
	if len(pages) == 0 {
		return nil, r.fail(ErrNoPages)
	}

	total := len(pages)
	texts := make([]string, 0, total)
	annotated := make([]image.Image, 0, total)
	res := &DocumentResult{RunID: r.id, Pages: total}

	for i, page := range pages {
		n := i + 1
		frac := float64(i) / float64(total)
		r.report(Progress{State: Preparing, Fraction: frac, Page: n, Total: total,
			Message: fmt.Sprintf("processing page %d/%d", n, total)})

		r.report(Progress{State: Inferring, Fraction: frac, Page: n, Total: total})
		text, elapsed, err := o.infer(ctx, r, eng, page, p)
		if err != nil {
			return nil, r.fail(fmt.Errorf("page %d: %w", n, err))
		}
		res.Elapsed += elapsed
		texts = append(texts, text)

		r.report(Progress{State: PostProcessing, Fraction: frac, Page: n, Total: total})
		all, _, others := layout.Parse(text)
		if len(others) > 0 {
			out := o.deps.Renderer.ForCropDir(o.cropDir(r, fmt.Sprintf("page_%d", n))).Annotate(page, all)
			annotated = append(annotated, out.Image)
			if o.opts.CropDir != "" {
				res.Crops = append(res.Crops, out.Crops...)
			}
		} else {
			annotated = append(annotated, page)
		}

		r.logger.Info("page complete", "page", n, "total", total, "regions", len(all), "elapsed", elapsed)
		r.report(Progress{State: PostProcessing, Fraction: float64(n) / float64(total), Page: n, Total: total})
	}

	r.report(Progress{State: Aggregating, Fraction: 1, Page: total, Total: total, Message: "aggregating results"})
	res.Text = strings.Join(texts, PageSplit)
	if res.TextPath, err = o.writeText(r, res.Text); err != nil {
		return nil, r.fail(err)
	}

	docPath := filepath.Join(o.opts.ArtifactDir, r.id+"_layouts.pdf")
	if err := o.deps.Serializer.Write(annotated, docPath); err != nil {
		return nil, r.fail(fmt.Errorf("failed to write annotated document: %w", err))
	}
	r.written = append(r.written, docPath)
	res.DocumentPath = docPath

	res.Status = fmt.Sprintf("Document processed: %d pages in %.2f s", total, res.Elapsed.Seconds())
	r.finished = true
	r.report(Progress{State: Done, Fraction: 1, Page: total, Total: total, Message: res.Status})
	return res, nil
}
