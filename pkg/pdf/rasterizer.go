// Package pdf converts PDF documents to page images and binds page images
// back into PDF documents.
package pdf

import (
	"context"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/hashicorp/go-hclog"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// DefaultDPI is the rendering resolution used when none is given
const DefaultDPI = 200

// pointsPerInch is the PDF user space unit
const pointsPerInch = 72.0

// ConvertTool defines supported PDF to image conversion tools
type ConvertTool string

const (
	// ToolPdftoppm is the poppler-utils tool
	ToolPdftoppm ConvertTool = "pdftoppm"
	// ToolMutool is the mupdf-tools tool
	ToolMutool ConvertTool = "mutool"
)

// Options defines configuration for the rasterizer
type Options struct {
	ConvertTool ConvertTool `json:"convert_tool,omitempty" yaml:"convert_tool,omitempty"`
	ToolPath    string      `json:"tool_path,omitempty" yaml:"tool_path,omitempty"`
}

// Rasterizer renders every page of a PDF file to an image
type Rasterizer struct {
	tool     ConvertTool
	toolPath string
	logger   hclog.Logger
}

// NewRasterizer creates a rasterizer. The tool defaults to pdftoppm and is
// looked up on PATH unless ToolPath is set.
func NewRasterizer(opts Options, logger hclog.Logger) *Rasterizer {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	tool := opts.ConvertTool
	if tool == "" {
		tool = ToolPdftoppm
	}
	path := opts.ToolPath
	if path == "" {
		path = string(tool)
	}
	return &Rasterizer{tool: tool, toolPath: path, logger: logger}
}

// Available reports whether the conversion tool can be executed
func (r *Rasterizer) Available() bool {
	_, err := exec.LookPath(r.toolPath)
	return err == nil
}

// Scale returns the pixel-per-point factor for dpi
func Scale(dpi int) float64 {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return float64(dpi) / pointsPerInch
}

// Rasterize renders all pages of the PDF at path, in page order.
// On failure the returned slice is nil.
func (r *Rasterizer) Rasterize(ctx context.Context, path string, dpi int) ([]image.Image, error) {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	pageCount, err := api.PageCountFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get page count: %w", err)
	}
	if pageCount == 0 {
		return nil, fmt.Errorf("document has no pages")
	}
	r.logExpectedSizes(path, dpi)

	if !r.Available() {
		return nil, fmt.Errorf("conversion tool %s is not available", r.tool)
	}

	scratch, err := os.MkdirTemp("", "layout-ocr-raster-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	if err := r.convert(ctx, path, scratch, dpi); err != nil {
		return nil, err
	}

	files, err := pageFiles(scratch)
	if err != nil {
		return nil, err
	}
	if len(files) != pageCount {
		r.logger.Warn("page count mismatch", "expected", pageCount, "rendered", len(files))
	}

	pages := make([]image.Image, 0, len(files))
	for _, f := range files {
		img, err := imaging.Open(f)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(f), err)
		}
		pages = append(pages, img)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%s produced no pages", r.tool)
	}
	r.logger.Info("rasterized document", "path", path, "pages", len(pages), "dpi", dpi)
	return pages, nil
}

func (r *Rasterizer) logExpectedSizes(path string, dpi int) {
	if !r.logger.IsDebug() {
		return
	}
	dims, err := api.PageDimsFile(path)
	if err != nil {
		r.logger.Debug("could not read page dimensions", "error", err)
		return
	}
	scale := Scale(dpi)
	for i, d := range dims {
		r.logger.Debug("page size", "page", i+1,
			"width", int(d.Width*scale), "height", int(d.Height*scale))
	}
}

func (r *Rasterizer) convert(ctx context.Context, path, outDir string, dpi int) error {
	prefix := filepath.Join(outDir, "page")

	var args []string
	switch r.tool {
	case ToolPdftoppm:
		args = []string{"-png", "-r", strconv.Itoa(dpi), path, prefix}
	case ToolMutool:
		args = []string{
			"convert",
			"-F", "png",
			"-O", fmt.Sprintf("resolution=%d", dpi),
			"-o", prefix + "-%d.png",
			path,
		}
	default:
		return fmt.Errorf("unsupported conversion tool: %s", r.tool)
	}

	r.logger.Debug("running conversion tool", "command", r.toolPath, "args", args)
	cmd := exec.CommandContext(ctx, r.toolPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed: %w, output: %s", r.tool, err, string(output))
	}
	return nil
}

var pageFilePattern = regexp.MustCompile(`-(\d+)\.png$`)

// pageFiles lists rendered pages ordered by page number. The tools pad page
// numbers differently, so ordering is numeric rather than lexical.
func pageFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list rendered pages: %w", err)
	}

	type page struct {
		num  int
		path string
	}
	var pages []page
	for _, e := range entries {
		m := pageFilePattern.FindStringSubmatch(e.Name())
		if e.IsDir() || m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		pages = append(pages, page{num: n, path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].num < pages[j].num })

	paths := make([]string, len(pages))
	for i, p := range pages {
		paths[i] = p.path
	}
	return paths, nil
}
