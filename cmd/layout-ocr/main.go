package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/hashicorp/go-hclog"

	layoutocr "github.com/menta2k/layout-ocr"
	"github.com/menta2k/layout-ocr/internal/config"
	"github.com/menta2k/layout-ocr/internal/logging"
	"github.com/menta2k/layout-ocr/internal/server"
	"github.com/menta2k/layout-ocr/internal/utils"
	"github.com/menta2k/layout-ocr/internal/watch"
	"github.com/menta2k/layout-ocr/pkg/batch"
	"github.com/menta2k/layout-ocr/pkg/prompt"
	"github.com/menta2k/layout-ocr/pkg/queue"
)

func main() {
	var in, outDir, configPath, saveConfig, serveAddr, watchDir string
	var task, customPrompt string
	var backend, url, model, resolution string
	var colors, format, logLevel string
	var dpi int
	var printText, version bool

	flag.StringVar(&in, "in", "", "input image (jpg/png/webp) or PDF")
	flag.StringVar(&outDir, "out", "", "copy the text and annotated outputs into this directory")
	flag.StringVar(&configPath, "config", "", "config file (yaml or json, default "+config.GetConfigPath()+" when present)")
	flag.StringVar(&saveConfig, "save-config", "", "write the effective configuration to this path and exit")
	flag.StringVar(&serveAddr, "serve", "", "serve the HTTP API on this address instead of processing -in")
	flag.StringVar(&watchDir, "watch", "", "process every image or PDF dropped into this directory")

	flag.StringVar(&task, "task", string(prompt.DefaultTask), "task: markdown|free_ocr|figure|describe|grounding")
	flag.StringVar(&customPrompt, "prompt", "", "instruction for the grounding task")

	flag.StringVar(&backend, "backend", "", "inference backend: ollama|llamacpp|ocrserver|tesseract")
	flag.StringVar(&url, "url", "", "inference server URL")
	flag.StringVar(&model, "model", "", "model name")
	flag.StringVar(&resolution, "resolution", "", "resolution preset: small|base|large|gundam")

	flag.IntVar(&dpi, "dpi", 0, "PDF rasterization resolution")
	flag.StringVar(&colors, "colors", "", "region colors: random|label")
	flag.StringVar(&format, "format", "", "annotated image format: png|jpg|webp")
	flag.StringVar(&logLevel, "log-level", "", "log level: trace|debug|info|warn|error")
	flag.BoolVar(&printText, "print", false, "print the recognized text to stdout")
	flag.BoolVar(&version, "version", false, "print the version and exit")

	flag.Parse()
	if version {
		fmt.Println("layout-ocr", layoutocr.GetVersion())
		return
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fatal(err)
	}

	// flags given on the command line override the config file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.Engine.Backend = backend
		case "url":
			cfg.Engine.URL = url
		case "model":
			cfg.Engine.Model = model
		case "resolution":
			cfg.Engine.Resolution = resolution
		case "dpi":
			cfg.Batch.DPI = dpi
		case "colors":
			cfg.Batch.Colors = colors
		case "format":
			cfg.Batch.AnnotatedFormat = format
		case "log-level":
			cfg.Log.Level = logLevel
		case "serve":
			cfg.Server.Addr = serveAddr
		}
	})

	if saveConfig != "" {
		if err := cfg.Validate(); err != nil {
			fatal(err)
		}
		if err := cfg.SaveToFile(saveConfig); err != nil {
			fatal(err)
		}
		color.Green("wrote %s", saveConfig)
		return
	}

	logger := logging.New("layout-ocr", cfg.Log, os.Stderr)
	ocr, err := layoutocr.New(cfg, logger)
	if err != nil {
		fatal(err)
	}
	defer ocr.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if serveAddr != "" {
		if err := serve(ctx, cfg, ocr, logger); err != nil {
			fatal(err)
		}
		return
	}

	req := batch.Request{
		Task:         prompt.ParseTask(task),
		CustomPrompt: customPrompt,
		Resolution:   cfg.Resolution(),
		Progress:     printProgress,
	}

	if watchDir != "" {
		w := watch.New(watchDir, watch.Option{}, func(ctx context.Context, path string) {
			color.Cyan("processing %s", path)
			if err := process(ctx, ocr, path, req, outDir, cfg.AnnotatedFormat().Extension, printText); err != nil {
				color.Red("error: %s", err)
			}
		}, logger.Named("watch"))
		done, err := w.Watch(ctx)
		if err != nil {
			fatal(err)
		}
		<-done
		return
	}

	if in == "" {
		fatal(fmt.Errorf("usage: %s -in input.pdf|image [-task markdown] [-backend ollama|llamacpp|ocrserver|tesseract] [-url server_url] [-out outdir] | -serve :8080 | -watch dir", filepath.Base(os.Args[0])))
	}
	if err := process(ctx, ocr, in, req, outDir, cfg.AnnotatedFormat().Extension, printText); err != nil {
		fatal(err)
	}
}

func process(ctx context.Context, ocr *layoutocr.LayoutOCR, in string, req batch.Request, outDir, imageExt string, printText bool) error {
	res, err := ocr.ProcessFile(ctx, in, req)
	if err != nil {
		return err
	}

	color.Green("%s", res.Status)
	if printText {
		fmt.Println(res.Text)
	}

	if outDir == "" {
		report("text", res.TextPath)
		report("annotated image", res.ImagePath)
		report("annotated document", res.DocumentPath)
	} else if err := copyOutputs(res, in, outDir, imageExt); err != nil {
		return err
	}
	for _, crop := range res.Crops {
		report("crop", crop)
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if p := config.GetConfigPath(); utils.FileExists(p) {
			path = p
		}
	}
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadFromFile(path)
}

func serve(ctx context.Context, cfg *config.Config, ocr *layoutocr.LayoutOCR, logger hclog.Logger) error {
	q := queue.New(queue.Option{
		Name:        "jobs",
		QueueLength: cfg.Server.QueueLength,
		Timeout:     cfg.Server.JobTimeout,
	}, logger)
	q.Start()
	defer q.Stop()

	srv := server.New(ocr, q, server.Option{
		UploadDir: filepath.Join(cfg.Batch.ArtifactDir, "uploads"),
		MaxUpload: cfg.Server.MaxUpload,
		Mode:      "production",
	}, logger.Named("server"))

	color.Cyan("layout-ocr %s listening on %s", layoutocr.Version, cfg.Server.Addr)
	err := srv.Run(ctx, cfg.Server.Addr)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printProgress(p batch.Progress) {
	switch {
	case p.State == batch.Failed:
		return
	case p.Total > 0 && p.State == batch.Inferring:
		fmt.Fprintf(os.Stderr, "%s page %d/%d\n", color.CyanString("[%3.0f%%]", p.Fraction*100), p.Page, p.Total)
	case p.Message != "" && p.State != batch.Done:
		fmt.Fprintf(os.Stderr, "%s %s\n", color.CyanString("[%3.0f%%]", p.Fraction*100), p.Message)
	}
}

func report(kind, path string) {
	if path == "" {
		return
	}
	fmt.Printf("%s %s\n", color.YellowString("%s:", kind), path)
}

// copyOutputs copies the run's artifacts next to each other in outDir,
// named after the input file
func copyOutputs(res *layoutocr.Result, in, outDir, imageExt string) error {
	if err := utils.EnsureDir(outDir); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	paths := utils.GenerateOutputPaths(in, outDir)
	paths.Image = strings.TrimSuffix(paths.Image, filepath.Ext(paths.Image)) + "." + imageExt

	for _, c := range []struct{ kind, src, dst string }{
		{"text", res.TextPath, paths.Text},
		{"annotated image", res.ImagePath, paths.Image},
		{"annotated document", res.DocumentPath, paths.Document},
	} {
		if c.src == "" {
			continue
		}
		data, err := os.ReadFile(c.src)
		if err != nil {
			return fmt.Errorf("failed to read %s output: %w", c.kind, err)
		}
		if err := utils.WriteFileAtomic(c.dst, data); err != nil {
			return fmt.Errorf("failed to write %s output: %w", c.kind, err)
		}
		report(c.kind, fmt.Sprintf("%s (%s)", c.dst, utils.FormatFileSize(int64(len(data)))))
	}
	return nil
}

func fatal(err error) {
	color.Red("error: %s", err)
	os.Exit(1)
}
