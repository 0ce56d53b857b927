package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"

	"github.com/menta2k/layout-ocr/internal/logging"
	"github.com/menta2k/layout-ocr/pkg/pdf"
	"github.com/menta2k/layout-ocr/pkg/types"
)

// Backend names accepted by engine.backend
const (
	BackendOllama    = "ollama"
	BackendLlamaCpp  = "llamacpp"
	BackendOCRServer = "ocrserver"
	BackendTesseract = "tesseract"
)

// Config holds the application configuration
type Config struct {
	Engine EngineConfig   `json:"engine" yaml:"engine"`
	Batch  BatchConfig    `json:"batch" yaml:"batch"`
	PDF    PDFConfig      `json:"pdf" yaml:"pdf"`
	Server ServerConfig   `json:"server" yaml:"server"`
	Log    logging.Config `json:"log" yaml:"log"`
}

// EngineConfig selects and addresses the inference backend
type EngineConfig struct {
	Backend    string   `json:"backend" yaml:"backend"`
	URL        string   `json:"url" yaml:"url"`
	Model      string   `json:"model" yaml:"model"`
	Resolution string   `json:"resolution" yaml:"resolution"`
	Languages  []string `json:"languages,omitempty" yaml:"languages,omitempty"`
	Tessdata   string   `json:"tessdata,omitempty" yaml:"tessdata,omitempty"`
}

// BatchConfig holds configuration for runs and their artifacts
type BatchConfig struct {
	ArtifactDir     string `json:"artifact_dir" yaml:"artifact_dir"`
	ScratchDir      string `json:"scratch_dir,omitempty" yaml:"scratch_dir,omitempty"`
	CropDir         string `json:"crop_dir,omitempty" yaml:"crop_dir,omitempty"`
	DPI             int    `json:"dpi" yaml:"dpi"`
	AnnotatedFormat string `json:"annotated_format" yaml:"annotated_format"`
	Quality         int    `json:"quality" yaml:"quality"`
	Colors          string `json:"colors" yaml:"colors"`
}

// PDFConfig holds configuration for page extraction and document output
type PDFConfig struct {
	ConvertTool string `json:"convert_tool" yaml:"convert_tool"`
	ToolPath    string `json:"tool_path,omitempty" yaml:"tool_path,omitempty"`
	JPEGQuality int    `json:"jpeg_quality" yaml:"jpeg_quality"`
}

// ServerConfig holds configuration for the HTTP server
type ServerConfig struct {
	Addr        string        `json:"addr" yaml:"addr"`
	QueueLength int           `json:"queue_length" yaml:"queue_length"`
	JobTimeout  time.Duration `json:"job_timeout" yaml:"job_timeout"`
	MaxUpload   int64         `json:"max_upload" yaml:"max_upload"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Backend:    BackendOllama,
			URL:        "http://localhost:11434",
			Model:      "deepseek-ocr",
			Resolution: types.Gundam.Name,
		},
		Batch: BatchConfig{
			ArtifactDir:     filepath.Join(os.TempDir(), "layout-ocr"),
			DPI:             pdf.DefaultDPI,
			AnnotatedFormat: "png",
			Quality:         90,
			Colors:          "random",
		},
		PDF: PDFConfig{
			ConvertTool: string(pdf.ToolPdftoppm),
			JPEGQuality: pdf.DefaultJPEGQuality,
		},
		Server: ServerConfig{
			Addr:        ":8080",
			QueueLength: 16,
			JobTimeout:  30 * time.Minute,
			MaxUpload:   64 << 20,
		},
		Log: logging.Config{Level: "info"},
	}
}

func isJSON(filename string) bool {
	return strings.EqualFold(filepath.Ext(filename), ".json")
}

// LoadFromFile loads configuration from a YAML or JSON file. Keys missing
// from the file keep their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if isJSON(filename) {
		err = jsoniter.Unmarshal(data, config)
	} else {
		err = yaml.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration as YAML, or JSON for a .json filename
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var data []byte
	var err error
	if isJSON(filename) {
		data, err = jsoniter.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Engine.Backend {
	case BackendOllama, BackendLlamaCpp, BackendOCRServer:
		if c.Engine.URL == "" {
			return fmt.Errorf("engine.url is required for the %s backend", c.Engine.Backend)
		}
	case BackendTesseract:
	default:
		return fmt.Errorf("engine.backend must be one of ollama, llamacpp, ocrserver, tesseract (got %q)", c.Engine.Backend)
	}

	if c.Batch.DPI < 1 {
		return fmt.Errorf("batch.dpi must be positive")
	}

	switch strings.ToLower(c.Batch.AnnotatedFormat) {
	case "png", "jpg", "jpeg", "webp":
	default:
		return fmt.Errorf("batch.annotated_format must be png, jpg or webp")
	}

	if c.Batch.Quality < 1 || c.Batch.Quality > 100 {
		return fmt.Errorf("batch.quality must be between 1 and 100")
	}

	if c.Batch.Colors != "random" && c.Batch.Colors != "label" {
		return fmt.Errorf("batch.colors must be random or label")
	}

	switch pdf.ConvertTool(c.PDF.ConvertTool) {
	case pdf.ToolPdftoppm, pdf.ToolMutool:
	default:
		return fmt.Errorf("pdf.convert_tool must be pdftoppm or mutool")
	}

	if c.PDF.JPEGQuality < 1 || c.PDF.JPEGQuality > 100 {
		return fmt.Errorf("pdf.jpeg_quality must be between 1 and 100")
	}

	if c.Server.QueueLength < 1 {
		return fmt.Errorf("server.queue_length must be positive")
	}

	return nil
}

// Resolution returns the configured resolution preset
func (c *Config) Resolution() types.Resolution {
	return types.ResolutionByName(c.Engine.Resolution)
}

// AnnotatedFormat returns the encoding of annotated single images
func (c *Config) AnnotatedFormat() types.ImageFormat {
	return types.ImageFormat{Extension: strings.ToLower(c.Batch.AnnotatedFormat), Quality: c.Batch.Quality}
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".config", "layout-ocr", "config.yaml")
}
