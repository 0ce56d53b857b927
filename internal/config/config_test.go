package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/layout-ocr/pkg/types"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, types.Gundam, cfg.Resolution())
	assert.Equal(t, "png", cfg.AnnotatedFormat().Extension)
}

func TestLoadYAMLKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
engine:
  backend: ocrserver
  url: http://gpu-box:8000
  resolution: small
batch:
  crop_dir: /var/lib/layout-ocr/crops
server:
  job_timeout: 5m
log:
  level: debug
  json: true
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, BackendOCRServer, cfg.Engine.Backend)
	assert.Equal(t, "http://gpu-box:8000", cfg.Engine.URL)
	assert.Equal(t, types.Small, cfg.Resolution())
	assert.Equal(t, "/var/lib/layout-ocr/crops", cfg.Batch.CropDir)
	assert.Equal(t, 5*time.Minute, cfg.Server.JobTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)

	// untouched keys keep their defaults
	assert.Equal(t, 200, cfg.Batch.DPI)
	assert.Equal(t, "pdftoppm", cfg.PDF.ConvertTool)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestSaveAndLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := Default()
	cfg.Engine.Backend = BackendLlamaCpp
	cfg.Batch.Colors = "label"
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestSaveAndLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := Default()
	cfg.Engine.Languages = []string{"eng", "deu"}
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadErrors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))
	_, err = LoadFromFile(path)
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"unknown backend", func(c *Config) { c.Engine.Backend = "onnx" }, "engine.backend"},
		{"missing url", func(c *Config) { c.Engine.URL = "" }, "engine.url"},
		{"tesseract needs no url", func(c *Config) { c.Engine.Backend = BackendTesseract; c.Engine.URL = "" }, ""},
		{"dpi", func(c *Config) { c.Batch.DPI = 0 }, "batch.dpi"},
		{"format", func(c *Config) { c.Batch.AnnotatedFormat = "gif" }, "batch.annotated_format"},
		{"quality", func(c *Config) { c.Batch.Quality = 101 }, "batch.quality"},
		{"colors", func(c *Config) { c.Batch.Colors = "rainbow" }, "batch.colors"},
		{"tool", func(c *Config) { c.PDF.ConvertTool = "ghostscript" }, "pdf.convert_tool"},
		{"jpeg quality", func(c *Config) { c.PDF.JPEGQuality = 0 }, "pdf.jpeg_quality"},
		{"queue", func(c *Config) { c.Server.QueueLength = 0 }, "server.queue_length"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestGetConfigPath(t *testing.T) {
	assert.Equal(t, "config.yaml", filepath.Base(GetConfigPath()))
}
