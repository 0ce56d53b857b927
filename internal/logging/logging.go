package logging

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
)

// Config selects the log level and format
type Config struct {
	Level string `json:"level" yaml:"level"`
	JSON  bool   `json:"json" yaml:"json"`
}

// New creates the named root logger writing to output (stderr when nil)
func New(name string, cfg Config, output io.Writer) hclog.Logger {
	if output == nil {
		output = os.Stderr
	}
	level := hclog.LevelFromString(cfg.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Output:     output,
		Level:      level,
		JSONFormat: cfg.JSON,
	})
}
