package reporting

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/perfpipe/perfpipe/pkg/framework"
	"github.com/perfpipe/perfpipe/pkg/registry"
	"github.com/perfpipe/perfpipe/pkg/telemetry"
)

// Writer delivers a formatted report payload to a destination.
type Writer interface {
	Name() string
	Write(r *Report, payload []byte, logger *telemetry.Logger) error
}

func init() {
	registry.Register(registry.ReportWriter, "noop", registry.Registration{
		NewConfig: func() any { return &NoopWriterConfig{} },
		Build: func(cfg any) (any, error) {
			return &NoopWriter{}, nil
		},
	})
	registry.Register(registry.ReportWriter, "console", registry.Registration{
		NewConfig: func() any { return &ConsoleWriterConfig{} },
		Build: func(cfg any) (any, error) {
			return NewConsoleWriter(cfg.(*ConsoleWriterConfig)), nil
		},
	})
	registry.Register(registry.ReportWriter, "file", registry.Registration{
		NewConfig: func() any { return &FileWriterConfig{} },
		Build: func(cfg any) (any, error) {
			return NewFileWriter(cfg.(*FileWriterConfig)), nil
		},
	})
}

// NoopWriterConfig configures the noop writer. It has no fields.
type NoopWriterConfig struct{}

// NoopWriter discards the payload.
type NoopWriter struct{}

// Name implements Writer.
func (w *NoopWriter) Name() string { return "noop" }

// Write implements Writer.
func (w *NoopWriter) Write(_ *Report, _ []byte, _ *telemetry.Logger) error { return nil }

// ConsoleWriterConfig configures the console writer.
type ConsoleWriterConfig struct {
	// Level routes the payload through the run logger at the given level
	// instead of printing to stdout.
	Level string `yaml:"level"`
}

// ConsoleWriter prints the payload, or logs it at a configured level.
type ConsoleWriter struct {
	config *ConsoleWriterConfig
}

// NewConsoleWriter creates the writer.
func NewConsoleWriter(cfg *ConsoleWriterConfig) *ConsoleWriter {
	return &ConsoleWriter{config: cfg}
}

// Name implements Writer.
func (w *ConsoleWriter) Name() string { return "console" }

// Write implements Writer.
func (w *ConsoleWriter) Write(_ *Report, payload []byte, logger *telemetry.Logger) error {
	if len(payload) == 0 {
		return nil
	}
	switch w.config.Level {
	case "":
		fmt.Println(string(payload))
	case "debug":
		logger.Debug(string(payload))
	case "info":
		logger.Info(string(payload))
	case "warn":
		logger.Warn(string(payload))
	case "error":
		logger.Error(string(payload))
	default:
		return framework.NewConfigError(fmt.Sprintf("unknown console writer level: %s", w.config.Level), nil)
	}
	return nil
}

// FileWriterConfig configures the file writer. Either Path, or
// Directory/Name/Extension, may be set; unset pieces default from the
// report.
type FileWriterConfig struct {
	Path      string `yaml:"path"`
	Directory string `yaml:"directory"`
	FileName  string `yaml:"name"`
	Extension string `yaml:"extension"`
}

// FileWriter writes the payload to disk, creating the directory first.
type FileWriter struct {
	config *FileWriterConfig
}

// NewFileWriter creates the writer.
func NewFileWriter(cfg *FileWriterConfig) *FileWriter {
	return &FileWriter{config: cfg}
}

// Name implements Writer.
func (w *FileWriter) Name() string { return "file" }

// Write implements Writer.
func (w *FileWriter) Write(r *Report, payload []byte, logger *telemetry.Logger) error {
	if len(payload) == 0 {
		return nil
	}
	path := w.config.Path
	if path == "" {
		dir := w.config.Directory
		if dir == "" {
			dir = "."
		}
		name := w.config.FileName
		if name == "" {
			name = defaultFileName(r.Name)
		}
		ext := strings.TrimPrefix(w.config.Extension, ".")
		if ext == "" {
			ext = "json"
		}
		path = filepath.Join(dir, name+"."+ext)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return framework.NewReportingError("failed to create report directory", err)
		}
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return framework.NewReportingError(fmt.Sprintf("failed to write report to %s", path), err)
	}
	logger.Infof("report written to %s", path)
	return nil
}

func defaultFileName(reportName string) string {
	name := strings.ToLower(reportName)
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '-'
		}
	}, name)
	return strings.Trim(name, "-")
}
