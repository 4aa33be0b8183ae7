// Package logging builds the loggers shared by flog's components.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/flogapp/flog/internal/config"
)

// Output is where log lines go. Close releases a log file.
type Output struct {
	io.Writer
	closer io.Closer
}

// Close closes the underlying log file, if any.
func (o *Output) Close() error {
	if o.closer == nil {
		return nil
	}
	return o.closer.Close()
}

// Open returns stderr, or a size-rotated file when cfg.File is set. A
// relative file is resolved against dataDir.
func Open(cfg config.LogConfig, dataDir string) *Output {
	if cfg.File == "" {
		return &Output{Writer: os.Stderr}
	}

	path := cfg.File
	if !filepath.IsAbs(path) && dataDir != "" {
		path = filepath.Join(dataDir, path)
	}

	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	return &Output{Writer: lj, closer: lj}
}

// New returns a logger for component, prefixed "[component] ".
func New(w io.Writer, component string) *log.Logger {
	return log.New(w, "["+component+"] ", log.LstdFlags)
}
