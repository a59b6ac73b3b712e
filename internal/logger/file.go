package logger

import (
	"io"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig holds configuration for file-based log output with rotation.
type FileConfig struct {
	Path      string
	MaxSizeMB int
	MaxFiles  int
}

// NewFileWriter returns an io.Writer that writes to a rotating log file.
// Rotated files are compressed. Zero values fall back to 100MB and 5 files.
func NewFileWriter(cfg FileConfig) io.Writer {
	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	maxFiles := cfg.MaxFiles
	if maxFiles <= 0 {
		maxFiles = 5
	}
	path := cfg.Path
	if path == "" {
		path = "notification-relay.log"
	}

	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: maxFiles,
		Compress:   true,
	}
}
