// Package utils provides utility functions for the application.
package utils

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// NewRotatingLogger returns a logger that writes to stdout and to a
// size-rotated file under dir. A failed file setup falls back to stdout only.
func NewRotatingLogger(name, dir string, maxSizeMB, maxBackups, maxAgeDays int) *log.Logger {
	prefix := "[" + name + "] "
	flags := log.LstdFlags | log.LUTC

	if dir == "" {
		return log.New(os.Stdout, prefix, flags)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("logger: cannot create log dir %s: %v, using stdout", dir, err)
		return log.New(os.Stdout, prefix, flags)
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(dir, name+".log"),
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}
	return log.New(io.MultiWriter(os.Stdout, rotator), prefix, flags)
}
