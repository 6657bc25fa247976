// Package logging builds the daemon's loggers on top of a size-rotated
// log file.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup opens the rotated log file and returns a writer shared by all
// component loggers. Pass console=true to also mirror output to stderr.
func Setup(file string, maxSizeMB, maxBackups int, console bool) (io.Writer, error) {
	path := file
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[1:])
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	var w io.Writer = &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   true,
	}
	if console {
		w = io.MultiWriter(w, os.Stderr)
	}
	return w, nil
}

// New returns a component logger writing to w with the given prefix.
func New(w io.Writer, prefix string) *log.Logger {
	return log.New(w, prefix, log.LstdFlags)
}

// Discard returns a logger that drops all output.
func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}
