package io

/*
blockcrack — recovers obfuscated domains from Mastodon instance block lists
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	stdio "io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/x-stp/blockcrack/internal/metrics"
)

const (
	// DefaultBufferSize is the default buffer size for disk I/O
	DefaultBufferSize = 256 * 1024 // 256KB

	// GzipSuffix marks files that are written and read gzip-compressed.
	GzipSuffix = ".gz"

	tempSuffix = ".tmp"
)

var (
	// ErrFileClosed is returned when writing to an AtomicFile that was committed or aborted.
	ErrFileClosed = errors.New("atomic file already closed")
)

// AtomicFile writes to a temporary file next to its destination. Commit
// flushes, syncs and renames it into place; until then readers of the
// destination see the previous content.
type AtomicFile struct {
	path      string // Final destination.
	tempPath  string // path + ".tmp".
	operation string // Metrics label.

	mu        sync.Mutex
	file      *os.File
	gzWriter  *gzip.Writer
	bufWriter *bufio.Writer
	written   int64
	closed    bool
}

// CreateAtomic opens an AtomicFile for path. The parent directory is created
// if needed. A path ending in ".gz" is written gzip-compressed.
// operation labels the disk metrics (e.g. "store_save").
func CreateAtomic(path, operation string) (*AtomicFile, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		recordError(operation, "mkdir")
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tempPath := path + tempSuffix
	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		recordError(operation, "open")
		return nil, fmt.Errorf("failed to open file %s: %w", tempPath, err)
	}

	af := &AtomicFile{
		path:      path,
		tempPath:  tempPath,
		operation: operation,
		file:      file,
	}

	// Set up the writer chain
	if strings.HasSuffix(path, GzipSuffix) {
		gzw, err := gzip.NewWriterLevel(file, gzip.BestSpeed)
		if err != nil {
			file.Close()
			os.Remove(tempPath)
			return nil, fmt.Errorf("failed to create gzip writer: %w", err)
		}
		af.gzWriter = gzw
		af.bufWriter = bufio.NewWriterSize(gzw, DefaultBufferSize)
	} else {
		af.bufWriter = bufio.NewWriterSize(file, DefaultBufferSize)
	}

	return af, nil
}

// Path is the final destination of the file.
func (af *AtomicFile) Path() string { return af.path }

// Write implements io.Writer.
func (af *AtomicFile) Write(data []byte) (int, error) {
	af.mu.Lock()
	defer af.mu.Unlock()

	if af.closed {
		return 0, ErrFileClosed
	}
	n, err := af.bufWriter.Write(data)
	af.written += int64(n)
	if err != nil {
		recordError(af.operation, "write")
		return n, fmt.Errorf("failed to write to buffer: %w", err)
	}
	return n, nil
}

// Commit flushes every layer, fsyncs the temp file and renames it over the
// destination. On failure the temp file is removed and the destination is
// left untouched.
func (af *AtomicFile) Commit() error {
	af.mu.Lock()
	defer af.mu.Unlock()

	if af.closed {
		return ErrFileClosed
	}
	af.closed = true

	done := metrics.MeasureDuration(metrics.GetMetrics().DiskWriteDuration.WithLabelValues(af.operation))
	if err := af.finish(); err != nil {
		af.file.Close()
		os.Remove(af.tempPath)
		return err
	}
	if err := af.file.Close(); err != nil {
		recordError(af.operation, "close")
		os.Remove(af.tempPath)
		return fmt.Errorf("failed to close %s: %w", af.tempPath, err)
	}
	if err := os.Rename(af.tempPath, af.path); err != nil {
		recordError(af.operation, "rename")
		os.Remove(af.tempPath)
		return fmt.Errorf("failed to rename %s to %s: %w", af.tempPath, af.path, err)
	}
	done()
	metrics.GetMetrics().DiskWriteBytes.WithLabelValues(af.operation).Observe(float64(af.written))
	return nil
}

// finish drains the buffer and the gzip stream, then syncs the file.
func (af *AtomicFile) finish() error {
	if err := af.bufWriter.Flush(); err != nil {
		recordError(af.operation, "flush")
		return fmt.Errorf("failed to flush buffer: %w", err)
	}
	if af.gzWriter != nil {
		if err := af.gzWriter.Close(); err != nil {
			recordError(af.operation, "gzip")
			return fmt.Errorf("failed to close gzip writer: %w", err)
		}
	}
	if err := af.file.Sync(); err != nil {
		recordError(af.operation, "sync")
		return fmt.Errorf("failed to sync %s: %w", af.tempPath, err)
	}
	return nil
}

// Abort discards everything written. Safe to call after Commit, where it is a no-op.
func (af *AtomicFile) Abort() error {
	af.mu.Lock()
	defer af.mu.Unlock()

	if af.closed {
		return nil
	}
	af.closed = true
	af.file.Close()
	if err := os.Remove(af.tempPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", af.tempPath, err)
	}
	return nil
}

// WriteFileAtomic replaces path with the output of fill.
func WriteFileAtomic(path, operation string, fill func(w stdio.Writer) error) error {
	af, err := CreateAtomic(path, operation)
	if err != nil {
		return err
	}
	if err := fill(af); err != nil {
		af.Abort()
		return err
	}
	return af.Commit()
}

// OpenReader opens path for reading, transparently decompressing ".gz" files.
// The returned ReadCloser closes both layers.
func OpenReader(path string) (stdio.ReadCloser, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, GzipSuffix) {
		return file, nil
	}
	gzr, err := gzip.NewReader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to open gzip stream %s: %w", path, err)
	}
	return &gzipReadCloser{Reader: gzr, file: file}, nil
}

type gzipReadCloser struct {
	*gzip.Reader
	file *os.File
}

func (g *gzipReadCloser) Close() error {
	gzErr := g.Reader.Close()
	if err := g.file.Close(); err != nil {
		return err
	}
	return gzErr
}

func recordError(operation, errorType string) {
	metrics.GetMetrics().DiskErrors.WithLabelValues(operation, errorType).Inc()
}
