package io

import (
	"bytes"
	"errors"
	stdio "io"
	"os"
	"path/filepath"
	"testing"
)

func TestAtomicFileCommitReplacesDestination(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "db.json")

	if err := WriteFileAtomic(path, "test", func(w stdio.Writer) error {
		_, err := w.Write([]byte("first"))
		return err
	}); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}

	af, err := CreateAtomic(path, "test")
	if err != nil {
		t.Fatalf("CreateAtomic: %v", err)
	}
	if _, err := af.Write([]byte("second")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Not committed yet: the old content is still visible.
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(b) != "first" {
		t.Fatalf("expected previous content before Commit, got %q", b)
	}

	if err := af.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	b, err = os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(b) != "second" {
		t.Fatalf("expected committed content, got %q", b)
	}
	if _, err := os.Stat(path + tempSuffix); !os.IsNotExist(err) {
		t.Fatalf("expected temp file to be gone, stat err = %v", err)
	}
	if _, err := af.Write([]byte("x")); !errors.Is(err, ErrFileClosed) {
		t.Fatalf("expected ErrFileClosed after Commit, got %v", err)
	}
}

func TestAtomicFileAbortLeavesDestinationUntouched(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "db.json")
	fillErr := errors.New("boom")

	err := WriteFileAtomic(path, "test", func(w stdio.Writer) error {
		w.Write([]byte("partial"))
		return fillErr
	})
	if !errors.Is(err, fillErr) {
		t.Fatalf("expected fill error, got %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected no destination after abort, stat err = %v", err)
	}
	if _, err := os.Stat(path + tempSuffix); !os.IsNotExist(err) {
		t.Fatalf("expected no temp file after abort, stat err = %v", err)
	}
}

func TestGzipRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "db.json.gz")
	payload := bytes.Repeat([]byte(`{"a":"b"}`), 1000)

	if err := WriteFileAtomic(path, "test", func(w stdio.Writer) error {
		_, err := w.Write(payload)
		return err
	}); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(raw) >= len(payload) || raw[0] != 0x1f || raw[1] != 0x8b {
		t.Fatalf("expected gzip stream on disk, got %d bytes starting %x", len(raw), raw[:2])
	}

	rc, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer rc.Close()
	got, err := stdio.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(payload))
	}
}

func TestOpenReaderMissingFile(t *testing.T) {
	t.Parallel()

	_, err := OpenReader(filepath.Join(t.TempDir(), "absent.json"))
	if !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
