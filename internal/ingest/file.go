package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/swimctl/swimctl/internal/flight"
)

// ErrDocumentNotFound is returned when the feed file does not exist.
var ErrDocumentNotFound = errors.New("feed document not found")

// ReadDocument loads a feed file. Invalid UTF-8 sequences are dropped rather
// than rejected.
func ReadDocument(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrDocumentNotFound, path)
		}
		return "", fmt.Errorf("read feed %s: %w", path, err)
	}
	return strings.ToValidUTF8(string(raw), ""), nil
}

// RunFile reads the document at path and runs it through the pipeline. Only a
// failure to read the document is returned as an error.
func (p *Pipeline) RunFile(ctx context.Context, path string) (Result, error) {
	doc, err := ReadDocument(path)
	if err != nil {
		p.logger.Printf("[ERROR] %v", err)
		return Result{}, err
	}
	p.logger.Printf("[INFO] XML file size: %d chars", len(doc))
	p.logger.Printf("[INFO] Found %d <message> blocks", flight.Count(doc))
	res := p.Run(ctx, doc)
	p.logger.Printf("[INFO] Persisted %d of %d messages (run %s)", res.RecordsPersisted, res.MessagesFound, res.RunID)
	return res, nil
}

// WriteLastSuccess records the current UTC time in the marker file used by
// external monitors. Callers treat a failure as a warning.
func WriteLastSuccess(path string, now time.Time) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create marker dir: %w", err)
	}
	line := now.UTC().Format(time.RFC3339Nano) + "\n"
	if err := os.WriteFile(path, []byte(line), 0o644); err != nil {
		return fmt.Errorf("write last success marker: %w", err)
	}
	return nil
}

// ReadLastSuccess returns the time stored by WriteLastSuccess.
func ReadLastSuccess(path string) (time.Time, bool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(b)))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse last success marker: %w", err)
	}
	return t, true, nil
}

// Job runs the pipeline over one feed file and maintains the success marker.
type Job struct {
	Pipeline   *Pipeline
	Path       string
	MarkerPath string
	Now        func() time.Time
}

// Run executes one ingestion of the feed file. The marker is only written when
// at least one record was persisted.
func (j *Job) Run(ctx context.Context) (Result, error) {
	res, err := j.Pipeline.RunFile(ctx, j.Path)
	if err != nil {
		return res, err
	}
	if res.RecordsPersisted > 0 && j.MarkerPath != "" {
		now := time.Now
		if j.Now != nil {
			now = j.Now
		}
		if err := WriteLastSuccess(j.MarkerPath, now()); err != nil {
			j.Pipeline.logger.Printf("[WARN] Could not write last success file: %v", err)
		}
	}
	return res, nil
}
