// Package watch ingests report files dropped into a directory.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/firefart/dmarcstore/internal/helper"
	"github.com/firefart/dmarcstore/internal/pipeline"
)

// Processor extracts and ingests a saved report file.
type Processor interface {
	Process(ctx context.Context, src, extractDir string) ([]pipeline.Outcome, error)
}

type Watcher struct {
	dir        string
	uploadDir  string
	extractDir string
	processor  Processor
	logger     *log.Logger
}

func New(dir, uploadDir, extractDir string, processor Processor, logger *log.Logger) *Watcher {
	return &Watcher{
		dir:        dir,
		uploadDir:  uploadDir,
		extractDir: extractDir,
		processor:  processor,
		logger:     logger,
	}
}

// Run processes the files already present in the directory and then every
// file created in it until ctx is done. Files are moved to the upload
// directory before processing. Hidden files are ignored so writers can use
// a temporary name and rename it when done.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("could not create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("could not watch %s: %w", w.dir, err)
	}

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("could not read %s: %w", w.dir, err)
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		w.handle(ctx, filepath.Join(w.dir, e.Name()))
	}

	w.logger.Info("watching directory", "dir", w.dir)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) {
				continue
			}
			fi, err := os.Stat(event.Name)
			if err != nil || !fi.Mode().IsRegular() {
				continue
			}
			w.handle(ctx, event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", "err", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, path string) {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return
	}

	id := uuid.NewString()
	dir := filepath.Join(w.uploadDir, id)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		w.logger.Error("could not create upload dir", "dir", dir, "err", err)
		return
	}
	dst := filepath.Join(dir, name)
	if err := moveFile(path, dst); err != nil {
		w.logger.Error("could not move file", "file", path, "err", err)
		return
	}

	w.logger.Info("processing file", "file", name, "upload_id", id)
	outcomes, err := w.processor.Process(ctx, dst, filepath.Join(w.extractDir, id))
	if err != nil {
		w.logger.Error("could not process file", "file", dst, "kind", pipeline.Classify(err), "err", err)
		return
	}
	w.logger.Info("processed file", "file", dst, "documents", len(outcomes))
}

// moveFile renames src to dst and falls back to copying when both are on
// different filesystems.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return err
	}

	in, err := os.Open(src) // nolint: gosec
	if err != nil {
		return err
	}
	err = helper.SaveFile(dst, in)
	_ = in.Close()
	if err != nil {
		return err
	}
	return os.Remove(src)
}
