package capture

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// SpoolWatcher ingests whole-file capture dumps dropped into a spool
// directory: the one-shot degenerate case of the streaming path. Each
// file is fed through the same frame extractor as live stdout and
// removed afterwards.
type SpoolWatcher struct {
	dir    string
	logger zerolog.Logger
	emit   func(json.RawMessage)
}

// NewSpoolWatcher creates a watcher over dir feeding frames to emit.
func NewSpoolWatcher(dir string, logger zerolog.Logger, emit func(json.RawMessage)) *SpoolWatcher {
	return &SpoolWatcher{
		dir:    dir,
		logger: logger.With().Str("component", "spool").Logger(),
		emit:   emit,
	}
}

// Run watches the spool directory until the context is cancelled. Files
// already present at startup are ingested first.
func (sw *SpoolWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(sw.dir); err != nil {
		return err
	}

	sw.ingestExisting()

	sw.logger.Info().Str("dir", sw.dir).Msg("Watching spool directory")

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write) {
				sw.ingestFile(event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			sw.logger.Error().Err(err).Msg("Spool watcher error")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (sw *SpoolWatcher) ingestExisting() {
	entries, err := os.ReadDir(sw.dir)
	if err != nil {
		sw.logger.Error().Err(err).Msg("Failed to list spool directory")
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		sw.ingestFile(filepath.Join(sw.dir, entry.Name()))
	}
}

// ingestFile feeds one capture dump through a fresh extractor and deletes
// it. Unreadable or empty files are skipped.
func (sw *SpoolWatcher) ingestFile(path string) {
	if !strings.HasSuffix(path, ".json") {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		sw.logger.Warn().Err(err).Str("file", path).Msg("Skipping unreadable spool file")
		return
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return
	}

	count := 0
	extractor := NewFrameExtractor(sw.logger, func(raw json.RawMessage) {
		count++
		sw.emit(raw)
	})
	extractor.Feed(data)

	sw.logger.Info().Str("file", path).Int("frames", count).Msg("Ingested spool file")

	if err := os.Remove(path); err != nil {
		sw.logger.Warn().Err(err).Str("file", path).Msg("Failed to remove spool file")
	}
}
