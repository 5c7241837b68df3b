package authority

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jingkaihe/mocklock/internal/errx"
	"github.com/jingkaihe/mocklock/pkg/api"
)

// DefaultDebounce coalesces bursts of file events into one reload.
const DefaultDebounce = 100 * time.Millisecond

// FileSource loads a JSON rule document into a MemoryStore and reloads
// it when the file changes.
type FileSource struct {
	path     string
	store    *MemoryStore
	logger   *slog.Logger
	debounce time.Duration
}

// FileSourceOption configures a FileSource.
type FileSourceOption func(*FileSource)

// WithDebounce sets the reload debounce window.
func WithDebounce(d time.Duration) FileSourceOption {
	return func(f *FileSource) {
		if d > 0 {
			f.debounce = d
		}
	}
}

// WithFileLogger sets the logger.
func WithFileLogger(logger *slog.Logger) FileSourceOption {
	return func(f *FileSource) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewFileSource binds path to store. Nothing is read until Load or Watch.
func NewFileSource(path string, store *MemoryStore, opts ...FileSourceOption) *FileSource {
	f := &FileSource{
		path:     filepath.Clean(path),
		store:    store,
		logger:   slog.Default(),
		debounce: DefaultDebounce,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With("component", "authority", "rules_file", f.path)
	return f
}

// ReadRuleSet decodes a rule document from path.
func ReadRuleSet(path string) (api.RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return api.RuleSet{}, errx.Wrap(ErrLoadRules, err)
	}
	var set api.RuleSet
	if err := json.Unmarshal(data, &set); err != nil {
		return api.RuleSet{}, errx.With(ErrLoadRules, ": decode %s: %w", path, err)
	}
	return set, nil
}

// WriteRuleSet atomically replaces path with set.
func WriteRuleSet(path string, set api.RuleSet) error {
	data, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return errx.With(ErrStoreSave, ": encode rule set: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".rules-*.json")
	if err != nil {
		return errx.With(ErrStoreSave, ": create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return errx.With(ErrStoreSave, ": write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return errx.With(ErrStoreSave, ": close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errx.With(ErrStoreSave, ": replace rules file: %w", err)
	}
	return nil
}

// Load reads the file once and replaces the store contents.
func (f *FileSource) Load() error {
	set, err := ReadRuleSet(f.path)
	if err != nil {
		return err
	}
	if err := f.store.Replace(set); err != nil {
		return errx.Wrap(ErrLoadRules, err)
	}
	f.logger.Debug("rules loaded", "rules", len(set.Rules), "enabled", set.IsEnabled())
	return nil
}

// Watch loads the file and then reloads it on every write, create or
// rename until ctx is done. The parent directory is watched so editors
// that replace the file atomically are followed. A reload that fails keeps
// the previous rules.
func (f *FileSource) Watch(ctx context.Context) error {
	if err := f.Load(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errx.Wrap(ErrWatch, err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		return errx.Wrap(ErrWatch, err)
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	schedule := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(f.debounce, func() {
			if ctx.Err() != nil {
				return
			}
			if err := f.Load(); err != nil {
				f.logger.Warn("reload failed, keeping previous rules", "error", err)
			}
		})
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != f.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				schedule()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn("watch error", "error", err)
		}
	}
}
