package logging

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jingkaihe/mocklock/internal/errx"
)

// JSONLWriter writes structured events as JSON-L.
// It implements Sink and is safe for concurrent use.
type JSONLWriter struct {
	mu  sync.Mutex
	out io.WriteCloser
	enc *json.Encoder
}

// NewJSONLWriter creates a new JSON-L writer that appends to the given file path.
// The parent directory must already exist (caller is responsible for mkdir).
// The file is created if it does not exist.
func NewJSONLWriter(path string) (*JSONLWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errx.Wrap(ErrCreateLogFile, err)
	}
	return newJSONLWriter(f), nil
}

// RotateConfig bounds a rotating event log.
type RotateConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// NewRotatingJSONLWriter creates a JSON-L writer whose file is rotated by
// lumberjack once it exceeds MaxSizeMB. Parent directories are created on
// first write.
func NewRotatingJSONLWriter(cfg RotateConfig) (*JSONLWriter, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errx.With(ErrRotateConfig, ": path is required")
	}
	if cfg.MaxSizeMB < 0 || cfg.MaxBackups < 0 || cfg.MaxAgeDays < 0 {
		return nil, errx.With(ErrRotateConfig, ": limits must not be negative")
	}
	return newJSONLWriter(&lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}), nil
}

func newJSONLWriter(out io.WriteCloser) *JSONLWriter {
	return &JSONLWriter{
		out: out,
		enc: json.NewEncoder(out),
	}
}

// Write serializes the event as a single JSON line.
func (w *JSONLWriter) Write(event *Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(event); err != nil {
		return errx.Wrap(ErrWriteEvent, err)
	}
	return nil
}

// Close syncs and closes the underlying file.
func (w *JSONLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if f, ok := w.out.(*os.File); ok {
		_ = f.Sync()
	}
	if err := w.out.Close(); err != nil {
		return errx.Wrap(ErrCloseWriter, err)
	}
	return nil
}
