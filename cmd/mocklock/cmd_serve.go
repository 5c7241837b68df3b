package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/mocklock/internal/errx"
	"github.com/jingkaihe/mocklock/pkg/api"
	"github.com/jingkaihe/mocklock/pkg/authority"
	"github.com/jingkaihe/mocklock/pkg/control"
	"github.com/jingkaihe/mocklock/pkg/logging"
	"github.com/jingkaihe/mocklock/pkg/relay"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the rule authority, relay socket and control API",
	Long: `Run the rule authority behind a Unix-socket relay.

Stores (--store):
  memory   Rules live in memory and are lost on exit (default)
  sqlite   Rules persist in the database given by --db
  file     Rules are loaded from --rules-file and reloaded when it changes

The control API (--control-addr) manages rules while the server runs; pass an
empty address to disable it.`,
	Example: `  mocklock serve
  mocklock serve --store sqlite --db ~/.mocklock/rules.db
  mocklock serve --store file --rules-file ./mocks.json --codec cbor`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("socket", defaultSocketPath(), "Relay Unix socket path")
	serveCmd.Flags().String("codec", "json", "Relay wire codec: json or cbor")
	serveCmd.Flags().String("store", "memory", "Rule store: memory, sqlite or file")
	serveCmd.Flags().String("db", "", "SQLite database path for --store sqlite")
	serveCmd.Flags().String("rules-file", "", "Rules JSON document for --store file")
	serveCmd.Flags().String("control-addr", "127.0.0.1:7070", "Control API listen address (empty disables)")
	serveCmd.Flags().String("event-log", "", "Write decision events as JSON lines to this file")
	serveCmd.Flags().Int("event-log-max-mb", 0, "Rotate the event log at this size (0 disables rotation)")
	serveCmd.Flags().Int("event-log-backups", 3, "Rotated event logs to keep")
	serveCmd.Flags().Bool("event-log-compress", false, "Gzip rotated event logs")
	serveCmd.Flags().String("run-id", "", "Run ID stamped on events (generated when empty)")

	viper.BindPFlag("serve.socket", serveCmd.Flags().Lookup("socket"))
	viper.BindPFlag("serve.codec", serveCmd.Flags().Lookup("codec"))
	viper.BindPFlag("serve.store", serveCmd.Flags().Lookup("store"))
	viper.BindPFlag("serve.db", serveCmd.Flags().Lookup("db"))
	viper.BindPFlag("serve.rules-file", serveCmd.Flags().Lookup("rules-file"))
	viper.BindPFlag("serve.control-addr", serveCmd.Flags().Lookup("control-addr"))
	viper.BindPFlag("serve.event-log", serveCmd.Flags().Lookup("event-log"))
	viper.BindPFlag("serve.event-log-max-mb", serveCmd.Flags().Lookup("event-log-max-mb"))
	viper.BindPFlag("serve.event-log-backups", serveCmd.Flags().Lookup("event-log-backups"))
	viper.BindPFlag("serve.event-log-compress", serveCmd.Flags().Lookup("event-log-compress"))
	viper.BindPFlag("serve.run-id", serveCmd.Flags().Lookup("run-id"))

	rootCmd.AddCommand(serveCmd)
}

func defaultSocketPath() string {
	return filepath.Join(os.TempDir(), "mocklock", "relay.sock")
}

// storeConfig selects and configures the rule store.
type storeConfig struct {
	Kind      string
	DBPath    string
	RulesFile string
}

// openedStore is a rule store plus what it needs to run and shut down.
type openedStore struct {
	store authority.Store
	watch func(ctx context.Context) error
	close func() error
}

func openStore(cfg storeConfig, logger *slog.Logger) (*openedStore, error) {
	switch cfg.Kind {
	case "", "memory":
		return &openedStore{store: authority.NewMemoryStore(logger), close: func() error { return nil }}, nil
	case "sqlite":
		if cfg.DBPath == "" {
			return nil, ErrMissingDBPath
		}
		st, err := authority.OpenSQLiteStore(cfg.DBPath, logger)
		if err != nil {
			return nil, errx.Wrap(ErrOpenStore, err)
		}
		return &openedStore{store: st, close: st.Close}, nil
	case "file":
		if cfg.RulesFile == "" {
			return nil, ErrMissingRules
		}
		st := authority.NewMemoryStore(logger)
		src := authority.NewFileSource(cfg.RulesFile, st, authority.WithFileLogger(logger))
		if err := src.Load(); err != nil {
			return nil, errx.Wrap(ErrOpenStore, err)
		}
		return &openedStore{store: st, watch: src.Watch, close: func() error { return nil }}, nil
	default:
		return nil, errx.With(ErrUnknownStore, " %q", cfg.Kind)
	}
}

// eventLogConfig describes the optional JSONL decision log.
type eventLogConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	Compress   bool
	RunID      string
}

func openEmitter(cfg eventLogConfig, logger *slog.Logger) (*logging.Emitter, error) {
	sinks := []logging.Sink{logging.NewSlogSink(logger)}
	if cfg.Path != "" {
		var (
			w   *logging.JSONLWriter
			err error
		)
		if cfg.MaxSizeMB > 0 {
			w, err = logging.NewRotatingJSONLWriter(logging.RotateConfig{
				Path:       cfg.Path,
				MaxSizeMB:  cfg.MaxSizeMB,
				MaxBackups: cfg.MaxBackups,
				Compress:   cfg.Compress,
			})
		} else {
			w, err = logging.NewJSONLWriter(cfg.Path)
		}
		if err != nil {
			return nil, errx.Wrap(ErrOpenEventLog, err)
		}
		sinks = append(sinks, w)
	}

	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	return logging.NewEmitter(logging.EmitterConfig{RunID: runID, Source: "mocklock"}, sinks...), nil
}

// recordChanges emits a rules_changed event for every store notification.
func recordChanges(n authority.Notifier, emitter *logging.Emitter) (cancel func()) {
	return n.Subscribe(func(msg api.Message) {
		summary := "rules updated"
		if msg.Kind == api.KindGlobalStateChanged {
			summary = "mocking disabled"
			if msg.Enabled != nil && *msg.Enabled {
				summary = "mocking enabled"
			}
		}
		_ = emitter.Emit(logging.EventRulesChanged, summary, "authority", nil, &logging.RulesChangedData{
			Kind:    string(msg.Kind),
			Enabled: msg.Enabled,
		})
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	codec, err := relay.CodecByName(viper.GetString("serve.codec"))
	if err != nil {
		return errx.Wrap(ErrInvalidCodec, err)
	}

	opened, err := openStore(storeConfig{
		Kind:      viper.GetString("serve.store"),
		DBPath:    viper.GetString("serve.db"),
		RulesFile: viper.GetString("serve.rules-file"),
	}, logger)
	if err != nil {
		return err
	}
	defer opened.close()

	emitter, err := openEmitter(eventLogConfig{
		Path:       viper.GetString("serve.event-log"),
		MaxSizeMB:  viper.GetInt("serve.event-log-max-mb"),
		MaxBackups: viper.GetInt("serve.event-log-backups"),
		Compress:   viper.GetBool("serve.event-log-compress"),
		RunID:      viper.GetString("serve.run-id"),
	}, logger)
	if err != nil {
		return err
	}
	defer emitter.Close()
	defer recordChanges(opened.store, emitter)()

	srv, err := relay.NewServer(relay.ServerConfig{
		Resolver: opened.store,
		Notifier: opened.store,
		Codec:    codec,
		Logger:   logger,
		Emitter:  emitter,
	})
	if err != nil {
		return errx.Wrap(ErrStartRelay, err)
	}

	var (
		wg      sync.WaitGroup
		errOnce sync.Once
		runErr  error
	)
	fail := func(err error) {
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		errOnce.Do(func() { runErr = err })
		cancel()
	}

	if opened.watch != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := opened.watch(ctx); err != nil {
				fail(errx.Wrap(ErrWatchRules, err))
			}
		}()
	}

	if addr := viper.GetString("serve.control-addr"); addr != "" {
		ctl := control.NewServer(opened.store, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ctl.ListenAndServe(ctx, addr); err != nil {
				fail(errx.Wrap(ErrStartControl, err))
			}
		}()
	}

	if err := srv.ListenAndServe(ctx, viper.GetString("serve.socket")); err != nil {
		fail(errx.Wrap(ErrStartRelay, err))
	}
	cancel()
	wg.Wait()
	return runErr
}
