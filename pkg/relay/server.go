package relay

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/jingkaihe/mocklock/internal/errx"
	"github.com/jingkaihe/mocklock/pkg/authority"
	"github.com/jingkaihe/mocklock/pkg/logging"
)

// ServerConfig configures a Server.
type ServerConfig struct {
	Resolver authority.Resolver
	Notifier authority.Notifier
	Codec    Codec
	Logger   *slog.Logger
	Emitter  *logging.Emitter
}

// Server accepts shim connections on a listener and runs a Bridge for
// each. Every connection subscribes to the Notifier, so notifications fan
// out to all peers.
type Server struct {
	bridge  *Bridge
	codec   Codec
	logger  *slog.Logger
	emitter *logging.Emitter

	mu       sync.Mutex
	listener net.Listener
	ports    map[Port]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewServer validates cfg and returns a Server.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Resolver == nil {
		return nil, ErrNoResolver
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	codec := cfg.Codec
	if codec == nil {
		codec = JSONCodec{}
	}
	return &Server{
		bridge: &Bridge{
			Resolver: cfg.Resolver,
			Notifier: cfg.Notifier,
			Logger:   logger,
		},
		codec:   codec,
		logger:  logger.With("component", "relay", "codec", codec.Name()),
		emitter: cfg.Emitter,
		ports:   make(map[Port]struct{}),
	}, nil
}

// ListenAndServe listens on a unix socket at socketPath, replacing a stale
// socket file, and serves until ctx is done or Close is called.
func (s *Server) ListenAndServe(ctx context.Context, socketPath string) error {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o755); err != nil {
		return errx.Wrap(ErrListen, err)
	}
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return errx.Wrap(ErrListen, err)
	}
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return errx.Wrap(ErrListen, err)
	}
	defer os.Remove(socketPath)
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done or Close is called.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrClosed
	}
	s.listener = ln
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	s.logger.Info("relay listening", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}
		port := NewStreamPort(conn, s.codec)
		if !s.track(port) {
			_ = port.Close()
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(port)
			if err := s.bridge.Serve(ctx, port); err != nil && ctx.Err() == nil {
				s.logger.Warn("connection ended", "error", err)
			}
		}()
	}
}

func (s *Server) track(p Port) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.ports[p] = struct{}{}
	peers := len(s.ports)
	s.mu.Unlock()
	s.emitConnection("opened", peers)
	return true
}

func (s *Server) untrack(p Port) {
	_ = p.Close()
	s.mu.Lock()
	delete(s.ports, p)
	peers := len(s.ports)
	s.mu.Unlock()
	s.emitConnection("closed", peers)
}

func (s *Server) emitConnection(action string, peers int) {
	s.logger.Debug("relay connection "+action, "peers", peers)
	_ = s.emitter.Emit(logging.EventRelayConnection, "relay connection "+action, "relay", nil,
		&logging.RelayConnectionData{Action: action, Codec: s.codec.Name(), Peers: peers})
}

// Peers returns the number of connected shims.
func (s *Server) Peers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ports)
}

// Close stops accepting and disconnects every peer.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.listener
	ports := make([]Port, 0, len(s.ports))
	for p := range s.ports {
		ports = append(ports, p)
	}
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	for _, p := range ports {
		_ = p.Close()
	}
	return err
}

// Dial connects to a relay server listening on a unix socket.
func Dial(ctx context.Context, socketPath string, codec Codec) (Port, error) {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, errx.Wrap(ErrDial, err)
	}
	return NewStreamPort(conn, codec), nil
}
